// Package idempotency stores donation results keyed by transaction signature
// and commitment, and guards against concurrent duplicate processing.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

type State string

const (
	StateProcessing State = "PROCESSING"
	StateComplete   State = "COMPLETE"
)

var ErrNotClaimed = errors.New("record not claimed")

type Record struct {
	Key       string          `json:"key"`
	State     State           `json:"state"`
	Result    json.RawMessage `json:"result,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type Store interface {
	// Begin claims key for processing. If a record already exists it is
	// returned with claimed=false and nothing is written.
	Begin(ctx context.Context, key string) (rec Record, claimed bool, err error)
	// Complete writes rec as COMPLETE, replacing any claim.
	Complete(ctx context.Context, rec Record) error
	// Release drops a claim so the key can be retried.
	Release(ctx context.Context, key string) error
	Get(ctx context.Context, key string) (Record, bool, error)
}

const (
	DefaultTTL = 24 * time.Hour
	// DefaultClaimTTL bounds how long a crashed or stuck request blocks its key.
	DefaultClaimTTL = 5 * time.Minute
)

func normalizeTTLs(ttl, claimTTL time.Duration) (time.Duration, time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if claimTTL <= 0 {
		claimTTL = DefaultClaimTTL
	}
	if claimTTL > ttl {
		claimTTL = ttl
	}
	return ttl, claimTTL
}
