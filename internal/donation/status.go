package donation

import (
	"context"
	"strings"

	"github.com/cypherpunk-tipjar/tipjar/internal/commitment"
	"github.com/cypherpunk-tipjar/tipjar/internal/idempotency"
	"github.com/cypherpunk-tipjar/tipjar/internal/tiers"
)

const (
	StatusVerified = "verified"
	StatusQueued   = "queued"
)

type Status struct {
	Status            string      `json:"status"`
	ReceiptCommitment string      `json:"receiptCommitment,omitempty"`
	AmountTier        *tiers.Tier `json:"amountTier,omitempty"`
	ReceiptTx         string      `json:"receiptTx,omitempty"`
}

// Status reports whether a donation identified by commitment or txSig has
// completed. Stored results are checked first, then the receipt account.
func (s *Service) Status(ctx context.Context, commitmentHex, txSig string) (Status, error) {
	commitmentHex = strings.TrimSpace(commitmentHex)
	txSig = strings.TrimSpace(txSig)

	var keys []string
	var c commitment.Commitment
	hasCommitment := commitmentHex != ""
	if hasCommitment {
		parsed, err := commitment.Parse(commitmentHex)
		if err != nil {
			return Status{}, &Error{Kind: KindValidation, Err: err}
		}
		c = parsed
		keys = append(keys, commitmentKey(c.Hex))
	}
	if txSig != "" {
		keys = append(keys, txKey(txSig))
	}

	for _, key := range keys {
		rec, found, err := s.deps.Store.Get(ctx, key)
		if err != nil {
			return Status{}, &Error{Kind: KindInternal, Err: err}
		}
		if !found || rec.State != idempotency.StateComplete {
			continue
		}
		res, err := decodeResult(rec)
		if err != nil {
			return Status{}, &Error{Kind: KindInternal, Err: err}
		}
		tier := res.Tier
		return Status{
			Status:            StatusVerified,
			ReceiptCommitment: res.Commitment,
			AmountTier:        &tier,
			ReceiptTx:         res.ReceiptTx,
		}, nil
	}

	if hasCommitment && s.deps.ReceiptLookup != nil {
		r, err := s.deps.ReceiptLookup.Lookup(ctx, c)
		if err != nil {
			s.log.WithError(err).WithField("commitment", c.Hex).Warn("receipt lookup failed")
			return Status{}, &Error{Kind: KindUpstream, Err: err}
		}
		if r != nil {
			tier := r.Tier
			return Status{
				Status:            StatusVerified,
				ReceiptCommitment: c.Hex,
				AmountTier:        &tier,
			}, nil
		}
	}
	return Status{Status: StatusQueued}, nil
}
