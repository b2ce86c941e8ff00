// Package helius covers the Helius-specific pieces of the RPC surface: the
// hosted endpoint URL and the priority fee estimator used to price receipt and
// computation transactions.
package helius

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"

	"github.com/cypherpunk-tipjar/tipjar/offchain/solana"
	"github.com/cypherpunk-tipjar/tipjar/offchain/solanarpc"
)

var ErrMissingAPIKey = errors.New("missing helius api key")

type Cluster string

const (
	ClusterMainnet Cluster = "mainnet"
	ClusterDevnet  Cluster = "devnet"
)

var clusterHosts = map[Cluster]string{
	ClusterMainnet: "mainnet.helius-rpc.com",
	"mainnet-beta": "mainnet.helius-rpc.com",
	ClusterDevnet:  "devnet.helius-rpc.com",
	"":             "devnet.helius-rpc.com",
}

// RPCURL builds the Helius endpoint for cluster. Arcium cluster names such as
// "devnet" map directly; "mainnet-beta" is accepted as an alias.
func RPCURL(cluster Cluster, apiKey string) (string, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return "", ErrMissingAPIKey
	}
	host, ok := clusterHosts[Cluster(strings.ToLower(strings.TrimSpace(string(cluster))))]
	if !ok {
		return "", fmt.Errorf("unsupported helius cluster: %q", cluster)
	}
	u := url.URL{Scheme: "https", Host: host, RawQuery: url.Values{"api-key": {apiKey}}.Encode()}
	return u.String(), nil
}

type PriorityLevel string

const (
	PriorityMin       PriorityLevel = "Min"
	PriorityLow       PriorityLevel = "Low"
	PriorityMedium    PriorityLevel = "Medium"
	PriorityHigh      PriorityLevel = "High"
	PriorityVeryHigh  PriorityLevel = "VeryHigh"
	PriorityUnsafeMax PriorityLevel = "UnsafeMax"
)

// ParsePriorityLevel accepts level names case-insensitively, with or without
// underscores. Empty means Medium.
func ParsePriorityLevel(s string) (PriorityLevel, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "")
	if norm == "" {
		return PriorityMedium, nil
	}
	for _, lvl := range []PriorityLevel{PriorityMin, PriorityLow, PriorityMedium, PriorityHigh, PriorityVeryHigh, PriorityUnsafeMax} {
		if strings.ToLower(string(lvl)) == norm {
			return lvl, nil
		}
	}
	return "", fmt.Errorf("unknown priority level %q", s)
}

type PriorityFeeOptions struct {
	PriorityLevel               PriorityLevel `json:"priorityLevel,omitempty"`
	IncludeAllPriorityFeeLevels bool          `json:"includeAllPriorityFeeLevels,omitempty"`
	LookbackSlots               int           `json:"lookbackSlots,omitempty"`
	Recommended                 bool          `json:"recommended,omitempty"`
}

type PriorityFeeLevels struct {
	Min       float64 `json:"min,omitempty"`
	Low       float64 `json:"low,omitempty"`
	Medium    float64 `json:"medium,omitempty"`
	High      float64 `json:"high,omitempty"`
	VeryHigh  float64 `json:"veryHigh,omitempty"`
	UnsafeMax float64 `json:"unsafeMax,omitempty"`
}

type PriorityFeeEstimate struct {
	// MicroLamports is the compute-unit price for SetComputeUnitPrice.
	MicroLamports uint64
	Capped        bool
	Levels        *PriorityFeeLevels
}

// Client is a Helius endpoint reached through the shared JSON-RPC transport.
type Client struct {
	rpc *solanarpc.Client
	// MaxMicroLamports caps estimates so a fee spike cannot drain the relayer;
	// zero means no cap.
	MaxMicroLamports uint64
}

func NewClient(rpcURL string, httpClient *http.Client) *Client {
	return &Client{rpc: solanarpc.New(rpcURL, httpClient)}
}

// PriorityFeeEstimate asks Helius for a compute-unit price for a transaction
// that writes the given accounts.
func (c *Client) PriorityFeeEstimate(ctx context.Context, accountKeys []solana.Pubkey, opts *PriorityFeeOptions) (PriorityFeeEstimate, error) {
	if len(accountKeys) == 0 {
		return PriorityFeeEstimate{}, errors.New("accountKeys required")
	}
	keys := make([]string, len(accountKeys))
	for i, k := range accountKeys {
		keys[i] = k.Base58()
	}
	params := map[string]any{"accountKeys": keys}
	if opts != nil {
		params["options"] = opts
	}

	var out struct {
		PriorityFeeEstimate float64            `json:"priorityFeeEstimate"`
		PriorityFeeLevels   *PriorityFeeLevels `json:"priorityFeeLevels,omitempty"`
	}
	if err := c.rpc.Call(ctx, "getPriorityFeeEstimate", []any{params}, &out); err != nil {
		return PriorityFeeEstimate{}, fmt.Errorf("helius priority fee: %w", err)
	}

	est := PriorityFeeEstimate{
		MicroLamports: ceilUint64(out.PriorityFeeEstimate),
		Levels:        out.PriorityFeeLevels,
	}
	if c.MaxMicroLamports > 0 && est.MicroLamports > c.MaxMicroLamports {
		est.MicroLamports = c.MaxMicroLamports
		est.Capped = true
	}
	return est, nil
}

func ceilUint64(v float64) uint64 {
	switch {
	case v <= 0 || math.IsNaN(v):
		return 0
	case v >= math.MaxUint64:
		return math.MaxUint64
	}
	return uint64(math.Ceil(v))
}
