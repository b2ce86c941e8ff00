package helius

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cypherpunk-tipjar/tipjar/offchain/solana"
	"github.com/cypherpunk-tipjar/tipjar/offchain/solanarpc"
)

func TestRPCURL(t *testing.T) {
	t.Parallel()

	got, err := RPCURL(ClusterMainnet, "k")
	if err != nil {
		t.Fatalf("RPCURL: %v", err)
	}
	if !strings.HasPrefix(got, "https://mainnet.helius-rpc.com") {
		t.Fatalf("unexpected mainnet url: %q", got)
	}
	if !strings.Contains(got, "api-key=k") {
		t.Fatalf("missing api-key query: %q", got)
	}

	got, err = RPCURL("DevNet", "k")
	if err != nil {
		t.Fatalf("RPCURL: %v", err)
	}
	if !strings.HasPrefix(got, "https://devnet.helius-rpc.com") {
		t.Fatalf("unexpected devnet url: %q", got)
	}

	if _, err := RPCURL(ClusterMainnet, ""); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected missing key error, got %v", err)
	}
	got, err = RPCURL("mainnet-beta", "k")
	if err != nil || !strings.HasPrefix(got, "https://mainnet.helius-rpc.com") {
		t.Fatalf("mainnet-beta alias: %q %v", got, err)
	}
	if _, err := RPCURL("testnet", "k"); err == nil {
		t.Fatalf("expected unsupported cluster error")
	}
}

func TestParsePriorityLevel(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]PriorityLevel{
		"":          PriorityMedium,
		"HIGH":      PriorityHigh,
		"very_high": PriorityVeryHigh,
		"min":       PriorityMin,
		"UnsafeMax": PriorityUnsafeMax,
	} {
		got, err := ParsePriorityLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParsePriorityLevel(%q)=%q,%v want %q", in, got, err, want)
		}
	}
	if _, err := ParsePriorityLevel("ludicrous"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestClient_PriorityFeeEstimate(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string           `json:"method"`
			Params []map[string]any `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if req.Method != "getPriorityFeeEstimate" {
			t.Errorf("unexpected method: %q", req.Method)
		}
		keys, _ := req.Params[0]["accountKeys"].([]any)
		if len(keys) != 1 || keys[0] != solana.SystemProgramID.Base58() {
			t.Errorf("accountKeys=%v", req.Params[0]["accountKeys"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":{"priorityFeeEstimate":123.4,"priorityFeeLevels":{"min":1,"medium":3}}}`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, srv.Client())
	got, err := c.PriorityFeeEstimate(context.Background(), []solana.Pubkey{solana.SystemProgramID}, &PriorityFeeOptions{PriorityLevel: PriorityMedium, Recommended: true})
	if err != nil {
		t.Fatalf("PriorityFeeEstimate: %v", err)
	}
	if got.MicroLamports != 124 {
		t.Fatalf("unexpected microLamports: got=%d want=124", got.MicroLamports)
	}
	if got.Levels == nil || got.Levels.Min != 1 || got.Levels.Medium != 3 {
		t.Fatalf("unexpected levels: %#v", got.Levels)
	}
}

func TestClient_PriorityFeeEstimate_Errors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"1","error":{"code":-32600,"message":"bad"}}`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, nil)
	if _, err := c.PriorityFeeEstimate(context.Background(), nil, nil); err == nil {
		t.Fatalf("expected accountKeys error")
	}
	if _, err := c.PriorityFeeEstimate(context.Background(), []solana.Pubkey{solana.SystemProgramID}, nil); !errors.Is(err, solanarpc.ErrRPCError) {
		t.Fatalf("expected ErrRPCError, got %v", err)
	}
}

func TestClient_PriorityFeeEstimate_Cap(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":{"priorityFeeEstimate":90000}}`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, srv.Client())
	c.MaxMicroLamports = 50_000
	got, err := c.PriorityFeeEstimate(context.Background(), []solana.Pubkey{solana.SystemProgramID}, nil)
	if err != nil {
		t.Fatalf("PriorityFeeEstimate: %v", err)
	}
	if got.MicroLamports != 50_000 || !got.Capped {
		t.Fatalf("expected capped estimate, got %+v", got)
	}
}

func TestCeilUint64(t *testing.T) {
	t.Parallel()

	if ceilUint64(-1) != 0 || ceilUint64(0.1) != 1 || ceilUint64(2) != 2 {
		t.Fatalf("unexpected ceil results")
	}
}
