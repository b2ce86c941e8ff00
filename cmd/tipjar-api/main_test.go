package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/cypherpunk-tipjar/tipjar/internal/commitment"
	"github.com/cypherpunk-tipjar/tipjar/internal/config"
	"github.com/cypherpunk-tipjar/tipjar/offchain/solana"
)

func envOf(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestRun_Usage(t *testing.T) {
	var out bytes.Buffer
	if err := run(nil, &out, envOf(nil)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "tipjar-api serve") {
		t.Fatalf("usage missing serve: %q", out.String())
	}
	if err := run([]string{"bogus"}, &out, envOf(nil)); err == nil {
		t.Fatalf("expected error for unknown command")
	}
}

func TestTier(t *testing.T) {
	cases := []struct {
		lamports string
		want     int
	}{
		{"0", 0},
		{"250000000", 1},
		{"999999999", 2},
		{"1000000000", 3},
	}
	for _, tc := range cases {
		var out bytes.Buffer
		if err := run([]string{"tier", tc.lamports}, &out, envOf(nil)); err != nil {
			t.Fatalf("tier %s: %v", tc.lamports, err)
		}
		var got struct {
			Tier int `json:"tier"`
		}
		if err := json.Unmarshal(out.Bytes(), &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Tier != tc.want {
			t.Fatalf("tier(%s)=%d want %d", tc.lamports, got.Tier, tc.want)
		}
	}
}

func TestTier_CustomThresholds(t *testing.T) {
	var out bytes.Buffer
	env := envOf(map[string]string{"MIN_TIER_LAMPORTS_3": "600000000"})
	if err := run([]string{"tier", "600000000"}, &out, env); err != nil {
		t.Fatalf("tier: %v", err)
	}
	if !strings.Contains(out.String(), `"tier": 3`) {
		t.Fatalf("unexpected output: %s", out.String())
	}
}

func TestTier_Invalid(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"tier"}, &out, envOf(nil)); err == nil {
		t.Fatalf("expected usage error")
	}
	if err := run([]string{"tier", "-5"}, &out, envOf(nil)); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestAccounts(t *testing.T) {
	c := commitment.Local("sig", 1, "s")
	var out bytes.Buffer
	err := run([]string{"accounts", "--commitment", c.Hex}, &out, envOf(map[string]string{
		"RPC_URL": "https://rpc.example/?api-key=secret",
	}))
	if err != nil {
		t.Fatalf("accounts: %v", err)
	}
	var got accountsOutput
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.CompDefName != "verify_donation" {
		t.Fatalf("compDefName=%q", got.CompDefName)
	}
	if got.Receipt == "" || got.CompDef == "" || got.SignPDA == "" {
		t.Fatalf("missing derived accounts: %+v", got)
	}
	if strings.Contains(got.RPCURL, "secret") {
		t.Fatalf("rpc url not redacted: %s", got.RPCURL)
	}
	if got.ArciumAPIKey != "unset" {
		t.Fatalf("arciumApiKey=%q", got.ArciumAPIKey)
	}

	out.Reset()
	if err := run([]string{"accounts"}, &out, envOf(map[string]string{"ARCIUM_API_KEY": "arc-secret"})); err != nil {
		t.Fatalf("accounts: %v", err)
	}
	if strings.Contains(out.String(), "arc-secret") || !strings.Contains(out.String(), `"arciumApiKey": "configured"`) {
		t.Fatalf("unexpected output: %s", out.String())
	}

	out.Reset()
	if err := run([]string{"accounts", "--commitment", "nothex"}, &out, envOf(nil)); err == nil {
		t.Fatalf("expected error for malformed commitment")
	}
}

func TestRedactURL(t *testing.T) {
	if got := redactURL("https://a/b?api-key=x"); got != "https://a/b?<redacted>" {
		t.Fatalf("got %q", got)
	}
	if got := redactURL("https://api.devnet.solana.com"); got != "https://api.devnet.solana.com" {
		t.Fatalf("got %q", got)
	}
}

type fixedBalance struct {
	lamports uint64
	err      error
}

func (f fixedBalance) BalanceLamports(context.Context, solana.Pubkey) (uint64, error) {
	return f.lamports, f.err
}

func TestSignerRunway(t *testing.T) {
	cfg := config.Config{ComputeUnitLimit: 400_000}
	logger, hook := logtest.NewNullLogger()

	// No priority fee: one signature at 5000 lamports.
	n, err := signerRunway(context.Background(), fixedBalance{lamports: 1_000_000}, solana.Pubkey{1}, cfg, logger)
	if err != nil || n != 200 {
		t.Fatalf("runway=%d err=%v", n, err)
	}
	if e := hook.LastEntry(); e == nil || e.Level != logrus.InfoLevel {
		t.Fatalf("expected info entry, got %+v", e)
	}

	n, err = signerRunway(context.Background(), fixedBalance{lamports: 49_999}, solana.Pubkey{1}, cfg, logger)
	if err != nil || n != 9 {
		t.Fatalf("runway=%d err=%v", n, err)
	}
	if e := hook.LastEntry(); e == nil || e.Level != logrus.WarnLevel {
		t.Fatalf("expected low balance warning, got %+v", e)
	}

	if _, err := signerRunway(context.Background(), fixedBalance{err: errors.New("rpc down")}, solana.Pubkey{1}, cfg, logger); err == nil {
		t.Fatalf("expected balance error")
	}
}
