package arcium

import (
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/cypherpunk-tipjar/tipjar/offchain/solana"
)

func TestCompDefOffset(t *testing.T) {
	h := sha256.Sum256([]byte("verify_donation"))
	want := binary.LittleEndian.Uint32(h[:4])
	if got := CompDefOffset("verify_donation"); got != want {
		t.Fatalf("CompDefOffset=%d, want %d", got, want)
	}
	if CompDefOffset("verify_donation") == CompDefOffset("verify_donation_v2") {
		t.Fatalf("distinct names share an offset")
	}
}

func TestDeriveAccounts_Defaults(t *testing.T) {
	a, err := DeriveAccounts(Config{})
	if err != nil {
		t.Fatalf("DeriveAccounts: %v", err)
	}
	if a.MXEProgram != DefaultMXEProgramID || a.ArciumProgram != DefaultArciumProgramID {
		t.Fatalf("unexpected programs: %+v", a)
	}
	if a.ClusterOffset != DefaultClusterOffset || a.CompDefName != DefaultCompDefName {
		t.Fatalf("unexpected defaults: %+v", a)
	}
	// Devnet addresses the web client and the deployed program use.
	if got := a.MXEAccount.Base58(); got != "64a3vafYyqFWcysk7BXVwJnnNXaiTyuLSh7nXP2JFQvS" {
		t.Fatalf("MXEAccount=%s", got)
	}
	if got := a.ExecutingPool.Base58(); got != "7ceQdYuWwdwduqBFJADaURaNTj5NHhtYQYXLN1rRM67h" {
		t.Fatalf("ExecutingPool=%s", got)
	}

	wantCompDef, _, err := solana.FindProgramAddress([][]byte{
		[]byte("ComputationDefinitionAccount"),
		DefaultMXEProgramID[:],
		u32le(CompDefOffset(DefaultCompDefName)),
	}, DefaultArciumProgramID)
	if err != nil {
		t.Fatalf("FindProgramAddress: %v", err)
	}
	if a.CompDef != wantCompDef {
		t.Fatalf("CompDef=%s, want %s", a.CompDef, wantCompDef)
	}

	wantSign, _, err := solana.FindProgramAddress([][]byte{[]byte("SignerAccount")}, DefaultMXEProgramID)
	if err != nil {
		t.Fatalf("FindProgramAddress: %v", err)
	}
	if a.SignPDA != wantSign {
		t.Fatalf("SignPDA=%s, want %s", a.SignPDA, wantSign)
	}

	seen := map[solana.Pubkey]string{}
	for name, pk := range map[string]solana.Pubkey{
		"mxe": a.MXEAccount, "mempool": a.Mempool, "execpool": a.ExecutingPool,
		"compdef": a.CompDef, "cluster": a.Cluster, "feepool": a.FeePool,
		"clock": a.Clock, "sign": a.SignPDA,
	} {
		if pk.IsZero() {
			t.Fatalf("%s is zero", name)
		}
		if other, dup := seen[pk]; dup {
			t.Fatalf("%s and %s derived the same address", name, other)
		}
		seen[pk] = name
	}
}

func TestDeriveAccounts_Overrides(t *testing.T) {
	mxeAcct := solana.MustParsePubkey("64a3vafYyqFWcysk7BXVwJnnNXaiTyuLSh7nXP2JFQvS")
	pool := solana.MustParsePubkey("7ceQdYuWwdwduqBFJADaURaNTj5NHhtYQYXLN1rRM67h")

	a, err := DeriveAccounts(Config{MXEAccount: mxeAcct, ExecutingPool: pool, ClusterOffset: 7, CompDefName: "verify_donation_v2"})
	if err != nil {
		t.Fatalf("DeriveAccounts: %v", err)
	}
	if a.MXEAccount != mxeAcct || a.ExecutingPool != pool {
		t.Fatalf("overrides ignored: %+v", a)
	}
	if a.CompDefOffset != CompDefOffset("verify_donation_v2") || a.ClusterOffset != 7 {
		t.Fatalf("unexpected offsets: %+v", a)
	}

	def, err := DeriveAccounts(Config{})
	if err != nil {
		t.Fatalf("DeriveAccounts: %v", err)
	}
	if def.Cluster == a.Cluster || def.CompDef == a.CompDef {
		t.Fatalf("cluster/comp def should depend on offsets")
	}
}

func TestDeriveAccounts_SameProgram(t *testing.T) {
	if _, err := DeriveAccounts(Config{MXEProgramID: DefaultArciumProgramID}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestComputationAccount(t *testing.T) {
	a, err := DeriveAccounts(Config{})
	if err != nil {
		t.Fatalf("DeriveAccounts: %v", err)
	}
	c1, err := a.ComputationAccount(1)
	if err != nil {
		t.Fatalf("ComputationAccount: %v", err)
	}
	c1again, _ := a.ComputationAccount(1)
	c2, _ := a.ComputationAccount(2)
	if c1 != c1again || c1 == c2 {
		t.Fatalf("computation accounts not deterministic per offset")
	}
}
