package commitment

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

func TestLocal(t *testing.T) {
	sum := sha256.Sum256([]byte("5abc2cypherpunk-secret"))
	want := hex.EncodeToString(sum[:])

	got := Local("5abc", 2, DefaultSecret)
	if got.Hex != want {
		t.Fatalf("Local=%s, want %s", got.Hex, want)
	}
	if got.Variant != VariantLocal {
		t.Fatalf("variant=%s", got.Variant)
	}
	if Local("5abc", 2, DefaultSecret) != got {
		t.Fatalf("not deterministic")
	}
	if Local("5abc", 1, DefaultSecret) == got || Local("5abd", 2, DefaultSecret) == got || Local("5abc", 2, "other") == got {
		t.Fatalf("commitment insensitive to its inputs")
	}
}

func TestNetwork(t *testing.T) {
	sum := sha256.Sum256([]byte("sig12345"))
	got := Network("sig", 12345)
	if got.Hex != hex.EncodeToString(sum[:]) || got.Variant != VariantNetwork {
		t.Fatalf("Network=%+v", got)
	}
	if Network("sig", 12346) == got {
		t.Fatalf("offset ignored")
	}
}

func TestDerive(t *testing.T) {
	in := Input{TxSig: "s", Tier: 3, Secret: "x", ComputationOffset: 9}
	l, err := Derive(VariantLocal, in)
	if err != nil || l != Local("s", 3, "x") {
		t.Fatalf("local=%+v err=%v", l, err)
	}
	n, err := Derive(VariantNetwork, in)
	if err != nil || n != Network("s", 9) {
		t.Fatalf("network=%+v err=%v", n, err)
	}
	if _, err := Derive("bogus", in); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseAndBytes(t *testing.T) {
	c := Local("sig", 0, DefaultSecret)
	parsed, err := Parse(" " + strings.ToUpper(c.Hex) + " ")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Hex != c.Hex {
		t.Fatalf("parsed=%s", parsed.Hex)
	}
	b, err := parsed.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if hex.EncodeToString(b[:]) != c.Hex {
		t.Fatalf("bytes mismatch")
	}

	for _, bad := range []string{"", "abc", strings.Repeat("g", 64), strings.Repeat("a", 66)} {
		if _, err := Parse(bad); !errors.Is(err, ErrInvalidCommitment) {
			t.Fatalf("Parse(%q) err=%v", bad, err)
		}
	}
}
