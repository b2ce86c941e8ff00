package solana

import (
	"crypto/ed25519"
	"errors"
	"testing"
)

func testKey(seedByte byte) (ed25519.PrivateKey, Pubkey) {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = seedByte
	}
	priv := ed25519.NewKeyFromSeed(seed)
	var pk Pubkey
	copy(pk[:], priv.Public().(ed25519.PublicKey))
	return priv, pk
}

func filled(b byte) (out Pubkey) {
	for i := range out {
		out[i] = b
	}
	return out
}

func TestBuildAndSignLegacyTransaction_SignatureVerifies(t *testing.T) {
	priv, feePayer := testKey(1)
	recipient := filled(0x44)

	var blockhash [32]byte
	for i := range blockhash {
		blockhash[i] = 0x42
	}

	tx, err := BuildAndSignLegacyTransaction(
		blockhash,
		feePayer,
		map[Pubkey]ed25519.PrivateKey{feePayer: priv},
		[]Instruction{SystemTransfer(feePayer, recipient, 1_000)},
	)
	if err != nil {
		t.Fatalf("BuildAndSignLegacyTransaction: %v", err)
	}

	sigCount, off, err := decodeShortVecLenAt(tx, 0)
	if err != nil {
		t.Fatalf("decode sigCount: %v", err)
	}
	if sigCount != 1 {
		t.Fatalf("sigCount=%d, want 1", sigCount)
	}
	if len(tx) < off+64 {
		t.Fatalf("tx too short for signatures")
	}
	sig := tx[off : off+64]
	msg := tx[off+64:]
	if !ed25519.Verify(ed25519.PublicKey(feePayer[:]), msg, sig) {
		t.Fatalf("signature did not verify")
	}

	got, err := TransactionSignature(tx)
	if err != nil {
		t.Fatalf("TransactionSignature: %v", err)
	}
	if string(got[:]) != string(sig) {
		t.Fatalf("TransactionSignature mismatch")
	}
}

func TestBuildAndSignLegacyTransaction_MissingSigner(t *testing.T) {
	_, feePayer := testKey(1)
	_, err := BuildAndSignLegacyTransaction([32]byte{}, feePayer, nil, []Instruction{SystemTransfer(feePayer, filled(2), 1)})
	if !errors.Is(err, ErrMissingSigner) {
		t.Fatalf("err=%v, want ErrMissingSigner", err)
	}
}

func TestBuildAndSignLegacyTransaction_NoInstructions(t *testing.T) {
	priv, feePayer := testKey(1)
	if _, err := BuildAndSignLegacyTransaction([32]byte{}, feePayer, map[Pubkey]ed25519.PrivateKey{feePayer: priv}, nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestCompileLegacyMessage_AccountOrdering(t *testing.T) {
	_, feePayer := testKey(1)
	_, cosigner := testKey(2)
	program := filled(0x90)
	writable := filled(0x10)
	readonly := filled(0x20)

	ix := Instruction{
		ProgramID: program,
		Accounts: []AccountMeta{
			{Pubkey: readonly},
			{Pubkey: writable, IsWritable: true},
			{Pubkey: cosigner, IsSigner: true},
		},
	}
	_, keys, h, err := compileLegacyMessage([32]byte{}, feePayer, []Instruction{ix})
	if err != nil {
		t.Fatalf("compileLegacyMessage: %v", err)
	}
	want := []Pubkey{feePayer, cosigner, writable, program, readonly}
	if len(keys) != len(want) {
		t.Fatalf("len(keys)=%d, want %d", len(keys), len(want))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys[%d]=%s, want %s", i, keys[i], want[i])
		}
	}
	if h.NumRequiredSignatures != 2 || h.NumReadonlySignedAccounts != 1 || h.NumReadonlyUnsignedAccounts != 2 {
		t.Fatalf("header=%+v", h)
	}
}

func TestTransactionSignature_Empty(t *testing.T) {
	if _, err := TransactionSignature([]byte{0}); err == nil {
		t.Fatalf("expected error")
	}
}
