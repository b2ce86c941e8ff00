package arcium

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

// decrypt reverses Encrypt the way the MXE does on its side.
func decrypt(t *testing.T, c *Cipher, blocks [][BlockSize]byte, nonce [NonceSize]byte) []uint64 {
	t.Helper()
	ks, err := c.keystream(nonce, len(blocks)*BlockSize)
	if err != nil {
		t.Fatalf("keystream: %v", err)
	}
	out := make([]uint64, len(blocks))
	for i, b := range blocks {
		for j := range b {
			b[j] ^= ks[i*BlockSize+j]
		}
		for _, hi := range b[8:] {
			if hi != 0 {
				t.Fatalf("block %d: high bytes not zero", i)
			}
		}
		out[i] = binary.LittleEndian.Uint64(b[:8])
	}
	return out
}

func fixedReader(b byte) *bytes.Reader {
	return bytes.NewReader(bytes.Repeat([]byte{b}, 64))
}

func TestCipher_SharedSecretAgreement(t *testing.T) {
	alice, err := NewEphemeral(fixedReader(1))
	if err != nil {
		t.Fatalf("NewEphemeral: %v", err)
	}
	bob, err := NewEphemeral(fixedReader(2))
	if err != nil {
		t.Fatalf("NewEphemeral: %v", err)
	}
	s1, err := alice.SharedSecret(bob.Public)
	if err != nil {
		t.Fatalf("SharedSecret: %v", err)
	}
	s2, err := bob.SharedSecret(alice.Public)
	if err != nil {
		t.Fatalf("SharedSecret: %v", err)
	}
	if s1 != s2 {
		t.Fatalf("shared secrets differ")
	}

	var nonce [NonceSize]byte
	nonce[0] = 9
	ct, err := NewCipher(s1).EncryptSingle(1_000_000_000, nonce)
	if err != nil {
		t.Fatalf("EncryptSingle: %v", err)
	}
	got := decrypt(t, NewCipher(s2), [][BlockSize]byte{ct}, nonce)
	if len(got) != 1 || got[0] != 1_000_000_000 {
		t.Fatalf("decrypted=%v", got)
	}
}

func TestCipher_NonceChangesCiphertext(t *testing.T) {
	c := NewCipher([32]byte{1})
	var n1, n2 [NonceSize]byte
	n2[15] = 1
	a, _ := c.EncryptSingle(5, n1)
	b, _ := c.EncryptSingle(5, n2)
	if a == b {
		t.Fatalf("ciphertext did not depend on nonce")
	}
	var zero [BlockSize]byte
	if a == zero {
		t.Fatalf("ciphertext is zero")
	}
}

func TestEphemeral_ZeroPeerRejected(t *testing.T) {
	e, err := NewEphemeral(fixedReader(3))
	if err != nil {
		t.Fatalf("NewEphemeral: %v", err)
	}
	if _, err := e.SharedSecret([32]byte{}); err == nil {
		t.Fatalf("expected low-order point error")
	}
}

func TestRandomHelpers_ShortReader(t *testing.T) {
	if _, err := NewEphemeral(bytes.NewReader([]byte{1})); err == nil {
		t.Fatalf("expected NewEphemeral error")
	}
	if _, err := RandomNonce(bytes.NewReader(nil)); err == nil {
		t.Fatalf("expected RandomNonce error")
	}
	if _, err := RandomComputationOffset(bytes.NewReader([]byte{1, 2})); err == nil {
		t.Fatalf("expected RandomComputationOffset error")
	}
	off, err := RandomComputationOffset(bytes.NewReader([]byte{1, 0, 0, 0, 0, 0, 0, 0}))
	if err != nil || off != 1 {
		t.Fatalf("offset=%d err=%v", off, err)
	}
}

func TestErrCiphertextBlocks_IsSentinel(t *testing.T) {
	err := errors.Join(ErrCiphertextBlocks)
	if !errors.Is(err, ErrCiphertextBlocks) {
		t.Fatalf("sentinel not matched")
	}
}
