package arcium

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	BlockSize = 32
	NonceSize = 16
)

var ErrCiphertextBlocks = errors.New("unexpected ciphertext block count")

// Ephemeral is a one-shot x25519 key pair used to encrypt inputs to the MXE.
type Ephemeral struct {
	private [32]byte
	Public  [32]byte
}

func NewEphemeral(r io.Reader) (*Ephemeral, error) {
	if r == nil {
		r = rand.Reader
	}
	e := &Ephemeral{}
	if _, err := io.ReadFull(r, e.private[:]); err != nil {
		return nil, fmt.Errorf("read ephemeral key: %w", err)
	}
	pub, err := curve25519.X25519(e.private[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	copy(e.Public[:], pub)
	return e, nil
}

func (e *Ephemeral) SharedSecret(peer [32]byte) ([32]byte, error) {
	var out [32]byte
	s, err := curve25519.X25519(e.private[:], peer[:])
	if err != nil {
		return out, fmt.Errorf("x25519: %w", err)
	}
	copy(out[:], s)
	return out, nil
}

// Cipher encrypts field elements for the MXE. Each plaintext value occupies
// one little-endian 32-byte block XORed with a keystream derived from the
// shared secret and nonce.
type Cipher struct {
	secret [32]byte
}

func NewCipher(sharedSecret [32]byte) *Cipher {
	return &Cipher{secret: sharedSecret}
}

func (c *Cipher) keystream(nonce [NonceSize]byte, n int) ([]byte, error) {
	key := make([]byte, chacha20.KeySize)
	kdf := hkdf.New(sha256.New, c.secret[:], nonce[:], []byte("tipjar-mxe-input"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	stream, err := chacha20.NewUnauthenticatedCipher(key, make([]byte, chacha20.NonceSize))
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	stream.XORKeyStream(out, out)
	return out, nil
}

func (c *Cipher) Encrypt(values []uint64, nonce [NonceSize]byte) ([][BlockSize]byte, error) {
	ks, err := c.keystream(nonce, len(values)*BlockSize)
	if err != nil {
		return nil, err
	}
	out := make([][BlockSize]byte, len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(out[i][:8], v)
		for j := 0; j < BlockSize; j++ {
			out[i][j] ^= ks[i*BlockSize+j]
		}
	}
	return out, nil
}

// EncryptSingle encrypts one value and requires exactly one block back.
func (c *Cipher) EncryptSingle(v uint64, nonce [NonceSize]byte) ([BlockSize]byte, error) {
	blocks, err := c.Encrypt([]uint64{v}, nonce)
	if err != nil {
		return [BlockSize]byte{}, err
	}
	if len(blocks) != 1 {
		return [BlockSize]byte{}, fmt.Errorf("%w: got %d, want 1", ErrCiphertextBlocks, len(blocks))
	}
	return blocks[0], nil
}

func RandomNonce(r io.Reader) ([NonceSize]byte, error) {
	var out [NonceSize]byte
	if r == nil {
		r = rand.Reader
	}
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return out, fmt.Errorf("read nonce: %w", err)
	}
	return out, nil
}

func RandomComputationOffset(r io.Reader) (uint64, error) {
	if r == nil {
		r = rand.Reader
	}
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("read computation offset: %w", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}
