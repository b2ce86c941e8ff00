// Package commitment derives the opaque receipt commitments handed to donors.
package commitment

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cypherpunk-tipjar/tipjar/internal/tiers"
)

// Variant records which derivation produced a commitment. The local and
// network paths hash different inputs, so commitments are only comparable
// within one variant.
type Variant string

const (
	VariantLocal   Variant = "local"
	VariantNetwork Variant = "network"
)

const DefaultSecret = "cypherpunk-secret"

var ErrInvalidCommitment = errors.New("invalid commitment")

type Commitment struct {
	Hex     string
	Variant Variant
}

func (c Commitment) String() string { return c.Hex }

func (c Commitment) Bytes() ([32]byte, error) {
	return decode(c.Hex)
}

// Local is sha256(txSig || decimal(tier) || secret).
func Local(txSig string, tier tiers.Tier, secret string) Commitment {
	return Commitment{
		Hex:     digest(txSig + strconv.FormatUint(uint64(tier), 10) + secret),
		Variant: VariantLocal,
	}
}

// Network is sha256(txSig || decimal(offset)) for computations queued on the
// MPC network.
func Network(txSig string, computationOffset uint64) Commitment {
	return Commitment{
		Hex:     digest(txSig + strconv.FormatUint(computationOffset, 10)),
		Variant: VariantNetwork,
	}
}

type Input struct {
	TxSig             string
	Tier              tiers.Tier
	Secret            string
	ComputationOffset uint64
}

func Derive(v Variant, in Input) (Commitment, error) {
	switch v {
	case VariantLocal:
		return Local(in.TxSig, in.Tier, in.Secret), nil
	case VariantNetwork:
		return Network(in.TxSig, in.ComputationOffset), nil
	default:
		return Commitment{}, fmt.Errorf("unknown commitment variant %q", v)
	}
}

// Parse validates a client-supplied commitment. The variant is unknown.
func Parse(s string) (Commitment, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if _, err := decode(s); err != nil {
		return Commitment{}, err
	}
	return Commitment{Hex: s}, nil
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func decode(s string) ([32]byte, error) {
	var out [32]byte
	if len(s) != 64 {
		return out, fmt.Errorf("%w: want 64 hex chars, got %d", ErrInvalidCommitment, len(s))
	}
	if _, err := hex.Decode(out[:], []byte(s)); err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidCommitment, err)
	}
	return out, nil
}
