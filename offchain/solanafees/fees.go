// Package solanafees prices the relayer's transactions so the sender can log
// what each receipt or computation submission costs.
package solanafees

import (
	"errors"
	"fmt"
	"math/bits"
)

var ErrOverflow = errors.New("fee overflow")

// LamportsPerSignature is the base fee charged per required signature.
const LamportsPerSignature uint64 = 5000

const microLamportsPerLamport = 1_000_000

// ComputeBudget mirrors the two compute-budget instructions the sender
// prepends.
type ComputeBudget struct {
	UnitLimit uint32
	// UnitPrice is in micro-lamports per compute unit.
	UnitPrice uint64
}

// PriorityLamports is ceil(UnitLimit * UnitPrice / 1e6).
func (b ComputeBudget) PriorityLamports() (uint64, error) {
	if b.UnitLimit == 0 || b.UnitPrice == 0 {
		return 0, nil
	}
	hi, lo := bits.Mul64(uint64(b.UnitLimit), b.UnitPrice)
	if hi != 0 {
		return 0, ErrOverflow
	}
	q, r := lo/microLamportsPerLamport, lo%microLamportsPerLamport
	if r != 0 {
		q++
	}
	return q, nil
}

type Fee struct {
	Signatures int
	Budget     ComputeBudget
	Base       uint64
	Priority   uint64
	Total      uint64
}

// Estimate prices a transaction with the given signer count and budget.
func Estimate(signatures int, budget ComputeBudget) (Fee, error) {
	if signatures < 0 {
		return Fee{}, fmt.Errorf("negative signature count %d", signatures)
	}
	hi, base := bits.Mul64(LamportsPerSignature, uint64(signatures))
	if hi != 0 {
		return Fee{}, ErrOverflow
	}
	priority, err := budget.PriorityLamports()
	if err != nil {
		return Fee{}, err
	}
	total, carry := bits.Add64(base, priority, 0)
	if carry != 0 {
		return Fee{}, ErrOverflow
	}
	return Fee{
		Signatures: signatures,
		Budget:     budget,
		Base:       base,
		Priority:   priority,
		Total:      total,
	}, nil
}

// Affordable reports how many transactions at fee a balance covers.
func (f Fee) Affordable(balance uint64) uint64 {
	if f.Total == 0 {
		return 0
	}
	return balance / f.Total
}

func (f Fee) String() string {
	return fmt.Sprintf("%d lamports (%d sig x %d, priority %d at %d uL/CU over %d CU)",
		f.Total, f.Signatures, LamportsPerSignature, f.Priority, f.Budget.UnitPrice, f.Budget.UnitLimit)
}
