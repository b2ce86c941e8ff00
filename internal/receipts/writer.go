package receipts

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cypherpunk-tipjar/tipjar/internal/commitment"
	"github.com/cypherpunk-tipjar/tipjar/internal/tiers"
	"github.com/cypherpunk-tipjar/tipjar/offchain/solana"
)

// WriteError wraps any failure to record a receipt.
type WriteError struct {
	Commitment string
	Err        error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("receipt write failed for %s: %v", e.Commitment, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

type Sender interface {
	Payer() (solana.Pubkey, error)
	SendAndConfirm(ctx context.Context, ixs ...solana.Instruction) (string, error)
}

type Writer struct {
	sender  Sender
	program solana.Pubkey
	log     logrus.FieldLogger
}

func NewWriter(sender Sender, program solana.Pubkey, log logrus.FieldLogger) *Writer {
	return &Writer{sender: sender, program: program, log: log}
}

// Write records {commitment, tier} at the commitment's receipt PDA and returns
// the confirmed transaction signature. It does not check for an existing
// receipt first; the program rejects duplicates.
func (w *Writer) Write(ctx context.Context, c commitment.Commitment, tier tiers.Tier) (string, error) {
	wrap := func(err error) error { return &WriteError{Commitment: c.Hex, Err: err} }

	raw, err := c.Bytes()
	if err != nil {
		return "", wrap(err)
	}
	funder, err := w.sender.Payer()
	if err != nil {
		return "", wrap(err)
	}
	ix, err := CompleteReceiptInstruction(w.program, funder, raw, tier)
	if err != nil {
		return "", wrap(err)
	}
	sig, err := w.sender.SendAndConfirm(ctx, ix)
	if err != nil {
		return "", wrap(err)
	}

	w.log.WithFields(logrus.Fields{
		"commitment": c.Hex,
		"tier":       tier,
		"receipt":    ix.Accounts[0].Pubkey.Base58(),
		"tx":         sig,
	}).Info("receipt written on chain")
	return sig, nil
}
