// Package receipts writes and reads the tip jar's on-chain donation receipts.
package receipts

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cypherpunk-tipjar/tipjar/internal/tiers"
	"github.com/cypherpunk-tipjar/tipjar/offchain/solana"
)

const (
	completeReceiptIx = "complete_receipt"
	receiptAccount    = "Receipt"
	receiptSeed       = "receipt"

	// discriminator, tier u8, commitment [32]u8, ts i64
	ReceiptAccountSize = 8 + 1 + 32 + 8
)

var ErrInvalidReceipt = errors.New("invalid receipt account")

func ReceiptAddress(program solana.Pubkey, commitment [32]byte) (solana.Pubkey, error) {
	return solana.ProgramAddress(program, []byte(receiptSeed), commitment[:])
}

func CompleteReceiptInstruction(program, funder solana.Pubkey, commitment [32]byte, tier tiers.Tier) (solana.Instruction, error) {
	receipt, err := ReceiptAddress(program, commitment)
	if err != nil {
		return solana.Instruction{}, fmt.Errorf("derive receipt address: %w", err)
	}
	disc := solana.AnchorInstructionDiscriminator(completeReceiptIx)
	data := make([]byte, 0, 8+1+32)
	data = append(data, disc[:]...)
	data = append(data, byte(tier))
	data = append(data, commitment[:]...)

	return solana.Instruction{
		ProgramID: program,
		Accounts: []solana.AccountMeta{
			{Pubkey: receipt, IsWritable: true},
			{Pubkey: funder, IsSigner: true, IsWritable: true},
			{Pubkey: solana.SystemProgramID},
			{Pubkey: solana.InstructionsSysvarID},
		},
		Data: data,
	}, nil
}

type Receipt struct {
	Address    solana.Pubkey
	Tier       tiers.Tier
	Commitment [32]byte
	Timestamp  time.Time
}

func DecodeReceipt(data []byte) (Receipt, error) {
	if len(data) < ReceiptAccountSize {
		return Receipt{}, fmt.Errorf("%w: %d bytes", ErrInvalidReceipt, len(data))
	}
	disc := solana.AnchorAccountDiscriminator(receiptAccount)
	if [8]byte(data[:8]) != disc {
		return Receipt{}, fmt.Errorf("%w: discriminator mismatch", ErrInvalidReceipt)
	}
	var out Receipt
	out.Tier = tiers.Tier(data[8])
	if out.Tier >= tiers.Count {
		return Receipt{}, fmt.Errorf("%w: tier %d", ErrInvalidReceipt, out.Tier)
	}
	copy(out.Commitment[:], data[9:41])
	out.Timestamp = time.Unix(int64(binary.LittleEndian.Uint64(data[41:49])), 0).UTC()
	return out, nil
}
