package solana

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
)

var (
	SystemProgramID        = MustParsePubkey("11111111111111111111111111111111")
	ComputeBudgetProgramID = MustParsePubkey("ComputeBudget111111111111111111111111111111")
	InstructionsSysvarID   = MustParsePubkey("Sysvar1nstructions1111111111111111111111111")
)

// System program instruction discriminators (u32 little-endian).
const (
	SystemInstructionTransfer uint32 = 2

	systemTransferDataLen = 4 + 8
)

var ErrNotSystemTransfer = errors.New("not a system transfer")

func ComputeBudgetSetComputeUnitLimit(limit uint32) Instruction {
	var data [5]byte
	data[0] = 2
	binary.LittleEndian.PutUint32(data[1:], limit)
	return Instruction{
		ProgramID: ComputeBudgetProgramID,
		Accounts:  nil,
		Data:      data[:],
	}
}

func ComputeBudgetSetComputeUnitPrice(microLamports uint64) Instruction {
	var data [9]byte
	data[0] = 3
	binary.LittleEndian.PutUint64(data[1:], microLamports)
	return Instruction{
		ProgramID: ComputeBudgetProgramID,
		Accounts:  nil,
		Data:      data[:],
	}
}

func SystemTransfer(from, to Pubkey, lamports uint64) Instruction {
	var data [systemTransferDataLen]byte
	binary.LittleEndian.PutUint32(data[0:4], SystemInstructionTransfer)
	binary.LittleEndian.PutUint64(data[4:12], lamports)
	return Instruction{
		ProgramID: SystemProgramID,
		Accounts: []AccountMeta{
			{Pubkey: from, IsSigner: true, IsWritable: true},
			{Pubkey: to, IsSigner: false, IsWritable: true},
		},
		Data: data[:],
	}
}

// DecodeSystemTransfer returns the lamports of a System Transfer payload.
// Trailing bytes are tolerated; short or non-transfer payloads are rejected.
func DecodeSystemTransfer(data []byte) (uint64, error) {
	if len(data) < systemTransferDataLen {
		return 0, ErrNotSystemTransfer
	}
	if binary.LittleEndian.Uint32(data[0:4]) != SystemInstructionTransfer {
		return 0, ErrNotSystemTransfer
	}
	return binary.LittleEndian.Uint64(data[4:12]), nil
}

// AnchorInstructionDiscriminator is sha256("global:<name>")[:8].
func AnchorInstructionDiscriminator(name string) [8]byte {
	return anchorDiscriminator("global:" + name)
}

// AnchorAccountDiscriminator is sha256("account:<TypeName>")[:8].
func AnchorAccountDiscriminator(typeName string) [8]byte {
	return anchorDiscriminator("account:" + typeName)
}

func anchorDiscriminator(preimage string) [8]byte {
	var out [8]byte
	sum := sha256.Sum256([]byte(preimage))
	copy(out[:], sum[:8])
	return out
}
