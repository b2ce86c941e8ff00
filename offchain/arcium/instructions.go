package arcium

import (
	"encoding/binary"

	"github.com/cypherpunk-tipjar/tipjar/offchain/solana"
)

const (
	verifyDonationIx = "verify_donation"
	initCompDefIx    = "init_verify_donation_comp_def"
)

type VerifyDonationArgs struct {
	ComputationOffset uint64
	Ciphertext        [BlockSize]byte
	PublicKey         [32]byte
	// Nonce is read as a big-endian u128 and sent little-endian on the wire.
	Nonce [NonceSize]byte
}

// EncodeVerifyDonationData lays out the Anchor args: offset u64, two
// ciphertext blocks (the second unused and zero), pubkey, nonce u128.
func EncodeVerifyDonationData(args VerifyDonationArgs) []byte {
	disc := solana.AnchorInstructionDiscriminator(verifyDonationIx)
	out := make([]byte, 0, 8+8+BlockSize*2+32+16)
	out = append(out, disc[:]...)
	out = binary.LittleEndian.AppendUint64(out, args.ComputationOffset)
	out = append(out, args.Ciphertext[:]...)
	out = append(out, make([]byte, BlockSize)...)
	out = append(out, args.PublicKey[:]...)
	for i := NonceSize - 1; i >= 0; i-- {
		out = append(out, args.Nonce[i])
	}
	return out
}

func (a Accounts) VerifyDonationInstruction(payer solana.Pubkey, args VerifyDonationArgs) (solana.Instruction, error) {
	computation, err := a.ComputationAccount(args.ComputationOffset)
	if err != nil {
		return solana.Instruction{}, err
	}
	return solana.Instruction{
		ProgramID: a.MXEProgram,
		Accounts: []solana.AccountMeta{
			{Pubkey: payer, IsSigner: true, IsWritable: true},
			{Pubkey: a.SignPDA, IsWritable: true},
			{Pubkey: a.MXEAccount},
			{Pubkey: a.Mempool, IsWritable: true},
			{Pubkey: a.ExecutingPool, IsWritable: true},
			{Pubkey: computation, IsWritable: true},
			{Pubkey: a.CompDef},
			{Pubkey: a.Cluster, IsWritable: true},
			{Pubkey: a.FeePool, IsWritable: true},
			{Pubkey: a.Clock},
			{Pubkey: solana.SystemProgramID},
			{Pubkey: a.ArciumProgram},
		},
		Data: EncodeVerifyDonationData(args),
	}, nil
}

func (a Accounts) InitCompDefInstruction(payer solana.Pubkey) solana.Instruction {
	disc := solana.AnchorInstructionDiscriminator(initCompDefIx)
	return solana.Instruction{
		ProgramID: a.MXEProgram,
		Accounts: []solana.AccountMeta{
			{Pubkey: payer, IsSigner: true, IsWritable: true},
			{Pubkey: a.MXEAccount, IsWritable: true},
			{Pubkey: a.CompDef, IsWritable: true},
			{Pubkey: a.ArciumProgram},
			{Pubkey: solana.SystemProgramID},
		},
		Data: disc[:],
	}
}
