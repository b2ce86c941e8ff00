package solana

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"sort"
)

var ErrMissingSigner = errors.New("missing signer for required signature")

type AccountMeta struct {
	Pubkey     Pubkey
	IsSigner   bool
	IsWritable bool
}

type Instruction struct {
	ProgramID Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

type messageHeader struct {
	NumRequiredSignatures       uint8
	NumReadonlySignedAccounts   uint8
	NumReadonlyUnsignedAccounts uint8
}

// BuildAndSignLegacyTransaction compiles a legacy message and signs it with
// every required signer. The first signature is the transaction id.
func BuildAndSignLegacyTransaction(
	recentBlockhash [32]byte,
	feePayer Pubkey,
	signers map[Pubkey]ed25519.PrivateKey,
	instructions []Instruction,
) ([]byte, error) {
	msg, accountKeys, header, err := compileLegacyMessage(recentBlockhash, feePayer, instructions)
	if err != nil {
		return nil, err
	}

	sigCount := int(header.NumRequiredSignatures)
	sigs := make([]byte, 0, sigCount*64)
	for i := 0; i < sigCount; i++ {
		pk := accountKeys[i]
		priv, ok := signers[pk]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingSigner, pk.Base58())
		}
		sigs = append(sigs, ed25519.Sign(priv, msg)...)
	}

	out := make([]byte, 0, len(msg)+1+len(sigs))
	out = append(out, encodeShortVecLen(sigCount)...)
	out = append(out, sigs...)
	out = append(out, msg...)
	return out, nil
}

// TransactionSignature returns the fee payer's signature of a wire transaction.
func TransactionSignature(tx []byte) (Signature, error) {
	var out Signature
	n, off, err := decodeShortVecLenAt(tx, 0)
	if err != nil {
		return out, fmt.Errorf("decode signature count: %w", err)
	}
	if n < 1 || off+64 > len(tx) {
		return out, errors.New("transaction has no signatures")
	}
	copy(out[:], tx[off:off+64])
	return out, nil
}

type accountInfo struct {
	Pubkey     Pubkey
	IsSigner   bool
	IsWritable bool
	FirstSeen  int
}

func compileLegacyMessage(
	recentBlockhash [32]byte,
	feePayer Pubkey,
	instructions []Instruction,
) ([]byte, []Pubkey, messageHeader, error) {
	if len(instructions) == 0 {
		return nil, nil, messageHeader{}, errors.New("no instructions")
	}

	infos := make(map[Pubkey]*accountInfo, 32)
	seen := 0

	touch := func(pk Pubkey, signer, writable bool) {
		if ai, ok := infos[pk]; ok {
			ai.IsSigner = ai.IsSigner || signer
			ai.IsWritable = ai.IsWritable || writable
			return
		}
		infos[pk] = &accountInfo{
			Pubkey:     pk,
			IsSigner:   signer,
			IsWritable: writable,
			FirstSeen:  seen,
		}
		seen++
	}

	// Fee payer must be a writable signer.
	touch(feePayer, true, true)

	for _, ix := range instructions {
		touch(ix.ProgramID, false, false)
		for _, am := range ix.Accounts {
			touch(am.Pubkey, am.IsSigner, am.IsWritable)
		}
	}
	if len(infos) > 256 {
		return nil, nil, messageHeader{}, fmt.Errorf("too many account keys: %d", len(infos))
	}

	ordered := make([]*accountInfo, 0, len(infos))
	for _, ai := range infos {
		ordered = append(ordered, ai)
	}
	// Signers first, then writable before readonly within each group.
	sort.SliceStable(ordered, func(i, j int) bool {
		ri, rj := accountRank(ordered[i]), accountRank(ordered[j])
		if ri != rj {
			return ri < rj
		}
		return ordered[i].FirstSeen < ordered[j].FirstSeen
	})

	var h messageHeader
	accountKeys := make([]Pubkey, 0, len(ordered))
	for _, ai := range ordered {
		accountKeys = append(accountKeys, ai.Pubkey)
		switch accountRank(ai) {
		case 0:
			h.NumRequiredSignatures++
		case 1:
			h.NumRequiredSignatures++
			h.NumReadonlySignedAccounts++
		case 3:
			h.NumReadonlyUnsignedAccounts++
		}
	}

	indexOf := make(map[Pubkey]uint8, len(accountKeys))
	for i, pk := range accountKeys {
		indexOf[pk] = uint8(i)
	}

	out := make([]byte, 0, 512)
	out = append(out, h.NumRequiredSignatures, h.NumReadonlySignedAccounts, h.NumReadonlyUnsignedAccounts)
	out = append(out, encodeShortVecLen(len(accountKeys))...)
	for _, pk := range accountKeys {
		out = append(out, pk[:]...)
	}
	out = append(out, recentBlockhash[:]...)

	out = append(out, encodeShortVecLen(len(instructions))...)
	for _, ix := range instructions {
		out = append(out, indexOf[ix.ProgramID])
		out = append(out, encodeShortVecLen(len(ix.Accounts))...)
		for _, am := range ix.Accounts {
			out = append(out, indexOf[am.Pubkey])
		}
		out = append(out, encodeShortVecLen(len(ix.Data))...)
		out = append(out, ix.Data...)
	}

	return out, accountKeys, h, nil
}

func accountRank(ai *accountInfo) int {
	switch {
	case ai.IsSigner && ai.IsWritable:
		return 0
	case ai.IsSigner:
		return 1
	case ai.IsWritable:
		return 2
	default:
		return 3
	}
}
