package solana

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
)

var (
	ErrInvalidSeeds = errors.New("invalid seeds")
	ErrOnCurve      = errors.New("derived address is on-curve")
)

const (
	maxSeeds   = 16
	maxSeedLen = 32
)

// FindProgramAddress walks bumps from 255 down and returns the first
// off-curve address, matching the runtime's find_program_address.
func FindProgramAddress(seeds [][]byte, programID Pubkey) (Pubkey, uint8, error) {
	if len(seeds) >= maxSeeds {
		return Pubkey{}, 0, ErrInvalidSeeds
	}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := uint8(255); ; bump-- {
		withBump[len(seeds)] = []byte{bump}
		pda, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return pda, bump, nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return Pubkey{}, 0, err
		}
		if bump == 0 {
			return Pubkey{}, 0, fmt.Errorf("no viable program address found")
		}
	}
}

// ProgramAddress is FindProgramAddress without the bump, for callers that only
// need the address.
func ProgramAddress(programID Pubkey, seeds ...[]byte) (Pubkey, error) {
	pda, _, err := FindProgramAddress(seeds, programID)
	return pda, err
}

func CreateProgramAddress(seeds [][]byte, programID Pubkey) (Pubkey, error) {
	if len(seeds) > maxSeeds {
		return Pubkey{}, ErrInvalidSeeds
	}

	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > maxSeedLen {
			return Pubkey{}, ErrInvalidSeeds
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write([]byte("ProgramDerivedAddress"))

	var out Pubkey
	copy(out[:], h.Sum(nil))
	if isOnCurve(out) {
		return Pubkey{}, ErrOnCurve
	}
	return out, nil
}

func isOnCurve(pk Pubkey) bool {
	_, err := new(edwards25519.Point).SetBytes(pk[:])
	return err == nil
}
