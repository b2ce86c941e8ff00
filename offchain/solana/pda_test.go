package solana

import (
	"errors"
	"testing"
)

func TestCreateProgramAddress_RejectsInvalidSeeds(t *testing.T) {
	_, err := CreateProgramAddress(make([][]byte, 17), SystemProgramID)
	if err != ErrInvalidSeeds {
		t.Fatalf("want ErrInvalidSeeds, got %v", err)
	}

	seed := make([]byte, 33)
	_, err = CreateProgramAddress([][]byte{seed}, SystemProgramID)
	if err != ErrInvalidSeeds {
		t.Fatalf("want ErrInvalidSeeds, got %v", err)
	}
}

func TestFindProgramAddress_ReturnsOffCurve(t *testing.T) {
	pda, bump, err := FindProgramAddress([][]byte{[]byte("receipt")}, SystemProgramID)
	if err != nil {
		t.Fatalf("FindProgramAddress: %v", err)
	}
	if isOnCurve(pda) {
		t.Fatalf("expected off-curve PDA")
	}

	again, err := CreateProgramAddress([][]byte{[]byte("receipt"), {bump}}, SystemProgramID)
	if err != nil {
		t.Fatalf("CreateProgramAddress: %v", err)
	}
	if again != pda {
		t.Fatalf("bump %d does not reproduce %s", bump, pda)
	}
}

func TestFindProgramAddress_DoesNotMutateSeeds(t *testing.T) {
	seeds := make([][]byte, 1, 4)
	seeds[0] = []byte("FeePool")
	if _, _, err := FindProgramAddress(seeds, SystemProgramID); err != nil {
		t.Fatalf("FindProgramAddress: %v", err)
	}
	if len(seeds) != 1 || string(seeds[0]) != "FeePool" {
		t.Fatalf("seeds mutated: %q", seeds)
	}
}

func TestFindProgramAddress_TooManySeeds(t *testing.T) {
	_, _, err := FindProgramAddress(make([][]byte, 16), SystemProgramID)
	if !errors.Is(err, ErrInvalidSeeds) {
		t.Fatalf("want ErrInvalidSeeds, got %v", err)
	}
}

func TestProgramAddress_MatchesFind(t *testing.T) {
	commitment := make([]byte, 32)
	for i := range commitment {
		commitment[i] = byte(i)
	}
	want, _, err := FindProgramAddress([][]byte{[]byte("receipt"), commitment}, SystemProgramID)
	if err != nil {
		t.Fatalf("FindProgramAddress: %v", err)
	}
	got, err := ProgramAddress(SystemProgramID, []byte("receipt"), commitment)
	if err != nil {
		t.Fatalf("ProgramAddress: %v", err)
	}
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}
