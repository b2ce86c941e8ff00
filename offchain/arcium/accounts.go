// Package arcium derives the Arcium network accounts an MXE program needs and
// encodes the instructions the tip jar sends to it.
package arcium

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/cypherpunk-tipjar/tipjar/offchain/solana"
)

var (
	DefaultMXEProgramID    = solana.MustParsePubkey("AuoVDGoVfQaRdKGGkrgQyfpcGrJt9P6C8AqVSkNoqo5i")
	DefaultArciumProgramID = solana.MustParsePubkey("BKck65TgoKRokMjQM3datB9oRwJ8rAj2jxPXvHXUvcL6")
)

const (
	DefaultClusterOffset uint32 = 1078779259
	DefaultCompDefName          = "verify_donation"
)

var ErrInvalidConfig = errors.New("invalid arcium config")

// CompDefOffset is the little-endian u32 prefix of sha256(name), matching the
// on-chain comp_def_offset macro.
func CompDefOffset(name string) uint32 {
	h := sha256.Sum256([]byte(name))
	return binary.LittleEndian.Uint32(h[:4])
}

type Config struct {
	MXEProgramID    solana.Pubkey
	ArciumProgramID solana.Pubkey
	// MXEAccount and ExecutingPool are derived when zero.
	MXEAccount    solana.Pubkey
	ExecutingPool solana.Pubkey
	ClusterOffset uint32
	CompDefName   string
}

func (c Config) withDefaults() Config {
	if c.MXEProgramID.IsZero() {
		c.MXEProgramID = DefaultMXEProgramID
	}
	if c.ArciumProgramID.IsZero() {
		c.ArciumProgramID = DefaultArciumProgramID
	}
	if c.ClusterOffset == 0 {
		c.ClusterOffset = DefaultClusterOffset
	}
	if strings.TrimSpace(c.CompDefName) == "" {
		c.CompDefName = DefaultCompDefName
	}
	return c
}

type Accounts struct {
	MXEProgram    solana.Pubkey
	ArciumProgram solana.Pubkey
	MXEAccount    solana.Pubkey
	Mempool       solana.Pubkey
	ExecutingPool solana.Pubkey
	CompDef       solana.Pubkey
	Cluster       solana.Pubkey
	FeePool       solana.Pubkey
	Clock         solana.Pubkey
	SignPDA       solana.Pubkey

	CompDefName   string
	CompDefOffset uint32
	ClusterOffset uint32
}

func DeriveAccounts(cfg Config) (Accounts, error) {
	cfg = cfg.withDefaults()
	if cfg.MXEProgramID == cfg.ArciumProgramID {
		return Accounts{}, fmt.Errorf("%w: mxe program and arcium program are the same key", ErrInvalidConfig)
	}

	out := Accounts{
		MXEProgram:    cfg.MXEProgramID,
		ArciumProgram: cfg.ArciumProgramID,
		CompDefName:   cfg.CompDefName,
		CompDefOffset: CompDefOffset(cfg.CompDefName),
		ClusterOffset: cfg.ClusterOffset,
	}
	mxe := cfg.MXEProgramID[:]
	arcium := cfg.ArciumProgramID

	var err error
	derive := func(dst *solana.Pubkey, program solana.Pubkey, name string, seeds ...[]byte) {
		if err != nil {
			return
		}
		if *dst, err = solana.ProgramAddress(program, seeds...); err != nil {
			err = fmt.Errorf("derive %s: %w", name, err)
		}
	}

	out.MXEAccount = cfg.MXEAccount
	if out.MXEAccount.IsZero() {
		derive(&out.MXEAccount, arcium, "mxe account", []byte("MXEAccount"), mxe)
	}
	out.ExecutingPool = cfg.ExecutingPool
	if out.ExecutingPool.IsZero() {
		derive(&out.ExecutingPool, arcium, "executing pool", []byte("Execpool"), mxe)
	}
	derive(&out.Mempool, arcium, "mempool", []byte("Mempool"), mxe)
	derive(&out.CompDef, arcium, "comp def", []byte("ComputationDefinitionAccount"), mxe, u32le(out.CompDefOffset))
	derive(&out.Cluster, arcium, "cluster", []byte("Cluster"), u32le(cfg.ClusterOffset))
	derive(&out.FeePool, arcium, "fee pool", []byte("FeePool"))
	derive(&out.Clock, arcium, "clock", []byte("ClockAccount"))
	derive(&out.SignPDA, cfg.MXEProgramID, "sign pda", []byte("SignerAccount"))
	if err != nil {
		return Accounts{}, err
	}
	return out, nil
}

// ComputationAccount is the per-computation PDA for offset.
func (a Accounts) ComputationAccount(offset uint64) (solana.Pubkey, error) {
	return solana.ProgramAddress(a.ArciumProgram, []byte("ComputationAccount"), a.MXEProgram[:], u64le(offset))
}

func u32le(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

func u64le(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}
