// Package chain signs and submits the relayer's transactions.
package chain

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cypherpunk-tipjar/tipjar/offchain/helius"
	"github.com/cypherpunk-tipjar/tipjar/offchain/solana"
	"github.com/cypherpunk-tipjar/tipjar/offchain/solanafees"
	"github.com/cypherpunk-tipjar/tipjar/offchain/solanarpc"
)

var ErrSignerNotInitialized = errors.New("signer not initialized")

type RPC interface {
	LatestBlockhash(ctx context.Context) ([32]byte, error)
	SendTransaction(ctx context.Context, tx []byte, skipPreflight bool) (string, error)
	ConfirmSignature(ctx context.Context, signature string) error
	AccountInfo(ctx context.Context, pubkey solana.Pubkey) (*solanarpc.Account, error)
}

type FeeEstimator interface {
	PriorityFeeEstimate(ctx context.Context, accountKeys []solana.Pubkey, opts *helius.PriorityFeeOptions) (helius.PriorityFeeEstimate, error)
}

type Config struct {
	ComputeUnitLimit uint32
	PriorityLevel    helius.PriorityLevel
	ConfirmTimeout   time.Duration
}

type Sender struct {
	rpc   RPC
	fees  FeeEstimator
	key   ed25519.PrivateKey
	payer solana.Pubkey
	cfg   Config
	log   logrus.FieldLogger
}

// NewSender wraps rpc with the relayer key. A nil key yields a sender whose
// writes fail with ErrSignerNotInitialized; fees may be nil.
func NewSender(rpc RPC, key ed25519.PrivateKey, fees FeeEstimator, cfg Config, log logrus.FieldLogger) *Sender {
	s := &Sender{rpc: rpc, fees: fees, cfg: cfg, log: log}
	if len(key) == ed25519.PrivateKeySize {
		s.key = key
		copy(s.payer[:], key.Public().(ed25519.PublicKey))
	}
	if s.cfg.ConfirmTimeout <= 0 {
		s.cfg.ConfirmTimeout = 60 * time.Second
	}
	return s
}

func (s *Sender) RPC() RPC { return s.rpc }

func (s *Sender) Payer() (solana.Pubkey, error) {
	if s.key == nil {
		return solana.Pubkey{}, ErrSignerNotInitialized
	}
	return s.payer, nil
}

// Send prepends compute-budget instructions, signs with the relayer key, and
// submits without waiting for confirmation.
func (s *Sender) Send(ctx context.Context, ixs ...solana.Instruction) (string, error) {
	payer, err := s.Payer()
	if err != nil {
		return "", err
	}
	if len(ixs) == 0 {
		return "", errors.New("no instructions")
	}

	all := make([]solana.Instruction, 0, len(ixs)+2)
	if s.cfg.ComputeUnitLimit > 0 {
		all = append(all, solana.ComputeBudgetSetComputeUnitLimit(s.cfg.ComputeUnitLimit))
	}
	price := s.priorityFee(ctx, ixs)
	if price > 0 {
		all = append(all, solana.ComputeBudgetSetComputeUnitPrice(price))
	}
	all = append(all, ixs...)

	if fee, err := solanafees.Estimate(1, solanafees.ComputeBudget{UnitLimit: s.cfg.ComputeUnitLimit, UnitPrice: price}); err == nil {
		s.log.WithFields(logrus.Fields{
			"feeLamports": fee.Total,
			"fee":         fee.String(),
		}).Debug("transaction fee estimate")
	}

	blockhash, err := s.rpc.LatestBlockhash(ctx)
	if err != nil {
		return "", fmt.Errorf("latest blockhash: %w", err)
	}
	tx, err := solana.BuildAndSignLegacyTransaction(blockhash, payer, map[solana.Pubkey]ed25519.PrivateKey{payer: s.key}, all)
	if err != nil {
		return "", fmt.Errorf("build transaction: %w", err)
	}
	local, err := solana.TransactionSignature(tx)
	if err != nil {
		return "", fmt.Errorf("build transaction: %w", err)
	}
	sig, err := s.rpc.SendTransaction(ctx, tx, false)
	if err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}
	switch want := local.Base58(); {
	case sig == "":
		sig = want
	case sig != want:
		s.log.WithFields(logrus.Fields{"rpcSig": sig, "localSig": want}).Warn("rpc returned an unexpected signature")
	}
	return sig, nil
}

func (s *Sender) SendAndConfirm(ctx context.Context, ixs ...solana.Instruction) (string, error) {
	sig, err := s.Send(ctx, ixs...)
	if err != nil {
		return "", err
	}
	cctx, cancel := context.WithTimeout(ctx, s.cfg.ConfirmTimeout)
	defer cancel()
	if err := s.rpc.ConfirmSignature(cctx, sig); err != nil {
		return sig, err
	}
	return sig, nil
}

// priorityFee returns 0 when no estimator is configured or estimation fails.
func (s *Sender) priorityFee(ctx context.Context, ixs []solana.Instruction) uint64 {
	if s.fees == nil {
		return 0
	}
	seen := map[solana.Pubkey]bool{}
	var writable []solana.Pubkey
	for _, ix := range ixs {
		for _, am := range ix.Accounts {
			if am.IsWritable && !seen[am.Pubkey] {
				seen[am.Pubkey] = true
				writable = append(writable, am.Pubkey)
			}
		}
	}
	if len(writable) == 0 {
		return 0
	}
	est, err := s.fees.PriorityFeeEstimate(ctx, writable, &helius.PriorityFeeOptions{PriorityLevel: s.cfg.PriorityLevel})
	if err != nil {
		s.log.WithError(err).Warn("priority fee estimate failed; sending without priority fee")
		return 0
	}
	return est.MicroLamports
}
