// Package mpc queues encrypted donation amounts on the Arcium network.
package mpc

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/cypherpunk-tipjar/tipjar/internal/commitment"
	"github.com/cypherpunk-tipjar/tipjar/internal/metrics"
	"github.com/cypherpunk-tipjar/tipjar/internal/tiers"
	"github.com/cypherpunk-tipjar/tipjar/offchain/arcium"
	"github.com/cypherpunk-tipjar/tipjar/offchain/solana"
	"github.com/cypherpunk-tipjar/tipjar/offchain/solanarpc"
)

var (
	ErrCompDefNotInitialized = errors.New("computation definition not initialized")
	ErrMXEAccountMissing     = errors.New("mxe account not found")
)

// FallbackOffset marks a handle produced without reaching the network.
const FallbackOffset = "0"

type AccountReader interface {
	AccountInfo(ctx context.Context, pubkey solana.Pubkey) (*solanarpc.Account, error)
}

type Chain interface {
	Payer() (solana.Pubkey, error)
	SendAndConfirm(ctx context.Context, ixs ...solana.Instruction) (string, error)
}

type Config struct {
	Tiers  tiers.Thresholds
	Secret string
}

type Handle struct {
	ComputationOffset string
	Commitment        commitment.Commitment
	Fallback          bool
	Tx                string
	// Err is why the network path was abandoned; nil unless Fallback.
	Err error
}

type Submitter struct {
	accounts arcium.Accounts
	rpc      AccountReader
	chain    Chain
	cfg      Config
	rand     io.Reader
	log      logrus.FieldLogger
}

func NewSubmitter(accounts arcium.Accounts, rpc AccountReader, chain Chain, cfg Config, log logrus.FieldLogger) *Submitter {
	return &Submitter{
		accounts: accounts,
		rpc:      rpc,
		chain:    chain,
		cfg:      cfg,
		rand:     rand.Reader,
		log:      log,
	}
}

func (s *Submitter) Accounts() arcium.Accounts { return s.accounts }

// Submit queues amount for private tiering. It never fails: any error yields
// a fallback handle with offset "0" and a locally derived commitment.
func (s *Submitter) Submit(ctx context.Context, amount uint64, txSig string) Handle {
	log := s.log.WithField("txSig", txSig)

	h, err := s.submit(ctx, amount, txSig, log)
	if err == nil {
		metrics.MPCSubmissions.WithLabelValues("queued").Inc()
		return h
	}

	metrics.MPCSubmissions.WithLabelValues("fallback").Inc()
	log.WithError(err).Warn("mpc submission failed; falling back to local tier computation")
	tier := tiers.Classify(amount, s.cfg.Tiers)
	return Handle{
		ComputationOffset: FallbackOffset,
		Commitment:        commitment.Local(txSig, tier, s.cfg.Secret),
		Fallback:          true,
		Err:               err,
	}
}

func (s *Submitter) submit(ctx context.Context, amount uint64, txSig string, log logrus.FieldLogger) (Handle, error) {
	payer, err := s.chain.Payer()
	if err != nil {
		return Handle{}, err
	}

	mxeAcct, err := s.rpc.AccountInfo(ctx, s.accounts.MXEAccount)
	if err != nil {
		return Handle{}, fmt.Errorf("fetch mxe account: %w", err)
	}
	if mxeAcct == nil {
		return Handle{}, fmt.Errorf("%w: %s", ErrMXEAccountMissing, s.accounts.MXEAccount)
	}
	mxeKey, err := arcium.MXEPublicKey(mxeAcct.Data)
	if err != nil {
		return Handle{}, err
	}

	initialized, err := s.compDefInitialized(ctx)
	if err != nil {
		return Handle{}, err
	}
	if !initialized {
		return Handle{}, fmt.Errorf("%w at %s; run init-comp-def first", ErrCompDefNotInitialized, s.accounts.CompDef)
	}

	eph, err := arcium.NewEphemeral(s.rand)
	if err != nil {
		return Handle{}, err
	}
	shared, err := eph.SharedSecret(mxeKey)
	if err != nil {
		return Handle{}, err
	}
	nonce, err := arcium.RandomNonce(s.rand)
	if err != nil {
		return Handle{}, err
	}
	ct, err := arcium.NewCipher(shared).EncryptSingle(amount, nonce)
	if err != nil {
		return Handle{}, err
	}
	offset, err := arcium.RandomComputationOffset(s.rand)
	if err != nil {
		return Handle{}, err
	}

	ix, err := s.accounts.VerifyDonationInstruction(payer, arcium.VerifyDonationArgs{
		ComputationOffset: offset,
		Ciphertext:        ct,
		PublicKey:         eph.Public,
		Nonce:             nonce,
	})
	if err != nil {
		return Handle{}, err
	}

	log.WithFields(logrus.Fields{
		"computationOffset": offset,
		"compDef":           s.accounts.CompDef.Base58(),
		"cluster":           s.accounts.Cluster.Base58(),
		"mxeKey":            hex.EncodeToString(mxeKey[:]),
	}).Debug("queueing verify_donation computation")

	sig, err := s.chain.SendAndConfirm(ctx, ix)
	if err != nil {
		return Handle{}, fmt.Errorf("queue computation: %w", err)
	}

	log.WithFields(logrus.Fields{
		"computationOffset": offset,
		"tx":                sig,
	}).Info("mpc computation queued")

	return Handle{
		ComputationOffset: strconv.FormatUint(offset, 10),
		Commitment:        commitment.Network(txSig, offset),
		Tx:                sig,
	}, nil
}

func (s *Submitter) compDefInitialized(ctx context.Context) (bool, error) {
	acct, err := s.rpc.AccountInfo(ctx, s.accounts.CompDef)
	if err != nil {
		return false, fmt.Errorf("fetch comp def account: %w", err)
	}
	return acct != nil && len(acct.Data) > 0, nil
}

type InitResult struct {
	AlreadyInitialized bool
	Tx                 string
}

// InitCompDef creates the computation definition account once; later calls
// report AlreadyInitialized without sending anything.
func (s *Submitter) InitCompDef(ctx context.Context) (InitResult, error) {
	log := s.log.WithFields(logrus.Fields{
		"compDef":       s.accounts.CompDef.Base58(),
		"compDefOffset": s.accounts.CompDefOffset,
		"mxeProgram":    s.accounts.MXEProgram.Base58(),
	})

	initialized, err := s.compDefInitialized(ctx)
	if err != nil {
		return InitResult{}, err
	}
	if initialized {
		log.Info("computation definition already initialized")
		return InitResult{AlreadyInitialized: true}, nil
	}

	payer, err := s.chain.Payer()
	if err != nil {
		return InitResult{}, err
	}
	sig, err := s.chain.SendAndConfirm(ctx, s.accounts.InitCompDefInstruction(payer))
	if err != nil {
		return InitResult{}, fmt.Errorf("init computation definition: %w", err)
	}
	log.WithField("tx", sig).Info("computation definition initialized")
	return InitResult{Tx: sig}, nil
}
