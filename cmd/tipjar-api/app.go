package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/cypherpunk-tipjar/tipjar/internal/chain"
	"github.com/cypherpunk-tipjar/tipjar/internal/commitment"
	"github.com/cypherpunk-tipjar/tipjar/internal/config"
	"github.com/cypherpunk-tipjar/tipjar/internal/donation"
	"github.com/cypherpunk-tipjar/tipjar/internal/idempotency"
	"github.com/cypherpunk-tipjar/tipjar/internal/ledger"
	"github.com/cypherpunk-tipjar/tipjar/internal/mpc"
	"github.com/cypherpunk-tipjar/tipjar/internal/receipts"
	"github.com/cypherpunk-tipjar/tipjar/offchain/arcium"
	"github.com/cypherpunk-tipjar/tipjar/offchain/helius"
	"github.com/cypherpunk-tipjar/tipjar/offchain/solana"
	"github.com/cypherpunk-tipjar/tipjar/offchain/solanafees"
	"github.com/cypherpunk-tipjar/tipjar/offchain/solanarpc"
)

// app holds the process-wide collaborators built from one Config.
type app struct {
	svc     *donation.Service
	closers []func() error
}

func newApp(ctx context.Context, cfg config.Config, log *logrus.Logger) (*app, error) {
	httpClient := &http.Client{Timeout: cfg.RPCTimeout}
	rpc := solanarpc.New(cfg.RPCURL, httpClient)

	var key ed25519.PrivateKey
	if cfg.SignerKeypairPath != "" {
		k, pub, err := solana.LoadKeypair(cfg.SignerKeypairPath)
		if err != nil {
			log.WithError(err).WithField("path", cfg.SignerKeypairPath).
				Warn("signer keypair not loaded; receipts and private submissions will fall back")
		} else {
			key = k
			log.WithField("signer", pub.Base58()).Info("signer keypair loaded")
			bctx, cancel := context.WithTimeout(ctx, cfg.RPCTimeout)
			if _, err := signerRunway(bctx, rpc, pub, cfg, log); err != nil {
				log.WithError(err).Warn("signer balance check failed")
			}
			cancel()
		}
	}

	var fees chain.FeeEstimator
	if cfg.PriorityFeeURL != "" {
		hc := helius.NewClient(cfg.PriorityFeeURL, httpClient)
		hc.MaxMicroLamports = cfg.MaxPriorityFee
		fees = hc
	}
	sender := chain.NewSender(rpc, key, fees, chain.Config{
		ComputeUnitLimit: cfg.ComputeUnitLimit,
		PriorityLevel:    cfg.PriorityLevel,
		ConfirmTimeout:   cfg.ConfirmTimeout,
	}, log.WithField("component", "chain"))

	accounts, err := arcium.DeriveAccounts(cfg.Arcium)
	if err != nil {
		return nil, fmt.Errorf("derive arcium accounts: %w", err)
	}

	a := &app{}
	var store idempotency.Store = idempotency.NewMemoryStore(cfg.ResultTTL, cfg.ClaimTTL)
	if cfg.RedisURL != "" {
		client, err := idempotency.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		store = idempotency.NewRedisStore(client, "tipjar:", cfg.ResultTTL, cfg.ClaimTTL)
	}

	a.svc = donation.New(donation.Deps{
		Ledger: ledger.New(rpc, ledger.Config{
			DonationAddress:  cfg.DonationAddress,
			RequireReference: cfg.RequireReference,
		}, log.WithField("component", "ledger")),
		MPC: mpc.NewSubmitter(accounts, rpc, sender, mpc.Config{
			Tiers:  cfg.Tiers,
			Secret: cfg.CommitmentSecret,
		}, log.WithField("component", "mpc")),
		Receipts:      receipts.NewWriter(sender, cfg.TipjarProgramID, log.WithField("component", "receipts")),
		ReceiptLookup: receipts.NewReader(rpc, cfg.TipjarProgramID),
		Store:         store,
	}, donation.Config{
		Tiers:         cfg.Tiers,
		Secret:        cfg.CommitmentSecret,
		DedupeByTxSig: cfg.DedupeByTxSig,
	}, log.WithField("component", "donation"))

	if cfg.DonationAddress.IsZero() {
		log.Warn("DONATION_SOL_ADDRESS is not set; every verification will fail the amount check")
	}
	return a, nil
}

// lowRunway is the number of relayer transactions below which the signer
// balance is reported as low.
const lowRunway = 100

type balanceSource interface {
	BalanceLamports(ctx context.Context, pubkey solana.Pubkey) (uint64, error)
}

// signerRunway reports how many relayer transactions the signer balance pays
// for at the configured compute budget, without priority fees.
func signerRunway(ctx context.Context, rpc balanceSource, signer solana.Pubkey, cfg config.Config, log logrus.FieldLogger) (uint64, error) {
	balance, err := rpc.BalanceLamports(ctx, signer)
	if err != nil {
		return 0, err
	}
	fee, err := solanafees.Estimate(1, solanafees.ComputeBudget{UnitLimit: cfg.ComputeUnitLimit})
	if err != nil {
		return 0, err
	}
	n := fee.Affordable(balance)
	entry := log.WithFields(logrus.Fields{
		"signer":          signer.Base58(),
		"balanceLamports": balance,
		"feeLamports":     fee.Total,
		"affordableTxs":   n,
	})
	if n < lowRunway {
		entry.Warn("signer balance is low; receipts and private submissions may start failing")
	} else {
		entry.Info("signer balance")
	}
	return n, nil
}

func (a *app) Close() {
	for _, c := range a.closers {
		_ = c()
	}
}

type accountsOutput struct {
	RPCURL          string `json:"rpcUrl"`
	ArciumAPIKey    string `json:"arciumApiKey"`
	DonationAddress string `json:"donationAddress,omitempty"`
	TipjarProgram   string `json:"tipjarProgram"`
	MXEProgram      string `json:"mxeProgram"`
	ArciumProgram   string `json:"arciumProgram"`
	MXEAccount      string `json:"mxeAccount"`
	Mempool         string `json:"mempool"`
	ExecutingPool   string `json:"executingPool"`
	CompDef         string `json:"compDef"`
	CompDefName     string `json:"compDefName"`
	CompDefOffset   uint32 `json:"compDefOffset"`
	Cluster         string `json:"cluster"`
	ClusterOffset   uint32 `json:"clusterOffset"`
	FeePool         string `json:"feePool"`
	Clock           string `json:"clock"`
	SignPDA         string `json:"signPda"`
	Receipt         string `json:"receipt,omitempty"`
}

func accountsReport(cfg config.Config, commitmentHex string) (accountsOutput, error) {
	acc, err := arcium.DeriveAccounts(cfg.Arcium)
	if err != nil {
		return accountsOutput{}, err
	}
	out := accountsOutput{
		RPCURL:        redactURL(cfg.RPCURL),
		ArciumAPIKey:  "unset",
		TipjarProgram: cfg.TipjarProgramID.Base58(),
		MXEProgram:    acc.MXEProgram.Base58(),
		ArciumProgram: acc.ArciumProgram.Base58(),
		MXEAccount:    acc.MXEAccount.Base58(),
		Mempool:       acc.Mempool.Base58(),
		ExecutingPool: acc.ExecutingPool.Base58(),
		CompDef:       acc.CompDef.Base58(),
		CompDefName:   acc.CompDefName,
		CompDefOffset: acc.CompDefOffset,
		Cluster:       acc.Cluster.Base58(),
		ClusterOffset: acc.ClusterOffset,
		FeePool:       acc.FeePool.Base58(),
		Clock:         acc.Clock.Base58(),
		SignPDA:       acc.SignPDA.Base58(),
	}
	if cfg.ArciumAPIKey != "" {
		out.ArciumAPIKey = "configured"
	}
	if !cfg.DonationAddress.IsZero() {
		out.DonationAddress = cfg.DonationAddress.Base58()
	}
	if commitmentHex != "" {
		c, err := commitment.Parse(commitmentHex)
		if err != nil {
			return accountsOutput{}, err
		}
		raw, err := c.Bytes()
		if err != nil {
			return accountsOutput{}, err
		}
		addr, err := receipts.ReceiptAddress(cfg.TipjarProgramID, raw)
		if err != nil {
			return accountsOutput{}, err
		}
		out.Receipt = addr.Base58()
	}
	return out, nil
}
