// Package ledger confirms that a donation transaction paid the tip jar.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cypherpunk-tipjar/tipjar/internal/metrics"
	"github.com/cypherpunk-tipjar/tipjar/offchain/solana"
	"github.com/cypherpunk-tipjar/tipjar/offchain/solanarpc"
)

var (
	ErrNotFound          = errors.New("transaction not found")
	ErrTransactionFailed = errors.New("transaction failed on chain")
	ErrReferenceMissing  = errors.New("reference key not present in transaction")
	ErrInvalidReference  = errors.New("invalid reference key")
	ErrMalformed         = errors.New("malformed transaction")
)

// InsufficientAmountError reports a donation below the tolerated minimum.
type InsufficientAmountError struct {
	Expected          uint64
	MinimumAcceptable uint64
	Paid              uint64
}

func (e *InsufficientAmountError) Error() string {
	return fmt.Sprintf("donation amount too small: expected at least %d lamports, got %d lamports", e.Expected, e.Paid)
}

// TransactionSource is the slice of the RPC client the verifier reads from.
type TransactionSource interface {
	Transaction(ctx context.Context, signature string) (*solanarpc.Transaction, error)
	AddressLookupTable(ctx context.Context, table solana.Pubkey) (solana.AddressLookupTable, error)
}

type Config struct {
	DonationAddress solana.Pubkey
	// RequireReference rejects transactions that do not carry the request's
	// reference key among their accounts.
	RequireReference bool
}

type Verifier struct {
	src TransactionSource
	cfg Config
	log logrus.FieldLogger
}

func New(src TransactionSource, cfg Config, log logrus.FieldLogger) *Verifier {
	return &Verifier{src: src, cfg: cfg, log: log}
}

type VerifiedPayment struct {
	TxSig          string
	AmountLamports uint64
	Slot           uint64
	BlockTime      time.Time
}

// Tolerance is the 1% rounding allowance (floored) on a requested minimum.
func Tolerance(minimum uint64) uint64 {
	return minimum / 100
}

// Verify sums System Program transfers to the donation address in txSig and
// checks the total against minimum less Tolerance.
func (v *Verifier) Verify(ctx context.Context, txSig string, minimum uint64, reference string) (VerifiedPayment, error) {
	start := time.Now()
	defer func() { metrics.LedgerVerifyDuration.Observe(time.Since(start).Seconds()) }()

	txSig = strings.TrimSpace(txSig)
	log := v.log.WithField("txSig", txSig)

	var refKey solana.Pubkey
	if v.cfg.RequireReference {
		if strings.TrimSpace(reference) == "" {
			return VerifiedPayment{}, fmt.Errorf("%w: request has no reference", ErrReferenceMissing)
		}
		pk, err := solana.ParsePubkey(reference)
		if err != nil {
			return VerifiedPayment{}, fmt.Errorf("%w: %v", ErrInvalidReference, err)
		}
		refKey = pk
	}

	tx, err := v.src.Transaction(ctx, txSig)
	if err != nil {
		return VerifiedPayment{}, fmt.Errorf("fetch transaction: %w", err)
	}
	if tx == nil {
		return VerifiedPayment{}, ErrNotFound
	}
	if tx.Meta.Failed() {
		return VerifiedPayment{}, fmt.Errorf("%w: %s", ErrTransactionFailed, string(tx.Meta.Err))
	}

	msg, err := solana.ParseTransaction(tx.Raw)
	if err != nil {
		return VerifiedPayment{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	keys, err := v.accountKeys(ctx, log, msg, tx.Meta)
	if err != nil {
		return VerifiedPayment{}, err
	}

	if v.cfg.RequireReference && !containsKey(keys, refKey) {
		return VerifiedPayment{}, ErrReferenceMissing
	}

	var paid uint64
	for i, ix := range msg.Instructions {
		if ix.ProgramID != solana.SystemProgramID {
			continue
		}
		lamports, err := solana.DecodeSystemTransfer(ix.Data)
		if err != nil {
			log.WithError(err).WithField("instruction", i).Debug("skipping undecodable system instruction")
			continue
		}
		if len(ix.Accounts) < 2 || int(ix.Accounts[1]) >= len(keys) {
			log.WithField("instruction", i).Debug("skipping transfer with unresolvable accounts")
			continue
		}
		if keys[ix.Accounts[1]] != v.cfg.DonationAddress {
			continue
		}
		if paid+lamports < paid {
			return VerifiedPayment{}, fmt.Errorf("%w: transfer total overflows", ErrMalformed)
		}
		paid += lamports
	}

	tol := Tolerance(minimum)
	acceptable := minimum - tol
	if paid < acceptable {
		return VerifiedPayment{}, &InsufficientAmountError{Expected: minimum, MinimumAcceptable: acceptable, Paid: paid}
	}

	out := VerifiedPayment{TxSig: txSig, AmountLamports: paid, Slot: tx.Slot}
	if tx.BlockTime != nil {
		out.BlockTime = time.Unix(*tx.BlockTime, 0).UTC()
	}
	log.WithFields(logrus.Fields{
		"paidLamports":     paid,
		"expectedLamports": minimum,
		"slot":             tx.Slot,
	}).Info("donation verified on ledger")
	return out, nil
}

// accountKeys returns the key list instruction indexes refer to. v0 messages
// append loaded addresses; the node normally reports them in meta, otherwise
// the lookup tables are fetched.
func (v *Verifier) accountKeys(ctx context.Context, log logrus.FieldLogger, msg solana.ParsedMessage, meta *solanarpc.TransactionMeta) ([]solana.Pubkey, error) {
	if msg.Version == solana.LegacyMessage || len(msg.Lookups) == 0 {
		return msg.AccountKeys, nil
	}
	if meta != nil && meta.LoadedAddresses != nil {
		return msg.ResolveAccountKeys(meta.LoadedAddresses.Writable, meta.LoadedAddresses.Readonly), nil
	}

	tables := make(map[solana.Pubkey]solana.AddressLookupTable, len(msg.Lookups))
	for _, lk := range msg.Lookups {
		if _, ok := tables[lk.AccountKey]; ok {
			continue
		}
		tbl, err := v.src.AddressLookupTable(ctx, lk.AccountKey)
		if err != nil {
			return nil, fmt.Errorf("resolve lookup table %s: %w", lk.AccountKey, err)
		}
		if !tbl.Active() {
			log.WithField("table", lk.AccountKey.Base58()).Debug("lookup table is deactivated; resolving with its current contents")
		}
		tables[lk.AccountKey] = tbl
	}
	w, r, err := msg.LoadedAddresses(tables)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return msg.ResolveAccountKeys(w, r), nil
}

func containsKey(keys []solana.Pubkey, k solana.Pubkey) bool {
	for _, key := range keys {
		if key == k {
			return true
		}
	}
	return false
}
