// Package donation runs the verification pipeline: ledger check, private or
// public tiering, commitment, and the best-effort on-chain receipt.
package donation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cypherpunk-tipjar/tipjar/internal/commitment"
	"github.com/cypherpunk-tipjar/tipjar/internal/idempotency"
	"github.com/cypherpunk-tipjar/tipjar/internal/ledger"
	"github.com/cypherpunk-tipjar/tipjar/internal/metrics"
	"github.com/cypherpunk-tipjar/tipjar/internal/mpc"
	"github.com/cypherpunk-tipjar/tipjar/internal/receipts"
	"github.com/cypherpunk-tipjar/tipjar/internal/tiers"
)

type State string

const (
	StateReceived         State = "received"
	StateLedgerVerified   State = "ledger_verified"
	StatePrivateComputing State = "private_computing"
	StateLocalTiering     State = "local_tiering"
	StateCommitted        State = "committed"
	StateReceiptWritten   State = "receipt_written"
	StateReceiptSkipped   State = "receipt_skipped"
	StateResponded        State = "responded"
)

type LedgerVerifier interface {
	Verify(ctx context.Context, txSig string, minimum uint64, reference string) (ledger.VerifiedPayment, error)
}

type PrivateSubmitter interface {
	Submit(ctx context.Context, amount uint64, txSig string) mpc.Handle
	InitCompDef(ctx context.Context) (mpc.InitResult, error)
}

type ReceiptWriter interface {
	Write(ctx context.Context, c commitment.Commitment, tier tiers.Tier) (string, error)
}

type ReceiptLookup interface {
	Lookup(ctx context.Context, c commitment.Commitment) (*receipts.Receipt, error)
}

// Deps are the collaborators of a Service. Receipts and ReceiptLookup may be
// nil; Store defaults to an in-memory store.
type Deps struct {
	Ledger        LedgerVerifier
	MPC           PrivateSubmitter
	Receipts      ReceiptWriter
	ReceiptLookup ReceiptLookup
	Store         idempotency.Store
}

type Config struct {
	Tiers  tiers.Thresholds
	Secret string
	// DedupeByTxSig replays completed results for a repeated signature and
	// rejects concurrent duplicates.
	DedupeByTxSig bool
}

type Request struct {
	TxSig       string
	Reference   string
	MinLamports uint64
	IsPrivate   bool
}

type Result struct {
	TxSig             string             `json:"txSig"`
	Reference         string             `json:"reference,omitempty"`
	Commitment        string             `json:"commitment"`
	Variant           commitment.Variant `json:"variant"`
	Tier              tiers.Tier         `json:"tier"`
	IsPrivate         bool               `json:"isPrivate"`
	PaidLamports      uint64             `json:"paidLamports"`
	ComputationOffset string             `json:"computationOffset,omitempty"`
	Fallback          bool               `json:"fallback,omitempty"`
	MPCTx             string             `json:"mpcTx,omitempty"`
	ReceiptTx         string             `json:"receiptTx,omitempty"`
	VerifiedAt        time.Time          `json:"verifiedAt"`

	// Replayed is set when the result came from the store instead of a fresh run.
	Replayed bool `json:"-"`
}

type Service struct {
	deps Deps
	cfg  Config
	log  logrus.FieldLogger
	now  func() time.Time
}

func New(deps Deps, cfg Config, log logrus.FieldLogger) *Service {
	if deps.Store == nil {
		deps.Store = idempotency.NewMemoryStore(idempotency.DefaultTTL, idempotency.DefaultClaimTTL)
	}
	if cfg.Secret == "" {
		cfg.Secret = commitment.DefaultSecret
	}
	return &Service{deps: deps, cfg: cfg, log: log, now: time.Now}
}

func txKey(sig string) string       { return "tx:" + sig }
func commitmentKey(c string) string { return "commitment:" + c }

func pathLabel(private bool) string {
	if private {
		return "private"
	}
	return "public"
}

func (s *Service) Verify(ctx context.Context, req Request) (Result, error) {
	req.TxSig = strings.TrimSpace(req.TxSig)
	req.Reference = strings.TrimSpace(req.Reference)
	path := pathLabel(req.IsPrivate)
	if req.TxSig == "" {
		metrics.VerifyRequests.WithLabelValues(string(KindValidation), path).Inc()
		return Result{}, &Error{Kind: KindValidation, Err: errors.New("txSig is required")}
	}

	log := s.log.WithFields(logrus.Fields{
		"txSig":       req.TxSig,
		"reference":   req.Reference,
		"minLamports": req.MinLamports,
		"isPrivate":   req.IsPrivate,
	})
	transition(log, StateReceived)

	if s.cfg.DedupeByTxSig {
		rec, claimed, err := s.deps.Store.Begin(ctx, txKey(req.TxSig))
		if err != nil {
			metrics.VerifyRequests.WithLabelValues(string(KindInternal), path).Inc()
			return Result{}, &Error{Kind: KindInternal, Err: fmt.Errorf("claim tx signature: %w", err)}
		}
		if !claimed {
			if rec.State == idempotency.StateComplete {
				res, err := decodeResult(rec)
				if err != nil {
					return Result{}, &Error{Kind: KindInternal, Err: err}
				}
				res.Replayed = true
				metrics.VerifyRequests.WithLabelValues("replayed", path).Inc()
				log.WithField("commitment", res.Commitment).Info("replaying stored donation result")
				return res, nil
			}
			metrics.VerifyRequests.WithLabelValues(string(KindConflict), path).Inc()
			return Result{}, &Error{Kind: KindConflict, Err: ErrInFlight}
		}
	}

	res, err := s.process(ctx, req, log)
	if err != nil {
		if s.cfg.DedupeByTxSig {
			if rerr := s.deps.Store.Release(context.WithoutCancel(ctx), txKey(req.TxSig)); rerr != nil {
				log.WithError(rerr).Warn("failed to release tx signature claim")
			}
		}
		metrics.VerifyRequests.WithLabelValues(string(KindOf(err)), path).Inc()
		log.WithError(err).WithField("kind", KindOf(err)).Warn("donation verification failed")
		return Result{}, err
	}

	s.record(context.WithoutCancel(ctx), res, log)
	metrics.VerifyRequests.WithLabelValues("verified", path).Inc()
	transition(log, StateResponded)
	return res, nil
}

func (s *Service) process(ctx context.Context, req Request, log logrus.FieldLogger) (Result, error) {
	payment, err := s.deps.Ledger.Verify(ctx, req.TxSig, req.MinLamports, req.Reference)
	if err != nil {
		return Result{}, classifyLedgerError(err)
	}
	transition(log, StateLedgerVerified)

	// The tier follows the requested minimum, not the paid total.
	tier := tiers.Classify(req.MinLamports, s.cfg.Tiers)
	res := Result{
		TxSig:        req.TxSig,
		Reference:    req.Reference,
		Tier:         tier,
		IsPrivate:    req.IsPrivate,
		PaidLamports: payment.AmountLamports,
		VerifiedAt:   s.now().UTC(),
	}

	var c commitment.Commitment
	if req.IsPrivate && s.deps.MPC != nil {
		transition(log, StatePrivateComputing)
		h := s.deps.MPC.Submit(ctx, req.MinLamports, req.TxSig)
		c = h.Commitment
		res.ComputationOffset = h.ComputationOffset
		res.Fallback = h.Fallback
		res.MPCTx = h.Tx
		log.WithFields(logrus.Fields{
			"computationOffset": h.ComputationOffset,
			"fallback":          h.Fallback,
			"tier":              tier,
		}).Info("private computation handled")
	} else {
		transition(log, StateLocalTiering)
		if req.IsPrivate {
			res.Fallback = true
			res.ComputationOffset = mpc.FallbackOffset
		}
		c = commitment.Local(req.TxSig, tier, s.cfg.Secret)
	}
	res.Commitment = c.Hex
	res.Variant = c.Variant
	transition(log.WithField("commitment", c.Hex), StateCommitted)

	res.ReceiptTx = s.writeReceipt(ctx, c, tier, log)
	return res, nil
}

// writeReceipt never fails the request; it returns "" when no receipt was written.
func (s *Service) writeReceipt(ctx context.Context, c commitment.Commitment, tier tiers.Tier, log logrus.FieldLogger) string {
	log = log.WithFields(logrus.Fields{"commitment": c.Hex, "tier": tier})
	if s.deps.Receipts == nil {
		metrics.ReceiptWrites.WithLabelValues("disabled").Inc()
		transition(log, StateReceiptSkipped)
		return ""
	}
	sig, err := s.deps.Receipts.Write(ctx, c, tier)
	if err != nil {
		metrics.ReceiptWrites.WithLabelValues("failed").Inc()
		log.WithError(err).Error("failed to write receipt on chain")
		transition(log, StateReceiptSkipped)
		return ""
	}
	metrics.ReceiptWrites.WithLabelValues("written").Inc()
	transition(log.WithField("receiptTx", sig), StateReceiptWritten)
	return sig
}

func (s *Service) record(ctx context.Context, res Result, log logrus.FieldLogger) {
	payload, err := json.Marshal(res)
	if err != nil {
		log.WithError(err).Error("encode donation result")
		return
	}
	for _, key := range []string{txKey(res.TxSig), commitmentKey(res.Commitment)} {
		if err := s.deps.Store.Complete(ctx, idempotency.Record{Key: key, Result: payload}); err != nil {
			log.WithError(err).WithField("key", key).Warn("failed to store donation result")
		}
	}
}

func decodeResult(rec idempotency.Record) (Result, error) {
	var res Result
	if err := json.Unmarshal(rec.Result, &res); err != nil {
		return Result{}, fmt.Errorf("decode stored result %s: %w", rec.Key, err)
	}
	return res, nil
}

func transition(log logrus.FieldLogger, st State) {
	log.WithField("state", st).Debug("donation state")
}

func (s *Service) InitCompDef(ctx context.Context) (mpc.InitResult, error) {
	if s.deps.MPC == nil {
		return mpc.InitResult{}, errors.New("private computation is not configured")
	}
	return s.deps.MPC.InitCompDef(ctx)
}
