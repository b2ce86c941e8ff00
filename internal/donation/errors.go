package donation

import (
	"context"
	"errors"
	"fmt"

	"github.com/cypherpunk-tipjar/tipjar/internal/ledger"
)

// Kind classifies pipeline failures for callers. Messages derived from a Kind
// are safe to show to clients; the wrapped error is for logs only.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindNotFound           Kind = "not_found"
	KindInsufficientAmount Kind = "insufficient_amount"
	KindTransactionFailed  Kind = "transaction_failed"
	KindReferenceMissing   Kind = "reference_missing"
	KindConflict           Kind = "conflict"
	KindUpstream           Kind = "upstream"
	KindInternal           Kind = "internal"
)

var ErrInFlight = errors.New("donation already being processed")

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Message is the client-facing text for the error.
func (e *Error) Message() string {
	switch e.Kind {
	case KindValidation:
		if e.Err != nil {
			return e.Err.Error()
		}
		return "Invalid request"
	case KindNotFound:
		return "Transaction not found"
	case KindInsufficientAmount:
		var ia *ledger.InsufficientAmountError
		if errors.As(e.Err, &ia) {
			return fmt.Sprintf("Donation amount too small. Expected at least %d lamports, got %d lamports", ia.Expected, ia.Paid)
		}
		return "Donation amount too small"
	case KindTransactionFailed:
		return "Transaction failed on chain"
	case KindReferenceMissing:
		return "Reference key not found in transaction"
	case KindConflict:
		return "Donation is already being processed"
	case KindUpstream:
		return "Ledger RPC unavailable, try again later"
	default:
		return "Internal error"
	}
}

// KindOf reports the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func classifyLedgerError(err error) *Error {
	var ia *ledger.InsufficientAmountError
	switch {
	case errors.As(err, &ia):
		return &Error{Kind: KindInsufficientAmount, Err: err}
	case errors.Is(err, ledger.ErrNotFound):
		return &Error{Kind: KindNotFound, Err: err}
	case errors.Is(err, ledger.ErrTransactionFailed):
		return &Error{Kind: KindTransactionFailed, Err: err}
	case errors.Is(err, ledger.ErrReferenceMissing):
		return &Error{Kind: KindReferenceMissing, Err: err}
	case errors.Is(err, ledger.ErrInvalidReference):
		return &Error{Kind: KindValidation, Err: errors.New("reference is not a valid public key")}
	case errors.Is(err, ledger.ErrMalformed):
		return &Error{Kind: KindInternal, Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindUpstream, Err: err}
	default:
		return &Error{Kind: KindUpstream, Err: err}
	}
}
