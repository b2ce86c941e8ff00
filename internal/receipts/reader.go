package receipts

import (
	"context"
	"fmt"

	"github.com/cypherpunk-tipjar/tipjar/internal/commitment"
	"github.com/cypherpunk-tipjar/tipjar/offchain/solana"
	"github.com/cypherpunk-tipjar/tipjar/offchain/solanarpc"
)

type AccountReader interface {
	AccountInfo(ctx context.Context, pubkey solana.Pubkey) (*solanarpc.Account, error)
}

type Reader struct {
	rpc     AccountReader
	program solana.Pubkey
}

func NewReader(rpc AccountReader, program solana.Pubkey) *Reader {
	return &Reader{rpc: rpc, program: program}
}

// Lookup returns the receipt stored for c, or nil when none exists.
func (r *Reader) Lookup(ctx context.Context, c commitment.Commitment) (*Receipt, error) {
	raw, err := c.Bytes()
	if err != nil {
		return nil, err
	}
	addr, err := ReceiptAddress(r.program, raw)
	if err != nil {
		return nil, err
	}
	acct, err := r.rpc.AccountInfo(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("fetch receipt %s: %w", addr, err)
	}
	if acct == nil || len(acct.Data) == 0 {
		return nil, nil
	}
	if !acct.Owner.IsZero() && acct.Owner != r.program {
		return nil, fmt.Errorf("%w: owned by %s", ErrInvalidReceipt, acct.Owner)
	}
	rec, err := DecodeReceipt(acct.Data)
	if err != nil {
		return nil, err
	}
	if rec.Commitment != raw {
		return nil, fmt.Errorf("%w: commitment mismatch", ErrInvalidReceipt)
	}
	rec.Address = addr
	return &rec, nil
}
