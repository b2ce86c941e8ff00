package solanarpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cypherpunk-tipjar/tipjar/offchain/solana"
)

var (
	ErrMissingRPCURL      = errors.New("missing rpc url")
	ErrRPCError           = errors.New("solana rpc error")
	ErrTransactionFailed  = errors.New("transaction failed on chain")
	ErrConfirmationFailed = errors.New("transaction not confirmed")
)

type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s: %d %s", ErrRPCError.Error(), e.Code, e.Message)
}

func (e *RPCError) Unwrap() error { return ErrRPCError }

type Client struct {
	rpcURL string
	http   *http.Client

	// PollInterval is the getSignatureStatuses cadence used by ConfirmSignature.
	PollInterval time.Duration
}

func New(rpcURL string, httpClient *http.Client) *Client {
	rpcURL = strings.TrimSpace(rpcURL)
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		rpcURL:       rpcURL,
		http:         httpClient,
		PollInterval: 500 * time.Millisecond,
	}
}

func (c *Client) URL() string { return c.rpcURL }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

func isRateLimitedRPCError(code int, message string) bool {
	if code == 429 || code == -32429 {
		return true
	}
	msg := strings.ToLower(strings.TrimSpace(message))
	return strings.Contains(msg, "rate") && strings.Contains(msg, "limit")
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 10 * time.Second
	maxAttempts    = 7
)

// rpcCall posts one JSON-RPC request. Rate limiting (HTTP 429 or a
// rate-limit RPC error) and undecodable bodies are retried with exponential
// backoff; every other failure is returned immediately.
func (c *Client) rpcCall(ctx context.Context, method string, params any, out any) error {
	if c == nil {
		return errors.New("nil rpc client")
	}
	if strings.TrimSpace(c.rpcURL) == "" {
		return ErrMissingRPCURL
	}

	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      "1",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	backoff := initialBackoff
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepWithContext(ctx, backoff); err != nil {
				return err
			}
			backoff = min(backoff*2, maxBackoff)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(reqBody))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("%w: http status=%d", ErrRPCError, resp.StatusCode)
			continue
		}

		var rr rpcResponse
		if err := json.Unmarshal(raw, &rr); err != nil {
			lastErr = fmt.Errorf("decode rpc response (%s): %w", method, err)
			continue
		}
		if rr.Error != nil {
			lastErr = &RPCError{Code: rr.Error.Code, Message: rr.Error.Message}
			if isRateLimitedRPCError(rr.Error.Code, rr.Error.Message) {
				continue
			}
			return lastErr
		}
		if out == nil {
			return nil
		}
		if len(rr.Result) == 0 {
			return fmt.Errorf("%w: empty result", ErrRPCError)
		}
		if err := json.Unmarshal(rr.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
		return nil
	}
	if lastErr != nil {
		return lastErr
	}
	return fmt.Errorf("%w: no response", ErrRPCError)
}

// Call issues an arbitrary JSON-RPC method with the client's retry policy.
// Provider extensions such as Helius fee estimates go through it.
func (c *Client) Call(ctx context.Context, method string, params any, out any) error {
	return c.rpcCall(ctx, method, params, out)
}

func (c *Client) LatestBlockhash(ctx context.Context) ([32]byte, error) {
	var out [32]byte
	var resp struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	// Finalized avoids "Blockhash not found" on load-balanced public RPCs.
	if err := c.rpcCall(ctx, "getLatestBlockhash", []any{map[string]any{"commitment": CommitmentFinalized}}, &resp); err != nil {
		return out, err
	}

	bh, err := solana.ParsePubkey(resp.Value.Blockhash)
	if err != nil {
		return out, fmt.Errorf("invalid blockhash: %w", err)
	}
	copy(out[:], bh[:])
	return out, nil
}

func (c *Client) SendTransaction(ctx context.Context, tx []byte, skipPreflight bool) (string, error) {
	if len(tx) == 0 {
		return "", errors.New("empty tx")
	}
	b64 := base64.StdEncoding.EncodeToString(tx)
	var resp string
	params := []any{
		b64,
		map[string]any{
			"encoding":            "base64",
			"skipPreflight":       skipPreflight,
			"preflightCommitment": CommitmentConfirmed,
		},
	}
	if err := c.rpcCall(ctx, "sendTransaction", params, &resp); err != nil {
		return "", err
	}
	return resp, nil
}

type Account struct {
	Lamports   uint64
	Owner      solana.Pubkey
	Executable bool
	Data       []byte
}

type accountJSON struct {
	Lamports   uint64   `json:"lamports"`
	Owner      string   `json:"owner"`
	Executable bool     `json:"executable"`
	Data       []string `json:"data"`
}

func (a accountJSON) decode() (*Account, error) {
	out := &Account{Lamports: a.Lamports, Executable: a.Executable}
	if strings.TrimSpace(a.Owner) != "" {
		owner, err := solana.ParsePubkey(a.Owner)
		if err != nil {
			return nil, fmt.Errorf("invalid account owner: %w", err)
		}
		out.Owner = owner
	}
	if len(a.Data) < 1 {
		return nil, errors.New("missing account data")
	}
	if len(a.Data) > 1 && a.Data[1] != "base64" {
		return nil, fmt.Errorf("unexpected account data encoding %q", a.Data[1])
	}
	b, err := base64.StdEncoding.DecodeString(a.Data[0])
	if err != nil {
		return nil, err
	}
	out.Data = b
	return out, nil
}

// AccountInfo returns the account at pubkey, or nil when it does not exist.
func (c *Client) AccountInfo(ctx context.Context, pubkey solana.Pubkey) (*Account, error) {
	var resp struct {
		Value *accountJSON `json:"value"`
	}
	params := []any{
		pubkey.Base58(),
		map[string]any{
			"encoding":   "base64",
			"commitment": CommitmentConfirmed,
		},
	}
	if err := c.rpcCall(ctx, "getAccountInfo", params, &resp); err != nil {
		return nil, err
	}
	if resp.Value == nil {
		return nil, nil
	}
	return resp.Value.decode()
}

func (c *Client) AddressLookupTable(ctx context.Context, table solana.Pubkey) (solana.AddressLookupTable, error) {
	acct, err := c.AccountInfo(ctx, table)
	if err != nil {
		return solana.AddressLookupTable{}, err
	}
	if acct == nil {
		return solana.AddressLookupTable{}, fmt.Errorf("address lookup table %s not found", table.Base58())
	}
	tbl, err := solana.DecodeAddressLookupTable(acct.Data)
	if err != nil {
		return solana.AddressLookupTable{}, fmt.Errorf("decode address lookup table %s: %w", table.Base58(), err)
	}
	return tbl, nil
}

func (c *Client) BalanceLamports(ctx context.Context, pubkey solana.Pubkey) (uint64, error) {
	var resp struct {
		Value uint64 `json:"value"`
	}
	if err := c.rpcCall(ctx, "getBalance", []any{pubkey.Base58(), map[string]any{"commitment": CommitmentConfirmed}}, &resp); err != nil {
		return 0, err
	}
	return resp.Value, nil
}

type LoadedAddresses struct {
	Writable []solana.Pubkey
	Readonly []solana.Pubkey
}

type TransactionMeta struct {
	// Err is the raw meta.err value; null for a successful transaction.
	Err             json.RawMessage
	Fee             uint64
	LoadedAddresses *LoadedAddresses
}

func (m *TransactionMeta) Failed() bool {
	if m == nil {
		return false
	}
	s := strings.TrimSpace(string(m.Err))
	return s != "" && s != "null"
}

type Transaction struct {
	Slot      uint64
	BlockTime *int64
	Raw       []byte
	Meta      *TransactionMeta
}

type transactionJSON struct {
	Slot        uint64   `json:"slot"`
	BlockTime   *int64   `json:"blockTime"`
	Transaction []string `json:"transaction"`
	Meta        *struct {
		Err             json.RawMessage `json:"err"`
		Fee             uint64          `json:"fee"`
		LoadedAddresses *struct {
			Writable []string `json:"writable"`
			Readonly []string `json:"readonly"`
		} `json:"loadedAddresses"`
	} `json:"meta"`
}

// Transaction fetches a confirmed transaction by signature. It returns nil
// when the node has no record of it.
func (c *Client) Transaction(ctx context.Context, signature string) (*Transaction, error) {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return nil, errors.New("signature required")
	}

	var resp *transactionJSON
	params := []any{
		signature,
		map[string]any{
			"encoding":                       "base64",
			"commitment":                     CommitmentConfirmed,
			"maxSupportedTransactionVersion": 0,
		},
	}
	if err := c.rpcCall(ctx, "getTransaction", params, &resp); err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, nil
	}
	if len(resp.Transaction) < 1 || strings.TrimSpace(resp.Transaction[0]) == "" {
		return nil, errors.New("missing transaction in getTransaction response")
	}
	raw, err := base64.StdEncoding.DecodeString(resp.Transaction[0])
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}

	out := &Transaction{Slot: resp.Slot, BlockTime: resp.BlockTime, Raw: raw}
	if resp.Meta != nil {
		out.Meta = &TransactionMeta{Err: resp.Meta.Err, Fee: resp.Meta.Fee}
		if la := resp.Meta.LoadedAddresses; la != nil {
			loaded := &LoadedAddresses{}
			if loaded.Writable, err = parsePubkeys(la.Writable); err != nil {
				return nil, fmt.Errorf("loaded writable addresses: %w", err)
			}
			if loaded.Readonly, err = parsePubkeys(la.Readonly); err != nil {
				return nil, fmt.Errorf("loaded readonly addresses: %w", err)
			}
			out.Meta.LoadedAddresses = loaded
		}
	}
	return out, nil
}

func parsePubkeys(in []string) ([]solana.Pubkey, error) {
	out := make([]solana.Pubkey, 0, len(in))
	for _, s := range in {
		pk, err := solana.ParsePubkey(s)
		if err != nil {
			return nil, err
		}
		out = append(out, pk)
	}
	return out, nil
}

type SignatureStatus struct {
	Slot               uint64          `json:"slot"`
	Confirmations      *uint64         `json:"confirmations"`
	Err                json.RawMessage `json:"err"`
	ConfirmationStatus Commitment      `json:"confirmationStatus"`
}

func (s *SignatureStatus) Failed() bool {
	e := strings.TrimSpace(string(s.Err))
	return e != "" && e != "null"
}

// SignatureStatuses returns one entry per signature; nil entries are unknown.
func (c *Client) SignatureStatuses(ctx context.Context, signatures ...string) ([]*SignatureStatus, error) {
	if len(signatures) == 0 {
		return nil, errors.New("signatures required")
	}
	var resp struct {
		Value []*SignatureStatus `json:"value"`
	}
	params := []any{signatures, map[string]any{"searchTransactionHistory": false}}
	if err := c.rpcCall(ctx, "getSignatureStatuses", params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Value) != len(signatures) {
		return nil, fmt.Errorf("%w: getSignatureStatuses returned %d entries for %d signatures", ErrRPCError, len(resp.Value), len(signatures))
	}
	return resp.Value, nil
}

// ConfirmSignature polls until the signature reaches at least the confirmed
// commitment, fails on chain, or ctx is done.
func (c *Client) ConfirmSignature(ctx context.Context, signature string) error {
	poll := c.PollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	for {
		statuses, err := c.SignatureStatuses(ctx, signature)
		if err != nil {
			return err
		}
		if st := statuses[0]; st != nil {
			if st.Failed() {
				return fmt.Errorf("%w: %s: %s", ErrTransactionFailed, signature, string(st.Err))
			}
			if st.ConfirmationStatus == CommitmentConfirmed || st.ConfirmationStatus == CommitmentFinalized {
				return nil
			}
		}
		if err := sleepWithContext(ctx, poll); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrConfirmationFailed, signature, err)
		}
	}
}
