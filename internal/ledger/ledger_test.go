package ledger

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cypherpunk-tipjar/tipjar/internal/logging"
	"github.com/cypherpunk-tipjar/tipjar/offchain/solana"
	"github.com/cypherpunk-tipjar/tipjar/offchain/solanarpc"
)

type fakeSource struct {
	txs    map[string]*solanarpc.Transaction
	tables map[solana.Pubkey][]solana.Pubkey
	err    error
}

func (f *fakeSource) Transaction(_ context.Context, sig string) (*solanarpc.Transaction, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.txs[sig], nil
}

func (f *fakeSource) AddressLookupTable(_ context.Context, table solana.Pubkey) (solana.AddressLookupTable, error) {
	addrs, ok := f.tables[table]
	if !ok {
		return solana.AddressLookupTable{}, errors.New("no such table")
	}
	return solana.AddressLookupTable{DeactivationSlot: math.MaxUint64, Addresses: addrs}, nil
}

func key(b byte) solana.Pubkey {
	var pk solana.Pubkey
	for i := range pk {
		pk[i] = b
	}
	return pk
}

var (
	donationAddr = key(0xd0)
	otherAddr    = key(0x0e)
	referenceKey = key(0x7f)
)

func payer(t *testing.T) (ed25519.PrivateKey, solana.Pubkey) {
	t.Helper()
	seed := make([]byte, 32)
	seed[0] = 1
	priv := ed25519.NewKeyFromSeed(seed)
	var pk solana.Pubkey
	copy(pk[:], priv.Public().(ed25519.PublicKey))
	return priv, pk
}

func legacyTx(t *testing.T, ixs ...solana.Instruction) []byte {
	t.Helper()
	priv, from := payer(t)
	for i := range ixs {
		for j := range ixs[i].Accounts {
			if ixs[i].Accounts[j].Pubkey.IsZero() {
				ixs[i].Accounts[j].Pubkey = from
			}
		}
	}
	raw, err := solana.BuildAndSignLegacyTransaction([32]byte{1}, from, map[solana.Pubkey]ed25519.PrivateKey{from: priv}, ixs)
	require.NoError(t, err)
	return raw
}

// transfer from the fee payer (filled in by legacyTx).
func transfer(to solana.Pubkey, lamports uint64) solana.Instruction {
	return solana.SystemTransfer(solana.Pubkey{}, to, lamports)
}

func newVerifier(src TransactionSource, requireRef bool) *Verifier {
	return New(src, Config{DonationAddress: donationAddr, RequireReference: requireRef}, logging.Discard())
}

func okTx(raw []byte) *solanarpc.Transaction {
	return &solanarpc.Transaction{Slot: 9, Raw: raw, Meta: &solanarpc.TransactionMeta{Err: json.RawMessage("null")}}
}

func TestVerify_Tolerance(t *testing.T) {
	const minimum = 1_000_000_000
	tests := []struct {
		name string
		paid uint64
		ok   bool
	}{
		{"exact", minimum, true},
		{"over", minimum * 2, true},
		{"ninety-nine percent", minimum * 99 / 100, true},
		{"just under tolerance", minimum*99/100 - 1, false},
		{"ninety-eight percent", minimum * 98 / 100, false},
		{"half", minimum / 2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{txs: map[string]*solanarpc.Transaction{"sig": okTx(legacyTx(t, transfer(donationAddr, tt.paid)))}}
			got, err := newVerifier(src, false).Verify(context.Background(), "sig", minimum, "")
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.paid, got.AmountLamports)
				assert.Equal(t, uint64(9), got.Slot)
				return
			}
			var insufficient *InsufficientAmountError
			require.ErrorAs(t, err, &insufficient)
			assert.Equal(t, tt.paid, insufficient.Paid)
			assert.Equal(t, uint64(minimum-minimum/100), insufficient.MinimumAcceptable)
		})
	}
}

func TestVerify_SumsTransfersToDonationOnly(t *testing.T) {
	raw := legacyTx(t,
		solana.ComputeBudgetSetComputeUnitLimit(200_000),
		transfer(donationAddr, 300),
		transfer(otherAddr, 5_000),
		transfer(donationAddr, 700),
	)
	src := &fakeSource{txs: map[string]*solanarpc.Transaction{"sig": okTx(raw)}}

	got, err := newVerifier(src, false).Verify(context.Background(), "sig", 1_000, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), got.AmountLamports)

	_, err = newVerifier(src, false).Verify(context.Background(), "sig", 1_100, "")
	var insufficient *InsufficientAmountError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, uint64(1_000), insufficient.Paid)
}

func TestVerify_UndecodableSystemInstructionLogged(t *testing.T) {
	data := make([]byte, 12)
	data[0] = 9
	other := solana.Instruction{
		ProgramID: solana.SystemProgramID,
		Accounts: []solana.AccountMeta{
			{IsSigner: true, IsWritable: true},
			{Pubkey: donationAddr, IsWritable: true},
		},
		Data: data,
	}
	src := &fakeSource{txs: map[string]*solanarpc.Transaction{"sig": okTx(legacyTx(t, other, transfer(donationAddr, 500)))}}

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	v := New(src, Config{DonationAddress: donationAddr}, logger)

	got, err := v.Verify(context.Background(), "sig", 500, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(500), got.AmountLamports)

	var skipped *logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Message == "skipping undecodable system instruction" {
			skipped = e
		}
	}
	require.NotNil(t, skipped)
	assert.Equal(t, logrus.DebugLevel, skipped.Level)
	assert.Equal(t, 0, skipped.Data["instruction"])
}

func TestVerify_ForeignTransferIgnored(t *testing.T) {
	src := &fakeSource{txs: map[string]*solanarpc.Transaction{"sig": okTx(legacyTx(t, transfer(otherAddr, 10_000)))}}
	_, err := newVerifier(src, false).Verify(context.Background(), "sig", 1, "")
	var insufficient *InsufficientAmountError
	require.ErrorAs(t, err, &insufficient)
	assert.Zero(t, insufficient.Paid)
}

func TestVerify_ZeroMinimumAcceptsAnything(t *testing.T) {
	src := &fakeSource{txs: map[string]*solanarpc.Transaction{"sig": okTx(legacyTx(t, transfer(otherAddr, 1)))}}
	got, err := newVerifier(src, false).Verify(context.Background(), "sig", 0, "")
	require.NoError(t, err)
	assert.Zero(t, got.AmountLamports)
}

func TestVerify_NotFoundAndUpstream(t *testing.T) {
	_, err := newVerifier(&fakeSource{}, false).Verify(context.Background(), "missing", 1, "")
	assert.ErrorIs(t, err, ErrNotFound)

	upstream := errors.New("connection refused")
	_, err = newVerifier(&fakeSource{err: upstream}, false).Verify(context.Background(), "sig", 1, "")
	assert.ErrorIs(t, err, upstream)
}

func TestVerify_FailedTransaction(t *testing.T) {
	tx := okTx(legacyTx(t, transfer(donationAddr, 10)))
	tx.Meta.Err = json.RawMessage(`{"InstructionError":[0,"Custom"]}`)
	src := &fakeSource{txs: map[string]*solanarpc.Transaction{"sig": tx}}

	_, err := newVerifier(src, false).Verify(context.Background(), "sig", 1, "")
	assert.ErrorIs(t, err, ErrTransactionFailed)
}

func TestVerify_MalformedTransaction(t *testing.T) {
	src := &fakeSource{txs: map[string]*solanarpc.Transaction{"sig": okTx([]byte{1, 2})}}
	_, err := newVerifier(src, false).Verify(context.Background(), "sig", 1, "")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestVerify_Reference(t *testing.T) {
	withRef := transfer(donationAddr, 1_000)
	withRef.Accounts = append(withRef.Accounts, solana.AccountMeta{Pubkey: referenceKey})
	src := &fakeSource{txs: map[string]*solanarpc.Transaction{
		"ref":   okTx(legacyTx(t, withRef)),
		"noref": okTx(legacyTx(t, transfer(donationAddr, 1_000))),
	}}
	v := newVerifier(src, true)

	_, err := v.Verify(context.Background(), "ref", 1_000, referenceKey.Base58())
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), "noref", 1_000, referenceKey.Base58())
	assert.ErrorIs(t, err, ErrReferenceMissing)

	_, err = v.Verify(context.Background(), "ref", 1_000, "")
	assert.ErrorIs(t, err, ErrReferenceMissing)

	_, err = v.Verify(context.Background(), "ref", 1_000, "%%%")
	assert.ErrorIs(t, err, ErrInvalidReference)

	// Reference checking off: the reference is ignored.
	_, err = newVerifier(src, false).Verify(context.Background(), "noref", 1_000, "anything")
	require.NoError(t, err)
}

// v0 message whose transfer destination comes from a lookup table.
func v0Tx(from, table solana.Pubkey, lamports uint64) []byte {
	out := []byte{1}
	out = append(out, make([]byte, 64)...)
	out = append(out, 0x80, 1, 0, 1, 2)
	out = append(out, from[:]...)
	out = append(out, solana.SystemProgramID[:]...)
	out = append(out, make([]byte, 32)...)
	data := solana.SystemTransfer(from, from, lamports).Data
	out = append(out, 1, 1, 2, 0, 2, byte(len(data)))
	out = append(out, data...)
	out = append(out, 1)
	out = append(out, table[:]...)
	out = append(out, 1, 1, 0)
	return out
}

func TestVerify_V0LoadedAddresses(t *testing.T) {
	_, from := payer(t)
	table := key(0xa1)
	raw := v0Tx(from, table, 2_000)

	fromMeta := okTx(raw)
	fromMeta.Meta.LoadedAddresses = &solanarpc.LoadedAddresses{Writable: []solana.Pubkey{donationAddr}}
	src := &fakeSource{txs: map[string]*solanarpc.Transaction{"meta": fromMeta, "table": okTx(raw)}}

	got, err := newVerifier(src, false).Verify(context.Background(), "meta", 2_000, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(2_000), got.AmountLamports)

	// No loaded addresses in meta: resolved through the lookup table account.
	src.tables = map[solana.Pubkey][]solana.Pubkey{table: {otherAddr, donationAddr}}
	got, err = newVerifier(src, false).Verify(context.Background(), "table", 2_000, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(2_000), got.AmountLamports)

	src.tables = map[solana.Pubkey][]solana.Pubkey{table: {donationAddr, otherAddr}}
	_, err = newVerifier(src, false).Verify(context.Background(), "table", 2_000, "")
	var insufficient *InsufficientAmountError
	require.ErrorAs(t, err, &insufficient)
}

func TestTolerance(t *testing.T) {
	assert.Equal(t, uint64(0), Tolerance(99))
	assert.Equal(t, uint64(1), Tolerance(100))
	assert.Equal(t, uint64(10_000_000), Tolerance(1_000_000_000))
}
