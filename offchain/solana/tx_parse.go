package solana

import (
	"errors"
	"fmt"
)

// MessageVersion is LegacyMessage or a versioned message number (0 today).
type MessageVersion int

const (
	LegacyMessage MessageVersion = -1
	MessageV0     MessageVersion = 0

	versionPrefixMask = 0x80
)

type ParsedInstruction struct {
	ProgramID Pubkey
	// Accounts are indexes into the resolved account key list, which for v0
	// messages extends past the static keys into lookup-table addresses.
	Accounts []uint8
	Data     []byte
}

type MessageLookup struct {
	AccountKey      Pubkey
	WritableIndexes []uint8
	ReadonlyIndexes []uint8
}

type ParsedMessage struct {
	Version         MessageVersion
	Signatures      []Signature
	AccountKeys     []Pubkey
	RecentBlockhash [32]byte
	Instructions    []ParsedInstruction
	Lookups         []MessageLookup
}

// ParseTransaction decodes a wire transaction in legacy or v0 format.
func ParseTransaction(tx []byte) (ParsedMessage, error) {
	out := ParsedMessage{Version: LegacyMessage}
	if len(tx) == 0 {
		return out, errors.New("empty tx")
	}

	r := &wireReader{b: tx}
	sigCount, err := r.shortVec()
	if err != nil {
		return out, fmt.Errorf("decode signature count: %w", err)
	}
	sigBytes, err := r.take(sigCount * 64)
	if err != nil {
		return out, errors.New("invalid signature section")
	}
	out.Signatures = make([]Signature, sigCount)
	for i := range out.Signatures {
		copy(out.Signatures[i][:], sigBytes[i*64:(i+1)*64])
	}

	first, err := r.peek()
	if err != nil {
		return out, errors.New("message header truncated")
	}
	if first&versionPrefixMask != 0 {
		version := MessageVersion(first &^ versionPrefixMask)
		if version != MessageV0 {
			return out, fmt.Errorf("unsupported message version %d", version)
		}
		out.Version = version
		r.off++
	}

	if _, err := r.take(3); err != nil {
		return out, errors.New("message header truncated")
	}

	nKeys, err := r.shortVec()
	if err != nil {
		return out, fmt.Errorf("decode account keys count: %w", err)
	}
	keyBytes, err := r.take(nKeys * 32)
	if err != nil {
		return out, errors.New("account keys truncated")
	}
	out.AccountKeys = make([]Pubkey, nKeys)
	for i := range out.AccountKeys {
		copy(out.AccountKeys[i][:], keyBytes[i*32:(i+1)*32])
	}

	bh, err := r.take(32)
	if err != nil {
		return out, errors.New("recent blockhash truncated")
	}
	copy(out.RecentBlockhash[:], bh)

	nIxs, err := r.shortVec()
	if err != nil {
		return out, fmt.Errorf("decode instruction count: %w", err)
	}
	out.Instructions = make([]ParsedInstruction, 0, nIxs)
	for i := 0; i < nIxs; i++ {
		pid, err := r.take(1)
		if err != nil {
			return out, errors.New("instruction truncated")
		}
		// Program ids are never loaded from lookup tables.
		pidIndex := int(pid[0])
		if pidIndex >= len(out.AccountKeys) {
			return out, errors.New("invalid program id index")
		}

		acctCount, err := r.shortVec()
		if err != nil {
			return out, fmt.Errorf("decode instruction accounts count: %w", err)
		}
		accounts, err := r.take(acctCount)
		if err != nil {
			return out, errors.New("instruction accounts truncated")
		}

		dataLen, err := r.shortVec()
		if err != nil {
			return out, fmt.Errorf("decode instruction data len: %w", err)
		}
		data, err := r.take(dataLen)
		if err != nil {
			return out, errors.New("instruction data truncated")
		}

		out.Instructions = append(out.Instructions, ParsedInstruction{
			ProgramID: out.AccountKeys[pidIndex],
			Accounts:  append([]uint8{}, accounts...),
			Data:      append([]byte{}, data...),
		})
	}

	if out.Version == LegacyMessage {
		return out, nil
	}

	nLookups, err := r.shortVec()
	if err != nil {
		return out, fmt.Errorf("decode lookup count: %w", err)
	}
	for i := 0; i < nLookups; i++ {
		key, err := r.take(32)
		if err != nil {
			return out, errors.New("lookup table key truncated")
		}
		var lk MessageLookup
		copy(lk.AccountKey[:], key)
		if lk.WritableIndexes, err = r.indexes(); err != nil {
			return out, fmt.Errorf("decode lookup writable indexes: %w", err)
		}
		if lk.ReadonlyIndexes, err = r.indexes(); err != nil {
			return out, fmt.Errorf("decode lookup readonly indexes: %w", err)
		}
		out.Lookups = append(out.Lookups, lk)
	}
	return out, nil
}

// ResolveAccountKeys returns the full account list instructions index into:
// static keys, then loaded writable, then loaded readonly addresses.
func (m ParsedMessage) ResolveAccountKeys(loadedWritable, loadedReadonly []Pubkey) []Pubkey {
	out := make([]Pubkey, 0, len(m.AccountKeys)+len(loadedWritable)+len(loadedReadonly))
	out = append(out, m.AccountKeys...)
	out = append(out, loadedWritable...)
	out = append(out, loadedReadonly...)
	return out
}

// LoadedAddresses resolves the message's lookups against fetched tables, in
// the order the runtime loads them: every writable index, then every readonly.
func (m ParsedMessage) LoadedAddresses(tables map[Pubkey]AddressLookupTable) (writable, readonly []Pubkey, err error) {
	for _, lk := range m.Lookups {
		tbl, ok := tables[lk.AccountKey]
		if !ok {
			return nil, nil, fmt.Errorf("lookup table %s not provided", lk.AccountKey.Base58())
		}
		addrs, err := tbl.Resolve(lk.WritableIndexes)
		if err != nil {
			return nil, nil, fmt.Errorf("lookup table %s: %w", lk.AccountKey.Base58(), err)
		}
		writable = append(writable, addrs...)
	}
	for _, lk := range m.Lookups {
		addrs, err := tables[lk.AccountKey].Resolve(lk.ReadonlyIndexes)
		if err != nil {
			return nil, nil, fmt.Errorf("lookup table %s: %w", lk.AccountKey.Base58(), err)
		}
		readonly = append(readonly, addrs...)
	}
	return writable, readonly, nil
}

type wireReader struct {
	b   []byte
	off int
}

func (r *wireReader) peek() (byte, error) {
	if r.off >= len(r.b) {
		return 0, errors.New("unexpected end of data")
	}
	return r.b[r.off], nil
}

func (r *wireReader) take(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.b) {
		return nil, errors.New("unexpected end of data")
	}
	out := r.b[r.off : r.off+n]
	r.off += n
	return out, nil
}

func (r *wireReader) shortVec() (int, error) {
	n, off, err := decodeShortVecLenAt(r.b, r.off)
	if err != nil {
		return 0, err
	}
	r.off = off
	return n, nil
}

func (r *wireReader) indexes() ([]uint8, error) {
	n, err := r.shortVec()
	if err != nil {
		return nil, err
	}
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	return append([]uint8{}, b...), nil
}
