package solana

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var ErrInvalidAddressLookupTable = errors.New("invalid address lookup table")

const (
	lookupTableMetaSize      = 56
	lookupTableDiscriminator = 1
)

// AddressLookupTable is the decoded state of a lookup table account. v0
// donation transactions, as sent by most wallets, index into these.
type AddressLookupTable struct {
	DeactivationSlot uint64
	LastExtendedSlot uint64
	// Authority is nil once the table is frozen.
	Authority *Pubkey
	Addresses []Pubkey
}

// Active reports whether the table has not been deactivated.
func (t AddressLookupTable) Active() bool {
	return t.DeactivationSlot == math.MaxUint64
}

// Resolve maps message indexes to addresses in the table.
func (t AddressLookupTable) Resolve(indexes []uint8) ([]Pubkey, error) {
	out := make([]Pubkey, len(indexes))
	for i, ix := range indexes {
		if int(ix) >= len(t.Addresses) {
			return nil, fmt.Errorf("%w: index %d of %d", ErrInvalidAddressLookupTable, ix, len(t.Addresses))
		}
		out[i] = t.Addresses[ix]
	}
	return out, nil
}

// DecodeAddressLookupTable decodes lookup table account data: a 56-byte
// header (type tag, deactivation slot, last extended slot and start index,
// optional authority, padding) followed by packed 32-byte addresses.
func DecodeAddressLookupTable(data []byte) (AddressLookupTable, error) {
	if len(data) < lookupTableMetaSize {
		return AddressLookupTable{}, fmt.Errorf("%w: %d bytes", ErrInvalidAddressLookupTable, len(data))
	}
	if tag := binary.LittleEndian.Uint32(data[0:4]); tag != lookupTableDiscriminator {
		return AddressLookupTable{}, fmt.Errorf("%w: type tag %d", ErrInvalidAddressLookupTable, tag)
	}
	body := data[lookupTableMetaSize:]
	if len(body)%32 != 0 {
		return AddressLookupTable{}, fmt.Errorf("%w: trailing %d bytes", ErrInvalidAddressLookupTable, len(body)%32)
	}

	t := AddressLookupTable{
		DeactivationSlot: binary.LittleEndian.Uint64(data[4:12]),
		LastExtendedSlot: binary.LittleEndian.Uint64(data[12:20]),
		Addresses:        make([]Pubkey, len(body)/32),
	}
	if data[21] == 1 {
		var auth Pubkey
		copy(auth[:], data[22:54])
		t.Authority = &auth
	}
	for i := range t.Addresses {
		copy(t.Addresses[i][:], body[i*32:])
	}
	return t, nil
}
