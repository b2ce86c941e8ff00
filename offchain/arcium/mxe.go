package arcium

import (
	"errors"
	"fmt"
)

var ErrMXEKeyUnavailable = errors.New("mxe x25519 public key unavailable")

const (
	mxeKeyStart = 16
	mxeKeyEnd   = 48
)

// MXEPublicKey extracts the cluster's x25519 key from MXE account data. An
// all-zero key means the MXE has not finished key generation.
func MXEPublicKey(data []byte) ([32]byte, error) {
	var out [32]byte
	if len(data) < mxeKeyEnd {
		return out, fmt.Errorf("%w: account data is %d bytes", ErrMXEKeyUnavailable, len(data))
	}
	copy(out[:], data[mxeKeyStart:mxeKeyEnd])
	if out == ([32]byte{}) {
		return out, fmt.Errorf("%w: key is all zeros", ErrMXEKeyUnavailable)
	}
	return out, nil
}
