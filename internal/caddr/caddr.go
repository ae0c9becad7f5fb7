// Package caddr implements the canonical-address derivation described in
// spec.md §3/§8 and grounded on the account address handling in
// original_source (address.rs, and migrations m0006/m0008 which derive
// canonical_address from the stored base58check address). A canonical
// address is the first 29 bytes of the decoded account address; every
// alias of the same account shares it.
package caddr

import (
	"github.com/mr-tron/base58"

	"github.com/ccdscan/indexer/internal/ccderr"
)

// Length is the fixed size in bytes of a canonical account address.
const Length = 29

// Canonical is a 29-byte canonical account address.
type Canonical [Length]byte

// Canonicalize derives the canonical address from a base58check-encoded
// account address. Concordium account addresses decode to a 32-byte
// identifier (curve point); the canonical address is its first 29 bytes,
// shared by every one of the account's 2^24 aliases.
func Canonicalize(address string) (Canonical, error) {
	decoded, err := base58.Decode(address)
	if err != nil {
		return Canonical{}, ccderr.Assertion(err)
	}
	// Concordium addresses are base58check: 1-byte version + 32-byte
	// payload + 4-byte checksum. We only need the payload's leading 29
	// bytes, so strip the fixed prefix/suffix the same width the original
	// decoder uses (1 leading version byte, 4 trailing checksum bytes).
	const versionBytes = 1
	const checksumBytes = 4
	if len(decoded) < versionBytes+checksumBytes+Length {
		return Canonical{}, ccderr.Assertion(errShortAddress)
	}
	payload := decoded[versionBytes : len(decoded)-checksumBytes]
	var out Canonical
	copy(out[:], payload[:Length])
	return out, nil
}

var errShortAddress = shortAddressError{}

type shortAddressError struct{}

func (shortAddressError) Error() string { return "decoded account address shorter than expected" }
