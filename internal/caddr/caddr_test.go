package caddr

import (
	"errors"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"

	"github.com/ccdscan/indexer/internal/ccderr"
)

func encodeFakeAddress(t *testing.T, payload [32]byte) string {
	t.Helper()
	buf := make([]byte, 0, 1+32+4)
	buf = append(buf, 1) // fake version byte
	buf = append(buf, payload[:]...)
	buf = append(buf, 0, 0, 0, 0) // fake checksum, not verified by Canonicalize
	return base58.Encode(buf)
}

func TestCanonicalizeLength(t *testing.T) {
	var payload [32]byte
	for i := range payload {
		payload[i] = byte(i)
	}
	addr := encodeFakeAddress(t, payload)

	got, err := Canonicalize(addr)
	require.NoError(t, err)
	require.Len(t, got, Length)
	require.Equal(t, payload[:Length], got[:])
}

func TestCanonicalizeAliasesShareCanonicalAddress(t *testing.T) {
	var payload [32]byte
	for i := range payload {
		payload[i] = byte(200 - i)
	}
	// Two different "alias" encodings sharing the same leading 29 bytes but
	// differing tail bytes must canonicalize identically.
	alias1 := payload
	alias2 := payload
	alias2[31] ^= 0xFF
	alias2[30] ^= 0xFF

	a1, err := Canonicalize(encodeFakeAddress(t, alias1))
	require.NoError(t, err)
	a2, err := Canonicalize(encodeFakeAddress(t, alias2))
	require.NoError(t, err)
	require.Equal(t, a1, a2)
}

func TestCanonicalizeShortAddressIsAssertionError(t *testing.T) {
	short := base58.Encode([]byte{1, 2, 3})
	_, err := Canonicalize(short)
	require.Error(t, err)
	require.True(t, errors.Is(err, ccderr.ErrAssertion))
}

func TestCanonicalizeInvalidBase58(t *testing.T) {
	_, err := Canonicalize("not-valid-base58!!!")
	require.Error(t, err)
	require.True(t, errors.Is(err, ccderr.ErrAssertion))
}
