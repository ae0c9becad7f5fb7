package cbortext

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
)

func TestDecodeCanonicalCborRoundTrips(t *testing.T) {
	encoded, err := cbor.Marshal("hello token")
	require.NoError(t, err)

	got := Decode(encoded)
	require.Equal(t, Cbor, got.Kind)
	require.Equal(t, "hello token", got.Text)

	recovered, err := got.Bytes()
	require.NoError(t, err)
	require.Equal(t, encoded, recovered)
}

func TestDecodeNonCborFallsBackToHex(t *testing.T) {
	raw := []byte{0xff, 0x00, 0xde, 0xad, 0xbe, 0xef}
	got := Decode(raw)
	require.Equal(t, Hex, got.Kind)
	require.Equal(t, "ff00deadbeef", got.Text)

	recovered, err := got.Bytes()
	require.NoError(t, err)
	require.Equal(t, raw, recovered)
}

func TestDecodeIffPropertyOnArbitraryBytes(t *testing.T) {
	cases := [][]byte{
		{},
		{0x01, 0x02, 0x03},
		mustMarshal(t, "round trips"),
		{0x60}, // canonical CBOR for the empty string
	}
	for _, b := range cases {
		got := Decode(b)
		recovered, err := got.Bytes()
		require.NoError(t, err)
		require.Equal(t, b, recovered, "decoded bytes must always be recoverable for %x", b)

		if got.Kind == Cbor {
			reencoded, err := cbor.Marshal(got.Text)
			require.NoError(t, err)
			require.Equal(t, b, reencoded)
		}
	}
}

func mustMarshal(t *testing.T, s string) []byte {
	t.Helper()
	b, err := cbor.Marshal(s)
	require.NoError(t, err)
	return b
}
