// Package cbortext decodes the free-form CBOR payloads attached to
// protocol-level token events (spec.md §4.2) into a losslessly-recoverable
// DecodedText, grounded on original_source's decoded_text.rs: try a CBOR
// string decode, fall back to hex. fxamacker/cbor/v2 encodes canonical CBOR
// by default, so the round-trip re-encode check in spec.md §8 property 7
// ("Cbor(s) iff cbor_encode(s) = b") is exact rather than heuristic: any
// non-canonically-encoded input that still decodes falls back to Hex so the
// original bytes always survive the trip.
package cbortext

import (
	"bytes"
	"encoding/hex"
	"encoding/json"

	"github.com/fxamacker/cbor/v2"
)

// Kind discriminates how Text was derived from the original bytes.
type Kind int

const (
	// Cbor means Text is the decoded CBOR string and cbor_encode(Text)
	// reproduces the original bytes exactly.
	Cbor Kind = iota
	// Hex means the bytes could not be losslessly round-tripped as a CBOR
	// string; Text is their hex encoding instead.
	Hex
)

func (k Kind) String() string {
	if k == Cbor {
		return "Cbor"
	}
	return "Hex"
}

// MarshalJSON renders Kind as its "Cbor"/"Hex" tag rather than the
// underlying int, so a DecodedText embedded in an event document stays
// self-describing once serialized.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// DecodedText is the result of attempting to interpret a byte payload as a
// CBOR-encoded string, always able to reconstruct the original bytes.
type DecodedText struct {
	Kind Kind   `json:"kind"`
	Text string `json:"text"`
}

// Decode attempts to parse b as a canonical CBOR string. If that succeeds and
// re-encoding the decoded string reproduces b exactly, the result is
// Cbor(s); otherwise it falls back to Hex(hex(b)), which is always lossless.
func Decode(b []byte) DecodedText {
	var s string
	if err := cbor.Unmarshal(b, &s); err == nil {
		if reencoded, err := cbor.Marshal(s); err == nil && bytes.Equal(reencoded, b) {
			return DecodedText{Kind: Cbor, Text: s}
		}
	}
	return DecodedText{Kind: Hex, Text: hex.EncodeToString(b)}
}

// Bytes reconstructs the original payload from a DecodedText.
func (d DecodedText) Bytes() ([]byte, error) {
	if d.Kind == Cbor {
		return cbor.Marshal(d.Text)
	}
	return hex.DecodeString(d.Text)
}
