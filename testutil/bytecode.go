// Package testutil contains helpers shared by package tests.
package testutil

import (
	"encoding/binary"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/multiformats/go-multihash"
)

// runtimePrefix is an arbitrary runtime body placed in front of the metadata trailer.
var runtimePrefix = []byte{0x60, 0x80, 0x60, 0x40, 0x52, 0x00}

// IPFSHash returns the sha2-256 multihash of content and its base58 form.
func IPFSHash(tb testing.TB, content []byte) ([]byte, string) {
	tb.Helper()
	h, err := multihash.Sum(content, multihash.SHA2_256, -1)
	if err != nil {
		tb.Fatalf("failed to hash content: %v", err)
	}
	return h, h.B58String()
}

// MetadataTrailer CBOR-encodes fields and appends the 2-byte big-endian length,
// the layout solc appends to deployed bytecode.
func MetadataTrailer(tb testing.TB, fields map[string]any) []byte {
	tb.Helper()
	encoded, err := cbor.Marshal(fields)
	if err != nil {
		tb.Fatalf("failed to encode metadata trailer: %v", err)
	}
	out := make([]byte, len(encoded)+2)
	copy(out, encoded)
	binary.BigEndian.PutUint16(out[len(encoded):], uint16(len(encoded)))
	return out
}

// RuntimeWithTrailer returns runtime bytecode ending in trailer.
func RuntimeWithTrailer(trailer []byte) []byte {
	out := make([]byte, 0, len(runtimePrefix)+len(trailer))
	out = append(out, runtimePrefix...)
	return append(out, trailer...)
}

// IPFSRuntime returns runtime bytecode whose trailer points at the IPFS hash of metadata.
func IPFSRuntime(tb testing.TB, metadata []byte) ([]byte, string) {
	tb.Helper()
	h, b58 := IPFSHash(tb, metadata)
	trailer := MetadataTrailer(tb, map[string]any{
		"ipfs": h,
		"solc": []byte{0x00, 0x08, 0x13},
	})
	return RuntimeWithTrailer(trailer), b58
}

// InitCode wraps runtime in a constructor that copies it to memory and returns it.
// runtime must be shorter than 256 bytes.
func InitCode(runtime []byte) []byte {
	const ctorLen = 11
	if len(runtime) > 0xff {
		panic("runtime too long for PUSH1 constructor")
	}
	ctor := []byte{
		0x60, byte(len(runtime)), // PUSH1 len
		0x80,          // DUP1
		0x60, ctorLen, // PUSH1 offset
		0x60, 0x00, // PUSH1 0
		0x39,       // CODECOPY
		0x60, 0x00, // PUSH1 0
		0xf3, // RETURN
	}
	return append(ctor, runtime...)
}
