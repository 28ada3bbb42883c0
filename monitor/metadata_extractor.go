package monitor

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/multiformats/go-multihash"

	"github.com/affiliatedkat/sourcify/protocol"
)

// bytecodeMetadata is the CBOR map solc appends to deployed bytecode.
type bytecodeMetadata struct {
	IPFS  []byte `cbor:"ipfs,omitempty"`
	Bzzr1 []byte `cbor:"bzzr1,omitempty"`
}

var metadataDecMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{
		MaxNestedLevels: 4,
		MaxMapPairs:     16,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

// ExtractMetadataAddress decodes the CBOR trailer of deployed bytecode and
// returns the address of the contract's metadata document.
// The last two bytes hold the big-endian length of the CBOR map preceding them.
func ExtractMetadataAddress(bytecode []byte) (protocol.SourceAddress, error) {
	if len(bytecode) < 2 {
		return protocol.SourceAddress{}, fmt.Errorf("%w: bytecode too short", protocol.ErrUnsupportedMetadataFormat)
	}
	cborLen := int(binary.BigEndian.Uint16(bytecode[len(bytecode)-2:]))
	if cborLen == 0 || cborLen > len(bytecode)-2 {
		return protocol.SourceAddress{}, fmt.Errorf("%w: invalid trailer length %d", protocol.ErrUnsupportedMetadataFormat, cborLen)
	}
	raw := bytecode[len(bytecode)-2-cborLen : len(bytecode)-2]

	var md bytecodeMetadata
	if err := metadataDecMode.Unmarshal(raw, &md); err != nil {
		return protocol.SourceAddress{}, fmt.Errorf("%w: %w", protocol.ErrUnsupportedMetadataFormat, err)
	}

	switch {
	case len(md.IPFS) > 0:
		mh, err := multihash.Cast(md.IPFS)
		if err != nil {
			return protocol.SourceAddress{}, fmt.Errorf("%w: invalid ipfs multihash: %w", protocol.ErrUnsupportedMetadataFormat, err)
		}
		return protocol.NewSourceAddress(protocol.OriginIPFS, mh.B58String()), nil
	case len(md.Bzzr1) > 0:
		return protocol.NewSourceAddress(protocol.OriginSwarm, hex.EncodeToString(md.Bzzr1)), nil
	default:
		return protocol.SourceAddress{}, fmt.Errorf("%w: no ipfs or bzzr1 entry", protocol.ErrUnsupportedMetadataFormat)
	}
}
