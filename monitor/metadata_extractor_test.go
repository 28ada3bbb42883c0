package monitor

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/affiliatedkat/sourcify/protocol"
	"github.com/affiliatedkat/sourcify/testutil"
)

func TestExtractMetadataAddress_IPFS(t *testing.T) {
	runtime, b58 := testutil.IPFSRuntime(t, []byte(`{"sources":{}}`))

	addr, err := ExtractMetadataAddress(runtime)
	require.NoError(t, err)
	assert.Equal(t, protocol.OriginIPFS, addr.Origin)
	assert.Equal(t, b58, addr.ID)
	assert.Equal(t, "Qm", addr.ID[:2])
}

func TestExtractMetadataAddress_Swarm(t *testing.T) {
	digest := bytes.Repeat([]byte{0xab}, 32)
	runtime := testutil.RuntimeWithTrailer(testutil.MetadataTrailer(t, map[string]any{
		"bzzr1": digest,
		"solc":  []byte{0x00, 0x05, 0x10},
	}))

	addr, err := ExtractMetadataAddress(runtime)
	require.NoError(t, err)
	assert.Equal(t, protocol.NewSourceAddress(protocol.OriginSwarm, hex.EncodeToString(digest)), addr)
}

func TestExtractMetadataAddress_Unsupported(t *testing.T) {
	tests := []struct {
		name     string
		bytecode []byte
	}{
		{name: "empty", bytecode: nil},
		{name: "single byte", bytecode: []byte{0x00}},
		{name: "zero length trailer", bytecode: []byte{0x60, 0x80, 0x00, 0x00}},
		{name: "length exceeds code", bytecode: []byte{0x60, 0x80, 0x00, 0xff}},
		{name: "not cbor", bytecode: []byte{0x60, 0x80, 0xff, 0xff, 0x00, 0x02}},
		{
			name:     "bzzr0 only",
			bytecode: testutil.RuntimeWithTrailer(testutil.MetadataTrailer(t, map[string]any{"bzzr0": bytes.Repeat([]byte{1}, 32)})),
		},
		{
			name:     "invalid multihash",
			bytecode: testutil.RuntimeWithTrailer(testutil.MetadataTrailer(t, map[string]any{"ipfs": []byte{0x12, 0x20, 0x01}})),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractMetadataAddress(tt.bytecode)
			require.Error(t, err)
			assert.ErrorIs(t, err, protocol.ErrUnsupportedMetadataFormat)
		})
	}
}
