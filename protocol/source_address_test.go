package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceAddress_Key(t *testing.T) {
	addr := NewSourceAddress(OriginIPFS, "QmTest")
	assert.Equal(t, "ipfs-QmTest", addr.Key())
	assert.Equal(t, addr.Key(), addr.String())
	assert.False(t, addr.IsZero())
	assert.True(t, SourceAddress{}.IsZero())

	// Same id on different origins must not collide.
	assert.NotEqual(t, addr.Key(), NewSourceAddress(OriginSwarm, "QmTest").Key())
}

func TestSourceAddressFromURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    SourceAddress
		wantErr bool
	}{
		{
			name: "ipfs url",
			url:  "dweb:/ipfs/QmcLzXvtMm1VVTHfUgsjwtgd5xgpXCGGUsYFEWV6a3gT1S",
			want: NewSourceAddress(OriginIPFS, "QmcLzXvtMm1VVTHfUgsjwtgd5xgpXCGGUsYFEWV6a3gT1S"),
		},
		{
			name: "swarm url with single slash",
			url:  "bzz-raw:/0e1c2b7bd1a2a4e7",
			want: NewSourceAddress(OriginSwarm, "0e1c2b7bd1a2a4e7"),
		},
		{
			name: "swarm url with double slash",
			url:  "bzz-raw://0e1c2b7bd1a2a4e7",
			want: NewSourceAddress(OriginSwarm, "0e1c2b7bd1a2a4e7"),
		},
		{
			name:    "https url is not content addressed",
			url:     "https://example.com/Token.sol",
			wantErr: true,
		},
		{
			name:    "empty ipfs id",
			url:     "dweb:/ipfs/",
			wantErr: true,
		},
		{
			name:    "empty swarm id",
			url:     "bzz-raw://",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SourceAddressFromURL(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrUnresolvableSource)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
