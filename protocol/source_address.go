package protocol

import (
	"fmt"
	"strings"
)

// Origin identifies the content network a piece of content is addressed on.
type Origin string

const (
	OriginIPFS  Origin = "ipfs"
	OriginSwarm Origin = "swarm"
)

const (
	ipfsURLPrefix  = "dweb:/ipfs/"
	swarmURLPrefix = "bzz-raw:"
)

// String returns the origin name.
func (o Origin) String() string {
	return string(o)
}

// SourceAddress identifies a piece of content by origin and content id.
type SourceAddress struct {
	Origin Origin
	ID     string
}

// NewSourceAddress returns a SourceAddress for the given origin and id.
func NewSourceAddress(origin Origin, id string) SourceAddress {
	return SourceAddress{Origin: origin, ID: id}
}

// Key returns the canonical fetch key, origin + "-" + id.
func (a SourceAddress) Key() string {
	return string(a.Origin) + "-" + a.ID
}

func (a SourceAddress) String() string {
	return a.Key()
}

// IsZero reports whether the address is unset.
func (a SourceAddress) IsZero() bool {
	return a.Origin == "" && a.ID == ""
}

// SourceAddressFromURL derives a SourceAddress from a metadata source URL.
// Recognised forms are dweb:/ipfs/<id> and bzz-raw:/<id> (any number of slashes).
func SourceAddressFromURL(url string) (SourceAddress, error) {
	switch {
	case strings.HasPrefix(url, ipfsURLPrefix):
		id := url[len(ipfsURLPrefix):]
		if id == "" {
			return SourceAddress{}, fmt.Errorf("%w: empty ipfs id in %q", ErrUnresolvableSource, url)
		}
		return NewSourceAddress(OriginIPFS, id), nil
	case strings.HasPrefix(url, swarmURLPrefix):
		id := strings.TrimLeft(url[len(swarmURLPrefix):], "/")
		if id == "" {
			return SourceAddress{}, fmt.Errorf("%w: empty swarm id in %q", ErrUnresolvableSource, url)
		}
		return NewSourceAddress(OriginSwarm, id), nil
	default:
		return SourceAddress{}, fmt.Errorf("%w: could not deduce origin from %q", ErrUnresolvableSource, url)
	}
}
