// Package gateway resolves content origins to HTTP gateways and retrieves content from them.
package gateway

import (
	"fmt"

	"github.com/affiliatedkat/sourcify/protocol"
)

const (
	// DefaultIPFSGatewayURL serves raw content for /ipfs/<cid> over plain GET.
	DefaultIPFSGatewayURL = "https://ipfs.io/ipfs/"
	// DefaultSwarmGatewayURL serves raw content for bzz-raw:/<hash>.
	DefaultSwarmGatewayURL = "https://swarm-gateways.net/bzz-raw:/"
)

// Gateway is an HTTP endpoint able to retrieve content for one origin.
type Gateway interface {
	// WorksWith reports whether the gateway serves the given origin.
	WorksWith(origin protocol.Origin) bool
	// CreateURL returns the fetch URL for a content id.
	CreateURL(id string) string
	// BaseURL returns the prefix the content id is appended to.
	BaseURL() string
}

var _ Gateway = SimpleGateway{}

// SimpleGateway serves one origin by concatenating its base URL and the content id.
type SimpleGateway struct {
	Origin protocol.Origin
	URL    string
}

// NewSimpleGateway creates a gateway descriptor for origin rooted at baseURL.
func NewSimpleGateway(origin protocol.Origin, baseURL string) SimpleGateway {
	return SimpleGateway{Origin: origin, URL: baseURL}
}

func (g SimpleGateway) WorksWith(origin protocol.Origin) bool {
	return g.Origin == origin
}

func (g SimpleGateway) CreateURL(id string) string {
	return g.URL + id
}

func (g SimpleGateway) BaseURL() string {
	return g.URL
}

// DefaultGateways returns one public gateway per supported origin.
func DefaultGateways() []Gateway {
	return []Gateway{
		NewSimpleGateway(protocol.OriginIPFS, DefaultIPFSGatewayURL),
		NewSimpleGateway(protocol.OriginSwarm, DefaultSwarmGatewayURL),
	}
}

// Registry holds an ordered list of gateway descriptors. It is read-only after
// construction and safe for concurrent use.
type Registry struct {
	gateways []Gateway
}

// NewRegistry creates a registry over the given gateways. Earlier entries win
// when several gateways claim the same origin.
func NewRegistry(gateways ...Gateway) *Registry {
	gws := make([]Gateway, len(gateways))
	copy(gws, gateways)
	return &Registry{gateways: gws}
}

// Gateways returns a copy of the registered descriptors in order.
func (r *Registry) Gateways() []Gateway {
	gws := make([]Gateway, len(r.gateways))
	copy(gws, r.gateways)
	return gws
}

// Lookup returns the first gateway claiming origin.
func (r *Registry) Lookup(origin protocol.Origin) (Gateway, error) {
	for _, gw := range r.gateways {
		if gw.WorksWith(origin) {
			return gw, nil
		}
	}
	return nil, fmt.Errorf("%w for origin %q", protocol.ErrGatewayNotFound, origin)
}

// Resolve returns the base URL of the first gateway claiming origin.
func (r *Registry) Resolve(origin protocol.Origin) (string, error) {
	gw, err := r.Lookup(origin)
	if err != nil {
		return "", err
	}
	return gw.BaseURL(), nil
}

// BuildURL returns the fetch URL for addr using the first matching gateway.
func (r *Registry) BuildURL(addr protocol.SourceAddress) (string, error) {
	gw, err := r.Lookup(addr.Origin)
	if err != nil {
		return "", err
	}
	return gw.CreateURL(addr.ID), nil
}
