package monitor

import (
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/affiliatedkat/sourcify/protocol"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

// ReconciliationState is the lifecycle state of a PendingContract.
type ReconciliationState int

const (
	StateAwaitingMetadata ReconciliationState = iota
	StateAwaitingSources
	StateComplete
	// StateFailed is terminal; the contract hit a protocol or parse error.
	StateFailed
)

func (s ReconciliationState) String() string {
	switch s {
	case StateAwaitingMetadata:
		return "AwaitingMetadata"
	case StateAwaitingSources:
		return "AwaitingSources"
	case StateComplete:
		return "Complete"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Subscriber registers interest in a content address.
type Subscriber interface {
	Subscribe(addr protocol.SourceAddress, fn SubscriberFunc) error
}

// FinalizeFunc receives the collected sources, name to content, once reconciliation completes.
type FinalizeFunc func(sources map[string]string)

// FailureFunc is invoked once when reconciliation fails.
type FailureFunc func(err error)

// PendingSource is one source a contract's metadata requires.
type PendingSource struct {
	Name          string
	ExpectedHash  common.Hash
	CandidateURLs []string
}

type PendingContractParams struct {
	Lggr            logger.Logger
	MetadataAddress protocol.SourceAddress
	Subscriber      Subscriber
	Finalize        FinalizeFunc
	// OnFailure is optional.
	OnFailure FailureFunc
}

// PendingContract reconciles one contract's metadata and sources.
//
// It subscribes to the metadata address on construction, then to every
// candidate URL of every source. Each delivery is checked against the expected
// keccak256 and Finalize is called exactly once when nothing is outstanding.
// All callbacks are serialized by the instance mutex; Finalize and OnFailure
// run outside it.
type PendingContract struct {
	id              uuid.UUID
	lggr            logger.Logger
	metadataAddress protocol.SourceAddress
	subscriber      Subscriber
	finalize        FinalizeFunc
	onFailure       FailureFunc

	mu          sync.Mutex
	state       ReconciliationState
	outstanding map[common.Hash][]PendingSource
	satisfied   map[common.Hash]struct{}
	collected   map[string]string
	err         error
}

// NewPendingContract creates the reconciliation and subscribes to its metadata.
func NewPendingContract(params PendingContractParams) (*PendingContract, error) {
	if params.Subscriber == nil {
		return nil, errors.New("subscriber is required")
	}
	if params.Finalize == nil {
		return nil, errors.New("finalize callback is required")
	}
	id := uuid.New()
	p := &PendingContract{
		id:              id,
		lggr:            logger.With(params.Lggr, "reconciliationID", id.String(), "metadata", params.MetadataAddress.Key()),
		metadataAddress: params.MetadataAddress,
		subscriber:      params.Subscriber,
		finalize:        params.Finalize,
		onFailure:       params.OnFailure,
		state:           StateAwaitingMetadata,
		outstanding:     make(map[common.Hash][]PendingSource),
		satisfied:       make(map[common.Hash]struct{}),
		collected:       make(map[string]string),
	}
	if err := params.Subscriber.Subscribe(params.MetadataAddress, p.onMetadata); err != nil {
		return nil, fmt.Errorf("failed to subscribe to metadata %s: %w", params.MetadataAddress.Key(), err)
	}
	return p, nil
}

func (p *PendingContract) ID() uuid.UUID {
	return p.id
}

func (p *PendingContract) MetadataAddress() protocol.SourceAddress {
	return p.metadataAddress
}

func (p *PendingContract) State() ReconciliationState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err returns the failure cause once the contract is in StateFailed.
func (p *PendingContract) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Outstanding returns the sources not yet delivered.
func (p *PendingContract) Outstanding() []PendingSource {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []PendingSource
	for _, srcs := range p.outstanding {
		out = append(out, srcs...)
	}
	return out
}

func (p *PendingContract) onMetadata(content []byte) {
	p.mu.Lock()
	if p.state != StateAwaitingMetadata {
		p.mu.Unlock()
		p.lggr.Debugw("Ignoring metadata delivery", "state", p.state)
		return
	}

	metadata, err := protocol.ParseMetadata(content)
	if err != nil {
		p.failLocked(err)
		return
	}

	if len(metadata.Sources) == 0 {
		p.lggr.Warnw("Metadata has no sources, completing with an empty source set")
		p.completeLocked()
		return
	}

	var toSubscribe []protocol.SourceAddress
	seen := make(map[string]struct{})
	for name, src := range metadata.Sources {
		if src.Content != nil {
			if hash := crypto.Keccak256Hash([]byte(*src.Content)); hash != src.Keccak256 {
				p.failLocked(&protocol.UnrequestedSourceError{Hash: hash, Name: name})
				return
			}
			p.collected[name] = *src.Content
			continue
		}

		var usable int
		for _, url := range src.URLs {
			addr, err := protocol.SourceAddressFromURL(url)
			if err != nil {
				p.lggr.Warnw("Skipping source url", "name", name, "url", url, "error", err)
				continue
			}
			usable++
			if _, dup := seen[addr.Key()]; dup {
				continue
			}
			seen[addr.Key()] = struct{}{}
			toSubscribe = append(toSubscribe, addr)
		}
		if usable == 0 {
			p.failLocked(fmt.Errorf("%w: %s has no content-addressed url", protocol.ErrUnresolvableSource, name))
			return
		}
		p.outstanding[src.Keccak256] = append(p.outstanding[src.Keccak256], PendingSource{
			Name:          name,
			ExpectedHash:  src.Keccak256,
			CandidateURLs: src.URLs,
		})
	}

	if len(p.outstanding) == 0 {
		p.lggr.Infow("All sources were inlined in metadata", "sources", len(p.collected))
		p.completeLocked()
		return
	}

	p.state = StateAwaitingSources
	p.lggr.Infow("Metadata received, awaiting sources", "outstanding", len(p.outstanding), "subscriptions", len(toSubscribe))
	p.mu.Unlock()

	for _, addr := range toSubscribe {
		if err := p.subscriber.Subscribe(addr, p.onSource); err != nil {
			p.mu.Lock()
			if p.state == StateAwaitingSources {
				p.failLocked(fmt.Errorf("failed to subscribe to %s: %w", addr.Key(), err))
				return
			}
			p.mu.Unlock()
			return
		}
	}
}

func (p *PendingContract) onSource(content []byte) {
	hash := crypto.Keccak256Hash(content)

	p.mu.Lock()
	switch p.state {
	case StateAwaitingSources:
	case StateComplete:
		if _, ok := p.satisfied[hash]; ok {
			p.mu.Unlock()
			p.lggr.Debugw("Ignoring duplicate delivery after completion", "hash", hash.Hex())
			return
		}
		p.mu.Unlock()
		p.lggr.Warnw("Unrequested source delivered after completion", "hash", hash.Hex())
		return
	default:
		state := p.state
		p.mu.Unlock()
		p.lggr.Debugw("Ignoring source delivery", "state", state, "hash", hash.Hex())
		return
	}

	srcs, ok := p.outstanding[hash]
	if !ok {
		if _, dup := p.satisfied[hash]; dup {
			p.mu.Unlock()
			p.lggr.Debugw("Ignoring duplicate delivery of satisfied source", "hash", hash.Hex())
			return
		}
		p.failLocked(&protocol.UnrequestedSourceError{Hash: hash})
		return
	}

	delete(p.outstanding, hash)
	p.satisfied[hash] = struct{}{}
	for _, src := range srcs {
		p.collected[src.Name] = string(content)
	}
	p.lggr.Debugw("Source verified", "hash", hash.Hex(), "names", len(srcs), "outstanding", len(p.outstanding))

	if len(p.outstanding) > 0 {
		p.mu.Unlock()
		return
	}
	p.completeLocked()
}

// completeLocked transitions to StateComplete, releases the mutex and calls finalize.
func (p *PendingContract) completeLocked() {
	p.state = StateComplete
	collected := maps.Clone(p.collected)
	p.mu.Unlock()

	p.lggr.Infow("Reconciliation complete", "sources", len(collected))
	p.finalize(collected)
}

// failLocked transitions to StateFailed, releases the mutex and calls onFailure.
func (p *PendingContract) failLocked(err error) {
	p.state = StateFailed
	p.err = err
	p.mu.Unlock()

	p.lggr.Errorw("Reconciliation failed", "error", err)
	if p.onFailure != nil {
		p.onFailure(err)
	}
}
