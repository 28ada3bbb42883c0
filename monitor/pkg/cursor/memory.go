// Package cursor persists the last fully processed block of each monitored chain.
package cursor

import (
	"context"
	"sync"

	"github.com/affiliatedkat/sourcify/protocol"
)

var _ protocol.BlockCursorStore = (*InMemoryStore)(nil)

// InMemoryStore keeps cursors for the lifetime of the process.
type InMemoryStore struct {
	mu      sync.RWMutex
	cursors map[uint64]uint64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{cursors: make(map[uint64]uint64)}
}

func (s *InMemoryStore) WriteCursor(_ context.Context, chainID, blockNumber uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[chainID] = blockNumber
	return nil
}

func (s *InMemoryStore) ReadCursor(_ context.Context, chainID uint64) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	block, ok := s.cursors[chainID]
	if !ok {
		return 0, protocol.ErrCursorNotFound
	}
	return block, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
