package protocol

import (
	"context"
)

// BlockCursorStore persists the last fully processed block per chain.
type BlockCursorStore interface {
	// WriteCursor records blockNumber as fully processed for chainID.
	WriteCursor(ctx context.Context, chainID uint64, blockNumber uint64) error

	// ReadCursor returns the last fully processed block, or ErrCursorNotFound.
	ReadCursor(ctx context.Context, chainID uint64) (uint64, error)
}

// ValidationService groups a set of source files into contract units.
type ValidationService interface {
	CheckFiles(ctx context.Context, files map[string]string) ([]ContractUnit, error)
}

// Injector matches a contract unit against deployed bytecode and records the result.
type Injector interface {
	Inject(ctx context.Context, req InjectRequest) (*MatchResult, error)
}

// Service represents a long-running component.
//
// Consider embedding a services.StateMachine to implement these calls in a safe manner.
type Service interface {
	// Start the service.
	//  - Must return promptly if the context is cancelled.
	//  - Must not retain the context after returning (only applies to start-up)
	Start(context.Context) error
	// Close stops the Service.
	// Usually after this call the Service cannot be started again.
	Close() error
}
