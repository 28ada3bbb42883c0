package protocol

import (
	"github.com/ethereum/go-ethereum/common"
)

// ChainContext is captured when a contract creation is detected and carried
// unchanged to finalization.
type ChainContext struct {
	ChainID  uint64
	Address  common.Address
	Bytecode []byte
}

// ContractUnit is one structurally valid contract returned by the validation service.
type ContractUnit struct {
	Name         string            `json:"name"`
	CompiledPath string            `json:"compiledPath,omitempty"`
	Metadata     string            `json:"metadata,omitempty"`
	Sources      map[string]string `json:"sources,omitempty"`
	Missing      []string          `json:"missing"`
	Invalid      []string          `json:"invalid"`
}

// IsValid reports whether the unit has no missing and no invalid sources.
func (c ContractUnit) IsValid() bool {
	return len(c.Missing) == 0 && len(c.Invalid) == 0
}

// InjectRequest is submitted to the injector for a single reconciled contract.
type InjectRequest struct {
	Addresses []common.Address `json:"addresses"`
	ChainID   uint64           `json:"chain"`
	Bytecode  string           `json:"bytecode"`
	Contracts []ContractUnit   `json:"contracts"`
}

// MatchStatus is the injector's verdict for a submission.
type MatchStatus string

const (
	MatchStatusPerfect MatchStatus = "perfect"
	MatchStatusPartial MatchStatus = "partial"
	MatchStatusNone    MatchStatus = ""
)

// MatchResult is returned by the injector.
type MatchResult struct {
	Address common.Address `json:"address"`
	Status  MatchStatus    `json:"status"`
	Message string         `json:"message,omitempty"`
}
