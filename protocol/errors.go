package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrGatewayNotFound             = errors.New("gateway not found")
	ErrUnsupportedMetadataFormat   = errors.New("unsupported metadata format")
	ErrInvalidMetadata             = errors.New("invalid metadata document")
	ErrUnrequestedSource           = errors.New("unrequested source")
	ErrUnresolvableSource          = errors.New("unresolvable source")
	ErrAmbiguousOrEmptyContractSet = errors.New("ambiguous or empty contract set")
	ErrIncompleteContract          = errors.New("incomplete contract")
	ErrFetcherStopped              = errors.New("source fetcher stopped")
	ErrCursorNotFound              = errors.New("block cursor not found")
	ErrNoMatchResult               = errors.New("injector returned no match result")
)

// UnrequestedSourceError is returned when delivered content hashes to a value
// that was never part of a contract's requirement set.
type UnrequestedSourceError struct {
	Hash common.Hash
	Name string
}

func (e *UnrequestedSourceError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s: %s does not match expected hash %s", ErrUnrequestedSource, e.Name, e.Hash.Hex())
	}
	return fmt.Sprintf("%s: hash %s", ErrUnrequestedSource, e.Hash.Hex())
}

func (e *UnrequestedSourceError) Unwrap() error {
	return ErrUnrequestedSource
}

// AmbiguousOrEmptyContractSetError is returned when validation yields anything
// other than exactly one contract unit.
type AmbiguousOrEmptyContractSetError struct {
	ChainID uint64
	Address common.Address
	Count   int
}

func (e *AmbiguousOrEmptyContractSetError) Error() string {
	return fmt.Sprintf("%s: cannot inject %d contracts for chain %d address %s, exactly one required",
		ErrAmbiguousOrEmptyContractSet, e.Count, e.ChainID, e.Address.Hex())
}

func (e *AmbiguousOrEmptyContractSetError) Unwrap() error {
	return ErrAmbiguousOrEmptyContractSet
}

// IncompleteContractError is returned when the single contract unit has missing
// or invalid sources.
type IncompleteContractError struct {
	ChainID uint64
	Address common.Address
	Name    string
	Missing []string
	Invalid []string
}

func (e *IncompleteContractError) Error() string {
	return fmt.Sprintf("%s: %s at chain %d address %s (missing: [%s], invalid: [%s])",
		ErrIncompleteContract, e.Name, e.ChainID, e.Address.Hex(),
		strings.Join(e.Missing, ", "), strings.Join(e.Invalid, ", "))
}

func (e *IncompleteContractError) Unwrap() error {
	return ErrIncompleteContract
}
