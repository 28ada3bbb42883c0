package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// MetadataSource is one entry of a metadata document's sources map.
// Content is set when the compiler embedded the file inline.
type MetadataSource struct {
	Keccak256 common.Hash `json:"keccak256"`
	URLs      []string    `json:"urls,omitempty"`
	Content   *string     `json:"content,omitempty"`
}

// Metadata is the subset of the compiler metadata document the monitor needs.
type Metadata struct {
	Language string                    `json:"language,omitempty"`
	Sources  map[string]MetadataSource `json:"sources"`
}

// ParseMetadata decodes a metadata JSON document.
func ParseMetadata(raw []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
	}
	if m.Sources == nil {
		m.Sources = map[string]MetadataSource{}
	}
	return &m, nil
}
