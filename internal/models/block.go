package models

import (
	"blockforge/internal/schema"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// SchemaVersion is the current persisted envelope version for blocks
// and workflows.
const SchemaVersion = 1

// BlockStatus is the lifecycle state of a block. Only ready blocks are
// persisted and runnable.
type BlockStatus string

const (
	BlockStatusDraft  BlockStatus = "draft"
	BlockStatusReady  BlockStatus = "ready"
	BlockStatusFailed BlockStatus = "failed"
)

// Step is one capability invocation in a block's source. Args values may
// contain {{inputs.x}} and {{steps.save_as.field}} template references
// which the sandbox resolves at run time.
type Step struct {
	Capability string         `json:"capability"`
	Args       map[string]any `json:"args,omitempty"`
	SaveAs     string         `json:"save_as"`
}

// Source is the generated program: an ordered call plan plus the output
// wiring. It is opaque to the registry and composer beyond validation;
// only the sandbox interprets it.
type Source struct {
	Steps   []Step            `json:"steps"`
	Outputs map[string]string `json:"outputs"`
}

// Block is a generated, schema-typed unit of execution.
type Block struct {
	SchemaVersion int           `json:"schemaVersion"`
	ID            string        `json:"id"`
	Description   string        `json:"description"`
	InputSchema   schema.Schema `json:"input_schema"`
	OutputSchema  schema.Schema `json:"output_schema"`
	Capabilities  []string      `json:"capabilities"`
	Source        Source        `json:"source"`
	Status        BlockStatus   `json:"status"`
	Version       int           `json:"version"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// blockContent is the canonical subset hashed for identity. Status,
// version and timestamps are excluded so regenerating the same request
// yields the same ID.
type blockContent struct {
	Description  string        `json:"description"`
	InputSchema  schema.Schema `json:"input_schema"`
	OutputSchema schema.Schema `json:"output_schema"`
	Capabilities []string      `json:"capabilities"`
	Source       Source        `json:"source"`
}

// ContentHash computes the block's content-addressed ID: a hex SHA-256
// over the canonical JSON of description, schemas, capabilities and
// source.
func (b *Block) ContentHash() string {
	data, _ := json.Marshal(blockContent{
		Description:  b.Description,
		InputSchema:  b.InputSchema,
		OutputSchema: b.OutputSchema,
		Capabilities: b.Capabilities,
		Source:       b.Source,
	})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ContentEquals reports whether two blocks have identical content,
// ignoring status, version and timestamps.
func (b *Block) ContentEquals(other *Block) bool {
	return b.ContentHash() == other.ContentHash()
}

// HasCapability reports whether the block declares the capability.
func (b *Block) HasCapability(name string) bool {
	for _, c := range b.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}
