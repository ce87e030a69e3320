package models

import "time"

// WorkflowNode references one block inside a workflow. Node IDs are local
// to the workflow so the same block can appear more than once.
type WorkflowNode struct {
	ID      string `json:"id"`
	BlockID string `json:"block_id"`
}

// Binding is a typed edge: one output field of the source node feeds one
// input field of the target node.
type Binding struct {
	SourceNode  string `json:"source_node"`
	SourceField string `json:"source_field"`
	TargetNode  string `json:"target_node"`
	TargetField string `json:"target_field"`
}

// Workflow is a directed acyclic graph of block references. Nodes keep
// insertion order; the engine breaks ready-set ties by it, which makes
// runs reproducible.
type Workflow struct {
	SchemaVersion int            `json:"schemaVersion"`
	ID            string         `json:"id"`
	Name          string         `json:"name,omitempty"`
	Nodes         []WorkflowNode `json:"nodes"`
	Bindings      []Binding      `json:"bindings"`
	Version       int            `json:"version"`
	CreatedAt     time.Time      `json:"created_at,omitempty"`
}

// References reports whether any node of the workflow uses the block.
func (w *Workflow) References(blockID string) bool {
	for _, n := range w.Nodes {
		if n.BlockID == blockID {
			return true
		}
	}
	return false
}

// NodeStatus is the state of one node in a workflow run.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
	NodeStatusCancelled NodeStatus = "cancelled"
)

// NodeResult is the per-node outcome of a workflow run.
type NodeResult struct {
	Status      NodeStatus     `json:"status"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// NodeUpdate is streamed while a workflow runs. Consumers that fall behind
// drop updates rather than stalling execution.
type NodeUpdate struct {
	NodeID string     `json:"node_id"`
	Status NodeStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
}
