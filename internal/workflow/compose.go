package workflow

import (
	"context"
	"fmt"

	"blockforge/internal/models"
	"blockforge/internal/schema"
)

// BlockGetter is the slice of the registry the workflow layer needs.
type BlockGetter interface {
	GetBlock(ctx context.Context, id string) (*models.Block, error)
}

// Composer builds workflows incrementally. Every AddNode and Bind is
// checked immediately, so an invalid graph is rejected at the call that
// introduces the problem rather than at run time.
type Composer struct {
	registry BlockGetter

	nodes    []models.WorkflowNode
	nodeSet  map[string]*models.Block // nodeID -> resolved block
	bindings []models.Binding
	bound    map[string]bool // "node.field" targets already bound
}

// NewComposer creates an empty composer over a block source.
func NewComposer(registry BlockGetter) *Composer {
	return &Composer{
		registry: registry,
		nodeSet:  make(map[string]*models.Block),
		bound:    make(map[string]bool),
	}
}

// AddNode adds a block instance to the graph. Node IDs are caller-chosen
// and must be unique within the workflow.
func (c *Composer) AddNode(ctx context.Context, nodeID, blockID string) error {
	if nodeID == "" {
		return fmt.Errorf("node ID cannot be empty")
	}
	if _, exists := c.nodeSet[nodeID]; exists {
		return fmt.Errorf("node %q already exists", nodeID)
	}

	block, err := c.registry.GetBlock(ctx, blockID)
	if err != nil {
		return fmt.Errorf("node %q: %w", nodeID, err)
	}
	if block.Status != models.BlockStatusReady {
		return fmt.Errorf("node %q: block %s is %s, not ready", nodeID, blockID, block.Status)
	}

	c.nodes = append(c.nodes, models.WorkflowNode{ID: nodeID, BlockID: blockID})
	c.nodeSet[nodeID] = block
	return nil
}

// Bind connects an output field of one node to an input field of another.
// Both fields must exist, their types must match, the target must not be
// bound twice, and the edge must not create a cycle.
func (c *Composer) Bind(sourceNode, sourceField, targetNode, targetField string) error {
	src, ok := c.nodeSet[sourceNode]
	if !ok {
		return fmt.Errorf("unknown source node %q", sourceNode)
	}
	dst, ok := c.nodeSet[targetNode]
	if !ok {
		return fmt.Errorf("unknown target node %q", targetNode)
	}
	if sourceNode == targetNode {
		return &CycleDetectedError{Path: []string{sourceNode, targetNode}}
	}

	srcField, ok := src.OutputSchema.Get(sourceField)
	if !ok {
		return fmt.Errorf("node %q has no output field %q", sourceNode, sourceField)
	}
	dstField, ok := dst.InputSchema.Get(targetField)
	if !ok {
		return fmt.Errorf("node %q has no input field %q", targetNode, targetField)
	}

	if !schema.Compatible(srcField.Type, dstField.Type) {
		return &TypeMismatchError{
			SourceNode:  sourceNode,
			SourceField: sourceField,
			SourceType:  srcField.Type,
			TargetNode:  targetNode,
			TargetField: targetField,
			TargetType:  dstField.Type,
		}
	}

	targetKey := targetNode + "." + targetField
	if c.bound[targetKey] {
		return fmt.Errorf("input %s is already bound", targetKey)
	}

	// Adding source -> target creates a cycle iff target already reaches
	// source.
	if path := c.findPath(targetNode, sourceNode); path != nil {
		return &CycleDetectedError{Path: append(path, targetNode)}
	}

	c.bindings = append(c.bindings, models.Binding{
		SourceNode:  sourceNode,
		SourceField: sourceField,
		TargetNode:  targetNode,
		TargetField: targetField,
	})
	c.bound[targetKey] = true
	return nil
}

// findPath returns the node path from 'from' to 'to' along existing
// bindings, or nil if unreachable.
func (c *Composer) findPath(from, to string) []string {
	if from == to {
		return []string{from}
	}
	for _, b := range c.bindings {
		if b.SourceNode != from {
			continue
		}
		if path := c.findPath(b.TargetNode, to); path != nil {
			return append([]string{from}, path...)
		}
	}
	return nil
}

// Build finalizes the workflow. The graph must be non-empty, and every
// dependent node must have all its required inputs either bound or
// defaulted. Root nodes may leave required inputs unbound; those become
// run-time inputs the caller must supply.
func (c *Composer) Build(name string) (*models.Workflow, error) {
	if len(c.nodes) == 0 {
		return nil, fmt.Errorf("workflow has no nodes")
	}
	if name == "" {
		return nil, fmt.Errorf("workflow name cannot be empty")
	}

	dependent := make(map[string]bool)
	for _, b := range c.bindings {
		dependent[b.TargetNode] = true
	}
	for node, fields := range c.UnboundInputs() {
		if !dependent[node] {
			continue
		}
		return nil, fmt.Errorf("node %q: input %q: %w", node, fields[0], ErrUnboundInput)
	}

	nodes := make([]models.WorkflowNode, len(c.nodes))
	copy(nodes, c.nodes)
	bindings := make([]models.Binding, len(c.bindings))
	copy(bindings, c.bindings)

	return &models.Workflow{
		SchemaVersion: models.SchemaVersion,
		Name:          name,
		Nodes:         nodes,
		Bindings:      bindings,
		Version:       1,
	}, nil
}

// UnboundInputs lists the required input fields that are not satisfied by
// any binding or default, per node. These must arrive as run inputs.
func (c *Composer) UnboundInputs() map[string][]string {
	unbound := make(map[string][]string)
	for _, node := range c.nodes {
		block := c.nodeSet[node.ID]
		for _, f := range block.InputSchema.Fields {
			if !f.Required || f.Default != nil {
				continue
			}
			if c.bound[node.ID+"."+f.Name] {
				continue
			}
			unbound[node.ID] = append(unbound[node.ID], f.Name)
		}
	}
	return unbound
}
