package workflow

import (
	"errors"
	"fmt"
	"strings"

	"blockforge/internal/schema"
)

// ErrUnboundInput means Build found a dependent node with a required,
// default-less input that no binding satisfies. Root nodes are exempt:
// their inputs arrive with the run request.
var ErrUnboundInput = errors.New("unbound required input")

// TypeMismatchError means a binding connects an output field to an input
// field of a different semantic type. Caught at bind time, before anything
// runs.
type TypeMismatchError struct {
	SourceNode  string
	SourceField string
	SourceType  schema.Type
	TargetNode  string
	TargetField string
	TargetType  schema.Type
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("cannot bind %s.%s (%s) to %s.%s (%s)",
		e.SourceNode, e.SourceField, e.SourceType,
		e.TargetNode, e.TargetField, e.TargetType)
}

// CycleDetectedError means a binding would make the graph cyclic. Path
// holds the node IDs along the would-be cycle.
type CycleDetectedError struct {
	Path []string
}

func (e *CycleDetectedError) Error() string {
	return fmt.Sprintf("binding would create a cycle: %s", strings.Join(e.Path, " -> "))
}
