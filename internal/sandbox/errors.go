package sandbox

import (
	"fmt"
	"strings"

	"blockforge/internal/schema"
)

// SchemaMismatchError means the supplied inputs do not satisfy the block's
// input schema. Nothing was executed.
type SchemaMismatchError struct {
	Violations []schema.ValueError
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("input schema mismatch: %s", joinViolations(e.Violations))
}

// CapabilityError means a step tried to use a capability the block does
// not hold or that is not available in this environment.
type CapabilityError struct {
	Capability string
	Reason     string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("capability %q: %s", e.Capability, e.Reason)
}

// ExecutionError wraps a step that failed at runtime: a capability
// invocation error, a panic, or the block running out of time.
type ExecutionError struct {
	Step       int
	Capability string
	Timeout    bool
	Cause      error
}

func (e *ExecutionError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("step %d (%s): timed out", e.Step, e.Capability)
	}
	return fmt.Sprintf("step %d (%s): %v", e.Step, e.Capability, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// OutputContractError means every step ran but the produced outputs do not
// satisfy the block's output schema.
type OutputContractError struct {
	Violations []schema.ValueError
}

func (e *OutputContractError) Error() string {
	return fmt.Sprintf("output contract violated: %s", joinViolations(e.Violations))
}

func joinViolations(violations []schema.ValueError) string {
	parts := make([]string, len(violations))
	for i, v := range violations {
		parts[i] = v.Error()
	}
	return strings.Join(parts, "; ")
}
