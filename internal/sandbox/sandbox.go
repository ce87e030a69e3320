package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"blockforge/internal/capability"
	"blockforge/internal/models"
	"blockforge/internal/schema"
	"blockforge/internal/template"
)

// DefaultTimeout is the wall-clock budget for one block run.
const DefaultTimeout = 60 * time.Second

// ErrNotReady means the block's lifecycle status is not ready, so it must
// not run.
var ErrNotReady = errors.New("block not ready")

// Sandbox runs blocks. A run sees only its bound inputs and the
// capabilities the block declares; everything else is out of reach.
type Sandbox struct {
	resolver capability.Resolver
	timeout  time.Duration
}

// New creates a sandbox over a capability resolver. timeout <= 0 selects
// the default.
func New(resolver capability.Resolver, timeout time.Duration) *Sandbox {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Sandbox{resolver: resolver, timeout: timeout}
}

// Execute runs a block against the given inputs and returns its outputs.
// Inputs are bound first (SchemaMismatchError), steps run in order under
// one deadline, and the collected outputs must satisfy the output schema
// (OutputContractError).
func (s *Sandbox) Execute(ctx context.Context, block *models.Block, inputs map[string]any) (map[string]any, error) {
	if block.Status != models.BlockStatusReady {
		return nil, fmt.Errorf("%w: block %s is %s", ErrNotReady, block.ID, block.Status)
	}

	bound, violations := block.InputSchema.BindValues(inputs)
	if len(violations) > 0 {
		return nil, &SchemaMismatchError{Violations: violations}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	scope := map[string]any{
		"inputs": bound,
		"steps":  map[string]any{},
	}
	stepResults := scope["steps"].(map[string]any)

	log.Printf("🚀 [SANDBOX] Executing block %s (%d steps)", block.ID, len(block.Source.Steps))

	for i, step := range block.Source.Steps {
		if !block.HasCapability(step.Capability) {
			return nil, &CapabilityError{Capability: step.Capability, Reason: "not declared by block"}
		}
		client, ok := s.resolver.Resolve(step.Capability)
		if !ok {
			return nil, &CapabilityError{Capability: step.Capability, Reason: "not available"}
		}

		stepArgs := step.Args
		if stepArgs == nil {
			stepArgs = map[string]any{}
		}
		args, err := template.InterpolateValue(stepArgs, scope)
		if err != nil {
			return nil, &ExecutionError{Step: i, Capability: step.Capability, Cause: err}
		}

		result, err := s.invokeStep(ctx, client, args.(map[string]any))
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, &ExecutionError{Step: i, Capability: step.Capability, Timeout: true, Cause: err}
			}
			return nil, &ExecutionError{Step: i, Capability: step.Capability, Cause: err}
		}

		stepResults[step.SaveAs] = result
	}

	outputs := make(map[string]any, len(block.Source.Outputs))
	var contractViolations []schema.ValueError
	for name, tmpl := range block.Source.Outputs {
		value, err := template.Interpolate(tmpl, scope)
		if err != nil {
			contractViolations = append(contractViolations, schema.ValueError{Field: name, Message: err.Error()})
			continue
		}
		outputs[name] = value
	}
	if len(contractViolations) > 0 {
		return nil, &OutputContractError{Violations: contractViolations}
	}

	if violations := block.OutputSchema.CheckValues(outputs); len(violations) > 0 {
		return nil, &OutputContractError{Violations: violations}
	}

	log.Printf("✅ [SANDBOX] Block %s completed", block.ID)
	return outputs, nil
}

// invokeStep calls a capability with panic recovery so a misbehaving
// client cannot take the process down.
func (s *Sandbox) invokeStep(ctx context.Context, client capability.Client, args map[string]any) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("🔥 [SANDBOX] Panic in capability %s: %v\n%s", client.Name(), r, debug.Stack())
			result = nil
			err = fmt.Errorf("capability panicked: %v", r)
		}
	}()

	return client.Invoke(ctx, args)
}

// DryRunner verifies freshly generated blocks by executing them against
// stub capabilities with placeholder inputs.
type DryRunner struct {
	sandbox *Sandbox
}

// NewDryRunner builds a dry runner over a stub resolver.
func NewDryRunner(stubs capability.Resolver, timeout time.Duration) *DryRunner {
	return &DryRunner{sandbox: New(stubs, timeout)}
}

// DryRun executes the block with fabricated inputs. Any failure means the
// block's internal wiring is broken and it must not be accepted.
func (d *DryRunner) DryRun(ctx context.Context, block *models.Block) error {
	inputs := make(map[string]any, len(block.InputSchema.Fields))
	for _, f := range block.InputSchema.Fields {
		if f.Default != nil {
			continue
		}
		inputs[f.Name] = placeholderValue(f.Type)
	}
	_, err := d.sandbox.Execute(ctx, block, inputs)
	return err
}

func placeholderValue(t schema.Type) any {
	switch t {
	case schema.TypeNumber:
		return float64(0)
	case schema.TypeBoolean:
		return false
	case schema.TypeObject:
		return map[string]any{}
	case schema.TypeList:
		return []any{}
	default:
		return "placeholder"
	}
}
