package capability

import (
	"context"
	"sync"
)

// StubClient fabricates results from a capability's declared result
// fields. It backs dry runs and tests; no network traffic leaves it.
type StubClient struct {
	spec Spec

	mu          sync.Mutex
	invocations []map[string]any
	result      map[string]any
	err         error
}

// NewStubClient builds a stub whose default result has a placeholder value
// for every declared result field.
func NewStubClient(spec Spec) *StubClient {
	return &StubClient{spec: spec}
}

func (s *StubClient) Name() string { return s.spec.Name }

// SetResult overrides the fabricated result.
func (s *StubClient) SetResult(result map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = result
}

// SetError makes every invocation fail.
func (s *StubClient) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Invocations returns the recorded argument maps in call order.
func (s *StubClient) Invocations() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, len(s.invocations))
	copy(out, s.invocations)
	return out
}

func (s *StubClient) Invoke(ctx context.Context, args map[string]any) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.invocations = append(s.invocations, args)
	if s.err != nil {
		return nil, s.err
	}
	if s.result != nil {
		return s.result, nil
	}

	result := make(map[string]any, len(s.spec.Results))
	for _, field := range s.spec.Results {
		result[field.Name] = placeholderValue(field.Type)
	}
	return result, nil
}

func placeholderValue(typeName string) any {
	switch typeName {
	case "number":
		return float64(0)
	case "boolean":
		return false
	case "object":
		return map[string]any{}
	case "list":
		return []any{}
	default:
		return "stub"
	}
}
