package synthesizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"blockforge/internal/models"
	"blockforge/internal/prompt"
)

// scriptedClient returns canned completions in order and records the
// prompts it was called with.
type scriptedClient struct {
	responses []string
	calls     int
	users     []string
}

func (c *scriptedClient) Complete(ctx context.Context, system, user string) (string, error) {
	if c.calls >= len(c.responses) {
		return "", fmt.Errorf("scripted client exhausted after %d calls", c.calls)
	}
	c.users = append(c.users, user)
	resp := c.responses[c.calls]
	c.calls++
	return resp, nil
}

type fakeCatalog struct {
	caps map[string]string
}

func (f *fakeCatalog) Summaries() []prompt.CapabilitySummary {
	var out []prompt.CapabilitySummary
	for name, desc := range f.caps {
		out = append(out, prompt.CapabilitySummary{Name: name, Description: desc})
	}
	return out
}

func (f *fakeCatalog) Has(name string) bool {
	_, ok := f.caps[name]
	return ok
}

func testCatalog() *fakeCatalog {
	return &fakeCatalog{caps: map[string]string{
		"discord_send": "Post a message to a Discord channel",
		"http_request": "Perform an HTTP request",
	}}
}

const validBlockJSON = `{
  "description": "Sends a message to Discord",
  "input_schema": { "fields": [ { "name": "message", "type": "text", "required": true } ] },
  "output_schema": { "fields": [ { "name": "status", "type": "text", "required": true } ] },
  "capabilities": ["discord_send"],
  "source": {
    "steps": [
      { "capability": "discord_send", "args": { "content": "{{inputs.message}}" }, "save_as": "send" }
    ],
    "outputs": { "status": "{{steps.send.status}}" }
  }
}`

func TestGenerateFirstAttemptSucceeds(t *testing.T) {
	client := &scriptedClient{responses: []string{validBlockJSON}}
	s := New(client, testCatalog(), 3)

	block, attempts, err := s.Generate(context.Background(), "send a message to discord", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if block.Status != models.BlockStatusReady {
		t.Errorf("expected ready, got %s", block.Status)
	}
	if block.ID == "" {
		t.Error("expected content-hash ID")
	}
	if len(attempts) != 1 || attempts[0].Outcome != models.AttemptAccepted {
		t.Errorf("unexpected attempts: %+v", attempts)
	}
	if !block.HasCapability("discord_send") {
		t.Error("expected discord_send capability")
	}
}

func TestGenerateRepairsMalformedFirstAttempt(t *testing.T) {
	client := &scriptedClient{responses: []string{
		"Sure! Here's a block for you... (no JSON at all)",
		"```json\n" + validBlockJSON + "\n```",
	}}
	s := New(client, testCatalog(), 3)

	block, attempts, err := s.Generate(context.Background(), "send a message to discord", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if block.Status != models.BlockStatusReady {
		t.Errorf("expected ready, got %s", block.Status)
	}
	if len(attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(attempts))
	}
	if attempts[0].Outcome != models.AttemptParseFailed {
		t.Errorf("expected parse_failed on attempt 1, got %s", attempts[0].Outcome)
	}
	if attempts[1].Outcome != models.AttemptAccepted {
		t.Errorf("expected accepted on attempt 2, got %s", attempts[1].Outcome)
	}

	// Second call must be a repair turn carrying the earlier failure.
	if !strings.Contains(client.users[1], "REPAIR BLOCK") {
		t.Error("second prompt is not a repair prompt")
	}
	if !strings.Contains(client.users[1], "attempt 1:") {
		t.Error("repair prompt missing accumulated attempt errors")
	}
}

func TestGenerateExhaustsAttempts(t *testing.T) {
	bad := `{"description": "x", "input_schema": {"fields": []}, "output_schema": {"fields": []}, "capabilities": ["nope"], "source": {"steps": [{"capability": "nope", "args": {}, "save_as": "s"}], "outputs": {}}}`
	client := &scriptedClient{responses: []string{bad, bad, bad}}
	s := New(client, testCatalog(), 3)

	_, attempts, err := s.Generate(context.Background(), "do something impossible", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var gerr *GenerationError
	if !errors.As(err, &gerr) {
		t.Fatalf("expected GenerationError, got %T", err)
	}
	if len(gerr.Attempts) != 3 {
		t.Errorf("expected 3 recorded attempts, got %d", len(gerr.Attempts))
	}
	if len(attempts) != 3 {
		t.Errorf("expected 3 attempts returned, got %d", len(attempts))
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Error("expected ValidationError cause")
	}
}

func TestGenerateIdempotentID(t *testing.T) {
	s1 := New(&scriptedClient{responses: []string{validBlockJSON}}, testCatalog(), 3)
	s2 := New(&scriptedClient{responses: []string{validBlockJSON}}, testCatalog(), 3)

	b1, _, err := s1.Generate(context.Background(), "send a message to discord", nil)
	if err != nil {
		t.Fatal(err)
	}
	b2, _, err := s2.Generate(context.Background(), "send a message to discord", nil)
	if err != nil {
		t.Fatal(err)
	}
	if b1.ID != b2.ID {
		t.Errorf("same content must hash to same ID: %s vs %s", b1.ID, b2.ID)
	}
}

func TestGenerateInvalidRequest(t *testing.T) {
	s := New(&scriptedClient{}, testCatalog(), 3)
	_, _, err := s.Generate(context.Background(), "   ", nil)
	if !errors.Is(err, prompt.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

type failingVerifier struct{ calls int }

func (v *failingVerifier) DryRun(ctx context.Context, block *models.Block) error {
	v.calls++
	if v.calls == 1 {
		return errors.New("step send produced no status field")
	}
	return nil
}

func TestGenerateDryRunFailureTriggersRepair(t *testing.T) {
	client := &scriptedClient{responses: []string{validBlockJSON, validBlockJSON}}
	s := New(client, testCatalog(), 3)
	v := &failingVerifier{}
	s.SetVerifier(v)

	block, attempts, err := s.Generate(context.Background(), "send a message to discord", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if block == nil || block.Status != models.BlockStatusReady {
		t.Fatal("expected ready block on second attempt")
	}
	if len(attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(attempts))
	}
	if attempts[0].Outcome != models.AttemptValidationFailed {
		t.Errorf("expected validation_failed, got %s", attempts[0].Outcome)
	}
	if v.calls != 2 {
		t.Errorf("expected 2 dry runs, got %d", v.calls)
	}
}

func TestValidateDraftProblems(t *testing.T) {
	s := New(&scriptedClient{}, testCatalog(), 3)

	cases := []struct {
		name string
		json string
		want string
	}{
		{
			"unknown capability",
			`{"description": "x", "input_schema": {"fields": []}, "output_schema": {"fields": []}, "capabilities": ["teleport"], "source": {"steps": [{"capability": "teleport", "args": {}, "save_as": "t"}], "outputs": {}}}`,
			`capability "teleport" does not exist`,
		},
		{
			"undeclared step capability",
			`{"description": "x", "input_schema": {"fields": []}, "output_schema": {"fields": []}, "capabilities": [], "source": {"steps": [{"capability": "discord_send", "args": {}, "save_as": "s"}], "outputs": {}}}`,
			`not declared in capabilities`,
		},
		{
			"forward step reference",
			`{"description": "x", "input_schema": {"fields": []}, "output_schema": {"fields": []}, "capabilities": ["discord_send", "http_request"], "source": {"steps": [{"capability": "discord_send", "args": {"content": "{{steps.later.body}}"}, "save_as": "first"}, {"capability": "http_request", "args": {"url": "http://x"}, "save_as": "later"}], "outputs": {}}}`,
			`no earlier step saved as "later"`,
		},
		{
			"undeclared input reference",
			`{"description": "x", "input_schema": {"fields": []}, "output_schema": {"fields": []}, "capabilities": ["discord_send"], "source": {"steps": [{"capability": "discord_send", "args": {"content": "{{inputs.ghost}}"}, "save_as": "s"}], "outputs": {}}}`,
			`input field "ghost" not declared`,
		},
		{
			"output field without mapping",
			`{"description": "x", "input_schema": {"fields": []}, "output_schema": {"fields": [{"name": "status", "type": "text", "required": true}]}, "capabilities": ["discord_send"], "source": {"steps": [{"capability": "discord_send", "args": {}, "save_as": "s"}], "outputs": {}}}`,
			`missing mapping for output field "status"`,
		},
		{
			"declared but unused capability",
			`{"description": "x", "input_schema": {"fields": []}, "output_schema": {"fields": []}, "capabilities": ["discord_send", "http_request"], "source": {"steps": [{"capability": "discord_send", "args": {}, "save_as": "s"}], "outputs": {}}}`,
			`declared but never used`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			block, problems := s.assemble(tc.json)
			if block == nil {
				t.Fatalf("expected draft to parse; problems: %v", problems)
			}
			found := false
			for _, p := range problems {
				if strings.Contains(p, tc.want) {
					found = true
				}
			}
			if !found {
				t.Errorf("expected problem containing %q, got %v", tc.want, problems)
			}
		})
	}
}

func TestPhaseTransitions(t *testing.T) {
	if got := transition(PhaseDrafting, PhaseValidating); got != PhaseValidating {
		t.Errorf("drafting->validating rejected: %s", got)
	}
	if got := transition(PhaseReady, PhaseDrafting); got != PhaseReady {
		t.Errorf("terminal phase must not transition: %s", got)
	}
	if got := transition(PhaseValidating, PhaseDrafting); got != PhaseValidating {
		t.Errorf("validating->drafting must be rejected: %s", got)
	}
	if !isTerminal(PhaseFailed) || !isTerminal(PhaseReady) {
		t.Error("ready and failed are terminal")
	}
	if isTerminal(PhaseRepairing) {
		t.Error("repairing is not terminal")
	}
}
