package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"blockforge/internal/capability"
	"blockforge/internal/models"
	"blockforge/internal/schema"
)

type stubResolver map[string]capability.Client

func (r stubResolver) Resolve(name string) (capability.Client, bool) {
	c, ok := r[name]
	return c, ok
}

func discordSpec() capability.Spec {
	return capability.Spec{
		Name: "discord_send",
		Type: "stub",
		Results: []capability.ResultField{
			{Name: "status", Type: "text"},
			{Name: "status_code", Type: "number"},
			{Name: "message_id", Type: "text"},
		},
	}
}

func discordBlock() *models.Block {
	b := &models.Block{
		SchemaVersion: models.SchemaVersion,
		Description:   "Sends a message to Discord",
		InputSchema: schema.Schema{Fields: []schema.Field{
			{Name: "message", Type: schema.TypeText, Required: true},
		}},
		OutputSchema: schema.Schema{Fields: []schema.Field{
			{Name: "status", Type: schema.TypeText, Required: true},
		}},
		Capabilities: []string{"discord_send"},
		Source: models.Source{
			Steps: []models.Step{
				{Capability: "discord_send", Args: map[string]any{"content": "{{inputs.message}}"}, SaveAs: "send"},
			},
			Outputs: map[string]string{"status": "{{steps.send.status}}"},
		},
		Status:  models.BlockStatusReady,
		Version: 1,
	}
	b.ID = b.ContentHash()
	return b
}

func TestExecuteHappyPath(t *testing.T) {
	stub := capability.NewStubClient(discordSpec())
	stub.SetResult(map[string]any{"status": "sent", "status_code": float64(200), "message_id": "42"})
	s := New(stubResolver{"discord_send": stub}, 0)

	outputs, err := s.Execute(context.Background(), discordBlock(), map[string]any{"message": "hi"})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if outputs["status"] != "sent" {
		t.Errorf("status = %v", outputs["status"])
	}

	invocations := stub.Invocations()
	if len(invocations) != 1 {
		t.Fatalf("expected 1 invocation, got %d", len(invocations))
	}
	if invocations[0]["content"] != "hi" {
		t.Errorf("interpolated content = %v", invocations[0]["content"])
	}
}

func TestExecuteRejectsNonReadyBlock(t *testing.T) {
	block := discordBlock()
	block.Status = models.BlockStatusFailed

	s := New(stubResolver{"discord_send": capability.NewStubClient(discordSpec())}, 0)
	_, err := s.Execute(context.Background(), block, map[string]any{"message": "hi"})
	if !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
}

func TestExecuteSchemaMismatch(t *testing.T) {
	s := New(stubResolver{"discord_send": capability.NewStubClient(discordSpec())}, 0)

	_, err := s.Execute(context.Background(), discordBlock(), map[string]any{})
	var serr *SchemaMismatchError
	if !errors.As(err, &serr) {
		t.Fatalf("expected SchemaMismatchError, got %v", err)
	}
	if len(serr.Violations) != 1 || serr.Violations[0].Field != "message" {
		t.Errorf("violations = %v", serr.Violations)
	}

	// Type mismatch is also a schema mismatch.
	_, err = s.Execute(context.Background(), discordBlock(), map[string]any{"message": 7})
	if !errors.As(err, &serr) {
		t.Errorf("expected SchemaMismatchError for wrong type, got %v", err)
	}
}

func TestExecuteUndeclaredCapability(t *testing.T) {
	block := discordBlock()
	block.Capabilities = nil // declared set no longer covers the step

	s := New(stubResolver{"discord_send": capability.NewStubClient(discordSpec())}, 0)
	_, err := s.Execute(context.Background(), block, map[string]any{"message": "hi"})
	var cerr *CapabilityError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CapabilityError, got %v", err)
	}
	if cerr.Capability != "discord_send" {
		t.Errorf("capability = %s", cerr.Capability)
	}
}

func TestExecuteUnresolvableCapability(t *testing.T) {
	s := New(stubResolver{}, 0)
	_, err := s.Execute(context.Background(), discordBlock(), map[string]any{"message": "hi"})
	var cerr *CapabilityError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CapabilityError, got %v", err)
	}
}

func TestExecuteStepFailure(t *testing.T) {
	stub := capability.NewStubClient(discordSpec())
	stub.SetError(errors.New("webhook returned 404"))
	s := New(stubResolver{"discord_send": stub}, 0)

	_, err := s.Execute(context.Background(), discordBlock(), map[string]any{"message": "hi"})
	var eerr *ExecutionError
	if !errors.As(err, &eerr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if eerr.Step != 0 || eerr.Capability != "discord_send" {
		t.Errorf("step=%d capability=%s", eerr.Step, eerr.Capability)
	}
}

type panickyClient struct{}

func (panickyClient) Name() string { return "discord_send" }
func (panickyClient) Invoke(ctx context.Context, args map[string]any) (map[string]any, error) {
	panic("nil map write")
}

func TestExecuteRecoversPanic(t *testing.T) {
	s := New(stubResolver{"discord_send": panickyClient{}}, 0)
	_, err := s.Execute(context.Background(), discordBlock(), map[string]any{"message": "hi"})
	var eerr *ExecutionError
	if !errors.As(err, &eerr) {
		t.Fatalf("expected ExecutionError from panic, got %v", err)
	}
}

type slowClient struct{}

func (slowClient) Name() string { return "discord_send" }
func (slowClient) Invoke(ctx context.Context, args map[string]any) (map[string]any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Second):
		return map[string]any{"status": "sent"}, nil
	}
}

func TestExecuteTimeout(t *testing.T) {
	s := New(stubResolver{"discord_send": slowClient{}}, 50*time.Millisecond)
	_, err := s.Execute(context.Background(), discordBlock(), map[string]any{"message": "hi"})
	var eerr *ExecutionError
	if !errors.As(err, &eerr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if !eerr.Timeout {
		t.Error("expected timeout flag")
	}
}

func TestExecuteOutputContract(t *testing.T) {
	t.Run("missing output field", func(t *testing.T) {
		stub := capability.NewStubClient(discordSpec())
		stub.SetResult(map[string]any{"status_code": float64(200)}) // no status
		s := New(stubResolver{"discord_send": stub}, 0)

		_, err := s.Execute(context.Background(), discordBlock(), map[string]any{"message": "hi"})
		var oerr *OutputContractError
		if !errors.As(err, &oerr) {
			t.Fatalf("expected OutputContractError, got %v", err)
		}
	})

	t.Run("wrong output type", func(t *testing.T) {
		stub := capability.NewStubClient(discordSpec())
		stub.SetResult(map[string]any{"status": float64(200)}) // number where text declared
		s := New(stubResolver{"discord_send": stub}, 0)

		_, err := s.Execute(context.Background(), discordBlock(), map[string]any{"message": "hi"})
		var oerr *OutputContractError
		if !errors.As(err, &oerr) {
			t.Fatalf("expected OutputContractError, got %v", err)
		}
	})
}

func TestExecuteMultiStepScope(t *testing.T) {
	fetch := capability.NewStubClient(capability.Spec{Name: "http_request", Type: "stub"})
	fetch.SetResult(map[string]any{"status_code": float64(200), "body": "breaking news"})
	send := capability.NewStubClient(discordSpec())
	send.SetResult(map[string]any{"status": "sent", "status_code": float64(200), "message_id": "9"})

	block := &models.Block{
		Description: "Fetch a page and post its body to Discord",
		InputSchema: schema.Schema{Fields: []schema.Field{
			{Name: "url", Type: schema.TypeText, Required: true},
		}},
		OutputSchema: schema.Schema{Fields: []schema.Field{
			{Name: "status", Type: schema.TypeText, Required: true},
			{Name: "fetched_code", Type: schema.TypeNumber, Required: true},
		}},
		Capabilities: []string{"http_request", "discord_send"},
		Status:       models.BlockStatusReady,
		Source: models.Source{
			Steps: []models.Step{
				{Capability: "http_request", Args: map[string]any{"url": "{{inputs.url}}"}, SaveAs: "page"},
				{Capability: "discord_send", Args: map[string]any{"content": "{{steps.page.body}}"}, SaveAs: "send"},
			},
			Outputs: map[string]string{
				"status":       "{{steps.send.status}}",
				"fetched_code": "{{steps.page.status_code}}",
			},
		},
	}
	block.ID = block.ContentHash()

	s := New(stubResolver{"http_request": fetch, "discord_send": send}, 0)
	outputs, err := s.Execute(context.Background(), block, map[string]any{"url": "https://example.com"})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if outputs["status"] != "sent" {
		t.Errorf("status = %v", outputs["status"])
	}
	if outputs["fetched_code"] != float64(200) {
		t.Errorf("fetched_code = %v (%T)", outputs["fetched_code"], outputs["fetched_code"])
	}
	if send.Invocations()[0]["content"] != "breaking news" {
		t.Errorf("step result did not flow into later step args")
	}
}

func TestDryRun(t *testing.T) {
	resolver := stubResolver{"discord_send": capability.NewStubClient(discordSpec())}
	runner := NewDryRunner(resolver, time.Second)

	if err := runner.DryRun(context.Background(), discordBlock()); err != nil {
		t.Errorf("dry run of valid block failed: %v", err)
	}

	broken := discordBlock()
	broken.Source.Outputs = map[string]string{"status": "{{steps.send.no_such_field}}"}
	if err := runner.DryRun(context.Background(), broken); err == nil {
		t.Error("expected dry run to catch broken output wiring")
	}
}
