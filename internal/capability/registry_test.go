package capability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"
)

const testManifest = `capabilities:
  - name: discord_send
    type: discord
    description: Post a message to a Discord channel
    credential_env: DISCORD_WEBHOOK_URL
    results:
      - name: status
        type: text
      - name: status_code
        type: number
      - name: message_id
        type: text
  - name: http_request
    type: http
    description: Perform an HTTP request
    settings:
      timeout_seconds: 5
    results:
      - name: status_code
        type: number
      - name: body
        type: text
`

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capabilities.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRegistryLoad(t *testing.T) {
	r, err := NewRegistry(writeManifest(t, testManifest), nil)
	if err != nil {
		t.Fatalf("failed to load manifest: %v", err)
	}

	if !r.Has("discord_send") || !r.Has("http_request") {
		t.Error("expected both capabilities present")
	}
	if r.Has("teleport") {
		t.Error("unexpected capability")
	}

	summaries := r.Summaries()
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	// Sorted by name for deterministic prompts.
	if summaries[0].Name != "discord_send" || summaries[1].Name != "http_request" {
		t.Errorf("summaries out of order: %+v", summaries)
	}

	if _, ok := r.Resolve("discord_send"); !ok {
		t.Error("expected client for discord_send")
	}
}

func TestRegistryRejectsBadManifest(t *testing.T) {
	cases := []struct {
		name     string
		manifest string
	}{
		{"duplicate name", testManifest + `
  - name: discord_send
    type: discord
    description: duplicate
`},
		{"unknown type", `capabilities:
  - name: warp
    type: teleporter
    description: nope
`},
		{"missing description", `capabilities:
  - name: warp
    type: http
`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewRegistry(writeManifest(t, tc.manifest), nil); err == nil {
				t.Error("expected load to fail")
			}
		})
	}
}

func TestRegistryReloadKeepsLastGood(t *testing.T) {
	path := writeManifest(t, testManifest)
	r, err := NewRegistry(path, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("capabilities: ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := r.load(); err == nil {
		t.Error("expected reload of broken manifest to fail")
	}

	// Previous set must survive.
	if !r.Has("discord_send") {
		t.Error("last good capability set was lost")
	}
}

func TestStubResolverFabricatesDeclaredResults(t *testing.T) {
	r, err := NewRegistry(writeManifest(t, testManifest), nil)
	if err != nil {
		t.Fatal(err)
	}

	stubs := r.StubResolver()
	client, ok := stubs.Resolve("discord_send")
	if !ok {
		t.Fatal("expected stub for discord_send")
	}

	result, err := client.Invoke(context.Background(), map[string]any{"content": "hi"})
	if err != nil {
		t.Fatalf("stub invoke failed: %v", err)
	}
	if _, ok := result["status"].(string); !ok {
		t.Errorf("expected text placeholder for status, got %v", result["status"])
	}
	if _, ok := result["status_code"].(float64); !ok {
		t.Errorf("expected number placeholder for status_code, got %v", result["status_code"])
	}
}

func TestDiscordClientErrors(t *testing.T) {
	t.Run("missing credential", func(t *testing.T) {
		c := newDiscordClient(Spec{Name: "discord_send", Type: "discord"}, "")
		if _, err := c.Invoke(context.Background(), map[string]any{"content": "hi"}); err == nil {
			t.Error("expected error without credential")
		}
	})

	t.Run("invalid webhook url", func(t *testing.T) {
		c := newDiscordClient(Spec{Name: "discord_send", Type: "discord"}, "https://example.com/hook")
		if _, err := c.Invoke(context.Background(), map[string]any{"content": "hi"}); err == nil {
			t.Error("expected error for non-Discord URL")
		}
	})

	t.Run("missing content", func(t *testing.T) {
		c := newDiscordClient(Spec{Name: "discord_send", Type: "discord"}, "https://discord.com/api/webhooks/1/x")
		if _, err := c.Invoke(context.Background(), map[string]any{}); err == nil {
			t.Error("expected error without content")
		}
	})
}

func TestDiscordClientTruncatesOnRuneBoundary(t *testing.T) {
	var sent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var payload struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			t.Errorf("failed to decode payload: %v", err)
		}
		sent = payload.Content
		w.Write([]byte(`{"id": "123"}`))
	}))
	defer server.Close()

	c := newDiscordClient(Spec{Name: "discord_send", Type: "discord"},
		server.URL+"/discord.com/api/webhooks/1/x")

	// 3-byte runes, well past the 2000-character limit: a byte slice at
	// position 1997 would land mid-rune.
	content := strings.Repeat("€", 1500)
	result, err := c.Invoke(context.Background(), map[string]any{"content": content})
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	if result["status"] != "sent" {
		t.Errorf("status = %v", result["status"])
	}

	if !utf8.ValidString(sent) {
		t.Error("truncated content is not valid UTF-8")
	}
	if got := utf8.RuneCountInString(sent); got > discordMaxContentLength {
		t.Errorf("content is %d runes, limit is %d", got, discordMaxContentLength)
	}
	if !strings.HasSuffix(sent, "...") {
		t.Errorf("expected ellipsis suffix, got tail %q", sent[len(sent)-12:])
	}
	if !strings.HasPrefix(sent, "€") {
		t.Errorf("expected original content prefix, got %q", sent[:12])
	}
}

func TestHTTPClientInvoke(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != "POST" {
			t.Errorf("expected POST, got %s", req.Method)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	c := newHTTPClient(Spec{Name: "http_request", Type: "http"})
	result, err := c.Invoke(context.Background(), map[string]any{
		"method": "POST",
		"url":    server.URL,
		"body":   map[string]any{"hello": "world"},
	})
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	if result["status_code"] != float64(201) {
		t.Errorf("status_code = %v", result["status_code"])
	}
	if result["body"] != `{"ok": true}` {
		t.Errorf("body = %v", result["body"])
	}
}

func TestHTTPClientRestrictions(t *testing.T) {
	c := newHTTPClient(Spec{
		Name: "http_request",
		Type: "http",
		Settings: map[string]any{
			"allowed_hosts": []any{"api.example.com"},
		},
	})

	if _, err := c.Invoke(context.Background(), map[string]any{"url": "https://evil.test/x"}); err == nil {
		t.Error("expected host restriction error")
	}
	if _, err := c.Invoke(context.Background(), map[string]any{"url": "ftp://api.example.com/x"}); err == nil {
		t.Error("expected scheme error")
	}
	if _, err := c.Invoke(context.Background(), map[string]any{"url": "https://api.example.com/x", "method": "TRACE"}); err == nil {
		t.Error("expected method error")
	}
}
