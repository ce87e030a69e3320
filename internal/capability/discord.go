package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const discordMaxContentLength = 2000

// discordClient posts messages to a Discord channel via webhook. The
// webhook URL is the credential; blocks never see it.
type discordClient struct {
	name       string
	webhookURL string
	username   string
	client     *http.Client
}

func newDiscordClient(spec Spec, credential string) *discordClient {
	timeout := time.Duration(getInt(spec.Settings, "timeout_seconds", 15)) * time.Second
	return &discordClient{
		name:       spec.Name,
		webhookURL: credential,
		username:   getString(spec.Settings, "username", ""),
		client:     &http.Client{Timeout: timeout},
	}
}

func (c *discordClient) Name() string { return c.name }

func (c *discordClient) Invoke(ctx context.Context, args map[string]any) (map[string]any, error) {
	if c.webhookURL == "" {
		return nil, fmt.Errorf("capability %s: no webhook credential configured", c.name)
	}
	if !strings.Contains(c.webhookURL, "discord.com/api/webhooks/") && !strings.Contains(c.webhookURL, "discordapp.com/api/webhooks/") {
		return nil, fmt.Errorf("capability %s: invalid Discord webhook URL", c.name)
	}

	content, _ := args["content"].(string)
	if content == "" {
		return nil, fmt.Errorf("capability %s: missing content argument", c.name)
	}
	// Discord's limit counts characters, and slicing bytes could split a
	// multibyte rune.
	if r := []rune(content); len(r) > discordMaxContentLength {
		content = string(r[:discordMaxContentLength-3]) + "..."
	}

	payload := map[string]any{"content": content}
	if username, ok := args["username"].(string); ok && username != "" {
		payload["username"] = username
	} else if c.username != "" {
		payload["username"] = c.username
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("capability %s: failed to marshal payload: %w", c.name, err)
	}

	// wait=true makes Discord return the created message so we can
	// surface its ID.
	req, err := http.NewRequestWithContext(ctx, "POST", c.webhookURL+"?wait=true", bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("capability %s: request failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("capability %s: webhook returned %d: %s", c.name, resp.StatusCode, truncate(string(respBody), 200))
	}

	result := map[string]any{
		"status":      "sent",
		"status_code": float64(resp.StatusCode),
		"message_id":  "",
	}
	var message struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &message); err == nil {
		result["message_id"] = message.ID
	}
	return result, nil
}

// truncate shortens s to at most n runes, never splitting a multibyte
// character.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
