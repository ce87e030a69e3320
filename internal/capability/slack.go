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

// slackClient posts messages to a Slack channel via incoming webhook.
type slackClient struct {
	name       string
	webhookURL string
	client     *http.Client
}

func newSlackClient(spec Spec, credential string) *slackClient {
	timeout := time.Duration(getInt(spec.Settings, "timeout_seconds", 15)) * time.Second
	return &slackClient{
		name:       spec.Name,
		webhookURL: credential,
		client:     &http.Client{Timeout: timeout},
	}
}

func (c *slackClient) Name() string { return c.name }

func (c *slackClient) Invoke(ctx context.Context, args map[string]any) (map[string]any, error) {
	if c.webhookURL == "" {
		return nil, fmt.Errorf("capability %s: no webhook credential configured", c.name)
	}
	if !strings.Contains(c.webhookURL, "hooks.slack.com/") {
		return nil, fmt.Errorf("capability %s: invalid Slack webhook URL", c.name)
	}

	text, _ := args["text"].(string)
	if text == "" {
		return nil, fmt.Errorf("capability %s: missing text argument", c.name)
	}

	body, err := json.Marshal(map[string]any{"text": text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.webhookURL, bytes.NewBuffer(body))
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
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("capability %s: webhook returned %d: %s", c.name, resp.StatusCode, truncate(string(respBody), 200))
	}

	return map[string]any{
		"status":      "sent",
		"status_code": float64(resp.StatusCode),
	}, nil
}
