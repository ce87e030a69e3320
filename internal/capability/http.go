package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// httpClient performs arbitrary HTTP requests against allowed origins.
type httpClient struct {
	name         string
	client       *http.Client
	maxBodyBytes int64
	allowedHosts []string
}

func newHTTPClient(spec Spec) *httpClient {
	timeout := time.Duration(getInt(spec.Settings, "timeout_seconds", 30)) * time.Second

	var hosts []string
	if raw, ok := spec.Settings["allowed_hosts"].([]any); ok {
		for _, h := range raw {
			if s, ok := h.(string); ok {
				hosts = append(hosts, s)
			}
		}
	}

	return &httpClient{
		name:         spec.Name,
		client:       &http.Client{Timeout: timeout},
		maxBodyBytes: int64(getInt(spec.Settings, "max_body_kb", 512)) * 1024,
		allowedHosts: hosts,
	}
}

func (c *httpClient) Name() string { return c.name }

func (c *httpClient) Invoke(ctx context.Context, args map[string]any) (map[string]any, error) {
	url, _ := args["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("capability %s: missing url argument", c.name)
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("capability %s: url must be http or https", c.name)
	}
	if len(c.allowedHosts) > 0 && !c.hostAllowed(url) {
		return nil, fmt.Errorf("capability %s: host not in allowed list", c.name)
	}

	method := strings.ToUpper(getString(args, "method", "GET"))
	switch method {
	case "GET", "POST", "PUT", "PATCH", "DELETE", "HEAD":
	default:
		return nil, fmt.Errorf("capability %s: unsupported method %q", c.name, method)
	}

	var body io.Reader
	if rawBody, ok := args["body"]; ok && rawBody != nil {
		switch b := rawBody.(type) {
		case string:
			body = strings.NewReader(b)
		default:
			encoded, err := json.Marshal(b)
			if err != nil {
				return nil, fmt.Errorf("capability %s: failed to encode body: %w", c.name, err)
			}
			body = strings.NewReader(string(encoded))
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if headers, ok := args["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}
	if req.Header.Get("Content-Type") == "" && body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("capability %s: request failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("capability %s: failed to read response: %w", c.name, err)
	}

	return map[string]any{
		"status_code": float64(resp.StatusCode),
		"body":        string(respBody),
	}, nil
}

func (c *httpClient) hostAllowed(url string) bool {
	rest := strings.TrimPrefix(strings.TrimPrefix(url, "https://"), "http://")
	host := rest
	if idx := strings.IndexAny(rest, "/:"); idx != -1 {
		host = rest[:idx]
	}
	for _, allowed := range c.allowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}
