package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Client is the completion surface the synthesizer depends on. The HTTP
// gateway implements it for real providers; tests substitute scripted
// clients.
type Client interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// ErrorKind splits gateway failures into the two classes callers care
// about: transient ones worth retrying and fatal ones that are not.
type ErrorKind string

const (
	KindTransient ErrorKind = "transient"
	KindFatal     ErrorKind = "fatal"
)

// GatewayError wraps a failed completion attempt.
type GatewayError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Cause      error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm gateway: %s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("llm gateway: %s: %s", e.Kind, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Cause }

// Retryable reports whether the failure is worth another attempt.
func (e *GatewayError) Retryable() bool { return e.Kind == KindTransient }

// Config holds gateway settings, normally loaded from the environment.
// Temperature is a pointer so an explicit 0 is distinguishable from
// unset; nil selects the default.
type Config struct {
	BaseURL           string
	APIKey            string
	Model             string
	Temperature       *float64
	RequestTimeout    time.Duration
	MaxRetries        int
	RequestsPerSecond float64
}

// Gateway talks to an OpenAI-compatible chat completions endpoint. It
// rate-limits outbound requests and retries transient failures with
// exponential backoff.
type Gateway struct {
	config  Config
	client  *http.Client
	limiter *rate.Limiter
	backoff *backoffCalculator
	logger  *logrus.Logger
}

// NewGateway builds a gateway from config, applying defaults for anything
// unset.
func NewGateway(config Config, logger *logrus.Logger) *Gateway {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 120 * time.Second
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 2.0
	}
	if config.Temperature == nil {
		defaultTemp := 0.3
		config.Temperature = &defaultTemp
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Gateway{
		config:  config,
		client:  &http.Client{Timeout: config.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), int(math.Max(1, config.RequestsPerSecond*2))),
		backoff: newBackoffCalculator(1000, 30000, 2.0, 20),
		logger:  logger,
	}
}

// Complete sends a system+user message pair and returns the assistant
// content. Transient failures are retried up to MaxRetries times; fatal
// failures return immediately.
func (g *Gateway) Complete(ctx context.Context, system, user string) (string, error) {
	var lastErr error

	for attempt := 0; attempt < g.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := g.backoff.NextDelay(attempt - 1)
			g.logger.WithFields(logrus.Fields{
				"attempt": attempt + 1,
				"delay":   delay.String(),
			}).Warn("Retrying completion after transient failure")

			select {
			case <-ctx.Done():
				return "", &GatewayError{Kind: KindTransient, Message: "context cancelled during backoff", Cause: ctx.Err()}
			case <-time.After(delay):
			}
		}

		if err := g.limiter.Wait(ctx); err != nil {
			return "", &GatewayError{Kind: KindTransient, Message: "rate limiter wait aborted", Cause: err}
		}

		content, err := g.completeOnce(ctx, system, user)
		if err == nil {
			return content, nil
		}

		lastErr = err
		var gerr *GatewayError
		if !errors.As(err, &gerr) || !gerr.Retryable() {
			return "", err
		}
	}

	return "", lastErr
}

func (g *Gateway) completeOnce(ctx context.Context, system, user string) (string, error) {
	requestBody := map[string]interface{}{
		"model": g.config.Model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"stream":          false,
		"temperature":     *g.config.Temperature,
		"response_format": map[string]string{"type": "json_object"},
	}

	reqBody, err := json.Marshal(requestBody)
	if err != nil {
		return "", &GatewayError{Kind: KindFatal, Message: "failed to marshal request", Cause: err}
	}

	url := strings.TrimRight(g.config.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(reqBody))
	if err != nil {
		return "", &GatewayError{Kind: KindFatal, Message: "failed to create request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.config.APIKey)

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", &GatewayError{Kind: KindTransient, Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &GatewayError{Kind: KindTransient, Message: "failed to read response body", Cause: err}
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(resp.StatusCode, body)
	}

	var apiResponse struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return "", &GatewayError{Kind: KindTransient, Message: "failed to parse API response", Cause: err}
	}
	if len(apiResponse.Choices) == 0 {
		return "", &GatewayError{Kind: KindTransient, Message: "no choices in response"}
	}

	content := apiResponse.Choices[0].Message.Content
	g.logger.WithFields(logrus.Fields{
		"model":    g.config.Model,
		"chars":    len(content),
		"duration": time.Since(start).String(),
	}).Debug("Completion received")

	return content, nil
}

// classifyStatus maps HTTP status codes onto the transient/fatal split.
// 429 and 5xx are retried; other 4xx mean the request itself is wrong.
func classifyStatus(status int, body []byte) *GatewayError {
	msg := string(body)
	if len(msg) > 300 {
		msg = msg[:300]
	}
	kind := KindFatal
	if status == http.StatusTooManyRequests || status >= 500 {
		kind = KindTransient
	}
	return &GatewayError{Kind: kind, StatusCode: status, Message: msg}
}

// backoffCalculator computes retry delays with exponential backoff and
// jitter.
type backoffCalculator struct {
	initialDelay  time.Duration
	maxDelay      time.Duration
	multiplier    float64
	jitterPercent int
}

func newBackoffCalculator(initialDelayMs, maxDelayMs int, multiplier float64, jitterPercent int) *backoffCalculator {
	return &backoffCalculator{
		initialDelay:  time.Duration(initialDelayMs) * time.Millisecond,
		maxDelay:      time.Duration(maxDelayMs) * time.Millisecond,
		multiplier:    multiplier,
		jitterPercent: jitterPercent,
	}
}

// NextDelay calculates the delay for the given attempt number (0-indexed).
func (b *backoffCalculator) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(b.initialDelay) * math.Pow(b.multiplier, float64(attempt))
	if delay > float64(b.maxDelay) {
		delay = float64(b.maxDelay)
	}

	if b.jitterPercent > 0 {
		jitterRange := delay * float64(b.jitterPercent) / 100.0
		delay += (rand.Float64()*2 - 1) * jitterRange
	}

	if delay < 0 {
		delay = float64(b.initialDelay)
	}
	return time.Duration(delay)
}
