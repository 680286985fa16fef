// Package upstream is the client for the language-completion service.
//
// The initial connection is retried with linearly increasing backoff; once a
// stream has begun emitting tokens a failure is terminal and surfaces as a
// StreamError so the caller can degrade gracefully.
package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopassist/chatgate/pkg/quota"
)

const doneSentinel = "[DONE]"

// Config holds upstream client configuration.
type Config struct {
	// BaseURL of the completion API (e.g. "https://api.openai.com/v1").
	BaseURL string

	// APIKey authenticates requests. Empty means not configured; callers
	// should check Configured and go straight to their fallback path.
	APIKey string

	// Model is the default completion model.
	Model string

	// Timeout bounds the non-streaming request (default 10s). Streaming
	// requests are bounded by the caller's context instead.
	Timeout time.Duration

	// MaxRetries bounds initial-connection attempts (default 3).
	MaxRetries int

	// RetryBackoff is the base delay; attempt n waits n times this
	// (default 1s, so 1s then 2s).
	RetryBackoff time.Duration

	// MaxIdleConns and IdleConnTimeout tune the pooled transport.
	MaxIdleConns    int
	IdleConnTimeout time.Duration

	Logger  quota.Logger
	Metrics quota.Metrics
}

// Client talks to the completion service over HTTP.
type Client struct {
	config Config
	client *http.Client
}

// New creates an upstream client with a pooled transport.
func New(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RetryBackoff == 0 {
		config.RetryBackoff = time.Second
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 16
	}
	if config.IdleConnTimeout == 0 {
		config.IdleConnTimeout = 90 * time.Second
	}
	if config.Logger == nil {
		config.Logger = &quota.NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &quota.NoopMetrics{}
	}

	transport := &http.Transport{
		MaxIdleConns:        config.MaxIdleConns,
		MaxIdleConnsPerHost: config.MaxIdleConns,
		IdleConnTimeout:     config.IdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}

	return &Client{
		config: config,
		// No client-level timeout: it would cut streams short. The
		// non-streaming path applies config.Timeout per request.
		client: &http.Client{Transport: transport},
	}
}

// Configured reports whether an API credential is present.
func (c *Client) Configured() bool {
	return c.config.APIKey != ""
}

// Model returns the configured default model.
func (c *Client) Model() string {
	return c.config.Model
}

// Complete performs a non-streaming completion bounded by the configured
// timeout.
func (c *Client) Complete(ctx context.Context, req *CompletionRequest) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req.Stream = false
	resp, err := c.connect(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read completion response: %w", err)
	}

	var cr CompletionResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("completion response carried no choices")
	}
	return cr.Choices[0].Message.Content, nil
}

// StreamCompletion opens a streaming completion and relays incremental
// content fragments on the returned channel as they arrive. The returned
// error covers connection establishment only; mid-stream failures arrive as
// a terminal Chunk with Err set. The channel is closed when the stream ends
// for any reason.
func (c *Client) StreamCompletion(ctx context.Context, req *CompletionRequest) (<-chan Chunk, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	req.Stream = true
	resp, err := c.connect(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan Chunk, 16)
	go c.relay(ctx, resp.Body, out)
	return out, nil
}

// connect posts the request, retrying connection failures and retryable
// statuses up to MaxRetries with linear backoff. It never retries once a
// response body has been handed to the caller.
func (c *Client) connect(ctx context.Context, req *CompletionRequest) (*http.Response, error) {
	if req.Model == "" {
		req.Model = c.config.Model
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + "/chat/completions"

	var lastErr error
	for attempt := 1; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(attempt-1) * c.config.RetryBackoff
			c.config.Logger.Debug("retrying upstream connection",
				quota.Field{Key: "attempt", Value: attempt},
				quota.Field{Key: "backoff", Value: backoff.String()})
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create upstream request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

		resp, err := c.client.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			c.config.Metrics.RecordUpstreamAttempt(false)
			c.config.Logger.Warn("upstream connection failed",
				quota.Field{Key: "attempt", Value: attempt},
				quota.Field{Key: "error", Value: err.Error()})
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			c.config.Metrics.RecordUpstreamAttempt(true)
			return resp, nil
		}

		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(errBody)}
		c.config.Metrics.RecordUpstreamAttempt(false)

		if !apiErr.Retryable() {
			return nil, apiErr
		}
		lastErr = apiErr
		c.config.Logger.Warn("upstream returned retryable status",
			quota.Field{Key: "attempt", Value: attempt},
			quota.Field{Key: "status", Value: resp.StatusCode})
	}

	return nil, lastErr
}

// relay parses SSE lines off the response body and forwards content
// fragments immediately, one chunk per fragment.
func (c *Client) relay(ctx context.Context, body io.ReadCloser, out chan<- Chunk) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == doneSentinel {
			return
		}

		var chunk streamResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed keep-alive noise rather than killing the stream.
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if content := chunk.Choices[0].Delta.Content; content != "" {
			select {
			case out <- Chunk{Content: content}:
			case <-ctx.Done():
				return
			}
		}
		if chunk.Choices[0].FinishReason != "" {
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		select {
		case out <- Chunk{Err: &StreamError{Cause: err}}:
		case <-ctx.Done():
		}
	}
}
