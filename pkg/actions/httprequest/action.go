// Package httprequest provides the HTTP request action for workflow steps.
package httprequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/flowq/pkg/models"
)

const defaultTimeoutSeconds = 30

var (
	// ErrURLRequired is returned when the url config key is missing or empty.
	ErrURLRequired = errors.New("missing or invalid 'url' in configuration")
	// ErrServerError is returned when the server answers with a retryable status.
	ErrServerError = errors.New("server error during HTTP request")
)

// Action performs an HTTP request with optional headers, body, and retry logic.
type Action struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string
	Timeout time.Duration
	Retry   RetryConfig
}

// RetryConfig defines in-step retry behavior, separate from dispatch retries.
type RetryConfig struct {
	Attempts int
	Delay    time.Duration
}

func NewAction(config map[string]any) (*Action, error) {
	url, ok := config["url"].(string)
	if !ok || url == "" {
		return nil, ErrURLRequired
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	body, _ := config["body"].(string)

	headers := make(map[string]string)

	if headersConfig, exists := config["headers"]; exists {
		if headersMap, ok := headersConfig.(map[string]any); ok {
			for k, v := range headersMap {
				if strVal, ok := v.(string); ok {
					headers[k] = strVal
				}
			}
		}
	}

	timeout := defaultTimeoutSeconds * time.Second
	if seconds, ok := config["timeout_seconds"].(float64); ok && seconds > 0 {
		timeout = time.Duration(seconds) * time.Second
	}

	retry := RetryConfig{Attempts: 1}
	if retryConfig, exists := config["retry"]; exists {
		retry = parseRetryConfig(retryConfig)
	}

	return &Action{
		URL:     url,
		Method:  strings.ToUpper(method),
		Headers: headers,
		Body:    body,
		Timeout: timeout,
		Retry:   retry,
	}, nil
}

func parseRetryConfig(retryConfig any) RetryConfig {
	retry := RetryConfig{Attempts: 1}

	retryMap, ok := retryConfig.(map[string]any)
	if !ok {
		return retry
	}

	if attempts, ok := retryMap["attempts"].(float64); ok && attempts >= 1 {
		retry.Attempts = int(attempts)
	}

	if delay, ok := retryMap["delay"].(float64); ok && delay >= 0 {
		retry.Delay = time.Duration(delay) * time.Millisecond
	}

	return retry
}

// Execute performs the HTTP request and returns status code, parsed body, and headers.
func (a *Action) Execute(ctx context.Context, execution models.Execution, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("action_type", "http_request", "method", a.Method, "url", a.URL)
	logger.InfoContext(ctx, "Executing HTTP request action")

	var (
		lastErr error
		resp    *http.Response
	)

	client := &http.Client{Timeout: a.Timeout}

	for attempt := 1; attempt <= a.Retry.Attempts; attempt++ {
		if attempt > 1 {
			logger.InfoContext(ctx, fmt.Sprintf("HTTP request retry attempt %d/%d", attempt, a.Retry.Attempts))

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(a.Retry.Delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, a.Method, a.URL, strings.NewReader(a.Body))
		if err != nil {
			return nil, fmt.Errorf("failed to create http request: %w", err)
		}

		for key, value := range a.Headers {
			req.Header.Set(key, value)
		}

		resp, err = client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request failed: %w", err)

			continue
		}

		if resp.StatusCode >= http.StatusInternalServerError && attempt < a.Retry.Attempts {
			closeErr := resp.Body.Close()
			if closeErr != nil {
				logger.ErrorContext(ctx, "failed to close response body", "error", closeErr)
			}

			lastErr = fmt.Errorf("status %d, retrying: %w", resp.StatusCode, ErrServerError)
			resp = nil

			continue
		}

		break
	}

	if resp == nil {
		return nil, fmt.Errorf("all retry attempts failed, last error: %w", lastErr)
	}

	return a.processResponse(ctx, resp, logger)
}

func (a *Action) processResponse(ctx context.Context, resp *http.Response, logger *slog.Logger) (map[string]any, error) {
	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var body any

	err = json.Unmarshal(bodyBytes, &body)
	if err != nil {
		body = string(bodyBytes)

		logger.DebugContext(ctx, "Response is not JSON, returning raw string")
	}

	logger.InfoContext(ctx, "HTTP request action completed",
		"status_code", resp.StatusCode, "body_length", len(bodyBytes))

	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        body,
		"headers":     flattenHeaders(resp.Header),
	}, nil
}

func flattenHeaders(header http.Header) map[string]any {
	out := make(map[string]any, len(header))
	for key := range header {
		out[key] = header.Get(key)
	}

	return out
}
