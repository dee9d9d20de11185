package toolexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/errs"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/redact"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
)

// maxResponseBytes caps how much of a tool response is read into memory.
const maxResponseBytes = 4 << 20

// HTTPProvider dispatches http/rest/webhook tools. One shared client
// serves all invocations; per-call timeouts come from the tool config.
type HTTPProvider struct {
	client     *http.Client
	urls       *URLChecker
	maxRetries int
	retryDelay time.Duration
}

// NewHTTPProvider creates the provider with the given URL checker.
func NewHTTPProvider(urls *URLChecker) *HTTPProvider {
	return &HTTPProvider{
		client:     &http.Client{},
		urls:       urls,
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}
}

// Name implements Provider.
func (p *HTTPProvider) Name() string { return "http" }

// Close releases idle connections.
func (p *HTTPProvider) Close() {
	p.client.CloseIdleConnections()
}

// Execute implements Provider. Transient failures (connection errors,
// timeouts, HTTP 5xx/408/429) are retried with linear backoff; 401/403
// fail immediately as auth errors; other 4xx are terminal.
func (p *HTTPProvider) Execute(ctx context.Context, tenantID string, def *models.ToolDefinition, payload map[string]any) (map[string]any, error) {
	ep := def.Config.EndpointConfig
	if ep == nil || ep.URL == "" {
		return nil, errs.NewValidationError("endpointConfig", "http tool has no endpoint URL")
	}
	if err := p.urls.Check(ep.URL); err != nil {
		return nil, err
	}

	method := strings.ToUpper(ep.Method)
	if method == "" {
		method = http.MethodPost
	}

	headers, err := p.buildHeaders(tenantID, def)
	if err != nil {
		return nil, err
	}

	timeout := defaultTimeout
	if ep.TimeoutSeconds > 0 {
		timeout = time.Duration(ep.TimeoutSeconds) * time.Second
	}

	logger := slog.With("tool_id", def.ID, "tool_name", def.Name, "tenant_id", tenantID,
		"method", method, "url", ep.URL)

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			delay := p.backoff(attempt, lastErr)
			logger.Warn("Retrying tool call", "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, errs.NewTransientError("http dispatch", 0, ctx.Err())
			}
		}

		output, err := p.dispatch(ctx, def.Name, method, ep.URL, headers, payload, timeout, logger)
		if err == nil {
			return output, nil
		}
		if !errs.Retryable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (p *HTTPProvider) dispatch(ctx context.Context, toolName, method, rawURL string, headers map[string]string, payload map[string]any, timeout time.Duration, logger *slog.Logger) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	reqURL := rawURL
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, errs.NewValidationError("input_payload", fmt.Sprintf("not JSON-encodable: %v", err))
		}
		body = bytes.NewReader(encoded)
	case http.MethodGet:
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, errs.NewValidationError("endpointConfig.url", err.Error())
		}
		q := u.Query()
		for k, v := range payload {
			q.Set(k, fmt.Sprintf("%v", v))
		}
		u.RawQuery = q.Encode()
		reqURL = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, errs.NewValidationError("endpointConfig", err.Error())
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	logger.Debug("Dispatching tool call",
		"headers", redact.Headers(headers), "payload", redact.Map(payload))

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errs.NewTransientError("http dispatch", 0, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errs.NewTransientError("http response read", resp.StatusCode, err)
	}

	logger.Debug("Tool call returned", "status", resp.StatusCode, "duration", time.Since(start))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errs.NewAuthError(toolName, resp.StatusCode, strings.TrimSpace(string(raw)))
	case resp.StatusCode >= 500,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests:
		return nil, &retryAfterError{
			err:        errs.NewTransientError("http dispatch", resp.StatusCode, fmt.Errorf("%s", strings.TrimSpace(string(raw)))),
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode >= 400:
		return nil, errs.NewValidationError("response",
			fmt.Sprintf("tool returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	return decodeOutput(raw), nil
}

func decodeOutput(raw []byte) map[string]any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err == nil {
		return out
	}
	// Non-object responses are preserved verbatim.
	return map[string]any{"raw": string(raw)}
}

// buildHeaders assembles content-type plus auth. API keys come from env:
// TOOL_<TENANT>_<NAME>_API_KEY preferred, TOOL_<NAME>_API_KEY fallback.
func (p *HTTPProvider) buildHeaders(tenantID string, def *models.ToolDefinition) (map[string]string, error) {
	headers := map[string]string{"Content-Type": "application/json"}
	if ep := def.Config.EndpointConfig; ep != nil {
		for k, v := range ep.Headers {
			headers[k] = v
		}
	}

	switch def.Config.AuthType {
	case models.AuthTypeAPIKey:
		key := lookupAPIKey(tenantID, def.Name)
		if key == "" {
			return nil, errs.NewAuthError(def.Name, 0,
				fmt.Sprintf("no API key in env (%s or %s)", apiKeyEnv(tenantID, def.Name), apiKeyEnv("", def.Name)))
		}
		headers["Authorization"] = "Bearer " + key
	case models.AuthTypeOAuthStub:
		headers["Authorization"] = "Bearer oauth-stub-token"
	}
	return headers, nil
}

var envSanitizer = regexp.MustCompile(`[^A-Z0-9]+`)

func envSegment(s string) string {
	return envSanitizer.ReplaceAllString(strings.ToUpper(s), "_")
}

func apiKeyEnv(tenantID, toolName string) string {
	if tenantID == "" {
		return fmt.Sprintf("TOOL_%s_API_KEY", envSegment(toolName))
	}
	return fmt.Sprintf("TOOL_%s_%s_API_KEY", envSegment(tenantID), envSegment(toolName))
}

func lookupAPIKey(tenantID, toolName string) string {
	if key := os.Getenv(apiKeyEnv(tenantID, toolName)); key != "" {
		return key
	}
	return os.Getenv(apiKeyEnv("", toolName))
}

// retryAfterError carries the server-suggested delay with a transient error.
type retryAfterError struct {
	err        error
	retryAfter time.Duration
}

func (e *retryAfterError) Error() string { return e.err.Error() }
func (e *retryAfterError) Unwrap() error { return e.err }

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// backoff is linear: retry_delay × attempt, or the server's Retry-After
// when it suggests a longer wait.
func (p *HTTPProvider) backoff(attempt int, lastErr error) time.Duration {
	delay := p.retryDelay * time.Duration(attempt)
	var ra *retryAfterError
	if lastErr != nil {
		if e, ok := lastErr.(*retryAfterError); ok {
			ra = e
		}
	}
	if ra != nil && ra.retryAfter > delay {
		return ra.retryAfter
	}
	return delay
}
