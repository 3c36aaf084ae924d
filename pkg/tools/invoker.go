// Package tools talks to remote tool-serving endpoints. The control
// plane only ever reaches a tool through the Invoker interface; the
// HTTP implementation here is the v0 transport.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Invoker executes a tool on a remote server and returns its decoded
// result.
type Invoker interface {
	Invoke(ctx context.Context, server, tool string, args map[string]any) (any, error)
}

// ExecutionError wraps any failure to execute a remote tool, including
// tool-not-found and transport errors.
type ExecutionError struct {
	Server string
	Tool   string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool execution failed: %s.%s: %v", e.Server, e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Endpoint is one remote tool server.
type Endpoint struct {
	Name      string
	Transport string
	BaseURL   string
}

// HTTPInvoker implements Invoker over HTTP POST. Tools are invoked as
// POST {base_url}/tools/{tool} with the arguments as the JSON body; the
// response body is decoded as JSON and returned as-is.
type HTTPInvoker struct {
	endpoints map[string]Endpoint
	client    *http.Client
	logger    *slog.Logger
}

// DefaultTimeout bounds a single remote tool call.
const DefaultTimeout = 30 * time.Second

// NewHTTPInvoker builds an invoker over the configured endpoints.
// A zero timeout falls back to DefaultTimeout.
func NewHTTPInvoker(endpoints []Endpoint, timeout time.Duration, logger *slog.Logger) *HTTPInvoker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	byName := make(map[string]Endpoint, len(endpoints))
	for _, ep := range endpoints {
		byName[ep.Name] = ep
	}
	return &HTTPInvoker{
		endpoints: byName,
		client:    &http.Client{Timeout: timeout},
		logger:    logger.With("component", "tools"),
	}
}

// Invoke executes the tool and decodes its JSON response.
func (inv *HTTPInvoker) Invoke(ctx context.Context, server, tool string, args map[string]any) (any, error) {
	ep, ok := inv.endpoints[server]
	if !ok {
		return nil, &ExecutionError{Server: server, Tool: tool, Err: fmt.Errorf("unknown server")}
	}

	if args == nil {
		args = map[string]any{}
	}
	body, err := json.Marshal(args)
	if err != nil {
		return nil, &ExecutionError{Server: server, Tool: tool, Err: fmt.Errorf("failed to encode arguments: %w", err)}
	}

	endpoint := strings.TrimSuffix(ep.BaseURL, "/") + "/tools/" + url.PathEscape(tool)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &ExecutionError{Server: server, Tool: tool, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := inv.client.Do(req)
	if err != nil {
		return nil, &ExecutionError{Server: server, Tool: tool, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &ExecutionError{Server: server, Tool: tool, Err: err}
	}

	inv.logger.Debug("tool invoked",
		"server", server,
		"tool", tool,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode == http.StatusNotFound {
		return nil, &ExecutionError{Server: server, Tool: tool, Err: fmt.Errorf("tool not found")}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ExecutionError{Server: server, Tool: tool,
			Err: fmt.Errorf("server returned %d: %s", resp.StatusCode, truncate(string(raw), 200))}
	}

	if len(raw) == 0 {
		return nil, nil
	}
	var result any
	if err := json.Unmarshal(raw, &result); err != nil {
		// Non-JSON responses are passed through as text.
		return string(raw), nil
	}
	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
