// Package workflow is the client for the external workflow-graph service:
// thread creation, thread state reads/updates, and streamed runs. The
// gateway depends on the convention that the generated design lives at
// values.erp_design.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vozerp/consult-gateway/pkg/core"
)

// SentinelNone is the "no thread / no checkpoint" placeholder some callers
// persist instead of an id. Treated case-insensitively.
const SentinelNone = "NONE"

// StreamModeUpdates requests incremental state updates per run step.
const StreamModeUpdates = "updates"

// IsUsableThreadID reports whether id can be sent to the workflow service:
// non-empty, not the NONE sentinel, UUID-shaped.
func IsUsableThreadID(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" || strings.EqualFold(id, SentinelNone) {
		return false
	}
	return uuid.Validate(id) == nil
}

// IsUsableCheckpointID reports whether a checkpoint id names a real
// point-in-time snapshot rather than a sentinel.
func IsUsableCheckpointID(id string) bool {
	id = strings.TrimSpace(id)
	return id != "" && !strings.EqualFold(id, SentinelNone)
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger

	// Per-call deadlines, applied on top of the caller's context.
	// Zero disables: streamed runs are long-lived by default.
	requestTimeout time.Duration
	streamTimeout  time.Duration
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = strings.TrimSpace(key) }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTransportTimeouts rebuilds the default transport with the given
// connect and response-header timeouts. Ignored after WithHTTPClient.
func WithTransportTimeouts(connect, responseHeader time.Duration) Option {
	return func(c *Client) {
		c.httpClient = newDefaultHTTPClient(connect, responseHeader)
	}
}

// WithRequestTimeout caps each non-streaming call (thread creation, state
// reads and writes, health probes).
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithStreamTimeout caps a streamed run end to end, drain included.
func WithStreamTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.streamTimeout = d
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: newDefaultHTTPClient(0, 0),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// newDefaultHTTPClient configures transport-level timeouts while keeping the
// overall request lifetime controlled by context deadlines. No client-level
// Timeout: streamed runs are long-lived.
func newDefaultHTTPClient(connect, responseHeader time.Duration) *http.Client {
	if connect <= 0 {
		connect = 5 * time.Second
	}
	if responseHeader <= 0 {
		responseHeader = 30 * time.Second
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ForceAttemptHTTP2:     true,
		DialContext:           (&net.Dialer{Timeout: connect, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: responseHeader,
	}
	return &http.Client{Transport: transport}
}

// CreateThread creates a new execution thread.
func (c *Client) CreateThread(ctx context.Context) (*Thread, error) {
	var thread Thread
	if err := c.doJSON(ctx, http.MethodPost, "/threads", map[string]any{}, &thread); err != nil {
		return nil, err
	}
	if strings.TrimSpace(thread.ThreadID) == "" {
		return nil, core.NewUpstreamError("workflow", fmt.Errorf("create thread returned no thread_id"))
	}
	return &thread, nil
}

// GetState reads a thread's state. With an unusable checkpoint id the latest
// state is requested instead of a specific snapshot.
func (c *Client) GetState(ctx context.Context, threadID, checkpointID string) (*ThreadState, error) {
	path := "/threads/" + threadID + "/state"
	if IsUsableCheckpointID(checkpointID) {
		path += "/" + strings.TrimSpace(checkpointID)
	}
	var state ThreadState
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// UpdateState writes values into a thread's state, optionally attributed to
// a graph node (asNode).
func (c *Client) UpdateState(ctx context.Context, threadID string, values any, asNode string) error {
	body := map[string]any{"values": values}
	if strings.TrimSpace(asNode) != "" {
		body["as_node"] = asNode
	}
	return c.doJSON(ctx, http.MethodPost, "/threads/"+threadID+"/state", body, nil)
}

// Stream starts a run on the thread and drains its SSE update stream to
// completion. A nil input resumes the graph from its current state.
func (c *Client) Stream(ctx context.Context, threadID, graph string, input *RunInput, mode string) ([]StreamEvent, error) {
	if mode == "" {
		mode = StreamModeUpdates
	}
	body := map[string]any{
		"assistant_id": graph,
		"stream_mode":  mode,
	}
	if input != nil {
		body["input"] = input
	} else {
		body["input"] = nil
	}

	if c.streamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.streamTimeout)
		defer cancel()
	}

	reqURL := c.baseURL + "/threads/" + threadID + "/runs/stream"
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode stream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "stream run", URL: reqURL, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, c.statusError(resp)
	}

	reader := newSSEReader(resp.Body)
	defer reader.Close()

	var events []StreamEvent
	for {
		name, data, err := reader.Next()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return events, ctx.Err()
			}
			return events, &TransportError{Op: "read stream", URL: reqURL, Err: err}
		}
		events = append(events, StreamEvent{Event: name, Data: append([]byte(nil), data...)})
	}
}

// Health probes the service's health endpoint. Readiness checks use it
// to report whether design generation is currently possible.
func (c *Client) Health(ctx context.Context) bool {
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	c.setAuth(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}
	reqURL := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: method + " " + path, URL: reqURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Op: "decode response", URL: reqURL, Err: err}
	}
	return nil
}

func (c *Client) setAuth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
}

func (c *Client) statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = resp.Status
	}
	if resp.StatusCode == http.StatusNotFound {
		return core.NewNotFoundError(fmt.Sprintf("workflow: %s", msg))
	}
	return core.NewUpstreamError("workflow", fmt.Errorf("status %d: %s", resp.StatusCode, msg))
}
