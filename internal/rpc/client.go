// Package rpc executes single JSON-RPC 2.0 calls against the remote SSO
// service. One call, no retries; callers decide retry policy. Latency is
// bounded only by the injected http.Client's timeout.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/avoinelab/ssobridge/internal/httpx"
	"github.com/avoinelab/ssobridge/internal/observability/logger"
	"github.com/google/uuid"
)

// Method names the remote service understands.
const (
	MethodGetUser     = "GetUser"
	MethodGetUserData = "GetUserData"
)

var (
	ErrNotConfigured = errors.New("rpc: endpoint or key not configured")
	ErrTransport     = errors.New("rpc: transport failure")
	ErrBadStatus     = errors.New("rpc: unexpected status")
	ErrEmptyBody     = errors.New("rpc: empty response body")
	ErrBadEnvelope   = errors.New("rpc: malformed response envelope")
)

// Client issues calls against the remote SSO service.
type Client interface {
	// Call sends method with the shared key and remoteID as positional
	// params and returns the result payload verbatim. remoteID may be
	// empty, in which case null is sent.
	Call(ctx context.Context, remoteID, method string) (json.RawMessage, error)
}

// Deps holds the client's collaborators. Endpoint and Key are read per
// call with the call's context so hook overrides of the configuration
// take effect immediately and can inspect the request they run under.
type Deps struct {
	HTTPClient *http.Client
	Endpoint   func(context.Context) string
	Key        func(context.Context) string
}

type client struct {
	deps Deps
}

// New creates a Client. A nil HTTPClient falls back to
// http.DefaultClient; production wiring injects one with a timeout.
func New(deps Deps) Client {
	if deps.HTTPClient == nil {
		deps.HTTPClient = http.DefaultClient
	}
	return &client{deps: deps}
}

type requestEnvelope struct {
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  [2]any `json:"params"`
	JSONRPC string `json:"jsonrpc"`
}

type responseEnvelope struct {
	ID     *string         `json:"id"`
	Result json.RawMessage `json:"result"`
}

func (c *client) Call(ctx context.Context, remoteID, method string) (json.RawMessage, error) {
	log := logger.From(ctx).With(
		logger.Layer("client"),
		logger.Component("rpc"),
		logger.String("rpc_method", method),
	)

	endpoint := c.deps.Endpoint(ctx)
	key := c.deps.Key(ctx)
	if endpoint == "" || key == "" {
		httpx.RecordRPCCall(method, "not_configured")
		return nil, ErrNotConfigured
	}

	var remoteParam any
	if remoteID != "" {
		remoteParam = remoteID
	}

	env := requestEnvelope{
		ID:      uuid.NewString(),
		Method:  method,
		Params:  [2]any{key, remoteParam},
		JSONRPC: "2.0",
	}

	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("rpc: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rpc: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.deps.HTTPClient.Do(req)
	if err != nil {
		log.Debug("transport failure", logger.Err(err))
		httpx.RecordRPCCall(method, "transport_error")
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Debug("unexpected status", logger.Status(resp.StatusCode))
		httpx.RecordRPCCall(method, "bad_status")
		return nil, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		httpx.RecordRPCCall(method, "transport_error")
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		httpx.RecordRPCCall(method, "empty_body")
		return nil, ErrEmptyBody
	}

	var out responseEnvelope
	if err := json.Unmarshal(raw, &out); err != nil {
		log.Debug("malformed envelope", logger.Err(err))
		httpx.RecordRPCCall(method, "bad_envelope")
		return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if out.ID == nil {
		httpx.RecordRPCCall(method, "bad_envelope")
		return nil, fmt.Errorf("%w: missing id", ErrBadEnvelope)
	}
	if len(out.Result) == 0 || string(out.Result) == "null" {
		httpx.RecordRPCCall(method, "bad_envelope")
		return nil, fmt.Errorf("%w: missing result", ErrBadEnvelope)
	}

	httpx.RecordRPCCall(method, "ok")
	return out.Result, nil
}
