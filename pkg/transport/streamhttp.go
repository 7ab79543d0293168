package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaydesk/relaydesk/pkg/tools"
)

// HeaderSelectedTools carries the integration's tool selection to backend
// endpoints that support server-side catalog filtering. The value is a
// JSON array of tool names.
const HeaderSelectedTools = "x-mcp-selected-tools"

// headerInjector applies one auth variant to an outgoing request
type headerInjector func(h http.Header)

// buildHeaderInjector constructs the header injector for the descriptor's
// auth block. Variants: none, bearer, api-key-header, basic.
func buildHeaderInjector(creds map[string]interface{}) (headerInjector, error) {
	raw, ok := creds["auth"]
	if !ok || raw == nil {
		return func(http.Header) {}, nil
	}

	auth, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("auth block must be an object")
	}

	authType, _ := auth["type"].(string)
	switch authType {
	case "", "none":
		return func(http.Header) {}, nil
	case "bearer":
		token, _ := auth["token"].(string)
		if token == "" {
			return nil, fmt.Errorf("bearer auth requires a token")
		}
		return func(h http.Header) {
			h.Set("Authorization", "Bearer "+token)
		}, nil
	case "api-key-header":
		header, _ := auth["header"].(string)
		key, _ := auth["key"].(string)
		if header == "" || key == "" {
			return nil, fmt.Errorf("api-key-header auth requires header and key")
		}
		return func(h http.Header) {
			h.Set(header, key)
		}, nil
	case "basic":
		username, _ := auth["username"].(string)
		password, _ := auth["password"].(string)
		if username == "" {
			return nil, fmt.Errorf("basic auth requires a username")
		}
		return func(h http.Header) {
			req := http.Request{Header: h}
			req.SetBasicAuth(username, password)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported auth type: %q", authType)
	}
}

// HTTPAdapter connects to streamable HTTP tool servers: requests are
// JSON-RPC posts, server messages arrive on a persistent SSE stream.
type HTTPAdapter struct {
	policy ReconnectPolicy
}

// NewHTTPAdapter creates an HTTP transport adapter. A zero policy
// disables reconnection (non-production posture).
func NewHTTPAdapter(policy ReconnectPolicy) *HTTPAdapter {
	return &HTTPAdapter{policy: policy}
}

// Type returns TransportHTTP
func (a *HTTPAdapter) Type() TransportType { return TransportHTTP }

// Create validates the endpoint and auth block and builds an unconnected
// source.
func (a *HTTPAdapter) Create(ctx context.Context, desc *IntegrationDescriptor) (ToolSource, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	endpoint := stringCredential(desc.Credentials, "endpointUrl")
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("%w: %s: bad endpoint url: %v", ErrBadConfiguration, desc.Name, err)
	}

	inject, err := buildHeaderInjector(desc.Credentials)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadConfiguration, desc.Name, err)
	}

	return &httpSource{
		integration: desc.Name,
		endpoint:    endpoint,
		inject:      inject,
		selected:    desc.SelectedTools,
		policy:      a.policy,
		client:      &http.Client{},
		pending:     make(map[int]chan *rpcResponse),
		done:        make(chan struct{}),
	}, nil
}

// httpSource is a connected streamable HTTP tool server handle.
type httpSource struct {
	integration string
	endpoint    string
	inject      headerInjector
	selected    []string
	policy      ReconnectPolicy
	client      *http.Client

	mu        sync.Mutex
	stream    io.ReadCloser
	connected bool
	closed    bool
	nextID    int
	pending   map[int]chan *rpcResponse

	done      chan struct{}
	closeOnce sync.Once
}

// Integration returns the integration name
func (s *httpSource) Integration() string { return s.integration }

// Kind returns SourceKindServer
func (s *httpSource) Kind() SourceKind { return SourceKindServer }

func (s *httpSource) applyHeaders(h http.Header) {
	s.inject(h)
	if len(s.selected) > 0 {
		// Enforcement is server-side; servers without catalog filtering
		// ignore this header and expose everything.
		if data, err := json.Marshal(s.selected); err == nil {
			h.Set(HeaderSelectedTools, string(data))
		}
	}
}

// Connect opens the persistent event stream and performs the initialize
// handshake.
func (s *httpSource) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSourceClosed
	}
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	stream, err := s.openStream(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.stream = stream
	s.connected = true
	s.mu.Unlock()

	go s.readLoop(stream)

	if err := s.initialize(ctx); err != nil {
		s.Close()
		return fmt.Errorf("%w: initialize handshake with %s: %v", ErrConnection, s.integration, err)
	}

	return nil
}

func (s *httpSource) openStream(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	req.Header.Set("Accept", "text/event-stream")
	s.applyHeaders(req.Header)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: opening stream to %s: %v", ErrConnection, s.endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: stream endpoint returned %d", ErrConnection, resp.StatusCode)
	}

	return resp.Body, nil
}

// readLoop consumes SSE events from the stream and dispatches JSON-RPC
// responses to waiting callers. On stream failure it reconnects within
// the adapter's bounded policy.
func (s *httpSource) readLoop(stream io.ReadCloser) {
	for {
		s.consumeStream(stream)

		select {
		case <-s.done:
			return
		default:
		}

		next, err := s.reconnect()
		if err != nil {
			log.Error().
				Err(err).
				Str("integration", s.integration).
				Msg("Event stream lost")
			s.mu.Lock()
			s.connected = false
			s.mu.Unlock()
			return
		}
		stream = next
	}
}

func (s *httpSource) consumeStream(stream io.ReadCloser) {
	defer stream.Close()

	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var data bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if data.Len() > 0 {
				s.dispatch(data.Bytes())
				data.Reset()
			}
			continue
		}
		if payload, ok := strings.CutPrefix(line, "data:"); ok {
			data.WriteString(strings.TrimSpace(payload))
		}
	}
}

func (s *httpSource) reconnect() (io.ReadCloser, error) {
	if !s.policy.Enabled() {
		return nil, ErrReconnectExhausted
	}

	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		select {
		case <-s.done:
			return nil, ErrSourceClosed
		case <-time.After(s.policy.BackoffFor(attempt)):
		}

		stream, err := s.openStream(context.Background())
		if err == nil {
			log.Info().
				Str("integration", s.integration).
				Int("attempt", attempt).
				Msg("Event stream reconnected")
			s.mu.Lock()
			s.stream = stream
			s.mu.Unlock()
			return stream, nil
		}

		log.Warn().
			Err(err).
			Str("integration", s.integration).
			Int("attempt", attempt).
			Int("max_attempts", s.policy.MaxAttempts).
			Msg("Event stream reconnect failed")
	}

	return nil, fmt.Errorf("%w: %d attempts", ErrReconnectExhausted, s.policy.MaxAttempts)
}

func (s *httpSource) dispatch(data []byte) {
	var resp rpcResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		log.Debug().
			Err(err).
			Str("integration", s.integration).
			Msg("Ignoring non-JSON-RPC stream event")
		return
	}

	if id, ok := resp.ID.(float64); ok {
		s.mu.Lock()
		ch, exists := s.pending[int(id)]
		if exists {
			delete(s.pending, int(id))
			ch <- &resp
		}
		s.mu.Unlock()
	}
}

func (s *httpSource) initialize(ctx context.Context) error {
	params := map[string]interface{}{
		"protocolVersion": mcpProtocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    "relaydesk",
			"version": "0.1.0",
		},
	}
	_, err := s.call(ctx, "initialize", params)
	return err
}

// call posts one JSON-RPC request. Servers either answer inline with a
// JSON body or acknowledge with 202 and deliver the response on the event
// stream.
func (s *httpSource) call(ctx context.Context, method string, params interface{}) (*rpcResponse, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSourceClosed
	}
	s.nextID++
	id := s.nextID
	ch := make(chan *rpcResponse, 1)
	s.pending[id] = ch
	s.mu.Unlock()

	cleanup := func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	})
	if err != nil {
		cleanup()
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		cleanup()
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	s.applyHeaders(req.Header)

	httpResp, err := s.client.Do(req)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer httpResp.Body.Close()

	switch {
	case httpResp.StatusCode == http.StatusOK && strings.HasPrefix(httpResp.Header.Get("Content-Type"), "application/json"):
		cleanup()
		var resp rpcResponse
		if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
			return nil, err
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("tool server error (%d): %s", resp.Error.Code, resp.Error.Message)
		}
		return &resp, nil

	case httpResp.StatusCode == http.StatusOK || httpResp.StatusCode == http.StatusAccepted:
		// Response arrives on the event stream.
		select {
		case resp := <-ch:
			if resp == nil {
				return nil, ErrSourceClosed
			}
			if resp.Error != nil {
				return nil, fmt.Errorf("tool server error (%d): %s", resp.Error.Code, resp.Error.Message)
			}
			return resp, nil
		case <-ctx.Done():
			cleanup()
			return nil, ctx.Err()
		case <-time.After(rpcCallTimeout):
			cleanup()
			return nil, fmt.Errorf("tool server request timed out: %s", method)
		}

	default:
		cleanup()
		return nil, fmt.Errorf("%w: endpoint returned %d", ErrConnection, httpResp.StatusCode)
	}
}

// Tools fetches the tool catalog and binds handlers to this source. The
// selection header was already sent; servers that cannot filter expose
// their whole catalog, which is reported upstream rather than filtered
// locally.
func (s *httpSource) Tools(ctx context.Context) ([]tools.ToolDefinition, error) {
	resp, err := s.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}

	var list rpcToolList
	if err := json.Unmarshal(resp.Result, &list); err != nil {
		return nil, err
	}

	defs := make([]tools.ToolDefinition, 0, len(list.Tools))
	for _, t := range list.Tools {
		name := t.Name
		defs = append(defs, tools.ToolDefinition{
			Name:        name,
			Description: t.Description,
			Parameters:  parseToolParameters(t.InputSchema),
			Integration: s.integration,
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				return s.CallTool(ctx, name, params)
			},
		})
	}

	return defs, nil
}

// CallTool invokes one tool on the server.
func (s *httpSource) CallTool(ctx context.Context, name string, params map[string]interface{}) (map[string]interface{}, error) {
	resp, err := s.call(ctx, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": params,
	})
	if err != nil {
		return nil, err
	}

	var result map[string]interface{}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Close tears down the stream. Closing twice is a no-op.
func (s *httpSource) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		s.closed = true
		s.connected = false
		for id, ch := range s.pending {
			close(ch)
			delete(s.pending, id)
		}
		stream := s.stream
		s.stream = nil
		s.mu.Unlock()

		if stream != nil {
			stream.Close()
		}
	})
	return nil
}
