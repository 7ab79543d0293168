package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaydesk/relaydesk/pkg/tools"
)

const (
	mcpProtocolVersion = "2024-11-05"
	rpcCallTimeout     = 15 * time.Second
)

// JSON-RPC messages for the tool server protocol
type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      interface{} `json:"id,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      interface{}     `json:"id"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type rpcToolList struct {
	Tools []struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		InputSchema json.RawMessage `json:"inputSchema"`
	} `json:"tools"`
}

// StdioAdapter launches local tool server processes and speaks JSON-RPC
// over their stdin/stdout.
type StdioAdapter struct{}

// NewStdioAdapter creates a stdio transport adapter
func NewStdioAdapter() *StdioAdapter {
	return &StdioAdapter{}
}

// Type returns TransportStdio
func (a *StdioAdapter) Type() TransportType { return TransportStdio }

// Create validates the command line and builds an unconnected source. The
// process is not launched until Connect, so a malformed command fails
// here instead of leaking a broken process.
func (a *StdioAdapter) Create(ctx context.Context, desc *IntegrationDescriptor) (ToolSource, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	command, args, err := splitCommand(stringCredential(desc.Credentials, "command"))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadConfiguration, desc.Name, err)
	}

	return &stdioSource{
		integration: desc.Name,
		command:     command,
		args:        args,
		selected:    desc.SelectedToolSet(),
		pending:     make(map[int]chan *rpcResponse),
	}, nil
}

// splitCommand validates minimal well-formedness of a tool server command
// line: a non-empty interpreter or executable token followed by
// whitespace-separated arguments, free of shell metacharacters (the
// command is executed directly, not through a shell).
func splitCommand(raw string) (string, []string, error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("command is empty")
	}
	for _, field := range fields {
		if strings.ContainsAny(field, ";|&<>`$") {
			return "", nil, fmt.Errorf("command contains shell metacharacters: %q", field)
		}
	}
	return fields[0], fields[1:], nil
}

// stdioSource is a connected local tool server handle.
type stdioSource struct {
	integration string
	command     string
	args        []string
	selected    map[string]bool

	mu        sync.Mutex
	process   *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Scanner
	connected bool
	closed    bool
	nextID    int
	pending   map[int]chan *rpcResponse
}

// Integration returns the integration name
func (s *stdioSource) Integration() string { return s.integration }

// Kind returns SourceKindServer
func (s *stdioSource) Kind() SourceKind { return SourceKindServer }

// Connect launches the tool server process and performs the initialize
// handshake.
func (s *stdioSource) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSourceClosed
	}
	if s.connected {
		s.mu.Unlock()
		return nil
	}

	// The process must outlive the request that triggered construction:
	// its lifetime is the session's, not the context's.
	cmd := exec.Command(s.command, s.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: starting %s: %v", ErrConnection, s.command, err)
	}

	s.process = cmd
	s.stdin = stdin
	s.stdout = bufio.NewScanner(stdout)
	s.connected = true
	s.mu.Unlock()

	go s.listen()

	if err := s.initialize(ctx); err != nil {
		s.Close()
		return fmt.Errorf("%w: initialize handshake with %s: %v", ErrConnection, s.integration, err)
	}

	return nil
}

func (s *stdioSource) listen() {
	for s.stdout.Scan() {
		var resp rpcResponse
		if err := json.Unmarshal(s.stdout.Bytes(), &resp); err != nil {
			log.Error().
				Err(err).
				Str("integration", s.integration).
				Msg("Failed to unmarshal tool server response")
			continue
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
}

func (s *stdioSource) initialize(ctx context.Context) error {
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

func (s *stdioSource) call(ctx context.Context, method string, params interface{}) (*rpcResponse, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSourceClosed
	}
	s.nextID++
	id := s.nextID
	ch := make(chan *rpcResponse, 1)
	s.pending[id] = ch
	stdin := s.stdin
	s.mu.Unlock()

	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	if _, err := io.WriteString(stdin, string(data)+"\n"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	select {
	case resp := <-ch:
		if resp == nil {
			// The channel was closed by Close while we were waiting.
			return nil, ErrSourceClosed
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("tool server error (%d): %s", resp.Error.Code, resp.Error.Message)
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(rpcCallTimeout):
		return nil, fmt.Errorf("tool server request timed out: %s", method)
	}
}

// Tools fetches the tool catalog, applies the integration's tool
// selection, and binds handlers to this source.
func (s *stdioSource) Tools(ctx context.Context) ([]tools.ToolDefinition, error) {
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
		if s.selected != nil && !s.selected[t.Name] {
			continue
		}

		name := t.Name
		def := tools.ToolDefinition{
			Name:        name,
			Description: t.Description,
			Parameters:  parseToolParameters(t.InputSchema),
			Integration: s.integration,
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				return s.CallTool(ctx, name, params)
			},
		}
		defs = append(defs, def)
	}

	return defs, nil
}

// CallTool invokes one tool on the server.
func (s *stdioSource) CallTool(ctx context.Context, name string, params map[string]interface{}) (map[string]interface{}, error) {
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

// Close terminates the tool server process. Closing twice is a no-op.
func (s *stdioSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	// Unblock any callers waiting on a response.
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}

	var err error
	if s.stdin != nil {
		err = s.stdin.Close()
	}
	if s.process != nil && s.process.Process != nil {
		if killErr := s.process.Process.Kill(); killErr != nil && err == nil {
			err = killErr
		}
		go s.process.Wait()
	}

	return err
}

func parseToolParameters(schema json.RawMessage) []tools.ToolParameter {
	if len(schema) == 0 {
		return nil
	}

	var schemaMap map[string]interface{}
	if err := json.Unmarshal(schema, &schemaMap); err != nil {
		return nil
	}

	properties, ok := schemaMap["properties"].(map[string]interface{})
	if !ok {
		return nil
	}

	required := make(map[string]bool)
	if reqList, ok := schemaMap["required"].([]interface{}); ok {
		for _, r := range reqList {
			if name, ok := r.(string); ok {
				required[name] = true
			}
		}
	}

	params := make([]tools.ToolParameter, 0, len(properties))
	for name, propData := range properties {
		prop, ok := propData.(map[string]interface{})
		if !ok {
			continue
		}
		param := tools.ToolParameter{
			Name:     name,
			Required: required[name],
		}
		if typeVal, ok := prop["type"].(string); ok {
			param.Type = typeVal
		}
		if desc, ok := prop["description"].(string); ok {
			param.Description = desc
		}
		if defVal, ok := prop["default"]; ok {
			param.Default = defVal
		}
		params = append(params, param)
	}

	return params
}
