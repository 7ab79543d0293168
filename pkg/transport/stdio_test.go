package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantCmd  string
		wantArgs []string
		wantErr  bool
	}{
		{
			name:    "bare executable",
			input:   "mcp-server",
			wantCmd: "mcp-server",
		},
		{
			name:     "interpreter with arguments",
			input:    "npx -y @modelcontextprotocol/server-filesystem /tmp",
			wantCmd:  "npx",
			wantArgs: []string{"-y", "@modelcontextprotocol/server-filesystem", "/tmp"},
		},
		{
			name:     "extra whitespace",
			input:    "  python3   server.py  ",
			wantCmd:  "python3",
			wantArgs: []string{"server.py"},
		},
		{name: "empty", input: "", wantErr: true},
		{name: "whitespace only", input: "   ", wantErr: true},
		{name: "pipe metacharacter", input: "mcp-server | tee log", wantErr: true},
		{name: "command substitution", input: "mcp-server $(whoami)", wantErr: true},
		{name: "redirect", input: "mcp-server > /tmp/out", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, args, err := splitCommand(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCmd, cmd)
			if len(tt.wantArgs) > 0 {
				assert.Equal(t, tt.wantArgs, args)
			} else {
				assert.Empty(t, args)
			}
		})
	}
}

func TestStdioAdapterCreateRejectsBadCommand(t *testing.T) {
	adapter := NewStdioAdapter()

	_, err := adapter.Create(context.Background(), &IntegrationDescriptor{
		Type: TransportStdio,
		Name: "fs",
		Credentials: map[string]interface{}{
			"command": "mcp-server; rm -rf /",
		},
	})
	assert.ErrorIs(t, err, ErrBadConfiguration)
}

func TestStdioConnectFailsFastOnMissingExecutable(t *testing.T) {
	adapter := NewStdioAdapter()

	source, err := adapter.Create(context.Background(), &IntegrationDescriptor{
		Type: TransportStdio,
		Name: "fs",
		Credentials: map[string]interface{}{
			"command": "/nonexistent/relaydesk-test-server",
		},
	})
	require.NoError(t, err)

	err = source.Connect(context.Background())
	assert.ErrorIs(t, err, ErrConnection)
}

// pipedStdioSource wires a stdioSource to an in-process fake tool server
// over pipes, bypassing process launch.
func pipedStdioSource(t *testing.T, selected map[string]bool, serve func(req rpcRequest) interface{}) *stdioSource {
	t.Helper()

	reqReader, reqWriter := io.Pipe()
	respReader, respWriter := io.Pipe()

	source := &stdioSource{
		integration: "fake",
		selected:    selected,
		stdin:       reqWriter,
		stdout:      bufio.NewScanner(respReader),
		connected:   true,
		pending:     make(map[int]chan *rpcResponse),
	}
	go source.listen()

	go func() {
		scanner := bufio.NewScanner(reqReader)
		for scanner.Scan() {
			var req rpcRequest
			if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
				continue
			}
			resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
			result, err := json.Marshal(serve(req))
			if err != nil {
				continue
			}
			resp.Result = result
			data, err := json.Marshal(resp)
			if err != nil {
				continue
			}
			if _, err := respWriter.Write(append(data, '\n')); err != nil {
				return
			}
		}
	}()

	t.Cleanup(func() {
		source.Close()
		respWriter.Close()
	})

	return source
}

func fakeToolCatalog() interface{} {
	return map[string]interface{}{
		"tools": []map[string]interface{}{
			{
				"name":        "read_file",
				"description": "Read a file",
				"inputSchema": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"path": map[string]interface{}{"type": "string", "description": "File path"},
					},
					"required": []string{"path"},
				},
			},
			{"name": "write_file", "description": "Write a file"},
			{"name": "list_dir", "description": "List a directory"},
		},
	}
}

func TestStdioToolsAppliesSelection(t *testing.T) {
	source := pipedStdioSource(t, map[string]bool{"read_file": true, "list_dir": true},
		func(req rpcRequest) interface{} {
			require.Equal(t, "tools/list", req.Method)
			return fakeToolCatalog()
		})

	defs, err := source.Tools(context.Background())
	require.NoError(t, err)

	names := make([]string, 0, len(defs))
	for _, def := range defs {
		names = append(names, def.Name)
		assert.Equal(t, "fake", def.Integration)
		assert.NotNil(t, def.Handler)
	}
	assert.ElementsMatch(t, []string{"read_file", "list_dir"}, names)
}

func TestStdioToolsEmptySelectionExposesAll(t *testing.T) {
	source := pipedStdioSource(t, nil, func(req rpcRequest) interface{} {
		return fakeToolCatalog()
	})

	defs, err := source.Tools(context.Background())
	require.NoError(t, err)
	assert.Len(t, defs, 3)

	// Parameters come from the server's input schema.
	for _, def := range defs {
		if def.Name == "read_file" {
			require.Len(t, def.Parameters, 1)
			assert.Equal(t, "path", def.Parameters[0].Name)
			assert.True(t, def.Parameters[0].Required)
		}
	}
}

func TestStdioToolHandlerInvokesServer(t *testing.T) {
	source := pipedStdioSource(t, nil, func(req rpcRequest) interface{} {
		switch req.Method {
		case "tools/list":
			return fakeToolCatalog()
		case "tools/call":
			params := req.Params.(map[string]interface{})
			return map[string]interface{}{
				"content": "called " + params["name"].(string),
			}
		default:
			return map[string]interface{}{}
		}
	})

	defs, err := source.Tools(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, defs)

	result, err := defs[0].Handler(context.Background(), map[string]interface{}{"path": "/tmp/x"})
	require.NoError(t, err)

	resultMap := result.(map[string]interface{})
	assert.Equal(t, "called "+defs[0].Name, resultMap["content"])
}

func TestStdioCloseIsIdempotent(t *testing.T) {
	source := pipedStdioSource(t, nil, func(req rpcRequest) interface{} {
		return map[string]interface{}{}
	})

	require.NoError(t, source.Close())
	assert.NoError(t, source.Close())

	// Calls after close fail instead of hanging.
	_, err := source.call(context.Background(), "tools/list", nil)
	assert.ErrorIs(t, err, ErrSourceClosed)
}

func TestStdioCloseUnblocksPendingCall(t *testing.T) {
	reqReader, reqWriter := io.Pipe()
	respReader, _ := io.Pipe()

	source := &stdioSource{
		integration: "fake",
		stdin:       reqWriter,
		stdout:      bufio.NewScanner(respReader),
		connected:   true,
		pending:     make(map[int]chan *rpcResponse),
	}
	go io.Copy(io.Discard, reqReader)

	errCh := make(chan error, 1)
	go func() {
		_, err := source.call(context.Background(), "tools/list", nil)
		errCh <- err
	}()

	// Give the call a moment to register in the pending map, then close.
	require.Eventually(t, func() bool {
		source.mu.Lock()
		defer source.mu.Unlock()
		return len(source.pending) == 1
	}, rpcCallTimeout, 10*time.Millisecond)

	require.NoError(t, source.Close())
	assert.ErrorIs(t, <-errCh, ErrSourceClosed)
}
