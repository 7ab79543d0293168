package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildHeaderInjector(t *testing.T) {
	tests := []struct {
		name       string
		creds      map[string]interface{}
		wantErr    bool
		wantHeader string
		wantValue  string
	}{
		{
			name:  "no auth block",
			creds: map[string]interface{}{},
		},
		{
			name: "auth type none",
			creds: map[string]interface{}{
				"auth": map[string]interface{}{"type": "none"},
			},
		},
		{
			name: "bearer",
			creds: map[string]interface{}{
				"auth": map[string]interface{}{"type": "bearer", "token": "tok-123"},
			},
			wantHeader: "Authorization",
			wantValue:  "Bearer tok-123",
		},
		{
			name: "bearer without token",
			creds: map[string]interface{}{
				"auth": map[string]interface{}{"type": "bearer"},
			},
			wantErr: true,
		},
		{
			name: "api key header",
			creds: map[string]interface{}{
				"auth": map[string]interface{}{
					"type":   "api-key-header",
					"header": "X-Api-Key",
					"key":    "k-456",
				},
			},
			wantHeader: "X-Api-Key",
			wantValue:  "k-456",
		},
		{
			name: "api key missing header name",
			creds: map[string]interface{}{
				"auth": map[string]interface{}{"type": "api-key-header", "key": "k"},
			},
			wantErr: true,
		},
		{
			name: "basic",
			creds: map[string]interface{}{
				"auth": map[string]interface{}{
					"type":     "basic",
					"username": "user",
					"password": "pass",
				},
			},
			wantHeader: "Authorization",
			wantValue:  "Basic dXNlcjpwYXNz",
		},
		{
			name: "basic without username",
			creds: map[string]interface{}{
				"auth": map[string]interface{}{"type": "basic", "password": "pass"},
			},
			wantErr: true,
		},
		{
			name: "unsupported type",
			creds: map[string]interface{}{
				"auth": map[string]interface{}{"type": "oauth2"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inject, err := buildHeaderInjector(tt.creds)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			h := http.Header{}
			inject(h)
			if tt.wantHeader == "" {
				assert.Empty(t, h)
			} else {
				assert.Equal(t, tt.wantValue, h.Get(tt.wantHeader))
			}
		})
	}
}

func TestHTTPAdapterCreateValidates(t *testing.T) {
	adapter := NewHTTPAdapter(ReconnectPolicy{})

	t.Run("missing endpoint", func(t *testing.T) {
		_, err := adapter.Create(context.Background(), &IntegrationDescriptor{
			Type:        TransportHTTP,
			Name:        "jira",
			Credentials: map[string]interface{}{},
		})
		assert.ErrorIs(t, err, ErrBadConfiguration)
	})

	t.Run("incomplete auth", func(t *testing.T) {
		_, err := adapter.Create(context.Background(), &IntegrationDescriptor{
			Type: TransportHTTP,
			Name: "jira",
			Credentials: map[string]interface{}{
				"endpointUrl": "https://tools.example.com/mcp",
				"auth":        map[string]interface{}{"type": "bearer"},
			},
		})
		assert.ErrorIs(t, err, ErrBadConfiguration)
	})
}

// fakeStreamServer is an in-process streamable tool server. JSON-RPC posts
// are acknowledged with 202 and answered on the SSE stream, mirroring
// backends that push all responses through the event channel.
type fakeStreamServer struct {
	t      *testing.T
	server *httptest.Server
	events chan rpcResponse

	mu       sync.Mutex
	requests []*http.Request
	catalog  interface{}
}

func newFakeStreamServer(t *testing.T) *fakeStreamServer {
	f := &fakeStreamServer{
		t:       t,
		events:  make(chan rpcResponse, 16),
		catalog: fakeToolCatalog(),
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeStreamServer) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.Clone(context.Background()))
	f.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		flusher.Flush()
		for {
			select {
			case resp := <-f.events:
				data, err := json.Marshal(resp)
				require.NoError(f.t, err)
				fmt.Fprintf(w, "data: %s\n\n", data)
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}

	case http.MethodPost:
		var req rpcRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))

		resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
		var result interface{}
		switch req.Method {
		case "initialize":
			result = map[string]interface{}{"protocolVersion": mcpProtocolVersion}
		case "tools/list":
			result = f.catalog
		case "tools/call":
			params := req.Params.(map[string]interface{})
			result = map[string]interface{}{"content": "called " + params["name"].(string)}
		default:
			result = map[string]interface{}{}
		}
		data, err := json.Marshal(result)
		require.NoError(f.t, err)
		resp.Result = data

		f.events <- resp
		w.WriteHeader(http.StatusAccepted)
	}
}

func (f *fakeStreamServer) header(method, name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r.Method == method {
			if v := r.Header.Get(name); v != "" {
				return v
			}
		}
	}
	return ""
}

func (f *fakeStreamServer) descriptor(selected ...string) *IntegrationDescriptor {
	return &IntegrationDescriptor{
		Type: TransportHTTP,
		Name: "jira",
		Credentials: map[string]interface{}{
			"endpointUrl": f.server.URL,
			"auth": map[string]interface{}{
				"type":  "bearer",
				"token": "tok-123",
			},
		},
		SelectedTools: selected,
		Enabled:       true,
	}
}

func TestHTTPSourceConnectAndTools(t *testing.T) {
	fake := newFakeStreamServer(t)
	adapter := NewHTTPAdapter(ReconnectPolicy{})

	source, err := adapter.Create(context.Background(), fake.descriptor())
	require.NoError(t, err)
	defer source.Close()

	assert.Equal(t, "jira", source.Integration())
	assert.Equal(t, SourceKindServer, source.Kind())

	require.NoError(t, source.Connect(context.Background()))

	defs, err := source.Tools(context.Background())
	require.NoError(t, err)
	assert.Len(t, defs, 3)

	// Auth applies to both the stream and the posts.
	assert.Equal(t, "Bearer tok-123", fake.header(http.MethodGet, "Authorization"))
	assert.Equal(t, "Bearer tok-123", fake.header(http.MethodPost, "Authorization"))
}

func TestHTTPSourceSendsSelectedToolsHeader(t *testing.T) {
	fake := newFakeStreamServer(t)
	adapter := NewHTTPAdapter(ReconnectPolicy{})

	source, err := adapter.Create(context.Background(), fake.descriptor("read_file", "list_dir"))
	require.NoError(t, err)
	defer source.Close()

	require.NoError(t, source.Connect(context.Background()))

	header := fake.header(http.MethodGet, HeaderSelectedTools)
	var selected []string
	require.NoError(t, json.Unmarshal([]byte(header), &selected))
	assert.Equal(t, []string{"read_file", "list_dir"}, selected)
}

func TestHTTPSourceToolHandlerInvokesServer(t *testing.T) {
	fake := newFakeStreamServer(t)
	adapter := NewHTTPAdapter(ReconnectPolicy{})

	source, err := adapter.Create(context.Background(), fake.descriptor())
	require.NoError(t, err)
	defer source.Close()

	require.NoError(t, source.Connect(context.Background()))

	defs, err := source.Tools(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, defs)

	result, err := defs[0].Handler(context.Background(), map[string]interface{}{"path": "/tmp/x"})
	require.NoError(t, err)
	resultMap := result.(map[string]interface{})
	assert.Equal(t, "called "+defs[0].Name, resultMap["content"])
}

func TestHTTPSourceConnectFailsOnUnreachableEndpoint(t *testing.T) {
	adapter := NewHTTPAdapter(ReconnectPolicy{})

	source, err := adapter.Create(context.Background(), &IntegrationDescriptor{
		Type: TransportHTTP,
		Name: "jira",
		Credentials: map[string]interface{}{
			"endpointUrl": "http://127.0.0.1:1/mcp",
		},
	})
	require.NoError(t, err)

	err = source.Connect(context.Background())
	assert.ErrorIs(t, err, ErrConnection)
}

func TestHTTPSourceCloseIsIdempotent(t *testing.T) {
	fake := newFakeStreamServer(t)
	adapter := NewHTTPAdapter(ReconnectPolicy{})

	source, err := adapter.Create(context.Background(), fake.descriptor())
	require.NoError(t, err)
	require.NoError(t, source.Connect(context.Background()))

	require.NoError(t, source.Close())
	assert.NoError(t, source.Close())

	_, err = source.Tools(context.Background())
	assert.ErrorIs(t, err, ErrSourceClosed)
}
