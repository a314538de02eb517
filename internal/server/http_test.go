package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateHTTPSRequirement(t *testing.T) {
	tests := []struct {
		baseURL string
		wantErr bool
	}{
		{"https://docket.example", false},
		{"http://localhost:8080", false},
		{"http://127.0.0.1:8080", false},
		{"http://[::1]:8080", false},
		{"http://docket.example", true},
		{"ftp://docket.example", true},
		{"", true},
		{"://bad", true},
	}
	for _, tt := range tests {
		t.Run(tt.baseURL, func(t *testing.T) {
			err := validateHTTPSRequirement(tt.baseURL)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewHTTPServer_Routes(t *testing.T) {
	srv, err := NewHTTPServer(HTTPServerConfig{
		BaseURL:   "http://localhost:8080",
		Approvals: &fakeApprover{},
		Health:    NewHealthChecker(nil),
	})
	require.NoError(t, err)

	for _, path := range []string{"/healthz", "/readyz", "/approve?token=x"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mcp", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "no MCP server configured")
}

func TestNewHTTPServer_RequiresHTTPSForApprovals(t *testing.T) {
	_, err := NewHTTPServer(HTTPServerConfig{BaseURL: "http://docket.example", Approvals: &fakeApprover{}})
	assert.ErrorContains(t, err, "HTTPS")

	_, err = NewHTTPServer(HTTPServerConfig{BaseURL: "http://docket.example"})
	assert.NoError(t, err, "no approval links, no requirement")
}

func TestNewHTTPServer_RateLimitsApprovals(t *testing.T) {
	srv, err := NewHTTPServer(HTTPServerConfig{
		BaseURL:     "https://docket.example",
		Approvals:   &fakeApprover{},
		RateLimiter: NewRateLimiter(1, 2),
	})
	require.NoError(t, err)

	codes := make([]int, 3)
	for i := range codes {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/approve?token=x", nil))
		codes[i] = rec.Code
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestHTTPServer_ServeAndShutdown(t *testing.T) {
	srv, err := NewHTTPServer(HTTPServerConfig{Health: NewHealthChecker(nil)})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.True(t, errors.Is(<-done, http.ErrServerClosed))
}

type tokenAuth struct {
	token string
}

func (a tokenAuth) RegisterEndpoints(mux *http.ServeMux) {
	mux.HandleFunc("/.well-known/oauth-protected-resource", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func (a tokenAuth) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+a.token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func newToolServer(calls *atomic.Int32) *mcpserver.MCPServer {
	s := mcpserver.NewMCPServer("ipdocket-test", "0.0.0", mcpserver.WithToolCapabilities(true))
	s.AddTool(mcp.NewTool("automation_execute_batch"), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		calls.Add(1)
		return mcp.NewToolResultText("executed"), nil
	})
	return s
}

func TestNewHTTPServer_MCPRequiresAuthenticator(t *testing.T) {
	var calls atomic.Int32
	for _, transport := range []string{TransportStreamableHTTP, TransportSSE} {
		_, err := NewHTTPServer(HTTPServerConfig{
			BaseURL:   "http://localhost:8080",
			Transport: transport,
			MCPServer: newToolServer(&calls),
		})
		assert.ErrorIs(t, err, ErrMCPAuthRequired, transport)
	}
}

func TestNewHTTPServer_RejectsUnauthenticatedToolCall(t *testing.T) {
	var calls atomic.Int32
	srv, err := NewHTTPServer(HTTPServerConfig{
		BaseURL:   "http://localhost:8080",
		MCPServer: newToolServer(&calls),
		MCPAuth:   tokenAuth{token: "operator"},
	})
	require.NoError(t, err)

	toolCall := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"automation_execute_batch","arguments":{"batch_id":"b1"}}}`
	for _, header := range []string{"", "Bearer forged"} {
		req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(toolCall))
		req.Header.Set("Content-Type", "application/json")
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "Authorization %q", header)
	}
	assert.Zero(t, calls.Load(), "tool must not run for unauthenticated calls")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/oauth-protected-resource", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "discovery endpoint is public")

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"0"}}}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer operator")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "authenticated requests reach the MCP server")
}

func TestNewHTTPServer_ProtectsSSE(t *testing.T) {
	var calls atomic.Int32
	srv, err := NewHTTPServer(HTTPServerConfig{
		BaseURL:   "http://localhost:8080",
		Transport: TransportSSE,
		MCPServer: newToolServer(&calls),
		MCPAuth:   tokenAuth{token: "operator"},
	})
	require.NoError(t, err)

	for _, path := range []string{"/sse", "/message?sessionId=x"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader("{}")))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}
