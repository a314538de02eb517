package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/ipdocket/internal/instrumentation"
)

// Transport names accepted by HTTPServerConfig.Transport.
const (
	TransportStreamableHTTP = "streamable-http"
	TransportSSE            = "sse"
)

// ErrMCPAuthRequired is returned when the MCP endpoints would be served
// without an authenticator.
var ErrMCPAuthRequired = errors.New("serving MCP over HTTP requires an authenticator")

// MCPAuthenticator guards the MCP endpoints.
type MCPAuthenticator interface {
	// RegisterEndpoints adds the discovery endpoints clients need to
	// obtain a token.
	RegisterEndpoints(mux *http.ServeMux)
	Protect(next http.Handler) http.Handler
}

// HTTPServerConfig configures the public HTTP server.
type HTTPServerConfig struct {
	Addr string
	// BaseURL is where approvers reach the server. It must be https unless
	// the host is a loopback address.
	BaseURL   string
	Transport string
	// MCPServer is optional; without it only the approval and health
	// endpoints are served.
	MCPServer *mcpserver.MCPServer
	// MCPAuth is required with MCPServer.
	MCPAuth MCPAuthenticator
	// Approvals is optional; without it /approve and /reject are not served.
	Approvals Approver
	Health    *HealthChecker
	// RateLimiter guards the approval endpoints. Nil uses 5 requests per
	// second with a burst of 10.
	RateLimiter *RateLimiter
	Logger      *slog.Logger
	Metrics     *instrumentation.Metrics
}

// HTTPServer serves the approval links, health checks and the MCP endpoint.
type HTTPServer struct {
	httpServer *http.Server
	addr       string
	logger     *slog.Logger
}

// NewHTTPServer validates config and builds the routes.
func NewHTTPServer(config HTTPServerConfig) (*HTTPServer, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.Approvals != nil {
		if err := validateHTTPSRequirement(config.BaseURL); err != nil {
			return nil, err
		}
	}

	mux := http.NewServeMux()
	if config.Health != nil {
		config.Health.RegisterHealthEndpoints(mux)
	}

	if config.Approvals != nil {
		limiter := config.RateLimiter
		if limiter == nil {
			limiter = NewRateLimiter(5, 10)
		}
		approvalMux := http.NewServeMux()
		NewApprovalHandler(config.Approvals, logger, config.Metrics).Register(approvalMux)
		limited := limiter.Middleware(approvalMux)
		mux.Handle("/approve", limited)
		mux.Handle("/reject", limited)
	}

	if config.MCPServer != nil {
		if config.MCPAuth == nil {
			return nil, ErrMCPAuthRequired
		}
		config.MCPAuth.RegisterEndpoints(mux)

		switch config.Transport {
		case TransportSSE:
			sseServer := mcpserver.NewSSEServer(config.MCPServer,
				mcpserver.WithBaseURL(config.BaseURL),
				mcpserver.WithSSEEndpoint("/sse"),
				mcpserver.WithMessageEndpoint("/message"),
			)
			protected := config.MCPAuth.Protect(sseServer)
			mux.Handle("/sse", protected)
			mux.Handle("/message", protected)
		case TransportStreamableHTTP, "":
			mux.Handle("/mcp", config.MCPAuth.Protect(mcpserver.NewStreamableHTTPServer(config.MCPServer,
				mcpserver.WithEndpointPath("/mcp"),
			)))
		default:
			return nil, fmt.Errorf("unsupported server type: %s", config.Transport)
		}
	}

	return &HTTPServer{
		addr:   config.Addr,
		logger: logger,
		httpServer: &http.Server{
			Addr:              config.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}, nil
}

// Handler returns the routed handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens on the configured address and blocks until the server stops.
func (s *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln and blocks until the server stops.
func (s *HTTPServer) Serve(ln net.Listener) error {
	s.logger.Info("Starting HTTP server", slog.String("addr", ln.Addr().String()))
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// validateHTTPSRequirement allows plain http only for loopback hosts, since
// approval links carry bearer tokens.
func validateHTTPSRequirement(baseURL string) error {
	if baseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	switch u.Scheme {
	case "https":
		return nil
	case "http":
		host := u.Hostname()
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			return fmt.Errorf("approval links require HTTPS (got: %s). Use HTTPS or localhost for development", baseURL)
		}
		return nil
	}
	return fmt.Errorf("invalid URL scheme: %s. Must be http (localhost only) or https", u.Scheme)
}
