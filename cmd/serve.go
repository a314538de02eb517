package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/teemow/ipdocket/internal/instrumentation"
	"github.com/teemow/ipdocket/internal/logging"
	"github.com/teemow/ipdocket/internal/mcp/oauth"
	"github.com/teemow/ipdocket/internal/rules"
	"github.com/teemow/ipdocket/internal/server"
	"github.com/teemow/ipdocket/internal/tools/automation_tools"
	"github.com/teemow/ipdocket/internal/tools/google_tools"
)

// MetricsConfig holds configuration for the metrics server
type MetricsConfig struct {
	// Enabled determines whether to start the metrics server (default: true)
	Enabled bool

	// Addr is the address for the metrics server (e.g., ":9090")
	Addr string
}

type serveOptions struct {
	services   serviceOptions
	metrics    MetricsConfig
	transport  string
	httpAddr   string
	rulesFile  string
	debugMode  bool
	yolo       bool
	rateLimit  float64
	rateBurst  int
	disableMCP bool
	mcpEmails  []string
}

const envMCPAllowedEmails = "IPDOCKET_MCP_ALLOWED_EMAILS"

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the approval endpoints and the MCP server",
		Long: `Start ipdocket as a long-running service.

Supports multiple transport types:
  - stdio: MCP over standard input/output (default)
  - streamable-http: HTTP server with /approve, /reject, /healthz, /readyz and /mcp
  - sse: like streamable-http, with the MCP endpoint on /sse and /message

Safety Mode:
  By default the MCP tools are read-only. Use --yolo to allow tools that
  execute batches, toggle actions or issue approval tokens.

Configuration (flags take precedence over environment variables):
  --approval-secret      IPDOCKET_APPROVAL_SECRET   enables approval tokens
  --database-url         IPDOCKET_DATABASE_URL      PostgreSQL store (default: in memory)
  --redis-addr           IPDOCKET_REDIS_ADDR        shared nonce store (default: in memory)
  --base-url             IPDOCKET_BASE_URL          public URL used in approval links
  --token-encryption-key IPDOCKET_TOKEN_ENCRYPTION_KEY
  --mcp-allowed-emails   IPDOCKET_MCP_ALLOWED_EMAILS  Google accounts (or @domains)
                         allowed to call /mcp; required for HTTP MCP
  GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET enable the Google-backed actions.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}

	cmd.Flags().BoolVar(&opts.debugMode, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&opts.transport, "transport", "stdio", "Transport type: stdio, streamable-http or sse")
	cmd.Flags().StringVar(&opts.httpAddr, "http-addr", ":8080", "HTTP server address (for HTTP transports)")
	cmd.Flags().BoolVar(&opts.yolo, "yolo", false, "Enable MCP tools that execute or change batches. Default is read-only mode.")
	cmd.Flags().BoolVar(&opts.disableMCP, "disable-mcp", false, "Serve only the approval and health endpoints (HTTP transports)")
	cmd.Flags().StringSliceVar(&opts.mcpEmails, "mcp-allowed-emails", nil, "Google accounts or @domains allowed to call the HTTP MCP endpoint. Can also use "+envMCPAllowedEmails+" env var.")
	cmd.Flags().StringVar(&opts.rulesFile, "rules", "", "Path to the automation rules JSON file")
	cmd.Flags().Float64Var(&opts.rateLimit, "approval-rate-limit", 5, "Approval requests per second allowed per client IP")
	cmd.Flags().IntVar(&opts.rateBurst, "approval-rate-burst", 10, "Burst size of the approval rate limiter")
	addServiceFlags(cmd, &opts.services)

	// Metrics server flags
	cmd.Flags().BoolVar(&opts.metrics.Enabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	cmd.Flags().StringVar(&opts.metrics.Addr, "metrics-addr", server.DefaultMetricsAddr, "Metrics server address. Can also use METRICS_ADDR env var.")

	return cmd
}

// addServiceFlags registers the backend flags shared by several commands.
func addServiceFlags(cmd *cobra.Command, o *serviceOptions) {
	cmd.Flags().StringVar(&o.DatabaseURL, "database-url", "", "PostgreSQL connection string. Can also use "+envDatabaseURL+" env var.")
	cmd.Flags().StringVar(&o.RedisAddr, "redis-addr", "", "Redis address for the approval nonce store. Can also use "+envRedisAddr+" env var.")
	cmd.Flags().StringVar(&o.ApprovalSecret, "approval-secret", "", "Secret used to sign approval tokens. Can also use "+envApprovalSecret+" env var.")
	cmd.Flags().StringVar(&o.BaseURL, "base-url", "", "Public base URL of the approval endpoints. Can also use "+envBaseURL+" env var.")
	cmd.Flags().StringVar(&o.GoogleAccount, "account", "default", "Google account the automation actions run as")
	cmd.Flags().StringVar(&o.TokenDir, "token-dir", "", "Directory holding Google OAuth tokens (default: user cache directory)")
	cmd.Flags().StringVar(&o.TokenEncryptionKey, "token-encryption-key", "", "Base64 AES-256 key for Google tokens at rest. Can also use "+envTokenEncryptionKey+" env var.")
	cmd.Flags().StringVar(&o.CalendarID, "calendar-id", "primary", "Calendar used by calendar_event actions that do not name one")
	cmd.Flags().Float64Var(&o.HourlyRate, "hourly-rate", 0, "Rate used by billing actions that do not set one")
}

func newLogger(debug bool, stdio bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	// stdout carries the MCP protocol in stdio mode.
	out := os.Stdout
	if stdio {
		out = os.Stderr
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

func runServe(opts serveOptions) error {
	// Setup graceful shutdown
	shutdownCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stdio := opts.transport == "stdio"
	logger := newLogger(opts.debugMode, stdio)
	slog.SetDefault(logger)

	opts.services.applyEnv()
	if !opts.metrics.Enabled && os.Getenv("METRICS_ENABLED") == "true" {
		opts.metrics.Enabled = true
	}
	if opts.metrics.Addr == "" || opts.metrics.Addr == server.DefaultMetricsAddr {
		if addr := os.Getenv("METRICS_ADDR"); addr != "" {
			opts.metrics.Addr = addr
		}
	}

	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version
	if err := instrConfig.Validate(); err != nil {
		return fmt.Errorf("invalid instrumentation config: %w", err)
	}

	provider, err := instrumentation.NewProvider(shutdownCtx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Warn("Error during instrumentation shutdown", logging.Err(err))
		}
	}()

	var metrics *instrumentation.Metrics
	var auditLogger *instrumentation.AuditLogger
	if provider.Enabled() {
		metrics = provider.Metrics()
		auditLogger = instrumentation.NewAuditLoggerWithConfig(logger, instrConfig.AuditLogging)
	}

	var ruleSet []rules.Rule
	if opts.rulesFile != "" {
		if ruleSet, err = rules.LoadRulesFile(opts.rulesFile); err != nil {
			return err
		}
		if _, err := rules.NewMatcher(ruleSet, logger); err != nil {
			return err
		}
	}

	svc, err := buildServices(shutdownCtx, opts.services, logger, metrics)
	if err != nil {
		return err
	}

	cfg := server.Config{
		Store:       svc.Store,
		Runner:      svc.Runner,
		Approvals:   svc.Approvals,
		Rules:       ruleSet,
		Logger:      logger,
		Metrics:     metrics,
		AuditLogger: auditLogger,
	}
	if svc.Auth != nil {
		cfg.GoogleAuth = svc.Auth
	}
	serverContext, err := server.NewServerContext(shutdownCtx, cfg)
	if err != nil {
		_ = svc.Close()
		return fmt.Errorf("failed to create server context: %w", err)
	}
	defer func() {
		if err := serverContext.Shutdown(); err != nil {
			logger.Warn("Error during server context shutdown", logging.Err(err))
		}
		if err := svc.Close(); err != nil {
			logger.Warn("Error closing services", logging.Err(err))
		}
	}()

	var mcpSrv *mcpserver.MCPServer
	if !opts.disableMCP || stdio {
		mcpSrv = mcpserver.NewMCPServer("ipdocket", version,
			mcpserver.WithToolCapabilities(true),
		)
		readOnly := !opts.yolo
		if readOnly {
			logger.Info("MCP tools are read-only (use --yolo to enable write operations)")
		}
		if err := registerAllTools(mcpSrv, serverContext, readOnly); err != nil {
			return err
		}
	}

	if stdio {
		return runStdioServer(mcpSrv)
	}

	switch opts.transport {
	case server.TransportStreamableHTTP, server.TransportSSE:
	default:
		return fmt.Errorf("unsupported transport type: %s (supported: stdio, streamable-http, sse)", opts.transport)
	}

	if opts.metrics.Enabled && provider.Enabled() {
		metricsServer, err := server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    opts.metrics.Addr,
			InstrumentationProvider: provider,
			Logger:                  logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server stopped", logging.Err(err))
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(ctx); err != nil {
				logger.Warn("Error during metrics server shutdown", logging.Err(err))
			}
		}()
	}

	return runHTTPServer(shutdownCtx, opts, serverContext, mcpSrv, logger, metrics)
}

func runStdioServer(mcpSrv *mcpserver.MCPServer) error {
	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := mcpserver.ServeStdio(mcpSrv); err != nil {
			serverDone <- err
		}
	}()

	err := <-serverDone
	if err != nil {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	return nil
}

func registerAllTools(mcpSrv *mcpserver.MCPServer, sc *server.ServerContext, readOnly bool) error {
	type toolRegistration struct {
		name     string
		register func() error
	}

	registrations := []toolRegistration{
		{
			name: "Automation",
			register: func() error {
				return automation_tools.RegisterAutomationTools(mcpSrv, sc, readOnly)
			},
		},
		{
			name: "Google",
			register: func() error {
				return google_tools.RegisterGoogleTools(mcpSrv, sc)
			},
		},
	}

	for _, reg := range registrations {
		if err := reg.register(); err != nil {
			return fmt.Errorf("failed to register %s tools: %w", reg.name, err)
		}
	}

	return nil
}

func runHTTPServer(ctx context.Context, opts serveOptions, sc *server.ServerContext, mcpSrv *mcpserver.MCPServer, logger *slog.Logger, metrics *instrumentation.Metrics) error {
	baseURL := opts.services.BaseURL
	if baseURL == "" {
		baseURL = "http://" + opts.httpAddr
		if strings.HasPrefix(opts.httpAddr, ":") {
			baseURL = "http://localhost" + opts.httpAddr
		}
		logger.Warn("No base URL configured, using auto-detected value", slog.String("base_url", baseURL))
	}

	health := server.NewHealthChecker(sc)
	httpCfg := server.HTTPServerConfig{
		Addr:        opts.httpAddr,
		BaseURL:     baseURL,
		Transport:   opts.transport,
		MCPServer:   mcpSrv,
		Health:      health,
		RateLimiter: server.NewRateLimiter(opts.rateLimit, opts.rateBurst),
		Logger:      logger,
		Metrics:     metrics,
	}
	if mcpSrv != nil {
		emails := opts.mcpEmails
		if len(emails) == 0 && os.Getenv(envMCPAllowedEmails) != "" {
			emails = strings.Split(os.Getenv(envMCPAllowedEmails), ",")
		}
		auth, err := oauth.NewHandler(oauth.Config{
			Resource:      baseURL,
			AllowedEmails: emails,
			Logger:        logger,
		})
		if err != nil {
			return fmt.Errorf("failed to set up MCP authentication (use --disable-mcp to serve only the approval endpoints): %w", err)
		}
		defer auth.Stop()
		httpCfg.MCPAuth = auth
	}
	if approvals := sc.Approvals(); approvals != nil {
		httpCfg.Approvals = approvals
	} else {
		logger.Warn("No approval secret configured, /approve and /reject are disabled")
	}

	httpServer, err := server.NewHTTPServer(httpCfg)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverDone <- err
		}
	}()
	health.SetReady(true)

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, stopping HTTP server")
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error shutting down HTTP server: %w", err)
		}
		return nil
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("HTTP server stopped with error: %w", err)
		}
		return nil
	}
}
