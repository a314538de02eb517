package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teemow/ipdocket/internal/advisor"
	"github.com/teemow/ipdocket/internal/approval"
	"github.com/teemow/ipdocket/internal/automation"
	"github.com/teemow/ipdocket/internal/instrumentation"
	"github.com/teemow/ipdocket/internal/rules"
	"github.com/teemow/ipdocket/internal/store"
)

// Config wires a ServerContext. Approvals, Rules and Metrics are optional.
type Config struct {
	Store     store.Store
	Runner    *automation.Runner
	Approvals *approval.Service
	Advisor   *advisor.Advisor
	Rules     []rules.Rule
	Logger    *slog.Logger
	Metrics   *instrumentation.Metrics
	// AuditLogger records MCP tool invocations when set.
	AuditLogger *instrumentation.AuditLogger
	// GoogleAuth completes the Google OAuth flow for the MCP auth tools.
	GoogleAuth GoogleAuthorizer
}

// GoogleAuthorizer hands out Google consent URLs and stores the tokens
// obtained for authorization codes.
type GoogleAuthorizer interface {
	AuthURL(state string) string
	ExchangeAndSave(ctx context.Context, account, code string) error
}

// ServerContext holds the services shared by the MCP tools and the HTTP
// handlers.
type ServerContext struct {
	ctx       context.Context
	cancel    context.CancelFunc
	store     store.Store
	runner    *automation.Runner
	approvals *approval.Service
	advisor   *advisor.Advisor
	logger    *slog.Logger
	metrics   *instrumentation.Metrics
	audit     *instrumentation.AuditLogger
	auth      GoogleAuthorizer

	mu       sync.RWMutex
	rules    []rules.Rule
	shutdown bool
}

// NewServerContext creates a new server context
func NewServerContext(ctx context.Context, cfg Config) (*ServerContext, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("server context requires a store")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("server context requires a batch runner")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	adv := cfg.Advisor
	if adv == nil {
		adv = advisor.New(advisor.DefaultThresholds(), logger)
	}

	shutdownCtx, cancel := context.WithCancel(ctx)
	return &ServerContext{
		ctx:       shutdownCtx,
		cancel:    cancel,
		store:     cfg.Store,
		runner:    cfg.Runner,
		approvals: cfg.Approvals,
		advisor:   adv,
		rules:     cfg.Rules,
		logger:    logger,
		metrics:   cfg.Metrics,
		audit:     cfg.AuditLogger,
		auth:      cfg.GoogleAuth,
	}, nil
}

// Context returns the server context
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Store returns the batch and entity store.
func (sc *ServerContext) Store() store.Store {
	return sc.store
}

// Runner returns the batch runner.
func (sc *ServerContext) Runner() *automation.Runner {
	return sc.runner
}

// Approvals returns the approval service, or nil when no approval secret is
// configured.
func (sc *ServerContext) Approvals() *approval.Service {
	return sc.approvals
}

// Advisor returns the rule advisor.
func (sc *ServerContext) Advisor() *advisor.Advisor {
	return sc.advisor
}

// Logger returns the server logger.
func (sc *ServerContext) Logger() *slog.Logger {
	return sc.logger
}

// Metrics returns the metrics recorder. It may be nil.
func (sc *ServerContext) Metrics() *instrumentation.Metrics {
	return sc.metrics
}

// AuditLogger returns the tool audit logger. It may be nil.
func (sc *ServerContext) AuditLogger() *instrumentation.AuditLogger {
	return sc.audit
}

// GoogleAuth returns the Google OAuth helper. It may be nil.
func (sc *ServerContext) GoogleAuth() GoogleAuthorizer {
	return sc.auth
}

// Rules returns the configured automation rules.
func (sc *ServerContext) Rules() []rules.Rule {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return append([]rules.Rule(nil), sc.rules...)
}

// SetRules replaces the configured automation rules.
func (sc *ServerContext) SetRules(r []rules.Rule) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.rules = append([]rules.Rule(nil), r...)
}

// RuleHistory collects the stored batches of every rule for the advisor.
// Rules missing from the configuration count as manually approved.
func (sc *ServerContext) RuleHistory(ctx context.Context, ruleID string) ([]advisor.RuleHistory, error) {
	batches, err := sc.store.ListBatches(ctx, store.BatchFilter{RuleID: ruleID})
	if err != nil {
		return nil, err
	}
	auto := make(map[string]bool)
	for _, r := range sc.Rules() {
		auto[r.ID] = r.AutoApprove
	}
	return advisor.BuildHistory(batches, auto), nil
}

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown cancels the server context and closes the store.
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}

	sc.shutdown = true
	sc.cancel()
	return sc.store.Close()
}
