package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/teemow/ipdocket/internal/approval"
	"github.com/teemow/ipdocket/internal/automation"
	"github.com/teemow/ipdocket/internal/calendar"
	"github.com/teemow/ipdocket/internal/drive"
	"github.com/teemow/ipdocket/internal/gmail"
	"github.com/teemow/ipdocket/internal/google"
	"github.com/teemow/ipdocket/internal/instrumentation"
	"github.com/teemow/ipdocket/internal/logging"
	"github.com/teemow/ipdocket/internal/store"
)

// Environment variables read when the matching flag is not set.
const (
	envApprovalSecret     = "IPDOCKET_APPROVAL_SECRET"
	envDatabaseURL        = "IPDOCKET_DATABASE_URL"
	envRedisAddr          = "IPDOCKET_REDIS_ADDR"
	envBaseURL            = "IPDOCKET_BASE_URL"
	envTokenEncryptionKey = "IPDOCKET_TOKEN_ENCRYPTION_KEY"
)

// serviceOptions selects the backends shared by serve, execute and triage.
type serviceOptions struct {
	DatabaseURL        string
	RedisAddr          string
	ApprovalSecret     string
	BaseURL            string
	GoogleAccount      string
	TokenDir           string
	TokenEncryptionKey string
	CalendarID         string
	HourlyRate         float64
}

// applyEnv fills unset options from the environment.
func (o *serviceOptions) applyEnv() {
	o.DatabaseURL = envOr(o.DatabaseURL, envDatabaseURL)
	o.RedisAddr = envOr(o.RedisAddr, envRedisAddr)
	o.ApprovalSecret = envOr(o.ApprovalSecret, envApprovalSecret)
	o.BaseURL = envOr(o.BaseURL, envBaseURL)
	o.TokenEncryptionKey = envOr(o.TokenEncryptionKey, envTokenEncryptionKey)
}

func envOr(value, key string) string {
	if value != "" {
		return value
	}
	return os.Getenv(key)
}

// services is the wired automation subsystem.
type services struct {
	Store     store.Store
	Runner    *automation.Runner
	Approvals *approval.Service
	Gmail     *gmail.Client
	Auth      *google.StoreTokenProvider
	Logger    *slog.Logger

	closers []func() error
}

// Close releases the store and the Redis connection.
func (s *services) Close() error {
	var errs []string
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close: %s", strings.Join(errs, "; "))
	}
	return nil
}

// buildServices opens the configured backends. Without a database URL the
// in-memory store is used, without a Redis address nonces are tracked in
// memory, and without a Google token the Google-backed actions fail when
// they run.
func buildServices(ctx context.Context, opts serviceOptions, logger *slog.Logger, metrics *instrumentation.Metrics) (*services, error) {
	if logger == nil {
		logger = slog.Default()
	}
	svc := &services{Logger: logger}

	if opts.DatabaseURL != "" {
		pg, err := store.OpenPostgres(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, err
		}
		svc.closers = append(svc.closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			_ = svc.Close()
			return nil, err
		}
		svc.Store = pg
		logger.Info("Using PostgreSQL store")
	} else {
		svc.Store = store.NewMemoryStore()
		logger.Warn("No database configured, batches are kept in memory only")
	}

	in := &automation.Integrations{
		Store:      svc.Store,
		CalendarID: opts.CalendarID,
		HourlyRate: opts.HourlyRate,
	}
	if err := svc.connectGoogle(ctx, opts, in, metrics); err != nil {
		logger.Warn("Google services unavailable, email, calendar and file actions will fail", logging.Err(err))
	}

	orch := automation.NewIntegratedOrchestrator(in, logger, metrics)
	svc.Runner = automation.NewRunner(svc.Store, orch, svc.Store, logger)

	if opts.ApprovalSecret != "" {
		var nonces approval.NonceStore
		if opts.RedisAddr != "" {
			rdb := redis.NewClient(&redis.Options{Addr: opts.RedisAddr})
			if err := rdb.Ping(ctx).Err(); err != nil {
				_ = rdb.Close()
				_ = svc.Close()
				return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.RedisAddr, err)
			}
			svc.closers = append(svc.closers, rdb.Close)
			nonces = approval.NewRedisNonceStore(rdb, "")
		}

		cfg := approval.Config{
			Secret:  []byte(opts.ApprovalSecret),
			BaseURL: opts.BaseURL,
			Store:   svc.Store,
			Nonces:  nonces,
			Runner:  svc.Runner,
			Stats:   svc.Store,
			Mailer:  in.Mailer,
			Logger:  logger,
			Metrics: metrics,
		}
		approvals, err := approval.NewService(cfg)
		if err != nil {
			_ = svc.Close()
			return nil, err
		}
		svc.Approvals = approvals
	}

	return svc, nil
}

// newGoogleProvider builds the token provider for the configured token
// directory and encryption key.
func newGoogleProvider(opts serviceOptions, logger *slog.Logger) (*google.StoreTokenProvider, error) {
	oauthConfig, err := google.OAuthConfigFromEnv()
	if err != nil {
		return nil, err
	}

	var enc *google.TokenEncryption
	if opts.TokenEncryptionKey != "" {
		key, err := google.EncryptionKeyFromBase64(opts.TokenEncryptionKey)
		if err != nil {
			return nil, err
		}
		if enc, err = google.NewTokenEncryption(key); err != nil {
			return nil, err
		}
	}

	return google.NewStoreTokenProvider(google.NewFileTokenStore(opts.TokenDir, enc), oauthConfig, nil, logger), nil
}

func (s *services) connectGoogle(ctx context.Context, opts serviceOptions, in *automation.Integrations, metrics *instrumentation.Metrics) error {
	provider, err := newGoogleProvider(opts, s.Logger)
	if err != nil {
		return err
	}
	s.Auth = provider

	account := opts.GoogleAccount
	if account == "" {
		account = google.DefaultAccount
	}
	if !provider.HasTokenForAccount(account) {
		return fmt.Errorf("%s", google.GetAuthenticationErrorMessage(account))
	}

	gm, err := gmail.NewClientForAccountWithProvider(ctx, account, provider, metrics)
	if err != nil {
		return err
	}
	cal, err := calendar.NewClientForAccountWithProvider(ctx, account, provider, metrics)
	if err != nil {
		return err
	}
	files, err := drive.NewClientForAccountWithProvider(ctx, account, provider, metrics)
	if err != nil {
		return err
	}

	s.Gmail = gm
	in.Mailer = automation.GmailMailer{Client: gm}
	in.Calendar = automation.GoogleCalendar{Client: cal}
	in.Files = automation.DriveFiles{Client: files}
	return nil
}
