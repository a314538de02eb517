package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/teemow/ipdocket/internal/automation"
	"github.com/teemow/ipdocket/internal/instrumentation"
	"github.com/teemow/ipdocket/internal/logging"
)

var (
	// ErrInvalidToken is returned for tokens that fail verification, whatever
	// the reason.
	ErrInvalidToken = errors.New("invalid or expired approval token")
	// ErrNonceReused is returned when a token was already used.
	ErrNonceReused = errors.New("approval token was already used")
	// ErrBatchNotPending is returned when the batch no longer awaits approval.
	ErrBatchNotPending = errors.New("batch is not pending approval")
	// ErrApproverMismatch is returned when the token names another approver.
	ErrApproverMismatch = errors.New("token was issued to a different approver")
	// ErrNoApprover is returned when issuing a token for a batch without an
	// approver.
	ErrNoApprover = errors.New("batch has no approver email")
)

// Store is the batch storage the approval workflow needs.
type Store interface {
	GetBatch(ctx context.Context, id string) (*automation.Batch, error)
	// UpdateBatchStatus moves the batch from status from to status to and
	// fails with automation.ErrStatusConflict otherwise.
	UpdateBatchStatus(ctx context.Context, id string, from, to automation.BatchStatus) error
	// SetActionEnabled toggles one action of a pending batch.
	SetActionEnabled(ctx context.Context, batchID, actionID string, enabled bool) error
}

// BatchRunner executes an approved batch.
type BatchRunner interface {
	Run(ctx context.Context, batchID string) (*automation.BatchResult, error)
}

// Config wires a Service.
type Config struct {
	Secret []byte
	// BaseURL is the externally reachable URL of the approval endpoints.
	BaseURL string
	// TokenTTL defaults to DefaultTokenTTL.
	TokenTTL time.Duration

	Store  Store
	Nonces NonceStore
	Runner BatchRunner
	// Stats is optional.
	Stats automation.RuleStatsRecorder
	// Mailer sends approval requests. RequestApproval fails without one.
	Mailer automation.Mailer

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
	// Now defaults to time.Now.
	Now func() time.Time
}

// Service issues approval tokens and applies approve and reject decisions.
type Service struct {
	secret  []byte
	baseURL string
	ttl     time.Duration
	store   Store
	nonces  NonceStore
	runner  BatchRunner
	stats   automation.RuleStatsRecorder
	mailer  automation.Mailer
	logger  *slog.Logger
	metrics *instrumentation.Metrics
	now     func() time.Time
}

// NewService validates cfg and creates a Service.
func NewService(cfg Config) (*Service, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrMissingSecret
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("approval service requires a batch store")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("approval service requires a batch runner")
	}
	s := &Service{
		secret:  cfg.Secret,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		ttl:     cfg.TokenTTL,
		store:   cfg.Store,
		nonces:  cfg.Nonces,
		runner:  cfg.Runner,
		stats:   cfg.Stats,
		mailer:  cfg.Mailer,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		now:     cfg.Now,
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTokenTTL
	}
	if s.nonces == nil {
		s.nonces = NewMemoryNonceStore()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// IssuedToken is a signed token with the links that use it.
type IssuedToken struct {
	Token      string    `json:"token"`
	BatchID    string    `json:"batch_id"`
	Approver   string    `json:"approver_email"`
	ApproveURL string    `json:"approve_url,omitempty"`
	RejectURL  string    `json:"reject_url,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Issue signs a token for the batch's approver. The batch must be pending.
func (s *Service) Issue(ctx context.Context, batchID string) (*IssuedToken, error) {
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch %s: %w", batchID, err)
	}
	if batch.Status != automation.BatchPendingApproval {
		return nil, fmt.Errorf("batch %s is %s: %w", batchID, batch.Status, ErrBatchNotPending)
	}
	if batch.ApproverEmail == "" {
		return nil, fmt.Errorf("batch %s: %w", batchID, ErrNoApprover)
	}

	payload := CreateTokenPayload(PayloadOptions{
		BatchID:       batch.ID,
		ApproverEmail: batch.ApproverEmail,
		ExpiresIn:     s.ttl,
		Now:           s.now(),
	})
	token, err := SignApprovalToken(payload, s.secret)
	if err != nil {
		return nil, err
	}

	issued := &IssuedToken{
		Token:     token,
		BatchID:   batch.ID,
		Approver:  batch.ApproverEmail,
		ExpiresAt: payload.ExpiresAt().UTC(),
	}
	if s.baseURL != "" {
		q := url.Values{"token": {token}}.Encode()
		issued.ApproveURL = s.baseURL + "/approve?" + q
		issued.RejectURL = s.baseURL + "/reject?" + q
	}

	logging.WithBatch(s.logger, batch.ID, batch.RuleID).Info("Issued approval token",
		logging.UserHash(batch.ApproverEmail),
		slog.Time("expires_at", issued.ExpiresAt),
	)
	return issued, nil
}

// Verify checks token without consuming it. Every failure is ErrInvalidToken.
func (s *Service) Verify(ctx context.Context, token string) (*TokenPayload, error) {
	p, err := verify(token, s.secret, s.now())
	if err != nil {
		s.logger.Debug("Approval token rejected", slog.String("reason", err.Error()))
		s.metrics.RecordTokenVerification(ctx, instrumentation.TokenResultInvalid)
		return nil, ErrInvalidToken
	}
	s.metrics.RecordTokenVerification(ctx, instrumentation.TokenResultValid)
	return p, nil
}

// Approve consumes token, marks its batch approved and executes it.
func (s *Service) Approve(ctx context.Context, token string) (*automation.BatchResult, error) {
	batch, err := s.decide(ctx, token, automation.BatchApproved)
	if err != nil {
		return nil, err
	}

	result, err := s.runner.Run(ctx, batch.ID)
	if err != nil {
		return result, fmt.Errorf("approved batch %s could not be executed: %w", batch.ID, err)
	}
	return result, nil
}

// Reject consumes token and marks its batch rejected.
func (s *Service) Reject(ctx context.Context, token string) error {
	batch, err := s.decide(ctx, token, automation.BatchRejected)
	if err != nil {
		return err
	}
	s.recordStats(ctx, batch, automation.DeltaForStatus(automation.BatchRejected))
	return nil
}

// decide verifies token, spends its nonce and moves the pending batch to status to.
func (s *Service) decide(ctx context.Context, token string, to automation.BatchStatus) (*automation.Batch, error) {
	p, err := s.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	if p.Action != ActionApprove {
		s.logger.Debug("Approval token rejected", slog.String("reason", "unexpected action "+p.Action))
		return nil, ErrInvalidToken
	}

	// Verify accepts the token until the end of its expiry second.
	ttl := p.ExpiresAt().Add(time.Second).Sub(s.now())
	fresh, err := s.nonces.Consume(ctx, HashNonce(p.Nonce, s.secret), ttl)
	if err != nil {
		return nil, err
	}
	if !fresh {
		return nil, ErrNonceReused
	}

	batch, err := s.store.GetBatch(ctx, p.BatchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch %s: %w", p.BatchID, err)
	}
	if batch.Status != automation.BatchPendingApproval {
		return nil, fmt.Errorf("batch %s is %s: %w", batch.ID, batch.Status, ErrBatchNotPending)
	}
	if !strings.EqualFold(batch.ApproverEmail, p.ApproverEmail) {
		return nil, ErrApproverMismatch
	}

	if err := s.store.UpdateBatchStatus(ctx, batch.ID, automation.BatchPendingApproval, to); err != nil {
		if errors.Is(err, automation.ErrStatusConflict) {
			return nil, fmt.Errorf("batch %s: %w", batch.ID, ErrBatchNotPending)
		}
		return nil, fmt.Errorf("failed to update batch %s: %w", batch.ID, err)
	}
	batch.Status = to

	logging.WithBatch(s.logger, batch.ID, batch.RuleID).Info("Batch decision recorded",
		logging.Status(string(to)),
		logging.UserHash(p.ApproverEmail),
	)
	return batch, nil
}

// SetActionEnabled toggles one action before the batch is approved. Disabling
// an action counts as an override on the batch's rule.
func (s *Service) SetActionEnabled(ctx context.Context, batchID, actionID string, enabled bool) error {
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("failed to load batch %s: %w", batchID, err)
	}
	if batch.Status != automation.BatchPendingApproval {
		return fmt.Errorf("batch %s is %s: %w", batchID, batch.Status, ErrBatchNotPending)
	}

	if err := s.store.SetActionEnabled(ctx, batchID, actionID, enabled); err != nil {
		if errors.Is(err, automation.ErrStatusConflict) {
			return fmt.Errorf("batch %s: %w", batchID, ErrBatchNotPending)
		}
		return err
	}

	if !enabled {
		s.recordStats(ctx, batch, automation.RuleStatsDelta{Overridden: 1})
	}
	return nil
}

func (s *Service) recordStats(ctx context.Context, batch *automation.Batch, delta automation.RuleStatsDelta) {
	if s.stats == nil || batch.RuleID == "" || delta.IsZero() {
		return
	}
	if err := s.stats.IncrementRuleStats(ctx, batch.RuleID, delta); err != nil {
		logging.WithBatch(s.logger, batch.ID, batch.RuleID).Warn("Failed to update rule stats", logging.Err(err))
	}
}
