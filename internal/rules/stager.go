package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teemow/ipdocket/internal/automation"
	"github.com/teemow/ipdocket/internal/logging"
)

// BatchCreator persists newly staged batches.
type BatchCreator interface {
	CreateBatch(ctx context.Context, b *automation.Batch) error
}

// BatchRunner executes an auto-approved batch.
type BatchRunner interface {
	Run(ctx context.Context, batchID string) (*automation.BatchResult, error)
}

// ApprovalRequester asks the approver of a pending batch for a decision.
type ApprovalRequester interface {
	RequestApproval(ctx context.Context, batchID string) error
}

// StagerConfig wires a Stager. Runner and Approvals are optional.
type StagerConfig struct {
	Store     BatchCreator
	Stats     automation.RuleStatsRecorder
	Runner    BatchRunner
	Approvals ApprovalRequester
	Logger    *slog.Logger
	Now       func() time.Time
}

// Stager turns rule matches into approval batches.
type Stager struct {
	store     BatchCreator
	stats     automation.RuleStatsRecorder
	runner    BatchRunner
	approvals ApprovalRequester
	logger    *slog.Logger
	now       func() time.Time
}

// NewStager creates a Stager.
func NewStager(cfg StagerConfig) (*Stager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("stager needs a batch store")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Stager{
		store:     cfg.Store,
		stats:     cfg.Stats,
		runner:    cfg.Runner,
		approvals: cfg.Approvals,
		logger:    logger,
		now:       now,
	}, nil
}

// Stage creates a batch of rule's actions for mail. The batch is
// auto_approved when the rule says so and pending_approval otherwise. If
// rule already staged mail the error wraps automation.ErrBatchExists and the
// rule stats are left alone.
func (s *Stager) Stage(ctx context.Context, rule Rule, mail automation.MailSnapshot) (*automation.Batch, error) {
	status := automation.BatchPendingApproval
	delta := automation.RuleStatsDelta{Matched: 1}
	if rule.AutoApprove {
		status = automation.BatchAutoApproved
		delta.AutoApproved = 1
	}

	batch := &automation.Batch{
		RuleID:        rule.ID,
		MailID:        mail.ID,
		CaseID:        rule.CaseID,
		ClientID:      rule.ClientID,
		MailSnapshot:  mail,
		Actions:       instantiate(rule.Actions),
		ApproverEmail: rule.ApproverEmail,
		Status:        status,
		CreatedAt:     s.now(),
	}
	if err := s.store.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to stage batch for rule %s: %w", rule.ID, err)
	}

	if s.stats != nil {
		if err := s.stats.IncrementRuleStats(ctx, rule.ID, delta); err != nil {
			s.logger.Warn("Failed to update rule stats", logging.Rule(rule.ID), logging.Err(err))
		}
	}

	logging.WithBatch(s.logger, batch.ID, rule.ID).Info("Staged batch",
		logging.Status(string(status)),
		slog.Int("actions", len(batch.Actions)),
	)
	return batch, nil
}

// Outcome is what happened to one matched rule during Process.
type Outcome struct {
	RuleID string                  `json:"rule_id"`
	Batch  *automation.Batch       `json:"batch,omitempty"`
	Result *automation.BatchResult `json:"result,omitempty"`
	// Skipped is set when the rule had already staged this mail.
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Process stages a batch for every rule m matches. Auto-approved batches are
// run right away when a runner is configured; pending batches trigger an
// approval request when a requester is configured. Rules that already staged
// mail are skipped. One rule failing does not stop the others.
func (s *Stager) Process(ctx context.Context, m *Matcher, mail automation.MailSnapshot) []Outcome {
	matched := m.Match(mail)
	out := make([]Outcome, 0, len(matched))
	for _, rule := range matched {
		o := Outcome{RuleID: rule.ID}
		batch, err := s.Stage(ctx, rule, mail)
		if errors.Is(err, automation.ErrBatchExists) {
			s.logger.Debug("Mail already staged", logging.Rule(rule.ID), slog.String("mail_id", mail.ID))
			o.Skipped = true
			out = append(out, o)
			continue
		}
		if err != nil {
			o.Error = err.Error()
			out = append(out, o)
			continue
		}
		o.Batch = batch

		switch {
		case batch.Status == automation.BatchAutoApproved && s.runner != nil:
			result, err := s.runner.Run(ctx, batch.ID)
			o.Result = result
			if err != nil {
				o.Error = err.Error()
			}
		case batch.Status == automation.BatchPendingApproval && s.approvals != nil:
			if err := s.approvals.RequestApproval(ctx, batch.ID); err != nil {
				o.Error = err.Error()
			}
		}
		out = append(out, o)
	}
	return out
}

// instantiate copies action templates and numbers actions without an id.
func instantiate(templates []automation.Action) []automation.Action {
	actions := make([]automation.Action, len(templates))
	copy(actions, templates)
	for i := range actions {
		if actions[i].ID == "" {
			actions[i].ID = fmt.Sprintf("action-%d", i+1)
		}
	}
	return actions
}
