package advisor

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/teemow/ipdocket/internal/automation"
	"github.com/teemow/ipdocket/internal/logging"
)

// Kind is the type of change a suggestion proposes.
type Kind string

const (
	KindDisableAction     Kind = "disable_action"
	KindRequireApproval   Kind = "require_approval"
	KindEnableAutoApprove Kind = "enable_auto_approve"
	KindReviewRule        Kind = "review_rule"
)

// Suggestion is one proposed change to a rule.
type Suggestion struct {
	RuleID     string                `json:"rule_id"`
	Kind       Kind                  `json:"kind"`
	ActionID   string                `json:"action_id,omitempty"`
	ActionType automation.ActionType `json:"action_type,omitempty"`
	Message    string                `json:"message"`
	Confidence float64               `json:"confidence"`
	Samples    int                   `json:"samples"`
}

// Thresholds tune when a suggestion is made. Rates are fractions in [0, 1].
type Thresholds struct {
	// MinSamples is the number of decided batches a rule needs before any
	// suggestion is made for it.
	MinSamples int `json:"min_samples"`
	// DisableActionRate is the share of decided batches in which an action
	// was switched off before approval.
	DisableActionRate float64 `json:"disable_action_rate"`
	// RequireApprovalRate is the failure rate of an auto-approved rule.
	RequireApprovalRate float64 `json:"require_approval_rate"`
	// ReviewRuleRate is the rejection rate of a rule.
	ReviewRuleRate float64 `json:"review_rule_rate"`
}

// DefaultThresholds returns the thresholds used when none are given.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinSamples:          5,
		DisableActionRate:   0.5,
		RequireApprovalRate: 0.2,
		ReviewRuleRate:      0.3,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.MinSamples <= 0 {
		t.MinSamples = d.MinSamples
	}
	if t.DisableActionRate <= 0 {
		t.DisableActionRate = d.DisableActionRate
	}
	if t.RequireApprovalRate <= 0 {
		t.RequireApprovalRate = d.RequireApprovalRate
	}
	if t.ReviewRuleRate <= 0 {
		t.ReviewRuleRate = d.ReviewRuleRate
	}
	return t
}

// RuleHistory is what the advisor knows about one rule.
type RuleHistory struct {
	RuleID      string              `json:"rule_id"`
	AutoApprove bool                `json:"auto_approve"`
	Batches     []*automation.Batch `json:"batches"`
}

// LoadHistory decodes a JSON array of rule histories.
func LoadHistory(r io.Reader) ([]RuleHistory, error) {
	var h []RuleHistory
	if err := json.NewDecoder(r).Decode(&h); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	return h, nil
}

// BuildHistory groups batches by rule. autoApprove holds the current
// setting of each rule; rules missing from it count as manual.
func BuildHistory(batches []*automation.Batch, autoApprove map[string]bool) []RuleHistory {
	byRule := make(map[string]*RuleHistory)
	var order []string
	for _, b := range batches {
		if b.RuleID == "" {
			continue
		}
		h, ok := byRule[b.RuleID]
		if !ok {
			h = &RuleHistory{RuleID: b.RuleID, AutoApprove: autoApprove[b.RuleID]}
			byRule[b.RuleID] = h
			order = append(order, b.RuleID)
		}
		h.Batches = append(h.Batches, b)
	}
	sort.Strings(order)

	out := make([]RuleHistory, 0, len(order))
	for _, id := range order {
		out = append(out, *byRule[id])
	}
	return out
}

// Advisor suggests rule changes from past batches. It never modifies rules.
type Advisor struct {
	thresholds Thresholds
	logger     *slog.Logger
}

// New creates an Advisor. Zero thresholds take their defaults.
func New(thresholds Thresholds, logger *slog.Logger) *Advisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Advisor{thresholds: thresholds.withDefaults(), logger: logger}
}

// Thresholds returns the thresholds in effect.
func (a *Advisor) Thresholds() Thresholds {
	return a.thresholds
}

// Suggest returns suggestions ordered by rule id, then kind, then action id.
func (a *Advisor) Suggest(histories []RuleHistory) []Suggestion {
	var out []Suggestion
	for _, h := range histories {
		tally := tallyRule(h)
		if tally.decided < a.thresholds.MinSamples {
			a.logger.Debug("Not enough history for rule",
				logging.Rule(h.RuleID),
				slog.Int("decided", tally.decided),
			)
			continue
		}
		out = append(out, a.suggestForRule(h, tally)...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RuleID != out[j].RuleID {
			return out[i].RuleID < out[j].RuleID
		}
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ActionID < out[j].ActionID
	})
	return out
}

func (a *Advisor) suggestForRule(h RuleHistory, t ruleTally) []Suggestion {
	var out []Suggestion
	th := a.thresholds

	for _, act := range t.actions {
		rate := ratio(act.disabled, t.decided)
		if act.disabled == 0 || rate < th.DisableActionRate {
			continue
		}
		out = append(out, Suggestion{
			RuleID:     h.RuleID,
			Kind:       KindDisableAction,
			ActionID:   act.id,
			ActionType: act.actionType,
			Message: fmt.Sprintf("Action %s (%s) was switched off before approval in %d of %d batches; consider removing it from the rule",
				act.id, act.actionType, act.disabled, t.decided),
			Confidence: rate,
			Samples:    t.decided,
		})
	}

	if h.AutoApprove && t.runs > 0 {
		rate := ratio(t.failed, t.runs)
		if t.failed > 0 && rate >= th.RequireApprovalRate {
			out = append(out, Suggestion{
				RuleID:     h.RuleID,
				Kind:       KindRequireApproval,
				Message:    fmt.Sprintf("Auto-approved rule failed in %d of %d runs; consider requiring approval", t.failed, t.runs),
				Confidence: rate,
				Samples:    t.runs,
			})
		}
	}

	if !h.AutoApprove && t.overridden == 0 && t.rejected == 0 {
		out = append(out, Suggestion{
			RuleID:     h.RuleID,
			Kind:       KindEnableAutoApprove,
			Message:    fmt.Sprintf("All %d batches were approved unchanged; consider approving this rule automatically", t.decided),
			Confidence: confidenceFromSamples(t.decided, th.MinSamples),
			Samples:    t.decided,
		})
	}

	if rate := ratio(t.rejected, t.decided); t.rejected > 0 && rate >= th.ReviewRuleRate {
		out = append(out, Suggestion{
			RuleID:     h.RuleID,
			Kind:       KindReviewRule,
			Message:    fmt.Sprintf("%d of %d batches were rejected; the rule condition may be too broad", t.rejected, t.decided),
			Confidence: rate,
			Samples:    t.decided,
		})
	}

	return out
}

type actionTally struct {
	id         string
	actionType automation.ActionType
	disabled   int
}

type ruleTally struct {
	// decided counts batches that left the approval stage.
	decided    int
	runs       int
	failed     int
	rejected   int
	overridden int
	actions    []*actionTally
}

func tallyRule(h RuleHistory) ruleTally {
	var t ruleTally
	byID := make(map[string]*actionTally)

	for _, b := range h.Batches {
		switch b.Status {
		case automation.BatchPendingApproval, automation.BatchApproved, automation.BatchAutoApproved:
			continue
		case automation.BatchRejected:
			t.rejected++
		case automation.BatchExecuted:
			t.runs++
		case automation.BatchFailed, automation.BatchRolledBack:
			t.runs++
			t.failed++
		default:
			continue
		}
		t.decided++

		overridden := false
		for _, act := range b.Actions {
			at, ok := byID[act.ID]
			if !ok {
				at = &actionTally{id: act.ID, actionType: act.Type}
				byID[act.ID] = at
				t.actions = append(t.actions, at)
			}
			if !act.Enabled {
				at.disabled++
				overridden = true
			}
		}
		if overridden {
			t.overridden++
		}
	}
	return t
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// confidenceFromSamples grows with the sample count and reaches 1 at twice
// the minimum.
func confidenceFromSamples(n, minSamples int) float64 {
	c := ratio(n, 2*minSamples)
	if c > 1 {
		return 1
	}
	return c
}
