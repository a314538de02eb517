package rules

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/teemow/ipdocket/internal/automation"
)

// Rule stages a batch of actions for every inbound email its condition
// matches.
type Rule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// Condition is a CEL expression over the variable mail. An empty
	// condition matches every email.
	Condition string `json:"condition,omitempty"`
	// Actions are copied into every batch the rule stages.
	Actions       []automation.Action `json:"actions"`
	AutoApprove   bool                `json:"auto_approve"`
	ApproverEmail string              `json:"approver_email,omitempty"`
	CaseID        string              `json:"case_id,omitempty"`
	ClientID      string              `json:"client_id,omitempty"`
	Enabled       bool                `json:"enabled"`
}

// Validate checks the fields that do not need a CEL environment.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("rule has no id")
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("rule %s has no actions", r.ID)
	}
	if !r.AutoApprove && r.ApproverEmail == "" {
		return fmt.Errorf("rule %s needs an approver_email or auto_approve", r.ID)
	}
	seen := make(map[string]bool, len(r.Actions))
	for _, a := range r.Actions {
		if a.ID == "" {
			continue
		}
		if seen[a.ID] {
			return fmt.Errorf("rule %s has duplicate action id %s", r.ID, a.ID)
		}
		seen[a.ID] = true
	}
	return nil
}

// LoadRules decodes a JSON array of rules and validates each of them.
func LoadRules(r io.Reader) ([]Rule, error) {
	var rules []Rule
	if err := json.NewDecoder(r).Decode(&rules); err != nil {
		return nil, fmt.Errorf("failed to decode rules: %w", err)
	}
	ids := make(map[string]bool, len(rules))
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		if ids[rule.ID] {
			return nil, fmt.Errorf("duplicate rule id %s", rule.ID)
		}
		ids[rule.ID] = true
	}
	return rules, nil
}

// LoadRulesFile reads rules from a JSON file.
func LoadRulesFile(path string) ([]Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rules file: %w", err)
	}
	defer f.Close()
	return LoadRules(f)
}
