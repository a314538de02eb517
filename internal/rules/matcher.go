package rules

import (
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"

	"github.com/teemow/ipdocket/internal/automation"
	"github.com/teemow/ipdocket/internal/logging"
)

type compiledRule struct {
	rule    Rule
	program cel.Program
}

// Matcher evaluates rule conditions against inbound email. Conditions are
// compiled once in NewMatcher; a Matcher is safe for concurrent use.
type Matcher struct {
	rules  []compiledRule
	logger *slog.Logger
}

func newEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("mail", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// NewMatcher compiles the conditions of every enabled rule. A condition that
// does not compile or does not yield a bool is an error.
func NewMatcher(rules []Rule, logger *slog.Logger) (*Matcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	env, err := newEnv()
	if err != nil {
		return nil, err
	}

	m := &Matcher{logger: logger}
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		cr := compiledRule{rule: rule}
		if rule.Condition != "" {
			prg, err := compile(env, rule.Condition)
			if err != nil {
				return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
			}
			cr.program = prg
		}
		m.rules = append(m.rules, cr)
	}
	return m, nil
}

func compile(env *cel.Env, expr string) (cel.Program, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("condition must be a bool expression, got %s", out)
	}
	prg, err := env.Program(ast, cel.CostLimit(10000))
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	return prg, nil
}

// CheckCondition reports whether expr is a valid rule condition.
func CheckCondition(expr string) error {
	env, err := newEnv()
	if err != nil {
		return err
	}
	_, err = compile(env, expr)
	return err
}

// Match returns the enabled rules whose condition holds for mail, in the
// order they were given to NewMatcher. A condition that fails to evaluate,
// for example on a missing field, counts as no match.
func (m *Matcher) Match(mail automation.MailSnapshot) []Rule {
	input := map[string]any{"mail": mailVars(mail)}

	var out []Rule
	for _, cr := range m.rules {
		if cr.program == nil {
			out = append(out, cr.rule)
			continue
		}
		val, _, err := cr.program.Eval(input)
		if err != nil {
			m.logger.Debug("Rule condition failed to evaluate", logging.Rule(cr.rule.ID), logging.Err(err))
			continue
		}
		if matched, ok := val.Value().(bool); ok && matched {
			out = append(out, cr.rule)
		}
	}
	return out
}

// Rules returns the enabled rules held by the matcher.
func (m *Matcher) Rules() []Rule {
	out := make([]Rule, len(m.rules))
	for i, cr := range m.rules {
		out[i] = cr.rule
	}
	return out
}

func mailVars(mail automation.MailSnapshot) map[string]any {
	return map[string]any{
		"id":          mail.ID,
		"thread_id":   mail.ThreadID,
		"from":        mail.From,
		"to":          nonNil(mail.To),
		"cc":          nonNil(mail.Cc),
		"subject":     mail.Subject,
		"snippet":     mail.Snippet,
		"body":        mail.Body,
		"labels":      nonNil(mail.Labels),
		"received_at": mail.ReceivedAt,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
