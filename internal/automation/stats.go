package automation

import "time"

// RuleStats counts what happened to the batches a rule staged.
type RuleStats struct {
	RuleID       string    `json:"rule_id"`
	Matched      int64     `json:"matched"`
	AutoApproved int64     `json:"auto_approved"`
	Executed     int64     `json:"executed"`
	Failed       int64     `json:"failed"`
	RolledBack   int64     `json:"rolled_back"`
	Rejected     int64     `json:"rejected"`
	Overridden   int64     `json:"overridden"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RuleStatsDelta is added to a rule's counters in one atomic update.
type RuleStatsDelta struct {
	Matched      int64
	AutoApproved int64
	Executed     int64
	Failed       int64
	RolledBack   int64
	Rejected     int64
	Overridden   int64
}

// IsZero reports whether applying d would change nothing.
func (d RuleStatsDelta) IsZero() bool {
	return d == RuleStatsDelta{}
}

// Apply adds d to s.
func (s *RuleStats) Apply(d RuleStatsDelta) {
	s.Matched += d.Matched
	s.AutoApproved += d.AutoApproved
	s.Executed += d.Executed
	s.Failed += d.Failed
	s.RolledBack += d.RolledBack
	s.Rejected += d.Rejected
	s.Overridden += d.Overridden
}

// DeltaForStatus returns the counter increment for a batch that ended in status.
func DeltaForStatus(status BatchStatus) RuleStatsDelta {
	switch status {
	case BatchExecuted:
		return RuleStatsDelta{Executed: 1}
	case BatchFailed:
		return RuleStatsDelta{Failed: 1}
	case BatchRolledBack:
		return RuleStatsDelta{Failed: 1, RolledBack: 1}
	case BatchRejected:
		return RuleStatsDelta{Rejected: 1}
	}
	return RuleStatsDelta{}
}
