package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teemow/ipdocket/internal/automation"
)

// ErrNotFound is returned for unknown record ids.
var ErrNotFound = errors.New("record not found")

// MemoryStore keeps everything in process memory. It is used by tests and by
// the CLI when no database is configured.
type MemoryStore struct {
	mu          sync.RWMutex
	tasks       map[string]automation.TaskRecord
	timeEntries map[string]automation.TimeEntryRecord
	activities  map[string]automation.ActivityRecord
	batches     map[string]*automation.Batch
	stats       map[string]automation.RuleStats
	now         func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:       make(map[string]automation.TaskRecord),
		timeEntries: make(map[string]automation.TimeEntryRecord),
		activities:  make(map[string]automation.ActivityRecord),
		batches:     make(map[string]*automation.Batch),
		stats:       make(map[string]automation.RuleStats),
		now:         time.Now,
	}
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

// CreateTask implements automation.EntityStore.
func (s *MemoryStore) CreateTask(_ context.Context, t automation.TaskRecord) (automation.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = newID(t.ID)
	s.tasks[t.ID] = t
	return t, nil
}

// GetTask returns the task with id.
func (s *MemoryStore) GetTask(_ context.Context, id string) (automation.TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return automation.TaskRecord{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t, nil
}

// DeleteTask implements automation.EntityStore. Deleting a missing task is
// not an error.
func (s *MemoryStore) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

// CreateTimeEntry implements automation.EntityStore.
func (s *MemoryStore) CreateTimeEntry(_ context.Context, e automation.TimeEntryRecord) (automation.TimeEntryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = newID(e.ID)
	s.timeEntries[e.ID] = e
	return e, nil
}

// GetTimeEntry returns the time entry with id.
func (s *MemoryStore) GetTimeEntry(_ context.Context, id string) (automation.TimeEntryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.timeEntries[id]
	if !ok {
		return automation.TimeEntryRecord{}, fmt.Errorf("time entry %s: %w", id, ErrNotFound)
	}
	return e, nil
}

// DeleteTimeEntry implements automation.EntityStore.
func (s *MemoryStore) DeleteTimeEntry(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.timeEntries, id)
	return nil
}

// CreateActivity implements automation.EntityStore.
func (s *MemoryStore) CreateActivity(_ context.Context, a automation.ActivityRecord) (automation.ActivityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = newID(a.ID)
	s.activities[a.ID] = a
	return a, nil
}

// GetActivity returns the activity with id.
func (s *MemoryStore) GetActivity(_ context.Context, id string) (automation.ActivityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.activities[id]
	if !ok {
		return automation.ActivityRecord{}, fmt.Errorf("activity %s: %w", id, ErrNotFound)
	}
	return a, nil
}

// DeleteActivity implements automation.EntityStore.
func (s *MemoryStore) DeleteActivity(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activities, id)
	return nil
}

func copyBatch(b *automation.Batch) *automation.Batch {
	cp := *b
	cp.Actions = append([]automation.Action(nil), b.Actions...)
	return &cp
}

// CreateBatch implements Store.
func (s *MemoryStore) CreateBatch(_ context.Context, b *automation.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.ID = newID(b.ID)
	if _, ok := s.batches[b.ID]; ok {
		return fmt.Errorf("batch %s already exists", b.ID)
	}
	if b.MailID != "" {
		for _, existing := range s.batches {
			if existing.RuleID == b.RuleID && existing.MailID == b.MailID {
				return fmt.Errorf("mail %s is staged as batch %s: %w", b.MailID, existing.ID, automation.ErrBatchExists)
			}
		}
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.now()
	}
	s.batches[b.ID] = copyBatch(b)
	return nil
}

// GetBatch implements automation.BatchStore.
func (s *MemoryStore) GetBatch(_ context.Context, id string) (*automation.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", id, automation.ErrBatchNotFound)
	}
	return copyBatch(b), nil
}

// ListBatches returns matching batches, newest first.
func (s *MemoryStore) ListBatches(_ context.Context, filter BatchFilter) ([]*automation.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*automation.Batch
	for _, b := range s.batches {
		if filter.matches(b) {
			out = append(out, copyBatch(b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// UpdateBatchStatus implements Store.
func (s *MemoryStore) UpdateBatchStatus(_ context.Context, id string, from, to automation.BatchStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return fmt.Errorf("batch %s: %w", id, automation.ErrBatchNotFound)
	}
	if b.Status != from {
		return fmt.Errorf("batch %s is %s, expected %s: %w", id, b.Status, from, automation.ErrStatusConflict)
	}
	b.Status = to
	return nil
}

// CompleteBatch implements automation.BatchStore.
func (s *MemoryStore) CompleteBatch(_ context.Context, id string, from automation.BatchStatus, result *automation.BatchResult, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return fmt.Errorf("batch %s: %w", id, automation.ErrBatchNotFound)
	}
	if b.Status != from {
		return fmt.Errorf("batch %s is %s, expected %s: %w", id, b.Status, from, automation.ErrStatusConflict)
	}
	b.Status = result.FinalStatus()
	b.LastResult = result
	b.ExecutedAt = &at
	return nil
}

// SetActionEnabled implements Store. Only pending batches may be changed.
func (s *MemoryStore) SetActionEnabled(_ context.Context, batchID, actionID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return fmt.Errorf("batch %s: %w", batchID, automation.ErrBatchNotFound)
	}
	if b.Status != automation.BatchPendingApproval {
		return fmt.Errorf("batch %s is %s: %w", batchID, b.Status, automation.ErrStatusConflict)
	}
	for i := range b.Actions {
		if b.Actions[i].ID == actionID {
			b.Actions[i].Enabled = enabled
			return nil
		}
	}
	return fmt.Errorf("batch %s action %s: %w", batchID, actionID, automation.ErrActionNotFound)
}

// IncrementRuleStats implements automation.RuleStatsRecorder.
func (s *MemoryStore) IncrementRuleStats(_ context.Context, ruleID string, d automation.RuleStatsDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats[ruleID]
	st.RuleID = ruleID
	st.Apply(d)
	st.UpdatedAt = s.now()
	s.stats[ruleID] = st
	return nil
}

// GetRuleStats returns the counters of ruleID. Unknown rules have zero counters.
func (s *MemoryStore) GetRuleStats(_ context.Context, ruleID string) (automation.RuleStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stats[ruleID]
	if !ok {
		return automation.RuleStats{RuleID: ruleID}, nil
	}
	return st, nil
}

// ListRuleStats returns the counters of every rule, ordered by rule id.
func (s *MemoryStore) ListRuleStats(_ context.Context) ([]automation.RuleStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]automation.RuleStats, 0, len(s.stats))
	for _, st := range s.stats {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleID < out[j].RuleID })
	return out, nil
}
