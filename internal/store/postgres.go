package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/teemow/ipdocket/internal/automation"
)

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// OpenPostgres connects to dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return NewPostgresStore(db), nil
}

// Migrate creates missing tables.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// CreateTask implements automation.EntityStore.
func (s *PostgresStore) CreateTask(ctx context.Context, t automation.TaskRecord) (automation.TaskRecord, error) {
	t.ID = newID(t.ID)
	var due sql.NullTime
	if t.DueDate != nil {
		due = sql.NullTime{Time: *t.DueDate, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, case_id, client_id, mail_id, source_batch_id, title, description, assigned_to, priority, status, due_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.CaseID, t.ClientID, t.MailID, t.SourceBatchID, t.Title, t.Description, t.AssignedTo, t.Priority, t.Status, due, t.CreatedAt)
	if err != nil {
		return automation.TaskRecord{}, fmt.Errorf("failed to insert task: %w", err)
	}
	return t, nil
}

// GetTask returns the task with id.
func (s *PostgresStore) GetTask(ctx context.Context, id string) (automation.TaskRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, case_id, client_id, mail_id, source_batch_id, title, description, assigned_to, priority, status, due_date, created_at
		FROM tasks WHERE id = $1`, id)

	var t automation.TaskRecord
	var due sql.NullTime
	err := row.Scan(&t.ID, &t.CaseID, &t.ClientID, &t.MailID, &t.SourceBatchID, &t.Title, &t.Description, &t.AssignedTo, &t.Priority, &t.Status, &due, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return automation.TaskRecord{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return automation.TaskRecord{}, fmt.Errorf("failed to get task: %w", err)
	}
	if due.Valid {
		t.DueDate = &due.Time
	}
	return t, nil
}

// DeleteTask implements automation.EntityStore.
func (s *PostgresStore) DeleteTask(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	return nil
}

// CreateTimeEntry implements automation.EntityStore.
func (s *PostgresStore) CreateTimeEntry(ctx context.Context, e automation.TimeEntryRecord) (automation.TimeEntryRecord, error) {
	e.ID = newID(e.ID)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO time_entries (id, case_id, client_id, source_batch_id, description, hours, rate, billable, entry_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.CaseID, e.ClientID, e.SourceBatchID, e.Description, e.Hours, e.Rate, e.Billable, e.Date, e.CreatedAt)
	if err != nil {
		return automation.TimeEntryRecord{}, fmt.Errorf("failed to insert time entry: %w", err)
	}
	return e, nil
}

// GetTimeEntry returns the time entry with id.
func (s *PostgresStore) GetTimeEntry(ctx context.Context, id string) (automation.TimeEntryRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, case_id, client_id, source_batch_id, description, hours, rate, billable, entry_date, created_at
		FROM time_entries WHERE id = $1`, id)

	var e automation.TimeEntryRecord
	err := row.Scan(&e.ID, &e.CaseID, &e.ClientID, &e.SourceBatchID, &e.Description, &e.Hours, &e.Rate, &e.Billable, &e.Date, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return automation.TimeEntryRecord{}, fmt.Errorf("time entry %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return automation.TimeEntryRecord{}, fmt.Errorf("failed to get time entry: %w", err)
	}
	return e, nil
}

// DeleteTimeEntry implements automation.EntityStore.
func (s *PostgresStore) DeleteTimeEntry(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM time_entries WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete time entry %s: %w", id, err)
	}
	return nil
}

// CreateActivity implements automation.EntityStore.
func (s *PostgresStore) CreateActivity(ctx context.Context, a automation.ActivityRecord) (automation.ActivityRecord, error) {
	a.ID = newID(a.ID)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activities (id, case_id, client_id, source_batch_id, kind, title, message, severity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.CaseID, a.ClientID, a.SourceBatchID, a.Kind, a.Title, a.Message, a.Severity, a.CreatedAt)
	if err != nil {
		return automation.ActivityRecord{}, fmt.Errorf("failed to insert activity: %w", err)
	}
	return a, nil
}

// GetActivity returns the activity with id.
func (s *PostgresStore) GetActivity(ctx context.Context, id string) (automation.ActivityRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, case_id, client_id, source_batch_id, kind, title, message, severity, created_at
		FROM activities WHERE id = $1`, id)

	var a automation.ActivityRecord
	err := row.Scan(&a.ID, &a.CaseID, &a.ClientID, &a.SourceBatchID, &a.Kind, &a.Title, &a.Message, &a.Severity, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return automation.ActivityRecord{}, fmt.Errorf("activity %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return automation.ActivityRecord{}, fmt.Errorf("failed to get activity: %w", err)
	}
	return a, nil
}

// DeleteActivity implements automation.EntityStore.
func (s *PostgresStore) DeleteActivity(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM activities WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete activity %s: %w", id, err)
	}
	return nil
}

const batchColumns = `id, rule_id, mail_id, case_id, client_id, mail_snapshot, actions, approver_email, status, created_at, executed_at, last_result`

// CreateBatch implements Store.
func (s *PostgresStore) CreateBatch(ctx context.Context, b *automation.Batch) error {
	b.ID = newID(b.ID)
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.now()
	}
	snapshot, err := json.Marshal(b.MailSnapshot)
	if err != nil {
		return fmt.Errorf("failed to encode mail snapshot: %w", err)
	}
	actions, err := json.Marshal(b.Actions)
	if err != nil {
		return fmt.Errorf("failed to encode actions: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO approval_batches (id, rule_id, mail_id, case_id, client_id, mail_snapshot, actions, approver_email, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		b.ID, b.RuleID, b.MailID, b.CaseID, b.ClientID, snapshot, actions, b.ApproverEmail, string(b.Status), b.CreatedAt)
	if isUniqueViolation(err, ruleMailConstraint) {
		return fmt.Errorf("mail %s for rule %s: %w", b.MailID, b.RuleID, automation.ErrBatchExists)
	}
	if err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}
	return nil
}

const (
	uniqueViolation    = pq.ErrorCode("23505")
	ruleMailConstraint = "approval_batches_rule_mail_idx"
)

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == constraint
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*automation.Batch, error) {
	var (
		b          automation.Batch
		status     string
		snapshot   []byte
		actions    []byte
		executedAt sql.NullTime
		lastResult []byte
	)
	if err := row.Scan(&b.ID, &b.RuleID, &b.MailID, &b.CaseID, &b.ClientID, &snapshot, &actions, &b.ApproverEmail, &status, &b.CreatedAt, &executedAt, &lastResult); err != nil {
		return nil, err
	}
	b.Status = automation.BatchStatus(status)
	if err := json.Unmarshal(snapshot, &b.MailSnapshot); err != nil {
		return nil, fmt.Errorf("failed to decode mail snapshot of batch %s: %w", b.ID, err)
	}
	if err := json.Unmarshal(actions, &b.Actions); err != nil {
		return nil, fmt.Errorf("failed to decode actions of batch %s: %w", b.ID, err)
	}
	if executedAt.Valid {
		b.ExecutedAt = &executedAt.Time
	}
	if len(lastResult) > 0 {
		var r automation.BatchResult
		if err := json.Unmarshal(lastResult, &r); err != nil {
			return nil, fmt.Errorf("failed to decode last result of batch %s: %w", b.ID, err)
		}
		b.LastResult = &r
	}
	return &b, nil
}

// GetBatch implements automation.BatchStore.
func (s *PostgresStore) GetBatch(ctx context.Context, id string) (*automation.Batch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM approval_batches WHERE id = $1`, id)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch %s: %w", id, automation.ErrBatchNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return b, nil
}

// ListBatches returns matching batches, newest first.
func (s *PostgresStore) ListBatches(ctx context.Context, filter BatchFilter) ([]*automation.Batch, error) {
	var (
		where []string
		args  []any
	)
	if filter.RuleID != "" {
		args = append(args, filter.RuleID)
		where = append(where, fmt.Sprintf("rule_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + batchColumns + ` FROM approval_batches`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var out []*automation.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	return out, nil
}

// UpdateBatchStatus implements Store with a conditional update.
func (s *PostgresStore) UpdateBatchStatus(ctx context.Context, id string, from, to automation.BatchStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE approval_batches SET status = $1 WHERE id = $2 AND status = $3`,
		string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("failed to update batch %s: %w", id, err)
	}
	return s.checkUpdated(ctx, res, id, from)
}

// CompleteBatch implements automation.BatchStore.
func (s *PostgresStore) CompleteBatch(ctx context.Context, id string, from automation.BatchStatus, result *automation.BatchResult, at time.Time) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode batch result: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE approval_batches SET status = $1, last_result = $2, executed_at = $3 WHERE id = $4 AND status = $5`,
		string(result.FinalStatus()), encoded, at, id, string(from))
	if err != nil {
		return fmt.Errorf("failed to complete batch %s: %w", id, err)
	}
	return s.checkUpdated(ctx, res, id, from)
}

// checkUpdated tells a lost conditional update apart from a missing batch.
func (s *PostgresStore) checkUpdated(ctx context.Context, res sql.Result, id string, from automation.BatchStatus) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n > 0 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM approval_batches WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("batch %s: %w", id, automation.ErrBatchNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get batch status: %w", err)
	}
	return fmt.Errorf("batch %s is %s, expected %s: %w", id, status, from, automation.ErrStatusConflict)
}

// SetActionEnabled implements Store. The batch row is locked while its
// actions are rewritten.
func (s *PostgresStore) SetActionEnabled(ctx context.Context, batchID, actionID string, enabled bool) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var (
		status  string
		encoded []byte
	)
	err = tx.QueryRowContext(ctx, `SELECT status, actions FROM approval_batches WHERE id = $1 FOR UPDATE`, batchID).Scan(&status, &encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("batch %s: %w", batchID, automation.ErrBatchNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock batch %s: %w", batchID, err)
	}
	if automation.BatchStatus(status) != automation.BatchPendingApproval {
		return fmt.Errorf("batch %s is %s: %w", batchID, status, automation.ErrStatusConflict)
	}

	var actions []automation.Action
	if err = json.Unmarshal(encoded, &actions); err != nil {
		return fmt.Errorf("failed to decode actions of batch %s: %w", batchID, err)
	}
	found := false
	for i := range actions {
		if actions[i].ID == actionID {
			actions[i].Enabled = enabled
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("batch %s action %s: %w", batchID, actionID, automation.ErrActionNotFound)
	}

	if encoded, err = json.Marshal(actions); err != nil {
		return fmt.Errorf("failed to encode actions: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `UPDATE approval_batches SET actions = $1 WHERE id = $2`, encoded, batchID); err != nil {
		return fmt.Errorf("failed to update actions of batch %s: %w", batchID, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// IncrementRuleStats implements automation.RuleStatsRecorder as a single
// upsert, so concurrent batches of one rule never lose an increment.
func (s *PostgresStore) IncrementRuleStats(ctx context.Context, ruleID string, d automation.RuleStatsDelta) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rule_stats (rule_id, matched, auto_approved, executed, failed, rolled_back, rejected, overridden, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (rule_id) DO UPDATE SET
			matched = rule_stats.matched + EXCLUDED.matched,
			auto_approved = rule_stats.auto_approved + EXCLUDED.auto_approved,
			executed = rule_stats.executed + EXCLUDED.executed,
			failed = rule_stats.failed + EXCLUDED.failed,
			rolled_back = rule_stats.rolled_back + EXCLUDED.rolled_back,
			rejected = rule_stats.rejected + EXCLUDED.rejected,
			overridden = rule_stats.overridden + EXCLUDED.overridden,
			updated_at = EXCLUDED.updated_at`,
		ruleID, d.Matched, d.AutoApproved, d.Executed, d.Failed, d.RolledBack, d.Rejected, d.Overridden, s.now())
	if err != nil {
		return fmt.Errorf("failed to update stats of rule %s: %w", ruleID, err)
	}
	return nil
}

const ruleStatsColumns = `rule_id, matched, auto_approved, executed, failed, rolled_back, rejected, overridden, updated_at`

func scanRuleStats(row rowScanner) (automation.RuleStats, error) {
	var st automation.RuleStats
	err := row.Scan(&st.RuleID, &st.Matched, &st.AutoApproved, &st.Executed, &st.Failed, &st.RolledBack, &st.Rejected, &st.Overridden, &st.UpdatedAt)
	return st, err
}

// GetRuleStats returns the counters of ruleID. Unknown rules have zero counters.
func (s *PostgresStore) GetRuleStats(ctx context.Context, ruleID string) (automation.RuleStats, error) {
	st, err := scanRuleStats(s.db.QueryRowContext(ctx, `SELECT `+ruleStatsColumns+` FROM rule_stats WHERE rule_id = $1`, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return automation.RuleStats{RuleID: ruleID}, nil
	}
	if err != nil {
		return automation.RuleStats{}, fmt.Errorf("failed to get stats of rule %s: %w", ruleID, err)
	}
	return st, nil
}

// ListRuleStats returns the counters of every rule, ordered by rule id.
func (s *PostgresStore) ListRuleStats(ctx context.Context) ([]automation.RuleStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+ruleStatsColumns+` FROM rule_stats ORDER BY rule_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rule stats: %w", err)
	}
	defer rows.Close()

	var out []automation.RuleStats
	for rows.Next() {
		st, err := scanRuleStats(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule stats: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
