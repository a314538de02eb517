package store

// schema creates the tables PostgresStore uses. Every statement is idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id              TEXT PRIMARY KEY,
	case_id         TEXT NOT NULL DEFAULT '',
	client_id       TEXT NOT NULL DEFAULT '',
	mail_id         TEXT NOT NULL DEFAULT '',
	source_batch_id TEXT NOT NULL DEFAULT '',
	title           TEXT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	assigned_to     TEXT NOT NULL DEFAULT '',
	priority        TEXT NOT NULL,
	status          TEXT NOT NULL,
	due_date        TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS time_entries (
	id              TEXT PRIMARY KEY,
	case_id         TEXT NOT NULL DEFAULT '',
	client_id       TEXT NOT NULL DEFAULT '',
	source_batch_id TEXT NOT NULL DEFAULT '',
	description     TEXT NOT NULL DEFAULT '',
	hours           DOUBLE PRECISION NOT NULL,
	rate            DOUBLE PRECISION NOT NULL,
	billable        BOOLEAN NOT NULL,
	entry_date      TIMESTAMPTZ NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS activities (
	id              TEXT PRIMARY KEY,
	case_id         TEXT NOT NULL DEFAULT '',
	client_id       TEXT NOT NULL DEFAULT '',
	source_batch_id TEXT NOT NULL DEFAULT '',
	kind            TEXT NOT NULL,
	title           TEXT NOT NULL,
	message         TEXT NOT NULL DEFAULT '',
	severity        TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS approval_batches (
	id             TEXT PRIMARY KEY,
	rule_id        TEXT NOT NULL,
	mail_id        TEXT NOT NULL,
	case_id        TEXT NOT NULL DEFAULT '',
	client_id      TEXT NOT NULL DEFAULT '',
	mail_snapshot  JSONB NOT NULL,
	actions        JSONB NOT NULL,
	approver_email TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	executed_at    TIMESTAMPTZ,
	last_result    JSONB
);

CREATE INDEX IF NOT EXISTS approval_batches_rule_idx ON approval_batches (rule_id, created_at DESC);

CREATE UNIQUE INDEX IF NOT EXISTS approval_batches_rule_mail_idx ON approval_batches (rule_id, mail_id) WHERE mail_id <> '';

CREATE TABLE IF NOT EXISTS rule_stats (
	rule_id       TEXT PRIMARY KEY,
	matched       BIGINT NOT NULL DEFAULT 0,
	auto_approved BIGINT NOT NULL DEFAULT 0,
	executed      BIGINT NOT NULL DEFAULT 0,
	failed        BIGINT NOT NULL DEFAULT 0,
	rolled_back   BIGINT NOT NULL DEFAULT 0,
	rejected      BIGINT NOT NULL DEFAULT 0,
	overridden    BIGINT NOT NULL DEFAULT 0,
	updated_at    TIMESTAMPTZ NOT NULL
);
`
