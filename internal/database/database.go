package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	return pgxpool.NewWithConfig(ctx, cfg)
}

const schema = `
CREATE TABLE IF NOT EXISTS policy_documents (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	name TEXT NOT NULL,
	content TEXT,
	published_at DATE,
	scan_status TEXT NOT NULL DEFAULT 'idle',
	scan_error TEXT,
	last_scanned_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_policy_documents_account ON policy_documents(account_id);

CREATE TABLE IF NOT EXISTS issues (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	policy_document_id TEXT NOT NULL REFERENCES policy_documents(id) ON DELETE CASCADE,
	issue_type TEXT NOT NULL,
	description TEXT NOT NULL CHECK (btrim(description) <> ''),
	excerpt TEXT,
	status TEXT NOT NULL DEFAULT 'open',
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_issues_document_status ON issues(policy_document_id, status);
CREATE INDEX IF NOT EXISTS idx_issues_account_status ON issues(account_id, status);

CREATE TABLE IF NOT EXISTS issue_related_policies (
	issue_id TEXT NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
	policy_document_id TEXT NOT NULL REFERENCES policy_documents(id) ON DELETE CASCADE,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (issue_id, policy_document_id)
);
CREATE INDEX IF NOT EXISTS idx_issue_related_policies_document ON issue_related_policies(policy_document_id);

CREATE TABLE IF NOT EXISTS suggested_changes (
	id TEXT PRIMARY KEY,
	issue_id TEXT NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
	action_type TEXT NOT NULL,
	original_text TEXT,
	suggested_text TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_suggested_changes_issue_status ON suggested_changes(issue_id, status);

CREATE TABLE IF NOT EXISTS policy_uploads (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	name TEXT NOT NULL,
	file_name TEXT NOT NULL,
	content_type TEXT NOT NULL,
	object_key TEXT NOT NULL,
	status TEXT NOT NULL,
	policy_document_id TEXT REFERENCES policy_documents(id) ON DELETE SET NULL,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_policy_uploads_account_status ON policy_uploads(account_id, status);`

// EnsureSchema creates the tables the API and the worker share.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
