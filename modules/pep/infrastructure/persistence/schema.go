package persistence

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"
)

// SavedReportsPGSchema creates pep.saved_reports with forced row level
// security keyed on app.current_tenant.
const SavedReportsPGSchema = `
CREATE SCHEMA IF NOT EXISTS pep;

CREATE TABLE IF NOT EXISTS pep.saved_reports (
  id uuid PRIMARY KEY,
  tenant_id uuid NOT NULL,
  report_name text NOT NULL CHECK (btrim(report_name) <> '' AND char_length(report_name) <= 200),
  plain_english text NOT NULL CHECK (btrim(plain_english) <> ''),
  compiled_ir jsonb NOT NULL CHECK (jsonb_typeof(compiled_ir) = 'object'),
  compiled_at timestamptz NOT NULL DEFAULT now(),
  run_count bigint NOT NULL DEFAULT 0 CHECK (run_count >= 0),
  last_run_at timestamptz NULL,
  CONSTRAINT saved_reports_tenant_name_unique UNIQUE (tenant_id, report_name)
);

ALTER TABLE pep.saved_reports ENABLE ROW LEVEL SECURITY;
ALTER TABLE pep.saved_reports FORCE ROW LEVEL SECURITY;

DROP POLICY IF EXISTS tenant_isolation ON pep.saved_reports;
CREATE POLICY tenant_isolation ON pep.saved_reports
USING (tenant_id = current_setting('app.current_tenant')::uuid)
WITH CHECK (tenant_id = current_setting('app.current_tenant')::uuid);
`

const savedReportsSQLiteSchema = `
CREATE TABLE IF NOT EXISTS saved_reports (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  report_name TEXT NOT NULL,
  plain_english TEXT NOT NULL,
  compiled_ir TEXT NOT NULL,
  compiled_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
  run_count INTEGER NOT NULL DEFAULT 0,
  last_run_at TEXT NULL,
  UNIQUE (tenant_id, report_name)
);
CREATE INDEX IF NOT EXISTS saved_reports_tenant_idx ON saved_reports (tenant_id);
`

type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ApplyPGSchema is idempotent.
func ApplyPGSchema(ctx context.Context, db pgExecer) error {
	_, err := db.Exec(ctx, SavedReportsPGSchema)
	return err
}
