package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jacksonlee411/crm-pep/modules/pep/domain/ports"
	"github.com/jacksonlee411/crm-pep/modules/pep/domain/types"
	"github.com/jacksonlee411/crm-pep/pkg/httperr"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// OpenSQLite opens a database/sql handle on the pure-Go sqlite driver and
// applies the saved_reports schema. A single connection serialises writers.
func OpenSQLite(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, savedReportsSQLiteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return db, nil
}

// SavedReportSQLiteStore has no row level security; every statement carries
// the tenant predicate instead.
type SavedReportSQLiteStore struct {
	db *sql.DB
}

func NewSavedReportSQLiteStore(db *sql.DB) ports.SavedReportStore {
	return &SavedReportSQLiteStore{db: db}
}

const sqliteReportColumns = `id, tenant_id, report_name, plain_english, compiled_ir, compiled_at, run_count, last_run_at`

func (s *SavedReportSQLiteStore) ListReports(ctx context.Context, tenantID string) ([]types.SavedReport, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+sqliteReportColumns+`
FROM saved_reports
WHERE tenant_id = ?
ORDER BY report_name ASC, id ASC
`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.SavedReport
	for rows.Next() {
		r, err := scanSQLiteReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SavedReportSQLiteStore) CreateReport(ctx context.Context, id string, tenantID string, reportName string, plainEnglish string, compiledIR json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO saved_reports (id, tenant_id, report_name, plain_english, compiled_ir)
VALUES (?, ?, ?, ?, ?)
`, id, tenantID, reportName, plainEnglish, string(compiledIR))
	if err != nil {
		if isReportNameConflict(err) {
			return httperr.NewConflict("report_name already exists for tenant")
		}
		return err
	}
	return nil
}

func (s *SavedReportSQLiteStore) GetReport(ctx context.Context, id string, tenantID string) (types.SavedReport, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+sqliteReportColumns+`
FROM saved_reports
WHERE id = ? AND tenant_id = ?
`, id, tenantID)
	r, err := scanSQLiteReport(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.SavedReport{}, httperr.NewNotFound("report not found")
		}
		return types.SavedReport{}, err
	}
	return r, nil
}

func (s *SavedReportSQLiteStore) DeleteReport(ctx context.Context, id string, tenantID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM saved_reports WHERE id = ? AND tenant_id = ?`, id, tenantID)
	return err
}

func (s *SavedReportSQLiteStore) RunReport(ctx context.Context, id string, tenantID string) (types.SavedReport, error) {
	row := s.db.QueryRowContext(ctx, `
UPDATE saved_reports
SET run_count = run_count + 1, last_run_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
WHERE id = ? AND tenant_id = ?
RETURNING `+sqliteReportColumns, id, tenantID)
	r, err := scanSQLiteReport(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.SavedReport{}, httperr.NewNotFound("report not found")
		}
		return types.SavedReport{}, err
	}
	return r, nil
}

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteReport(row sqlScanner) (types.SavedReport, error) {
	var (
		r          types.SavedReport
		ir         string
		compiledAt string
		lastRunAt  sql.NullString
	)
	if err := row.Scan(&r.ID, &r.TenantID, &r.ReportName, &r.PlainEnglish, &ir, &compiledAt, &r.RunCount, &lastRunAt); err != nil {
		return types.SavedReport{}, err
	}
	r.CompiledIR = json.RawMessage(ir)

	t, err := time.Parse(time.RFC3339, compiledAt)
	if err != nil {
		return types.SavedReport{}, fmt.Errorf("compiled_at: %w", err)
	}
	r.CompiledAt = t
	if lastRunAt.Valid {
		t, err := time.Parse(time.RFC3339, lastRunAt.String)
		if err != nil {
			return types.SavedReport{}, fmt.Errorf("last_run_at: %w", err)
		}
		r.LastRunAt = &t
	}
	return r, nil
}

// isReportNameConflict matches only the (tenant_id, report_name) unique key.
// A primary key collision or a NOT NULL failure stays uncategorised.
func isReportNameConflict(err error) bool {
	se, ok := errors.AsType[*sqlite.Error](err)
	if !ok || se == nil || se.Code()&0xff != sqlite3.SQLITE_CONSTRAINT {
		return false
	}
	if code := se.Code(); code != sqlite3.SQLITE_CONSTRAINT && code != sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return false
	}
	return strings.Contains(se.Error(), "saved_reports.report_name")
}
