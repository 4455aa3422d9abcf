package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jacksonlee411/crm-pep/modules/pep/domain/ports"
	"github.com/jacksonlee411/crm-pep/modules/pep/domain/types"
	"github.com/jacksonlee411/crm-pep/pkg/httperr"
)

type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

const savedReportColumns = `
  id::text,
  tenant_id::text,
  report_name,
  plain_english,
  compiled_ir,
  compiled_at,
  run_count,
  last_run_at`

const savedReportNameConstraint = "saved_reports_tenant_name_unique"

type SavedReportPGStore struct {
	pool pgBeginner
}

func NewSavedReportPGStore(pool pgBeginner) ports.SavedReportStore {
	return &SavedReportPGStore{pool: pool}
}

func beginTenantTx(ctx context.Context, pool pgBeginner, tenantID string) (pgx.Tx, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		_ = tx.Rollback(context.Background())
		return nil, err
	}
	return tx, nil
}

func (s *SavedReportPGStore) ListReports(ctx context.Context, tenantID string) ([]types.SavedReport, error) {
	tx, err := beginTenantTx(ctx, s.pool, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	rows, err := tx.Query(ctx, `
SELECT`+savedReportColumns+`
FROM pep.saved_reports
WHERE tenant_id = $1::uuid
ORDER BY report_name ASC, id ASC
`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.SavedReport
	for rows.Next() {
		r, err := scanSavedReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SavedReportPGStore) CreateReport(ctx context.Context, id string, tenantID string, reportName string, plainEnglish string, compiledIR json.RawMessage) error {
	tx, err := beginTenantTx(ctx, s.pool, tenantID)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `
INSERT INTO pep.saved_reports (id, tenant_id, report_name, plain_english, compiled_ir)
VALUES ($1::uuid, $2::uuid, $3, $4, $5::jsonb)
`, id, tenantID, reportName, plainEnglish, []byte(compiledIR)); err != nil {
		if isUniqueViolation(err) {
			return httperr.NewConflict("report_name already exists for tenant")
		}
		return err
	}

	return tx.Commit(ctx)
}

func (s *SavedReportPGStore) GetReport(ctx context.Context, id string, tenantID string) (types.SavedReport, error) {
	tx, err := beginTenantTx(ctx, s.pool, tenantID)
	if err != nil {
		return types.SavedReport{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	row := tx.QueryRow(ctx, `
SELECT`+savedReportColumns+`
FROM pep.saved_reports
WHERE id = $1::uuid AND tenant_id = $2::uuid
`, id, tenantID)
	r, err := scanSavedReport(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.SavedReport{}, httperr.NewNotFound("report not found")
		}
		return types.SavedReport{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return types.SavedReport{}, err
	}
	return r, nil
}

func (s *SavedReportPGStore) DeleteReport(ctx context.Context, id string, tenantID string) error {
	tx, err := beginTenantTx(ctx, s.pool, tenantID)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `
DELETE FROM pep.saved_reports
WHERE id = $1::uuid AND tenant_id = $2::uuid
`, id, tenantID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// RunReport bumps run_count and last_run_at in a single statement so
// concurrent runs never lose an increment.
func (s *SavedReportPGStore) RunReport(ctx context.Context, id string, tenantID string) (types.SavedReport, error) {
	tx, err := beginTenantTx(ctx, s.pool, tenantID)
	if err != nil {
		return types.SavedReport{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	row := tx.QueryRow(ctx, `
UPDATE pep.saved_reports
SET run_count = run_count + 1, last_run_at = now()
WHERE id = $1::uuid AND tenant_id = $2::uuid
RETURNING`+savedReportColumns+`
`, id, tenantID)
	r, err := scanSavedReport(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.SavedReport{}, httperr.NewNotFound("report not found")
		}
		return types.SavedReport{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return types.SavedReport{}, err
	}
	return r, nil
}

func scanSavedReport(row pgx.Row) (types.SavedReport, error) {
	var r types.SavedReport
	var ir []byte
	if err := row.Scan(&r.ID, &r.TenantID, &r.ReportName, &r.PlainEnglish, &ir, &r.CompiledAt, &r.RunCount, &r.LastRunAt); err != nil {
		return types.SavedReport{}, err
	}
	r.CompiledIR = json.RawMessage(ir)
	return r, nil
}

func pgErrorCode(err error) string {
	if pgErr, ok := errors.AsType[*pgconn.PgError](err); ok && pgErr != nil {
		return strings.TrimSpace(pgErr.Code)
	}
	return ""
}

func isUniqueViolation(err error) bool {
	if pgErrorCode(err) != "23505" {
		return false
	}
	pgErr, _ := errors.AsType[*pgconn.PgError](err)
	name := strings.TrimSpace(pgErr.ConstraintName)
	return name == "" || name == savedReportNameConstraint
}
