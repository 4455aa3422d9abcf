package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jacksonlee411/crm-pep/modules/pep/domain/catalog"
	"github.com/jacksonlee411/crm-pep/modules/pep/domain/ports"
	"github.com/jacksonlee411/crm-pep/modules/pep/domain/types"
	"github.com/jacksonlee411/crm-pep/pkg/httperr"
	"go.uber.org/zap"
)

const maxReportNameLength = 200

type CreateReportInput struct {
	TenantID     string
	ReportName   string
	PlainEnglish string
	CompiledIR   json.RawMessage
}

// SavedReportsService validates requests before they reach the store. A
// validation failure never touches storage.
type SavedReportsService struct {
	store   ports.SavedReportStore
	catalog *catalog.Catalog
	logger  *zap.Logger
	newID   func() (string, error)
}

func NewSavedReportsService(store ports.SavedReportStore, cat *catalog.Catalog, logger *zap.Logger) SavedReportsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return SavedReportsService{store: store, catalog: cat, logger: logger, newID: newReportID}
}

func newReportID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (s SavedReportsService) ListReports(ctx context.Context, tenantID string) ([]types.SavedReport, error) {
	tenantID, err := normalizeTenantID(tenantID)
	if err != nil {
		return nil, err
	}
	reports, err := s.store.ListReports(ctx, tenantID)
	if err != nil {
		s.logger.Error("list saved reports failed", zap.String("tenant_id", tenantID), zap.Error(err))
		return nil, err
	}
	return reports, nil
}

func (s SavedReportsService) CreateReport(ctx context.Context, in CreateReportInput) (string, error) {
	tenantID, err := normalizeTenantID(in.TenantID)
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(in.ReportName)
	if name == "" {
		return "", httperr.NewBadRequest("report_name is required")
	}
	if utf8.RuneCountInString(name) > maxReportNameLength {
		return "", httperr.NewBadRequest("report_name is too long")
	}
	plain := strings.TrimSpace(in.PlainEnglish)
	if plain == "" {
		return "", httperr.NewBadRequest("plain_english is required")
	}
	compiled, err := s.CheckCompiledIR(in.CompiledIR)
	if err != nil {
		return "", err
	}
	canonical, err := json.Marshal(compiled)
	if err != nil {
		return "", err
	}

	id, err := s.newID()
	if err != nil {
		return "", err
	}
	if err := s.store.CreateReport(ctx, id, tenantID, name, plain, canonical); err != nil {
		if httperr.IsConflict(err) {
			s.logger.Warn("saved report name conflict", zap.String("tenant_id", tenantID), zap.String("report_name", name))
		} else {
			s.logger.Error("create saved report failed", zap.String("tenant_id", tenantID), zap.Error(err))
		}
		return "", err
	}
	s.logger.Info("saved report created", zap.String("tenant_id", tenantID), zap.String("report_id", id), zap.String("target", compiled.Target))
	return id, nil
}

// DeleteReport is a no-op success for unknown ids and for reports owned by
// another tenant.
func (s SavedReportsService) DeleteReport(ctx context.Context, id string, tenantID string) error {
	tenantID, err := normalizeTenantID(tenantID)
	if err != nil {
		return err
	}
	id, ok := normalizeReportID(id)
	if !ok {
		return nil
	}
	if err := s.store.DeleteReport(ctx, id, tenantID); err != nil {
		s.logger.Error("delete saved report failed", zap.String("tenant_id", tenantID), zap.String("report_id", id), zap.Error(err))
		return err
	}
	s.logger.Info("saved report deleted", zap.String("tenant_id", tenantID), zap.String("report_id", id))
	return nil
}

// ErrStoredIRInvalid marks a saved report whose compiled_ir no longer passes
// the current catalog.
var ErrStoredIRInvalid = errors.New("stored compiled_ir is not valid for the current catalog")

// RunReport re-checks the stored IR against the current catalog and only then
// records one execution. It returns the updated row and the checked IR, with
// the limit clamped to the current maximum. A report that fails the check is
// not counted.
func (s SavedReportsService) RunReport(ctx context.Context, id string, tenantID string) (types.SavedReport, types.ResolvedQuery, error) {
	tenantID, err := normalizeTenantID(tenantID)
	if err != nil {
		return types.SavedReport{}, types.ResolvedQuery{}, err
	}
	id, ok := normalizeReportID(id)
	if !ok {
		return types.SavedReport{}, types.ResolvedQuery{}, httperr.NewNotFound("report not found")
	}

	stored, err := s.store.GetReport(ctx, id, tenantID)
	if err != nil {
		if !httperr.IsNotFound(err) {
			s.logger.Error("load saved report failed", zap.String("tenant_id", tenantID), zap.String("report_id", id), zap.Error(err))
		}
		return types.SavedReport{}, types.ResolvedQuery{}, err
	}
	ir, err := s.CheckCompiledIR(stored.CompiledIR)
	if err != nil {
		s.logger.Warn("saved report no longer valid", zap.String("tenant_id", tenantID), zap.String("report_id", id), zap.Error(err))
		return types.SavedReport{}, types.ResolvedQuery{}, fmt.Errorf("%w: %w", ErrStoredIRInvalid, err)
	}

	report, err := s.store.RunReport(ctx, id, tenantID)
	if err != nil {
		if !httperr.IsNotFound(err) {
			s.logger.Error("run saved report failed", zap.String("tenant_id", tenantID), zap.String("report_id", id), zap.Error(err))
		}
		return types.SavedReport{}, types.ResolvedQuery{}, err
	}
	s.logger.Info("saved report run", zap.String("tenant_id", tenantID), zap.String("report_id", id), zap.Int64("run_count", report.RunCount))
	return report, ir, nil
}

// CheckCompiledIR decodes raw and re-validates it against the current
// catalog. Stored reports may outlive catalog changes, so the check runs at
// create time and again on every run.
func (s SavedReportsService) CheckCompiledIR(raw json.RawMessage) (types.ResolvedQuery, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return types.ResolvedQuery{}, httperr.NewBadRequest("compiled_ir is required")
	}
	var q types.ResolvedQuery
	if err := json.Unmarshal([]byte(trimmed), &q); err != nil {
		return types.ResolvedQuery{}, httperr.NewBadRequest("compiled_ir is not a valid query")
	}
	if !q.Resolved {
		return types.ResolvedQuery{}, httperr.NewBadRequest("compiled_ir is not resolved")
	}
	if q.HasTenantFilter() {
		return types.ResolvedQuery{}, httperr.NewBadRequest("compiled_ir must not filter on tenant_id")
	}

	limit := q.Limit
	again := ResolveQuery(types.QueryFrame{
		Target:     q.Target,
		TargetKind: types.TargetKindEntity,
		Filters:    q.Filters,
		Sort:       q.Sort,
		Limit:      &limit,
	}, s.catalog)
	if !again.Resolved {
		return types.ResolvedQuery{}, httperr.NewBadRequest("compiled_ir: " + again.Reason)
	}
	if again.Table != q.Table {
		return types.ResolvedQuery{}, httperr.NewBadRequest("compiled_ir table does not match catalog")
	}
	return again, nil
}

func normalizeTenantID(tenantID string) (string, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return "", httperr.NewBadRequest("tenant_id is required")
	}
	u, err := uuid.Parse(tenantID)
	if err != nil {
		return "", httperr.NewBadRequest("invalid tenant_id")
	}
	return u.String(), nil
}

func normalizeReportID(id string) (string, bool) {
	u, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", false
	}
	return u.String(), true
}
