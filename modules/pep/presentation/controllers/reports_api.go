package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/jacksonlee411/crm-pep/modules/pep/domain/ports"
	"github.com/jacksonlee411/crm-pep/modules/pep/domain/types"
	"github.com/jacksonlee411/crm-pep/modules/pep/services"
	"github.com/jacksonlee411/crm-pep/pkg/httperr"
)

type ReportsFacade interface {
	ListReports(ctx context.Context, tenantID string) ([]types.SavedReport, error)
	CreateReport(ctx context.Context, in services.CreateReportInput) (string, error)
	DeleteReport(ctx context.Context, id string, tenantID string) error
	// RunReport returns the stored IR already checked against the current
	// catalog; a report that fails the check is not counted as run.
	RunReport(ctx context.Context, id string, tenantID string) (types.SavedReport, types.ResolvedQuery, error)
}

type ReportsController struct {
	TenantID TenantIDGetter
	Facade   ReportsFacade
	Resolver services.VariableResolver
	// Executor is optional; without it a run returns the resolved IR only.
	Executor ports.QueryExecutor
	Timeout  time.Duration
}

type reportsCreateAPIRequest struct {
	TenantID     string          `json:"tenant_id"`
	ReportName   string          `json:"report_name"`
	PlainEnglish string          `json:"plain_english"`
	CompiledIR   json.RawMessage `json:"compiled_ir"`
}

type reportsRunAPIRequest struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	Payload   map[string]any `json:"payload"`
	Variables map[string]any `json:"variables"`
}

func (c ReportsController) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.Timeout)
}

func (c ReportsController) HandleReportsAPI(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		c.handleList(w, r)
	case http.MethodPost:
		c.handleCreate(w, r)
	case http.MethodDelete:
		c.handleDelete(w, r)
	default:
		writeMethodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

func (c ReportsController) handleList(w http.ResponseWriter, r *http.Request) {
	tenantID, err := scopedTenant(r.Context(), c.TenantID, r.URL.Query().Get("tenant_id"))
	if err != nil {
		writeReportError(w, r, err)
		return
	}

	ctx, cancel := c.storeContext(r.Context())
	defer cancel()
	items, err := c.Facade.ListReports(ctx, tenantID)
	if err != nil {
		writeReportError(w, r, err)
		return
	}
	if items == nil {
		items = make([]types.SavedReport, 0)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (c ReportsController) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req reportsCreateAPIRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	tenantID, err := scopedTenant(r.Context(), c.TenantID, req.TenantID)
	if err != nil {
		writeReportError(w, r, err)
		return
	}

	ctx, cancel := c.storeContext(r.Context())
	defer cancel()
	id, err := c.Facade.CreateReport(ctx, services.CreateReportInput{
		TenantID:     tenantID,
		ReportName:   req.ReportName,
		PlainEnglish: req.PlainEnglish,
		CompiledIR:   req.CompiledIR,
	})
	if err != nil {
		writeReportError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (c ReportsController) handleDelete(w http.ResponseWriter, r *http.Request) {
	tenantID, err := scopedTenant(r.Context(), c.TenantID, r.URL.Query().Get("tenant_id"))
	if err != nil {
		writeReportError(w, r, err)
		return
	}

	ctx, cancel := c.storeContext(r.Context())
	defer cancel()
	if err := c.Facade.DeleteReport(ctx, r.URL.Query().Get("id"), tenantID); err != nil {
		writeReportError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c ReportsController) HandleRunAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req reportsRunAPIRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	tenantID, err := scopedTenant(r.Context(), c.TenantID, req.TenantID)
	if err != nil {
		writeReportError(w, r, err)
		return
	}

	ctx, cancel := c.storeContext(r.Context())
	defer cancel()
	report, stored, err := c.Facade.RunReport(ctx, req.ID, tenantID)
	if err != nil {
		writeReportError(w, r, err)
		return
	}

	ir, err := c.Resolver.ResolveIR(stored, req.Payload, req.Variables)
	if err != nil {
		writeReportError(w, r, err)
		return
	}

	out := map[string]any{"report": report, "ir": ir}
	if c.Executor != nil && ir.Resolved {
		rows, err := c.Executor.Execute(ctx, tenantID, ir)
		if err != nil {
			writeError(w, r, http.StatusServiceUnavailable, "executor_unavailable", "query execution failed")
			return
		}
		out["rows"] = rows
	}
	writeJSON(w, http.StatusOK, out)
}

func writeReportError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errTenantMismatch):
		writeError(w, r, http.StatusForbidden, "tenant_mismatch", err.Error())
	case errors.Is(err, services.ErrStoredIRInvalid):
		writeError(w, r, http.StatusUnprocessableEntity, "compiled_ir_invalid", err.Error())
	case errors.Is(err, types.ErrTenantFilter):
		writeError(w, r, http.StatusUnprocessableEntity, "tenant_filter_rejected", err.Error())
	case httperr.IsBadRequest(err):
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
	case httperr.IsConflict(err):
		writeError(w, r, http.StatusConflict, "report_name_conflict", err.Error())
	case httperr.IsNotFound(err):
		writeError(w, r, http.StatusNotFound, "report_not_found", err.Error())
	default:
		writeError(w, r, http.StatusServiceUnavailable, "storage_unavailable", "storage unavailable")
	}
}
