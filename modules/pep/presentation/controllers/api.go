package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/jacksonlee411/crm-pep/internal/routing"
)

const maxRequestBody = 1 << 20

type TenantIDGetter func(ctx context.Context) (tenantID string, ok bool)

var errTenantMismatch = errors.New("tenant_id does not match session tenant")

// scopedTenant picks the tenant a request acts on. A session tenant, when
// present, wins over an omitted request tenant and must equal a supplied one.
func scopedTenant(ctx context.Context, getter TenantIDGetter, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if getter == nil {
		return requested, nil
	}
	session, ok := getter(ctx)
	session = strings.TrimSpace(session)
	if !ok || session == "" {
		return requested, nil
	}
	if requested == "" {
		return session, nil
	}
	if !strings.EqualFold(requested, session) {
		return "", errTenantMismatch
	}
	return requested, nil
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string, message string) {
	routing.WriteError(w, r, status, code, message)
}

func writeMethodNotAllowed(w http.ResponseWriter, r *http.Request, allow ...string) {
	w.Header().Set("Allow", strings.Join(allow, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}
