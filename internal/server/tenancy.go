package server

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jacksonlee411/crm-pep/internal/routing"
)

const (
	headerTenantID      = "X-Tenant-ID"
	headerPrincipalRole = "X-Principal-Role"
)

// withTenantAndSession binds the session tenant and principal asserted by the
// upstream gateway. Ops routes run without a tenant.
func withTenantAndSession(classifier *routing.Classifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if classifier.Classify(r.URL.Path) == routing.RouteClassOps {
			next.ServeHTTP(w, r)
			return
		}

		raw := strings.TrimSpace(r.Header.Get(headerTenantID))
		if raw == "" {
			routing.WriteError(w, r, http.StatusBadRequest, "tenant_missing", "tenant missing")
			return
		}
		id, err := uuid.Parse(raw)
		if err != nil || id == uuid.Nil {
			routing.WriteError(w, r, http.StatusBadRequest, "tenant_missing", "tenant id is not a uuid")
			return
		}
		tenantID := id.String()

		ctx := withTenant(r.Context(), tenantID)
		ctx = withPrincipal(ctx, Principal{
			TenantID: tenantID,
			RoleSlug: strings.ToLower(strings.TrimSpace(r.Header.Get(headerPrincipalRole))),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
