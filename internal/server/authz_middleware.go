package server

import (
	"net/http"

	"github.com/jacksonlee411/crm-pep/internal/routing"
	"github.com/jacksonlee411/crm-pep/pkg/authz"
	"go.uber.org/zap"
)

type authorizer interface {
	Authorize(subject string, domain string, object string, action string) (allowed bool, enforced bool, err error)
}

func withAuthz(classifier *routing.Classifier, a authorizer, logger *zap.Logger, next http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if classifier.Classify(path) == routing.RouteClassOps {
			next.ServeHTTP(w, r)
			return
		}

		req, shouldCheck := authzRequirementForRoute(r.Method, path)
		if !shouldCheck {
			next.ServeHTTP(w, r)
			return
		}

		tenantID, ok := currentTenant(r.Context())
		if !ok {
			routing.WriteError(w, r, http.StatusBadRequest, "tenant_missing", "tenant missing")
			return
		}

		roleSlug := authz.RoleAnonymous
		if p, ok := currentPrincipal(r.Context()); ok && p.RoleSlug != "" {
			roleSlug = p.RoleSlug
		}
		subject := authz.SubjectFromRoleSlug(roleSlug)
		domain := authz.DomainFromTenantID(tenantID)

		allowed, enforced, err := a.Authorize(subject, domain, req.Object, req.Action)
		if err != nil {
			logger.Error("authz failed", zap.String("subject", subject), zap.String("object", req.Object), zap.Error(err))
			routing.WriteError(w, r, http.StatusInternalServerError, "authz_error", "authz error")
			return
		}
		if !allowed {
			if enforced {
				routing.WriteError(w, r, http.StatusForbidden, "forbidden", "forbidden")
				return
			}
			logger.Warn("authz shadow deny",
				zap.String("subject", subject),
				zap.String("domain", domain),
				zap.String("object", req.Object),
				zap.String("action", req.Action),
			)
		}

		next.ServeHTTP(w, r)
	})
}

func authzRequirementForRoute(method string, path string) (authz.Requirement, bool) {
	switch path {
	case "/pep/api/catalog":
		if method == http.MethodGet {
			return authz.Requirement{Object: authz.ObjectPEPQueries, Action: authz.ActionRead}, true
		}
	case "/pep/api/queries:resolve":
		if method == http.MethodPost {
			return authz.Requirement{Object: authz.ObjectPEPQueries, Action: authz.ActionRead}, true
		}
	case "/pep/api/reports":
		switch method {
		case http.MethodGet:
			return authz.Requirement{Object: authz.ObjectPEPReports, Action: authz.ActionRead}, true
		case http.MethodPost, http.MethodDelete:
			return authz.Requirement{Object: authz.ObjectPEPReports, Action: authz.ActionAdmin}, true
		}
	case "/pep/api/reports:run":
		if method == http.MethodPost {
			return authz.Requirement{Object: authz.ObjectPEPReports, Action: authz.ActionRun}, true
		}
	}
	return authz.Requirement{}, false
}
