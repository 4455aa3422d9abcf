// Package server assembles the PEP HTTP surface: the allowlisted router, the
// tenant/session and authz middleware, and request logging.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jacksonlee411/crm-pep/internal/logging"
	"github.com/jacksonlee411/crm-pep/internal/routing"
	"github.com/jacksonlee411/crm-pep/modules/pep/domain/catalog"
	"github.com/jacksonlee411/crm-pep/modules/pep/domain/ports"
	"github.com/jacksonlee411/crm-pep/modules/pep/presentation/controllers"
	"github.com/jacksonlee411/crm-pep/modules/pep/services"
	"go.uber.org/zap"
)

const entrypointServer = "server"

type HandlerOptions struct {
	Allowlist  routing.Allowlist
	Catalog    *catalog.Catalog
	Reports    controllers.ReportsFacade
	Executor   ports.QueryExecutor
	Authorizer authorizer
	Logger     *zap.Logger

	// Location anchors relative date tokens; nil means UTC.
	Location     *time.Location
	StoreTimeout time.Duration

	// Ping backs /health when set.
	Ping func(ctx context.Context) error
}

func NewHandlerWithOptions(opts HandlerOptions) (http.Handler, error) {
	if opts.Catalog == nil {
		return nil, errors.New("server: catalog is required")
	}
	if opts.Reports == nil {
		return nil, errors.New("server: reports facade is required")
	}
	if opts.Authorizer == nil {
		return nil, errors.New("server: authorizer is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	classifier, err := routing.NewClassifier(opts.Allowlist, entrypointServer)
	if err != nil {
		return nil, err
	}
	router := routing.NewRouter(classifier, logger)

	catalogController := controllers.CatalogController{Catalog: opts.Catalog}
	queriesController := controllers.QueriesController{Catalog: opts.Catalog}
	reportsController := controllers.ReportsController{
		TenantID: TenantIDFromContext,
		Facade:   opts.Reports,
		Resolver: services.NewVariableResolver(opts.Location),
		Executor: opts.Executor,
		Timeout:  opts.StoreTimeout,
	}

	routes := []struct {
		method string
		path   string
		h      http.HandlerFunc
	}{
		{http.MethodGet, "/health", healthHandler(opts.Ping, opts.StoreTimeout)},
		{http.MethodGet, "/pep/api/catalog", catalogController.HandleCatalogAPI},
		{http.MethodPost, "/pep/api/queries:resolve", queriesController.HandleResolveAPI},
		{http.MethodGet, "/pep/api/reports", reportsController.HandleReportsAPI},
		{http.MethodPost, "/pep/api/reports", reportsController.HandleReportsAPI},
		{http.MethodDelete, "/pep/api/reports", reportsController.HandleReportsAPI},
		{http.MethodPost, "/pep/api/reports:run", reportsController.HandleRunAPI},
	}
	for _, rt := range routes {
		if err := router.Handle(rt.method, rt.path, rt.h); err != nil {
			return nil, err
		}
	}

	guarded := withTenantAndSession(classifier, withAuthz(classifier, opts.Authorizer, logger, router))
	return logging.Middleware(logger, routing.TraceIDFromRequest, guarded), nil
}

func healthHandler(ping func(context.Context) error, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			ctx := r.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			if err := ping(ctx); err != nil {
				routing.WriteError(w, r, http.StatusServiceUnavailable, "storage_unavailable", "storage unavailable")
				return
			}
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
	}
}
