package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jacksonlee411/crm-pep/internal/config"
	"github.com/jacksonlee411/crm-pep/internal/logging"
	"github.com/jacksonlee411/crm-pep/internal/routing"
	"github.com/jacksonlee411/crm-pep/internal/server"
	"github.com/jacksonlee411/crm-pep/modules/pep/domain/catalog"
	"github.com/jacksonlee411/crm-pep/modules/pep/domain/ports"
	"github.com/jacksonlee411/crm-pep/modules/pep/infrastructure/persistence"
	"github.com/jacksonlee411/crm-pep/modules/pep/services"
	"github.com/jacksonlee411/crm-pep/pkg/authz"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		// No logger yet.
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	catalogPath, err := config.ResolvePath(cfg.CatalogPath)
	if err != nil {
		return err
	}
	cat, err := catalog.Load(catalogPath, catalog.WithMaxLimit(cfg.MaxLimit))
	if err != nil {
		return err
	}
	logger.Info("catalog loaded", zap.String("path", catalogPath), zap.Int("entities", len(cat.Entities())), zap.Int("max_limit", cat.MaxLimit()))

	allowlistPath, err := config.ResolvePath(cfg.AllowlistPath)
	if err != nil {
		return err
	}
	allowlist, err := routing.LoadAllowlist(allowlistPath)
	if err != nil {
		return err
	}

	authorizer, err := loadAuthorizer(cfg)
	if err != nil {
		return err
	}
	logger.Info("authz loaded", zap.String("mode", string(authorizer.Mode())))

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	var (
		store    ports.SavedReportStore
		executor ports.QueryExecutor
		ping     func(context.Context) error
	)
	switch cfg.Driver() {
	case config.StoreDriverSQLite:
		db, err := persistence.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer db.Close()
		store = persistence.NewSavedReportSQLiteStore(db)
		ping = db.PingContext
	default:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		store = persistence.NewSavedReportPGStore(pool)
		ping = pool.Ping
		if cfg.ExecutorEnabled {
			executor = persistence.NewQueryPGExecutor(pool)
		}
	}
	logger.Info("store ready", zap.String("driver", cfg.Driver()), zap.Bool("executor", executor != nil))

	h, err := server.NewHandlerWithOptions(server.HandlerOptions{
		Allowlist:    allowlist,
		Catalog:      cat,
		Reports:      services.NewSavedReportsService(store, cat, logger),
		Executor:     executor,
		Authorizer:   authorizer,
		Logger:       logger,
		Location:     loc,
		StoreTimeout: cfg.StoreTimeout,
		Ping:         ping,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.HTTPAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func loadAuthorizer(cfg config.Config) (*authz.Authorizer, error) {
	modelPath, err := config.ResolvePath(cfg.AuthzModelPath)
	if err != nil {
		return nil, err
	}
	policyPath, err := config.ResolvePath(cfg.AuthzPolicyPath)
	if err != nil {
		return nil, err
	}
	mode, err := cfg.AuthzModeValue()
	if err != nil {
		return nil, err
	}
	return authz.NewAuthorizer(modelPath, policyPath, mode)
}
