package peptool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jacksonlee411/crm-pep/modules/pep/infrastructure/persistence"
	"github.com/spf13/cobra"
)

const smokeRole = "app_nobypassrls"

var lookupEnv = os.Getenv

type dbOptions struct {
	URL     string
	Timeout time.Duration
}

func newDBCommand() *cobra.Command {
	opts := &dbOptions{}
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Postgres schema maintenance",
	}
	cmd.PersistentFlags().StringVar(&opts.URL, "url", "", "postgres connection string (default: $DATABASE_URL)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "overall deadline")

	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create pep.saved_reports and its tenant isolation policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withConn(cmd, opts, func(ctx context.Context, conn *pgx.Conn) error {
				if err := persistence.ApplyPGSchema(ctx, conn); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "[migrate] OK")
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "rls-smoke",
		Short: "Prove pep.saved_reports fails closed and isolates tenants",
		Long: `rls-smoke runs inside one transaction that is always rolled back. It
needs a migrated database and a role allowed to create roles.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withConn(cmd, opts, func(ctx context.Context, conn *pgx.Conn) error {
				if err := rlsSmoke(ctx, conn); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "[rls-smoke] OK")
				return nil
			})
		},
	})
	return cmd
}

func (o *dbOptions) url() (string, error) {
	if o.URL != "" {
		return o.URL, nil
	}
	if v := lookupEnv("DATABASE_URL"); v != "" {
		return v, nil
	}
	return "", errors.New("missing --url or DATABASE_URL")
}

func withConn(cmd *cobra.Command, opts *dbOptions, fn func(ctx context.Context, conn *pgx.Conn) error) error {
	url, err := opts.url()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())
	return fn(ctx, conn)
}

func rlsSmoke(ctx context.Context, conn *pgx.Conn) error {
	if err := tryEnsureRole(ctx, conn, smokeRole); err != nil {
		return err
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SET LOCAL ROLE `+smokeRole+`;`); err != nil {
		return fmt.Errorf("set role: %w", err)
	}

	if _, err := tx.Exec(ctx, `SAVEPOINT sp_failclosed;`); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `SELECT count(*) FROM pep.saved_reports;`)
	if _, rbErr := tx.Exec(ctx, `ROLLBACK TO SAVEPOINT sp_failclosed;`); rbErr != nil {
		return rbErr
	}
	if err == nil {
		return errors.New("expected fail-closed error when app.current_tenant is missing")
	}

	tenantA := uuid.NewString()
	tenantB := uuid.NewString()
	insert := `INSERT INTO pep.saved_reports (id, tenant_id, report_name, plain_english, compiled_ir)
VALUES ($1::uuid, $2::uuid, 'rls smoke', 'rls smoke', '{"resolved":true}'::jsonb);`

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantA); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, insert, uuid.NewString(), tenantA); err != nil {
		return fmt.Errorf("insert under tenant A: %w", err)
	}

	if _, err := tx.Exec(ctx, `SAVEPOINT sp_cross_insert;`); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, insert, uuid.NewString(), tenantB)
	if _, rbErr := tx.Exec(ctx, `ROLLBACK TO SAVEPOINT sp_cross_insert;`); rbErr != nil {
		return rbErr
	}
	if err == nil {
		return errors.New("expected RLS rejection on cross-tenant insert")
	}

	var count int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM pep.saved_reports;`).Scan(&count); err != nil {
		return err
	}
	if count != 1 {
		return fmt.Errorf("expected count=1 under tenant A, got %d", count)
	}

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantB); err != nil {
		return err
	}
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM pep.saved_reports;`).Scan(&count); err != nil {
		return err
	}
	if count != 0 {
		return fmt.Errorf("expected count=0 under tenant B, got %d", count)
	}
	return nil
}

func tryEnsureRole(ctx context.Context, conn *pgx.Conn, role string) error {
	if !validSQLIdent(role) {
		return fmt.Errorf("invalid role: %s", role)
	}

	stmt := fmt.Sprintf(`DO $$
BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = '%s') THEN
    EXECUTE 'CREATE ROLE %s NOBYPASSRLS';
  END IF;
END
$$;`, role, role)
	if _, err := conn.Exec(ctx, stmt); err != nil {
		return err
	}
	for _, grant := range []string{
		`GRANT USAGE ON SCHEMA pep TO ` + role + `;`,
		`GRANT SELECT, INSERT, UPDATE, DELETE ON pep.saved_reports TO ` + role + `;`,
		`GRANT ` + role + ` TO CURRENT_USER;`,
	} {
		// Fails harmlessly when already granted.
		_, _ = conn.Exec(ctx, grant)
	}
	return nil
}

var reSQLIdent = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func validSQLIdent(s string) bool {
	return reSQLIdent.MatchString(s)
}
