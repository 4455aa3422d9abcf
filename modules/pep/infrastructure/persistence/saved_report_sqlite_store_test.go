package persistence

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jacksonlee411/crm-pep/pkg/httperr"
)

const (
	sqliteTenantA = "11111111-1111-1111-1111-111111111111"
	sqliteTenantB = "22222222-2222-2222-2222-222222222222"
	sqliteReport1 = "0192d3a1-7b7c-7cc0-8b1e-3f0c5e9d2a11"
	sqliteReport2 = "0192d3a1-7b7c-7cc0-8b1e-3f0c5e9d2a12"
)

func newSQLiteStore(t *testing.T) *SavedReportSQLiteStore {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "pep.db")
	db, err := OpenSQLite(context.Background(), dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewSavedReportSQLiteStore(db).(*SavedReportSQLiteStore)
}

var sqliteIR = json.RawMessage(`{"resolved":true,"table":"crm.leads","target":"leads","filters":[],"limit":200}`)

func TestSavedReportSQLiteStore_CreateAndList(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	if err := s.CreateReport(ctx, sqliteReport1, sqliteTenantA, "Zeta", "p", sqliteIR); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateReport(ctx, sqliteReport2, sqliteTenantA, "Alpha", "p", sqliteIR); err != nil {
		t.Fatalf("create: %v", err)
	}

	list, err := s.ListReports(ctx, sqliteTenantA)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ReportName != "Alpha" || list[1].ReportName != "Zeta" {
		t.Fatalf("list=%+v", list)
	}
	r := list[1]
	if r.ID != sqliteReport1 || r.TenantID != sqliteTenantA || r.RunCount != 0 || r.LastRunAt != nil || r.CompiledAt.IsZero() {
		t.Fatalf("report=%+v", r)
	}
	if string(r.CompiledIR) != string(sqliteIR) {
		t.Fatalf("ir=%s", r.CompiledIR)
	}

	other, err := s.ListReports(ctx, sqliteTenantB)
	if err != nil || len(other) != 0 {
		t.Fatalf("other tenant list=%v err=%v", other, err)
	}
}

func TestSavedReportSQLiteStore_NameConflictPerTenant(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	if err := s.CreateReport(ctx, sqliteReport1, sqliteTenantA, "Pipeline", "p", sqliteIR); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateReport(ctx, sqliteReport2, sqliteTenantA, "Pipeline", "p", sqliteIR); !httperr.IsConflict(err) {
		t.Fatalf("expected conflict, err=%v", err)
	}
	if err := s.CreateReport(ctx, sqliteReport2, sqliteTenantB, "Pipeline", "p", sqliteIR); err != nil {
		t.Fatalf("other tenant: %v", err)
	}

	err := s.CreateReport(ctx, sqliteReport1, sqliteTenantA, "Another name", "p", sqliteIR)
	if err == nil || httperr.IsConflict(err) {
		t.Fatalf("id collision should not be a name conflict, err=%v", err)
	}
}

func TestSavedReportSQLiteStore_GetDoesNotCountARun(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	if err := s.CreateReport(ctx, sqliteReport1, sqliteTenantA, "r", "p", sqliteIR); err != nil {
		t.Fatal(err)
	}

	r, err := s.GetReport(ctx, sqliteReport1, sqliteTenantA)
	if err != nil {
		t.Fatal(err)
	}
	if r.ID != sqliteReport1 || r.RunCount != 0 || r.LastRunAt != nil || string(r.CompiledIR) != string(sqliteIR) {
		t.Fatalf("report=%+v", r)
	}
	if _, err := s.GetReport(ctx, sqliteReport1, sqliteTenantB); !httperr.IsNotFound(err) {
		t.Fatalf("cross-tenant get err=%v", err)
	}
	if _, err := s.GetReport(ctx, sqliteReport2, sqliteTenantA); !httperr.IsNotFound(err) {
		t.Fatalf("missing get err=%v", err)
	}
}

func TestSavedReportSQLiteStore_DeleteAndRunAreTenantScoped(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	if err := s.CreateReport(ctx, sqliteReport1, sqliteTenantA, "r", "p", sqliteIR); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteReport(ctx, sqliteReport1, sqliteTenantB); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RunReport(ctx, sqliteReport1, sqliteTenantB); !httperr.IsNotFound(err) {
		t.Fatalf("cross-tenant run err=%v", err)
	}

	r, err := s.RunReport(ctx, sqliteReport1, sqliteTenantA)
	if err != nil {
		t.Fatal(err)
	}
	if r.RunCount != 1 || r.LastRunAt == nil {
		t.Fatalf("after run=%+v", r)
	}

	if err := s.DeleteReport(ctx, sqliteReport1, sqliteTenantA); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RunReport(ctx, sqliteReport1, sqliteTenantA); !httperr.IsNotFound(err) {
		t.Fatalf("deleted run err=%v", err)
	}
	if err := s.DeleteReport(ctx, sqliteReport1, sqliteTenantA); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}
}

func TestSavedReportSQLiteStore_ConcurrentRunsCountEveryRun(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	if err := s.CreateReport(ctx, sqliteReport1, sqliteTenantA, "r", "p", sqliteIR); err != nil {
		t.Fatal(err)
	}

	const n = 25
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.RunReport(ctx, sqliteReport1, sqliteTenantA); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("run: %v", err)
	}

	list, err := s.ListReports(ctx, sqliteTenantA)
	if err != nil {
		t.Fatal(err)
	}
	if list[0].RunCount != n {
		t.Fatalf("run_count=%d want %d", list[0].RunCount, n)
	}
}
