package services

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jacksonlee411/crm-pep/modules/pep/domain/types"
	"github.com/jacksonlee411/crm-pep/pkg/httperr"
)

const (
	tenantA = "11111111-1111-1111-1111-111111111111"
	tenantB = "22222222-2222-2222-2222-222222222222"
)

type memReportStore struct {
	mu      sync.Mutex
	rows    map[string]types.SavedReport
	calls   int
	failErr error
}

func newMemReportStore() *memReportStore {
	return &memReportStore{rows: make(map[string]types.SavedReport)}
}

func (s *memReportStore) ListReports(_ context.Context, tenantID string) ([]types.SavedReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failErr != nil {
		return nil, s.failErr
	}
	var out []types.SavedReport
	for _, r := range s.rows {
		if r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b types.SavedReport) int { return strings.Compare(a.ReportName, b.ReportName) })
	return out, nil
}

func (s *memReportStore) CreateReport(_ context.Context, id string, tenantID string, reportName string, plainEnglish string, compiledIR json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failErr != nil {
		return s.failErr
	}
	for _, r := range s.rows {
		if r.TenantID == tenantID && r.ReportName == reportName {
			return httperr.NewConflict("report_name already exists")
		}
	}
	s.rows[id] = types.SavedReport{ID: id, TenantID: tenantID, ReportName: reportName, PlainEnglish: plainEnglish, CompiledIR: compiledIR, CompiledAt: time.Now()}
	return nil
}

func (s *memReportStore) DeleteReport(_ context.Context, id string, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failErr != nil {
		return s.failErr
	}
	if r, ok := s.rows[id]; ok && r.TenantID == tenantID {
		delete(s.rows, id)
	}
	return nil
}

func (s *memReportStore) GetReport(_ context.Context, id string, tenantID string) (types.SavedReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failErr != nil {
		return types.SavedReport{}, s.failErr
	}
	r, ok := s.rows[id]
	if !ok || r.TenantID != tenantID {
		return types.SavedReport{}, httperr.NewNotFound("report not found")
	}
	return r, nil
}

func (s *memReportStore) RunReport(_ context.Context, id string, tenantID string) (types.SavedReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failErr != nil {
		return types.SavedReport{}, s.failErr
	}
	r, ok := s.rows[id]
	if !ok || r.TenantID != tenantID {
		return types.SavedReport{}, httperr.NewNotFound("report not found")
	}
	now := time.Now()
	r.RunCount++
	r.LastRunAt = &now
	s.rows[id] = r
	return r, nil
}

func validIR(t *testing.T) json.RawMessage {
	t.Helper()
	q := ResolveQuery(types.QueryFrame{
		Target:  "leads",
		Filters: []types.FilterClause{{Field: "owner_id", Operator: types.OperatorEq, Value: "{{entity_id}}"}},
	}, mustCatalog(t))
	if !q.Resolved {
		t.Fatalf("fixture not resolved: %s", q.Reason)
	}
	b, err := json.Marshal(q)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestSavedReportsService_CreateValidation(t *testing.T) {
	t.Parallel()

	ir := validIR(t)
	cases := []struct {
		name string
		in   CreateReportInput
	}{
		{name: "missing tenant", in: CreateReportInput{ReportName: "r", PlainEnglish: "p", CompiledIR: ir}},
		{name: "invalid tenant", in: CreateReportInput{TenantID: "acme", ReportName: "r", PlainEnglish: "p", CompiledIR: ir}},
		{name: "missing name", in: CreateReportInput{TenantID: tenantA, ReportName: "  ", PlainEnglish: "p", CompiledIR: ir}},
		{name: "long name", in: CreateReportInput{TenantID: tenantA, ReportName: strings.Repeat("n", 201), PlainEnglish: "p", CompiledIR: ir}},
		{name: "missing plain english", in: CreateReportInput{TenantID: tenantA, ReportName: "r", CompiledIR: ir}},
		{name: "missing ir", in: CreateReportInput{TenantID: tenantA, ReportName: "r", PlainEnglish: "p"}},
		{name: "null ir", in: CreateReportInput{TenantID: tenantA, ReportName: "r", PlainEnglish: "p", CompiledIR: json.RawMessage("null")}},
		{name: "garbage ir", in: CreateReportInput{TenantID: tenantA, ReportName: "r", PlainEnglish: "p", CompiledIR: json.RawMessage("{bad")}},
		{name: "unresolved ir", in: CreateReportInput{TenantID: tenantA, ReportName: "r", PlainEnglish: "p", CompiledIR: json.RawMessage(`{"resolved":false,"reason":"unknown target"}`)}},
		{name: "tenant filter ir", in: CreateReportInput{TenantID: tenantA, ReportName: "r", PlainEnglish: "p", CompiledIR: json.RawMessage(`{"resolved":true,"table":"crm_leads","target":"leads","filters":[{"field":"tenant_id","operator":"eq","value":"x"}],"limit":10}`)}},
		{name: "unknown field ir", in: CreateReportInput{TenantID: tenantA, ReportName: "r", PlainEnglish: "p", CompiledIR: json.RawMessage(`{"resolved":true,"table":"crm_leads","target":"leads","filters":[{"field":"ssn","operator":"eq","value":"x"}],"limit":10}`)}},
		{name: "table mismatch ir", in: CreateReportInput{TenantID: tenantA, ReportName: "r", PlainEnglish: "p", CompiledIR: json.RawMessage(`{"resolved":true,"table":"pg_shadow","target":"leads","filters":[],"limit":10}`)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemReportStore()
			svc := NewSavedReportsService(store, mustCatalog(t), nil)
			_, err := svc.CreateReport(context.Background(), tc.in)
			if !httperr.IsBadRequest(err) {
				t.Fatalf("err=%v", err)
			}
			if store.calls != 0 {
				t.Fatalf("store called %d times before validation passed", store.calls)
			}
		})
	}
}

func TestSavedReportsService_CreateConflictIsPerTenant(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newMemReportStore()
	svc := NewSavedReportsService(store, mustCatalog(t), nil)
	in := CreateReportInput{TenantID: tenantA, ReportName: "Open leads", PlainEnglish: "show open leads", CompiledIR: validIR(t)}

	id, err := svc.CreateReport(ctx, in)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if u, err := uuid.Parse(id); err != nil || u.Version() != 7 {
		t.Fatalf("id=%q err=%v", id, err)
	}

	if _, err := svc.CreateReport(ctx, in); !httperr.IsConflict(err) {
		t.Fatalf("expected conflict, err=%v", err)
	}

	in.TenantID = tenantB
	if _, err := svc.CreateReport(ctx, in); err != nil {
		t.Fatalf("other tenant err=%v", err)
	}

	listA, err := svc.ListReports(ctx, tenantA)
	if err != nil || len(listA) != 1 {
		t.Fatalf("listA=%v err=%v", listA, err)
	}
	var stored types.ResolvedQuery
	if err := json.Unmarshal(listA[0].CompiledIR, &stored); err != nil {
		t.Fatal(err)
	}
	if !stored.Resolved || stored.Limit != 200 {
		t.Fatalf("stored=%+v", stored)
	}
}

func TestSavedReportsService_DeleteIsTenantScoped(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newMemReportStore()
	svc := NewSavedReportsService(store, mustCatalog(t), nil)
	id, err := svc.CreateReport(ctx, CreateReportInput{TenantID: tenantA, ReportName: "r", PlainEnglish: "p", CompiledIR: validIR(t)})
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.DeleteReport(ctx, id, tenantB); err != nil {
		t.Fatalf("cross-tenant delete err=%v", err)
	}
	if list, _ := svc.ListReports(ctx, tenantA); len(list) != 1 {
		t.Fatal("cross-tenant delete removed the report")
	}
	if err := svc.DeleteReport(ctx, "not-a-uuid", tenantA); err != nil {
		t.Fatalf("bad id err=%v", err)
	}
	if err := svc.DeleteReport(ctx, "33333333-3333-3333-3333-333333333333", tenantA); err != nil {
		t.Fatalf("unknown id err=%v", err)
	}
	if err := svc.DeleteReport(ctx, id, tenantA); err != nil {
		t.Fatal(err)
	}
	if list, _ := svc.ListReports(ctx, tenantA); len(list) != 0 {
		t.Fatal("expected report deleted")
	}
	if err := svc.DeleteReport(ctx, id, ""); !httperr.IsBadRequest(err) {
		t.Fatalf("err=%v", err)
	}
}

func TestSavedReportsService_Run(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newMemReportStore()
	svc := NewSavedReportsService(store, mustCatalog(t), nil)
	id, err := svc.CreateReport(ctx, CreateReportInput{TenantID: tenantA, ReportName: "r", PlainEnglish: "p", CompiledIR: validIR(t)})
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := svc.RunReport(ctx, id, tenantB); !httperr.IsNotFound(err) {
		t.Fatalf("cross-tenant run err=%v", err)
	}
	before := store.calls
	if _, _, err := svc.RunReport(ctx, "nope", tenantA); !httperr.IsNotFound(err) {
		t.Fatalf("bad id err=%v", err)
	}
	if store.calls != before {
		t.Fatal("bad id reached the store")
	}

	r, ir, err := svc.RunReport(ctx, id, tenantA)
	if err != nil {
		t.Fatal(err)
	}
	if r.RunCount != 1 || r.LastRunAt == nil {
		t.Fatalf("report=%+v", r)
	}
	if !ir.Resolved || ir.Target != "leads" || len(ir.Filters) != 1 || ir.Filters[0].Value != "{{entity_id}}" {
		t.Fatalf("ir=%+v", ir)
	}
	if _, _, err := svc.RunReport(ctx, id, "bad"); !httperr.IsBadRequest(err) {
		t.Fatalf("err=%v", err)
	}
}

func TestSavedReportsService_StorageErrorsPassThrough(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newMemReportStore()
	store.failErr = errors.New("connection reset")
	svc := NewSavedReportsService(store, mustCatalog(t), nil)

	if _, err := svc.ListReports(ctx, tenantA); err == nil || httperr.IsCategorized(err) {
		t.Fatalf("list err=%v", err)
	}
	if _, err := svc.CreateReport(ctx, CreateReportInput{TenantID: tenantA, ReportName: "r", PlainEnglish: "p", CompiledIR: validIR(t)}); err == nil || httperr.IsCategorized(err) {
		t.Fatalf("create err=%v", err)
	}
	if err := svc.DeleteReport(ctx, "33333333-3333-3333-3333-333333333333", tenantA); err == nil || httperr.IsCategorized(err) {
		t.Fatalf("delete err=%v", err)
	}
	if _, _, err := svc.RunReport(ctx, "33333333-3333-3333-3333-333333333333", tenantA); err == nil || httperr.IsCategorized(err) {
		t.Fatalf("run err=%v", err)
	}
}

func TestSavedReportsService_IDGeneratorError(t *testing.T) {
	t.Parallel()

	store := newMemReportStore()
	svc := NewSavedReportsService(store, mustCatalog(t), nil)
	svc.newID = func() (string, error) { return "", errors.New("entropy") }
	if _, err := svc.CreateReport(context.Background(), CreateReportInput{TenantID: tenantA, ReportName: "r", PlainEnglish: "p", CompiledIR: validIR(t)}); err == nil {
		t.Fatal("expected error")
	}
	if store.calls != 0 {
		t.Fatal("store called")
	}
}

func TestSavedReportsService_RunRechecksStoredIR(t *testing.T) {
	t.Parallel()

	const reportID = "33333333-3333-3333-3333-333333333333"
	cases := []struct {
		name string
		ir   string
	}{
		{name: "removed field", ir: `{"resolved":true,"table":"crm_leads","target":"leads","filters":[{"field":"no_such_column","operator":"eq","value":"x"}],"limit":50}`},
		{name: "tenant filter", ir: `{"resolved":true,"table":"crm_leads","target":"leads","filters":[{"field":"tenant_id","operator":"eq","value":"x"}],"limit":50}`},
		{name: "removed target", ir: `{"resolved":true,"table":"crm_gone","target":"gone","filters":[],"limit":50}`},
		{name: "moved table", ir: `{"resolved":true,"table":"crm_old_leads","target":"leads","filters":[],"limit":50}`},
		{name: "garbage", ir: `{bad`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			store := newMemReportStore()
			store.rows[reportID] = types.SavedReport{ID: reportID, TenantID: tenantA, ReportName: "r", PlainEnglish: "p", CompiledIR: json.RawMessage(tc.ir)}
			svc := NewSavedReportsService(store, mustCatalog(t), nil)

			_, _, err := svc.RunReport(context.Background(), reportID, tenantA)
			if !errors.Is(err, ErrStoredIRInvalid) {
				t.Fatalf("err=%v", err)
			}
			if got := store.rows[reportID]; got.RunCount != 0 || got.LastRunAt != nil {
				t.Fatalf("rejected run was counted: %+v", got)
			}
		})
	}
}

func TestSavedReportsService_RunClampsStoredLimit(t *testing.T) {
	t.Parallel()

	const reportID = "33333333-3333-3333-3333-333333333333"
	store := newMemReportStore()
	store.rows[reportID] = types.SavedReport{
		ID: reportID, TenantID: tenantA, ReportName: "r", PlainEnglish: "p",
		CompiledIR: json.RawMessage(`{"resolved":true,"table":"crm_leads","target":"leads","filters":[{"field":"status","operator":"eq","value":"open"}],"limit":100000}`),
	}
	svc := NewSavedReportsService(store, mustCatalog(t), nil)

	r, ir, err := svc.RunReport(context.Background(), reportID, tenantA)
	if err != nil {
		t.Fatal(err)
	}
	if ir.Limit != 200 || r.RunCount != 1 {
		t.Fatalf("limit=%d run_count=%d", ir.Limit, r.RunCount)
	}
}
