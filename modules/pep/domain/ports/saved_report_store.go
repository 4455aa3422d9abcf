package ports

import (
	"context"
	"encoding/json"

	"github.com/jacksonlee411/crm-pep/modules/pep/domain/types"
)

// SavedReportStore persists tenant-scoped saved reports. Every predicate is
// scoped to tenantID.
type SavedReportStore interface {
	ListReports(ctx context.Context, tenantID string) ([]types.SavedReport, error)
	CreateReport(ctx context.Context, id string, tenantID string, reportName string, plainEnglish string, compiledIR json.RawMessage) error
	GetReport(ctx context.Context, id string, tenantID string) (types.SavedReport, error)
	DeleteReport(ctx context.Context, id string, tenantID string) error
	RunReport(ctx context.Context, id string, tenantID string) (types.SavedReport, error)
}

// QueryExecutor runs a resolved IR. tenantID comes from trusted session
// context, never from the IR.
type QueryExecutor interface {
	Execute(ctx context.Context, tenantID string, q types.ResolvedQuery) ([]map[string]any, error)
}
