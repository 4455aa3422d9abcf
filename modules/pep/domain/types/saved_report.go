package types

import (
	"encoding/json"
	"time"
)

type SavedReport struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenant_id"`
	ReportName   string          `json:"report_name"`
	PlainEnglish string          `json:"plain_english"`
	CompiledIR   json.RawMessage `json:"compiled_ir"`
	CompiledAt   time.Time       `json:"compiled_at"`
	RunCount     int64           `json:"run_count"`
	LastRunAt    *time.Time      `json:"last_run_at"`
}
