package authz

const (
	RoleTenantAdmin    = "tenant-admin"
	RoleReportViewer   = "report-viewer"
	RoleWorkflowRunner = "workflow-runner"
	RoleAnonymous      = "anonymous"
)

const (
	ActionRead  = "read"
	ActionAdmin = "admin"
	ActionRun   = "run"
)

// DomainAnyTenant matches every tenant domain in policy lines.
const DomainAnyTenant = "*"

const (
	ObjectPEPQueries = "pep.queries"
	ObjectPEPReports = "pep.reports"
)
