package services

import (
	"fmt"
	"strings"

	"github.com/jacksonlee411/crm-pep/modules/pep/domain/catalog"
	"github.com/jacksonlee411/crm-pep/modules/pep/domain/types"
)

const (
	ReasonUnknownTarget = "unknown target"
	ReasonTenantFilter  = "tenant_id filter is not allowed; tenant scope is injected by the executor"
)

// ResolveQuery validates frame against the target entity's schema and the
// operator vocabulary. Rejections are returned as an unresolved IR carrying a
// reason; the first violation wins and nothing is partially applied.
func ResolveQuery(frame types.QueryFrame, cat *catalog.Catalog) types.ResolvedQuery {
	if touchesTenant(frame) {
		return types.Unresolved(ReasonTenantFilter)
	}

	entity, ok := FindQueryTarget(frame.Target, cat)
	if !ok {
		return types.Unresolved(ReasonUnknownTarget)
	}

	filters := make([]types.FilterClause, 0, len(frame.Filters))
	for _, f := range frame.Filters {
		field := strings.TrimSpace(f.Field)
		if !entity.HasField(field) {
			return types.Unresolved(fmt.Sprintf("unknown field %q for target %q", field, entity.ID))
		}
		op := types.Operator(strings.ToLower(strings.TrimSpace(string(f.Operator))))
		rule, ok := cat.Operator(op)
		if !ok {
			return types.Unresolved(fmt.Sprintf("unsupported operator %q on field %q", f.Operator, field))
		}
		if !rule.Accepts(f.Value) {
			return types.Unresolved(fmt.Sprintf("invalid value for operator %q on field %q", op, field))
		}
		filters = append(filters, types.FilterClause{Field: field, Operator: op, Value: types.CloneValue(f.Value)})
	}

	var sort *types.Sort
	if frame.Sort != nil {
		s, reason := resolveSort(*frame.Sort, entity)
		if reason != "" {
			return types.Unresolved(reason)
		}
		sort = &s
	}

	return types.ResolvedQuery{
		Resolved: true,
		Table:    entity.Table,
		Target:   entity.ID,
		Filters:  filters,
		Sort:     sort,
		Limit:    clampLimit(frame.Limit, cat.MaxLimit()),
	}
}

// touchesTenant reports whether any filter or the sort names the tenant
// column. It runs before every other check, target lookup included, so the
// tenant reason never depends on filter order or on the entity.
func touchesTenant(frame types.QueryFrame) bool {
	for _, f := range frame.Filters {
		if types.IsTenantField(strings.TrimSpace(f.Field)) {
			return true
		}
	}
	return frame.Sort != nil && types.IsTenantField(strings.TrimSpace(frame.Sort.Field))
}

func resolveSort(s types.Sort, entity types.EntityDescriptor) (types.Sort, string) {
	field := strings.TrimSpace(s.Field)
	if !entity.HasField(field) {
		return types.Sort{}, fmt.Sprintf("unknown sort field %q for target %q", field, entity.ID)
	}
	dir := types.SortDirection(strings.ToLower(strings.TrimSpace(string(s.Direction))))
	switch dir {
	case "":
		dir = types.SortAsc
	case types.SortAsc, types.SortDesc:
	default:
		return types.Sort{}, fmt.Sprintf("invalid sort direction %q", s.Direction)
	}
	return types.Sort{Field: field, Direction: dir}, ""
}

func clampLimit(requested *int, maxLimit int) int {
	if maxLimit <= 0 {
		maxLimit = catalog.DefaultMaxLimit
	}
	if requested == nil || *requested <= 0 || *requested > maxLimit {
		return maxLimit
	}
	return *requested
}
