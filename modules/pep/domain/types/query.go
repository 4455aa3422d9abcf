package types

import (
	"errors"
	"slices"
	"strings"
)

// TenantField is the column every tenant-scoped table carries. It is never
// expressible as filter data; the executor injects it from the session.
const TenantField = "tenant_id"

var ErrTenantFilter = errors.New("pep: query carries a tenant_id filter")

type TargetKind string

const (
	TargetKindEntity  TargetKind = "entity"
	TargetKindTable   TargetKind = "table"
	TargetKindUnknown TargetKind = "unknown"
)

type Operator string

const (
	OperatorEq          Operator = "eq"
	OperatorNeq         Operator = "neq"
	OperatorIn          Operator = "in"
	OperatorNotIn       Operator = "not_in"
	OperatorContainsAll Operator = "contains_all"
	OperatorIsNull      Operator = "is_null"
	OperatorGt          Operator = "gt"
	OperatorGte         Operator = "gte"
	OperatorLt          Operator = "lt"
	OperatorLte         Operator = "lte"
	OperatorILike       Operator = "ilike"
)

type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// EntityDescriptor is one queryable catalog entity. Fields is built once at
// catalog load and must not be modified afterwards.
type EntityDescriptor struct {
	ID     string
	Table  string
	Fields map[string]struct{}
}

func NewEntityDescriptor(id string, table string, fields []string) EntityDescriptor {
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		set[f] = struct{}{}
	}
	return EntityDescriptor{ID: id, Table: table, Fields: set}
}

func (e EntityDescriptor) HasField(name string) bool {
	_, ok := e.Fields[name]
	return ok
}

func (e EntityDescriptor) FieldNames() []string {
	out := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

type FilterClause struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

type Sort struct {
	Field     string        `json:"field"`
	Direction SortDirection `json:"direction"`
}

type QueryFrame struct {
	Target     string         `json:"target"`
	TargetKind TargetKind     `json:"target_kind"`
	Filters    []FilterClause `json:"filters"`
	Sort       *Sort          `json:"sort"`
	Limit      *int           `json:"limit"`
}

// ResolvedQuery is the executor-ready IR. Reason is set only when Resolved is
// false.
type ResolvedQuery struct {
	Resolved bool           `json:"resolved"`
	Table    string         `json:"table"`
	Target   string         `json:"target"`
	Filters  []FilterClause `json:"filters"`
	Sort     *Sort          `json:"sort"`
	Limit    int            `json:"limit"`
	Reason   string         `json:"reason,omitempty"`
}

func Unresolved(reason string) ResolvedQuery {
	return ResolvedQuery{Resolved: false, Reason: reason}
}

// Clone returns a deep copy; filter values are copied recursively so the
// result shares no mutable state with q.
func (q ResolvedQuery) Clone() ResolvedQuery {
	out := q
	if q.Filters != nil {
		out.Filters = make([]FilterClause, len(q.Filters))
		for i, f := range q.Filters {
			out.Filters[i] = FilterClause{Field: f.Field, Operator: f.Operator, Value: CloneValue(f.Value)}
		}
	}
	if q.Sort != nil {
		s := *q.Sort
		out.Sort = &s
	}
	return out
}

// HasTenantFilter reports whether any filter targets the tenant column.
func (q ResolvedQuery) HasTenantFilter() bool {
	for _, f := range q.Filters {
		if IsTenantField(f.Field) {
			return true
		}
	}
	return false
}

func IsTenantField(field string) bool {
	return strings.EqualFold(strings.TrimSpace(field), TenantField)
}

func CloneValue(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = CloneValue(t[i])
		}
		return out
	case []string:
		return slices.Clone(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = CloneValue(vv)
		}
		return out
	default:
		return v
	}
}

var supportedOperators = []Operator{
	OperatorEq,
	OperatorNeq,
	OperatorIn,
	OperatorNotIn,
	OperatorContainsAll,
	OperatorIsNull,
	OperatorGt,
	OperatorGte,
	OperatorLt,
	OperatorLte,
	OperatorILike,
}

// SupportedOperators lists every operator the executor can compile. Catalogs
// may narrow this set but never extend it.
func SupportedOperators() []Operator {
	return slices.Clone(supportedOperators)
}

func (o Operator) Supported() bool {
	return slices.Contains(supportedOperators, o)
}
