package persistence

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jacksonlee411/crm-pep/modules/pep/domain/ports"
	"github.com/jacksonlee411/crm-pep/modules/pep/domain/types"
)

var (
	identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

	errUnresolvedQuery = errors.New("pep: cannot execute an unresolved query")
)

// QueryPGExecutor runs resolved queries read-only inside a tenant scoped
// transaction. The tenant predicate is always the first condition and is
// bound to the caller's tenant, never to anything found in the query.
type QueryPGExecutor struct {
	pool pgBeginner
}

func NewQueryPGExecutor(pool pgBeginner) ports.QueryExecutor {
	return &QueryPGExecutor{pool: pool}
}

func (e *QueryPGExecutor) Execute(ctx context.Context, tenantID string, q types.ResolvedQuery) ([]map[string]any, error) {
	sql, args, err := CompileSelect(q, tenantID)
	if err != nil {
		return nil, err
	}

	tx, err := beginTenantTx(ctx, e.pool, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SET TRANSACTION READ ONLY;`); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	if out == nil {
		out = []map[string]any{}
	}
	return out, nil
}

// CompileSelect renders q as one parameterized statement. The tenant predicate
// is always $1.
func CompileSelect(q types.ResolvedQuery, tenantID string) (string, []any, error) {
	if !q.Resolved {
		return "", nil, errUnresolvedQuery
	}
	if q.HasTenantFilter() {
		return "", nil, types.ErrTenantFilter
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return "", nil, errors.New("pep: tenant_id is required")
	}
	if q.Limit <= 0 {
		return "", nil, fmt.Errorf("pep: invalid limit %d", q.Limit)
	}
	table, err := quoteTable(q.Table)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	args := []any{tenantID}
	b.WriteString("SELECT * FROM ")
	b.WriteString(table)
	b.WriteString(" WHERE tenant_id = $1::uuid")

	for _, f := range q.Filters {
		col, err := quoteColumn(f.Field)
		if err != nil {
			return "", nil, err
		}
		cond, arg, hasArg, err := compilePredicate(col, f.Operator, f.Value, len(args)+1)
		if err != nil {
			return "", nil, err
		}
		if hasArg {
			args = append(args, arg)
		}
		b.WriteString(" AND ")
		b.WriteString(cond)
	}

	if q.Sort != nil {
		col, err := quoteColumn(q.Sort.Field)
		if err != nil {
			return "", nil, err
		}
		dir := "ASC"
		switch strings.ToLower(string(q.Sort.Direction)) {
		case "", string(types.SortAsc):
		case string(types.SortDesc):
			dir = "DESC"
		default:
			return "", nil, fmt.Errorf("pep: invalid sort direction %q", q.Sort.Direction)
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(col)
		b.WriteString(" ")
		b.WriteString(dir)
	}

	b.WriteString(" LIMIT ")
	b.WriteString(strconv.Itoa(q.Limit))
	return b.String(), args, nil
}

func compilePredicate(col string, op types.Operator, value any, n int) (string, any, bool, error) {
	ph := "$" + strconv.Itoa(n)
	switch types.Operator(strings.ToLower(string(op))) {
	case types.OperatorEq:
		return col + " = " + ph, value, true, nil
	case types.OperatorNeq:
		return col + " IS DISTINCT FROM " + ph, value, true, nil
	case types.OperatorGt:
		return col + " > " + ph, value, true, nil
	case types.OperatorGte:
		return col + " >= " + ph, value, true, nil
	case types.OperatorLt:
		return col + " < " + ph, value, true, nil
	case types.OperatorLte:
		return col + " <= " + ph, value, true, nil
	case types.OperatorILike:
		return col + " ILIKE " + ph, value, true, nil
	case types.OperatorIn:
		return col + " = ANY(" + ph + ")", arrayParam(value), true, nil
	case types.OperatorNotIn:
		return "NOT (" + col + " = ANY(" + ph + "))", arrayParam(value), true, nil
	case types.OperatorContainsAll:
		return col + " @> " + ph, arrayParam(value), true, nil
	case types.OperatorIsNull:
		if b, ok := value.(bool); ok && !b {
			return col + " IS NOT NULL", nil, false, nil
		}
		return col + " IS NULL", nil, false, nil
	default:
		return "", nil, false, fmt.Errorf("pep: unsupported operator %q", op)
	}
}

// arrayParam narrows homogeneous JSON arrays so pgx can pick a concrete
// array encoding.
func arrayParam(v any) any {
	items, ok := v.([]any)
	if !ok {
		return v
	}
	strs := make([]string, 0, len(items))
	for _, it := range items {
		s, ok := it.(string)
		if !ok {
			break
		}
		strs = append(strs, s)
	}
	if len(strs) == len(items) {
		return strs
	}
	nums := make([]float64, 0, len(items))
	for _, it := range items {
		f, ok := it.(float64)
		if !ok {
			break
		}
		nums = append(nums, f)
	}
	if len(nums) == len(items) {
		return nums
	}
	return v
}

func quoteTable(table string) (string, error) {
	parts := strings.Split(strings.TrimSpace(table), ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("pep: invalid table %q", table)
	}
	for _, p := range parts {
		if !identPattern.MatchString(p) {
			return "", fmt.Errorf("pep: invalid table %q", table)
		}
	}
	return pgx.Identifier(parts).Sanitize(), nil
}

func quoteColumn(field string) (string, error) {
	field = strings.TrimSpace(field)
	if !identPattern.MatchString(field) {
		return "", fmt.Errorf("pep: invalid field %q", field)
	}
	return pgx.Identifier{field}.Sanitize(), nil
}
