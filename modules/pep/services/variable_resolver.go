package services

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jacksonlee411/crm-pep/modules/pep/domain/types"
	"github.com/spf13/cast"
)

var ErrTenantFilter = types.ErrTenantFilter

var (
	variableTokenPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z0-9_]+)*)\s*\}\}`)
	dateTokenPattern     = regexp.MustCompile(`^\{\{\s*date:\s*([A-Za-z0-9_]+)\s*\}\}$`)
	lastNDaysPattern     = regexp.MustCompile(`^last_([0-9]+)_days$`)
)

const dateLayout = "2006-01-02"

// ReplaceVariables substitutes {{name}} tokens from payload and {{a.b.c}}
// tokens by walking variables. Tokens that cannot be resolved are left
// verbatim.
func ReplaceVariables(s string, payload map[string]any, variables map[string]any) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return variableTokenPattern.ReplaceAllStringFunc(s, func(token string) string {
		m := variableTokenPattern.FindStringSubmatch(token)
		if len(m) != 2 {
			return token
		}
		v, ok := lookupVariable(m[1], payload, variables)
		if !ok {
			return token
		}
		out, ok := stringifyValue(v)
		if !ok {
			return token
		}
		return out
	})
}

func lookupVariable(path string, payload map[string]any, variables map[string]any) (any, bool) {
	segments := strings.Split(path, ".")
	if len(segments) == 1 {
		v, ok := payload[path]
		return v, ok && v != nil
	}

	var cur any = variables
	for _, seg := range segments {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, cur != nil
}

func stringifyValue(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case []any, map[string]any:
		b, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
	if s, err := cast.ToStringE(v); err == nil {
		return s, true
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return string(b), true
}

// ResolveDateToken resolves a value of the exact shape {{date: <token>}}
// relative to now. Supported tokens: today, start_of_month, end_of_month,
// start_of_year and last_N_days with N >= 1. Anything else is returned
// unchanged.
func ResolveDateToken(s string, now time.Time) string {
	m := dateTokenPattern.FindStringSubmatch(strings.TrimSpace(s))
	if len(m) != 2 {
		return s
	}
	d, ok := resolveDate(strings.ToLower(m[1]), now)
	if !ok {
		return s
	}
	return d.Format(dateLayout)
}

func resolveDate(token string, now time.Time) (time.Time, bool) {
	y, mo, _ := now.Date()
	switch token {
	case "today":
		return now, true
	case "start_of_month":
		return time.Date(y, mo, 1, 0, 0, 0, 0, now.Location()), true
	case "end_of_month":
		return time.Date(y, mo, 1, 0, 0, 0, 0, now.Location()).AddDate(0, 1, -1), true
	case "start_of_year":
		return time.Date(y, time.January, 1, 0, 0, 0, 0, now.Location()), true
	}
	if m := lastNDaysPattern.FindStringSubmatch(token); len(m) == 2 {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			return time.Time{}, false
		}
		return now.AddDate(0, 0, -n), true
	}
	return time.Time{}, false
}

// VariableResolver applies workflow variables and then date tokens to the
// filter values of a compiled query at execution time.
type VariableResolver struct {
	Now      func() time.Time
	Location *time.Location
}

func NewVariableResolver(loc *time.Location) VariableResolver {
	return VariableResolver{Now: time.Now, Location: loc}
}

func (r VariableResolver) now() time.Time {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	t := now()
	if r.Location != nil {
		t = t.In(r.Location)
	}
	return t
}

// ResolveIR returns a new query with every string reachable from a filter
// value substituted. q itself is never modified.
func (r VariableResolver) ResolveIR(q types.ResolvedQuery, payload map[string]any, variables map[string]any) (types.ResolvedQuery, error) {
	if q.HasTenantFilter() {
		return types.ResolvedQuery{}, ErrTenantFilter
	}
	out := q.Clone()
	if !out.Resolved {
		return out, nil
	}
	now := r.now()
	for i := range out.Filters {
		out.Filters[i].Value = resolveValue(out.Filters[i].Value, payload, variables, now)
	}
	return out, nil
}

func resolveValue(v any, payload map[string]any, variables map[string]any, now time.Time) any {
	switch t := v.(type) {
	case string:
		return ResolveDateToken(ReplaceVariables(t, payload, variables), now)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = resolveValue(t[i], payload, variables, now)
		}
		return out
	case []string:
		out := make([]string, len(t))
		for i := range t {
			out[i] = ResolveDateToken(ReplaceVariables(t[i], payload, variables), now)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = resolveValue(vv, payload, variables, now)
		}
		return out
	default:
		return v
	}
}
