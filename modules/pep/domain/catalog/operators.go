package catalog

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/jacksonlee411/crm-pep/modules/pep/domain/types"
)

const (
	scalarValueRule  = `type(value) == bool || type(value) == int || type(value) == uint || type(value) == double || type(value) == string`
	listValueRule    = `type(value) == list && size(value) > 0`
	nullValueRule    = `value == null || type(value) == bool`
	orderedValueRule = `type(value) == int || type(value) == uint || type(value) == double || type(value) == string`
	stringValueRule  = `type(value) == string`
)

var defaultOperatorRules = map[types.Operator]string{
	types.OperatorEq:          scalarValueRule,
	types.OperatorNeq:         scalarValueRule,
	types.OperatorIn:          listValueRule,
	types.OperatorNotIn:       listValueRule,
	types.OperatorContainsAll: listValueRule,
	types.OperatorIsNull:      nullValueRule,
	types.OperatorGt:          orderedValueRule,
	types.OperatorGte:         orderedValueRule,
	types.OperatorLt:          orderedValueRule,
	types.OperatorLte:         orderedValueRule,
	types.OperatorILike:       stringValueRule,
}

var newOperatorCELEnv = func() (*cel.Env, error) {
	return cel.NewEnv(cel.Variable("value", cel.DynType))
}

// OperatorRule is an allowed filter operator together with a compiled CEL
// predicate over the filter value. Programs are safe for concurrent use.
type OperatorRule struct {
	Name      types.Operator
	ValueRule string
	program   cel.Program
}

// Accepts reports whether value satisfies the operator's value rule. An
// evaluation error counts as a rejection.
func (o OperatorRule) Accepts(value any) bool {
	if o.program == nil {
		return true
	}
	out, _, err := o.program.Eval(map[string]any{"value": value})
	if err != nil {
		return false
	}
	ok, isBool := out.Value().(bool)
	return isBool && ok
}

func compileOperatorRule(env *cel.Env, name types.Operator, rule string) (OperatorRule, error) {
	rule = strings.TrimSpace(rule)
	if rule == "" {
		rule = defaultOperatorRules[name]
	}
	ast, iss := env.Compile(rule)
	if iss != nil && iss.Err() != nil {
		return OperatorRule{}, fmt.Errorf("catalog: operator %q: %w", name, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return OperatorRule{}, fmt.Errorf("catalog: operator %q: value_rule must be boolean", name)
	}
	prg, err := env.Program(ast)
	if err != nil {
		return OperatorRule{}, fmt.Errorf("catalog: operator %q: %w", name, err)
	}
	return OperatorRule{Name: name, ValueRule: rule, program: prg}, nil
}

func buildOperatorRules(defs []fileOperator) (map[types.Operator]OperatorRule, error) {
	env, err := newOperatorCELEnv()
	if err != nil {
		return nil, err
	}

	if len(defs) == 0 {
		for _, op := range types.SupportedOperators() {
			defs = append(defs, fileOperator{Name: string(op)})
		}
	}

	out := make(map[types.Operator]OperatorRule, len(defs))
	for _, def := range defs {
		name := types.Operator(strings.ToLower(strings.TrimSpace(def.Name)))
		if !name.Supported() {
			return nil, fmt.Errorf("catalog: unsupported operator %q", def.Name)
		}
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("catalog: duplicate operator %q", name)
		}
		rule, err := compileOperatorRule(env, name, def.ValueRule)
		if err != nil {
			return nil, err
		}
		out[name] = rule
	}
	return out, nil
}
