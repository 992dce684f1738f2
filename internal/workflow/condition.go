package workflow

import (
	"fmt"
	"strings"
)

const (
	OpTruthy = "truthy"
	OpEq     = "eq"
	OpNeq    = "neq"
	OpGt     = "gt"
	OpGte    = "gte"
	OpLt     = "lt"
	OpLte    = "lte"
	OpExists = "exists"
	OpIn     = "in"
)

var knownOperators = map[string]struct{}{
	OpTruthy: {}, OpEq: {}, OpNeq: {}, OpGt: {}, OpGte: {}, OpLt: {}, OpLte: {}, OpExists: {}, OpIn: {},
}

// Evaluate applies the predicate to payload. A missing field or a type
// mismatch evaluates to false.
func (c *Condition) Evaluate(payload map[string]any) bool {
	if c == nil {
		return false
	}
	actual, ok := lookup(payload, c.Field)
	op := c.Operator
	if op == "" {
		op = OpTruthy
	}
	if op == OpExists {
		return ok
	}
	if !ok || actual == nil {
		return false
	}

	switch op {
	case OpTruthy:
		b, isBool := actual.(bool)
		return isBool && b
	case OpEq:
		eq, comparable := equal(actual, c.Value)
		return comparable && eq
	case OpNeq:
		eq, comparable := equal(actual, c.Value)
		return comparable && !eq
	case OpGt, OpGte, OpLt, OpLte:
		a, okA := number(actual)
		b, okB := number(c.Value)
		if !okA || !okB {
			return false
		}
		switch op {
		case OpGt:
			return a > b
		case OpGte:
			return a >= b
		case OpLt:
			return a < b
		default:
			return a <= b
		}
	case OpIn:
		list, isList := c.Value.([]any)
		if !isList {
			return false
		}
		for _, candidate := range list {
			if eq, comparable := equal(actual, candidate); comparable && eq {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func lookup(payload map[string]any, path string) (any, bool) {
	if payload == nil || strings.TrimSpace(path) == "" {
		return nil, false
	}
	var current any = payload
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// equal compares scalars after normalizing numbers; the second result is
// false when the types cannot be compared.
func equal(a, b any) (bool, bool) {
	if na, ok := number(a); ok {
		nb, ok := number(b)
		if !ok {
			return false, false
		}
		return na == nb, true
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv, ok
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv, ok
	default:
		return false, false
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func validateCondition(c *Condition) error {
	if strings.TrimSpace(c.Field) == "" {
		return fmt.Errorf("condition field is required")
	}
	if _, ok := knownOperators[c.Operator]; !ok && c.Operator != "" {
		return fmt.Errorf("unknown condition operator %q", c.Operator)
	}
	if c.Operator == OpIn {
		if _, ok := c.Value.([]any); !ok {
			return fmt.Errorf("operator %q needs a list value", OpIn)
		}
	}
	return nil
}
