package condition

import (
	"fmt"
	"strings"
)

// EvalContext resolves field paths during evaluation.
type EvalContext interface {
	Resolve(path []string) (interface{}, bool)
}

// Evaluate walks the AST. A reference to an unresolvable field is an error.
func Evaluate(expr Expr, ctx EvalContext) (bool, error) {
	switch e := expr.(type) {
	case *BinaryExpr:
		left, err := Evaluate(e.Left, ctx)
		if err != nil {
			return false, err
		}
		switch e.Op {
		case "AND":
			if !left {
				return false, nil
			}
		case "OR":
			if left {
				return true, nil
			}
		default:
			return false, fmt.Errorf("unknown binary op %q", e.Op)
		}
		return Evaluate(e.Right, ctx)
	case *NotExpr:
		v, err := Evaluate(e.Expr, ctx)
		return !v && err == nil, err
	case *ComparisonExpr:
		left, err := resolveOperand(e.Left, ctx)
		if err != nil {
			return false, err
		}
		right, err := resolveOperand(e.Right, ctx)
		if err != nil {
			return false, err
		}
		return compare(e, left, right)
	}
	return false, fmt.Errorf("unknown expr type %T", expr)
}

func resolveOperand(op Operand, ctx EvalContext) (interface{}, error) {
	switch o := op.(type) {
	case *LiteralOperand:
		return o.Value, nil
	case *ListOperand:
		return o.Values, nil
	case *FieldOperand:
		val, ok := ctx.Resolve(o.Path)
		if !ok {
			return nil, fmt.Errorf("field %q not found", strings.Join(o.Path, "."))
		}
		return val, nil
	}
	return nil, fmt.Errorf("unknown operand type %T", op)
}
