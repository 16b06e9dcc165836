package condition

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Operator is a comparison operator.
type Operator string

const (
	OpEq       Operator = "=="
	OpNeq      Operator = "!="
	OpGt       Operator = ">"
	OpGte      Operator = ">="
	OpLt       Operator = "<"
	OpLte      Operator = "<="
	OpContains Operator = "contains"
	OpMatches  Operator = "matches"
	OpIn       Operator = "in"
)

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func compare(c *ComparisonExpr, left, right interface{}) (bool, error) {
	switch c.Op {
	case OpEq:
		return equal(left, right), nil
	case OpNeq:
		return !equal(left, right), nil
	case OpGt, OpGte, OpLt, OpLte:
		return numericCompare(c.Op, left, right)
	case OpContains:
		ls, ok := left.(string)
		if !ok {
			return false, fmt.Errorf("contains: left operand must be a string, got %T", left)
		}
		return strings.Contains(ls, fmt.Sprint(right)), nil
	case OpMatches:
		return matchesOp(c.re, left, right)
	case OpIn:
		list, ok := right.([]interface{})
		if !ok {
			return false, fmt.Errorf("in: right operand must be a list, got %T", right)
		}
		for _, v := range list {
			if equal(left, v) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("unknown operator: %s", c.Op)
}

// equal compares numbers by value, bools strictly, and everything else by string form.
// Strings compare case-insensitively since sources disagree on casing.
func equal(left, right interface{}) bool {
	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if lok && rok {
		return math.Abs(lf-rf) < 1e-9
	}
	if lb, ok := left.(bool); ok {
		rb, ok := right.(bool)
		return ok && lb == rb
	}
	return strings.EqualFold(fmt.Sprint(left), fmt.Sprint(right))
}

func numericCompare(op Operator, left, right interface{}) (bool, error) {
	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if !lok || !rok {
		return false, fmt.Errorf("operator %s requires numeric operands, got %T and %T", op, left, right)
	}
	switch op {
	case OpGt:
		return lf > rf, nil
	case OpGte:
		return lf >= rf, nil
	case OpLt:
		return lf < rf, nil
	default:
		return lf <= rf, nil
	}
}

func matchesOp(re *regexp.Regexp, left, right interface{}) (bool, error) {
	ls, ok := left.(string)
	if !ok {
		return false, fmt.Errorf("matches: left operand must be a string, got %T", left)
	}
	if re == nil {
		pattern, ok := right.(string)
		if !ok {
			return false, fmt.Errorf("matches: right operand must be a string pattern, got %T", right)
		}
		var err error
		if re, err = regexp.Compile(pattern); err != nil {
			return false, fmt.Errorf("matches: invalid regex %q: %w", pattern, err)
		}
	}
	return re.MatchString(ls), nil
}
