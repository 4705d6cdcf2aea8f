// Package policy implements the ordered, short-circuiting check pipeline
// that produces a DecisionTrace for one proposal, per spec.md §4.2: the
// declarative policy-rule evaluator, the 13-step engine, and approval-
// requirement arbitration.
package policy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"governor/schema"
)

// Evaluate is the pure function mapping a PolicyRule tree and a fact bag to
// a boolean match, per spec.md §4.2 and §9's tagged-union design note.
func Evaluate(rule schema.PolicyRule, facts map[string]interface{}) bool {
	switch rule.Composition {
	case schema.CompositionLeaf:
		if rule.Condition == nil {
			return false
		}
		return evaluateCondition(*rule.Condition, facts)
	case schema.CompositionAnd:
		for _, child := range rule.Children {
			if !Evaluate(child, facts) {
				return false
			}
		}
		return true
	case schema.CompositionOr:
		for _, child := range rule.Children {
			if Evaluate(child, facts) {
				return true
			}
		}
		return false
	case schema.CompositionNot:
		if len(rule.Children) != 1 {
			return false
		}
		return !Evaluate(rule.Children[0], facts)
	default:
		return false
	}
}

// resolveField walks facts along path's dot-separated segments, descending
// through nested map[string]interface{} values.
func resolveField(facts map[string]interface{}, path string) (interface{}, bool) {
	segments := strings.Split(path, ".")
	var current interface{} = facts
	for _, segment := range segments {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func evaluateCondition(cond schema.Condition, facts map[string]interface{}) bool {
	value, exists := resolveField(facts, cond.Field)

	switch cond.Operator {
	case schema.OpExists:
		return exists
	case schema.OpNotExists:
		return !exists
	}

	if !exists {
		return false
	}

	switch cond.Operator {
	case schema.OpEq:
		return equalValues(value, cond.Value)
	case schema.OpNeq:
		return !equalValues(value, cond.Value)
	case schema.OpGt, schema.OpGte, schema.OpLt, schema.OpLte:
		left, leftOk := toFloat(value)
		right, rightOk := toFloat(cond.Value)
		if !leftOk || !rightOk {
			return false
		}
		switch cond.Operator {
		case schema.OpGt:
			return left > right
		case schema.OpGte:
			return left >= right
		case schema.OpLt:
			return left < right
		default:
			return left <= right
		}
	case schema.OpIn:
		return memberOf(value, cond.Value)
	case schema.OpNotIn:
		return !memberOf(value, cond.Value)
	case schema.OpContains:
		return containsValue(value, cond.Value)
	case schema.OpNotContains:
		return !containsValue(value, cond.Value)
	case schema.OpMatches:
		pattern, ok := cond.Value.(string)
		str, strOk := value.(string)
		if !ok || !strOk {
			return false
		}
		matched, err := regexp.MatchString(pattern, str)
		if err != nil {
			return false
		}
		return matched
	default:
		return false
	}
}

func equalValues(a, b interface{}) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func memberOf(value, list interface{}) bool {
	items, ok := list.([]interface{})
	if !ok {
		return false
	}
	for _, item := range items {
		if equalValues(value, item) {
			return true
		}
	}
	return false
}

func containsValue(haystack, needle interface{}) bool {
	switch h := haystack.(type) {
	case string:
		n, ok := needle.(string)
		return ok && strings.Contains(h, n)
	case []interface{}:
		for _, item := range h {
			if equalValues(item, needle) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
