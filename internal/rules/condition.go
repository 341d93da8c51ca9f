// Package rules provides the condition evaluator and rule matching engine.
package rules

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/theomodesto/fraudshield/internal/domain"
)

// ExtractField walks a dot-separated path through a nested record. The second
// return is false when any intermediate segment is missing or not a map.
func ExtractField(record map[string]any, path string) (any, bool) {
	if record == nil || path == "" {
		return nil, false
	}

	segments := strings.Split(path, ".")
	var current any = record

	for _, seg := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}

	if current == nil {
		return nil, false
	}
	return current, true
}

// EvaluateCondition evaluates one typed condition against a record.
//
// An undefined field makes every operator return false except not_contains
// and not_in, which return true: the record vacuously does not contain what
// is absent. That polarity matches the original engine and is documented as
// intentional in DESIGN.md.
func EvaluateCondition(record map[string]any, cond domain.RuleCondition) bool {
	field, defined := ExtractField(record, cond.Field)
	if !defined {
		return cond.Operator == domain.OpNotContains || cond.Operator == domain.OpNotIn
	}

	switch cond.Operator {
	case domain.OpEq:
		return valuesEqual(field, cond.Value)
	case domain.OpNeq:
		return !valuesEqual(field, cond.Value)
	case domain.OpGt, domain.OpGte, domain.OpLt, domain.OpLte:
		return compareNumeric(field, cond.Value, cond.Operator)
	case domain.OpContains:
		return containsValue(field, cond.Value)
	case domain.OpNotContains:
		if !containable(field) {
			return false
		}
		return !containsValue(field, cond.Value)
	case domain.OpIn:
		return inList(field, cond.Value)
	case domain.OpNotIn:
		if cond.Value.Kind != domain.ValueStringList {
			return false
		}
		return !inList(field, cond.Value)
	}
	return false
}

// valuesEqual implements strict equality between a record field and a
// condition value, matching on both runtime type and variant kind.
func valuesEqual(field any, value domain.ConditionValue) bool {
	switch value.Kind {
	case domain.ValueString:
		s, ok := field.(string)
		return ok && s == value.Str
	case domain.ValueNumber:
		n, ok := asNumber(field)
		return ok && n == value.Num
	case domain.ValueBool:
		b, ok := field.(bool)
		return ok && b == value.Bool
	case domain.ValueStringList:
		items, ok := asStringSlice(field)
		if !ok || len(items) != len(value.List) {
			return false
		}
		for i := range items {
			if items[i] != value.List[i] {
				return false
			}
		}
		return true
	}
	return false
}

// compareNumeric is numeric-only: false whenever either side is not a number.
func compareNumeric(field any, value domain.ConditionValue, op string) bool {
	if value.Kind != domain.ValueNumber {
		return false
	}
	n, ok := asNumber(field)
	if !ok {
		return false
	}

	switch op {
	case domain.OpGt:
		return n > value.Num
	case domain.OpGte:
		return n >= value.Num
	case domain.OpLt:
		return n < value.Num
	case domain.OpLte:
		return n <= value.Num
	}
	return false
}

// containsValue implements substring match on strings and membership on
// arrays; every other field type fails the match.
func containsValue(field any, value domain.ConditionValue) bool {
	switch f := field.(type) {
	case string:
		return value.Kind == domain.ValueString && strings.Contains(f, value.Str)
	default:
		items, ok := asAnySlice(field)
		if !ok {
			return false
		}
		for _, item := range items {
			if valuesEqual(item, value) {
				return true
			}
		}
		return false
	}
}

// inList tests membership of the field in the condition's string list.
func inList(field any, value domain.ConditionValue) bool {
	if value.Kind != domain.ValueStringList {
		return false
	}
	s, ok := asString(field)
	if !ok {
		return false
	}
	for _, item := range value.List {
		if item == s {
			return true
		}
	}
	return false
}

func containable(field any) bool {
	if _, ok := field.(string); ok {
		return true
	}
	_, ok := asAnySlice(field)
	return ok
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case int:
		return strconv.Itoa(s), true
	case bool:
		return strconv.FormatBool(s), true
	}
	return "", false
}

func asAnySlice(v any) ([]any, bool) {
	switch items := v.(type) {
	case []any:
		return items, true
	case []string:
		out := make([]any, len(items))
		for i, s := range items {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

func asStringSlice(v any) ([]string, bool) {
	switch items := v.(type) {
	case []string:
		return items, true
	case []any:
		out := make([]string, len(items))
		for i, item := range items {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out[i] = s
		}
		return out, true
	}
	return nil, false
}
