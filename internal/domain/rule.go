package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Condition operators.
const (
	OpEq          = "eq"
	OpNeq         = "neq"
	OpGt          = "gt"
	OpGte         = "gte"
	OpLt          = "lt"
	OpLte         = "lte"
	OpContains    = "contains"
	OpNotContains = "not_contains"
	OpIn          = "in"
	OpNotIn       = "not_in"
)

// Rule actions. Actions outside the decision enum map onto it:
// flag/challenge produce review, block produces reject.
const (
	ActionApprove   = "approve"
	ActionReview    = "review"
	ActionReject    = "reject"
	ActionFlag      = "flag"
	ActionBlock     = "block"
	ActionChallenge = "challenge"
)

// DecisionForAction maps a rule action to a decision outcome.
func DecisionForAction(action string) string {
	switch action {
	case ActionReject, ActionBlock:
		return DecisionReject
	case ActionReview, ActionFlag, ActionChallenge:
		return DecisionReview
	default:
		return DecisionApprove
	}
}

// ValueKind tags the runtime type of a condition value.
type ValueKind int

const (
	ValueString ValueKind = iota
	ValueNumber
	ValueBool
	ValueStringList
)

// ConditionValue is a closed tagged variant for rule condition values.
// Exactly one of the payload fields is meaningful, selected by Kind.
type ConditionValue struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
	List []string
}

// StringValue builds a string-kinded condition value.
func StringValue(s string) ConditionValue { return ConditionValue{Kind: ValueString, Str: s} }

// NumberValue builds a number-kinded condition value.
func NumberValue(n float64) ConditionValue { return ConditionValue{Kind: ValueNumber, Num: n} }

// BoolValue builds a bool-kinded condition value.
func BoolValue(b bool) ConditionValue { return ConditionValue{Kind: ValueBool, Bool: b} }

// ListValue builds a string-list-kinded condition value.
func ListValue(items ...string) ConditionValue {
	return ConditionValue{Kind: ValueStringList, List: items}
}

// MarshalJSON encodes the variant as its bare JSON payload.
func (v ConditionValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueString:
		return json.Marshal(v.Str)
	case ValueNumber:
		return json.Marshal(v.Num)
	case ValueBool:
		return json.Marshal(v.Bool)
	case ValueStringList:
		return json.Marshal(v.List)
	}
	return nil, fmt.Errorf("unknown condition value kind: %d", v.Kind)
}

// UnmarshalJSON infers the variant kind from the JSON payload type.
// Only strings, numbers, booleans and string arrays are accepted.
func (v *ConditionValue) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch t := raw.(type) {
	case string:
		*v = StringValue(t)
	case float64:
		*v = NumberValue(t)
	case bool:
		*v = BoolValue(t)
	case []any:
		items := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("condition value arrays must contain strings, got %T", item)
			}
			items = append(items, s)
		}
		*v = ListValue(items...)
	default:
		return fmt.Errorf("unsupported condition value type: %T", raw)
	}
	return nil
}

// RuleCondition is one typed comparison against a dot-path field of a record.
type RuleCondition struct {
	Field    string         `json:"field"`
	Operator string         `json:"operator"`
	Value    ConditionValue `json:"value"`
}

// Rule is a merchant-defined condition set with an associated action and
// priority. Conditions combine with AND semantics. A rule may alternatively
// carry a CEL expression; when both are present the expression wins.
type Rule struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Conditions []RuleCondition `json:"conditions,omitempty"`
	Expression string          `json:"expression,omitempty"`
	Action     string          `json:"action"`
	Priority   int             `json:"priority"`
	IsEnabled  bool            `json:"isEnabled"`

	// RiskScoreAdjustment is the additive score contribution when the rule
	// matches during scoring (tagged rule_{id} in riskFactors).
	RiskScoreAdjustment int `json:"riskScoreAdjustment,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}
