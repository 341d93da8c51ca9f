package rules

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/theomodesto/fraudshield/internal/domain"
)

// Engine matches merchant rules against arbitrary records. Condition-based
// rules go through the condition evaluator; expression rules are compiled to
// CEL programs once and cached by rule id.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	programs map[string]compiledProgram
}

type compiledProgram struct {
	expression string
	program    cel.Program
}

// NewEngine creates a rule engine. The CEL environment exposes the evaluated
// record as `record` plus convenience bindings for the most common fields.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("score", cel.IntType),
		cel.Variable("riskFactors", cel.ListType(cel.StringType)),
		cel.Variable("merchantId", cel.StringType),
		cel.Variable("sessionId", cel.StringType),
		cel.Variable("visitorId", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:      env,
		programs: make(map[string]compiledProgram),
	}, nil
}

// Match returns the highest-priority enabled rule fully matching the record,
// or nil. The sort is stable so equal priorities preserve original order, and
// evaluation stops at the first full match.
func (e *Engine) Match(record map[string]any, rules []*domain.Rule) *domain.Rule {
	enabled := make([]*domain.Rule, 0, len(rules))
	for _, r := range rules {
		if r.IsEnabled {
			enabled = append(enabled, r)
		}
	}

	sort.SliceStable(enabled, func(i, j int) bool {
		return enabled[i].Priority > enabled[j].Priority
	})

	for _, r := range enabled {
		if e.Matches(record, r) {
			return r
		}
	}
	return nil
}

// MatchingRules returns every enabled rule that fully matches the record, in
// the original list order. Used by the scoring engine, where each match
// contributes its adjustment.
func (e *Engine) MatchingRules(record map[string]any, rules []*domain.Rule) []*domain.Rule {
	var matched []*domain.Rule
	for _, r := range rules {
		if r.IsEnabled && e.Matches(record, r) {
			matched = append(matched, r)
		}
	}
	return matched
}

// Matches reports whether a single rule fully matches the record. Conditions
// combine with AND semantics; a rule with neither conditions nor an
// expression never matches.
func (e *Engine) Matches(record map[string]any, rule *domain.Rule) bool {
	if rule.Expression != "" {
		return e.evalExpression(record, rule)
	}

	if len(rule.Conditions) == 0 {
		return false
	}
	for _, cond := range rule.Conditions {
		if !EvaluateCondition(record, cond) {
			return false
		}
	}
	return true
}

// ValidateRule checks a rule without loading it: expression rules must
// compile to a boolean, condition rules must use known operators.
func (e *Engine) ValidateRule(rule *domain.Rule) error {
	if rule.Expression != "" {
		_, err := e.compile(rule.Expression)
		return err
	}

	if len(rule.Conditions) == 0 {
		return fmt.Errorf("rule %s has neither conditions nor an expression", rule.ID)
	}
	for _, cond := range rule.Conditions {
		switch cond.Operator {
		case domain.OpEq, domain.OpNeq, domain.OpGt, domain.OpGte, domain.OpLt, domain.OpLte,
			domain.OpContains, domain.OpNotContains, domain.OpIn, domain.OpNotIn:
		default:
			return fmt.Errorf("rule %s: unknown operator %q", rule.ID, cond.Operator)
		}
	}
	return nil
}

// evalExpression evaluates a CEL expression rule. Compile or eval failures
// make the rule a non-match rather than failing the pipeline.
func (e *Engine) evalExpression(record map[string]any, rule *domain.Rule) bool {
	program, err := e.programFor(rule)
	if err != nil {
		slog.Warn("rule expression rejected",
			"rule_id", rule.ID,
			"error", err,
		)
		return false
	}

	activation := map[string]any{
		"record":      record,
		"score":       int64(0),
		"riskFactors": []string{},
		"merchantId":  "",
		"sessionId":   "",
		"visitorId":   "",
	}
	if n, ok := asNumber(record["score"]); ok {
		activation["score"] = int64(n)
	}
	if factors, ok := asStringSlice(record["riskFactors"]); ok {
		activation["riskFactors"] = factors
	}
	for _, key := range []string{"merchantId", "sessionId", "visitorId"} {
		if s, ok := record[key].(string); ok {
			activation[key] = s
		}
	}

	out, _, err := program.Eval(activation)
	if err != nil {
		slog.Warn("rule expression evaluation failed",
			"rule_id", rule.ID,
			"error", err,
		)
		return false
	}

	b, ok := out.(types.Bool)
	return ok && bool(b)
}

// programFor returns the cached program for a rule, recompiling when the
// expression changed since it was cached.
func (e *Engine) programFor(rule *domain.Rule) (cel.Program, error) {
	e.mu.RLock()
	cached, ok := e.programs[rule.ID]
	e.mu.RUnlock()
	if ok && cached.expression == rule.Expression {
		return cached.program, nil
	}

	program, err := e.compile(rule.Expression)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.programs[rule.ID] = compiledProgram{expression: rule.Expression, program: program}
	e.mu.Unlock()

	return program, nil
}

func (e *Engine) compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}
	return e.env.Program(ast)
}

// RecordFrom flattens any JSON-serializable value into the generic record
// shape the evaluator walks. Numbers become float64, structs become nested
// maps keyed by their JSON names.
func RecordFrom(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var record map[string]any
	if err := json.Unmarshal(data, &record); err != nil {
		return map[string]any{}
	}
	return record
}
