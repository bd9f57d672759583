// Package rules provides the condition evaluation engine.
package rules

import (
	"context"
	"fmt"
	"math"

	"github.com/opensource-commerce/kestrel/internal/domain"
)

// epsilon for equals/not_equals on floating metrics.
const epsilon = 1e-9

// RuleEvaluation is the verdict for one entity under one rule.
type RuleEvaluation struct {
	Matched bool
	Traces  []domain.ConditionTrace
}

// Compare applies a threshold operator to an observed value.
// between is inclusive on both bounds.
func Compare(op domain.Operator, observed, threshold float64, max *float64) bool {
	switch op {
	case domain.OpGreaterThan:
		return observed > threshold
	case domain.OpLessThan:
		return observed < threshold
	case domain.OpGreaterOrEqual:
		return observed >= threshold
	case domain.OpLessOrEqual:
		return observed <= threshold
	case domain.OpEquals:
		return math.Abs(observed-threshold) <= epsilon
	case domain.OpNotEquals:
		return math.Abs(observed-threshold) > epsilon
	case domain.OpBetween:
		if max == nil {
			return false
		}
		return observed >= threshold && observed <= *max
	default:
		return false
	}
}

// EvaluateRule runs every condition needed to decide the rule for one
// entity. A metric the provider cannot serve yields a not-matched trace
// with the reason; it never aborts the cycle. AND short-circuits on the
// first failed condition, OR on the first matched one.
func (e *Evaluator) EvaluateRule(ctx context.Context, rule *domain.Rule, entity domain.EntityRef) RuleEvaluation {
	eval := RuleEvaluation{Matched: rule.ConditionLogic == domain.LogicAnd}

	for i := range rule.Conditions {
		cond := &rule.Conditions[i]

		var trace domain.ConditionTrace
		if cond.MetricType == domain.MetricCustomExpression {
			trace = e.evaluateExpression(ctx, rule, cond, entity)
		} else {
			trace = e.evaluateThreshold(ctx, rule, cond, entity)
		}
		eval.Traces = append(eval.Traces, trace)

		if rule.ConditionLogic == domain.LogicAnd && !trace.Matched {
			eval.Matched = false
			return eval
		}
		if rule.ConditionLogic == domain.LogicOr && trace.Matched {
			eval.Matched = true
			return eval
		}
	}

	return eval
}

func (e *Evaluator) evaluateThreshold(ctx context.Context, rule *domain.Rule, cond *domain.Condition, entity domain.EntityRef) domain.ConditionTrace {
	trace := domain.ConditionTrace{
		MetricType:        cond.MetricType,
		Operator:          cond.Operator,
		ThresholdValue:    cond.ThresholdValue,
		ThresholdValueMax: cond.ThresholdValueMax,
		TimeWindowDays:    cond.Window(),
	}

	observed, err := e.metrics.GetMetric(ctx, rule.TenantID, entity, cond.MetricType, cond.Window())
	if err != nil {
		trace.Reason = fmt.Sprintf("metric fetch failed: %v", err)
		return trace
	}

	trace.ObservedValue = observed
	trace.Matched = Compare(cond.Operator, observed, cond.ThresholdValue, cond.ThresholdValueMax)
	return trace
}
