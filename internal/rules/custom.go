package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/interpreter"
	"github.com/opensource-commerce/kestrel/internal/domain"
)

// Evaluator evaluates rule conditions against the metric provider.
// Custom-expression conditions are compiled once and cached; the compiled
// program map is guarded for concurrent rule cycles.
type Evaluator struct {
	metrics domain.MetricProvider

	env      *cel.Env
	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewEvaluator creates an evaluator backed by the given metric provider.
func NewEvaluator(metrics domain.MetricProvider) (*Evaluator, error) {
	opts := []cel.EnvOption{
		cel.Variable("entity_id", cel.StringType),
		cel.Variable("entity_type", cel.StringType),
		cel.Variable("platform", cel.StringType),
	}
	for _, m := range domain.MetricTypes() {
		opts = append(opts, cel.Variable(string(m), cel.DoubleType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{
		metrics:  metrics,
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// ValidateExpression compiles an expression without caching it. Used by
// the API at rule creation time so bad expressions never reach the
// scheduler.
func (e *Evaluator) ValidateExpression(expr string) error {
	_, err := e.compile(expr)
	return err
}

func (e *Evaluator) compile(expr string) (cel.Program, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}
	return e.env.Program(ast)
}

// program returns the cached compiled program for an expression,
// compiling on first use.
func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	prg, err := e.compile(expr)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.programs[expr] = prg
	e.mu.Unlock()
	return prg, nil
}

// metricActivation resolves CEL variables lazily, fetching each metric
// from the provider on first reference so an expression only pays for
// the metrics it names.
type metricActivation struct {
	ctx      context.Context
	metrics  domain.MetricProvider
	tenantID string
	entity   domain.EntityRef
	window   int

	resolved map[string]any
	fetchErr error
}

func (a *metricActivation) ResolveName(name string) (any, bool) {
	if v, ok := a.resolved[name]; ok {
		return v, true
	}

	var v any
	switch name {
	case "entity_id":
		v = a.entity.ID
	case "entity_type":
		v = string(a.entity.Type)
	case "platform":
		v = string(a.entity.Platform)
	default:
		observed, err := a.metrics.GetMetric(a.ctx, a.tenantID, a.entity, domain.MetricType(name), a.window)
		if err != nil {
			if a.fetchErr == nil {
				a.fetchErr = fmt.Errorf("%s: %w", name, err)
			}
			observed = 0
		}
		v = observed
	}

	a.resolved[name] = v
	return v, true
}

func (a *metricActivation) Parent() interpreter.Activation {
	return nil
}

func (e *Evaluator) evaluateExpression(ctx context.Context, rule *domain.Rule, cond *domain.Condition, entity domain.EntityRef) domain.ConditionTrace {
	trace := domain.ConditionTrace{
		MetricType:     domain.MetricCustomExpression,
		TimeWindowDays: cond.Window(),
	}

	prg, err := e.program(cond.Expression)
	if err != nil {
		trace.Reason = err.Error()
		return trace
	}

	act := &metricActivation{
		ctx:      ctx,
		metrics:  e.metrics,
		tenantID: rule.TenantID,
		entity:   entity,
		window:   cond.Window(),
		resolved: make(map[string]any),
	}

	out, _, err := prg.Eval(act)
	if err != nil {
		trace.Reason = fmt.Sprintf("evaluation error: %v", err)
		return trace
	}
	if act.fetchErr != nil {
		trace.Reason = fmt.Sprintf("metric fetch failed: %v", act.fetchErr)
		return trace
	}

	matched, ok := out.Value().(bool)
	if !ok {
		trace.Reason = fmt.Sprintf("expression returned %T, want bool", out.Value())
		return trace
	}

	trace.Matched = matched
	if matched {
		trace.ObservedValue = 1
	}
	return trace
}

// ProgramCount returns the number of compiled expressions, for stats.
func (e *Evaluator) ProgramCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.programs)
}
