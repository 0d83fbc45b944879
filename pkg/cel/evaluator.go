package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
)

// Evaluator compiles boolean expressions over a consolidated call record,
// exposed to expressions as the `record` variable (a JSON-shaped map) and
// `flushReason` (why the call was finalized).
type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("flushReason", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

func (e *Evaluator) ValidateExpression(expression string) error {
	_, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}
	return nil
}

func (e *Evaluator) ValidateFilterExpression(expression string) error {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	return nil
}

// CompileFilter compiles expression once so it can be evaluated for every
// flushed call.
func (e *Evaluator) CompileFilter(expression string) (*Filter, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &Filter{expression: expression, program: program}, nil
}

type Filter struct {
	expression string
	program    cel.Program
}

func (f *Filter) Expression() string {
	return f.expression
}

func (f *Filter) Match(ctx context.Context, record map[string]any, flushReason string) (bool, error) {
	if record == nil {
		record = map[string]any{}
	}

	vars := map[string]any{
		"record":      record,
		"flushReason": flushReason,
	}

	result, _, err := f.program.ContextEval(ctx, vars)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}
