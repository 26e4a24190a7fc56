package tools

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/martinemde/sourceagent/agentloop"
)

// calcEnv holds the constants available to expressions.
var calcEnv = map[string]any{
	"pi":  math.Pi,
	"e":   math.E,
	"tau": 2 * math.Pi,
}

var calcFunctions = map[string]func(float64) float64{
	"sqrt":  math.Sqrt,
	"sin":   math.Sin,
	"cos":   math.Cos,
	"tan":   math.Tan,
	"asin":  math.Asin,
	"acos":  math.Acos,
	"atan":  math.Atan,
	"log":   math.Log,
	"log10": math.Log10,
	"log2":  math.Log2,
	"exp":   math.Exp,
}

func calcOptions() []expr.Option {
	opts := []expr.Option{expr.Env(calcEnv)}
	for name, fn := range calcFunctions {
		opts = append(opts, expr.Function(name, func(params ...any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("%s expects 1 argument, got %d", name, len(params))
			}
			x, err := toFloat(params[0])
			if err != nil {
				return nil, err
			}
			return fn(x), nil
		}))
	}
	opts = append(opts, expr.Function("pow", func(params ...any) (any, error) {
		if len(params) != 2 {
			return nil, fmt.Errorf("pow expects 2 arguments, got %d", len(params))
		}
		x, err := toFloat(params[0])
		if err != nil {
			return nil, err
		}
		y, err := toFloat(params[1])
		if err != nil {
			return nil, err
		}
		return math.Pow(x, y), nil
	}))
	return opts
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

// Calculate evaluates an arithmetic expression. Errors are prefixed with
// "Error:" and name the failure category.
func Calculate(expression string) (any, error) {
	program, err := expr.Compile(expression, calcOptions()...)
	if err != nil {
		return nil, calcError(err)
	}
	out, err := expr.Run(program, calcEnv)
	if err != nil {
		return nil, calcError(err)
	}
	if f, ok := out.(float64); ok && (math.IsInf(f, 0) || math.IsNaN(f)) {
		return nil, fmt.Errorf("Error: Division or modulo by zero")
	}
	return out, nil
}

func calcError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "by zero"):
		return fmt.Errorf("Error: Division or modulo by zero")
	case strings.Contains(msg, "unknown"), strings.Contains(msg, "not callable"):
		return fmt.Errorf("Error: Unsupported or non-callable function: %s", firstLine(msg))
	default:
		return fmt.Errorf("Error: Invalid expression syntax: %s", firstLine(msg))
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func calculatorTool() agentloop.RegisteredTool {
	return agentloop.RegisteredTool{
		Definition: definition(CalculatorToolName,
			"Evaluate an arithmetic expression. Supports + - * / % ** and the functions sqrt, sin, cos, tan, "+
				"log, log10, exp, pow, abs, floor, ceil, round as well as the constants pi and e.",
			schema(map[string]any{
				"expression": prop("string", "The expression to evaluate, e.g. sqrt(16) + pi."),
			}, "expression"),
		),
		Func: func(ctx context.Context, args map[string]any) (any, error) {
			expression := stringArg(args, "expression", "")
			if strings.TrimSpace(expression) == "" {
				return failure("expression is required"), nil
			}
			result, err := Calculate(expression)
			if err != nil {
				return failure("%v", err), nil
			}
			return success(map[string]any{"expression": expression, "result": result}), nil
		},
	}
}

func currentDateTool() agentloop.RegisteredTool {
	return agentloop.RegisteredTool{
		Definition: definition(CurrentDateToolName,
			"Get the current local date and time.",
			schema(map[string]any{}),
		),
		Func: func(ctx context.Context, args map[string]any) (any, error) {
			now := time.Now()
			zone, _ := now.Zone()
			return success(map[string]any{
				"current_datetime": now.Format(time.RFC3339),
				"date":             now.Format(time.DateOnly),
				"weekday":          now.Weekday().String(),
				"timezone":         zone,
			}), nil
		},
	}
}
