package tools

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculate(t *testing.T) {
	out, err := Calculate("2+3")
	require.NoError(t, err)
	assert.EqualValues(t, 5, out)

	out, err = Calculate("sqrt(16)+pi")
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt(16)+math.Pi, out, 1e-12)

	out, err = Calculate("pow(2, 10) / 4")
	require.NoError(t, err)
	assert.InDelta(t, 256.0, out, 1e-12)
}

func TestCalculateErrors(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"2+*3", "Invalid expression syntax"},
		{"5/0", "Division or modulo by zero"},
		{"5%0", "Division or modulo by zero"},
		{"foo(3)", "Unsupported or non-callable function"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, err := Calculate(tt.expr)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "Error:")
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCalculatorTool(t *testing.T) {
	ws := newTestWorkspace(t)
	res := callTool(t, ws, CalculatorToolName, map[string]any{"expression": "2*21"})
	assert.Equal(t, true, res["success"])
	assert.EqualValues(t, 42, res["result"])

	res = callTool(t, ws, CalculatorToolName, map[string]any{"expression": "1/0"})
	assert.Equal(t, false, res["success"])
	assert.Contains(t, res["error"], "Division or modulo by zero")
}
