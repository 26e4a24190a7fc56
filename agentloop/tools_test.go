package agentloop

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/martinemde/sourceagent/unifiedllm"
)

func echoTool(name string) RegisteredTool {
	return RegisteredTool{
		Definition: unifiedllm.ToolDefinition{Name: name, Description: "echo " + name},
		Func: func(ctx context.Context, args map[string]any) (any, error) {
			return args, nil
		},
	}
}

func TestToolRegistryRegistrationOrder(t *testing.T) {
	r := NewToolRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := r.Register(echoTool(name)); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	defs := r.Declarations()
	want := []string{"zeta", "alpha", "mid"}
	if len(defs) != len(want) {
		t.Fatalf("expected %d declarations, got %d", len(want), len(defs))
	}
	for i, name := range want {
		if defs[i].Name != name {
			t.Errorf("position %d: expected %q, got %q", i, name, defs[i].Name)
		}
	}
	if r.Count() != 3 {
		t.Errorf("expected count 3, got %d", r.Count())
	}
}

func TestToolRegistryDuplicate(t *testing.T) {
	r := NewToolRegistry()
	first := echoTool("dup")
	first.Definition.Description = "first"
	r.MustRegister(first)

	err := r.Register(echoTool("dup"))
	if !errors.Is(err, ErrDuplicateTool) {
		t.Fatalf("expected ErrDuplicateTool, got %v", err)
	}
	tool, _ := r.Get("dup")
	if tool.Definition.Description != "first" {
		t.Errorf("expected first registration to win, got %q", tool.Definition.Description)
	}

	defer func() {
		if recover() == nil {
			t.Error("expected MustRegister to panic on duplicate")
		}
	}()
	r.MustRegister(echoTool("dup"))
}

func TestToolRegistryRejectsEmptyName(t *testing.T) {
	r := NewToolRegistry()
	if err := r.Register(RegisteredTool{}); err == nil {
		t.Error("expected error for empty tool name")
	}
}

func TestToolRegistryGetMissing(t *testing.T) {
	r := NewToolRegistry()
	tool, ok := r.Get("absent")
	if ok || tool != nil {
		t.Errorf("expected absent tool, got %v %v", tool, ok)
	}
}

func TestToolRegistryMappingIsACopy(t *testing.T) {
	r := NewToolRegistry()
	r.MustRegister(echoTool("a"))
	r.MustRegister(echoTool("b"))

	m := r.Mapping()
	delete(m, "a")
	m["c"] = nil

	if _, ok := r.Get("a"); !ok {
		t.Error("deleting from the mapping removed the tool from the registry")
	}
	if _, ok := r.Get("c"); ok {
		t.Error("adding to the mapping added a tool to the registry")
	}
	if len(r.Mapping()) != 2 {
		t.Errorf("expected fresh mapping with 2 entries, got %d", len(r.Mapping()))
	}
}

func TestToolRegistryWithout(t *testing.T) {
	r := NewToolRegistry()
	r.MustRegister(echoTool("keep"))
	if err := RegisterCompletionTool(r); err != nil {
		t.Fatalf("register completion tool: %v", err)
	}

	filtered := r.Without(CompletionToolName)
	if _, ok := filtered.Get(CompletionToolName); ok {
		t.Error("expected completion tool to be hidden in the copy")
	}
	if _, ok := r.Get(CompletionToolName); !ok {
		t.Error("Without must not modify the receiver")
	}
	if names := filtered.Names(); len(names) != 1 || names[0] != "keep" {
		t.Errorf("unexpected names %v", names)
	}

	// Registering into the copy leaves the original untouched.
	filtered.MustRegister(echoTool("extra"))
	if r.Count() != 2 {
		t.Errorf("expected original registry to keep 2 tools, got %d", r.Count())
	}
}

func TestToolRegistryValidateArguments(t *testing.T) {
	r := NewToolRegistry()
	r.MustRegister(RegisteredTool{
		Definition: unifiedllm.ToolDefinition{
			Name: "read",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":  map[string]any{"type": "string"},
					"limit": map[string]any{"type": "integer"},
				},
				"required": []any{"path"},
			},
		},
		Func: func(context.Context, map[string]any) (any, error) { return nil, nil },
	})
	r.MustRegister(echoTool("schemaless"))

	if err := r.ValidateArguments("read", map[string]any{"path": "a.go", "limit": float64(10)}); err != nil {
		t.Errorf("expected valid arguments, got %v", err)
	}
	if err := r.ValidateArguments("read", map[string]any{"limit": "ten"}); err == nil {
		t.Error("expected missing path and wrong type to fail validation")
	} else if !strings.Contains(err.Error(), "path") {
		t.Errorf("expected error to mention path, got %v", err)
	}
	if err := r.ValidateArguments("schemaless", map[string]any{"anything": true}); err != nil {
		t.Errorf("expected tools without schema to accept anything, got %v", err)
	}
	if err := r.ValidateArguments("missing", nil); err == nil {
		t.Error("expected error for unknown tool")
	}
}

func TestToolRegistryRejectsInvalidSchema(t *testing.T) {
	r := NewToolRegistry()
	err := r.Register(RegisteredTool{
		Definition: unifiedllm.ToolDefinition{Name: "broken", Parameters: map[string]any{"type": 5}},
		Func:       func(context.Context, map[string]any) (any, error) { return nil, nil },
	})
	if err == nil || !strings.Contains(err.Error(), "invalid parameter schema") {
		t.Fatalf("expected schema error, got %v", err)
	}
	if r.Count() != 0 {
		t.Errorf("a rejected tool must not be registered")
	}
}

func TestParseToolArguments(t *testing.T) {
	tests := []struct {
		raw     string
		wantErr bool
		wantLen int
	}{
		{`{"x": 2, "y": 3}`, false, 2},
		{``, false, 0},
		{`   `, false, 0},
		{`null`, false, 0},
		{`notjson`, true, 0},
		{`[1, 2]`, true, 0},
	}
	for _, tt := range tests {
		args, err := ParseToolArguments(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseToolArguments(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			continue
		}
		if err == nil && len(args) != tt.wantLen {
			t.Errorf("ParseToolArguments(%q) = %v, want %d entries", tt.raw, args, tt.wantLen)
		}
	}
}

func TestArgHelpers(t *testing.T) {
	args := map[string]any{"s": "text", "n": float64(7), "b": true}
	if s, ok := GetStringArg(args, "s"); !ok || s != "text" {
		t.Errorf("GetStringArg = %q, %v", s, ok)
	}
	if n, ok := GetIntArg(args, "n"); !ok || n != 7 {
		t.Errorf("GetIntArg = %d, %v", n, ok)
	}
	if b, ok := GetBoolArg(args, "b"); !ok || !b {
		t.Errorf("GetBoolArg = %v, %v", b, ok)
	}
	if _, ok := GetStringArg(args, "n"); ok {
		t.Error("expected type mismatch to report false")
	}
}
