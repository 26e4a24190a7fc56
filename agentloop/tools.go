package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/martinemde/sourceagent/unifiedllm"
	"github.com/xeipuuv/gojsonschema"
)

// ErrDuplicateTool is returned by Register when the name is already taken.
var ErrDuplicateTool = errors.New("duplicate tool")

// ToolFunc executes a tool with the arguments decoded from the model's JSON.
// The returned value is serialized to JSON for the model; values that cannot
// be serialized are sent as their %v text.
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// RegisteredTool pairs a tool declaration with its callable.
type RegisteredTool struct {
	Definition unifiedllm.ToolDefinition
	Func       ToolFunc

	schema *gojsonschema.Schema // compiled Definition.Parameters, nil without one
}

// ToolRegistry maps tool names to declarations and callables. Declarations
// are reported in registration order. A registry is safe for concurrent use.
type ToolRegistry struct {
	mu     sync.RWMutex
	byName map[string]*RegisteredTool
	order  []string
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{byName: make(map[string]*RegisteredTool)}
}

// Register adds a tool and compiles its parameter schema. Registering a name
// twice fails with ErrDuplicateTool and leaves the first registration in
// place.
func (r *ToolRegistry) Register(tool RegisteredTool) error {
	name := tool.Definition.Name
	if name == "" {
		return errors.New("tool name is required")
	}
	if params := tool.Definition.Parameters; len(params) > 0 {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(params))
		if err != nil {
			return fmt.Errorf("tool %s: invalid parameter schema: %w", name, err)
		}
		tool.schema = schema
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byName[name]; taken {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.byName[name] = &tool
	r.order = append(r.order, name)
	return nil
}

// MustRegister is like Register but panics on error. Intended for startup
// wiring where a collision is a programming mistake.
func (r *ToolRegistry) MustRegister(tool RegisteredTool) {
	if err := r.Register(tool); err != nil {
		panic(err)
	}
}

// Get returns a copy of the named tool. A missing name is not an error here;
// callers decide how to report it.
func (r *ToolRegistry) Get(name string) (*RegisteredTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	dup := *tool
	return &dup, true
}

// Declarations returns all tool declarations in registration order.
func (r *ToolRegistry) Declarations() []unifiedllm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]unifiedllm.ToolDefinition, len(r.order))
	for i, name := range r.order {
		defs[i] = r.byName[name].Definition
	}
	return defs
}

// Mapping returns a fresh name to callable map. Mutating it does not affect
// the registry.
func (r *ToolRegistry) Mapping() map[string]ToolFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	funcs := make(map[string]ToolFunc, len(r.byName))
	for name, tool := range r.byName {
		funcs[name] = tool.Func
	}
	return funcs
}

// Names lists the tools in registration order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Without returns a copy of the registry lacking the named tools. The
// receiver is never modified.
func (r *ToolRegistry) Without(names ...string) *ToolRegistry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := NewToolRegistry()
	for _, name := range r.order {
		if slices.Contains(names, name) {
			continue
		}
		dup := *r.byName[name]
		out.byName[name] = &dup
		out.order = append(out.order, name)
	}
	return out
}

// ValidateArguments checks args against the named tool's parameter schema.
// Tools without a schema accept anything.
func (r *ToolRegistry) ValidateArguments(name string, args map[string]any) error {
	tool, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("unknown tool: %s", name)
	}
	if tool.schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}

	result, err := tool.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("validate arguments for %s: %w", name, err)
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, len(result.Errors()))
	for i, e := range result.Errors() {
		problems[i] = e.String()
	}
	return fmt.Errorf("arguments do not satisfy schema: %s", strings.Join(problems, ", "))
}

// ParseToolArguments decodes a raw argument payload into a map. An empty
// payload decodes to an empty map.
func ParseToolArguments(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// GetStringArg returns args[key] if it holds a string.
func GetStringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetIntArg returns args[key] as an int. JSON numbers decode as float64, so
// those are truncated.
func GetIntArg(args map[string]any, key string) (int, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}

// GetBoolArg returns args[key] if it holds a bool.
func GetBoolArg(args map[string]any, key string) (bool, bool) {
	v, ok := args[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}
