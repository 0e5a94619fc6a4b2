// Package tools provides the catalog of functions the model may call.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ParamType is the declared type of a tool parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
)

// Parameter describes one argument of a tool.
type Parameter struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	Default     any
}

// Descriptor describes a tool as advertised to the model.
type Descriptor struct {
	Name        string
	Description string
	Parameters  []Parameter
}

// Invoker executes a tool with already validated arguments.
type Invoker func(ctx context.Context, args Args) (string, error)

var (
	// ErrDuplicateTool is returned when a tool name is registered twice.
	ErrDuplicateTool = errors.New("tool already registered")
	// ErrUnknownTool is returned when invoking a name that is not registered.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrRegistryFrozen is returned by Register after Freeze.
	ErrRegistryFrozen = errors.New("tool registry is frozen")
)

// InvalidArgumentError names a parameter that is missing or of the wrong type.
type InvalidArgumentError struct {
	Tool      string
	Parameter string
	Reason    string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %q for tool %s: %s", e.Parameter, e.Tool, e.Reason)
}

// ToolExecutionError wraps a fault raised by a tool implementation.
type ToolExecutionError struct {
	Tool  string
	Cause error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Cause)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Cause
}

type entry struct {
	desc   Descriptor
	invoke Invoker
}

// Registry keeps the mapping between tool names and implementations.
// Registration happens at startup; afterwards the registry is read-only and
// safe for concurrent Invoke calls.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]entry
	frozen  bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]entry),
	}
}

// Register adds a tool when its name is not in use.
func (r *Registry) Register(desc Descriptor, fn Invoker) error {
	if desc.Name == "" {
		return fmt.Errorf("tool name is empty")
	}
	if fn == nil {
		return fmt.Errorf("tool %s has no implementation", desc.Name)
	}

	seen := make(map[string]bool, len(desc.Parameters))
	for _, p := range desc.Parameters {
		if p.Name == "" {
			return fmt.Errorf("tool %s has a parameter without a name", desc.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("tool %s declares parameter %s twice", desc.Name, p.Name)
		}
		if !p.Type.valid() {
			return fmt.Errorf("tool %s parameter %s has unsupported type %q", desc.Name, p.Name, p.Type)
		}
		seen[p.Name] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRegistryFrozen
	}
	if _, exists := r.entries[desc.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, desc.Name)
	}

	desc.Parameters = append([]Parameter(nil), desc.Parameters...)
	r.entries[desc.Name] = entry{desc: desc, invoke: fn}
	r.order = append(r.order, desc.Name)
	return nil
}

// Freeze rejects further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// DescribeAll returns the catalog in registration order.
func (r *Registry) DescribeAll() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		d := r.entries[name].desc
		d.Parameters = append([]Parameter(nil), d.Parameters...)
		out = append(out, d)
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Invoke validates args against the tool's parameters and runs it. Errors are
// always ErrUnknownTool, *InvalidArgumentError or *ToolExecutionError.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (out string, err error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	coerced, err := coerceArgs(e.desc, args)
	if err != nil {
		return "", err
	}

	defer func() {
		if p := recover(); p != nil {
			out = ""
			err = &ToolExecutionError{Tool: name, Cause: fmt.Errorf("panic: %v", p)}
		}
	}()

	out, err = e.invoke(ctx, coerced)
	if err != nil {
		return "", &ToolExecutionError{Tool: name, Cause: err}
	}
	return out, nil
}

func (t ParamType) valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean:
		return true
	}
	return false
}
