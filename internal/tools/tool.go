// Package tools is the boundary between agents and side effects. Agents only
// see tool specs and results; handlers, validation and panics stay behind it.
package tools

import (
	"context"
	"fmt"
	"strings"
)

// Param describes one named tool parameter.
type Param struct {
	Name        string
	Type        string // "string", "boolean", "integer", "object"
	Description string
	Required    bool
}

// Spec is the static capability an agent may invoke.
type Spec struct {
	Name                 string
	Description          string
	Params               []Param
	RequiresConfirmation bool // Ask a human before running
	Dangerous            bool // Has side effects outside the process
}

// Required returns the names of required parameters in declaration order.
func (s Spec) Required() []string {
	var names []string
	for _, p := range s.Params {
		if p.Required {
			names = append(names, p.Name)
		}
	}
	return names
}

// Result is the outcome of a tool invocation. Output is meaningful only when
// Success is true, Error only when it is false.
type Result struct {
	Success bool
	Output  string
	Error   string
}

// Failure builds an unsuccessful Result.
func Failure(format string, args ...any) Result {
	return Result{Error: fmt.Sprintf(format, args...)}
}

// Handler performs a tool's side effect.
type Handler func(ctx context.Context, params map[string]any) (string, error)

// Tool pairs a spec with the handler that implements it.
type Tool struct {
	Spec
	Handler Handler
}

// Validator is the sandbox hook run before every side effect. A non-nil
// error rejects the invocation.
type Validator interface {
	Validate(ctx context.Context, spec Spec, params map[string]any) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, spec Spec, params map[string]any) error

func (f ValidatorFunc) Validate(ctx context.Context, spec Spec, params map[string]any) error {
	return f(ctx, spec, params)
}

// Dispatcher is what an agent needs from the tool layer.
type Dispatcher interface {
	Specs() []Spec
	Get(name string) (Spec, bool)
	Execute(ctx context.Context, name string, params map[string]any) Result
}

// StringParam returns params[name] as a string.
func StringParam(params map[string]any, name string) (string, bool) {
	v, ok := params[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// BoolParam returns params[name] as a bool, accepting "true"/"false" strings.
func BoolParam(params map[string]any, name string) bool {
	switch v := params[name].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	default:
		return false
	}
}
