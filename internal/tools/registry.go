package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Registry is a static table of tools keyed by name.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]Tool
	order     []string
	validator Validator
	logger    *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithValidator installs the sandbox validator.
func WithValidator(v Validator) Option {
	return func(r *Registry) { r.validator = v }
}

// WithLogger sets the logger used for the audit trail.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tools:  make(map[string]Tool),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tool must have a name")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %q has no handler", t.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

// Get returns the spec of the named tool.
func (r *Registry) Get(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t.Spec, ok
}

// Names returns registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// Specs returns all specs in registration order.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].Spec)
	}
	return specs
}

// Restrict returns a registry holding only the named tools. Unknown names are
// reported. The validator and logger are shared.
func (r *Registry) Restrict(names []string) (*Registry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub := &Registry{
		tools:     make(map[string]Tool, len(names)),
		validator: r.validator,
		logger:    r.logger,
	}
	var unknown []string
	for _, name := range names {
		t, ok := r.tools[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		if _, dup := sub.tools[name]; dup {
			continue
		}
		sub.tools[name] = t
		sub.order = append(sub.order, name)
	}
	if len(unknown) > 0 {
		return sub, fmt.Errorf("unknown tools: %s", strings.Join(unknown, ", "))
	}
	return sub, nil
}

// Execute runs the named tool. Every failure, including a panicking handler,
// is reported as an unsuccessful Result.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (res Result) {
	r.mu.RLock()
	t, ok := r.tools[name]
	validator := r.validator
	r.mu.RUnlock()

	if !ok {
		return Failure("Tool not found: %s", name)
	}
	if params == nil {
		params = map[string]any{}
	}

	for _, p := range t.Params {
		if _, present := params[p.Name]; p.Required && !present {
			return Failure("Parameter error: Missing required parameter: %s. Required params: [%s]",
				p.Name, strings.Join(t.Required(), ", "))
		}
	}

	if validator != nil {
		if err := validator.Validate(ctx, t.Spec, params); err != nil {
			r.logger.Warn("tool rejected", "tool", name, "reason", err)
			return Failure("%v", err)
		}
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panicked", "tool", name, "panic", p)
			res = Failure("tool %s panicked: %v", name, p)
		}
	}()

	r.logger.Info("tool execution", "tool", name, "params", params)
	output, err := t.Handler(ctx, params)
	if err != nil {
		r.logger.Info("tool failed", "tool", name, "error", err)
		return Failure("%v", err)
	}
	return Result{Success: true, Output: output}
}
