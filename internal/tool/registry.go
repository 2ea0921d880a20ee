// Package tool holds the closed registry of agent tools. The tool set is
// small and fixed per deployment, so dispatch is an explicit name-to-
// implementation map populated at startup, not reflection.
package tool

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gosuda/glassbox/internal/provider"
)

// Tool is a pure, side-effect-free evaluator. Execute never panics by
// contract; all failure is communicated as an error string (ok == false)
// so the loop can feed it back to the model for self-correction.
type Tool interface {
	Schema() provider.ToolSchema
	Execute(args map[string]any) (result string, ok bool)
}

// Registry maps tool names to implementations.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool under its schema name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Schema().Name] = t
}

// Execute dispatches to the named tool. Unknown names and panicking tools
// both come back as error strings; execution failure never aborts the
// caller's loop.
func (r *Registry) Execute(name string, args map[string]any) (result string, ok bool) {
	r.mu.RLock()
	t, found := r.tools[name]
	r.mu.RUnlock()

	if !found {
		return "Error: Tool not found", false
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = fmt.Sprintf("Error executing tool: %v", rec)
			ok = false
		}
	}()

	return t.Execute(args)
}

// Schemas returns the declared tool schemas sorted by name, for the model
// call's tool catalog.
func (r *Registry) Schemas() []provider.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]provider.ToolSchema, 0, len(r.tools))
	for _, t := range r.tools {
		schemas = append(schemas, t.Schema())
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })

	return schemas
}

// Available returns registered tool names in sorted order.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}
