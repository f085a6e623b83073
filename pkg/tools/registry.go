// Package tools manages the tool surface exposed to the completion backend:
// a registry of definitions with handlers, an executor that validates and
// runs tool calls, and a pending store for tools gated behind approval.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/vjohannesb/majordomo/pkg/backend"
)

// Handler is the function signature for tool execution
type Handler func(ctx context.Context, input map[string]interface{}) (string, error)

// Registration binds a tool definition to its handler
type Registration struct {
	Definition       backend.ToolDefinition
	Handler          Handler
	RequiresApproval bool
}

// Registry holds the registered tools. It is built once at startup and read
// concurrently afterwards.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*Registration
	schemas map[string]*gojsonschema.Schema
}

// NewRegistry creates an empty tool registry
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]*Registration),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

var validParamTypes = map[string]bool{
	"string": true, "number": true, "boolean": true,
	"object": true, "array": true, "integer": true,
}

// Register adds a tool. Duplicate names are rejected rather than replaced.
func (r *Registry) Register(reg Registration) error {
	if err := validateRegistration(reg); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := compileSchema(reg.Definition)
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", reg.Definition.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := reg.Definition.Name
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s is already registered", name)
	}

	r.tools[name] = &reg
	r.schemas[name] = schema

	log.Info().Str("tool", name).Msg("Tool registered")
	return nil
}

// Get returns the registration for name, or nil
func (r *Registry) Get(name string) *Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

func (r *Registry) schema(name string) *gojsonschema.Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.schemas[name]
}

// Definitions returns the registered tool definitions in name order, the
// shape a completion request carries.
func (r *Registry) Definitions() []backend.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]backend.ToolDefinition, 0, len(r.tools))
	for _, reg := range r.tools {
		defs = append(defs, reg.Definition)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Names returns the registered tool names in name order
func (r *Registry) Names() []string {
	defs := r.Definitions()
	names := make([]string, len(defs))
	for i, def := range defs {
		names[i] = def.Name
	}
	return names
}

// Count returns the number of registered tools
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

func validateRegistration(reg Registration) error {
	if reg.Definition.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if reg.Definition.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if reg.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	for _, param := range reg.Definition.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}
		if !validParamTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}

	return nil
}

func compileSchema(def backend.ToolDefinition) (*gojsonschema.Schema, error) {
	schemaMap := def.InputSchema()
	schemaMap["additionalProperties"] = false
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}
