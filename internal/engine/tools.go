package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// ToolFunc executes one tool call. Failures are returned as errors; the
// runner converts them to error ToolResults.
type ToolFunc func(ctx context.Context, args map[string]any) (string, error)

// Tool is one registered capability. AlwaysAllow and NeverAllow are policy
// hints consumed by the approval gate; everything else must ask.
type Tool struct {
	Name        string
	Description string
	SchemaJSON  string
	Fn          ToolFunc
	AlwaysAllow bool
	NeverAllow  bool
	// Timeout bounds one execution. Zero means the runner default.
	Timeout time.Duration
}

// ValidateArgs validates the provided arguments against the tool's JSON
// schema.
func (t Tool) ValidateArgs(args map[string]any) error {
	schemaLoader := gojsonschema.NewStringLoader(t.SchemaJSON)
	documentLoader := gojsonschema.NewGoLoader(args)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		var msgs []string
		for _, err := range result.Errors() {
			msgs = append(msgs, err.String())
		}
		return &ToolValidationError{ToolName: t.Name, Errors: msgs}
	}
	return nil
}

// ToolRegistry maps tool names to implementations. New tools register here
// without touching the agent.
type ToolRegistry map[string]Tool

// Schemas returns the provider-facing schemas for all registered tools.
func (r ToolRegistry) Schemas() []ToolSchema {
	s := make([]ToolSchema, 0, len(r))
	for _, t := range r {
		s = append(s, ToolSchema{
			Name:        t.Name,
			Description: t.Description,
			JSONSchema:  t.SchemaJSON,
		})
	}
	return s
}

// Names returns the registered tool names, for error messages.
func (r ToolRegistry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	return names
}
