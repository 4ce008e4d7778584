// Package tools implements the agent tool registry: the function
// definitions advertised to the model and the executors they dispatch to.
// Executors never return Go errors to the caller; every failure becomes a
// structured result the model can read and react to.
package tools

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/openai/openai-go"

	"github.com/CaravanDesk/ChatCaravan/internal/models"
)

// Tool is one callable function exposed to the model.
type Tool interface {
	// Name returns the function name the model calls this tool by.
	Name() string
	// Definition returns the OpenAI function definition for this tool.
	Definition() openai.ChatCompletionToolParam
	// Execute runs the tool with the raw JSON arguments from the model.
	Execute(ctx context.Context, args json.RawMessage) models.ToolResult
}

// Registry holds the registered tools and dispatches calls by name.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry creates a registry with the given tools pre-registered.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds a tool; a tool with the same name replaces the old one.
func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
	slog.Debug("Registry.Register: registered tool", "tool", t.Name())
}

// Definitions returns the tool definitions in registration order, for
// passing to the model alongside the conversation.
func (r *Registry) Definitions() []openai.ChatCompletionToolParam {
	defs := make([]openai.ChatCompletionToolParam, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Dispatch executes the named tool. An unknown name or a panicking
// executor yields a structured failure, never an error or a crash.
func (r *Registry) Dispatch(ctx context.Context, name string, args json.RawMessage) (result models.ToolResult) {
	slog.Info("Registry.Dispatch: executing tool", "tool", name, "args", string(args))

	tool, ok := r.tools[name]
	if !ok {
		slog.Warn("Registry.Dispatch: unknown tool requested", "tool", name)
		return models.ToolFailure("Unknown tool: %s", name)
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Registry.Dispatch: tool panicked", "tool", name, "panic", rec)
			result = models.ToolFailure("tool %s failed: %v", name, rec)
		}
	}()

	result = tool.Execute(ctx, args)
	slog.Info("Registry.Dispatch: tool finished", "tool", name, "success", result.Success)
	return result
}
