// Package models defines core data types shared across ChatCaravan components.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageRole identifies the author of a conversation message.
type MessageRole string

const (
	// RoleUser marks a message sent by the WhatsApp user.
	RoleUser MessageRole = "user"
	// RoleAssistant marks a message produced by the model.
	RoleAssistant MessageRole = "assistant"
	// RoleTool marks a serialized tool result fed back into a model exchange.
	RoleTool MessageRole = "tool"
)

// IsValidMessageRole reports whether the given role is one of the known roles.
func IsValidMessageRole(r MessageRole) bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Message is one turn's worth of dialogue content. Messages are created by
// the orchestrator around a model exchange and never mutated afterwards.
// Tool messages additionally carry the originating tool name and the call
// identifier correlating them to the request that produced them.
type Message struct {
	Role       MessageRole `json:"role"`
	Content    string      `json:"content"`
	Timestamp  time.Time   `json:"timestamp"`
	ToolName   string      `json:"tool_name,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
}

// Validate checks the message for storage.
func (m *Message) Validate() error {
	if !IsValidMessageRole(m.Role) {
		return fmt.Errorf("invalid message role '%s'", m.Role)
	}
	if m.Content == "" {
		return fmt.Errorf("message content cannot be empty")
	}
	return nil
}

// ToolResult is the normalized outcome of one tool invocation. Both
// successful and failed executions use the same shape so the model can
// consume either as data.
type ToolResult struct {
	Success bool        `json:"success"`
	Result  interface{} `json:"result,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ToolSuccess creates a successful tool result with payload data.
func ToolSuccess(result interface{}) ToolResult {
	return ToolResult{Success: true, Result: result}
}

// ToolFailure creates a failed tool result with an error string.
func ToolFailure(format string, args ...interface{}) ToolResult {
	return ToolResult{Success: false, Error: fmt.Sprintf(format, args...)}
}

// JSON serializes the result for feeding back into the model exchange.
// Marshal failures degrade to a plain error object rather than panicking.
func (r ToolResult) JSON() string {
	data, err := json.Marshal(r)
	if err != nil {
		return `{"success":false,"error":"unserializable tool result"}`
	}
	return string(data)
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates a successful API operation.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates a failed API operation.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{response: APIResponse{}}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
