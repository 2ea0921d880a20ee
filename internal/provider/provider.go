// Package provider abstracts the language model behind a single Generate
// call. The engine sees role-tagged turns in and either a tool-invocation
// request or final text out, plus token counters; everything else about the
// provider is an implementation detail of the concrete client.
package provider

import (
	"context"
	"errors"
)

// Role tags a conversation turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	// RoleSystem carries the agent's system prompt. At most one system turn
	// appears, first in the slice; concrete clients map it to whatever
	// system-instruction mechanism their API has.
	RoleSystem Role = "system"
)

// ToolCall is a model request to invoke a named tool.
type ToolCall struct {
	Name string
	Args map[string]any
}

// ToolResponse is the synthetic turn carrying a tool's result back to the
// model.
type ToolResponse struct {
	Name   string
	Result string
}

// Turn is one role-tagged element of the running context. Exactly one of
// Text, ToolCall, or ToolResponse is set.
type Turn struct {
	Role         Role
	Text         string
	ToolCall     *ToolCall
	ToolResponse *ToolResponse
}

// ParamSpec describes one tool parameter.
type ParamSpec struct {
	Type        string
	Description string
}

// ToolSchema declares a tool to the model.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]ParamSpec
	Required    []string
}

// Completion is one model response: either a tool call request or final
// text, with the call's token usage.
type Completion struct {
	// ToolCall is non-nil when the model requests a tool invocation.
	ToolCall *ToolCall
	// Text is the final answer when ToolCall is nil. Both empty means the
	// response shape was unrecognized; the loop exits without success.
	Text string

	InputTokens  int
	OutputTokens int
}

// ModelProvider is the remote model call.
type ModelProvider interface {
	Generate(ctx context.Context, model string, turns []Turn, tools []ToolSchema) (*Completion, error)
}

// Structural validation failures of a provider response. An empty structure
// usually signals quota exhaustion upstream; the message texts deliberately
// carry the substrings the classifier maps to the empty-response category.
var (
	ErrNoCandidates = errors.New("provider: model response contained no candidates (candidates cannot both be empty and valid)")
	ErrEmptyContent = errors.New("provider: candidate content is empty (response must contain content)")
	ErrEmptyParts   = errors.New("provider: candidate content has no parts (response must contain parts)")
)
