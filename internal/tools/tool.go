// Package tools implements the tool registry and dispatch layer.
//
// Every tool declares a JSON-schema input contract (generated from its Go
// input struct), a timeout, and whether it is critical and/or committing.
// Dispatch validates arguments before the handler runs and enforces the
// per-tool deadline, so the execution loop can treat a tool invocation as
// an at-most-once, bounded operation.
package tools

import (
	"context"
	"encoding/json"
	"time"
)

// Tool is a deterministic, schema-typed function an agent may invoke.
type Tool interface {
	// Name returns the tool's registry name.
	Name() string

	// Description explains what the tool does, for planner prompts.
	Description() string

	// Input returns a zero value of the tool's input struct. The registry
	// derives and compiles the JSON schema from it at registration time.
	Input() any

	// Execute runs the tool with validated arguments. Domain-level errors
	// ("contact not found") are reported via Result.IsError, not via the
	// error return, which is reserved for infrastructure failures.
	Execute(ctx context.Context, args json.RawMessage) (*Result, error)
}

// Result is a tool's output.
type Result struct {
	// Content is the textual result injected into the run context.
	Content string `json:"content"`

	// IsError marks a domain failure (recoverable, never aborts the run
	// unless the tool is registered as critical).
	IsError bool `json:"is_error,omitempty"`
}

// Options declares a tool's dispatch policy.
type Options struct {
	// Timeout bounds a single invocation. Zero means the registry default.
	Timeout time.Duration

	// Critical tools abort the remainder of the plan on failure or timeout.
	Critical bool

	// Committing tools have external side effects (send a message, move
	// money) and are not safe to retry. Callers must have obtained explicit
	// confirmation in conversation before invoking one; the runtime
	// documents but does not enforce this obligation.
	Committing bool
}

// Descriptor is the planner-facing summary of a registered tool.
type Descriptor struct {
	// Name is the registry name.
	Name string `json:"name"`

	// Description explains the tool.
	Description string `json:"description"`

	// Schema is the JSON-schema input contract.
	Schema json.RawMessage `json:"schema"`
}
