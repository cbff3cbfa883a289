// Package planner abstracts the non-deterministic reasoning backend the
// router and agents rely on. The execution loop's invariants never depend
// on which backend is plugged in: any implementation of Planner can drive
// classification and agent decisions.
package planner

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrUnparsable is returned when the backend produced output that does not
// match the requested structure. Callers retry once with Strict set and
// then degrade; they never abort a run on this error.
var ErrUnparsable = errors.New("planner returned unparsable structure")

// CandidateAgent describes one routable agent for classification.
type CandidateAgent struct {
	// Name is the agent's catalog name.
	Name string `json:"name"`

	// Description explains what the agent handles.
	Description string `json:"description"`
}

// ClassifyRequest asks the backend to rank agents for a message.
type ClassifyRequest struct {
	// Message is the inbound user message.
	Message string

	// ContextSummary is the bounded summary of prior conversation turns.
	ContextSummary string

	// Candidates are the routable agents.
	Candidates []CandidateAgent

	// Strict requests a schema-only response with no prose. Set on the
	// retry after an unparsable first attempt.
	Strict bool
}

// Intent is one ranked classification result.
type Intent struct {
	// Agent is the catalog name of the proposed agent.
	Agent string `json:"agent"`

	// Confidence is the backend's confidence in [0, 1].
	Confidence float64 `json:"confidence"`
}

// ClassifyResult is the ordered multi-intent classification.
type ClassifyResult struct {
	// Intents is ordered most-relevant first. Multi-intent input yields
	// several entries, consumed by the loop as a handoff plan.
	Intents []Intent `json:"intents"`
}

// ToolDescriptor describes an available tool to the backend.
type ToolDescriptor struct {
	// Name is the registry name.
	Name string `json:"name"`

	// Description explains the tool.
	Description string `json:"description"`

	// Schema is the JSON-schema input contract.
	Schema json.RawMessage `json:"schema"`
}

// ThinkRequest asks the backend for an agent's next action.
type ThinkRequest struct {
	// Agent is the deciding agent's name.
	Agent string

	// SystemPrompt is the agent's role prompt.
	SystemPrompt string

	// Message is the inbound user message.
	Message string

	// ContextSummary is the bounded prior-conversation summary.
	ContextSummary string

	// Notes are results of earlier steps in this run, oldest first.
	Notes []string

	// Tools are the tools this agent may call.
	Tools []ToolDescriptor

	// Handoffs are agent names this agent may hand off to.
	Handoffs []string
}

// Action is the kind of decision an agent can make.
type Action string

const (
	// ActionReply produces a textual answer.
	ActionReply Action = "reply"

	// ActionTool invokes a tool.
	ActionTool Action = "tool"

	// ActionHandoff transfers control to another agent.
	ActionHandoff Action = "handoff"
)

// Decision is the backend's structured next-action for an agent.
type Decision struct {
	Action Action          `json:"action"`
	Reply  string          `json:"reply,omitempty"`
	Tool   string          `json:"tool,omitempty"`
	Args   json.RawMessage `json:"args,omitempty"`
	Target string          `json:"target,omitempty"`
	Reason string          `json:"reason,omitempty"`
}

// Planner is the capability-typed reasoning dependency.
type Planner interface {
	// Classify ranks candidate agents for an inbound message.
	Classify(ctx context.Context, req ClassifyRequest) (*ClassifyResult, error)

	// Think produces an agent's next action.
	Think(ctx context.Context, req ThinkRequest) (*Decision, error)
}

// Scripted is a deterministic Planner for tests and the local dev mode.
// Unset functions return zero-value results.
type Scripted struct {
	// ClassifyFn handles Classify calls.
	ClassifyFn func(ctx context.Context, req ClassifyRequest) (*ClassifyResult, error)

	// ThinkFn handles Think calls.
	ThinkFn func(ctx context.Context, req ThinkRequest) (*Decision, error)
}

// Classify implements Planner.
func (s *Scripted) Classify(ctx context.Context, req ClassifyRequest) (*ClassifyResult, error) {
	if s.ClassifyFn == nil {
		return &ClassifyResult{}, nil
	}
	return s.ClassifyFn(ctx, req)
}

// Think implements Planner.
func (s *Scripted) Think(ctx context.Context, req ThinkRequest) (*Decision, error) {
	if s.ThinkFn == nil {
		return &Decision{Action: ActionReply, Reply: ""}, nil
	}
	return s.ThinkFn(ctx, req)
}
