// Package agents defines the closed catalog of specialist agents.
//
// Each agent is a pure function of the run context: it inspects the
// message and the notes accumulated by earlier steps and decides to
// reply, invoke a tool, or hand off to another agent. Per-run state lives
// in the run trace, never in the agent.
package agents

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// Catalog names. The set is closed: an unknown handoff target is a
// programming error, validated at handoff time.
const (
	Finance   = "finance"
	Tasks     = "tasks"
	Calendar  = "calendar"
	Birthday  = "birthday"
	Knowledge = "knowledge"
	Contacts  = "contacts"
	Fallback  = "fallback"
)

// DecisionKind discriminates an agent's decision.
type DecisionKind string

const (
	// DecisionReply produces a textual answer.
	DecisionReply DecisionKind = "reply"

	// DecisionTool requests a tool invocation.
	DecisionTool DecisionKind = "tool"

	// DecisionHandoff transfers control to another agent.
	DecisionHandoff DecisionKind = "handoff"
)

// Decision is an agent's next action.
type Decision struct {
	// Kind discriminates the decision.
	Kind DecisionKind

	// Reply is the answer text (DecisionReply).
	Reply string

	// Tool is the registry name to invoke (DecisionTool).
	Tool string

	// Args is the tool input (DecisionTool).
	Args json.RawMessage

	// Target is the agent to hand off to (DecisionHandoff).
	Target string

	// Reason explains a handoff, recorded in the step trace.
	Reason string
}

// Note is the distilled result of an earlier step, injected into the
// shared run context so later agents can build on it.
type Note struct {
	// Agent produced the note.
	Agent string

	// Tool is set when the note came from a tool invocation.
	Tool string

	// Text is the result text.
	Text string

	// Failed marks notes from failed or timed-out steps.
	Failed bool
}

// Request is the conversation context an agent decides on.
type Request struct {
	// TenantID scopes every downstream read and write.
	TenantID uuid.UUID

	// Message is the inbound user message.
	Message string

	// ContextSummary is the bounded summary of prior turns.
	ContextSummary string

	// Notes are results of earlier steps in this run, oldest first.
	Notes []Note
}

// Agent is a named capability module.
type Agent interface {
	// Name returns the catalog name.
	Name() string

	// Description explains what the agent handles, for routing prompts.
	Description() string

	// Tools returns the registry names this agent may invoke.
	Tools() []string

	// Decide produces the agent's next action.
	Decide(ctx context.Context, req *Request) (*Decision, error)
}
