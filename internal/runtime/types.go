// Package runtime implements the agent orchestration loop: the bounded
// hop sequence between the router, specialist agents and tools, together
// with the per-run execution trace.
//
// A run's trace is append-only while the run is live and immutable once
// a terminal status is recorded. The loop instance itself is stateless
// across runs; all per-run state lives in the AgentRun record.
package runtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Source identifies the inbound channel of a run.
type Source string

const (
	SourceWhatsApp  Source = "whatsapp"
	SourceTelegram  Source = "telegram"
	SourceWeb       Source = "web"
	SourceScheduler Source = "system-scheduler"
)

// Status is a run's lifecycle state. Transitions are monotonic:
// running → {completed, failed, cancelled}, nothing after that.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// StepStatus is the outcome of one hop.
type StepStatus string

const (
	StepSuccess  StepStatus = "success"
	StepFailed   StepStatus = "failed"
	StepTimedOut StepStatus = "timed_out"
)

// InboundEvent is the gateway-facing contract for one channel event.
type InboundEvent struct {
	// TenantID scopes the run; every downstream read/write carries it.
	TenantID uuid.UUID `json:"tenant_id"`

	// Source is the originating channel.
	Source Source `json:"source"`

	// DedupeKey is the channel-supplied identifier used for at-most-once
	// processing. Empty for scheduler-originated runs, which carry their
	// own occurrence-level guarantee.
	DedupeKey string `json:"dedupe_key,omitempty"`

	// Message is the natural-language request.
	Message string `json:"message"`

	// ContextSummary is the bounded summary of prior conversation turns.
	ContextSummary string `json:"context_summary,omitempty"`

	// ConversationRef identifies the conversation for cancellation flags.
	ConversationRef string `json:"conversation_ref,omitempty"`
}

// RunInput is the persisted input of a run.
type RunInput struct {
	Message        string `json:"message"`
	ContextSummary string `json:"context_summary,omitempty"`
}

// Step is one hop inside a run. step_id is 1-based and contiguous.
type Step struct {
	StepID     int             `json:"step_id"`
	Agent      string          `json:"agent"`
	Tool       string          `json:"tool,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     string          `json:"result,omitempty"`
	Status     StepStatus      `json:"status"`
	DurationMS int64           `json:"duration_ms"`
}

// AgentRun is one execution of the loop for one inbound event.
type AgentRun struct {
	TraceID         string     `json:"trace_id"`
	TenantID        uuid.UUID  `json:"tenant_id"`
	Source          Source     `json:"source"`
	ConversationRef string     `json:"conversation_ref,omitempty"`
	Input           RunInput   `json:"input"`
	Steps           []Step     `json:"steps"`
	Status          Status     `json:"status"`
	FinalOutput     string     `json:"final_output,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// NewRun creates a running AgentRun for an inbound event.
func NewRun(ev InboundEvent, now time.Time) *AgentRun {
	return &AgentRun{
		TraceID:         uuid.NewString(),
		TenantID:        ev.TenantID,
		Source:          ev.Source,
		ConversationRef: ev.ConversationRef,
		Input: RunInput{
			Message:        ev.Message,
			ContextSummary: ev.ContextSummary,
		},
		Status:    StatusRunning,
		StartedAt: now,
	}
}

// AppendStep records a hop. It refuses to append once the run is
// terminal, which keeps the "no steps after a terminal status" invariant
// even against buggy callers.
func (r *AgentRun) AppendStep(step Step) error {
	if r.Status.Terminal() {
		return fmt.Errorf("run %s is %s: cannot append step", r.TraceID, r.Status)
	}
	step.StepID = len(r.Steps) + 1
	r.Steps = append(r.Steps, step)
	return nil
}

// Finish records the terminal status and final output. A second terminal
// transition is rejected: the first one wins.
func (r *AgentRun) Finish(status Status, output string, now time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("run %s: %s is not a terminal status", r.TraceID, status)
	}
	if r.Status.Terminal() {
		return fmt.Errorf("run %s is already %s", r.TraceID, r.Status)
	}
	r.Status = status
	r.FinalOutput = output
	completed := now
	r.CompletedAt = &completed
	return nil
}
