package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kenes-ai/kenes/internal/agents"
	"github.com/kenes-ai/kenes/internal/observability"
	"github.com/kenes-ai/kenes/internal/router"
	"github.com/kenes-ai/kenes/internal/tools"
)

// TraceStore persists run traces. The loop writes the run once when it
// starts and once more when it reaches a terminal status; queries go
// through the trace package.
type TraceStore interface {
	SaveRun(ctx context.Context, run *AgentRun) error
}

// Config tunes loop execution. Zero values fall back to defaults.
type Config struct {
	// MaxHops bounds the number of agent decisions per run.
	MaxHops int

	// ThinkTimeout bounds a single agent decision. Tool invocations carry
	// their own registry deadline; this one covers the planner call a
	// decision makes, so a hung backend cannot pin the run forever.
	ThinkTimeout time.Duration
}

// DefaultMaxHops is the per-run hop budget.
const DefaultMaxHops = 10

// DefaultThinkTimeout bounds a single agent decision.
const DefaultThinkTimeout = 30 * time.Second

// Loop coordinates a run: classification, agent dispatch, tool
// invocation, cancellation checks and trace persistence. It is safe for
// concurrent use; per-run state lives entirely in the AgentRun.
type Loop struct {
	router       *router.Router
	catalog      *agents.Catalog
	registry     *tools.Registry
	store        TraceStore
	cancels      *CancelRegistry
	logger       *observability.Logger
	metrics      *observability.Metrics
	tracer       *observability.Tracer
	maxHops      int
	thinkTimeout time.Duration

	now func() time.Time
}

// NewLoop wires a loop.
func NewLoop(r *router.Router, catalog *agents.Catalog, registry *tools.Registry, store TraceStore, cancels *CancelRegistry, logger *observability.Logger, metrics *observability.Metrics, tracer *observability.Tracer, cfg Config) *Loop {
	maxHops := cfg.MaxHops
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	thinkTimeout := cfg.ThinkTimeout
	if thinkTimeout <= 0 {
		thinkTimeout = DefaultThinkTimeout
	}
	return &Loop{
		router:       r,
		catalog:      catalog,
		registry:     registry,
		store:        store,
		cancels:      cancels,
		logger:       logger,
		metrics:      metrics,
		tracer:       tracer,
		maxHops:      maxHops,
		thinkTimeout: thinkTimeout,
		now:          time.Now,
	}
}

// Cancels exposes the cancellation registry so the gateway can raise
// flags for out-of-band cancel requests.
func (l *Loop) Cancels() *CancelRegistry { return l.cancels }

// Run executes one inbound event end to end and returns the finished run.
// The returned run is terminal even on error paths that occur after the
// run was admitted; only contract violations (empty message, missing
// tenant) and trace-store failures return a nil run.
func (l *Loop) Run(ctx context.Context, ev InboundEvent) (*AgentRun, error) {
	if ev.TenantID == uuid.Nil {
		return nil, ErrMissingTenant
	}
	if strings.TrimSpace(ev.Message) == "" {
		return nil, ErrEmptyMessage
	}

	run := NewRun(ev, l.now())

	ctx = observability.WithTraceID(ctx, run.TraceID)
	ctx = observability.WithTenantID(ctx, ev.TenantID.String())
	ctx = observability.WithSource(ctx, string(ev.Source))

	ctx, span := l.tracer.Start(ctx, "runtime.run",
		attribute.String("run.trace_id", run.TraceID),
		attribute.String("run.source", string(ev.Source)),
	)
	defer span.End()

	if err := l.store.SaveRun(ctx, run); err != nil {
		observability.RecordError(span, err)
		return nil, fmt.Errorf("persist run %s: %w", run.TraceID, err)
	}

	l.metrics.ActiveRuns.Inc()
	defer l.metrics.ActiveRuns.Dec()

	l.logger.Info(ctx, "run started", "message_len", len(ev.Message))

	l.execute(ctx, run, ev)

	if err := l.store.SaveRun(ctx, run); err != nil {
		observability.RecordError(span, err)
		return nil, fmt.Errorf("persist run %s: %w", run.TraceID, err)
	}

	l.metrics.RunCounter.WithLabelValues(string(run.Source), string(run.Status)).Inc()
	l.metrics.RunDuration.WithLabelValues(string(run.Source)).Observe(l.now().Sub(run.StartedAt).Seconds())
	span.SetAttributes(
		attribute.String("run.status", string(run.Status)),
		attribute.Int("run.steps", len(run.Steps)),
	)
	l.logger.Info(ctx, "run finished", "status", string(run.Status), "steps", len(run.Steps))
	return run, nil
}

// execute drives the run to a terminal status. It never returns an
// error; every failure mode maps to a terminal run status.
func (l *Loop) execute(ctx context.Context, run *AgentRun, ev InboundEvent) {
	plan, err := l.router.Classify(ctx, ev.Message, ev.ContextSummary)
	if err != nil {
		// Only contract violations reach here; classifier failures
		// already degraded to a fallback plan inside the router.
		l.finish(ctx, run, StatusFailed, "Sorry, I could not process that message.")
		return
	}

	if plan.Cancel {
		l.cancels.Request(ev.TenantID, ev.ConversationRef)
		l.finish(ctx, run, StatusCompleted, "Okay, I've cancelled the pending request.")
		return
	}

	active, queue := l.nextAgent(plan.Candidates)
	if active == nil {
		l.finish(ctx, run, StatusFailed, "Sorry, I could not route that message.")
		return
	}

	var notes []agents.Note
	var replies []string
	var failedCaps []string
	hops := 0

	for {
		if l.cancels.Consume(ev.TenantID, ev.ConversationRef) {
			l.finish(ctx, run, StatusCancelled, "Cancelled.")
			return
		}
		if ctx.Err() != nil {
			l.finish(ctx, run, StatusFailed, "The request was interrupted before it finished.")
			return
		}
		if hops >= l.maxHops {
			l.exhausted(ctx, run, replies, failedCaps)
			return
		}
		hops++

		decision, err := l.decide(ctx, run, active, ev, notes)
		if err != nil {
			// The agent itself failed (planner error). Record the
			// capability as degraded and move on to the next intent.
			failedCaps = append(failedCaps, active.Name())
			if active, queue = l.nextAgent(queue); active == nil {
				l.degraded(ctx, run, replies, failedCaps)
				return
			}
			continue
		}

		switch decision.Kind {
		case agents.DecisionReply:
			replies = append(replies, decision.Reply)
			if active, queue = l.nextAgent(queue); active == nil {
				l.conclude(ctx, run, replies, failedCaps)
				return
			}

		case agents.DecisionTool:
			note, critical := l.invokeTool(ctx, run, active, decision)
			notes = append(notes, note)
			if note.Failed {
				failedCaps = append(failedCaps, decision.Tool)
				if critical {
					// A critical tool failure aborts the rest of the
					// plan. Report what was done and what was not.
					l.degraded(ctx, run, replies, failedCaps)
					return
				}
			}
			// The same agent decides again with the tool result in view.

		case agents.DecisionHandoff:
			target, ok := l.catalog.Get(decision.Target)
			if !ok {
				// Closed catalog: an unknown target is an agent bug,
				// not a user error. Degrade instead of crashing.
				l.recordStep(run, Step{
					Agent:  active.Name(),
					Result: fmt.Sprintf("handoff to unknown agent %q rejected", decision.Target),
					Status: StepFailed,
				}, 0)
				failedCaps = append(failedCaps, active.Name())
				if active, queue = l.nextAgent(queue); active == nil {
					l.degraded(ctx, run, replies, failedCaps)
					return
				}
				continue
			}
			l.recordStep(run, Step{
				Agent:  active.Name(),
				Result: "handoff to " + decision.Target + ": " + decision.Reason,
				Status: StepSuccess,
			}, 0)
			active = target
		}
	}
}

// decide runs one agent decision as a traced hop. Reply decisions are
// recorded as successful steps here; tool and handoff steps are recorded
// by their handlers with richer detail.
func (l *Loop) decide(ctx context.Context, run *AgentRun, agent agents.Agent, ev InboundEvent, notes []agents.Note) (*agents.Decision, error) {
	ctx, span := l.tracer.Start(ctx, "runtime.decide",
		attribute.String("agent.name", agent.Name()),
	)
	defer span.End()

	// The planner call behind Decide gets the same fixed-deadline
	// treatment as tool invocations and classification.
	ctx, cancel := context.WithTimeout(ctx, l.thinkTimeout)
	defer cancel()

	start := l.now()
	decision, err := agent.Decide(ctx, &agents.Request{
		TenantID:       ev.TenantID,
		Message:        ev.Message,
		ContextSummary: ev.ContextSummary,
		Notes:          notes,
	})
	elapsed := l.now().Sub(start)

	if err != nil {
		observability.RecordError(span, err)
		l.logger.Warn(ctx, "agent decision failed", "agent", agent.Name(), "error", err.Error())
		l.recordStep(run, Step{
			Agent:  agent.Name(),
			Result: "decision failed: " + err.Error(),
			Status: StepFailed,
		}, elapsed)
		return nil, err
	}

	if decision.Kind == agents.DecisionReply {
		l.recordStep(run, Step{
			Agent:  agent.Name(),
			Result: decision.Reply,
			Status: StepSuccess,
		}, elapsed)
	}
	return decision, nil
}

// invokeTool dispatches a tool decision through the registry and records
// the step. It returns the note for later agents and whether the failure,
// if any, came from a critical tool.
func (l *Loop) invokeTool(ctx context.Context, run *AgentRun, agent agents.Agent, decision *agents.Decision) (agents.Note, bool) {
	ctx, span := l.tracer.Start(ctx, "runtime.tool",
		attribute.String("agent.name", agent.Name()),
		attribute.String("tool.name", decision.Tool),
	)
	defer span.End()

	opts, _ := l.registry.Options(decision.Tool)
	start := l.now()
	result, err := l.registry.Invoke(ctx, decision.Tool, decision.Args)
	elapsed := l.now().Sub(start)
	l.metrics.ToolDuration.WithLabelValues(decision.Tool).Observe(elapsed.Seconds())

	step := Step{
		Agent: agent.Name(),
		Tool:  decision.Tool,
		Args:  decision.Args,
	}
	note := agents.Note{Agent: agent.Name(), Tool: decision.Tool}

	switch {
	case tools.IsTimeout(err):
		step.Status = StepTimedOut
		step.Result = err.Error()
		note.Failed = true
		note.Text = fmt.Sprintf("%s did not respond within %s", decision.Tool, opts.Timeout)
	case tools.IsInvalidArgs(err):
		step.Status = StepFailed
		step.Result = err.Error()
		note.Failed = true
		note.Text = err.Error()
	case err != nil:
		step.Status = StepFailed
		step.Result = err.Error()
		note.Failed = true
		note.Text = decision.Tool + " failed: " + err.Error()
	case result.IsError:
		step.Status = StepFailed
		step.Result = result.Content
		note.Failed = true
		note.Text = result.Content
	default:
		step.Status = StepSuccess
		step.Result = result.Content
		note.Text = result.Content
	}

	if note.Failed {
		observability.RecordError(span, fmt.Errorf("tool %s: %s", decision.Tool, step.Result))
		l.logger.Warn(ctx, "tool invocation failed",
			"agent", agent.Name(), "tool", decision.Tool, "status", string(step.Status))
	}
	span.SetAttributes(attribute.String("tool.status", string(step.Status)))

	l.recordStep(run, step, elapsed)
	return note, note.Failed && opts.Critical
}

// recordStep appends a step and bumps the step metric. Append failures
// indicate a terminal run, which execute never allows here.
func (l *Loop) recordStep(run *AgentRun, step Step, elapsed time.Duration) {
	step.DurationMS = elapsed.Milliseconds()
	if err := run.AppendStep(step); err != nil {
		return
	}
	l.metrics.StepCounter.WithLabelValues(step.Agent, step.Tool, string(step.Status)).Inc()
}

// nextAgent pops the next routable candidate from the plan queue.
func (l *Loop) nextAgent(queue []router.Candidate) (agents.Agent, []router.Candidate) {
	for len(queue) > 0 {
		name := queue[0].Agent
		queue = queue[1:]
		if a, ok := l.catalog.Get(name); ok {
			return a, queue
		}
	}
	return nil, nil
}

// conclude finishes a run whose plan completed. Partial failures along
// the way annotate the composed reply but do not demote the run status.
func (l *Loop) conclude(ctx context.Context, run *AgentRun, replies, failedCaps []string) {
	output := strings.Join(replies, "\n\n")
	if len(failedCaps) > 0 {
		output = appendDegradation(output, failedCaps)
	}
	l.finish(ctx, run, StatusCompleted, output)
}

// degraded finishes a run whose plan was cut short by failures. With at
// least one gathered result the run still completes, carrying a note
// about what could not be done; with none it fails.
func (l *Loop) degraded(ctx context.Context, run *AgentRun, replies, failedCaps []string) {
	if len(replies) > 0 || hasSuccessfulToolStep(run) {
		output := appendDegradation(strings.Join(replies, "\n\n"), failedCaps)
		l.finish(ctx, run, StatusCompleted, output)
		return
	}
	l.finish(ctx, run, StatusFailed, appendDegradation("", failedCaps))
}

// exhausted handles hop budget exhaustion.
func (l *Loop) exhausted(ctx context.Context, run *AgentRun, replies, failedCaps []string) {
	err := &HopBudgetError{TraceID: run.TraceID, MaxHops: l.maxHops}
	l.logger.Warn(ctx, "hop budget exhausted", "max_hops", l.maxHops)
	if len(replies) > 0 || hasSuccessfulToolStep(run) {
		output := strings.Join(replies, "\n\n")
		output = appendDegradation(output, append(failedCaps, "remaining steps"))
		l.finish(ctx, run, StatusCompleted, output)
		return
	}
	l.finish(ctx, run, StatusFailed, "I could not finish that request: "+err.Error())
}

func (l *Loop) finish(ctx context.Context, run *AgentRun, status Status, output string) {
	if err := run.Finish(status, output, l.now()); err != nil {
		l.logger.Error(ctx, "terminal transition rejected", "error", err.Error())
	}
}

// appendDegradation names the capabilities that were unavailable so the
// user knows what part of the answer is missing.
func appendDegradation(output string, failedCaps []string) string {
	seen := make(map[string]bool)
	var caps []string
	for _, c := range failedCaps {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		caps = append(caps, c)
	}
	note := "I couldn't complete the following: " + strings.Join(caps, ", ") + ". The rest of this answer is unaffected."
	if output == "" {
		return note
	}
	return output + "\n\n" + note
}

func hasSuccessfulToolStep(run *AgentRun) bool {
	for _, s := range run.Steps {
		if s.Tool != "" && s.Status == StepSuccess {
			return true
		}
	}
	return false
}
