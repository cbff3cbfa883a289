package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kenes-ai/kenes/internal/agents"
	"github.com/kenes-ai/kenes/internal/observability"
	"github.com/kenes-ai/kenes/internal/planner"
	"github.com/kenes-ai/kenes/internal/router"
	"github.com/kenes-ai/kenes/internal/tools"
)

// memStore is an in-memory TraceStore recording every save.
type memStore struct {
	mu    sync.Mutex
	saves []AgentRun
}

func (m *memStore) SaveRun(_ context.Context, run *AgentRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves = append(m.saves, *run)
	return nil
}

// scriptedAgent returns its queued decisions in order.
type scriptedAgent struct {
	name      string
	decisions []agents.Decision
	errs      []error
	calls     int
	lastReq   *agents.Request
}

func (s *scriptedAgent) Name() string        { return s.name }
func (s *scriptedAgent) Description() string { return s.name + " test agent" }
func (s *scriptedAgent) Tools() []string     { return nil }

func (s *scriptedAgent) Decide(_ context.Context, req *agents.Request) (*agents.Decision, error) {
	s.lastReq = req
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.decisions) {
		i = len(s.decisions) - 1
	}
	d := s.decisions[i]
	return &d, nil
}

// echoInput is the schema for the test echo tool.
type echoInput struct {
	Text string `json:"text" jsonschema:"required"`
}

type echoTool struct {
	fail    bool
	sleep   time.Duration
	domErr  bool
	invoked int
}

func (e *echoTool) Name() string        { return "echo" }
func (e *echoTool) Description() string { return "echoes text back" }
func (e *echoTool) Input() any          { return echoInput{} }

func (e *echoTool) Execute(ctx context.Context, args json.RawMessage) (*tools.Result, error) {
	e.invoked++
	if e.sleep > 0 {
		select {
		case <-time.After(e.sleep):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.fail {
		return nil, errors.New("echo backend unreachable")
	}
	if e.domErr {
		return &tools.Result{Content: "echo rejected the text", IsError: true}, nil
	}
	var in echoInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	return &tools.Result{Content: "echo: " + in.Text}, nil
}

type fixture struct {
	loop  *Loop
	store *memStore
}

// singleIntent is a planner that always routes everything to one agent.
func singleIntent(agent string) planner.Planner {
	return &planner.Scripted{
		ClassifyFn: func(_ context.Context, _ planner.ClassifyRequest) (*planner.ClassifyResult, error) {
			return &planner.ClassifyResult{Intents: []planner.Intent{{Agent: agent, Confidence: 0.9}}}, nil
		},
	}
}

func newFixture(t *testing.T, p planner.Planner, cfg Config, members ...agents.Agent) *fixture {
	t.Helper()

	members = append(members, &scriptedAgent{
		name:      agents.Fallback,
		decisions: []agents.Decision{{Kind: agents.DecisionReply, Reply: "I didn't understand that. Could you rephrase?"}},
	})
	catalog, err := agents.NewCatalog(members...)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}

	logger := observability.NewLogger(observability.LogConfig{Output: io.Discard})
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	tracer, shutdown, err := observability.NewTracer(context.Background(), observability.TraceConfig{})
	if err != nil {
		t.Fatalf("NewTracer: %v", err)
	}
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	registry := tools.NewRegistry()
	store := &memStore{}
	rt := router.New(catalog, p, logger, metrics, time.Second)
	loop := NewLoop(rt, catalog, registry, store, NewCancelRegistry(), logger, metrics, tracer, cfg)
	return &fixture{loop: loop, store: store}
}

func event(msg string) InboundEvent {
	return InboundEvent{
		TenantID:        uuid.New(),
		Source:          SourceTelegram,
		Message:         msg,
		ConversationRef: "chat-1",
	}
}

func TestRunReplyCompletes(t *testing.T) {
	agent := &scriptedAgent{
		name:      "tasks",
		decisions: []agents.Decision{{Kind: agents.DecisionReply, Reply: "done"}},
	}
	f := newFixture(t, singleIntent("tasks"), Config{}, agent)

	run, err := f.loop.Run(context.Background(), event("show my tasks"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != StatusCompleted {
		t.Fatalf("status = %s, want %s", run.Status, StatusCompleted)
	}
	if run.FinalOutput != "done" {
		t.Errorf("output = %q, want %q", run.FinalOutput, "done")
	}
	if run.CompletedAt == nil {
		t.Error("CompletedAt not set on terminal run")
	}
	if len(run.Steps) != 1 || run.Steps[0].StepID != 1 {
		t.Errorf("steps = %+v, want one step with id 1", run.Steps)
	}
	if len(f.store.saves) != 2 {
		t.Errorf("trace saves = %d, want 2 (start and terminal)", len(f.store.saves))
	}
	if f.store.saves[0].Status != StatusRunning {
		t.Errorf("first save status = %s, want running", f.store.saves[0].Status)
	}
}

func TestRunToolThenReply(t *testing.T) {
	agent := &scriptedAgent{
		name: "tasks",
		decisions: []agents.Decision{
			{Kind: agents.DecisionTool, Tool: "echo", Args: json.RawMessage(`{"text":"hi"}`)},
			{Kind: agents.DecisionReply, Reply: "the tool said hi"},
		},
	}
	f := newFixture(t, singleIntent("tasks"), Config{}, agent)
	if err := f.loop.registry.Register(&echoTool{}, tools.Options{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	run, err := f.loop.Run(context.Background(), event("say hi"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", run.Status)
	}
	if len(run.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(run.Steps))
	}
	if run.Steps[0].Tool != "echo" || run.Steps[0].Status != StepSuccess {
		t.Errorf("tool step = %+v", run.Steps[0])
	}
	if run.Steps[0].Result != "echo: hi" {
		t.Errorf("tool result = %q", run.Steps[0].Result)
	}
	for i, s := range run.Steps {
		if s.StepID != i+1 {
			t.Errorf("step %d has id %d, want contiguous 1-based ids", i, s.StepID)
		}
	}
	// The tool result must be visible to the agent's second decision.
	if len(agent.lastReq.Notes) != 1 || agent.lastReq.Notes[0].Text != "echo: hi" {
		t.Errorf("notes = %+v, want the echo result", agent.lastReq.Notes)
	}
}

func TestRunCriticalToolFailureAbortsPlan(t *testing.T) {
	agent := &scriptedAgent{
		name: "finance",
		decisions: []agents.Decision{
			{Kind: agents.DecisionTool, Tool: "echo", Args: json.RawMessage(`{"text":"x"}`)},
			{Kind: agents.DecisionReply, Reply: "should never be reached"},
		},
	}
	f := newFixture(t, singleIntent("finance"), Config{}, agent)
	if err := f.loop.registry.Register(&echoTool{fail: true}, tools.Options{Critical: true}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	run, err := f.loop.Run(context.Background(), event("pay rent"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != StatusFailed {
		t.Fatalf("status = %s, want failed (no partial results)", run.Status)
	}
	if !strings.Contains(run.FinalOutput, "echo") {
		t.Errorf("output %q does not name the failed capability", run.FinalOutput)
	}
	if agent.calls != 1 {
		t.Errorf("agent decided %d times after critical failure, want 1", agent.calls)
	}
}

func TestRunNonCriticalToolFailureContinues(t *testing.T) {
	agent := &scriptedAgent{
		name: "knowledge",
		decisions: []agents.Decision{
			{Kind: agents.DecisionTool, Tool: "echo", Args: json.RawMessage(`{"text":"x"}`)},
			{Kind: agents.DecisionReply, Reply: "here is what I found elsewhere"},
		},
	}
	f := newFixture(t, singleIntent("knowledge"), Config{}, agent)
	if err := f.loop.registry.Register(&echoTool{domErr: true}, tools.Options{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	run, err := f.loop.Run(context.Background(), event("look this up"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed with degradation note", run.Status)
	}
	if !strings.Contains(run.FinalOutput, "here is what I found elsewhere") {
		t.Errorf("output %q is missing the reply", run.FinalOutput)
	}
	if !strings.Contains(run.FinalOutput, "couldn't complete") {
		t.Errorf("output %q is missing the degradation note", run.FinalOutput)
	}
	if len(agent.lastReq.Notes) != 1 || !agent.lastReq.Notes[0].Failed {
		t.Errorf("notes = %+v, want one failed note", agent.lastReq.Notes)
	}
}

func TestRunInvalidToolArgsRecorded(t *testing.T) {
	agent := &scriptedAgent{
		name: "tasks",
		decisions: []agents.Decision{
			{Kind: agents.DecisionTool, Tool: "echo", Args: json.RawMessage(`{"text":7}`)},
			{Kind: agents.DecisionReply, Reply: "never mind"},
		},
	}
	f := newFixture(t, singleIntent("tasks"), Config{}, agent)
	echo := &echoTool{}
	if err := f.loop.registry.Register(echo, tools.Options{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	run, err := f.loop.Run(context.Background(), event("echo seven"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Steps[0].Status != StepFailed {
		t.Errorf("invalid-args step status = %s, want failed", run.Steps[0].Status)
	}
	if echo.invoked != 0 {
		t.Errorf("handler invoked %d times on schema mismatch, want 0", echo.invoked)
	}
	if run.Status != StatusCompleted {
		t.Errorf("status = %s, want completed (recoverable failure)", run.Status)
	}
}

func TestRunToolTimeoutMarksStep(t *testing.T) {
	agent := &scriptedAgent{
		name: "tasks",
		decisions: []agents.Decision{
			{Kind: agents.DecisionTool, Tool: "echo", Args: json.RawMessage(`{"text":"x"}`)},
			{Kind: agents.DecisionReply, Reply: "moving on"},
		},
	}
	f := newFixture(t, singleIntent("tasks"), Config{}, agent)
	if err := f.loop.registry.Register(&echoTool{sleep: 200 * time.Millisecond}, tools.Options{Timeout: 20 * time.Millisecond}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	run, err := f.loop.Run(context.Background(), event("slow echo"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Steps[0].Status != StepTimedOut {
		t.Errorf("step status = %s, want timed_out", run.Steps[0].Status)
	}
	if run.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", run.Status)
	}
}

func TestRunHopBudgetExhaustion(t *testing.T) {
	agent := &scriptedAgent{
		name: "tasks",
		decisions: []agents.Decision{
			{Kind: agents.DecisionTool, Tool: "echo", Args: json.RawMessage(`{"text":"again"}`)},
		},
	}
	f := newFixture(t, singleIntent("tasks"), Config{MaxHops: 3}, agent)
	if err := f.loop.registry.Register(&echoTool{}, tools.Options{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	run, err := f.loop.Run(context.Background(), event("loop forever"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(run.Steps) != 3 {
		t.Errorf("steps = %d, want exactly the hop budget", len(run.Steps))
	}
	// Successful tool steps exist, so the run completes degraded rather
	// than failing outright.
	if run.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", run.Status)
	}
	if !strings.Contains(run.FinalOutput, "couldn't complete") {
		t.Errorf("output %q does not mention the unfinished work", run.FinalOutput)
	}
}

func TestRunHopBudgetWithNoResultsFails(t *testing.T) {
	agent := &scriptedAgent{
		name: "tasks",
		decisions: []agents.Decision{
			{Kind: agents.DecisionHandoff, Target: "knowledge", Reason: "ping"},
		},
	}
	other := &scriptedAgent{
		name: "knowledge",
		decisions: []agents.Decision{
			{Kind: agents.DecisionHandoff, Target: "tasks", Reason: "pong"},
		},
	}
	f := newFixture(t, singleIntent("tasks"), Config{MaxHops: 4}, agent, other)

	run, err := f.loop.Run(context.Background(), event("bounce"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != StatusFailed {
		t.Errorf("status = %s, want failed (no partial results)", run.Status)
	}
}

func TestRunCancelIntentShortCircuits(t *testing.T) {
	agent := &scriptedAgent{
		name:      "tasks",
		decisions: []agents.Decision{{Kind: agents.DecisionReply, Reply: "nope"}},
	}
	f := newFixture(t, singleIntent("tasks"), Config{}, agent)

	ev := event("stop")
	run, err := f.loop.Run(context.Background(), ev)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", run.Status)
	}
	if agent.calls != 0 {
		t.Errorf("agent dispatched on a cancel intent")
	}
	if !f.loop.Cancels().Pending(ev.TenantID, ev.ConversationRef) {
		t.Error("cancel flag not raised for the conversation")
	}
}

func TestRunConsumesPendingCancel(t *testing.T) {
	agent := &scriptedAgent{
		name:      "tasks",
		decisions: []agents.Decision{{Kind: agents.DecisionReply, Reply: "done"}},
	}
	f := newFixture(t, singleIntent("tasks"), Config{}, agent)

	ev := event("show my tasks")
	f.loop.Cancels().Request(ev.TenantID, ev.ConversationRef)

	run, err := f.loop.Run(context.Background(), ev)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", run.Status)
	}
	if agent.calls != 0 {
		t.Errorf("agent dispatched despite pending cancel")
	}
	if f.loop.Cancels().Pending(ev.TenantID, ev.ConversationRef) {
		t.Error("cancel flag not consumed")
	}
}

func TestRunClassifierFailureFallsBack(t *testing.T) {
	failing := &planner.Scripted{
		ClassifyFn: func(_ context.Context, _ planner.ClassifyRequest) (*planner.ClassifyResult, error) {
			return nil, planner.ErrUnparsable
		},
	}
	f := newFixture(t, failing, Config{})

	run, err := f.loop.Run(context.Background(), event("gibberish"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed via fallback", run.Status)
	}
	if !strings.Contains(run.FinalOutput, "rephrase") {
		t.Errorf("output = %q, want the fallback reply", run.FinalOutput)
	}
}

func TestRunUnknownHandoffTargetDegrades(t *testing.T) {
	agent := &scriptedAgent{
		name: "tasks",
		decisions: []agents.Decision{
			{Kind: agents.DecisionHandoff, Target: "nonexistent", Reason: "bug"},
		},
	}
	f := newFixture(t, singleIntent("tasks"), Config{}, agent)

	run, err := f.loop.Run(context.Background(), event("route me"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != StatusFailed {
		t.Errorf("status = %s, want failed", run.Status)
	}
	if len(run.Steps) != 1 || run.Steps[0].Status != StepFailed {
		t.Errorf("steps = %+v, want one failed handoff step", run.Steps)
	}
}

func TestRunMultiIntentComposesReplies(t *testing.T) {
	first := &scriptedAgent{
		name:      "finance",
		decisions: []agents.Decision{{Kind: agents.DecisionReply, Reply: "balance is 100"}},
	}
	second := &scriptedAgent{
		name:      "calendar",
		decisions: []agents.Decision{{Kind: agents.DecisionReply, Reply: "meeting at noon"}},
	}
	multi := &planner.Scripted{
		ClassifyFn: func(_ context.Context, _ planner.ClassifyRequest) (*planner.ClassifyResult, error) {
			return &planner.ClassifyResult{Intents: []planner.Intent{
				{Agent: "finance", Confidence: 0.9},
				{Agent: "calendar", Confidence: 0.8},
			}}, nil
		},
	}
	f := newFixture(t, multi, Config{}, first, second)

	run, err := f.loop.Run(context.Background(), event("balance and next meeting"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", run.Status)
	}
	if !strings.Contains(run.FinalOutput, "balance is 100") || !strings.Contains(run.FinalOutput, "meeting at noon") {
		t.Errorf("output = %q, want both replies composed", run.FinalOutput)
	}
	if len(run.Steps) != 2 {
		t.Errorf("steps = %d, want 2", len(run.Steps))
	}
}

// deadlineAgent replies immediately and records whether its context
// carried a deadline, and how far away it was.
type deadlineAgent struct {
	hasDeadline bool
	remaining   time.Duration
}

func (d *deadlineAgent) Name() string        { return "tasks" }
func (d *deadlineAgent) Description() string { return "deadline recording agent" }
func (d *deadlineAgent) Tools() []string     { return nil }

func (d *deadlineAgent) Decide(ctx context.Context, _ *agents.Request) (*agents.Decision, error) {
	if dl, ok := ctx.Deadline(); ok {
		d.hasDeadline = true
		d.remaining = time.Until(dl)
	}
	return &agents.Decision{Kind: agents.DecisionReply, Reply: "ok"}, nil
}

func TestRunBoundsEveryAgentDecision(t *testing.T) {
	agent := &deadlineAgent{}
	f := newFixture(t, singleIntent("tasks"), Config{ThinkTimeout: 5 * time.Second}, agent)

	run, err := f.loop.Run(context.Background(), event("show my tasks"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", run.Status)
	}
	if !agent.hasDeadline {
		t.Fatal("agent decision executed with no deadline")
	}
	if agent.remaining > 5*time.Second {
		t.Errorf("deadline %v away, want at most the configured 5s", agent.remaining)
	}
}

func TestRunContractViolations(t *testing.T) {
	f := newFixture(t, singleIntent("tasks"), Config{}, &scriptedAgent{
		name:      "tasks",
		decisions: []agents.Decision{{Kind: agents.DecisionReply, Reply: "ok"}},
	})

	if _, err := f.loop.Run(context.Background(), event("   ")); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("blank message: err = %v, want ErrEmptyMessage", err)
	}

	ev := event("hello")
	ev.TenantID = uuid.Nil
	if _, err := f.loop.Run(context.Background(), ev); !errors.Is(err, ErrMissingTenant) {
		t.Errorf("missing tenant: err = %v, want ErrMissingTenant", err)
	}
}
