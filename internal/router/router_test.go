package router

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kenes-ai/kenes/internal/agents"
	"github.com/kenes-ai/kenes/internal/observability"
	"github.com/kenes-ai/kenes/internal/planner"
)

type stubAgent struct {
	name string
}

func (a *stubAgent) Name() string        { return a.name }
func (a *stubAgent) Description() string { return "handles " + a.name }
func (a *stubAgent) Tools() []string     { return nil }
func (a *stubAgent) Decide(ctx context.Context, req *agents.Request) (*agents.Decision, error) {
	return &agents.Decision{Kind: agents.DecisionReply, Reply: "ok"}, nil
}

func testCatalog(t *testing.T) *agents.Catalog {
	t.Helper()
	catalog, err := agents.NewCatalog(
		&stubAgent{name: agents.Finance},
		&stubAgent{name: agents.Tasks},
		&stubAgent{name: agents.Calendar},
		&stubAgent{name: agents.Birthday},
		&stubAgent{name: agents.Knowledge},
		&stubAgent{name: agents.Contacts},
		agents.NewFallbackAgent(),
	)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return catalog
}

func testRouter(t *testing.T, p planner.Planner) *Router {
	t.Helper()
	logger := observability.NewLogger(observability.LogConfig{Output: io.Discard})
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return New(testCatalog(t), p, logger, metrics, time.Second)
}

func classifyResult(intents ...planner.Intent) *planner.ClassifyResult {
	return &planner.ClassifyResult{Intents: intents}
}

func TestClassifyEmptyMessage(t *testing.T) {
	r := testRouter(t, &planner.Scripted{})
	if _, err := r.Classify(context.Background(), "   ", ""); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("err = %v, want ErrEmptyMessage", err)
	}
}

func TestClassifyCancelPhrases(t *testing.T) {
	r := testRouter(t, &planner.Scripted{
		ClassifyFn: func(ctx context.Context, req planner.ClassifyRequest) (*planner.ClassifyResult, error) {
			t.Fatal("planner must not be called for a cancel phrase")
			return nil, nil
		},
	})

	for _, msg := range []string{"cancel", "Cancel that.", "STOP", "отмена", "стоп", "abort!"} {
		plan, err := r.Classify(context.Background(), msg, "")
		if err != nil {
			t.Fatalf("Classify(%q): %v", msg, err)
		}
		if !plan.Cancel {
			t.Errorf("Classify(%q): Cancel = false, want true", msg)
		}
		if plan.Tier != TierSafety {
			t.Errorf("Classify(%q): Tier = %v, want TierSafety", msg, plan.Tier)
		}
	}
}

func TestClassifyCancelWordInsideSentence(t *testing.T) {
	r := testRouter(t, &planner.Scripted{
		ClassifyFn: func(ctx context.Context, req planner.ClassifyRequest) (*planner.ClassifyResult, error) {
			return classifyResult(planner.Intent{Agent: agents.Calendar, Confidence: 0.8}), nil
		},
	})

	plan, err := r.Classify(context.Background(), "stop by the office tomorrow at 3", "")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if plan.Cancel {
		t.Fatal("Cancel = true for a sentence that merely contains a cancel word")
	}
	if got := plan.Candidates[0].Agent; got != agents.Calendar {
		t.Fatalf("first candidate = %q, want calendar", got)
	}
}

func TestClassifyTransactionalBeatsInformational(t *testing.T) {
	// The classifier ranks knowledge higher, but finance is transactional
	// and must come first.
	r := testRouter(t, &planner.Scripted{
		ClassifyFn: func(ctx context.Context, req planner.ClassifyRequest) (*planner.ClassifyResult, error) {
			return classifyResult(
				planner.Intent{Agent: agents.Knowledge, Confidence: 0.95},
				planner.Intent{Agent: agents.Finance, Confidence: 0.6},
			), nil
		},
	})

	plan, err := r.Classify(context.Background(), "what did I spend and what does the doc say", "")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(plan.Candidates) != 2 {
		t.Fatalf("candidates = %d, want 2", len(plan.Candidates))
	}
	if plan.Candidates[0].Agent != agents.Finance || plan.Candidates[1].Agent != agents.Knowledge {
		t.Fatalf("order = [%s %s], want [finance knowledge]",
			plan.Candidates[0].Agent, plan.Candidates[1].Agent)
	}
	if plan.Tier != TierTransactional {
		t.Fatalf("Tier = %v, want TierTransactional", plan.Tier)
	}
}

func TestClassifyConfidenceOrdersWithinTier(t *testing.T) {
	r := testRouter(t, &planner.Scripted{
		ClassifyFn: func(ctx context.Context, req planner.ClassifyRequest) (*planner.ClassifyResult, error) {
			return classifyResult(
				planner.Intent{Agent: agents.Calendar, Confidence: 0.4},
				planner.Intent{Agent: agents.Tasks, Confidence: 0.9},
			), nil
		},
	})

	plan, err := r.Classify(context.Background(), "add a task and maybe a meeting", "")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if plan.Candidates[0].Agent != agents.Tasks {
		t.Fatalf("first candidate = %q, want tasks (higher confidence)", plan.Candidates[0].Agent)
	}
}

func TestClassifyCatalogOrderBreaksTies(t *testing.T) {
	// Equal tier, equal confidence: finance precedes calendar in the
	// catalog, so finance wins regardless of classifier output order.
	r := testRouter(t, &planner.Scripted{
		ClassifyFn: func(ctx context.Context, req planner.ClassifyRequest) (*planner.ClassifyResult, error) {
			return classifyResult(
				planner.Intent{Agent: agents.Calendar, Confidence: 0.7},
				planner.Intent{Agent: agents.Finance, Confidence: 0.7},
			), nil
		},
	})

	plan, err := r.Classify(context.Background(), "money and meetings", "")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if plan.Candidates[0].Agent != agents.Finance {
		t.Fatalf("first candidate = %q, want finance (catalog order)", plan.Candidates[0].Agent)
	}
}

func TestClassifyFiltersUnknownAndFallback(t *testing.T) {
	r := testRouter(t, &planner.Scripted{
		ClassifyFn: func(ctx context.Context, req planner.ClassifyRequest) (*planner.ClassifyResult, error) {
			return classifyResult(
				planner.Intent{Agent: "weather", Confidence: 0.9},
				planner.Intent{Agent: agents.Fallback, Confidence: 0.8},
				planner.Intent{Agent: " Contacts ", Confidence: 0.5},
				planner.Intent{Agent: agents.Contacts, Confidence: 0.5},
			), nil
		},
	})

	plan, err := r.Classify(context.Background(), "find Aigerim's number", "")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(plan.Candidates) != 1 || plan.Candidates[0].Agent != agents.Contacts {
		t.Fatalf("candidates = %+v, want exactly [contacts]", plan.Candidates)
	}
}

func TestClassifyRetriesOnceThenDegrades(t *testing.T) {
	var calls int
	var strictOnRetry bool
	r := testRouter(t, &planner.Scripted{
		ClassifyFn: func(ctx context.Context, req planner.ClassifyRequest) (*planner.ClassifyResult, error) {
			calls++
			if calls == 2 {
				strictOnRetry = req.Strict
			}
			return nil, planner.ErrUnparsable
		},
	})

	plan, err := r.Classify(context.Background(), "hello", "")
	if err != nil {
		t.Fatalf("Classify: %v (classifier failures must degrade, not error)", err)
	}
	if calls != 2 {
		t.Fatalf("classifier calls = %d, want 2 (one retry)", calls)
	}
	if !strictOnRetry {
		t.Fatal("retry was not strict")
	}
	if !plan.Degraded {
		t.Fatal("Degraded = false, want true")
	}
	if len(plan.Candidates) != 1 || plan.Candidates[0].Agent != agents.Fallback {
		t.Fatalf("candidates = %+v, want exactly [fallback]", plan.Candidates)
	}
}

func TestClassifyRetrySucceeds(t *testing.T) {
	var calls int
	r := testRouter(t, &planner.Scripted{
		ClassifyFn: func(ctx context.Context, req planner.ClassifyRequest) (*planner.ClassifyResult, error) {
			calls++
			if calls == 1 {
				return nil, planner.ErrUnparsable
			}
			return classifyResult(planner.Intent{Agent: agents.Tasks, Confidence: 0.9}), nil
		},
	})

	plan, err := r.Classify(context.Background(), "remind me to call back", "")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if plan.Degraded {
		t.Fatal("Degraded = true after a successful retry")
	}
	if plan.Candidates[0].Agent != agents.Tasks {
		t.Fatalf("first candidate = %q, want tasks", plan.Candidates[0].Agent)
	}
}

func TestClassifyEmptyResultFallsBack(t *testing.T) {
	r := testRouter(t, &planner.Scripted{
		ClassifyFn: func(ctx context.Context, req planner.ClassifyRequest) (*planner.ClassifyResult, error) {
			return classifyResult(), nil
		},
	})

	plan, err := r.Classify(context.Background(), "mmm", "")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !plan.Degraded || len(plan.Candidates) != 1 || plan.Candidates[0].Agent != agents.Fallback {
		t.Fatalf("plan = %+v, want degraded fallback plan", plan)
	}
}

func TestClassifyExcludesFallbackFromCandidates(t *testing.T) {
	r := testRouter(t, &planner.Scripted{
		ClassifyFn: func(ctx context.Context, req planner.ClassifyRequest) (*planner.ClassifyResult, error) {
			for _, c := range req.Candidates {
				if c.Name == agents.Fallback {
					t.Error("fallback offered to the classifier as a candidate")
				}
			}
			if len(req.Candidates) != 6 {
				t.Errorf("candidates = %d, want 6", len(req.Candidates))
			}
			return classifyResult(planner.Intent{Agent: agents.Finance, Confidence: 1}), nil
		},
	})
	if _, err := r.Classify(context.Background(), "balance", ""); err != nil {
		t.Fatalf("Classify: %v", err)
	}
}

func TestClassifyTimeoutApplies(t *testing.T) {
	r := testRouter(t, &planner.Scripted{
		ClassifyFn: func(ctx context.Context, req planner.ClassifyRequest) (*planner.ClassifyResult, error) {
			deadline, ok := ctx.Deadline()
			if !ok {
				return nil, errors.New("no deadline on classify context")
			}
			if time.Until(deadline) > 2*time.Second {
				return nil, errors.New("deadline too far in the future")
			}
			return classifyResult(planner.Intent{Agent: agents.Finance, Confidence: 1}), nil
		},
	})

	plan, err := r.Classify(context.Background(), "balance", "")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if plan.Degraded {
		t.Fatal("plan degraded, classify calls did not see the configured deadline")
	}
}
