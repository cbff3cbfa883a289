// Package router implements the classification step in front of the
// execution loop. It ranks catalog agents for an inbound message using a
// three-tier priority policy: safety/cancellation intents short-circuit
// everything, transactional intents beat informational ones, and ties
// inside a tier break on confidence and then on stable catalog order.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kenes-ai/kenes/internal/agents"
	"github.com/kenes-ai/kenes/internal/observability"
	"github.com/kenes-ai/kenes/internal/planner"
)

// ErrEmptyMessage is returned for blank input; the contract requires a
// non-empty message.
var ErrEmptyMessage = errors.New("router: empty message")

// Tier is the priority tier of a plan.
type Tier int

const (
	// TierSafety covers cancellation and stop intents. They bypass agent
	// dispatch entirely.
	TierSafety Tier = iota

	// TierTransactional covers intents that will call side-effecting
	// tools (finance, calendar, tasks).
	TierTransactional

	// TierInformational covers lookups and idea capture.
	TierInformational
)

// tierOf maps catalog agents to their priority tier.
func tierOf(agent string) Tier {
	switch agent {
	case agents.Finance, agents.Calendar, agents.Tasks:
		return TierTransactional
	default:
		return TierInformational
	}
}

// Candidate is one ranked routing target.
type Candidate struct {
	// Agent is the catalog name.
	Agent string

	// Confidence is the classifier's confidence in [0, 1].
	Confidence float64
}

// Plan is the ordered routing decision the loop consumes. Multi-intent
// input yields several candidates, treated as a handoff plan.
type Plan struct {
	// Cancel marks a safety intent; the loop routes it straight to the
	// cancellation handler and never dispatches agents.
	Cancel bool

	// Tier is the plan's leading priority tier.
	Tier Tier

	// Candidates are ordered by (tier, confidence desc, catalog order).
	Candidates []Candidate

	// Degraded marks a plan produced by the fallback path after
	// classification failed twice.
	Degraded bool
}

// ClassificationError records a failed classification attempt for the
// trace layer. It never propagates out of Classify: after the retry the
// router degrades to the fallback agent instead.
type ClassificationError struct {
	// Attempts is how many attempts were made.
	Attempts int

	// Err is the final attempt's error.
	Err error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// cancelPhrases short-circuit to the safety tier without a planner call.
// Matching is whole-message with light trimming, so "stop" cancels but
// "stop by the office tomorrow" routes normally.
var cancelPhrases = []string{
	"stop", "cancel", "cancel that", "cancel last action", "abort",
	"стоп", "отмена", "отмени", "отмени последнее",
}

// Router classifies inbound messages into ordered agent plans.
type Router struct {
	catalog *agents.Catalog
	planner planner.Planner
	logger  *observability.Logger
	metrics *observability.Metrics

	// timeout bounds a single classification call; it sits on the
	// critical path to first byte, so it is shorter than tool deadlines.
	timeout time.Duration
}

// New creates a router.
func New(catalog *agents.Catalog, p planner.Planner, logger *observability.Logger, metrics *observability.Metrics, timeout time.Duration) *Router {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Router{catalog: catalog, planner: p, logger: logger, metrics: metrics, timeout: timeout}
}

// Classify produces a routing plan for the message. Classifier failures
// degrade to the fallback agent; the only error cases are contract
// violations (empty message).
func (r *Router) Classify(ctx context.Context, message, contextSummary string) (*Plan, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}

	if isCancelIntent(message) {
		return &Plan{Cancel: true, Tier: TierSafety}, nil
	}

	candidates := r.candidateAgents()

	result, err := r.classifyOnce(ctx, message, contextSummary, candidates, false)
	if err != nil {
		r.metrics.ClassifyRetries.Inc()
		r.logger.Warn(ctx, "classification retry", "error", err.Error())

		result, err = r.classifyOnce(ctx, message, contextSummary, candidates, true)
		if err != nil {
			cerr := &ClassificationError{Attempts: 2, Err: err}
			r.metrics.ClassifyFallbacks.Inc()
			r.logger.Warn(ctx, "classification degraded to fallback", "error", cerr.Error())
			return &Plan{
				Tier:       TierInformational,
				Candidates: []Candidate{{Agent: agents.Fallback, Confidence: 0}},
				Degraded:   true,
			}, nil
		}
	}

	plan := r.rank(result)
	if len(plan.Candidates) == 0 {
		plan.Candidates = []Candidate{{Agent: agents.Fallback, Confidence: 0}}
		plan.Degraded = true
	}
	return plan, nil
}

func (r *Router) classifyOnce(ctx context.Context, message, summary string, candidates []planner.CandidateAgent, strict bool) (*planner.ClassifyResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	return r.planner.Classify(ctx, planner.ClassifyRequest{
		Message:        message,
		ContextSummary: summary,
		Candidates:     candidates,
		Strict:         strict,
	})
}

// candidateAgents lists routable agents (everything but the fallback).
func (r *Router) candidateAgents() []planner.CandidateAgent {
	var out []planner.CandidateAgent
	for _, name := range r.catalog.Names() {
		if name == agents.Fallback {
			continue
		}
		a, _ := r.catalog.Get(name)
		out = append(out, planner.CandidateAgent{Name: name, Description: a.Description()})
	}
	return out
}

// rank filters unknown agents, dedupes, and orders candidates by
// (tier, confidence desc, catalog order). Catalog order is the
// deterministic tie-break for reproducible traces.
func (r *Router) rank(result *planner.ClassifyResult) *Plan {
	seen := make(map[string]bool)
	var ranked []Candidate
	for _, intent := range result.Intents {
		name := strings.ToLower(strings.TrimSpace(intent.Agent))
		if name == agents.Fallback || !r.catalog.Has(name) || seen[name] {
			continue
		}
		seen[name] = true
		ranked = append(ranked, Candidate{Agent: name, Confidence: intent.Confidence})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		ti, tj := tierOf(ranked[i].Agent), tierOf(ranked[j].Agent)
		if ti != tj {
			return ti < tj
		}
		if ranked[i].Confidence != ranked[j].Confidence {
			return ranked[i].Confidence > ranked[j].Confidence
		}
		return r.catalog.Index(ranked[i].Agent) < r.catalog.Index(ranked[j].Agent)
	})

	plan := &Plan{Candidates: ranked, Tier: TierInformational}
	if len(ranked) > 0 {
		plan.Tier = tierOf(ranked[0].Agent)
	}
	return plan
}

func isCancelIntent(message string) bool {
	msg := strings.ToLower(strings.TrimSpace(message))
	msg = strings.TrimRight(msg, ".!")
	for _, phrase := range cancelPhrases {
		if msg == phrase {
			return true
		}
	}
	return false
}
