// Package gateway is the inbound edge: it admits channel events through
// the idempotency guard, hands first deliveries to the execution loop,
// and replays recorded responses to duplicates. Channels retry webhooks
// aggressively; the guard is what keeps one user message from becoming
// two runs.
package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/kenes-ai/kenes/internal/idempotency"
	"github.com/kenes-ai/kenes/internal/observability"
	"github.com/kenes-ai/kenes/internal/runtime"
	"github.com/kenes-ai/kenes/internal/tenant"
)

// AckProcessing is returned for a duplicate whose original run has not
// finished yet.
const AckProcessing = "Still working on that, one moment."

// Runner is the execution loop surface the gateway needs.
type Runner interface {
	Run(ctx context.Context, ev runtime.InboundEvent) (*runtime.AgentRun, error)
}

// Gateway admits inbound events and routes them into the loop.
type Gateway struct {
	runner  Runner
	guard   idempotency.Guard
	tenants tenant.Directory
	logger  *observability.Logger
	metrics *observability.Metrics
}

// New wires a gateway.
func New(runner Runner, guard idempotency.Guard, tenants tenant.Directory, logger *observability.Logger, metrics *observability.Metrics) *Gateway {
	return &Gateway{runner: runner, guard: guard, tenants: tenants, logger: logger, metrics: metrics}
}

// Handle processes one inbound event and returns the reply text. For a
// duplicate delivery it returns the recorded response (original run
// finished) or a processing acknowledgement (original run still live);
// the loop is never re-invoked for the same dedupe key.
func (g *Gateway) Handle(ctx context.Context, ev runtime.InboundEvent) (string, error) {
	if strings.TrimSpace(ev.Message) == "" {
		return "", runtime.ErrEmptyMessage
	}

	tn, err := g.tenants.Get(ctx, ev.TenantID)
	if err != nil {
		return "", fmt.Errorf("resolve tenant: %w", err)
	}
	ctx = tenant.WithTenant(ctx, tn)

	if ev.DedupeKey == "" {
		return g.run(ctx, ev)
	}

	adm, err := g.guard.Admit(ctx, ev.TenantID, ev.DedupeKey)
	if err != nil {
		return "", fmt.Errorf("admit event: %w", err)
	}
	if !adm.FirstDelivery {
		g.metrics.DedupeHits.WithLabelValues(string(ev.Source)).Inc()
		g.logger.Info(ctx, "duplicate delivery suppressed",
			"dedupe_key", ev.DedupeKey, "state", string(adm.Prior.State))
		if adm.Prior.State == idempotency.StateDone {
			return adm.Prior.Response, nil
		}
		return AckProcessing, nil
	}

	reply, err := g.run(ctx, ev)
	if err != nil {
		// The run never started, so the claim is returned and the
		// channel's redelivery gets a fresh attempt.
		if rerr := g.guard.Release(ctx, ev.TenantID, ev.DedupeKey); rerr != nil {
			g.logger.Error(ctx, "dedupe release failed", "dedupe_key", ev.DedupeKey, "error", rerr.Error())
		}
		return "", err
	}
	return reply, nil
}

func (g *Gateway) run(ctx context.Context, ev runtime.InboundEvent) (string, error) {
	run, err := g.runner.Run(ctx, ev)
	if err != nil {
		return "", err
	}

	if ev.DedupeKey != "" {
		if err := g.guard.Complete(ctx, ev.TenantID, ev.DedupeKey, run.TraceID, run.FinalOutput); err != nil {
			g.logger.Error(ctx, "dedupe complete failed", "dedupe_key", ev.DedupeKey, "error", err.Error())
		}
	}
	return run.FinalOutput, nil
}
