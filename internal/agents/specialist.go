package agents

import (
	"context"
	"fmt"

	"github.com/kenes-ai/kenes/internal/planner"
	"github.com/kenes-ai/kenes/internal/tools"
)

// Specialist is a planner-backed agent. All leaf agents share this
// implementation and differ only in name, prompt, tool allowlist and
// permitted handoff targets. The specialist enforces its own allowlists:
// a backend proposing a tool or target outside them is rejected here,
// before the loop ever sees the decision.
type Specialist struct {
	name        string
	description string
	prompt      string
	tools       []string
	handoffs    []string
	registry    *tools.Registry
	planner     planner.Planner
}

// SpecialistConfig configures a leaf agent.
type SpecialistConfig struct {
	// Name is the catalog name.
	Name string

	// Description explains the agent for routing prompts.
	Description string

	// Prompt is the agent's role prompt for the planner.
	Prompt string

	// Tools is the registry allowlist.
	Tools []string

	// Handoffs lists agent names this agent may hand off to.
	Handoffs []string
}

// NewSpecialist creates a planner-backed agent.
func NewSpecialist(cfg SpecialistConfig, registry *tools.Registry, p planner.Planner) *Specialist {
	return &Specialist{
		name:        cfg.Name,
		description: cfg.Description,
		prompt:      cfg.Prompt,
		tools:       cfg.Tools,
		handoffs:    cfg.Handoffs,
		registry:    registry,
		planner:     p,
	}
}

// Name implements Agent.
func (s *Specialist) Name() string { return s.name }

// Description implements Agent.
func (s *Specialist) Description() string { return s.description }

// Tools implements Agent.
func (s *Specialist) Tools() []string {
	out := make([]string, len(s.tools))
	copy(out, s.tools)
	return out
}

// Decide implements Agent.
func (s *Specialist) Decide(ctx context.Context, req *Request) (*Decision, error) {
	notes := make([]string, 0, len(req.Notes))
	for _, n := range req.Notes {
		prefix := n.Agent
		if n.Tool != "" {
			prefix += "/" + n.Tool
		}
		if n.Failed {
			prefix += " (failed)"
		}
		notes = append(notes, prefix+": "+n.Text)
	}

	decision, err := s.planner.Think(ctx, planner.ThinkRequest{
		Agent:          s.name,
		SystemPrompt:   s.prompt,
		Message:        req.Message,
		ContextSummary: req.ContextSummary,
		Notes:          notes,
		Tools:          plannerTools(s.registry.Describe(s.tools)),
		Handoffs:       s.handoffs,
	})
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", s.name, err)
	}

	switch decision.Action {
	case planner.ActionReply:
		return &Decision{Kind: DecisionReply, Reply: decision.Reply}, nil

	case planner.ActionTool:
		if !s.allowsTool(decision.Tool) {
			return nil, fmt.Errorf("agent %s: tool %q not in allowlist", s.name, decision.Tool)
		}
		return &Decision{Kind: DecisionTool, Tool: decision.Tool, Args: decision.Args}, nil

	case planner.ActionHandoff:
		if !s.allowsHandoff(decision.Target) {
			return nil, fmt.Errorf("agent %s: handoff target %q not permitted", s.name, decision.Target)
		}
		return &Decision{Kind: DecisionHandoff, Target: decision.Target, Reason: decision.Reason}, nil

	default:
		return nil, fmt.Errorf("agent %s: unknown action %q", s.name, decision.Action)
	}
}

// plannerTools converts registry descriptors into the planner's request
// shape so the planner package stays free of a registry dependency.
func plannerTools(descs []tools.Descriptor) []planner.ToolDescriptor {
	out := make([]planner.ToolDescriptor, 0, len(descs))
	for _, d := range descs {
		out = append(out, planner.ToolDescriptor{
			Name:        d.Name,
			Description: d.Description,
			Schema:      d.Schema,
		})
	}
	return out
}

func (s *Specialist) allowsTool(name string) bool {
	for _, t := range s.tools {
		if t == name {
			return true
		}
	}
	return false
}

func (s *Specialist) allowsHandoff(target string) bool {
	for _, h := range s.handoffs {
		if h == target {
			return true
		}
	}
	return false
}
