package planner

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Prompt construction and response parsing shared by the LLM-backed
// planners. Both backends request bare JSON and go through the same
// parser, so retry/degrade behavior is identical regardless of vendor.

func classifySystemPrompt(strict bool) string {
	var sb strings.Builder
	sb.WriteString("You are the routing brain of a business assistant. ")
	sb.WriteString("Given a user message, rank which specialist agents should handle it. ")
	sb.WriteString(`Respond with JSON only: {"intents":[{"agent":"<name>","confidence":<0..1>}]}. `)
	sb.WriteString("Order intents by relevance; include several when the message contains several requests.")
	if strict {
		sb.WriteString(" Output a single JSON object and nothing else. No prose, no markdown fences.")
	}
	return sb.String()
}

func classifyUserPrompt(req ClassifyRequest) string {
	var sb strings.Builder
	sb.WriteString("Available agents:\n")
	for _, c := range req.Candidates {
		fmt.Fprintf(&sb, "- %s: %s\n", c.Name, c.Description)
	}
	if req.ContextSummary != "" {
		sb.WriteString("\nConversation so far:\n")
		sb.WriteString(req.ContextSummary)
		sb.WriteString("\n")
	}
	sb.WriteString("\nUser message:\n")
	sb.WriteString(req.Message)
	return sb.String()
}

func thinkSystemPrompt(req ThinkRequest) string {
	var sb strings.Builder
	sb.WriteString(req.SystemPrompt)
	sb.WriteString("\n\nDecide your next action. Respond with JSON only, one of:\n")
	sb.WriteString(`{"action":"reply","reply":"<text for the user>"}` + "\n")
	sb.WriteString(`{"action":"tool","tool":"<tool name>","args":{...}}` + "\n")
	sb.WriteString(`{"action":"handoff","target":"<agent name>","reason":"<why>"}` + "\n")
	if len(req.Tools) > 0 {
		sb.WriteString("\nTools you may call:\n")
		for _, t := range req.Tools {
			fmt.Fprintf(&sb, "- %s: %s\n  input schema: %s\n", t.Name, t.Description, string(t.Schema))
		}
	}
	if len(req.Handoffs) > 0 {
		sb.WriteString("\nAgents you may hand off to: ")
		sb.WriteString(strings.Join(req.Handoffs, ", "))
		sb.WriteString("\n")
	}
	return sb.String()
}

func thinkUserPrompt(req ThinkRequest) string {
	var sb strings.Builder
	if req.ContextSummary != "" {
		sb.WriteString("Conversation so far:\n")
		sb.WriteString(req.ContextSummary)
		sb.WriteString("\n\n")
	}
	if len(req.Notes) > 0 {
		sb.WriteString("Results of earlier steps in this request:\n")
		for _, n := range req.Notes {
			sb.WriteString("- ")
			sb.WriteString(n)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("User message:\n")
	sb.WriteString(req.Message)
	return sb.String()
}

// stripFences removes a surrounding markdown code fence, which some
// backends add despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func parseClassifyResult(text string) (*ClassifyResult, error) {
	var result ClassifyResult
	if err := json.Unmarshal([]byte(stripFences(text)), &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparsable, err)
	}
	if len(result.Intents) == 0 {
		return nil, fmt.Errorf("%w: no intents", ErrUnparsable)
	}
	return &result, nil
}

func parseDecision(text string) (*Decision, error) {
	var decision Decision
	if err := json.Unmarshal([]byte(stripFences(text)), &decision); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparsable, err)
	}
	switch decision.Action {
	case ActionReply, ActionTool, ActionHandoff:
		return &decision, nil
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrUnparsable, decision.Action)
	}
}
