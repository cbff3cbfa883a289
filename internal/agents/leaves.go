package agents

import (
	"context"

	"github.com/kenes-ai/kenes/internal/planner"
	"github.com/kenes-ai/kenes/internal/tools"
)

// Leaf agent constructors. Prompts state the agent's specialty and its
// obligation to confirm committing actions before invoking them; tool
// allowlists bind each agent to its domain.

// NewFinanceAgent handles balances, income and expenses.
func NewFinanceAgent(registry *tools.Registry, p planner.Planner) *Specialist {
	return NewSpecialist(SpecialistConfig{
		Name:        Finance,
		Description: "Money: balance, income, expenses, spending questions.",
		Prompt: "You are the finance assistant. You answer balance and spending " +
			"questions and record transactions. record_transaction has external " +
			"effect: confirm the amount and direction with the user before calling it.",
		Tools:    []string{"get_balance", "record_transaction"},
		Handoffs: []string{Tasks, Calendar, Contacts, Knowledge},
	}, registry, p)
}

// NewTasksAgent handles to-do items.
func NewTasksAgent(registry *tools.Registry, p planner.Planner) *Specialist {
	return NewSpecialist(SpecialistConfig{
		Name:        Tasks,
		Description: "Tasks and to-do items: create, list, remind about work items.",
		Prompt: "You are the tasks assistant. You create and list tasks. " +
			"Prefer short actionable titles.",
		Tools:    []string{"create_task", "list_tasks"},
		Handoffs: []string{Calendar, Contacts, Knowledge},
	}, registry, p)
}

// NewCalendarAgent handles meetings and scheduling.
func NewCalendarAgent(registry *tools.Registry, p planner.Planner) *Specialist {
	return NewSpecialist(SpecialistConfig{
		Name:        Calendar,
		Description: "Meetings and schedule: create events, list upcoming meetings.",
		Prompt: "You are the calendar assistant. You book meetings and answer " +
			"schedule questions. create_event commits a booking: make sure you " +
			"have a title and start time; ask for whatever is missing.",
		Tools:    []string{"create_event", "list_events"},
		Handoffs: []string{Contacts, Tasks, Knowledge},
	}, registry, p)
}

// NewBirthdayAgent handles upcoming birthdays.
func NewBirthdayAgent(registry *tools.Registry, p planner.Planner) *Specialist {
	return NewSpecialist(SpecialistConfig{
		Name:        Birthday,
		Description: "Birthdays: who has a birthday coming up.",
		Prompt:      "You are the birthday assistant. You report upcoming birthdays.",
		Tools:       []string{"upcoming_birthdays"},
		Handoffs:    []string{Contacts},
	}, registry, p)
}

// NewKnowledgeAgent handles knowledge-base search.
func NewKnowledgeAgent(registry *tools.Registry, p planner.Planner) *Specialist {
	return NewSpecialist(SpecialistConfig{
		Name:        Knowledge,
		Description: "Information lookup: search notes, documents and saved knowledge.",
		Prompt: "You are the knowledge assistant. Use deep_search to find facts, " +
			"then answer concisely from what you found.",
		Tools:    []string{"deep_search"},
		Handoffs: []string{Calendar, Tasks, Contacts},
	}, registry, p)
}

// NewContactsAgent handles the address book.
func NewContactsAgent(registry *tools.Registry, p planner.Planner) *Specialist {
	return NewSpecialist(SpecialistConfig{
		Name:        Contacts,
		Description: "Contacts: find people, phone numbers, companies.",
		Prompt:      "You are the contacts assistant. You look people up in the address book.",
		Tools:       []string{"find_contact"},
		Handoffs:    []string{Calendar, Birthday},
	}, registry, p)
}

// FallbackAgent answers when classification failed or nothing matched.
// It never calls tools and never errors, so routing to it is always safe.
type FallbackAgent struct{}

// NewFallbackAgent creates the fallback agent.
func NewFallbackAgent() *FallbackAgent { return &FallbackAgent{} }

// Name implements Agent.
func (a *FallbackAgent) Name() string { return Fallback }

// Description implements Agent.
func (a *FallbackAgent) Description() string {
	return "Fallback when no specialist matches."
}

// Tools implements Agent.
func (a *FallbackAgent) Tools() []string { return nil }

// Decide implements Agent.
func (a *FallbackAgent) Decide(ctx context.Context, req *Request) (*Decision, error) {
	return &Decision{
		Kind:  DecisionReply,
		Reply: "I didn't understand that. Could you rephrase?",
	}, nil
}
