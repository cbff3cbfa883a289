package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kenes-ai/kenes/internal/tenant"
)

// CalendarService is the domain boundary for meetings.
type CalendarService interface {
	CreateEvent(ctx context.Context, tenantID uuid.UUID, ev Event) (id string, err error)
	ListEvents(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]Event, error)
}

// Event is a calendar entry.
type Event struct {
	ID      string    `json:"id,omitempty"`
	Title   string    `json:"title"`
	StartAt time.Time `json:"start_at"`
	Phone   string    `json:"phone,omitempty"`
	Place   string    `json:"place,omitempty"`
}

// CreateEventTool books a meeting. Committing and critical: a failed
// booking aborts the remainder of the plan.
type CreateEventTool struct {
	Service CalendarService
}

type createEventInput struct {
	Title   string `json:"title" jsonschema:"description=Meeting title"`
	StartAt string `json:"start_at" jsonschema:"description=Start time in RFC 3339 format"`
	Phone   string `json:"phone,omitempty" jsonschema:"description=Contact phone number"`
	Place   string `json:"place,omitempty"`
}

func (t *CreateEventTool) Name() string        { return "create_event" }
func (t *CreateEventTool) Description() string { return "Create a calendar event or meeting." }
func (t *CreateEventTool) Input() any          { return createEventInput{} }

func (t *CreateEventTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in createEventInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	startAt, err := time.Parse(time.RFC3339, in.StartAt)
	if err != nil {
		return &Result{Content: "start_at must be RFC 3339: " + err.Error(), IsError: true}, nil
	}
	id, err := t.Service.CreateEvent(ctx, tenant.IDFromContext(ctx), Event{
		Title:   in.Title,
		StartAt: startAt,
		Phone:   in.Phone,
		Place:   in.Place,
	})
	if err != nil {
		return &Result{Content: "event not created: " + err.Error(), IsError: true}, nil
	}
	return &Result{Content: fmt.Sprintf("Created meeting %q at %s (id %s)", in.Title, startAt.Format(time.RFC3339), id)}, nil
}

// ListEventsTool lists upcoming meetings in a window.
type ListEventsTool struct {
	Service CalendarService
}

type listEventsInput struct {
	Days int `json:"days,omitempty" jsonschema:"minimum=1,maximum=31,description=Lookahead window in days (default 1)"`
}

func (t *ListEventsTool) Name() string        { return "list_events" }
func (t *ListEventsTool) Description() string { return "List upcoming calendar events." }
func (t *ListEventsTool) Input() any          { return listEventsInput{} }

func (t *ListEventsTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in listEventsInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	if in.Days <= 0 {
		in.Days = 1
	}
	now := time.Now()
	events, err := t.Service.ListEvents(ctx, tenant.IDFromContext(ctx), now, now.AddDate(0, 0, in.Days))
	if err != nil {
		return &Result{Content: "could not list events: " + err.Error(), IsError: true}, nil
	}
	if len(events) == 0 {
		return &Result{Content: "No upcoming events."}, nil
	}
	var sb strings.Builder
	for _, ev := range events {
		fmt.Fprintf(&sb, "- %s at %s\n", ev.Title, ev.StartAt.Format("2006-01-02 15:04"))
	}
	return &Result{Content: sb.String()}, nil
}
