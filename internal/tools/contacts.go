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

// ContactService is the domain boundary for the address book.
type ContactService interface {
	FindContact(ctx context.Context, tenantID uuid.UUID, query string) ([]Contact, error)
	UpcomingBirthdays(ctx context.Context, tenantID uuid.UUID, days int) ([]Contact, error)
}

// Contact is an address-book entry.
type Contact struct {
	ID       string     `json:"id,omitempty"`
	Name     string     `json:"name"`
	Phone    string     `json:"phone,omitempty"`
	Company  string     `json:"company,omitempty"`
	Birthday *time.Time `json:"birthday,omitempty"`
}

// FindContactTool searches the tenant's address book by name or company.
type FindContactTool struct {
	Service ContactService
}

type findContactInput struct {
	Query string `json:"query" jsonschema:"minLength=1,description=Name or company to search for"`
}

func (t *FindContactTool) Name() string        { return "find_contact" }
func (t *FindContactTool) Description() string { return "Find a contact by name or company." }
func (t *FindContactTool) Input() any          { return findContactInput{} }

func (t *FindContactTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in findContactInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	contacts, err := t.Service.FindContact(ctx, tenant.IDFromContext(ctx), in.Query)
	if err != nil {
		return &Result{Content: "contact search failed: " + err.Error(), IsError: true}, nil
	}
	if len(contacts) == 0 {
		return &Result{Content: fmt.Sprintf("contact not found: %q", in.Query), IsError: true}, nil
	}
	var sb strings.Builder
	for _, c := range contacts {
		fmt.Fprintf(&sb, "- %s", c.Name)
		if c.Phone != "" {
			fmt.Fprintf(&sb, " (%s)", c.Phone)
		}
		if c.Company != "" {
			fmt.Fprintf(&sb, ", %s", c.Company)
		}
		sb.WriteString("\n")
	}
	return &Result{Content: sb.String()}, nil
}

// UpcomingBirthdaysTool lists contacts with birthdays in the next days.
type UpcomingBirthdaysTool struct {
	Service ContactService
}

type upcomingBirthdaysInput struct {
	Days int `json:"days,omitempty" jsonschema:"minimum=1,maximum=365,description=Lookahead window in days (default 7)"`
}

func (t *UpcomingBirthdaysTool) Name() string { return "upcoming_birthdays" }
func (t *UpcomingBirthdaysTool) Description() string {
	return "List contacts with birthdays coming up."
}
func (t *UpcomingBirthdaysTool) Input() any { return upcomingBirthdaysInput{} }

func (t *UpcomingBirthdaysTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in upcomingBirthdaysInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	if in.Days <= 0 {
		in.Days = 7
	}
	contacts, err := t.Service.UpcomingBirthdays(ctx, tenant.IDFromContext(ctx), in.Days)
	if err != nil {
		return &Result{Content: "birthday lookup failed: " + err.Error(), IsError: true}, nil
	}
	if len(contacts) == 0 {
		return &Result{Content: fmt.Sprintf("No birthdays in the next %d days.", in.Days)}, nil
	}
	var sb strings.Builder
	for _, c := range contacts {
		fmt.Fprintf(&sb, "- %s on %s\n", c.Name, c.Birthday.Format("January 2"))
	}
	return &Result{Content: sb.String()}, nil
}
