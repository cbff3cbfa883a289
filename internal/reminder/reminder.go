// Package reminder runs the periodic scan that turns time-bound entities
// (meetings, daily briefings, birthdays) into proactive notifications. Each
// notification is dispatched as a system-scheduler run through the same
// execution loop contract as inbound messages, so proactive traffic shows
// up in the same trace format.
//
// At-most-once delivery hangs on the occurrence store: an occurrence is
// claimed atomically before dispatch and confirmed after, so overlapping
// ticks racing on the same entity serialize on the claim, not on the
// scheduler itself.
package reminder

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kenes-ai/kenes/internal/runtime"
)

// Entity types stored with occurrences.
const (
	EntityMeeting  = "meeting"
	EntityBriefing = "briefing"
	EntityBirthday = "birthday"
)

// Meeting is a due time-bound entity returned by the trigger query.
type Meeting struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Title    string
	StartsAt time.Time
}

// MeetingSource is the persistence-side trigger query: meetings starting
// within [from, to], any tenant.
type MeetingSource interface {
	FindDue(ctx context.Context, from, to time.Time) ([]Meeting, error)
}

// BirthdaySource lists the names of contacts whose birthday falls on the
// given tenant-local date. A nil source disables birthday reminders.
type BirthdaySource interface {
	BirthdaysOn(ctx context.Context, tenantID uuid.UUID, date time.Time) ([]string, error)
}

// Runner dispatches a synthetic run through the execution loop.
// *runtime.Loop satisfies it.
type Runner interface {
	Run(ctx context.Context, ev runtime.InboundEvent) (*runtime.AgentRun, error)
}

// Notifier delivers a notification text to the tenant's channel.
type Notifier interface {
	Send(ctx context.Context, tenantID uuid.UUID, text string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, tenantID uuid.UUID, text string) error

// Send implements Notifier.
func (f NotifierFunc) Send(ctx context.Context, tenantID uuid.UUID, text string) error {
	return f(ctx, tenantID, text)
}
