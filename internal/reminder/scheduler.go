package reminder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kenes-ai/kenes/internal/observability"
	"github.com/kenes-ai/kenes/internal/runtime"
	"github.com/kenes-ai/kenes/internal/tenant"
)

// Policy defaults.
const (
	DefaultTick      = time.Minute
	DefaultLookahead = 2 * time.Hour

	// DefaultBirthdayHour is when birthday nudges become eligible for
	// tenants with no briefing hour configured.
	DefaultBirthdayHour = 9
)

// DefaultOffsets are how far before a meeting each reminder fires.
var DefaultOffsets = []time.Duration{60 * time.Minute, 15 * time.Minute}

// Config tunes the scheduler. Zero values fall back to defaults.
type Config struct {
	// Tick is the scan interval.
	Tick time.Duration

	// Lookahead bounds the trigger window scanned per tick.
	Lookahead time.Duration

	// Offsets are the per-meeting reminder offsets.
	Offsets []time.Duration

	// Birthdays supplies today's birthdays per tenant. Nil disables the
	// birthday scan.
	Birthdays BirthdaySource
}

// Scheduler is the periodic reminder job. One instance runs per process;
// overlapping ticks for the same entity are serialized by the occurrence
// store's atomic claim, not by scheduler-level locking.
type Scheduler struct {
	source      MeetingSource
	occurrences OccurrenceStore
	tenants     tenant.Directory
	birthdays   BirthdaySource
	runner      Runner
	notifier    Notifier
	logger      *observability.Logger
	metrics     *observability.Metrics

	tick      time.Duration
	lookahead time.Duration
	offsets   []time.Duration

	cron *cron.Cron
	now  func() time.Time
}

// NewScheduler wires a scheduler.
func NewScheduler(source MeetingSource, occurrences OccurrenceStore, tenants tenant.Directory, runner Runner, notifier Notifier, logger *observability.Logger, metrics *observability.Metrics, cfg Config) *Scheduler {
	tick := cfg.Tick
	if tick <= 0 {
		tick = DefaultTick
	}
	lookahead := cfg.Lookahead
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	offsets := cfg.Offsets
	if len(offsets) == 0 {
		offsets = DefaultOffsets
	}
	return &Scheduler{
		source:      source,
		occurrences: occurrences,
		tenants:     tenants,
		birthdays:   cfg.Birthdays,
		runner:      runner,
		notifier:    notifier,
		logger:      logger,
		metrics:     metrics,
		tick:        tick,
		lookahead:   lookahead,
		offsets:     offsets,
		now:         time.Now,
	}
}

// Start begins ticking in the background.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc("@every "+s.tick.String(), func() {
		s.Scan(ctx, s.now())
	})
	if err != nil {
		return fmt.Errorf("schedule reminder tick: %w", err)
	}
	s.cron.Start()
	s.logger.Info(ctx, "reminder scheduler started", "tick", s.tick.String(), "lookahead", s.lookahead.String())
	return nil
}

// Stop halts ticking and waits for an in-flight scan to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Scan is one tick: find due meetings, fire reminders, fire briefings
// and birthday nudges.
// Exported so overlapping ticks can be driven directly in tests and from
// an admin trigger.
func (s *Scheduler) Scan(ctx context.Context, now time.Time) {
	meetings, err := s.source.FindDue(ctx, now, now.Add(s.lookahead))
	if err != nil {
		s.logger.Error(ctx, "reminder trigger query failed", "error", err.Error())
	} else {
		for _, m := range meetings {
			s.scanMeeting(ctx, now, m)
		}
	}

	tenants, err := s.tenants.List(ctx)
	if err != nil {
		s.logger.Error(ctx, "tenant listing failed", "error", err.Error())
		return
	}
	for _, tn := range tenants {
		s.scanBriefing(ctx, now, tn)
		s.scanBirthdays(ctx, now, tn)
	}
}

func (s *Scheduler) scanMeeting(ctx context.Context, now time.Time, m Meeting) {
	tn, err := s.tenants.Get(ctx, m.TenantID)
	if err != nil {
		s.logger.Warn(ctx, "meeting for unknown tenant skipped", "meeting_id", m.ID.String())
		return
	}
	if tn.RemindersOptOut {
		return
	}

	for _, offset := range s.offsets {
		triggerAt := m.StartsAt.Add(-offset)
		if now.Before(triggerAt) {
			continue // pending
		}

		// Relevance window: once the meeting has started, the reminder is
		// dropped, never sent late.
		if !now.Before(m.StartsAt) {
			s.metrics.RemindersDropped.WithLabelValues(EntityMeeting).Inc()
			continue
		}

		key := fmt.Sprintf("offset-%dm", int(offset.Minutes()))

		if InQuietHours(now, tn) {
			// Suppressed occurrences are re-evaluated next tick. If quiet
			// hours outlast the meeting, no tick will ever send it; count
			// the drop when that becomes certain.
			if !quietEndAfter(now, tn).Before(m.StartsAt) {
				s.metrics.RemindersDropped.WithLabelValues(EntityMeeting).Inc()
			} else {
				s.metrics.RemindersSuppressed.WithLabelValues(EntityMeeting).Inc()
			}
			continue
		}

		claimed, err := s.occurrences.Claim(ctx, EntityMeeting, m.ID.String(), key)
		if err != nil {
			s.logger.Error(ctx, "occurrence claim failed", "meeting_id", m.ID.String(), "error", err.Error())
			continue
		}
		if !claimed {
			continue // another tick already owns or sent this occurrence
		}

		local := m.StartsAt.In(tn.Location())
		message := fmt.Sprintf(
			"Upcoming meeting %q at %s (in %d minutes). Send the user a short reminder.",
			m.Title, local.Format("15:04"), int(m.StartsAt.Sub(now).Minutes()))

		s.dispatch(ctx, tn, EntityMeeting, m.ID.String(), key, message)
	}
}

func (s *Scheduler) scanBriefing(ctx context.Context, now time.Time, tn *tenant.Tenant) {
	if tn.BriefingHour <= 0 || tn.RemindersOptOut {
		return
	}
	local := now.In(tn.Location())
	if local.Hour() < tn.BriefingHour {
		return
	}
	if InQuietHours(now, tn) {
		s.metrics.RemindersSuppressed.WithLabelValues(EntityBriefing).Inc()
		return
	}

	key := "briefing:" + local.Format("2006-01-02")
	claimed, err := s.occurrences.Claim(ctx, EntityBriefing, tn.ID.String(), key)
	if err != nil {
		s.logger.Error(ctx, "briefing claim failed", "tenant_id", tn.ID.String(), "error", err.Error())
		return
	}
	if !claimed {
		return
	}

	s.dispatch(ctx, tn, EntityBriefing, tn.ID.String(), key,
		"Prepare the morning briefing: today's meetings, open tasks and upcoming birthdays.")
}

// scanBirthdays fires one nudge per tenant-local day listing the contacts
// whose birthday is today. It shares the briefing's morning gate so the
// nudge never lands in the middle of the night.
func (s *Scheduler) scanBirthdays(ctx context.Context, now time.Time, tn *tenant.Tenant) {
	if s.birthdays == nil || tn.RemindersOptOut {
		return
	}
	local := now.In(tn.Location())
	hour := tn.BriefingHour
	if hour <= 0 {
		hour = DefaultBirthdayHour
	}
	if local.Hour() < hour {
		return
	}
	if InQuietHours(now, tn) {
		s.metrics.RemindersSuppressed.WithLabelValues(EntityBirthday).Inc()
		return
	}

	names, err := s.birthdays.BirthdaysOn(ctx, tn.ID, local)
	if err != nil {
		s.logger.Error(ctx, "birthday lookup failed", "tenant_id", tn.ID.String(), "error", err.Error())
		return
	}
	if len(names) == 0 {
		return
	}

	key := "birthday:" + local.Format("2006-01-02")
	claimed, err := s.occurrences.Claim(ctx, EntityBirthday, tn.ID.String(), key)
	if err != nil {
		s.logger.Error(ctx, "birthday claim failed", "tenant_id", tn.ID.String(), "error", err.Error())
		return
	}
	if !claimed {
		return
	}

	s.dispatch(ctx, tn, EntityBirthday, tn.ID.String(), key, fmt.Sprintf(
		"Today is the birthday of %s. Remind the user to send their congratulations.",
		strings.Join(names, ", ")))
}

// dispatch runs the synthetic event through the execution loop, delivers
// the output, and confirms the occurrence. sent_at is written only after
// a successful delivery; any failure releases the claim so the next tick
// retries.
func (s *Scheduler) dispatch(ctx context.Context, tn *tenant.Tenant, entityType, entityID, key, message string) {
	ev := runtime.InboundEvent{
		TenantID:        tn.ID,
		Source:          runtime.SourceScheduler,
		Message:         message,
		ConversationRef: "scheduler:" + entityType,
	}

	// Tool handlers scope every read and write through the context
	// tenant, exactly as they do for inbound channel traffic.
	run, err := s.runner.Run(tenant.WithTenant(ctx, tn), ev)
	if err != nil || run.Status != runtime.StatusCompleted {
		s.release(ctx, entityType, entityID, key)
		status := "error"
		if run != nil {
			status = string(run.Status)
		}
		s.logger.Warn(ctx, "reminder run did not complete",
			"entity_type", entityType, "entity_id", entityID, "status", status)
		return
	}

	if err := s.notifier.Send(ctx, tn.ID, run.FinalOutput); err != nil {
		s.release(ctx, entityType, entityID, key)
		s.logger.Warn(ctx, "reminder delivery failed",
			"entity_type", entityType, "entity_id", entityID, "error", err.Error())
		return
	}

	if err := s.occurrences.Confirm(ctx, entityType, entityID, key); err != nil {
		s.logger.Error(ctx, "occurrence confirm failed",
			"entity_type", entityType, "entity_id", entityID, "error", err.Error())
		return
	}
	s.metrics.RemindersSent.WithLabelValues(entityType).Inc()
}

func (s *Scheduler) release(ctx context.Context, entityType, entityID, key string) {
	if err := s.occurrences.Release(ctx, entityType, entityID, key); err != nil {
		s.logger.Error(ctx, "occurrence release failed",
			"entity_type", entityType, "entity_id", entityID, "error", err.Error())
	}
}
