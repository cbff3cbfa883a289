package reminder

import (
	"time"

	"github.com/kenes-ai/kenes/internal/tenant"
)

// Default quiet-hours window, tenant-local.
const (
	DefaultQuietStart = "22:00"
	DefaultQuietEnd   = "08:00"
)

// InQuietHours reports whether t falls inside the tenant's quiet-hours
// window, evaluated in the tenant's timezone. A window whose end is
// earlier than its start crosses midnight (22:00-08:00 covers 23:30 and
// 03:00 but not 12:00).
func InQuietHours(t time.Time, tn *tenant.Tenant) bool {
	start, end := tn.QuietStart, tn.QuietEnd
	if start == "" {
		start = DefaultQuietStart
	}
	if end == "" {
		end = DefaultQuietEnd
	}
	startMin, ok := parseClock(start)
	if !ok {
		return false
	}
	endMin, ok := parseClock(end)
	if !ok {
		return false
	}
	if startMin == endMin {
		return false
	}

	local := t.In(tn.Location())
	nowMin := local.Hour()*60 + local.Minute()

	if startMin < endMin {
		return nowMin >= startMin && nowMin < endMin
	}
	return nowMin >= startMin || nowMin < endMin
}

// quietEndAfter returns the first instant at or after t when quiet hours
// end for the tenant. If t is outside quiet hours it returns t itself.
func quietEndAfter(t time.Time, tn *tenant.Tenant) time.Time {
	if !InQuietHours(t, tn) {
		return t
	}
	end := tn.QuietEnd
	if end == "" {
		end = DefaultQuietEnd
	}
	endMin, ok := parseClock(end)
	if !ok {
		return t
	}

	local := t.In(tn.Location())
	candidate := time.Date(local.Year(), local.Month(), local.Day(), endMin/60, endMin%60, 0, 0, tn.Location())
	if !candidate.After(local) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
