package reminder

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryMeetingSource is an in-process MeetingSource for development and
// tests.
type MemoryMeetingSource struct {
	mu       sync.RWMutex
	meetings []Meeting
}

// NewMemoryMeetingSource creates an empty source.
func NewMemoryMeetingSource() *MemoryMeetingSource {
	return &MemoryMeetingSource{}
}

// Add registers a meeting.
func (s *MemoryMeetingSource) Add(m Meeting) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meetings = append(s.meetings, m)
}

// FindDue implements MeetingSource: meetings starting within [from, to],
// ordered by start time.
func (s *MemoryMeetingSource) FindDue(_ context.Context, from, to time.Time) ([]Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Meeting
	for _, m := range s.meetings {
		if m.StartsAt.Before(from) || m.StartsAt.After(to) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}
