package tools

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Local in-memory service implementations. They back the dev/local serve
// mode and the package tests; production deployments wire real domain
// services at the same interfaces.

// LocalFinanceService keeps balances and transactions in memory.
type LocalFinanceService struct {
	mu       sync.Mutex
	balances map[uuid.UUID]float64
	Currency string
}

// NewLocalFinanceService creates an empty ledger.
func NewLocalFinanceService() *LocalFinanceService {
	return &LocalFinanceService{balances: make(map[uuid.UUID]float64), Currency: "KZT"}
}

func (s *LocalFinanceService) Balance(ctx context.Context, tenantID uuid.UUID) (float64, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[tenantID], s.Currency, nil
}

func (s *LocalFinanceService) RecordTransaction(ctx context.Context, tenantID uuid.UUID, tx Transaction) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.Direction == "expense" {
		s.balances[tenantID] -= tx.Amount
	} else {
		s.balances[tenantID] += tx.Amount
	}
	return uuid.NewString(), nil
}

// LocalCalendarService keeps events in memory.
type LocalCalendarService struct {
	mu     sync.Mutex
	events map[uuid.UUID][]Event
}

// NewLocalCalendarService creates an empty calendar.
func NewLocalCalendarService() *LocalCalendarService {
	return &LocalCalendarService{events: make(map[uuid.UUID][]Event)}
}

func (s *LocalCalendarService) CreateEvent(ctx context.Context, tenantID uuid.UUID, ev Event) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.ID = uuid.NewString()
	s.events[tenantID] = append(s.events[tenantID], ev)
	return ev.ID, nil
}

func (s *LocalCalendarService) ListEvents(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events[tenantID] {
		if !ev.StartAt.Before(from) && ev.StartAt.Before(to) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// LocalTaskService keeps tasks in memory.
type LocalTaskService struct {
	mu    sync.Mutex
	tasks map[uuid.UUID][]Task
}

// NewLocalTaskService creates an empty task list.
func NewLocalTaskService() *LocalTaskService {
	return &LocalTaskService{tasks: make(map[uuid.UUID][]Task)}
}

func (s *LocalTaskService) CreateTask(ctx context.Context, tenantID uuid.UUID, task Task) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task.ID = uuid.NewString()
	s.tasks[tenantID] = append(s.tasks[tenantID], task)
	return task.ID, nil
}

func (s *LocalTaskService) ListTasks(ctx context.Context, tenantID uuid.UUID, includeDone bool) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Task
	for _, task := range s.tasks[tenantID] {
		if task.Done && !includeDone {
			continue
		}
		out = append(out, task)
	}
	return out, nil
}

// LocalContactService keeps contacts in memory.
type LocalContactService struct {
	mu       sync.Mutex
	contacts map[uuid.UUID][]Contact
}

// NewLocalContactService creates an empty address book.
func NewLocalContactService() *LocalContactService {
	return &LocalContactService{contacts: make(map[uuid.UUID][]Contact)}
}

// Add inserts a contact for a tenant.
func (s *LocalContactService) Add(tenantID uuid.UUID, c Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.contacts[tenantID] = append(s.contacts[tenantID], c)
}

func (s *LocalContactService) FindContact(ctx context.Context, tenantID uuid.UUID, query string) ([]Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	query = strings.ToLower(query)
	var out []Contact
	for _, c := range s.contacts[tenantID] {
		if strings.Contains(strings.ToLower(c.Name), query) || strings.Contains(strings.ToLower(c.Company), query) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *LocalContactService) UpcomingBirthdays(ctx context.Context, tenantID uuid.UUID, days int) ([]Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []Contact
	for _, c := range s.contacts[tenantID] {
		if c.Birthday == nil {
			continue
		}
		next := time.Date(now.Year(), c.Birthday.Month(), c.Birthday.Day(), 0, 0, 0, 0, time.UTC)
		if next.Before(now.Truncate(24 * time.Hour)) {
			next = next.AddDate(1, 0, 0)
		}
		if next.Sub(now) <= time.Duration(days)*24*time.Hour {
			out = append(out, c)
		}
	}
	return out, nil
}
