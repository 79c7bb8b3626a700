// Package repository provides the persistence implementations of domain.Store:
// an in-memory store for tests and embedding, SQLite for the standalone
// binary and Postgres for the full deployment.
package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/meditrek-engine/internal/domain"
)

// MemoryStore is a domain.Store held in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	entries   map[string]*domain.RegimenEntry
	schedules map[string]*domain.Schedule
	events    map[eventKey]*domain.DoseEvent
	states    map[string]*domain.AdherenceState
	nextID    int
}

type eventKey struct {
	scheduleID string
	slot       int64
}

func keyFor(scheduleID string, slot time.Time) eventKey {
	return eventKey{scheduleID: scheduleID, slot: slot.UnixMilli()}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:   make(map[string]*domain.RegimenEntry),
		schedules: make(map[string]*domain.Schedule),
		events:    make(map[eventKey]*domain.DoseEvent),
		states:    make(map[string]*domain.AdherenceState),
	}
}

// CreateRegimenEntry stores a new entry.
func (s *MemoryStore) CreateRegimenEntry(ctx context.Context, entry *domain.RegimenEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.Status.IsActive() {
		key := domain.NormalizeName(entry.MedicineName)
		for _, e := range s.entries {
			if e.PatientID == entry.PatientID && e.Status.IsActive() && domain.NormalizeName(e.MedicineName) == key {
				return fmt.Errorf("%s for patient %s: %w", entry.MedicineName, entry.PatientID, domain.ErrDuplicateActiveMedicine)
			}
		}
	}

	cp := *entry
	s.entries[entry.ID] = &cp
	return nil
}

// GetRegimenEntry returns a copy of the entry.
func (s *MemoryStore) GetRegimenEntry(ctx context.Context, id string) (*domain.RegimenEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("regimen entry %s: %w", id, domain.ErrRegimenEntryNotFound)
	}
	cp := *e
	return &cp, nil
}

// ListRegimenEntries returns the patient's entries ordered by start time.
func (s *MemoryStore) ListRegimenEntries(ctx context.Context, patientID string, includeInactive bool) ([]*domain.RegimenEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.RegimenEntry
	for _, e := range s.entries {
		if e.PatientID != patientID || (!includeInactive && !e.Status.IsActive()) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DiscontinueRegimenEntry marks the entry discontinued. Discontinuing twice
// keeps the first timestamp.
func (s *MemoryStore) DiscontinueRegimenEntry(ctx context.Context, id string, at time.Time) (*domain.RegimenEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("regimen entry %s: %w", id, domain.ErrRegimenEntryNotFound)
	}
	if e.Status.IsActive() {
		e.Status = domain.RegimenDiscontinued
		e.DiscontinuedAt = &at
		e.UpdatedAt = at
	}
	cp := *e
	return &cp, nil
}

// CreateSchedule stores a new schedule.
func (s *MemoryStore) CreateSchedule(ctx context.Context, schedule *domain.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[schedule.RegimenEntryID]; !ok {
		return fmt.Errorf("regimen entry %s: %w", schedule.RegimenEntryID, domain.ErrRegimenEntryNotFound)
	}
	s.schedules[schedule.ID] = copySchedule(schedule)
	return nil
}

// GetSchedule returns a copy of the schedule.
func (s *MemoryStore) GetSchedule(ctx context.Context, id string) (*domain.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sc, ok := s.schedules[id]
	if !ok {
		return nil, fmt.Errorf("schedule %s: %w", id, domain.ErrScheduleNotFound)
	}
	return copySchedule(sc), nil
}

// DeactivateSchedule clears the active flag, keeping the first deactivation time.
func (s *MemoryStore) DeactivateSchedule(ctx context.Context, id string, at time.Time) (*domain.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.schedules[id]
	if !ok {
		return nil, fmt.Errorf("schedule %s: %w", id, domain.ErrScheduleNotFound)
	}
	if sc.Active {
		sc.Active = false
		sc.DeactivatedAt = &at
	}
	return copySchedule(sc), nil
}

// ListSchedules returns every schedule of the patient, active or not.
func (s *MemoryStore) ListSchedules(ctx context.Context, patientID string) ([]*domain.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Schedule
	for _, sc := range s.schedules {
		if sc.PatientID == patientID {
			out = append(out, copySchedule(sc))
		}
	}
	domain.SortSchedules(out)
	return out, nil
}

// ListActiveSchedules returns active schedules whose entry is active.
func (s *MemoryStore) ListActiveSchedules(ctx context.Context) ([]*domain.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Schedule
	for _, sc := range s.schedules {
		if !sc.Active {
			continue
		}
		if e, ok := s.entries[sc.RegimenEntryID]; !ok || !e.Status.IsActive() {
			continue
		}
		out = append(out, copySchedule(sc))
	}
	domain.SortSchedules(out)
	return out, nil
}

// UpsertDoseEvent inserts or overwrites the event for (schedule, slot).
func (s *MemoryStore) UpsertDoseEvent(ctx context.Context, event *domain.DoseEvent) (*domain.DoseEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyFor(event.ScheduleID, event.ScheduledAt)
	cp := *event
	if existing, ok := s.events[k]; ok {
		cp.ID = existing.ID
	}
	if cp.ID == "" {
		s.nextID++
		cp.ID = fmt.Sprintf("evt-%d", s.nextID)
	}
	s.events[k] = &cp

	out := cp
	return &out, nil
}

// GetDoseEvent returns the event for (schedule, slot) or domain.ErrNotFound.
func (s *MemoryStore) GetDoseEvent(ctx context.Context, scheduleID string, scheduledAt time.Time) (*domain.DoseEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.events[keyFor(scheduleID, scheduledAt)]
	if !ok {
		return nil, fmt.Errorf("dose event: %w", domain.ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

// ListDoseEvents returns the patient's events with ScheduledAt in [from, to).
func (s *MemoryStore) ListDoseEvents(ctx context.Context, patientID string, from, to time.Time) ([]*domain.DoseEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.DoseEvent
	for _, e := range s.events {
		if e.PatientID != patientID || e.ScheduledAt.Before(from) || !e.ScheduledAt.Before(to) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sortEvents(out)
	return out, nil
}

// SaveAdherenceState replaces the stored state.
func (s *MemoryStore) SaveAdherenceState(ctx context.Context, state *domain.AdherenceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[state.PatientID] = copyState(state)
	return nil
}

// GetAdherenceState returns the stored state or domain.ErrNotFound.
func (s *MemoryStore) GetAdherenceState(ctx context.Context, patientID string) (*domain.AdherenceState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[patientID]
	if !ok {
		return nil, fmt.Errorf("adherence state for %s: %w", patientID, domain.ErrNotFound)
	}
	return copyState(st), nil
}

// Health always succeeds.
func (s *MemoryStore) Health(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func copySchedule(sc *domain.Schedule) *domain.Schedule {
	cp := *sc
	cp.Days = append([]time.Weekday(nil), sc.Days...)
	return &cp
}

func copyState(st *domain.AdherenceState) *domain.AdherenceState {
	cp := *st
	cp.Badges = append([]domain.BadgeAward(nil), st.Badges...)
	if st.TimeOfDay != nil {
		cp.TimeOfDay = make(map[string]domain.TimeOfDayStats, len(st.TimeOfDay))
		for k, v := range st.TimeOfDay {
			cp.TimeOfDay[k] = v
		}
	}
	return &cp
}

func sortEvents(events []*domain.DoseEvent) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].ScheduledAt.Equal(events[j].ScheduledAt) {
			return events[i].ScheduledAt.Before(events[j].ScheduledAt)
		}
		return events[i].ScheduleID < events[j].ScheduleID
	})
}
