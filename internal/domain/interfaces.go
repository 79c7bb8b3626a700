package domain

import (
	"context"
	"time"
)

// RegimenStore persists regimen entries.
type RegimenStore interface {
	// CreateRegimenEntry returns ErrDuplicateActiveMedicine when the patient
	// already has an active entry with the same normalized medicine name.
	CreateRegimenEntry(ctx context.Context, entry *RegimenEntry) error
	GetRegimenEntry(ctx context.Context, id string) (*RegimenEntry, error)
	ListRegimenEntries(ctx context.Context, patientID string, includeInactive bool) ([]*RegimenEntry, error)
	DiscontinueRegimenEntry(ctx context.Context, id string, at time.Time) (*RegimenEntry, error)
}

// ScheduleStore persists schedules. Deactivated schedules are kept.
type ScheduleStore interface {
	CreateSchedule(ctx context.Context, schedule *Schedule) error
	GetSchedule(ctx context.Context, id string) (*Schedule, error)
	DeactivateSchedule(ctx context.Context, id string, at time.Time) (*Schedule, error)
	ListSchedules(ctx context.Context, patientID string) ([]*Schedule, error)
	// ListActiveSchedules returns active schedules whose entry is active, for all patients.
	ListActiveSchedules(ctx context.Context) ([]*Schedule, error)
}

// DoseEventStore persists dose events, unique per (schedule, slot).
type DoseEventStore interface {
	// UpsertDoseEvent inserts the event or overwrites the existing one for the
	// same (ScheduleID, ScheduledAt), keeping its ID. The stored event is returned.
	UpsertDoseEvent(ctx context.Context, event *DoseEvent) (*DoseEvent, error)
	GetDoseEvent(ctx context.Context, scheduleID string, scheduledAt time.Time) (*DoseEvent, error)
	// ListDoseEvents returns events with ScheduledAt in [from, to), oldest first.
	ListDoseEvents(ctx context.Context, patientID string, from, to time.Time) ([]*DoseEvent, error)
}

// AdherenceStore persists the last computed AdherenceState.
type AdherenceStore interface {
	SaveAdherenceState(ctx context.Context, state *AdherenceState) error
	GetAdherenceState(ctx context.Context, patientID string) (*AdherenceState, error)
}

// Store is the persistence layer consumed by the engine.
type Store interface {
	RegimenStore
	ScheduleStore
	DoseEventStore
	AdherenceStore
	Health(ctx context.Context) error
	Close() error
}

// Notifier delivers reminders. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, reminder Reminder) error
}

// SeverityPredictor estimates the severity of an unknown drug pair.
type SeverityPredictor interface {
	Predict(ctx context.Context, drugA, drugB string) (Prediction, error)
}

// AdherenceCache fronts AdherenceState reads.
type AdherenceCache interface {
	Get(ctx context.Context, patientID string) (*AdherenceState, bool, error)
	Set(ctx context.Context, state *AdherenceState) error
	Invalidate(ctx context.Context, patientID string) error
}

// Clock abstracts wall time so tests can drive it.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real time.
type SystemClock struct{}

// Now returns time.Now()
func (SystemClock) Now() time.Time { return time.Now() }

// ConfigManager exposes loaded configuration.
type ConfigManager interface {
	GetConfig() *Config
	Validate() error
}
