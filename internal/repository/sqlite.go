package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/meditrek-engine/internal/domain"
)

// SQLiteStore implements domain.Store on a single SQLite file.
// Instants are stored as Unix milliseconds so range queries compare numerically.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS regimen_entries (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL,
		medicine_name TEXT NOT NULL,
		medicine_key TEXT NOT NULL,
		dosage TEXT NOT NULL DEFAULT '',
		frequency TEXT NOT NULL DEFAULT 'daily',
		purpose TEXT NOT NULL DEFAULT '',
		age_years INTEGER NOT NULL DEFAULT 0,
		weight_kg REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		started_at INTEGER NOT NULL,
		discontinued_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_regimen_patient ON regimen_entries(patient_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_regimen_active_medicine
		ON regimen_entries(patient_id, medicine_key) WHERE status = 'active';

	CREATE TABLE IF NOT EXISTS schedules (
		id TEXT PRIMARY KEY,
		regimen_entry_id TEXT NOT NULL REFERENCES regimen_entries(id),
		patient_id TEXT NOT NULL,
		medicine_name TEXT NOT NULL,
		dose_amount REAL NOT NULL,
		dose_unit TEXT NOT NULL,
		frequency TEXT NOT NULL,
		time_of_day TEXT NOT NULL,
		days TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		deactivated_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_schedules_patient ON schedules(patient_id);

	CREATE TABLE IF NOT EXISTS dose_events (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL,
		schedule_id TEXT NOT NULL REFERENCES schedules(id),
		medicine_name TEXT NOT NULL,
		scheduled_at INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		recorded_at INTEGER NOT NULL,
		source TEXT NOT NULL DEFAULT 'manual',
		note TEXT NOT NULL DEFAULT '',
		UNIQUE(schedule_id, scheduled_at)
	);
	CREATE INDEX IF NOT EXISTS idx_dose_events_patient_time ON dose_events(patient_id, scheduled_at);

	CREATE TABLE IF NOT EXISTS adherence_states (
		patient_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		last_updated INTEGER NOT NULL
	);
	`

	_, err := db.Exec(schema)
	return err
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

const entryColumns = `id, patient_id, medicine_name, dosage, frequency, purpose, age_years, weight_kg,
	status, started_at, discontinued_at, created_at, updated_at`

func scanEntry(s scanner) (*domain.RegimenEntry, error) {
	var (
		e                               domain.RegimenEntry
		frequency, status               string
		startedAt, createdAt, updatedAt int64
		discontinuedAt                  sql.NullInt64
	)
	err := s.Scan(&e.ID, &e.PatientID, &e.MedicineName, &e.Dosage, &frequency, &e.Purpose, &e.AgeYears, &e.WeightKg,
		&status, &startedAt, &discontinuedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	e.Frequency = domain.Frequency(frequency)
	e.Status = domain.RegimenStatus(status)
	e.StartedAt = fromMillis(startedAt)
	e.DiscontinuedAt = fromNullMillis(discontinuedAt)
	e.CreatedAt = fromMillis(createdAt)
	e.UpdatedAt = fromMillis(updatedAt)
	return &e, nil
}

const scheduleColumns = `id, regimen_entry_id, patient_id, medicine_name, dose_amount, dose_unit, frequency,
	time_of_day, days, active, created_at, deactivated_at`

func scanSchedule(s scanner) (*domain.Schedule, error) {
	var (
		sc                   domain.Schedule
		frequency, tod, days string
		createdAt            int64
		deactivatedAt        sql.NullInt64
	)
	err := s.Scan(&sc.ID, &sc.RegimenEntryID, &sc.PatientID, &sc.MedicineName, &sc.DoseAmount, &sc.DoseUnit,
		&frequency, &tod, &days, &sc.Active, &createdAt, &deactivatedAt)
	if err != nil {
		return nil, err
	}
	sc.Frequency = domain.Frequency(frequency)
	if sc.TimeOfDay, err = domain.ParseTimeOfDay(tod); err != nil {
		return nil, fmt.Errorf("schedule %s: %w", sc.ID, err)
	}
	if sc.Days, err = decodeDays(days); err != nil {
		return nil, fmt.Errorf("schedule %s: %w", sc.ID, err)
	}
	sc.CreatedAt = fromMillis(createdAt)
	sc.DeactivatedAt = fromNullMillis(deactivatedAt)
	return &sc, nil
}

const eventColumns = `id, patient_id, schedule_id, medicine_name, scheduled_at, outcome, recorded_at, source, note`

func scanEvent(s scanner) (*domain.DoseEvent, error) {
	var (
		e                       domain.DoseEvent
		outcome, source         string
		scheduledAt, recordedAt int64
	)
	if err := s.Scan(&e.ID, &e.PatientID, &e.ScheduleID, &e.MedicineName, &scheduledAt, &outcome, &recordedAt, &source, &e.Note); err != nil {
		return nil, err
	}
	e.ScheduledAt = fromMillis(scheduledAt)
	e.RecordedAt = fromMillis(recordedAt)
	e.Outcome = domain.Outcome(outcome)
	e.Source = domain.DoseSource(source)
	return &e, nil
}

// CreateRegimenEntry inserts a new entry.
func (s *SQLiteStore) CreateRegimenEntry(ctx context.Context, entry *domain.RegimenEntry) error {
	key := domain.NormalizeName(entry.MedicineName)

	if entry.Status.IsActive() {
		var existing string
		err := s.db.QueryRowContext(ctx,
			"SELECT id FROM regimen_entries WHERE patient_id = ? AND medicine_key = ? AND status = 'active'",
			entry.PatientID, key,
		).Scan(&existing)
		if err == nil {
			return fmt.Errorf("%s for patient %s: %w", entry.MedicineName, entry.PatientID, domain.ErrDuplicateActiveMedicine)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return domain.Unavailable("checking active medicine", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO regimen_entries (`+entryColumns+`, medicine_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID, entry.PatientID, entry.MedicineName, entry.Dosage, string(entry.Frequency), entry.Purpose,
		entry.AgeYears, entry.WeightKg, string(entry.Status), toMillis(entry.StartedAt),
		toNullMillis(entry.DiscontinuedAt), toMillis(entry.CreatedAt), toMillis(entry.UpdatedAt), key,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s for patient %s: %w", entry.MedicineName, entry.PatientID, domain.ErrDuplicateActiveMedicine)
		}
		return domain.Unavailable("inserting regimen entry", err)
	}
	return nil
}

// GetRegimenEntry returns the entry with id.
func (s *SQLiteStore) GetRegimenEntry(ctx context.Context, id string) (*domain.RegimenEntry, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM regimen_entries WHERE id = ?", id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("regimen entry %s: %w", id, domain.ErrRegimenEntryNotFound)
	}
	if err != nil {
		return nil, domain.Unavailable("getting regimen entry", err)
	}
	return e, nil
}

// ListRegimenEntries returns the patient's entries ordered by start time.
func (s *SQLiteStore) ListRegimenEntries(ctx context.Context, patientID string, includeInactive bool) ([]*domain.RegimenEntry, error) {
	query := "SELECT " + entryColumns + " FROM regimen_entries WHERE patient_id = ?"
	if !includeInactive {
		query += " AND status = 'active'"
	}
	query += " ORDER BY started_at, id"

	rows, err := s.db.QueryContext(ctx, query, patientID)
	if err != nil {
		return nil, domain.Unavailable("listing regimen entries", err)
	}
	defer rows.Close()

	var out []*domain.RegimenEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning regimen entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DiscontinueRegimenEntry sets status and discontinued_at once.
func (s *SQLiteStore) DiscontinueRegimenEntry(ctx context.Context, id string, at time.Time) (*domain.RegimenEntry, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE regimen_entries SET status = 'discontinued', discontinued_at = ?, updated_at = ?
		WHERE id = ? AND status = 'active'
	`, toMillis(at), toMillis(at), id)
	if err != nil {
		return nil, domain.Unavailable("discontinuing regimen entry", err)
	}
	return s.GetRegimenEntry(ctx, id)
}

// CreateSchedule inserts a new schedule.
func (s *SQLiteStore) CreateSchedule(ctx context.Context, sc *domain.Schedule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sc.ID, sc.RegimenEntryID, sc.PatientID, sc.MedicineName, sc.DoseAmount, sc.DoseUnit,
		string(sc.Frequency), sc.TimeOfDay.String(), encodeDays(sc.Days), sc.Active,
		toMillis(sc.CreatedAt), toNullMillis(sc.DeactivatedAt),
	)
	if err != nil {
		if sqliteCode(err) == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY {
			return fmt.Errorf("regimen entry %s: %w", sc.RegimenEntryID, domain.ErrRegimenEntryNotFound)
		}
		return domain.Unavailable("inserting schedule", err)
	}
	return nil
}

// GetSchedule returns the schedule with id.
func (s *SQLiteStore) GetSchedule(ctx context.Context, id string) (*domain.Schedule, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+scheduleColumns+" FROM schedules WHERE id = ?", id)
	sc, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("schedule %s: %w", id, domain.ErrScheduleNotFound)
	}
	if err != nil {
		return nil, domain.Unavailable("getting schedule", err)
	}
	return sc, nil
}

// DeactivateSchedule clears the active flag once.
func (s *SQLiteStore) DeactivateSchedule(ctx context.Context, id string, at time.Time) (*domain.Schedule, error) {
	_, err := s.db.ExecContext(ctx,
		"UPDATE schedules SET active = 0, deactivated_at = ? WHERE id = ? AND active = 1",
		toMillis(at), id,
	)
	if err != nil {
		return nil, domain.Unavailable("deactivating schedule", err)
	}
	return s.GetSchedule(ctx, id)
}

// ListSchedules returns every schedule of the patient.
func (s *SQLiteStore) ListSchedules(ctx context.Context, patientID string) ([]*domain.Schedule, error) {
	return s.querySchedules(ctx, "SELECT "+scheduleColumns+" FROM schedules WHERE patient_id = ?", patientID)
}

// ListActiveSchedules returns active schedules with an active entry.
func (s *SQLiteStore) ListActiveSchedules(ctx context.Context) ([]*domain.Schedule, error) {
	return s.querySchedules(ctx, `
		SELECT s.id, s.regimen_entry_id, s.patient_id, s.medicine_name, s.dose_amount, s.dose_unit, s.frequency,
			s.time_of_day, s.days, s.active, s.created_at, s.deactivated_at
		FROM schedules s
		JOIN regimen_entries e ON e.id = s.regimen_entry_id
		WHERE s.active = 1 AND e.status = 'active'
	`)
}

func (s *SQLiteStore) querySchedules(ctx context.Context, query string, args ...interface{}) ([]*domain.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Unavailable("listing schedules", err)
	}
	defer rows.Close()

	var out []*domain.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning schedule: %w", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable("listing schedules", err)
	}
	domain.SortSchedules(out)
	return out, nil
}

// UpsertDoseEvent inserts or overwrites the event for (schedule, slot).
func (s *SQLiteStore) UpsertDoseEvent(ctx context.Context, event *domain.DoseEvent) (*domain.DoseEvent, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dose_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(schedule_id, scheduled_at) DO UPDATE SET
			outcome = excluded.outcome,
			recorded_at = excluded.recorded_at,
			source = excluded.source,
			note = excluded.note
	`,
		event.ID, event.PatientID, event.ScheduleID, event.MedicineName, toMillis(event.ScheduledAt),
		string(event.Outcome), toMillis(event.RecordedAt), string(event.Source), event.Note,
	)
	if err != nil {
		return nil, domain.Unavailable("upserting dose event", err)
	}
	return s.GetDoseEvent(ctx, event.ScheduleID, event.ScheduledAt)
}

// GetDoseEvent returns the event for (schedule, slot).
func (s *SQLiteStore) GetDoseEvent(ctx context.Context, scheduleID string, scheduledAt time.Time) (*domain.DoseEvent, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+eventColumns+" FROM dose_events WHERE schedule_id = ? AND scheduled_at = ?",
		scheduleID, toMillis(scheduledAt),
	)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dose event: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, domain.Unavailable("getting dose event", err)
	}
	return e, nil
}

// ListDoseEvents returns events with scheduled_at in [from, to).
func (s *SQLiteStore) ListDoseEvents(ctx context.Context, patientID string, from, to time.Time) ([]*domain.DoseEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM dose_events
		WHERE patient_id = ? AND scheduled_at >= ? AND scheduled_at < ?
		ORDER BY scheduled_at, schedule_id
	`, patientID, toMillis(from), toMillis(to))
	if err != nil {
		return nil, domain.Unavailable("listing dose events", err)
	}
	defer rows.Close()

	var out []*domain.DoseEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning dose event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveAdherenceState stores the state as JSON.
func (s *SQLiteStore) SaveAdherenceState(ctx context.Context, state *domain.AdherenceState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding adherence state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO adherence_states (patient_id, state, last_updated) VALUES (?, ?, ?)
		ON CONFLICT(patient_id) DO UPDATE SET state = excluded.state, last_updated = excluded.last_updated
	`, state.PatientID, string(data), toMillis(state.LastUpdated))
	if err != nil {
		return domain.Unavailable("saving adherence state", err)
	}
	return nil
}

// GetAdherenceState loads the stored state.
func (s *SQLiteStore) GetAdherenceState(ctx context.Context, patientID string) (*domain.AdherenceState, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT state FROM adherence_states WHERE patient_id = ?", patientID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("adherence state for %s: %w", patientID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, domain.Unavailable("getting adherence state", err)
	}

	var state domain.AdherenceState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("decoding adherence state: %w", err)
	}
	return &state, nil
}

// Health pings the database.
func (s *SQLiteStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func toNullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func encodeDays(days []time.Weekday) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(int(d))
	}
	return strings.Join(parts, ",")
}

func decodeDays(s string) ([]time.Weekday, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	days := make([]time.Weekday, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 6 {
			return nil, domain.NewValidationError("days", "malformed stored day set", s)
		}
		days = append(days, time.Weekday(n))
	}
	return days, nil
}

// sqliteCode returns the extended result code of a driver error, or 0.
func sqliteCode(err error) int {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return 0
	}
	return se.Code()
}

func isUniqueViolation(err error) bool {
	switch sqliteCode(err) {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}
