package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/meditrek-engine/internal/domain"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresStore implements domain.Store on a pgx connection pool. The schema
// comes from the migrations package.
type PostgresStore struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewPostgresStore creates a store over an established pool.
func NewPostgresStore(db *pgxpool.Pool, logger *logrus.Logger) *PostgresStore {
	return &PostgresStore{
		db:  db,
		log: logger,
	}
}

func pgErrCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// CreateRegimenEntry inserts a new entry. The partial unique index on
// (patient_id, medicine_key) WHERE status = 'active' enforces one active
// entry per medicine.
func (r *PostgresStore) CreateRegimenEntry(ctx context.Context, entry *domain.RegimenEntry) error {
	query := `
		INSERT INTO regimen_entries (
			id, patient_id, medicine_name, medicine_key, dosage, frequency, purpose,
			age_years, weight_kg, status, started_at, discontinued_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)`

	_, err := r.db.Exec(ctx, query,
		entry.ID,
		entry.PatientID,
		entry.MedicineName,
		domain.NormalizeName(entry.MedicineName),
		entry.Dosage,
		string(entry.Frequency),
		entry.Purpose,
		entry.AgeYears,
		entry.WeightKg,
		string(entry.Status),
		entry.StartedAt,
		entry.DiscontinuedAt,
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	if err != nil {
		if pgErrCode(err) == pgUniqueViolation {
			return fmt.Errorf("%s for patient %s: %w", entry.MedicineName, entry.PatientID, domain.ErrDuplicateActiveMedicine)
		}
		r.log.WithFields(logrus.Fields{
			"entry_id":   entry.ID,
			"patient_id": entry.PatientID,
			"error":      err,
		}).Error("Failed to create regimen entry")
		return domain.Unavailable("creating regimen entry", err)
	}

	r.log.WithFields(logrus.Fields{
		"entry_id":   entry.ID,
		"patient_id": entry.PatientID,
		"medicine":   entry.MedicineName,
	}).Debug("Regimen entry created")

	return nil
}

const pgEntryColumns = `id, patient_id, medicine_name, dosage, frequency, purpose, age_years, weight_kg,
	status, started_at, discontinued_at, created_at, updated_at`

func scanPgEntry(row pgx.Row) (*domain.RegimenEntry, error) {
	var (
		e                 domain.RegimenEntry
		frequency, status string
	)
	err := row.Scan(&e.ID, &e.PatientID, &e.MedicineName, &e.Dosage, &frequency, &e.Purpose, &e.AgeYears,
		&e.WeightKg, &status, &e.StartedAt, &e.DiscontinuedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Frequency = domain.Frequency(frequency)
	e.Status = domain.RegimenStatus(status)
	return &e, nil
}

// GetRegimenEntry retrieves an entry by id
func (r *PostgresStore) GetRegimenEntry(ctx context.Context, id string) (*domain.RegimenEntry, error) {
	e, err := scanPgEntry(r.db.QueryRow(ctx, "SELECT "+pgEntryColumns+" FROM regimen_entries WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("regimen entry %s: %w", id, domain.ErrRegimenEntryNotFound)
		}
		return nil, domain.Unavailable("getting regimen entry", err)
	}
	return e, nil
}

// ListRegimenEntries returns the patient's entries ordered by start time.
func (r *PostgresStore) ListRegimenEntries(ctx context.Context, patientID string, includeInactive bool) ([]*domain.RegimenEntry, error) {
	query := "SELECT " + pgEntryColumns + " FROM regimen_entries WHERE patient_id = $1"
	if !includeInactive {
		query += " AND status = 'active'"
	}
	query += " ORDER BY started_at, id"

	rows, err := r.db.Query(ctx, query, patientID)
	if err != nil {
		return nil, domain.Unavailable("listing regimen entries", err)
	}
	defer rows.Close()

	var out []*domain.RegimenEntry
	for rows.Next() {
		e, err := scanPgEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning regimen entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable("listing regimen entries", err)
	}
	return out, nil
}

// DiscontinueRegimenEntry sets status and discontinued_at once and returns the row.
func (r *PostgresStore) DiscontinueRegimenEntry(ctx context.Context, id string, at time.Time) (*domain.RegimenEntry, error) {
	_, err := r.db.Exec(ctx, `
		UPDATE regimen_entries
		SET status = 'discontinued', discontinued_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'active'`, id, at)
	if err != nil {
		return nil, domain.Unavailable("discontinuing regimen entry", err)
	}
	return r.GetRegimenEntry(ctx, id)
}

const pgScheduleColumns = `id, regimen_entry_id, patient_id, medicine_name, dose_amount, dose_unit, frequency,
	time_of_day, days, active, created_at, deactivated_at`

func scanPgSchedule(row pgx.Row) (*domain.Schedule, error) {
	var (
		sc             domain.Schedule
		frequency, tod string
		days           []int32
	)
	err := row.Scan(&sc.ID, &sc.RegimenEntryID, &sc.PatientID, &sc.MedicineName, &sc.DoseAmount, &sc.DoseUnit,
		&frequency, &tod, &days, &sc.Active, &sc.CreatedAt, &sc.DeactivatedAt)
	if err != nil {
		return nil, err
	}
	sc.Frequency = domain.Frequency(frequency)
	if sc.TimeOfDay, err = domain.ParseTimeOfDay(tod); err != nil {
		return nil, fmt.Errorf("schedule %s: %w", sc.ID, err)
	}
	for _, d := range days {
		sc.Days = append(sc.Days, time.Weekday(d))
	}
	return &sc, nil
}

// CreateSchedule inserts a new schedule
func (r *PostgresStore) CreateSchedule(ctx context.Context, sc *domain.Schedule) error {
	days := make([]int32, len(sc.Days))
	for i, d := range sc.Days {
		days[i] = int32(d)
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO schedules (`+pgScheduleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		sc.ID, sc.RegimenEntryID, sc.PatientID, sc.MedicineName, sc.DoseAmount, sc.DoseUnit,
		string(sc.Frequency), sc.TimeOfDay.String(), days, sc.Active, sc.CreatedAt, sc.DeactivatedAt,
	)
	if err != nil {
		if pgErrCode(err) == pgForeignKeyViolation {
			return fmt.Errorf("regimen entry %s: %w", sc.RegimenEntryID, domain.ErrRegimenEntryNotFound)
		}
		return domain.Unavailable("creating schedule", err)
	}
	return nil
}

// GetSchedule retrieves a schedule by id
func (r *PostgresStore) GetSchedule(ctx context.Context, id string) (*domain.Schedule, error) {
	sc, err := scanPgSchedule(r.db.QueryRow(ctx, "SELECT "+pgScheduleColumns+" FROM schedules WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("schedule %s: %w", id, domain.ErrScheduleNotFound)
		}
		return nil, domain.Unavailable("getting schedule", err)
	}
	return sc, nil
}

// DeactivateSchedule clears the active flag once and returns the row.
func (r *PostgresStore) DeactivateSchedule(ctx context.Context, id string, at time.Time) (*domain.Schedule, error) {
	_, err := r.db.Exec(ctx,
		"UPDATE schedules SET active = FALSE, deactivated_at = $2 WHERE id = $1 AND active", id, at)
	if err != nil {
		return nil, domain.Unavailable("deactivating schedule", err)
	}
	return r.GetSchedule(ctx, id)
}

// ListSchedules returns every schedule of a patient.
func (r *PostgresStore) ListSchedules(ctx context.Context, patientID string) ([]*domain.Schedule, error) {
	return r.querySchedules(ctx, "SELECT "+pgScheduleColumns+" FROM schedules WHERE patient_id = $1", patientID)
}

// ListActiveSchedules returns active schedules with an active entry, all patients.
func (r *PostgresStore) ListActiveSchedules(ctx context.Context) ([]*domain.Schedule, error) {
	return r.querySchedules(ctx, `
		SELECT s.id, s.regimen_entry_id, s.patient_id, s.medicine_name, s.dose_amount, s.dose_unit, s.frequency,
			s.time_of_day, s.days, s.active, s.created_at, s.deactivated_at
		FROM schedules s
		JOIN regimen_entries e ON e.id = s.regimen_entry_id
		WHERE s.active AND e.status = 'active'`)
}

func (r *PostgresStore) querySchedules(ctx context.Context, query string, args ...any) ([]*domain.Schedule, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.Unavailable("listing schedules", err)
	}
	defer rows.Close()

	var out []*domain.Schedule
	for rows.Next() {
		sc, err := scanPgSchedule(rows)
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

const pgEventColumns = `id, patient_id, schedule_id, medicine_name, scheduled_at, outcome, recorded_at, source, note`

func scanPgEvent(row pgx.Row) (*domain.DoseEvent, error) {
	var (
		e               domain.DoseEvent
		outcome, source string
	)
	if err := row.Scan(&e.ID, &e.PatientID, &e.ScheduleID, &e.MedicineName, &e.ScheduledAt, &outcome,
		&e.RecordedAt, &source, &e.Note); err != nil {
		return nil, err
	}
	e.Outcome = domain.Outcome(outcome)
	e.Source = domain.DoseSource(source)
	return &e, nil
}

// UpsertDoseEvent inserts the event or overwrites the one already stored for
// the same (schedule_id, scheduled_at), keeping the original id.
func (r *PostgresStore) UpsertDoseEvent(ctx context.Context, event *domain.DoseEvent) (*domain.DoseEvent, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO dose_events (`+pgEventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (schedule_id, scheduled_at) DO UPDATE SET
			outcome = EXCLUDED.outcome,
			recorded_at = EXCLUDED.recorded_at,
			source = EXCLUDED.source,
			note = EXCLUDED.note
		RETURNING `+pgEventColumns,
		event.ID, event.PatientID, event.ScheduleID, event.MedicineName, event.ScheduledAt,
		string(event.Outcome), event.RecordedAt, string(event.Source), event.Note,
	)

	stored, err := scanPgEvent(row)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"schedule_id":  event.ScheduleID,
			"scheduled_at": event.ScheduledAt,
			"error":        err,
		}).Error("Failed to upsert dose event")
		return nil, domain.Unavailable("upserting dose event", err)
	}
	return stored, nil
}

// GetDoseEvent returns the event for (schedule, slot).
func (r *PostgresStore) GetDoseEvent(ctx context.Context, scheduleID string, scheduledAt time.Time) (*domain.DoseEvent, error) {
	e, err := scanPgEvent(r.db.QueryRow(ctx,
		"SELECT "+pgEventColumns+" FROM dose_events WHERE schedule_id = $1 AND scheduled_at = $2",
		scheduleID, scheduledAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("dose event: %w", domain.ErrNotFound)
		}
		return nil, domain.Unavailable("getting dose event", err)
	}
	return e, nil
}

// ListDoseEvents returns events with scheduled_at in [from, to), oldest first.
func (r *PostgresStore) ListDoseEvents(ctx context.Context, patientID string, from, to time.Time) ([]*domain.DoseEvent, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+pgEventColumns+` FROM dose_events
		WHERE patient_id = $1 AND scheduled_at >= $2 AND scheduled_at < $3
		ORDER BY scheduled_at, schedule_id`, patientID, from, to)
	if err != nil {
		return nil, domain.Unavailable("listing dose events", err)
	}
	defer rows.Close()

	var out []*domain.DoseEvent
	for rows.Next() {
		e, err := scanPgEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning dose event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable("listing dose events", err)
	}
	return out, nil
}

// SaveAdherenceState upserts the state as JSONB.
func (r *PostgresStore) SaveAdherenceState(ctx context.Context, state *domain.AdherenceState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling adherence state: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO adherence_states (patient_id, state, last_updated) VALUES ($1, $2, $3)
		ON CONFLICT (patient_id) DO UPDATE SET state = EXCLUDED.state, last_updated = EXCLUDED.last_updated`,
		state.PatientID, data, state.LastUpdated)
	if err != nil {
		return domain.Unavailable("saving adherence state", err)
	}
	return nil
}

// GetAdherenceState loads the stored state.
func (r *PostgresStore) GetAdherenceState(ctx context.Context, patientID string) (*domain.AdherenceState, error) {
	var data []byte
	err := r.db.QueryRow(ctx, "SELECT state FROM adherence_states WHERE patient_id = $1", patientID).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("adherence state for %s: %w", patientID, domain.ErrNotFound)
		}
		return nil, domain.Unavailable("getting adherence state", err)
	}

	var state domain.AdherenceState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshaling adherence state: %w", err)
	}
	return &state, nil
}

// Health pings the pool.
func (r *PostgresStore) Health(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// Close closes the pool.
func (r *PostgresStore) Close() error {
	r.db.Close()
	return nil
}
