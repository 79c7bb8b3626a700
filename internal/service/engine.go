package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/meditrek-engine/internal/catalog"
	"github.com/meditrek-engine/internal/domain"
	"github.com/meditrek-engine/pkg/dosage"
)

// Engine defaults
const (
	DefaultGraceWindow        = 120 * time.Minute
	DefaultFreshnessThreshold = 15 * time.Minute
	DefaultOnTimeWindow       = 30 * time.Minute
)

// EngineConfig tunes the engine.
type EngineConfig struct {
	Location            *time.Location
	GraceWindow         time.Duration
	FreshnessThreshold  time.Duration
	OnTimeWindow        time.Duration
	ConfidenceThreshold float64
	Rules               *GamificationRules
}

// EngineConfigFromDomain resolves the engine and predictor sections of the
// loaded configuration.
func EngineConfigFromDomain(cfg domain.EngineConfig, predictor domain.PredictorConfig) (EngineConfig, error) {
	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return EngineConfig{}, domain.NewValidationError("engine.timezone", err.Error(), cfg.Timezone)
		}
		loc = l
	}
	return EngineConfig{
		Location:            loc,
		GraceWindow:         cfg.GraceWindow,
		FreshnessThreshold:  cfg.FreshnessThreshold,
		OnTimeWindow:        cfg.OnTimeWindow,
		ConfidenceThreshold: predictor.ConfidenceThreshold,
	}, nil
}

func (c *EngineConfig) applyDefaults() {
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.GraceWindow <= 0 {
		c.GraceWindow = DefaultGraceWindow
	}
	if c.FreshnessThreshold <= 0 {
		c.FreshnessThreshold = DefaultFreshnessThreshold
	}
	if c.OnTimeWindow <= 0 {
		c.OnTimeWindow = DefaultOnTimeWindow
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if c.Rules == nil {
		rules := DefaultGamificationRules()
		c.Rules = &rules
	}
}

// Option configures optional collaborators of the Engine.
type Option func(*Engine)

// WithPredictor enables advisory severity predictions.
func WithPredictor(p domain.SeverityPredictor) Option {
	return func(e *Engine) { e.predictor = p }
}

// WithCache fronts adherence reads with cache.
func WithCache(c domain.AdherenceCache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithClock replaces the wall clock.
func WithClock(c domain.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// Engine is the entry point to interaction checks, regimen management, dose
// recording and adherence state.
type Engine struct {
	store      domain.Store
	catalog    *catalog.Catalog
	predictor  domain.SeverityPredictor
	cache      domain.AdherenceCache
	clock      domain.Clock
	detector   *ConflictDetector
	calculator *AdherenceCalculator
	locks      *PatientLocks
	validate   *validator.Validate
	logger     *logrus.Logger
	cfg        EngineConfig
}

// NewEngine wires an engine over store and cat.
func NewEngine(store domain.Store, cat *catalog.Catalog, cfg EngineConfig, logger *logrus.Logger, opts ...Option) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		store:    store,
		catalog:  cat,
		clock:    domain.SystemClock{},
		locks:    NewPatientLocks(),
		validate: newValidator(),
		logger:   logger,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.detector = NewConflictDetector(cat, e.predictor, cfg.ConfidenceThreshold, logger)
	e.calculator = NewAdherenceCalculator(*cfg.Rules, cfg.Location, cfg.GraceWindow, cfg.OnTimeWindow)
	return e
}

// Location returns the time zone used for calendar days.
func (e *Engine) Location() *time.Location { return e.cfg.Location }

// GraceWindow returns how long after a slot a dose may still be logged before it counts as missed.
func (e *Engine) GraceWindow() time.Duration { return e.cfg.GraceWindow }

// Now reads the engine clock.
func (e *Engine) Now() time.Time { return e.now() }

// Catalog returns the interaction catalog.
func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

// Health checks the store.
func (e *Engine) Health(ctx context.Context) error {
	return e.store.Health(ctx)
}

func (e *Engine) now() time.Time {
	return e.clock.Now().In(e.cfg.Location)
}

// CheckInteractions checks candidate against the given active medicines.
func (e *Engine) CheckInteractions(ctx context.Context, active []string, candidate string) (*domain.ConflictReport, error) {
	report, err := e.detector.Check(ctx, active, candidate)
	if err != nil {
		return nil, err
	}
	report.CheckedAt = e.now()

	e.logger.WithFields(logrus.Fields{
		"candidate": report.Candidate,
		"active":    len(active),
		"verdict":   report.Verdict,
		"matches":   len(report.Matches),
	}).Debug("Interaction check completed")

	return report, nil
}

// CheckPatientInteractions checks candidate against the patient's active regimen.
func (e *Engine) CheckPatientInteractions(ctx context.Context, patientID, candidate string) (*domain.ConflictReport, error) {
	if patientID == "" {
		return nil, domain.NewValidationError("patient_id", "patient id is required", patientID)
	}
	entries, err := e.store.ListRegimenEntries(ctx, patientID, false)
	if err != nil {
		return nil, fmt.Errorf("loading regimen for %s: %w", patientID, err)
	}
	return e.CheckInteractions(ctx, medicineNames(entries), candidate)
}

// ScanRegimen reports every catalog interaction within medicines.
func (e *Engine) ScanRegimen(ctx context.Context, medicines []string) (*domain.RegimenScan, error) {
	if len(medicines) == 0 {
		return nil, domain.NewValidationError("medicines", "at least one medicine is required", medicines)
	}
	scan := e.detector.Scan(medicines)
	scan.CheckedAt = e.now()
	return scan, nil
}

// ScanPatientRegimen scans the patient's active regimen.
func (e *Engine) ScanPatientRegimen(ctx context.Context, patientID string) (*domain.RegimenScan, error) {
	entries, err := e.store.ListRegimenEntries(ctx, patientID, false)
	if err != nil {
		return nil, fmt.Errorf("loading regimen for %s: %w", patientID, err)
	}
	scan := e.detector.Scan(medicineNames(entries))
	scan.CheckedAt = e.now()
	return scan, nil
}

func medicineNames(entries []*domain.RegimenEntry) []string {
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.MedicineName)
	}
	return names
}

// AddRegimenEntry stores a new active regimen entry. The dosage, when given,
// is normalized through pkg/dosage.
func (e *Engine) AddRegimenEntry(ctx context.Context, req AddRegimenEntryRequest) (*domain.RegimenEntry, error) {
	if err := validateStruct(e.validate, req); err != nil {
		return nil, err
	}
	name := catalog.Normalize(req.MedicineName)
	if name == "" {
		return nil, domain.NewValidationError("medicine_name", "medicine name is required", req.MedicineName)
	}
	if m, ok := e.catalog.Medicine(name); ok {
		req.MedicineName = m.Name
	}

	dosageText := req.Dosage
	if dosageText != "" {
		d, err := dosage.Parse(dosageText)
		if err != nil {
			return nil, err
		}
		dosageText = d.String()
	}

	now := e.now()
	startedAt := now
	if req.StartedAt != nil {
		startedAt = *req.StartedAt
	}
	frequency := req.Frequency
	if frequency == "" {
		frequency = domain.FrequencyDaily
	}

	entry := &domain.RegimenEntry{
		ID:           uuid.New().String(),
		PatientID:    req.PatientID,
		MedicineName: req.MedicineName,
		Dosage:       dosageText,
		Frequency:    frequency,
		Purpose:      req.Purpose,
		AgeYears:     req.AgeYears,
		WeightKg:     req.WeightKg,
		Status:       domain.RegimenActive,
		StartedAt:    startedAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	release, err := e.locks.Acquire(ctx, req.PatientID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := e.store.CreateRegimenEntry(ctx, entry); err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"entry_id":   entry.ID,
		"patient_id": entry.PatientID,
		"medicine":   entry.MedicineName,
	}).Info("Regimen entry added")

	return entry, nil
}

// DiscontinueRegimenEntry marks the entry discontinued. The row is kept for
// history; discontinuing twice is a no-op.
func (e *Engine) DiscontinueRegimenEntry(ctx context.Context, entryID string) (*domain.RegimenEntry, error) {
	current, err := e.store.GetRegimenEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}

	release, err := e.locks.Acquire(ctx, current.PatientID)
	if err != nil {
		return nil, err
	}
	defer release()

	entry, err := e.store.DiscontinueRegimenEntry(ctx, entryID, e.now())
	if err != nil {
		return nil, err
	}
	if _, err := e.recomputeLocked(ctx, entry.PatientID); err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"entry_id":   entry.ID,
		"patient_id": entry.PatientID,
	}).Info("Regimen entry discontinued")

	return entry, nil
}

// ListRegimen returns the patient's regimen entries.
func (e *Engine) ListRegimen(ctx context.Context, patientID string, includeInactive bool) ([]*domain.RegimenEntry, error) {
	return e.store.ListRegimenEntries(ctx, patientID, includeInactive)
}

// AddSchedule creates a schedule for an active regimen entry.
func (e *Engine) AddSchedule(ctx context.Context, req AddScheduleRequest) (*domain.Schedule, error) {
	if err := validateStruct(e.validate, req); err != nil {
		return nil, err
	}
	dose, err := dosage.Parse(req.Dose)
	if err != nil {
		return nil, err
	}
	tod, err := domain.ParseTimeOfDay(req.TimeOfDay)
	if err != nil {
		return nil, err
	}

	entry, err := e.store.GetRegimenEntry(ctx, req.RegimenEntryID)
	if err != nil {
		return nil, err
	}
	if !entry.Status.IsActive() {
		return nil, domain.NewValidationError("regimen_entry_id", "regimen entry is not active", req.RegimenEntryID)
	}

	frequency := req.Frequency
	if frequency == "" {
		frequency = entry.Frequency
	}
	if !frequency.IsValid() {
		frequency = domain.FrequencyDaily
	}

	now := e.now()
	days, err := scheduleDays(frequency, req.Days, now)
	if err != nil {
		return nil, err
	}

	sc := &domain.Schedule{
		ID:             uuid.New().String(),
		RegimenEntryID: entry.ID,
		PatientID:      entry.PatientID,
		MedicineName:   entry.MedicineName,
		DoseAmount:     dose.Amount,
		DoseUnit:       dose.Unit,
		Frequency:      frequency,
		TimeOfDay:      tod,
		Days:           days,
		Active:         true,
		CreatedAt:      now,
	}

	release, err := e.locks.Acquire(ctx, entry.PatientID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := e.store.CreateSchedule(ctx, sc); err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"schedule_id": sc.ID,
		"patient_id":  sc.PatientID,
		"medicine":    sc.MedicineName,
		"time_of_day": sc.TimeOfDay.String(),
		"frequency":   sc.Frequency,
	}).Info("Schedule added")

	return sc, nil
}

// scheduleDays resolves the weekday set for a frequency. Daily schedules run
// every day; weekly ones default to the creation weekday; custom ones need at
// least one day.
func scheduleDays(frequency domain.Frequency, raw []string, now time.Time) ([]time.Weekday, error) {
	seen := make(map[time.Weekday]bool)
	var days []time.Weekday
	for _, r := range raw {
		d, err := domain.ParseWeekday(r)
		if err != nil {
			return nil, err
		}
		if !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })

	switch frequency {
	case domain.FrequencyDaily, domain.FrequencyAsNeeded:
		return nil, nil
	case domain.FrequencyWeekly:
		if len(days) == 0 {
			return []time.Weekday{now.Weekday()}, nil
		}
	case domain.FrequencyCustom:
		if len(days) == 0 {
			return nil, domain.NewValidationError("days", "custom schedules need at least one day", raw)
		}
	}
	return days, nil
}

// DeactivateSchedule stops a schedule. Its dose history stays queryable.
func (e *Engine) DeactivateSchedule(ctx context.Context, scheduleID string) (*domain.Schedule, error) {
	current, err := e.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}

	release, err := e.locks.Acquire(ctx, current.PatientID)
	if err != nil {
		return nil, err
	}
	defer release()

	sc, err := e.store.DeactivateSchedule(ctx, scheduleID, e.now())
	if err != nil {
		return nil, err
	}
	if _, err := e.recomputeLocked(ctx, sc.PatientID); err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"schedule_id": sc.ID,
		"patient_id":  sc.PatientID,
	}).Info("Schedule deactivated")

	return sc, nil
}

// ListActiveSchedules returns, across all patients, the active schedules of
// active entries that apply on asOf's weekday, ordered by time of day then id.
func (e *Engine) ListActiveSchedules(ctx context.Context, asOf time.Time) ([]*domain.Schedule, error) {
	all, err := e.store.ListActiveSchedules(ctx)
	if err != nil {
		return nil, err
	}
	weekday := asOf.In(e.cfg.Location).Weekday()
	out := make([]*domain.Schedule, 0, len(all))
	for _, sc := range all {
		if sc.AppliesOn(weekday) {
			out = append(out, sc)
		}
	}
	domain.SortSchedules(out)
	return out, nil
}

// ListPatientSchedules returns the patient's schedules, optionally including
// deactivated ones.
func (e *Engine) ListPatientSchedules(ctx context.Context, patientID string, includeInactive bool) ([]*domain.Schedule, error) {
	all, err := e.store.ListSchedules(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if includeInactive {
		return all, nil
	}
	out := make([]*domain.Schedule, 0, len(all))
	for _, sc := range all {
		if sc.Active {
			out = append(out, sc)
		}
	}
	return out, nil
}

// RecordDose logs a manual outcome for the slot req.At belongs to. A second
// record for the same slot overwrites the first.
func (e *Engine) RecordDose(ctx context.Context, req RecordDoseRequest) (*domain.DoseEvent, error) {
	if err := validateStruct(e.validate, req); err != nil {
		return nil, err
	}
	at := req.At
	if at.IsZero() {
		at = e.now()
	}

	sc, err := e.store.GetSchedule(ctx, req.ScheduleID)
	if err != nil {
		return nil, err
	}

	release, err := e.locks.Acquire(ctx, sc.PatientID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := e.checkActive(ctx, sc, at); err != nil {
		return nil, err
	}
	slot, err := e.slotFor(sc, at)
	if err != nil {
		return nil, err
	}

	event, err := e.store.UpsertDoseEvent(ctx, &domain.DoseEvent{
		ID:           uuid.New().String(),
		PatientID:    sc.PatientID,
		ScheduleID:   sc.ID,
		MedicineName: sc.MedicineName,
		ScheduledAt:  slot,
		Outcome:      req.Outcome,
		RecordedAt:   at,
		Source:       domain.SourceManual,
		Note:         req.Note,
	})
	if err != nil {
		return nil, err
	}

	if _, err := e.recomputeLocked(ctx, sc.PatientID); err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"event_id":     event.ID,
		"patient_id":   event.PatientID,
		"schedule_id":  event.ScheduleID,
		"scheduled_at": event.ScheduledAt,
		"outcome":      event.Outcome,
	}).Info("Dose recorded")

	return event, nil
}

// RecordMissed records an automatic miss for slot unless an event already
// exists for it. The bool reports whether a new event was written.
func (e *Engine) RecordMissed(ctx context.Context, scheduleID string, slot time.Time) (*domain.DoseEvent, bool, error) {
	sc, err := e.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, false, err
	}

	release, err := e.locks.Acquire(ctx, sc.PatientID)
	if err != nil {
		return nil, false, err
	}
	defer release()

	existing, err := e.store.GetDoseEvent(ctx, scheduleID, slot)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}
	if err := e.checkActive(ctx, sc, slot); err != nil {
		return nil, false, err
	}

	event, err := e.store.UpsertDoseEvent(ctx, &domain.DoseEvent{
		ID:           uuid.New().String(),
		PatientID:    sc.PatientID,
		ScheduleID:   sc.ID,
		MedicineName: sc.MedicineName,
		ScheduledAt:  slot,
		Outcome:      domain.OutcomeMissed,
		RecordedAt:   e.now(),
		Source:       domain.SourceAuto,
	})
	if err != nil {
		return nil, false, err
	}

	if _, err := e.recomputeLocked(ctx, sc.PatientID); err != nil {
		return nil, false, err
	}

	e.logger.WithFields(logrus.Fields{
		"patient_id":   sc.PatientID,
		"schedule_id":  sc.ID,
		"scheduled_at": slot,
	}).Info("Dose auto-recorded as missed")

	return event, true, nil
}

// FindDoseEvent returns the event for (schedule, slot), or nil when none exists.
func (e *Engine) FindDoseEvent(ctx context.Context, scheduleID string, slot time.Time) (*domain.DoseEvent, error) {
	event, err := e.store.GetDoseEvent(ctx, scheduleID, slot)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return event, err
}

// ListDoseHistory returns the patient's events with slots in [from, to).
func (e *Engine) ListDoseHistory(ctx context.Context, patientID string, from, to time.Time) ([]*domain.DoseEvent, error) {
	if patientID == "" {
		return nil, domain.NewValidationError("patient_id", "patient id is required", patientID)
	}
	if !from.Before(to) {
		return nil, domain.NewValidationError("to", "range end must be after its start", to)
	}
	return e.store.ListDoseEvents(ctx, patientID, from, to)
}

// checkActive fails with ErrScheduleInactive unless the schedule and its
// entry are active at t.
func (e *Engine) checkActive(ctx context.Context, sc *domain.Schedule, t time.Time) error {
	if !sc.ActiveAt(t) {
		return fmt.Errorf("schedule %s at %s: %w", sc.ID, t.Format(time.RFC3339), domain.ErrScheduleInactive)
	}
	entry, err := e.store.GetRegimenEntry(ctx, sc.RegimenEntryID)
	if err != nil {
		return err
	}
	if !entry.ActiveAt(t) {
		return fmt.Errorf("regimen entry %s at %s: %w", entry.ID, t.Format(time.RFC3339), domain.ErrScheduleInactive)
	}
	return nil
}

// slotFor resolves the slot a dose logged at at belongs to: the next
// slot when at is within the on-time window before it, otherwise the latest
// slot at or before at. Slots never lie in the future beyond that window and
// never precede the schedule. As-needed schedules have no slots; their doses
// are filed at the minute they were taken.
func (e *Engine) slotFor(sc *domain.Schedule, at time.Time) (time.Time, error) {
	local := at.In(e.cfg.Location)
	if sc.Frequency == domain.FrequencyAsNeeded {
		return local.Truncate(time.Minute), nil
	}

	day := domain.StartOfDay(local, e.cfg.Location)
	for _, offset := range []int{0, 1} {
		d := day.AddDate(0, 0, offset)
		if !sc.AppliesOn(d.Weekday()) {
			continue
		}
		slot := sc.SlotOn(d, e.cfg.Location)
		if slot.After(local) {
			if slot.Sub(local) <= e.cfg.OnTimeWindow {
				return slot, nil
			}
			break
		}
	}

	for offset := 0; offset >= -7; offset-- {
		d := day.AddDate(0, 0, offset)
		if !sc.AppliesOn(d.Weekday()) {
			continue
		}
		slot := sc.SlotOn(d, e.cfg.Location)
		if slot.After(local) {
			continue
		}
		if !sc.ActiveAt(slot) {
			break
		}
		return slot, nil
	}
	return time.Time{}, domain.NewValidationError("at", "no scheduled slot is due yet", at)
}

// GetAdherenceState returns the patient's state, recomputing it when the
// cached or stored copy is older than the freshness threshold.
func (e *Engine) GetAdherenceState(ctx context.Context, patientID string) (*domain.AdherenceState, error) {
	if patientID == "" {
		return nil, domain.NewValidationError("patient_id", "patient id is required", patientID)
	}
	now := e.now()

	if e.cache != nil {
		state, ok, err := e.cache.Get(ctx, patientID)
		if err != nil {
			e.logger.WithField("patient_id", patientID).WithError(err).Warn("Adherence cache read failed")
		} else if ok && e.fresh(state, now) {
			return state, nil
		}
	}

	state, err := e.store.GetAdherenceState(ctx, patientID)
	switch {
	case err == nil && e.fresh(state, now):
		e.cacheState(ctx, state)
		return state, nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	return e.Recompute(ctx, patientID)
}

func (e *Engine) fresh(state *domain.AdherenceState, now time.Time) bool {
	return now.Sub(state.LastUpdated) < e.cfg.FreshnessThreshold
}

// Recompute rebuilds and stores the patient's adherence state.
func (e *Engine) Recompute(ctx context.Context, patientID string) (*domain.AdherenceState, error) {
	release, err := e.locks.Acquire(ctx, patientID)
	if err != nil {
		return nil, err
	}
	defer release()
	return e.recomputeLocked(ctx, patientID)
}

func (e *Engine) recomputeLocked(ctx context.Context, patientID string) (*domain.AdherenceState, error) {
	now := e.now()

	schedules, err := e.store.ListSchedules(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("loading schedules: %w", err)
	}
	entries, err := e.store.ListRegimenEntries(ctx, patientID, true)
	if err != nil {
		return nil, fmt.Errorf("loading regimen: %w", err)
	}
	byID := make(map[string]*domain.RegimenEntry, len(entries))
	for _, entry := range entries {
		byID[entry.ID] = entry
	}

	from := domain.StartOfDay(now, e.cfg.Location).AddDate(0, 0, -30)
	for _, sc := range schedules {
		if start := domain.StartOfDay(sc.CreatedAt, e.cfg.Location); start.Before(from) {
			from = start
		}
	}
	to := domain.StartOfDay(now, e.cfg.Location).AddDate(0, 0, 2)
	events, err := e.store.ListDoseEvents(ctx, patientID, from, to)
	if err != nil {
		return nil, fmt.Errorf("loading dose events: %w", err)
	}

	var previous *domain.AdherenceState
	prev, err := e.store.GetAdherenceState(ctx, patientID)
	switch {
	case err == nil:
		previous = prev
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("loading adherence state: %w", err)
	}

	state := e.calculator.Recompute(AdherenceInput{
		PatientID: patientID,
		Schedules: schedules,
		Entries:   byID,
		Events:    events,
		Previous:  previous,
		Now:       now,
	})

	if err := e.store.SaveAdherenceState(ctx, state); err != nil {
		return nil, fmt.Errorf("saving adherence state: %w", err)
	}
	e.cacheState(ctx, state)

	e.logger.WithFields(logrus.Fields{
		"patient_id":     patientID,
		"current_streak": state.CurrentStreak,
		"total_points":   state.TotalPoints,
		"level":          state.Level,
	}).Debug("Adherence state recomputed")

	return state, nil
}

func (e *Engine) cacheState(ctx context.Context, state *domain.AdherenceState) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Set(ctx, state); err != nil {
		e.logger.WithField("patient_id", state.PatientID).WithError(err).Warn("Adherence cache write failed")
	}
}
