package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meditrek-engine/internal/domain"
)

type stubCache struct {
	mu     sync.Mutex
	states map[string]*domain.AdherenceState
	gets   int
}

func newStubCache() *stubCache {
	return &stubCache{states: make(map[string]*domain.AdherenceState)}
}

func (c *stubCache) Get(ctx context.Context, patientID string) (*domain.AdherenceState, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	s, ok := c.states[patientID]
	return s, ok, nil
}

func (c *stubCache) Set(ctx context.Context, state *domain.AdherenceState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[state.PatientID] = state
	return nil
}

func (c *stubCache) Invalidate(ctx context.Context, patientID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, patientID)
	return nil
}

func addDailySchedule(t *testing.T, e *Engine, patientID, medicine, tod string) *domain.Schedule {
	t.Helper()
	ctx := context.Background()
	entry, err := e.AddRegimenEntry(ctx, AddRegimenEntryRequest{
		PatientID:    patientID,
		MedicineName: medicine,
		Dosage:       "500mg",
	})
	require.NoError(t, err)
	sc, err := e.AddSchedule(ctx, AddScheduleRequest{
		RegimenEntryID: entry.ID,
		Dose:           "1 tablet",
		TimeOfDay:      tod,
	})
	require.NoError(t, err)
	return sc
}

func TestEngine_AddRegimenEntry(t *testing.T) {
	clock := newManualClock(at(4, 9, 0))
	e, _ := newTestEngine(t, clock)
	ctx := context.Background()

	entry, err := e.AddRegimenEntry(ctx, AddRegimenEntryRequest{
		PatientID:    "p1",
		MedicineName: " metformin hydrochloride ",
		Dosage:       "500MG",
	})
	require.NoError(t, err)
	assert.Equal(t, "Metformin", entry.MedicineName, "catalog name is used")
	assert.Equal(t, "500 mg", entry.Dosage)
	assert.Equal(t, domain.FrequencyDaily, entry.Frequency)
	assert.Equal(t, domain.RegimenActive, entry.Status)
	assert.True(t, entry.StartedAt.Equal(at(4, 9, 0)))

	_, err = e.AddRegimenEntry(ctx, AddRegimenEntryRequest{PatientID: "p1", MedicineName: "METFORMIN"})
	assert.True(t, errors.Is(err, domain.ErrDuplicateActiveMedicine))
	assert.Equal(t, domain.CodeDuplicateActiveMedicine, domain.ErrorCode(err))

	_, err = e.AddRegimenEntry(ctx, AddRegimenEntryRequest{PatientID: "", MedicineName: "Aspirin"})
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "patient_id", verr.Field)

	_, err = e.AddRegimenEntry(ctx, AddRegimenEntryRequest{PatientID: "p1", MedicineName: "Aspirin", Dosage: "lots"})
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = e.AddRegimenEntry(ctx, AddRegimenEntryRequest{PatientID: "p1", MedicineName: "Aspirin", Frequency: "hourly"})
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "frequency", verr.Field)
}

func TestEngine_DiscontinueRegimenEntry(t *testing.T) {
	clock := newManualClock(at(4, 9, 0))
	e, _ := newTestEngine(t, clock)
	ctx := context.Background()

	sc := addDailySchedule(t, e, "p1", "Warfarin", "20:00")
	clock.Advance(time.Hour)

	entry, err := e.DiscontinueRegimenEntry(ctx, sc.RegimenEntryID)
	require.NoError(t, err)
	assert.Equal(t, domain.RegimenDiscontinued, entry.Status)
	require.NotNil(t, entry.DiscontinuedAt)

	again, err := e.DiscontinueRegimenEntry(ctx, sc.RegimenEntryID)
	require.NoError(t, err)
	assert.True(t, again.DiscontinuedAt.Equal(*entry.DiscontinuedAt))

	active, err := e.ListActiveSchedules(ctx, at(4, 12, 0))
	require.NoError(t, err)
	assert.Empty(t, active)

	history, err := e.ListRegimen(ctx, "p1", true)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	report, err := e.CheckPatientInteractions(ctx, "p1", "Aspirin")
	require.NoError(t, err)
	assert.Equal(t, domain.SeverityNone, report.Verdict, "discontinued medicines are not checked")

	_, err = e.DiscontinueRegimenEntry(ctx, "missing")
	assert.Equal(t, domain.CodeRegimenEntryNotFound, domain.ErrorCode(err))
}

func TestEngine_CheckPatientInteractions(t *testing.T) {
	clock := newManualClock(at(4, 9, 0))
	e, _ := newTestEngine(t, clock)
	ctx := context.Background()

	addDailySchedule(t, e, "p1", "Metformin", "08:00")

	report, err := e.CheckPatientInteractions(ctx, "p1", "Lisinopril")
	require.NoError(t, err)
	assert.Equal(t, domain.SeverityMedium, report.Verdict)
	require.Len(t, report.Matches, 1)
	assert.True(t, report.CheckedAt.Equal(at(4, 9, 0)))

	scan, err := e.ScanPatientRegimen(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.SeverityNone, scan.Verdict)

	scan, err = e.ScanRegimen(ctx, []string{"Warfarin", "Aspirin", "Ibuprofen"})
	require.NoError(t, err)
	assert.Equal(t, domain.SeverityHigh, scan.Verdict)
	assert.Len(t, scan.Matches, 3)

	_, err = e.ScanRegimen(ctx, nil)
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestEngine_AddSchedule(t *testing.T) {
	clock := newManualClock(at(4, 9, 0))
	e, _ := newTestEngine(t, clock)
	ctx := context.Background()

	entry, err := e.AddRegimenEntry(ctx, AddRegimenEntryRequest{PatientID: "p1", MedicineName: "Levothyroxine"})
	require.NoError(t, err)

	weekly, err := e.AddSchedule(ctx, AddScheduleRequest{
		RegimenEntryID: entry.ID,
		Dose:           "50 mcg",
		Frequency:      domain.FrequencyWeekly,
		TimeOfDay:      "07:30",
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Weekday{time.Monday}, weekly.Days, "weekly defaults to the creation weekday")
	assert.Equal(t, 50.0, weekly.DoseAmount)
	assert.Equal(t, "mcg", weekly.DoseUnit)

	custom, err := e.AddSchedule(ctx, AddScheduleRequest{
		RegimenEntryID: entry.ID,
		Dose:           "1",
		Frequency:      domain.FrequencyCustom,
		TimeOfDay:      "21:00",
		Days:           []string{"fri", "Tuesday", "2"},
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Weekday{time.Tuesday, time.Friday}, custom.Days)
	assert.Equal(t, "tablet", custom.DoseUnit)

	_, err = e.AddSchedule(ctx, AddScheduleRequest{RegimenEntryID: entry.ID, Dose: "1", Frequency: domain.FrequencyCustom, TimeOfDay: "21:00"})
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = e.AddSchedule(ctx, AddScheduleRequest{RegimenEntryID: entry.ID, Dose: "1", TimeOfDay: "25:00"})
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = e.AddSchedule(ctx, AddScheduleRequest{RegimenEntryID: "missing", Dose: "1", TimeOfDay: "08:00"})
	assert.True(t, errors.Is(err, domain.ErrRegimenEntryNotFound))

	_, err = e.DiscontinueRegimenEntry(ctx, entry.ID)
	require.NoError(t, err)
	_, err = e.AddSchedule(ctx, AddScheduleRequest{RegimenEntryID: entry.ID, Dose: "1", TimeOfDay: "08:00"})
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestEngine_ListActiveSchedules(t *testing.T) {
	clock := newManualClock(at(4, 6, 0))
	e, _ := newTestEngine(t, clock)
	ctx := context.Background()

	evening := addDailySchedule(t, e, "p2", "Simvastatin", "21:00")
	morning := addDailySchedule(t, e, "p1", "Metformin", "08:00")

	entry, err := e.AddRegimenEntry(ctx, AddRegimenEntryRequest{PatientID: "p1", MedicineName: "Levothyroxine"})
	require.NoError(t, err)
	weekend, err := e.AddSchedule(ctx, AddScheduleRequest{
		RegimenEntryID: entry.ID, Dose: "1", Frequency: domain.FrequencyCustom, TimeOfDay: "07:00", Days: []string{"sat", "sun"},
	})
	require.NoError(t, err)

	monday, err := e.ListActiveSchedules(ctx, at(4, 12, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{morning.ID, evening.ID}, scheduleIDs(monday))

	saturday, err := e.ListActiveSchedules(ctx, at(9, 12, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{weekend.ID, morning.ID, evening.ID}, scheduleIDs(saturday))

	_, err = e.DeactivateSchedule(ctx, morning.ID)
	require.NoError(t, err)
	monday, err = e.ListActiveSchedules(ctx, at(4, 12, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{evening.ID}, scheduleIDs(monday))

	all, err := e.ListPatientSchedules(ctx, "p1", true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	current, err := e.ListPatientSchedules(ctx, "p1", false)
	require.NoError(t, err)
	assert.Equal(t, []string{weekend.ID}, scheduleIDs(current))
}

func scheduleIDs(list []*domain.Schedule) []string {
	ids := make([]string, 0, len(list))
	for _, sc := range list {
		ids = append(ids, sc.ID)
	}
	return ids
}

func TestEngine_RecordDoseOverwritesSameSlot(t *testing.T) {
	clock := newManualClock(at(4, 7, 0))
	e, _ := newTestEngine(t, clock)
	ctx := context.Background()

	sc := addDailySchedule(t, e, "p1", "Metformin", "10:00")

	clock.Set(at(4, 10, 1))
	missed, err := e.RecordDose(ctx, RecordDoseRequest{ScheduleID: sc.ID, Outcome: domain.OutcomeMissed})
	require.NoError(t, err)
	assert.True(t, missed.ScheduledAt.Equal(at(4, 10, 0)))

	clock.Set(at(4, 10, 5))
	taken, err := e.RecordDose(ctx, RecordDoseRequest{ScheduleID: sc.ID, Outcome: domain.OutcomeTaken, Note: "late"})
	require.NoError(t, err)
	assert.Equal(t, missed.ID, taken.ID)
	assert.Equal(t, domain.SourceManual, taken.Source)

	history, err := e.ListDoseHistory(ctx, "p1", at(4, 0, 0), at(5, 0, 0))
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.OutcomeTaken, history[0].Outcome)
	assert.Equal(t, "late", history[0].Note)

	state, err := e.GetAdherenceState(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, state.TakenCount)
	assert.Equal(t, 0, state.MissedCount)
	assert.Equal(t, 1, state.CurrentStreak)
	assert.True(t, state.LastUpdated.Equal(at(4, 10, 5)), "recomputed synchronously")
}

func TestEngine_RecordDoseSlotResolution(t *testing.T) {
	clock := newManualClock(at(4, 7, 0))
	e, _ := newTestEngine(t, clock)
	ctx := context.Background()

	sc := addDailySchedule(t, e, "p1", "Simvastatin", "23:30")

	event, err := e.RecordDose(ctx, RecordDoseRequest{ScheduleID: sc.ID, Outcome: domain.OutcomeTaken, At: at(5, 0, 15)})
	require.NoError(t, err)
	assert.True(t, event.ScheduledAt.Equal(at(4, 23, 30)), "previous day's slot is nearer")

	event, err = e.RecordDose(ctx, RecordDoseRequest{ScheduleID: sc.ID, Outcome: domain.OutcomeTaken, At: at(5, 23, 10)})
	require.NoError(t, err)
	assert.True(t, event.ScheduledAt.Equal(at(5, 23, 30)), "an early dose within the on-time window")

	event, err = e.RecordDose(ctx, RecordDoseRequest{ScheduleID: sc.ID, Outcome: domain.OutcomeTaken, At: at(6, 22, 0)})
	require.NoError(t, err)
	assert.True(t, event.ScheduledAt.Equal(at(5, 23, 30)), "too early for tonight's slot")
}

func TestEngine_RecordDoseNeverFilesUnderFutureSlot(t *testing.T) {
	clock := newManualClock(at(4, 7, 0))
	e, _ := newTestEngine(t, clock)
	ctx := context.Background()

	sc := addDailySchedule(t, e, "p1", "Metformin", "08:00")

	// tomorrow's 08:00 is nearer than this morning's, but has not happened yet
	clock.Set(at(4, 20, 30))
	event, err := e.RecordDose(ctx, RecordDoseRequest{ScheduleID: sc.ID, Outcome: domain.OutcomeTaken})
	require.NoError(t, err)
	assert.True(t, event.ScheduledAt.Equal(at(4, 8, 0)), "filed under %s", event.ScheduledAt)

	next, err := e.FindDoseEvent(ctx, sc.ID, at(5, 8, 0))
	require.NoError(t, err)
	assert.Nil(t, next, "tomorrow's slot stays open for its reminder")

	// before the first slot of a new schedule there is nothing to log against
	late := addDailySchedule(t, e, "p1", "Lisinopril", "22:00")
	_, err = e.RecordDose(ctx, RecordDoseRequest{ScheduleID: late.ID, Outcome: domain.OutcomeTaken, At: at(4, 21, 0)})
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestEngine_RecordDoseErrors(t *testing.T) {
	clock := newManualClock(at(4, 7, 0))
	e, _ := newTestEngine(t, clock)
	ctx := context.Background()

	_, err := e.RecordDose(ctx, RecordDoseRequest{ScheduleID: "missing", Outcome: domain.OutcomeTaken})
	assert.True(t, errors.Is(err, domain.ErrScheduleNotFound))

	sc := addDailySchedule(t, e, "p1", "Metformin", "08:00")

	_, err = e.RecordDose(ctx, RecordDoseRequest{ScheduleID: sc.ID, Outcome: "skipped"})
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = e.RecordDose(ctx, RecordDoseRequest{ScheduleID: sc.ID, Outcome: domain.OutcomeTaken, At: at(3, 8, 0)})
	assert.True(t, errors.Is(err, domain.ErrScheduleInactive), "before the schedule existed")

	clock.Set(at(4, 9, 0))
	_, err = e.DeactivateSchedule(ctx, sc.ID)
	require.NoError(t, err)
	_, err = e.RecordDose(ctx, RecordDoseRequest{ScheduleID: sc.ID, Outcome: domain.OutcomeTaken, At: at(5, 8, 0)})
	assert.True(t, errors.Is(err, domain.ErrScheduleInactive))
	assert.Equal(t, domain.CodeScheduleInactive, domain.ErrorCode(err))

	// correcting a slot from before deactivation is still allowed
	_, err = e.RecordDose(ctx, RecordDoseRequest{ScheduleID: sc.ID, Outcome: domain.OutcomeTaken, At: at(4, 8, 10)})
	require.NoError(t, err)

	_, err = e.ListDoseHistory(ctx, "p1", at(5, 0, 0), at(4, 0, 0))
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestEngine_RecordMissedDoesNotOverwrite(t *testing.T) {
	clock := newManualClock(at(4, 7, 0))
	e, _ := newTestEngine(t, clock)
	ctx := context.Background()

	sc := addDailySchedule(t, e, "p1", "Metformin", "08:00")

	clock.Set(at(4, 8, 20))
	_, err := e.RecordDose(ctx, RecordDoseRequest{ScheduleID: sc.ID, Outcome: domain.OutcomeTaken})
	require.NoError(t, err)

	clock.Set(at(4, 10, 30))
	event, created, err := e.RecordMissed(ctx, sc.ID, at(4, 8, 0))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, domain.OutcomeTaken, event.Outcome)

	event, created, err = e.RecordMissed(ctx, sc.ID, at(5, 8, 0))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.SourceAuto, event.Source)
	assert.Equal(t, domain.OutcomeMissed, event.Outcome)

	found, err := e.FindDoseEvent(ctx, sc.ID, at(5, 8, 0))
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, event.ID, found.ID)

	none, err := e.FindDoseEvent(ctx, sc.ID, at(6, 8, 0))
	require.NoError(t, err)
	assert.Nil(t, none)

	// a manual record within grace overrides the automatic miss
	clock.Set(at(5, 9, 0))
	taken, err := e.RecordDose(ctx, RecordDoseRequest{ScheduleID: sc.ID, Outcome: domain.OutcomeTaken})
	require.NoError(t, err)
	assert.Equal(t, event.ID, taken.ID)
	assert.Equal(t, domain.OutcomeTaken, taken.Outcome)
}

func TestEngine_ConcurrentManualAndAutoRecords(t *testing.T) {
	clock := newManualClock(at(4, 7, 0))
	e, _ := newTestEngine(t, clock)
	ctx := context.Background()

	sc := addDailySchedule(t, e, "p1", "Metformin", "08:00")
	clock.Set(at(4, 10, 30))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _, err := e.RecordMissed(ctx, sc.ID, at(4, 8, 0))
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := e.RecordDose(ctx, RecordDoseRequest{ScheduleID: sc.ID, Outcome: domain.OutcomeTaken, At: at(4, 8, 30)})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	history, err := e.ListDoseHistory(ctx, "p1", at(4, 0, 0), at(5, 0, 0))
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.OutcomeTaken, history[0].Outcome, "the manual record always wins")
}

func TestEngine_GetAdherenceStateFreshness(t *testing.T) {
	clock := newManualClock(at(4, 7, 0))
	cache := newStubCache()
	e, store := newTestEngine(t, clock, WithCache(cache))
	ctx := context.Background()

	empty, err := e.GetAdherenceState(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, 1, empty.Level)
	assert.Nil(t, empty.SevenDayRate)

	sc := addDailySchedule(t, e, "p1", "Metformin", "08:00")
	clock.Set(at(4, 8, 5))
	_, err = e.RecordDose(ctx, RecordDoseRequest{ScheduleID: sc.ID, Outcome: domain.OutcomeTaken})
	require.NoError(t, err)

	clock.Set(at(4, 8, 10))
	state, err := e.GetAdherenceState(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, state.LastUpdated.Equal(at(4, 8, 5)), "fresh cached state is served")

	// tomorrow's slot goes past grace without an event
	clock.Set(at(5, 11, 0))
	state, err = e.GetAdherenceState(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, state.LastUpdated.Equal(at(5, 11, 0)), "stale state is recomputed on read")
	assert.Equal(t, 0, state.CurrentStreak)
	assert.Equal(t, 1, state.LongestStreak)

	stored, err := store.GetAdherenceState(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, stored.LastUpdated.Equal(at(5, 11, 0)))
	assert.NotZero(t, cache.gets)

	_, err = e.GetAdherenceState(ctx, "")
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestEngineConfigFromDomain(t *testing.T) {
	cfg, err := EngineConfigFromDomain(domain.EngineConfig{Timezone: "Europe/Berlin", GraceWindow: time.Hour}, domain.PredictorConfig{ConfidenceThreshold: 0.8})
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", cfg.Location.String())
	assert.Equal(t, time.Hour, cfg.GraceWindow)
	assert.Equal(t, 0.8, cfg.ConfidenceThreshold)

	_, err = EngineConfigFromDomain(domain.EngineConfig{Timezone: "Mars/Olympus"}, domain.PredictorConfig{})
	assert.True(t, errors.Is(err, domain.ErrValidation))
}
