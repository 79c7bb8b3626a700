package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meditrek-engine/internal/domain"
)

func newCalculator() *AdherenceCalculator {
	return NewAdherenceCalculator(DefaultGamificationRules(), time.UTC, DefaultGraceWindow, DefaultOnTimeWindow)
}

func dailySchedule(id, tod string, created time.Time) *domain.Schedule {
	return &domain.Schedule{
		ID:             id,
		RegimenEntryID: "entry-" + id,
		PatientID:      "p1",
		MedicineName:   "Metformin",
		Frequency:      domain.FrequencyDaily,
		TimeOfDay:      domain.MustTimeOfDay(tod),
		Active:         true,
		CreatedAt:      created,
	}
}

func doseEvent(sc *domain.Schedule, day int, outcome domain.Outcome, recordedAfter time.Duration) *domain.DoseEvent {
	slot := sc.TimeOfDay.On(at(day, 0, 0))
	source := domain.SourceManual
	if outcome == domain.OutcomeMissed && recordedAfter >= DefaultGraceWindow {
		source = domain.SourceAuto
	}
	return &domain.DoseEvent{
		ID:          sc.ID + "-" + slot.Format("0102"),
		PatientID:   sc.PatientID,
		ScheduleID:  sc.ID,
		ScheduledAt: slot,
		Outcome:     outcome,
		RecordedAt:  slot.Add(recordedAfter),
		Source:      source,
	}
}

func TestRecompute_StreakBrokenByMiss(t *testing.T) {
	sc := dailySchedule("s1", "09:00", at(1, 7, 0))
	var events []*domain.DoseEvent
	for day := 1; day <= 8; day++ {
		events = append(events, doseEvent(sc, day, domain.OutcomeTaken, 5*time.Minute))
	}
	events = append(events, doseEvent(sc, 9, domain.OutcomeMissed, 2*time.Hour))

	state := newCalculator().Recompute(AdherenceInput{
		PatientID: "p1",
		Schedules: []*domain.Schedule{sc},
		Events:    events,
		Now:       at(9, 12, 0),
	})

	assert.Equal(t, 0, state.CurrentStreak)
	assert.Equal(t, 8, state.LongestStreak)
	assert.Equal(t, 8, state.TakenCount)
	assert.Equal(t, 1, state.MissedCount)

	// 8 on-time doses, first_dose, week_streak and perfect_week
	assert.Equal(t, 8*15+50+100+150, state.TotalPoints)
	assert.Equal(t, 3, state.Level)
	require.NotNil(t, state.NextLevelAt)
	assert.Equal(t, 600, *state.NextLevelAt)

	assert.True(t, state.HasBadge(BadgeFirstDose))
	assert.True(t, state.HasBadge(BadgeWeekStreak))
	assert.True(t, state.HasBadge(BadgePerfectWeek))
	assert.False(t, state.HasBadge(BadgeEarlyBird))
	assert.False(t, state.HasBadge(BadgeMonthStreak))

	require.NotNil(t, state.SevenDayRate)
	assert.InDelta(t, 6.0/7.0, *state.SevenDayRate, 1e-9)
	require.NotNil(t, state.ThirtyDayRate)
	assert.InDelta(t, 8.0/9.0, *state.ThirtyDayRate, 1e-9)
	assert.Equal(t, domain.TimeOfDayStats{Taken: 8, Missed: 1}, state.TimeOfDay["morning"])
}

func TestRecompute_NoDataYieldsNullRates(t *testing.T) {
	sc := dailySchedule("s1", "20:00", at(4, 7, 0))

	state := newCalculator().Recompute(AdherenceInput{
		PatientID: "p1",
		Schedules: []*domain.Schedule{sc},
		Now:       at(4, 12, 0),
	})

	assert.Nil(t, state.SevenDayRate)
	assert.Nil(t, state.ThirtyDayRate)
	assert.Equal(t, 0, state.CurrentStreak)
	assert.Equal(t, 0, state.TotalPoints)
	assert.Equal(t, 1, state.Level)
	require.NotNil(t, state.NextLevelAt)
	assert.Equal(t, 100, *state.NextLevelAt)
	assert.Empty(t, state.Badges)
}

func TestRecompute_NoSchedules(t *testing.T) {
	state := newCalculator().Recompute(AdherenceInput{PatientID: "p1", Now: at(4, 12, 0)})

	assert.Equal(t, "p1", state.PatientID)
	assert.Equal(t, 1, state.Level)
	assert.Nil(t, state.SevenDayRate)
	assert.True(t, state.LastUpdated.Equal(at(4, 12, 0)))
}

func TestRecompute_PendingTodayKeepsStreak(t *testing.T) {
	morning := dailySchedule("am", "08:00", at(1, 7, 0))
	evening := dailySchedule("pm", "20:00", at(1, 7, 0))
	var events []*domain.DoseEvent
	for day := 1; day <= 3; day++ {
		events = append(events,
			doseEvent(morning, day, domain.OutcomeTaken, 0),
			doseEvent(evening, day, domain.OutcomeTaken, 0))
	}
	events = append(events, doseEvent(morning, 4, domain.OutcomeTaken, 0))

	state := newCalculator().Recompute(AdherenceInput{
		PatientID: "p1",
		Schedules: []*domain.Schedule{morning, evening},
		Events:    events,
		Now:       at(4, 12, 0),
	})
	assert.Equal(t, 3, state.CurrentStreak, "today's evening slot is still pending")

	// once the evening slot is past grace without an event the day breaks
	state = newCalculator().Recompute(AdherenceInput{
		PatientID: "p1",
		Schedules: []*domain.Schedule{morning, evening},
		Events:    events,
		Now:       at(4, 22, 1),
	})
	assert.Equal(t, 0, state.CurrentStreak)
	assert.Equal(t, 3, state.LongestStreak)
}

func TestRecompute_ZeroDueDaysAreSkipped(t *testing.T) {
	sc := dailySchedule("s1", "09:00", at(4, 7, 0))
	sc.Frequency = domain.FrequencyCustom
	sc.Days = []time.Weekday{time.Monday, time.Wednesday, time.Friday}

	events := []*domain.DoseEvent{
		doseEvent(sc, 4, domain.OutcomeTaken, 0),
		doseEvent(sc, 6, domain.OutcomeTaken, 0),
		doseEvent(sc, 8, domain.OutcomeTaken, 0),
	}

	state := newCalculator().Recompute(AdherenceInput{
		PatientID: "p1",
		Schedules: []*domain.Schedule{sc},
		Events:    events,
		Now:       at(10, 12, 0),
	})
	assert.Equal(t, 3, state.CurrentStreak)
	assert.False(t, state.HasBadge(BadgePerfectWeek))
}

func TestRecompute_InactivePeriodsAreNotDue(t *testing.T) {
	sc := dailySchedule("s1", "09:00", at(1, 7, 0))
	deactivated := at(3, 8, 0)
	sc.Active = false
	sc.DeactivatedAt = &deactivated

	events := []*domain.DoseEvent{
		doseEvent(sc, 1, domain.OutcomeTaken, 0),
		doseEvent(sc, 2, domain.OutcomeTaken, 0),
	}
	state := newCalculator().Recompute(AdherenceInput{
		PatientID: "p1",
		Schedules: []*domain.Schedule{sc},
		Events:    events,
		Now:       at(6, 12, 0),
	})
	assert.Equal(t, 2, state.CurrentStreak)

	discontinued := at(2, 8, 0)
	entries := map[string]*domain.RegimenEntry{
		sc.RegimenEntryID: {ID: sc.RegimenEntryID, Status: domain.RegimenDiscontinued, StartedAt: at(1, 0, 0), DiscontinuedAt: &discontinued},
	}
	state = newCalculator().Recompute(AdherenceInput{
		PatientID: "p1",
		Schedules: []*domain.Schedule{sc},
		Entries:   entries,
		Events:    events,
		Now:       at(6, 12, 0),
	})
	assert.Equal(t, 1, state.CurrentStreak, "slots after discontinuation are not due")
}

func TestRecompute_EarlyBirdNightOwlAndOnTime(t *testing.T) {
	early := dailySchedule("early", "07:00", at(4, 6, 0))
	late := dailySchedule("late", "22:30", at(4, 6, 0))

	lateEvent := doseEvent(late, 4, domain.OutcomeTaken, 45*time.Minute)
	state := newCalculator().Recompute(AdherenceInput{
		PatientID: "p1",
		Schedules: []*domain.Schedule{early, late},
		Events:    []*domain.DoseEvent{doseEvent(early, 4, domain.OutcomeTaken, -10*time.Minute), lateEvent},
		Now:       at(4, 23, 30),
	})

	assert.True(t, state.HasBadge(BadgeEarlyBird))
	assert.True(t, state.HasBadge(BadgeNightOwl))
	// one on-time dose, one late dose, first_dose, early_bird, night_owl
	assert.Equal(t, 15+10+50+75+75, state.TotalPoints)
	assert.Equal(t, domain.TimeOfDayStats{Taken: 1}, state.TimeOfDay["morning"])
	assert.Equal(t, domain.TimeOfDayStats{Taken: 1}, state.TimeOfDay["evening"])
}

func TestRecompute_MonotonicMergeAndLevelBadges(t *testing.T) {
	sc := dailySchedule("s1", "09:00", at(4, 7, 0))
	prev := &domain.AdherenceState{
		PatientID:     "p1",
		TotalPoints:   1000,
		Level:         5,
		LongestStreak: 12,
		Badges: []domain.BadgeAward{
			{Key: BadgeWeekStreak, Name: "Week Warrior", Points: 100, UnlockedAt: at(1, 0, 0)},
		},
	}

	state := newCalculator().Recompute(AdherenceInput{
		PatientID: "p1",
		Schedules: []*domain.Schedule{sc},
		Events:    []*domain.DoseEvent{doseEvent(sc, 4, domain.OutcomeTaken, 0)},
		Previous:  prev,
		Now:       at(4, 12, 0),
	})

	assert.Equal(t, 12, state.LongestStreak, "longest streak never decreases")
	assert.Equal(t, 1, state.CurrentStreak)
	assert.True(t, state.HasBadge(BadgeWeekStreak), "badges are never revoked")
	assert.True(t, state.HasBadge(BadgeFirstDose))
	assert.True(t, state.HasBadge(BadgeLevel5))
	// previous 1000 + first_dose 50 + level_5 200
	assert.Equal(t, 1250, state.TotalPoints)
	assert.Equal(t, 5, state.Level)
	require.NotNil(t, state.NextLevelAt)
	assert.Equal(t, 1500, *state.NextLevelAt)
	assert.True(t, state.Badges[0].UnlockedAt.Equal(at(1, 0, 0)), "earliest badge first")

	again := newCalculator().Recompute(AdherenceInput{
		PatientID: "p1",
		Schedules: []*domain.Schedule{sc},
		Events:    []*domain.DoseEvent{doseEvent(sc, 4, domain.OutcomeTaken, 0)},
		Previous:  state,
		Now:       at(4, 12, 5),
	})
	assert.Equal(t, 1250, again.TotalPoints, "recomputing unchanged history adds nothing")
	assert.Len(t, again.Badges, len(state.Badges))
}

func TestGamificationRules_Levels(t *testing.T) {
	rules := DefaultGamificationRules()

	tests := []struct {
		points int
		level  int
	}{
		{0, 1}, {99, 1}, {100, 2}, {299, 2}, {300, 3}, {1000, 5}, {7499, 9}, {7500, 10}, {100000, 10},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.level, rules.LevelFor(tt.points), "points=%d", tt.points)
	}

	assert.Nil(t, rules.NextLevelAt(10))
	require.NotNil(t, rules.NextLevelAt(1))
	assert.Equal(t, 100, *rules.NextLevelAt(1))
}

func TestTimeOfDayBucket(t *testing.T) {
	assert.Equal(t, "night", timeOfDayBucket(0))
	assert.Equal(t, "night", timeOfDayBucket(5))
	assert.Equal(t, "morning", timeOfDayBucket(6))
	assert.Equal(t, "afternoon", timeOfDayBucket(12))
	assert.Equal(t, "evening", timeOfDayBucket(18))
	assert.Equal(t, "evening", timeOfDayBucket(23))
}
