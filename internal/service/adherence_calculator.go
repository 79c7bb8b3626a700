package service

import (
	"sort"
	"time"

	"github.com/meditrek-engine/internal/domain"
)

// Badge keys
const (
	BadgeFirstDose     = "first_dose"
	BadgeWeekStreak    = "week_streak"
	BadgeMonthStreak   = "month_streak"
	BadgeCenturyStreak = "century_streak"
	BadgePerfectWeek   = "perfect_week"
	BadgeEarlyBird     = "early_bird"
	BadgeNightOwl      = "night_owl"
	BadgeLevel5        = "level_5"
	BadgeLevel10       = "level_10"
)

// BadgeDefinition describes an unlockable badge.
type BadgeDefinition struct {
	Key         string
	Name        string
	Description string
	Points      int
}

// StreakMilestone awards a badge once the longest streak reaches Days.
type StreakMilestone struct {
	Days  int
	Badge string
}

// GamificationRules holds the point, badge and level tables.
type GamificationRules struct {
	PointsPerDose   int
	OnTimeBonus     int
	Milestones      []StreakMilestone
	Badges          map[string]BadgeDefinition
	LevelThresholds []int
	EarlyBirdBefore int
	NightOwlFrom    int
	PerfectWeekDays int
}

// DefaultGamificationRules returns the standard tables.
func DefaultGamificationRules() GamificationRules {
	badges := []BadgeDefinition{
		{BadgeFirstDose, "First Step", "Took your first medicine", 50},
		{BadgeWeekStreak, "Week Warrior", "7-day streak", 100},
		{BadgeMonthStreak, "Monthly Master", "30-day streak", 300},
		{BadgeCenturyStreak, "Century Club", "100-day streak", 1000},
		{BadgePerfectWeek, "Perfect Week", "100% adherence for 7 days", 150},
		{BadgeEarlyBird, "Early Bird", "Took medicine before 8 AM", 75},
		{BadgeNightOwl, "Night Owl", "Took medicine after 10 PM", 75},
		{BadgeLevel5, "Level 5 Master", "Reached Level 5", 200},
		{BadgeLevel10, "Level 10 Legend", "Reached Level 10", 500},
	}
	defs := make(map[string]BadgeDefinition, len(badges))
	for _, b := range badges {
		defs[b.Key] = b
	}

	return GamificationRules{
		PointsPerDose: 10,
		OnTimeBonus:   5,
		Milestones: []StreakMilestone{
			{Days: 7, Badge: BadgeWeekStreak},
			{Days: 30, Badge: BadgeMonthStreak},
			{Days: 100, Badge: BadgeCenturyStreak},
		},
		Badges:          defs,
		LevelThresholds: []int{100, 300, 600, 1000, 1500, 2000, 3000, 5000, 7500},
		EarlyBirdBefore: 8,
		NightOwlFrom:    22,
		PerfectWeekDays: 7,
	}
}

// LevelFor returns the level reached with points. Level 1 needs no points.
func (r GamificationRules) LevelFor(points int) int {
	level := 1
	for _, threshold := range r.LevelThresholds {
		if points >= threshold {
			level++
		}
	}
	return level
}

// NextLevelAt returns the points needed for the level after level, or nil at the top.
func (r GamificationRules) NextLevelAt(level int) *int {
	if level < 1 || level > len(r.LevelThresholds) {
		return nil
	}
	next := r.LevelThresholds[level-1]
	return &next
}

// AdherenceInput is everything Recompute needs for one patient.
type AdherenceInput struct {
	PatientID string
	Schedules []*domain.Schedule
	// Entries indexes the patient's regimen entries by id, including discontinued ones.
	Entries  map[string]*domain.RegimenEntry
	Events   []*domain.DoseEvent
	Previous *domain.AdherenceState
	Now      time.Time
}

// AdherenceCalculator derives AdherenceState from schedules and dose events.
// It does no I/O.
type AdherenceCalculator struct {
	rules  GamificationRules
	loc    *time.Location
	grace  time.Duration
	onTime time.Duration
}

// NewAdherenceCalculator creates a calculator working in loc.
func NewAdherenceCalculator(rules GamificationRules, loc *time.Location, grace, onTime time.Duration) *AdherenceCalculator {
	if loc == nil {
		loc = time.UTC
	}
	return &AdherenceCalculator{
		rules:  rules,
		loc:    loc,
		grace:  grace,
		onTime: onTime,
	}
}

type dayStatus int

const (
	dayNoDoses dayStatus = iota
	dayComplete
	dayBroken
	dayPending
)

type slotKey struct {
	scheduleID string
	slot       int64
}

// Recompute returns the new state for in.PatientID. Points, longest streak and
// level never drop below in.Previous and earned badges are kept.
func (c *AdherenceCalculator) Recompute(in AdherenceInput) *domain.AdherenceState {
	now := in.Now.In(c.loc)
	state := &domain.AdherenceState{
		PatientID:   in.PatientID,
		Level:       1,
		Badges:      []domain.BadgeAward{},
		TimeOfDay:   map[string]domain.TimeOfDayStats{},
		LastUpdated: in.Now,
	}

	events := make(map[slotKey]*domain.DoseEvent, len(in.Events))
	for _, e := range in.Events {
		events[slotKey{e.ScheduleID, e.ScheduledAt.UnixMilli()}] = e
	}

	current, longest, perfectWeek := c.walkDays(in, events, now)
	state.CurrentStreak = current
	state.LongestStreak = longest

	earned := make(map[string]bool)
	points := 0
	today := domain.StartOfDay(now, c.loc)
	sevenFrom := today.AddDate(0, 0, -6)
	thirtyFrom := today.AddDate(0, 0, -29)
	var seven, thirty rateCounter

	for _, e := range in.Events {
		slot := e.ScheduledAt.In(c.loc)
		if e.Outcome == domain.OutcomeTaken {
			state.TakenCount++
			points += c.rules.PointsPerDose
			if e.Source == domain.SourceManual && absDuration(e.RecordedAt.Sub(e.ScheduledAt)) <= c.onTime {
				points += c.rules.OnTimeBonus
			}
			earned[BadgeFirstDose] = true
			hour := e.RecordedAt.In(c.loc).Hour()
			if hour < c.rules.EarlyBirdBefore {
				earned[BadgeEarlyBird] = true
			}
			if hour >= c.rules.NightOwlFrom {
				earned[BadgeNightOwl] = true
			}
		} else {
			state.MissedCount++
		}

		if !slot.Before(sevenFrom) {
			seven.add(e.Outcome)
		}
		if !slot.Before(thirtyFrom) {
			thirty.add(e.Outcome)
			bucket := state.TimeOfDay[timeOfDayBucket(slot.Hour())]
			if e.Outcome == domain.OutcomeTaken {
				bucket.Taken++
			} else {
				bucket.Missed++
			}
			state.TimeOfDay[timeOfDayBucket(slot.Hour())] = bucket
		}
	}
	state.SevenDayRate = seven.rate()
	state.ThirtyDayRate = thirty.rate()

	if in.Previous != nil && in.Previous.LongestStreak > state.LongestStreak {
		state.LongestStreak = in.Previous.LongestStreak
	}
	for _, m := range c.rules.Milestones {
		if state.LongestStreak >= m.Days {
			earned[m.Badge] = true
		}
	}
	if perfectWeek {
		earned[BadgePerfectWeek] = true
	}

	c.award(state, in.Previous, earned, points, in.Now)
	return state
}

// walkDays classifies each calendar day from the first schedule's creation
// day up to today and returns the current and longest streak, and whether
// some run of PerfectWeekDays consecutive days was complete.
func (c *AdherenceCalculator) walkDays(in AdherenceInput, events map[slotKey]*domain.DoseEvent, now time.Time) (int, int, bool) {
	if len(in.Schedules) == 0 {
		return 0, 0, false
	}

	first := in.Schedules[0].CreatedAt
	for _, sc := range in.Schedules[1:] {
		if sc.CreatedAt.Before(first) {
			first = sc.CreatedAt
		}
	}

	run, longest, consecutive := 0, 0, 0
	perfect := false
	today := domain.StartOfDay(now, c.loc)
	for day := domain.StartOfDay(first, c.loc); !day.After(today); day = day.AddDate(0, 0, 1) {
		switch c.classify(in, events, day, now) {
		case dayComplete:
			run++
			consecutive++
			if run > longest {
				longest = run
			}
			if consecutive >= c.rules.PerfectWeekDays {
				perfect = true
			}
		case dayBroken:
			run = 0
			consecutive = 0
		default:
			consecutive = 0
		}
	}
	return run, longest, perfect
}

func (c *AdherenceCalculator) classify(in AdherenceInput, events map[slotKey]*domain.DoseEvent, day, now time.Time) dayStatus {
	due := 0
	pending := false
	for _, sc := range in.Schedules {
		if !sc.AppliesOn(day.Weekday()) {
			continue
		}
		slot := sc.SlotOn(day, c.loc)
		if !sc.ActiveAt(slot) {
			continue
		}
		if entry, ok := in.Entries[sc.RegimenEntryID]; ok && !entry.ActiveAt(slot) {
			continue
		}
		due++

		e, ok := events[slotKey{sc.ID, slot.UnixMilli()}]
		switch {
		case ok && e.Outcome == domain.OutcomeMissed:
			return dayBroken
		case ok:
		case now.After(slot.Add(c.grace)):
			return dayBroken
		default:
			pending = true
		}
	}

	switch {
	case due == 0:
		return dayNoDoses
	case pending:
		return dayPending
	}
	return dayComplete
}

// award applies badge points and level badges until nothing new unlocks,
// then merges with the previous state. Badges unlocked in this pass always
// add their points on top of the previous total.
func (c *AdherenceCalculator) award(state, prev *domain.AdherenceState, earned map[string]bool, points int, now time.Time) {
	badges := make(map[string]domain.BadgeAward)
	if prev != nil {
		for _, b := range prev.Badges {
			badges[b.Key] = b
		}
	}
	unlocked := 0
	for key := range earned {
		unlocked += c.unlock(badges, key, now)
	}

	for {
		total := points
		for _, b := range badges {
			total += b.Points
		}
		if prev != nil && prev.TotalPoints+unlocked > total {
			total = prev.TotalPoints + unlocked
		}
		state.TotalPoints = total

		level := c.rules.LevelFor(total)
		added := 0
		if level >= 5 {
			added += c.unlock(badges, BadgeLevel5, now)
		}
		if level >= 10 {
			added += c.unlock(badges, BadgeLevel10, now)
		}
		if added == 0 {
			break
		}
		unlocked += added
	}

	state.Level = c.rules.LevelFor(state.TotalPoints)
	if prev != nil && prev.Level > state.Level {
		state.Level = prev.Level
	}
	state.NextLevelAt = c.rules.NextLevelAt(state.Level)

	for _, b := range badges {
		state.Badges = append(state.Badges, b)
	}
	sort.Slice(state.Badges, func(i, j int) bool {
		if !state.Badges[i].UnlockedAt.Equal(state.Badges[j].UnlockedAt) {
			return state.Badges[i].UnlockedAt.Before(state.Badges[j].UnlockedAt)
		}
		return state.Badges[i].Key < state.Badges[j].Key
	})
}

// unlock adds the badge unless already held and returns the points it awarded.
func (c *AdherenceCalculator) unlock(badges map[string]domain.BadgeAward, key string, now time.Time) int {
	if _, ok := badges[key]; ok {
		return 0
	}
	def, ok := c.rules.Badges[key]
	if !ok {
		return 0
	}
	badges[key] = domain.BadgeAward{
		Key:         def.Key,
		Name:        def.Name,
		Description: def.Description,
		Points:      def.Points,
		UnlockedAt:  now,
	}
	return def.Points
}

type rateCounter struct {
	taken, total int
}

func (r *rateCounter) add(o domain.Outcome) {
	r.total++
	if o == domain.OutcomeTaken {
		r.taken++
	}
}

// rate is nil when nothing was recorded in the window.
func (r rateCounter) rate() *float64 {
	if r.total == 0 {
		return nil
	}
	v := float64(r.taken) / float64(r.total)
	return &v
}

func timeOfDayBucket(hour int) string {
	switch {
	case hour >= 6 && hour < 12:
		return "morning"
	case hour >= 12 && hour < 18:
		return "afternoon"
	case hour >= 18:
		return "evening"
	}
	return "night"
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
