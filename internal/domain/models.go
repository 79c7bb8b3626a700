package domain

import (
	"sort"
	"time"
)

// MedicineRecord is an immutable catalog entry.
type MedicineRecord struct {
	Name        string `json:"name"`
	GenericName string `json:"generic_name,omitempty"`
	Category    string `json:"category,omitempty"`
	Form        string `json:"form,omitempty"`
}

// InteractionRule is an unordered set of two or three drug names with the
// clinical consequence of taking them together.
type InteractionRule struct {
	ID             string   `json:"id"`
	Drugs          []string `json:"drugs"`
	Severity       Severity `json:"severity"`
	Description    string   `json:"description"`
	Recommendation string   `json:"recommendation"`
	Mechanism      string   `json:"mechanism,omitempty"`
}

// RegimenEntry is one medicine a patient takes or used to take.
type RegimenEntry struct {
	ID             string        `json:"id"`
	PatientID      string        `json:"patient_id"`
	MedicineName   string        `json:"medicine_name"`
	Dosage         string        `json:"dosage"`
	Frequency      Frequency     `json:"frequency"`
	Purpose        string        `json:"purpose,omitempty"`
	AgeYears       int           `json:"age_years,omitempty"`
	WeightKg       float64       `json:"weight_kg,omitempty"`
	Status         RegimenStatus `json:"status"`
	StartedAt      time.Time     `json:"started_at"`
	DiscontinuedAt *time.Time    `json:"discontinued_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// ActiveAt reports whether the entry was being taken at t.
func (e *RegimenEntry) ActiveAt(t time.Time) bool {
	if t.Before(e.StartedAt) {
		return false
	}
	if e.DiscontinuedAt != nil {
		return t.Before(*e.DiscontinuedAt)
	}
	return e.Status.IsActive()
}

// Schedule is a recurring dosing rule owned by a regimen entry.
type Schedule struct {
	ID             string         `json:"id"`
	RegimenEntryID string         `json:"regimen_entry_id"`
	PatientID      string         `json:"patient_id"`
	MedicineName   string         `json:"medicine_name"`
	DoseAmount     float64        `json:"dose_amount"`
	DoseUnit       string         `json:"dose_unit"`
	Frequency      Frequency      `json:"frequency"`
	TimeOfDay      TimeOfDay      `json:"time_of_day"`
	Days           []time.Weekday `json:"days,omitempty"`
	Active         bool           `json:"active"`
	CreatedAt      time.Time      `json:"created_at"`
	DeactivatedAt  *time.Time     `json:"deactivated_at,omitempty"`
}

// AppliesOn reports whether the schedule has a due slot on the given weekday.
// As-needed schedules never do; an empty day set means every day.
func (s *Schedule) AppliesOn(d time.Weekday) bool {
	if s.Frequency == FrequencyAsNeeded {
		return false
	}
	if len(s.Days) == 0 {
		return true
	}
	for _, day := range s.Days {
		if day == d {
			return true
		}
	}
	return false
}

// SlotOn returns the due slot on the calendar day of day (interpreted in loc).
func (s *Schedule) SlotOn(day time.Time, loc *time.Location) time.Time {
	return s.TimeOfDay.On(day.In(loc))
}

// ActiveAt reports whether the schedule itself was active at t.
func (s *Schedule) ActiveAt(t time.Time) bool {
	if t.Before(s.CreatedAt) {
		return false
	}
	if s.DeactivatedAt != nil {
		return t.Before(*s.DeactivatedAt)
	}
	return s.Active
}

// SortSchedules orders by time-of-day ascending, then by id.
func SortSchedules(list []*Schedule) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i].TimeOfDay.Minutes(), list[j].TimeOfDay.Minutes()
		if a != b {
			return a < b
		}
		return list[i].ID < list[j].ID
	})
}

// DoseEvent records the outcome of one due slot. There is at most one event
// per (ScheduleID, ScheduledAt).
type DoseEvent struct {
	ID           string     `json:"id"`
	PatientID    string     `json:"patient_id"`
	ScheduleID   string     `json:"schedule_id"`
	MedicineName string     `json:"medicine_name"`
	ScheduledAt  time.Time  `json:"scheduled_at"`
	Outcome      Outcome    `json:"outcome"`
	RecordedAt   time.Time  `json:"recorded_at"`
	Source       DoseSource `json:"source"`
	Note         string     `json:"note,omitempty"`
}

// BadgeAward is an unlocked badge.
type BadgeAward struct {
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Points      int       `json:"points"`
	UnlockedAt  time.Time `json:"unlocked_at"`
}

// TimeOfDayStats counts outcomes in one part of the day.
type TimeOfDayStats struct {
	Taken  int `json:"taken"`
	Missed int `json:"missed"`
}

// AdherenceState is the derived per-patient view of the dose history.
type AdherenceState struct {
	PatientID     string                    `json:"patient_id"`
	CurrentStreak int                       `json:"current_streak"`
	LongestStreak int                       `json:"longest_streak"`
	TotalPoints   int                       `json:"total_points"`
	Level         int                       `json:"level"`
	NextLevelAt   *int                      `json:"next_level_at,omitempty"`
	Badges        []BadgeAward              `json:"badges"`
	SevenDayRate  *float64                  `json:"seven_day_rate"`
	ThirtyDayRate *float64                  `json:"thirty_day_rate"`
	TakenCount    int                       `json:"taken_count"`
	MissedCount   int                       `json:"missed_count"`
	TimeOfDay     map[string]TimeOfDayStats `json:"time_of_day,omitempty"`
	LastUpdated   time.Time                 `json:"last_updated"`
}

// HasBadge reports whether the badge with key has been unlocked.
func (a *AdherenceState) HasBadge(key string) bool {
	for _, b := range a.Badges {
		if b.Key == key {
			return true
		}
	}
	return false
}

// Prediction is the output of a severity predictor for one drug pair.
type Prediction struct {
	Severity   Severity `json:"severity"`
	Confidence float64  `json:"confidence"`
}

// AdvisoryPrediction is a non-authoritative severity estimate for a pair
// the catalog has no rule for.
type AdvisoryPrediction struct {
	Drugs      []string `json:"drugs"`
	Severity   Severity `json:"severity"`
	Confidence float64  `json:"confidence"`
	Advisory   bool     `json:"advisory"`
}

// ConflictReport is the result of checking a candidate against a regimen.
type ConflictReport struct {
	Candidate          string               `json:"candidate"`
	Verdict            Severity             `json:"verdict"`
	Matches            []InteractionRule    `json:"matches"`
	Advisories         []AdvisoryPrediction `json:"advisories"`
	PredictorConsulted bool                 `json:"predictor_consulted"`
	CheckedAt          time.Time            `json:"checked_at"`
}

// HasConflict reports whether any catalog rule matched.
func (r *ConflictReport) HasConflict() bool {
	return len(r.Matches) > 0
}

// RegimenScan is the result of checking a whole medicine list against the
// catalog. Unknown lists names the catalog does not contain.
type RegimenScan struct {
	Medicines []string          `json:"medicines"`
	Unknown   []string          `json:"unknown,omitempty"`
	Verdict   Severity          `json:"verdict"`
	Matches   []InteractionRule `json:"matches"`
	CheckedAt time.Time         `json:"checked_at"`
}

// Reminder is a due-dose notification handed to a Notifier.
type Reminder struct {
	PatientID    string    `json:"patient_id"`
	ScheduleID   string    `json:"schedule_id"`
	MedicineName string    `json:"medicine_name"`
	DueAt        time.Time `json:"due_at"`
	Message      string    `json:"message"`
}
