// Package domain contains the core entities, enumerations and collaborator
// interfaces of the medicine interaction and adherence engine.
//
// Everything in this package is free of I/O. Persistence, delivery and
// prediction are reached only through the interfaces declared in interfaces.go.
package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Severity is the clinical severity of a drug interaction.
// Ordering is High > Medium > Low > None.
type Severity string

const (
	SeverityNone   Severity = "None"
	SeverityLow    Severity = "Low"
	SeverityMedium Severity = "Medium"
	SeverityHigh   Severity = "High"
)

var severityRank = map[Severity]int{
	SeverityNone:   0,
	SeverityLow:    1,
	SeverityMedium: 2,
	SeverityHigh:   3,
}

// Rank returns the ordinal of the severity; unknown values rank as None.
func (s Severity) Rank() int {
	return severityRank[s]
}

// IsValid reports whether s is one of the known severities.
func (s Severity) IsValid() bool {
	_, ok := severityRank[s]
	return ok
}

// String returns the string representation of Severity
func (s Severity) String() string {
	return string(s)
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ParseSeverity accepts any casing of High/Medium/Low/None (and the
// upper-case HIGH/MEDIUM/LOW labels used by some rule sources).
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "major", "severe":
		return SeverityHigh, nil
	case "medium", "moderate":
		return SeverityMedium, nil
	case "low", "minor":
		return SeverityLow, nil
	case "none", "":
		return SeverityNone, nil
	}
	return SeverityNone, NewValidationError("severity", "unknown severity label", s)
}

// Outcome is the result recorded for a due slot.
type Outcome string

const (
	OutcomeTaken  Outcome = "taken"
	OutcomeMissed Outcome = "missed"
)

// IsValid reports whether o is taken or missed.
func (o Outcome) IsValid() bool {
	return o == OutcomeTaken || o == OutcomeMissed
}

// RegimenStatus is the lifecycle state of a regimen entry.
type RegimenStatus string

const (
	RegimenActive       RegimenStatus = "active"
	RegimenDiscontinued RegimenStatus = "discontinued"
)

// IsActive reports whether the status is exactly "active". Any other stored
// value, including the legacy "0", counts as discontinued.
func (s RegimenStatus) IsActive() bool {
	return s == RegimenActive
}

// Frequency describes how often a schedule recurs.
type Frequency string

const (
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyCustom   Frequency = "custom"
	FrequencyAsNeeded Frequency = "as_needed"
)

// IsValid checks if the frequency is valid
func (f Frequency) IsValid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyCustom, FrequencyAsNeeded:
		return true
	}
	return false
}

// DoseSource records who produced a dose event.
type DoseSource string

const (
	SourceManual DoseSource = "manual"
	SourceAuto   DoseSource = "auto"
)

// TimeOfDay is a wall-clock time within a day, minute precision.
type TimeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// ParseTimeOfDay parses "HH:MM" (24h).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return TimeOfDay{}, NewValidationError("time_of_day", "expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, NewValidationError("time_of_day", "hour must be 00-23", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 || len(parts[1]) != 2 {
		return TimeOfDay{}, NewValidationError("time_of_day", "minute must be 00-59", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

// MustTimeOfDay is ParseTimeOfDay for literals; it panics on bad input.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Minutes returns minutes since midnight.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

// On returns the instant of t on the calendar day of date, in date's location.
func (t TimeOfDay) On(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, date.Location())
}

// MarshalText implements encoding.TextMarshaler so TimeOfDay travels as "HH:MM".
func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// StartOfDay truncates t to midnight in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	y, m, d := lt.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// DayKey formats the calendar day of t in loc as YYYY-MM-DD.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// ParseWeekday accepts full or three-letter English day names, or 0-6 with Sunday = 0.
func ParseWeekday(s string) (time.Weekday, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 6 {
		return time.Weekday(n), nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if v == name || v == name[:3] {
			return d, nil
		}
	}
	return time.Sunday, NewValidationError("days", "unknown weekday", s)
}

// NormalizeName trims, collapses inner whitespace and case-folds a medicine name.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
