package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSeverityOrdering(t *testing.T) {
	if !(SeverityHigh.Rank() > SeverityMedium.Rank() &&
		SeverityMedium.Rank() > SeverityLow.Rank() &&
		SeverityLow.Rank() > SeverityNone.Rank()) {
		t.Fatal("Expected High > Medium > Low > None")
	}

	if got := MaxSeverity(SeverityLow, SeverityHigh); got != SeverityHigh {
		t.Errorf("Expected High, got %s", got)
	}
	if got := MaxSeverity(SeverityMedium, SeverityNone); got != SeverityMedium {
		t.Errorf("Expected Medium, got %s", got)
	}
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		input    string
		expected Severity
		wantErr  bool
	}{
		{"High", SeverityHigh, false},
		{"HIGH", SeverityHigh, false},
		{" moderate ", SeverityMedium, false},
		{"low", SeverityLow, false},
		{"", SeverityNone, false},
		{"catastrophic", SeverityNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSeverity(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestRegimenStatusIsActive(t *testing.T) {
	tests := []struct {
		status   RegimenStatus
		expected bool
	}{
		{RegimenActive, true},
		{RegimenDiscontinued, false},
		{RegimenStatus("0"), false},
		{RegimenStatus(""), false},
	}

	for _, tt := range tests {
		if got := tt.status.IsActive(); got != tt.expected {
			t.Errorf("status %q: expected %v, got %v", tt.status, tt.expected, got)
		}
	}
}

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		input   string
		hour    int
		minute  int
		wantErr bool
	}{
		{"08:00", 8, 0, false},
		{"23:59", 23, 59, false},
		{" 7:05 ", 7, 5, false},
		{"24:00", 0, 0, true},
		{"08:60", 0, 0, true},
		{"0800", 0, 0, true},
		{"08:5", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTimeOfDay(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if !tt.wantErr && (got.Hour != tt.hour || got.Minute != tt.minute) {
				t.Errorf("Expected %02d:%02d, got %s", tt.hour, tt.minute, got)
			}
		})
	}
}

func TestTimeOfDayJSON(t *testing.T) {
	var s struct {
		At TimeOfDay `json:"at"`
	}
	if err := json.Unmarshal([]byte(`{"at":"21:30"}`), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if s.At.String() != "21:30" {
		t.Errorf("Expected 21:30, got %s", s.At)
	}
	out, _ := json.Marshal(s)
	if string(out) != `{"at":"21:30"}` {
		t.Errorf("Unexpected JSON %s", out)
	}
}

func TestScheduleAppliesOn(t *testing.T) {
	daily := &Schedule{Frequency: FrequencyDaily}
	weekly := &Schedule{Frequency: FrequencyWeekly, Days: []time.Weekday{time.Monday, time.Thursday}}
	prn := &Schedule{Frequency: FrequencyAsNeeded}

	if !daily.AppliesOn(time.Sunday) {
		t.Error("Expected daily schedule to apply on Sunday")
	}
	if !weekly.AppliesOn(time.Thursday) || weekly.AppliesOn(time.Friday) {
		t.Error("Weekly schedule day filter is wrong")
	}
	if prn.AppliesOn(time.Monday) {
		t.Error("Expected as-needed schedule never to be due")
	}
}

func TestScheduleActiveAt(t *testing.T) {
	created := time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC)
	deactivated := created.Add(48 * time.Hour)
	s := &Schedule{Active: false, CreatedAt: created, DeactivatedAt: &deactivated}

	if s.ActiveAt(created.Add(-time.Minute)) {
		t.Error("Expected inactive before creation")
	}
	if !s.ActiveAt(created.Add(24 * time.Hour)) {
		t.Error("Expected active between creation and deactivation")
	}
	if s.ActiveAt(deactivated) {
		t.Error("Expected inactive from deactivation on")
	}
}

func TestSortSchedules(t *testing.T) {
	list := []*Schedule{
		{ID: "c", TimeOfDay: MustTimeOfDay("20:00")},
		{ID: "b", TimeOfDay: MustTimeOfDay("08:00")},
		{ID: "a", TimeOfDay: MustTimeOfDay("08:00")},
	}
	SortSchedules(list)

	got := []string{list[0].ID, list[1].ID, list[2].ID}
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected order %v, got %v", want, got)
		}
	}
}

func TestParseWeekday(t *testing.T) {
	for input, want := range map[string]time.Weekday{
		"mon": time.Monday, "Saturday": time.Saturday, "0": time.Sunday, "3": time.Wednesday,
	} {
		got, err := ParseWeekday(input)
		if err != nil || got != want {
			t.Errorf("%q: expected %s, got %s (%v)", input, want, got, err)
		}
	}
	if _, err := ParseWeekday("someday"); err == nil {
		t.Error("Expected error for unknown weekday")
	}
}
