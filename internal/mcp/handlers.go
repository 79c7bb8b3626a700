package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/meditrek-engine/internal/domain"
	"github.com/meditrek-engine/internal/service"
)

// CheckInteractionsParams defines parameters for check_interactions tool
type CheckInteractionsParams struct {
	Candidate       string   `json:"candidate" jsonschema:"the medicine about to be added"`
	PatientID       string   `json:"patient_id,omitempty" jsonschema:"check against this patient's active regimen"`
	ActiveMedicines []string `json:"active_medicines,omitempty" jsonschema:"explicit list of active medicines, used when patient_id is empty"`
}

// ScanRegimenParams defines parameters for scan_regimen tool
type ScanRegimenParams struct {
	PatientID string   `json:"patient_id,omitempty" jsonschema:"scan this patient's active regimen"`
	Medicines []string `json:"medicines,omitempty" jsonschema:"explicit list of medicines, used when patient_id is empty"`
}

// AddRegimenEntryParams defines parameters for add_regimen_entry tool
type AddRegimenEntryParams struct {
	PatientID    string  `json:"patient_id"`
	MedicineName string  `json:"medicine_name"`
	Dosage       string  `json:"dosage,omitempty" jsonschema:"dose with unit, for example 500 mg"`
	Frequency    string  `json:"frequency,omitempty" jsonschema:"daily, weekly, custom or as_needed"`
	Purpose      string  `json:"purpose,omitempty"`
	AgeYears     int     `json:"age_years,omitempty"`
	WeightKg     float64 `json:"weight_kg,omitempty"`
	StartedAt    string  `json:"started_at,omitempty" jsonschema:"RFC3339 start time, defaults to now"`
}

// AddRegimenEntryResult is returned by add_regimen_entry
type AddRegimenEntryResult struct {
	Entry        *domain.RegimenEntry   `json:"entry"`
	Interactions *domain.ConflictReport `json:"interactions,omitempty"`
}

// EntryParams identifies a regimen entry
type EntryParams struct {
	EntryID string `json:"entry_id"`
}

// ListRegimenParams defines parameters for list_regimen tool
type ListRegimenParams struct {
	PatientID       string `json:"patient_id"`
	IncludeInactive bool   `json:"include_inactive,omitempty"`
}

// AddScheduleParams defines parameters for add_schedule tool
type AddScheduleParams struct {
	RegimenEntryID string   `json:"regimen_entry_id"`
	Dose           string   `json:"dose" jsonschema:"dose with unit, for example 500 mg"`
	TimeOfDay      string   `json:"time_of_day" jsonschema:"HH:MM in the engine time zone"`
	Frequency      string   `json:"frequency,omitempty" jsonschema:"daily, weekly, custom or as_needed; defaults to the entry frequency"`
	Days           []string `json:"days,omitempty" jsonschema:"weekday names for weekly and custom schedules"`
}

// ScheduleParams identifies a schedule
type ScheduleParams struct {
	ScheduleID string `json:"schedule_id"`
}

// ListSchedulesParams defines parameters for list_schedules tool
type ListSchedulesParams struct {
	PatientID       string `json:"patient_id"`
	IncludeInactive bool   `json:"include_inactive,omitempty"`
}

// ListDueSchedulesParams defines parameters for list_due_schedules tool
type ListDueSchedulesParams struct {
	AsOf string `json:"as_of,omitempty" jsonschema:"RFC3339 time, defaults to now"`
}

// RecordDoseParams defines parameters for record_dose tool
type RecordDoseParams struct {
	ScheduleID string `json:"schedule_id"`
	Outcome    string `json:"outcome" jsonschema:"taken or missed"`
	At         string `json:"at,omitempty" jsonschema:"RFC3339 time of the dose, defaults to now"`
	Note       string `json:"note,omitempty"`
}

// DoseHistoryParams defines parameters for list_dose_history tool
type DoseHistoryParams struct {
	PatientID string `json:"patient_id"`
	From      string `json:"from" jsonschema:"RFC3339 start, inclusive"`
	To        string `json:"to" jsonschema:"RFC3339 end, exclusive"`
}

// AdherenceParams defines parameters for get_adherence_state tool
type AdherenceParams struct {
	PatientID string `json:"patient_id"`
	Refresh   bool   `json:"refresh,omitempty" jsonschema:"recompute instead of reading the cached state"`
}

// SweepParams defines parameters for run_sweep tool
type SweepParams struct{}

func (s *Server) handleCheckInteractions(ctx context.Context, req *mcp.CallToolRequest, params CheckInteractionsParams) (*mcp.CallToolResult, any, error) {
	s.toolLogger("check_interactions").WithField("candidate", params.Candidate).Info("Tool invoked")

	var (
		report *domain.ConflictReport
		err    error
	)
	if params.PatientID != "" {
		report, err = s.engine.CheckPatientInteractions(ctx, params.PatientID, params.Candidate)
	} else {
		report, err = s.engine.CheckInteractions(ctx, params.ActiveMedicines, params.Candidate)
	}
	if err != nil {
		return s.createErrorResult("check_interactions", err), nil, nil
	}
	return s.jsonResult(report)
}

func (s *Server) handleScanRegimen(ctx context.Context, req *mcp.CallToolRequest, params ScanRegimenParams) (*mcp.CallToolResult, any, error) {
	s.toolLogger("scan_regimen").Info("Tool invoked")

	var (
		scan *domain.RegimenScan
		err  error
	)
	if params.PatientID != "" {
		scan, err = s.engine.ScanPatientRegimen(ctx, params.PatientID)
	} else {
		scan, err = s.engine.ScanRegimen(ctx, params.Medicines)
	}
	if err != nil {
		return s.createErrorResult("scan_regimen", err), nil, nil
	}
	return s.jsonResult(scan)
}

func (s *Server) handleAddRegimenEntry(ctx context.Context, req *mcp.CallToolRequest, params AddRegimenEntryParams) (*mcp.CallToolResult, any, error) {
	s.toolLogger("add_regimen_entry").WithField("patient_id", params.PatientID).Info("Tool invoked")

	startedAt, err := parseOptionalTime("started_at", params.StartedAt)
	if err != nil {
		return s.createErrorResult("add_regimen_entry", err), nil, nil
	}

	var interactions *domain.ConflictReport
	if params.PatientID != "" && s.engine.Catalog().IsKnown(params.MedicineName) {
		interactions, err = s.engine.CheckPatientInteractions(ctx, params.PatientID, params.MedicineName)
		if err != nil {
			return s.createErrorResult("add_regimen_entry", err), nil, nil
		}
	}

	entry, err := s.engine.AddRegimenEntry(ctx, service.AddRegimenEntryRequest{
		PatientID:    params.PatientID,
		MedicineName: params.MedicineName,
		Dosage:       params.Dosage,
		Frequency:    domain.Frequency(params.Frequency),
		Purpose:      params.Purpose,
		AgeYears:     params.AgeYears,
		WeightKg:     params.WeightKg,
		StartedAt:    startedAt,
	})
	if err != nil {
		return s.createErrorResult("add_regimen_entry", err), nil, nil
	}
	return s.jsonResult(AddRegimenEntryResult{Entry: entry, Interactions: interactions})
}

func (s *Server) handleDiscontinueRegimenEntry(ctx context.Context, req *mcp.CallToolRequest, params EntryParams) (*mcp.CallToolResult, any, error) {
	s.toolLogger("discontinue_regimen_entry").WithField("entry_id", params.EntryID).Info("Tool invoked")

	entry, err := s.engine.DiscontinueRegimenEntry(ctx, params.EntryID)
	if err != nil {
		return s.createErrorResult("discontinue_regimen_entry", err), nil, nil
	}
	return s.jsonResult(entry)
}

func (s *Server) handleListRegimen(ctx context.Context, req *mcp.CallToolRequest, params ListRegimenParams) (*mcp.CallToolResult, any, error) {
	s.toolLogger("list_regimen").WithField("patient_id", params.PatientID).Debug("Tool invoked")

	entries, err := s.engine.ListRegimen(ctx, params.PatientID, params.IncludeInactive)
	if err != nil {
		return s.createErrorResult("list_regimen", err), nil, nil
	}
	return s.jsonResult(map[string]interface{}{"entries": nonNil(entries)})
}

func (s *Server) handleAddSchedule(ctx context.Context, req *mcp.CallToolRequest, params AddScheduleParams) (*mcp.CallToolResult, any, error) {
	s.toolLogger("add_schedule").WithField("regimen_entry_id", params.RegimenEntryID).Info("Tool invoked")

	schedule, err := s.engine.AddSchedule(ctx, service.AddScheduleRequest{
		RegimenEntryID: params.RegimenEntryID,
		Dose:           params.Dose,
		Frequency:      domain.Frequency(params.Frequency),
		TimeOfDay:      params.TimeOfDay,
		Days:           params.Days,
	})
	if err != nil {
		return s.createErrorResult("add_schedule", err), nil, nil
	}
	return s.jsonResult(schedule)
}

func (s *Server) handleDeactivateSchedule(ctx context.Context, req *mcp.CallToolRequest, params ScheduleParams) (*mcp.CallToolResult, any, error) {
	s.toolLogger("deactivate_schedule").WithField("schedule_id", params.ScheduleID).Info("Tool invoked")

	schedule, err := s.engine.DeactivateSchedule(ctx, params.ScheduleID)
	if err != nil {
		return s.createErrorResult("deactivate_schedule", err), nil, nil
	}
	return s.jsonResult(schedule)
}

func (s *Server) handleListSchedules(ctx context.Context, req *mcp.CallToolRequest, params ListSchedulesParams) (*mcp.CallToolResult, any, error) {
	s.toolLogger("list_schedules").WithField("patient_id", params.PatientID).Debug("Tool invoked")

	schedules, err := s.engine.ListPatientSchedules(ctx, params.PatientID, params.IncludeInactive)
	if err != nil {
		return s.createErrorResult("list_schedules", err), nil, nil
	}
	return s.jsonResult(map[string]interface{}{"schedules": nonNil(schedules)})
}

func (s *Server) handleListDueSchedules(ctx context.Context, req *mcp.CallToolRequest, params ListDueSchedulesParams) (*mcp.CallToolResult, any, error) {
	s.toolLogger("list_due_schedules").Debug("Tool invoked")

	asOf := s.engine.Now()
	if params.AsOf != "" {
		parsed, err := parseTime("as_of", params.AsOf)
		if err != nil {
			return s.createErrorResult("list_due_schedules", err), nil, nil
		}
		asOf = parsed
	}

	schedules, err := s.engine.ListActiveSchedules(ctx, asOf)
	if err != nil {
		return s.createErrorResult("list_due_schedules", err), nil, nil
	}
	return s.jsonResult(map[string]interface{}{
		"as_of":     asOf.In(s.engine.Location()),
		"schedules": nonNil(schedules),
	})
}

func (s *Server) handleRecordDose(ctx context.Context, req *mcp.CallToolRequest, params RecordDoseParams) (*mcp.CallToolResult, any, error) {
	s.toolLogger("record_dose").WithFields(logrus.Fields{
		"schedule_id": params.ScheduleID,
		"outcome":     params.Outcome,
	}).Info("Tool invoked")

	var at time.Time
	if params.At != "" {
		parsed, err := parseTime("at", params.At)
		if err != nil {
			return s.createErrorResult("record_dose", err), nil, nil
		}
		at = parsed
	}

	event, err := s.engine.RecordDose(ctx, service.RecordDoseRequest{
		ScheduleID: params.ScheduleID,
		Outcome:    domain.Outcome(params.Outcome),
		At:         at,
		Note:       params.Note,
	})
	if err != nil {
		return s.createErrorResult("record_dose", err), nil, nil
	}
	return s.jsonResult(event)
}

func (s *Server) handleListDoseHistory(ctx context.Context, req *mcp.CallToolRequest, params DoseHistoryParams) (*mcp.CallToolResult, any, error) {
	s.toolLogger("list_dose_history").WithField("patient_id", params.PatientID).Debug("Tool invoked")

	from, err := parseTime("from", params.From)
	if err != nil {
		return s.createErrorResult("list_dose_history", err), nil, nil
	}
	to, err := parseTime("to", params.To)
	if err != nil {
		return s.createErrorResult("list_dose_history", err), nil, nil
	}

	events, err := s.engine.ListDoseHistory(ctx, params.PatientID, from, to)
	if err != nil {
		return s.createErrorResult("list_dose_history", err), nil, nil
	}
	return s.jsonResult(map[string]interface{}{"events": nonNil(events)})
}

func (s *Server) handleGetAdherenceState(ctx context.Context, req *mcp.CallToolRequest, params AdherenceParams) (*mcp.CallToolResult, any, error) {
	s.toolLogger("get_adherence_state").WithField("patient_id", params.PatientID).Debug("Tool invoked")

	var (
		state *domain.AdherenceState
		err   error
	)
	if params.Refresh {
		state, err = s.engine.Recompute(ctx, params.PatientID)
	} else {
		state, err = s.engine.GetAdherenceState(ctx, params.PatientID)
	}
	if err != nil {
		return s.createErrorResult("get_adherence_state", err), nil, nil
	}
	return s.jsonResult(state)
}

func (s *Server) handleRunSweep(ctx context.Context, req *mcp.CallToolRequest, params SweepParams) (*mcp.CallToolResult, any, error) {
	s.toolLogger("run_sweep").Info("Tool invoked")
	return s.jsonResult(s.sweeper.Tick(ctx))
}

func (s *Server) toolLogger(tool string) *logrus.Entry {
	return s.logger.WithField("tool", tool)
}

// jsonResult renders v as the tool's text content.
func (s *Server) jsonResult(v interface{}) (*mcp.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil, nil
}

// createErrorResult creates an error result for tool calls. The text is the
// JSON form of domain.EngineError so callers can branch on the code.
func (s *Server) createErrorResult(tool string, err error) *mcp.CallToolResult {
	engineErr := domain.NewEngineError(err, "")

	entry := s.toolLogger(tool).WithField("code", engineErr.Code).WithError(err)
	switch {
	case errors.Is(err, domain.ErrPersistenceUnavailable), engineErr.Code == domain.CodeInternal:
		entry.Error("Tool failed")
	default:
		entry.Debug("Tool rejected request")
	}

	text, marshalErr := json.Marshal(engineErr)
	if marshalErr != nil {
		text = []byte(fmt.Sprintf("Error: %s - %v", engineErr.Code, err))
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(text)},
		},
		IsError: true,
	}
}

func parseTime(field, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, domain.NewValidationError(field, "must be an RFC3339 timestamp", value)
	}
	return t, nil
}

func parseOptionalTime(field, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := parseTime(field, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// nonNil keeps empty lists as [] in the JSON output.
func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
