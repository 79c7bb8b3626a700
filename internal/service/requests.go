package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/meditrek-engine/internal/domain"
)

// AddRegimenEntryRequest adds a medicine to a patient's regimen.
type AddRegimenEntryRequest struct {
	PatientID    string           `json:"patient_id" validate:"required,max=128"`
	MedicineName string           `json:"medicine_name" validate:"required,max=200"`
	Dosage       string           `json:"dosage,omitempty" validate:"max=64"`
	Frequency    domain.Frequency `json:"frequency,omitempty" validate:"omitempty,oneof=daily weekly custom as_needed"`
	Purpose      string           `json:"purpose,omitempty" validate:"max=500"`
	AgeYears     int              `json:"age_years,omitempty" validate:"gte=0,lte=150"`
	WeightKg     float64          `json:"weight_kg,omitempty" validate:"gte=0,lte=700"`
	StartedAt    *time.Time       `json:"started_at,omitempty"`
}

// AddScheduleRequest attaches a dosing rule to a regimen entry.
type AddScheduleRequest struct {
	RegimenEntryID string           `json:"regimen_entry_id" validate:"required"`
	Dose           string           `json:"dose" validate:"required,max=64"`
	Frequency      domain.Frequency `json:"frequency,omitempty" validate:"omitempty,oneof=daily weekly custom as_needed"`
	TimeOfDay      string           `json:"time_of_day" validate:"required"`
	Days           []string         `json:"days,omitempty" validate:"max=7"`
}

// RecordDoseRequest logs a taken or missed dose. A zero At means now.
type RecordDoseRequest struct {
	ScheduleID string         `json:"schedule_id" validate:"required"`
	Outcome    domain.Outcome `json:"outcome" validate:"required,oneof=taken missed"`
	At         time.Time      `json:"at,omitempty"`
	Note       string         `json:"note,omitempty" validate:"max=500"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateStruct converts the first validator failure into a domain.ValidationError.
func validateStruct(v *validator.Validate, req interface{}) error {
	err := v.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		msg := fmt.Sprintf("failed on '%s'", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed on '%s=%s'", fe.Tag(), fe.Param())
		}
		return domain.NewValidationError(fe.Field(), msg, fe.Value())
	}
	return domain.NewValidationError("request", err.Error(), nil)
}
