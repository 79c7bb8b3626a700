// Package scheduler turns active schedules into due reminders and automatic
// missed-dose records.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/meditrek-engine/internal/domain"
	"github.com/meditrek-engine/pkg/dosage"
)

// Sweep defaults
const (
	DefaultTickWindow      = 5 * time.Minute
	DefaultLookback        = 24 * time.Hour
	DefaultDeliveryTimeout = 10 * time.Second
)

// Engine is the part of service.Engine the sweep drives.
type Engine interface {
	ListActiveSchedules(ctx context.Context, asOf time.Time) ([]*domain.Schedule, error)
	FindDoseEvent(ctx context.Context, scheduleID string, slot time.Time) (*domain.DoseEvent, error)
	RecordMissed(ctx context.Context, scheduleID string, slot time.Time) (*domain.DoseEvent, bool, error)
	Location() *time.Location
	GraceWindow() time.Duration
}

// Config tunes a Sweeper.
type Config struct {
	TickWindow      time.Duration
	Lookback        time.Duration
	DeliveryTimeout time.Duration
}

// ConfigFromDomain converts the loaded sweep section.
func ConfigFromDomain(cfg domain.SweepConfig) Config {
	return Config{
		TickWindow:      cfg.TickWindow,
		Lookback:        cfg.Lookback,
		DeliveryTimeout: cfg.DeliveryTimeout,
	}
}

// ScheduleError is a failure while sweeping one schedule. An empty
// ScheduleID means the schedule listing itself failed.
type ScheduleError struct {
	ScheduleID string    `json:"schedule_id,omitempty"`
	Slot       time.Time `json:"slot,omitempty"`
	Err        error     `json:"-"`
	Message    string    `json:"message"`
}

func (e ScheduleError) Error() string {
	if e.ScheduleID == "" {
		return e.Message
	}
	return fmt.Sprintf("schedule %s at %s: %s", e.ScheduleID, e.Slot.Format(time.RFC3339), e.Message)
}

func (e ScheduleError) Unwrap() error { return e.Err }

// SweepReport summarizes one tick.
type SweepReport struct {
	StartedAt  time.Time       `json:"started_at"`
	Reminded   int             `json:"reminded"`
	AutoMissed int             `json:"auto_missed"`
	Errors     []ScheduleError `json:"errors,omitempty"`
	Skipped    bool            `json:"skipped"`
}

// Sweeper runs reminder sweeps. Ticks are single-flight: a tick that starts
// while another is running returns a report with Skipped set.
type Sweeper struct {
	engine   Engine
	notifier domain.Notifier
	clock    domain.Clock
	logger   *logrus.Logger
	cfg      Config

	running  atomic.Bool
	mu       sync.Mutex
	notified map[string]time.Time // key -> slot
	day      string
	inflight sync.WaitGroup
}

// NewSweeper creates a sweeper. A nil clock uses the wall clock.
func NewSweeper(engine Engine, notifier domain.Notifier, clock domain.Clock, cfg Config, logger *logrus.Logger) *Sweeper {
	if cfg.TickWindow <= 0 {
		cfg.TickWindow = DefaultTickWindow
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Sweeper{
		engine:   engine,
		notifier: notifier,
		clock:    clock,
		logger:   logger,
		cfg:      cfg,
		notified: make(map[string]time.Time),
	}
}

// Tick sweeps at the current clock time.
func (s *Sweeper) Tick(ctx context.Context) *SweepReport {
	return s.SweepAt(ctx, s.clock.Now())
}

// SweepAt sweeps as if the time were now. Per-schedule failures are collected
// in the report and never abort the sweep; those schedules are retried on the
// next tick.
func (s *Sweeper) SweepAt(ctx context.Context, now time.Time) *SweepReport {
	report := &SweepReport{StartedAt: now}
	if !s.running.CompareAndSwap(false, true) {
		report.Skipped = true
		s.logger.WithField("started_at", now).Debug("Sweep already running, skipping tick")
		return report
	}
	defer s.running.Store(false)

	loc := s.engine.Location()
	grace := s.engine.GraceWindow()
	now = now.In(loc)
	s.pruneNotifiedIfNewDay(domain.DayKey(now, loc), now)

	first := domain.StartOfDay(now.Add(-s.cfg.Lookback), loc)
	for day := first; !day.After(now); day = day.AddDate(0, 0, 1) {
		if ctx.Err() != nil {
			report.Errors = append(report.Errors, ScheduleError{Err: ctx.Err(), Message: ctx.Err().Error()})
			break
		}
		schedules, err := s.engine.ListActiveSchedules(ctx, day)
		if err != nil {
			report.Errors = append(report.Errors, ScheduleError{Err: err, Message: err.Error()})
			s.logger.WithField("day", day.Format("2006-01-02")).WithError(err).Warn("Sweep could not list schedules, retrying next tick")
			continue
		}
		for _, sc := range schedules {
			slot := sc.SlotOn(day, loc)
			if slot.After(now) || !sc.ActiveAt(slot) {
				continue
			}
			if err := s.sweepSlot(ctx, sc, slot, now, grace, report); err != nil {
				s.recordError(report, sc, slot, err)
			}
		}
	}

	entry := s.logger.WithFields(logrus.Fields{
		"started_at":  report.StartedAt,
		"reminded":    report.Reminded,
		"auto_missed": report.AutoMissed,
		"errors":      len(report.Errors),
	})
	if len(report.Errors) > 0 {
		entry.Warn("Sweep completed with errors")
	} else {
		entry.Debug("Sweep completed")
	}
	return report
}

func (s *Sweeper) sweepSlot(ctx context.Context, sc *domain.Schedule, slot, now time.Time, grace time.Duration, report *SweepReport) error {
	existing, err := s.engine.FindDoseEvent(ctx, sc.ID, slot)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	age := now.Sub(slot)
	if age > grace {
		_, created, err := s.engine.RecordMissed(ctx, sc.ID, slot)
		if errors.Is(err, domain.ErrScheduleInactive) {
			return nil
		}
		if err != nil {
			return err
		}
		if created {
			report.AutoMissed++
		}
		return nil
	}

	if age <= s.cfg.TickWindow && s.markNotified(sc.ID, slot) {
		s.deliver(reminderFor(sc, slot))
		report.Reminded++
	}
	return nil
}

func (s *Sweeper) recordError(report *SweepReport, sc *domain.Schedule, slot time.Time, err error) {
	report.Errors = append(report.Errors, ScheduleError{
		ScheduleID: sc.ID,
		Slot:       slot,
		Err:        err,
		Message:    err.Error(),
	})
	entry := s.logger.WithFields(logrus.Fields{
		"schedule_id": sc.ID,
		"patient_id":  sc.PatientID,
		"slot":        slot,
	}).WithError(err)
	if errors.Is(err, domain.ErrPersistenceUnavailable) {
		entry.Warn("Persistence unavailable during sweep, retrying next tick")
		return
	}
	entry.Error("Sweep failed for schedule")
}

// pruneNotifiedIfNewDay drops, once per day, the slots that are past the tick
// window and so can never be reminded again. Recent slots of the previous
// day are kept so a tick just after midnight does not repeat them.
func (s *Sweeper) pruneNotifiedIfNewDay(day string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.day == day {
		return
	}
	s.day = day
	for key, slot := range s.notified {
		if now.Sub(slot) > s.cfg.TickWindow {
			delete(s.notified, key)
		}
	}
}

// markNotified reports whether the slot was newly added to the notified set.
func (s *Sweeper) markNotified(scheduleID string, slot time.Time) bool {
	key := scheduleID + "@" + slot.UTC().Format(time.RFC3339)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notified[key]; ok {
		return false
	}
	s.notified[key] = slot
	return true
}

// deliver hands the reminder to the notifier without blocking the sweep.
func (s *Sweeper) deliver(reminder domain.Reminder) {
	if s.notifier == nil {
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DeliveryTimeout)
		defer cancel()
		if err := s.notifier.Notify(ctx, reminder); err != nil {
			s.logger.WithFields(logrus.Fields{
				"patient_id":  reminder.PatientID,
				"schedule_id": reminder.ScheduleID,
			}).WithError(err).Warn("Reminder delivery failed")
		}
	}()
}

// Wait blocks until in-flight deliveries finish.
func (s *Sweeper) Wait() {
	s.inflight.Wait()
}

func reminderFor(sc *domain.Schedule, slot time.Time) domain.Reminder {
	dose := dosage.Dose{Amount: sc.DoseAmount, Unit: sc.DoseUnit}
	return domain.Reminder{
		PatientID:    sc.PatientID,
		ScheduleID:   sc.ID,
		MedicineName: sc.MedicineName,
		DueAt:        slot,
		Message:      fmt.Sprintf("Time to take %s (%s) at %s", sc.MedicineName, dose.String(), sc.TimeOfDay.String()),
	}
}
