package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultSpec runs a sweep every minute.
const DefaultSpec = "@every 1m"

// Runner drives a Sweeper on a cron schedule. Overlapping runs are skipped.
type Runner struct {
	cron    *cron.Cron
	sweeper *Sweeper
	spec    string
	timeout time.Duration
	logger  *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRunner creates a runner. An empty spec uses DefaultSpec.
func NewRunner(sweeper *Sweeper, spec string, loc *time.Location, logger *logrus.Logger) *Runner {
	if spec == "" {
		spec = DefaultSpec
	}
	if loc == nil {
		loc = time.UTC
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logger))),
		),
		sweeper: sweeper,
		spec:    spec,
		timeout: 5 * time.Minute,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start registers the sweep job and starts the cron loop.
func (r *Runner) Start() error {
	if _, err := r.cron.AddFunc(r.spec, r.run); err != nil {
		return fmt.Errorf("registering sweep job %q: %w", r.spec, err)
	}
	r.cron.Start()
	r.logger.WithField("spec", r.spec).Info("Reminder sweep scheduler started")
	return nil
}

func (r *Runner) run() {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	report := r.sweeper.Tick(ctx)
	if report.Reminded > 0 || report.AutoMissed > 0 {
		r.logger.WithFields(logrus.Fields{
			"reminded":    report.Reminded,
			"auto_missed": report.AutoMissed,
		}).Info("Reminder sweep finished")
	}
}

// Stop stops scheduling new sweeps and waits for the running one and its
// deliveries, or for ctx to expire.
func (r *Runner) Stop(ctx context.Context) error {
	stopped := r.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		r.sweeper.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		r.logger.Info("Reminder sweep scheduler stopped")
		return nil
	case <-ctx.Done():
		r.cancel()
		return fmt.Errorf("stopping sweep scheduler: %w", ctx.Err())
	}
}
