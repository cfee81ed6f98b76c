package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/opinionsmarket/internal/metrics"
)

// Job is a unit of scheduled work.
type Job interface {
	Run(ctx context.Context) error
}

// Scheduler runs jobs on cron schedules. A run that is still in progress
// when its next tick fires is skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates an empty Scheduler. Schedules use the standard
// five-field format plus descriptors such as "@every 1m".
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "scheduler"))
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers job under name.
func (s *Scheduler) Add(name, spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() { s.runJob(name, job) })
	if err != nil {
		return fmt.Errorf("scheduler: add %s (%q): %w", name, spec, err)
	}
	s.logger.Info("scheduler: job registered", slog.String("job", name), slog.String("schedule", spec))
	return nil
}

func (s *Scheduler) runJob(name string, job Job) {
	start := time.Now()
	err := job.Run(s.ctx)
	metrics.RecordJobRun(name, time.Since(start), err == nil)
	if err != nil {
		s.logger.ErrorContext(s.ctx, "scheduler: job failed",
			slog.String("job", name),
			slog.String("error", err.Error()),
		)
	}
}

// Run starts the schedule and blocks until ctx is cancelled. It then waits
// for running jobs to observe cancellation and finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.logger.InfoContext(ctx, "scheduler started", slog.Int("jobs", len(s.cron.Entries())))

	<-ctx.Done()
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err.Error())...)
}
