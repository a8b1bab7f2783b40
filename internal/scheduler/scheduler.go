// Package scheduler runs the daily pipeline and periodic health checks on
// cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"opportunist/internal/config"
	"opportunist/internal/logger"
	"opportunist/internal/pipeline"
)

// Runner is the part of the orchestrator the scheduler drives.
type Runner interface {
	Run(ctx context.Context, task pipeline.Task) *pipeline.Report
	Health(ctx context.Context) *pipeline.HealthReport
}

type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	cfg    config.ScheduleConfig
	log    logger.Logger
}

func New(cfg config.ScheduleConfig, runner Runner, log logger.Logger) (*Scheduler, error) {
	if log == nil {
		log = logger.NewNop()
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	log = log.With(logger.String("component", "scheduler"))
	cl := cronLogger{log: log}

	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runner: runner,
		cfg:    cfg,
		log:    log,
	}, nil
}

// Start registers the daily pipeline and the health check and starts the
// cron loop. Jobs run with ctx so shutdown cancels an in-flight run.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.Daily, func() { s.runPipeline(ctx) }); err != nil {
		return fmt.Errorf("cron.AddFunc(%q): %w", s.cfg.Daily, err)
	}
	if _, err := s.cron.AddFunc(s.cfg.HealthEvery, func() { s.checkHealth(ctx) }); err != nil {
		return fmt.Errorf("cron.AddFunc(%q): %w", s.cfg.HealthEvery, err)
	}

	s.cron.Start()
	s.log.Info("Scheduler started",
		logger.String("daily", s.cfg.Daily),
		logger.String("timezone", s.cfg.Timezone),
		logger.String("health_every", s.cfg.HealthEvery),
	)
	return nil
}

// Stop halts the cron loop and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("Scheduler stopped")
}

// Next returns the next activation time of every registered job.
func (s *Scheduler) Next() []time.Time {
	entries := s.cron.Entries()
	out := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Next)
	}
	return out
}

func (s *Scheduler) runPipeline(ctx context.Context) {
	rep := s.runner.Run(ctx, pipeline.TaskFullPipeline)
	if rep.Failed() {
		s.log.Error("Scheduled pipeline failed", logger.String("run_id", rep.RunID), logger.Strings("errors", rep.Errors))
		return
	}
	s.log.Info("Scheduled pipeline completed", logger.String("run_id", rep.RunID), logger.Duration("duration", rep.Duration))
}

func (s *Scheduler) checkHealth(ctx context.Context) {
	h := s.runner.Health(ctx)
	fields := []logger.Field{logger.String("status", string(h.Status)), logger.Any("components", h.Components)}
	if h.Status == pipeline.Healthy {
		s.log.Info("Health check", fields...)
		return
	}
	s.log.Warn("Health check", fields...)
}

// cronLogger adapts the logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.log.Debug(msg, kv(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.log.Error(msg, append(kv(keysAndValues), logger.Error(err))...)
}

func kv(keysAndValues []any) []logger.Field {
	fields := make([]logger.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields = append(fields, logger.Any(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1]))
	}
	return fields
}
