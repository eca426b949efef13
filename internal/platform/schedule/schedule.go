// Package schedule runs the periodic sweeps on cron specs. A job that is
// still running when its next tick fires is skipped, not queued.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	// Embed tzdata for environments without zoneinfo.
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/lueurxax/hotspot-engine/internal/platform/observability"
)

const (
	statusOK    = "ok"
	statusError = "error"

	logKeyJob = "job"
)

var (
	// ErrInvalidSpec indicates a cron expression that does not parse.
	ErrInvalidSpec = errors.New("invalid schedule spec")
	// ErrDuplicateJob indicates two jobs registered under one name.
	ErrDuplicateJob = errors.New("duplicate job name")
)

var timezoneAliases = map[string]string{
	"Asia/Nicosia": "Europe/Nicosia",
	"PRC":          "Asia/Shanghai",
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// JobFunc performs one run and reports how many items it handled.
type JobFunc func(ctx context.Context) (int, error)

// Job is a named periodic task.
type Job struct {
	Name string
	// Spec is a five-field cron expression or a descriptor such as "@every 1m".
	Spec string
	Run  JobFunc
}

// Runner owns the cron instance.
type Runner struct {
	cron   *cron.Cron
	logger *zerolog.Logger
	names  map[string]bool

	mu  sync.RWMutex
	ctx context.Context
}

// New creates a Runner whose specs are read in loc.
func New(loc *time.Location, logger *zerolog.Logger) *Runner {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	if loc == nil {
		loc = time.UTC
	}

	adapter := cronLogger{logger: logger}

	return &Runner{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithParser(parser),
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
		),
		logger: logger,
		names:  make(map[string]bool),
		ctx:    context.Background(),
	}
}

// ValidateSpec checks that spec parses.
func ValidateSpec(spec string) error {
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidSpec, spec, err)
	}

	return nil
}

// Add registers a job. Jobs may be added before or after Run starts.
func (r *Runner) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("%w: job needs a name and a function", ErrInvalidSpec)
	}

	if r.names[job.Name] {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.Name)
	}

	if err := ValidateSpec(job.Spec); err != nil {
		return err
	}

	if _, err := r.cron.AddFunc(job.Spec, r.wrap(job)); err != nil {
		return fmt.Errorf("add job %s: %w", job.Name, err)
	}

	r.names[job.Name] = true

	return nil
}

// Run starts the scheduler and blocks until ctx is canceled, then waits for
// running jobs to return.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()

	r.cron.Start()
	r.logger.Info().Int("jobs", len(r.cron.Entries())).Msg("scheduler started")

	<-ctx.Done()

	<-r.cron.Stop().Done()
	r.logger.Info().Msg("scheduler stopped")

	return nil
}

func (r *Runner) wrap(job Job) func() {
	return func() {
		r.mu.RLock()
		ctx := r.ctx
		r.mu.RUnlock()

		if ctx.Err() != nil {
			return
		}

		start := time.Now()
		n, err := job.Run(ctx)

		observability.JobDuration.WithLabelValues(job.Name).Observe(time.Since(start).Seconds())

		if err != nil {
			observability.JobRuns.WithLabelValues(job.Name, statusError).Inc()
			r.logger.Error().Err(err).Str(logKeyJob, job.Name).Msg("job failed")

			return
		}

		observability.JobRuns.WithLabelValues(job.Name, statusOK).Inc()

		if n > 0 {
			r.logger.Info().Str(logKeyJob, job.Name).Int("processed", n).Msg("job finished")
		}
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger *zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}

// NormalizeTimezone maps known aliases to canonical IANA names.
func NormalizeTimezone(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}

	if canonical, ok := timezoneAliases[value]; ok {
		return canonical
	}

	return value
}

// LoadLocation resolves a timezone name, defaulting to UTC when empty.
func LoadLocation(name string) (*time.Location, error) {
	name = NormalizeTimezone(name)
	if name == "" {
		return time.UTC, nil
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone: %w", err)
	}

	return loc, nil
}
