// Package digest schedules periodic seasonality digests and delivers them
// through a Notifier.
//
// The runner keeps track of consecutive failed runs: the first failure of a
// streak triggers an error notification and the first success after a streak
// triggers a recovery notification, so a persistent outage is reported once.
package digest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/rewired-gh/callseason/internal/analysis"
	"github.com/rewired-gh/callseason/internal/logger"
	"github.com/rewired-gh/callseason/internal/models"
	"github.com/rewired-gh/callseason/internal/service"
)

// scheduleParser accepts six-field expressions (with seconds) and descriptors
// such as @daily.
var scheduleParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSchedule reports whether schedule is an expression the runner accepts.
func ValidateSchedule(schedule string) error {
	if _, err := scheduleParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	return nil
}

// Analyzer produces digests for a set of companies.
type Analyzer interface {
	Digest(ctx context.Context, companyIDs []string, opts analysis.Options, concurrency int) ([]models.CompanyDigest, []service.AnalysisError, error)
}

// Notifier delivers digests and run-health messages.
type Notifier interface {
	SendDigest(runID string, digests []models.CompanyDigest, failed int) error
	SendError(err error) error
	SendRecovery(failedRuns int) error
}

// Config controls what a run covers.
type Config struct {
	Schedule    string
	Companies   []string // empty means every company in the directory
	Concurrency int
	Options     analysis.Options
	Timeout     time.Duration // per run; zero means no limit
}

// Report describes one completed run.
type Report struct {
	RunID    string
	Started  time.Time
	Duration time.Duration
	Digests  []models.CompanyDigest
	Failures []service.AnalysisError
}

// Runner executes digest runs on a cron schedule.
type Runner struct {
	analyzer Analyzer
	notifier Notifier // nil disables notifications
	cfg      Config
	cron     *cron.Cron
	now      func() time.Time
	newRunID func() string

	// mu serializes runs and guards consecutiveFailures.
	mu                  sync.Mutex
	consecutiveFailures int
}

// NewRunner creates a runner. notifier may be nil.
func NewRunner(analyzer Analyzer, notifier Notifier, cfg Config) *Runner {
	return &Runner{
		analyzer: analyzer,
		notifier: notifier,
		cfg:      cfg,
		cron: cron.New(
			cron.WithParser(scheduleParser),
			cron.WithLogger(cronLogger{}),
			cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
		),
		now:      time.Now,
		newRunID: func() string { return uuid.New().String() },
	}
}

// Start schedules runs until ctx is done or Stop is called.
func (r *Runner) Start(ctx context.Context) error {
	_, err := r.cron.AddFunc(r.cfg.Schedule, func() {
		if _, err := r.RunOnce(ctx); err != nil {
			logger.Error("Scheduled digest failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule digest: %w", err)
	}

	r.cron.Start()
	logger.Info("Digest scheduler started (schedule: %s, companies: %d, concurrency: %d)",
		r.cfg.Schedule, len(r.cfg.Companies), r.cfg.Concurrency)
	return nil
}

// Stop stops scheduling and waits for a running digest to finish.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
	logger.Info("Digest scheduler stopped")
}

// ConsecutiveFailures returns the length of the current failure streak.
func (r *Runner) ConsecutiveFailures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.consecutiveFailures
}

// RunOnce performs one digest run and sends it. Individual companies that fail
// are reported in the digest footer and in Report.Failures; the run itself
// fails only when nothing could be analyzed or the digest could not be sent.
func (r *Runner) RunOnce(ctx context.Context) (*Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	report := &Report{RunID: r.newRunID(), Started: r.now()}
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	logger.Info("Starting digest run %s", report.RunID)
	err := r.run(ctx, report)
	report.Duration = r.now().Sub(report.Started)
	r.handleRunResult(err)
	if err != nil {
		return report, err
	}

	logger.Info("Digest run %s completed in %v: %d companies, %d failed",
		report.RunID, report.Duration, len(report.Digests), len(report.Failures))
	return report, nil
}

func (r *Runner) run(ctx context.Context, report *Report) error {
	digests, failures, err := r.analyzer.Digest(ctx, r.cfg.Companies, r.cfg.Options, r.cfg.Concurrency)
	if err != nil {
		return fmt.Errorf("failed to build digest: %w", err)
	}
	report.Digests = digests
	report.Failures = failures

	for _, f := range failures {
		logger.Warn("Digest skipped company %s: %v", f.CompanyID, f.Err)
	}
	if len(digests) == 0 && len(failures) > 0 {
		return fmt.Errorf("all %d companies failed, first: %w", len(failures), failures[0])
	}

	if r.notifier == nil {
		logger.Debug("Digest built but notifications are disabled")
		return nil
	}
	if err := r.notifier.SendDigest(report.RunID, digests, len(failures)); err != nil {
		return fmt.Errorf("failed to send digest: %w", err)
	}
	return nil
}

func (r *Runner) handleRunResult(err error) {
	if err != nil {
		r.consecutiveFailures++
		logger.Error("Digest run failed (%d in a row): %v", r.consecutiveFailures, err)
		if r.consecutiveFailures == 1 && r.notifier != nil {
			if sendErr := r.notifier.SendError(err); sendErr != nil {
				logger.Warn("Failed to send error notification: %v", sendErr)
			}
		}
		return
	}

	if r.consecutiveFailures > 0 && r.notifier != nil {
		if sendErr := r.notifier.SendRecovery(r.consecutiveFailures); sendErr != nil {
			logger.Warn("Failed to send recovery notification: %v", sendErr)
		}
	}
	r.consecutiveFailures = 0
}

// cronLogger routes cron's own messages through the package logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debug("cron: %s %v", msg, keysAndValues)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	if errors.Is(err, context.Canceled) {
		return
	}
	logger.Error("cron: %s: %v %v", msg, err, keysAndValues)
}
