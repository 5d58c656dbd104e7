package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/service"
)

// Reporter delivers a finished build to the grading service.
type Reporter interface {
	Report(ctx context.Context, notification dto.BuildResultNotification) error
}

// RunnerConfig tunes the local build runner.
type RunnerConfig struct {
	Concurrency   int64
	Timeout       time.Duration
	MemoryLimitMB int64
	CPUShares     int64
}

// Runner is a continuous integration backend that builds commits in local containers and
// reports the outcome like an external CI system would.
type Runner struct {
	exec     Executor
	reporter Reporter
	cfg      RunnerConfig
	slots    *semaphore.Weighted
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   zerolog.Logger
	now      func() time.Time
}

// containerReport is what a test image prints on stdout.
type containerReport struct {
	Successful         *bool                          `json:"successful"`
	Tests              []dto.BuildTestResult          `json:"tests"`
	StaticCodeAnalysis []dto.StaticCodeAnalysisReport `json:"static_code_analysis"`
}

// NewRunner constructs the runner.
func NewRunner(exec Executor, reporter Reporter, cfg RunnerConfig, logger zerolog.Logger) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		exec:     exec,
		reporter: reporter,
		cfg:      cfg,
		slots:    semaphore.NewWeighted(cfg.Concurrency),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.With().Str("component", "build_runner").Logger(),
		now:      time.Now,
	}
}

// TriggerBuild queues the build and returns; the result arrives through the reporter.
func (r *Runner) TriggerBuild(_ context.Context, trigger service.BuildTrigger) error {
	if strings.TrimSpace(trigger.Exercise.TestImage) == "" {
		return fmt.Errorf("exercise %d has no test image", trigger.Exercise.ID)
	}
	if r.ctx.Err() != nil {
		return errors.New("build runner is closed")
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(trigger)
	}()
	return nil
}

func (r *Runner) run(trigger service.BuildTrigger) {
	logger := r.logger.With().
		Uint("participation_id", trigger.Participation.ID).
		Str("commit", trigger.CommitHash).
		Logger()

	if err := r.slots.Acquire(r.ctx, 1); err != nil {
		logger.Warn().Err(err).Msg("build dropped before it started")
		return
	}
	defer r.slots.Release(1)

	runAt := r.now().UTC()
	result, err := r.exec.Run(r.ctx, ExecutionRequest{
		Image:         trigger.Exercise.TestImage,
		Cmd:           command(trigger.Exercise.TestCommand),
		Env:           environment(trigger),
		Timeout:       r.cfg.Timeout,
		MemoryLimitMB: r.cfg.MemoryLimitMB,
		CPUShares:     r.cfg.CPUShares,
	})
	if err != nil {
		logger.Error().Err(err).Msg("build container failed")
		result = ExecutionResult{ExitCode: -1, Logs: []LogLine{{Time: r.now().UTC(), Text: err.Error()}}}
	}

	notification := Notification(trigger, result, runAt)
	if err := r.reporter.Report(r.ctx, notification); err != nil {
		logger.Error().Err(err).Msg("failed to report build result")
		return
	}
	logger.Info().Bool("successful", notification.Successful).Int("tests", len(notification.Tests)).Msg("build reported")
}

// Close stops accepting builds, cancels running ones and waits for them to finish.
func (r *Runner) Close(ctx context.Context) error {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notification converts container output into a build result notification. Output that is not
// a report marks the build as failed and is kept as log lines.
func Notification(trigger service.BuildTrigger, result ExecutionResult, runAt time.Time) dto.BuildResultNotification {
	notification := dto.BuildResultNotification{
		ProjectKey:     trigger.Exercise.ProjectKey,
		RepositoryName: trigger.Participation.RepositoryName,
		Branch:         trigger.Participation.Branch,
		Commits:        []dto.BuildCommit{{Hash: trigger.CommitHash, RepositorySlug: trigger.Participation.RepositoryName}},
		BuildRunDate:   runAt,
	}

	var report containerReport
	parsed := json.Unmarshal([]byte(strings.TrimSpace(result.Stdout)), &report) == nil
	if parsed {
		notification.Tests = report.Tests
		notification.StaticCodeAnalysis = report.StaticCodeAnalysis
		notification.Successful = result.ExitCode == 0 && !result.TimedOut
		if report.Successful != nil && !*report.Successful {
			notification.Successful = false
		}
	}

	for _, line := range result.Logs {
		notification.Logs = append(notification.Logs, dto.BuildLogLine{Time: line.Time, Log: line.Text})
	}
	if !parsed {
		for _, line := range strings.Split(strings.TrimSpace(result.Stdout), "\n") {
			if line != "" {
				notification.Logs = append(notification.Logs, dto.BuildLogLine{Time: runAt, Log: line})
			}
		}
	}
	if result.TimedOut {
		notification.Logs = append(notification.Logs, dto.BuildLogLine{Time: runAt.Add(result.Duration), Log: "build timed out"})
	}
	return notification
}

func command(raw string) []string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func environment(trigger service.BuildTrigger) []string {
	branch := trigger.Participation.Branch
	if branch == "" {
		branch = trigger.Exercise.DefaultBranch
	}
	return []string{
		"GEMA_REPOSITORY_URI=" + trigger.Participation.RepositoryURI,
		"GEMA_REPOSITORY_NAME=" + trigger.Participation.RepositoryName,
		"GEMA_BRANCH=" + branch,
		"GEMA_COMMIT=" + trigger.CommitHash,
		"GEMA_SUBMISSION_TYPE=" + string(trigger.SubmissionType),
	}
}
