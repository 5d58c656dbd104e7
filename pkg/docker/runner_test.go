package docker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/service"
)

type fakeExecutor struct {
	mu       sync.Mutex
	requests []ExecutionRequest
	result   ExecutionResult
	err      error
}

func (f *fakeExecutor) Run(_ context.Context, req ExecutionRequest) (ExecutionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.result, f.err
}

type recordingReporter struct {
	mu            sync.Mutex
	notifications []dto.BuildResultNotification
}

func (r *recordingReporter) Report(_ context.Context, notification dto.BuildResultNotification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, notification)
	return nil
}

func (r *recordingReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notifications)
}

func sampleTrigger() service.BuildTrigger {
	return service.BuildTrigger{
		Exercise: models.Exercise{
			ID:            7,
			ProjectKey:    "SORT",
			DefaultBranch: "main",
			TestImage:     "gema/java-tests:17",
			TestCommand:   "./gradlew test --offline",
		},
		Participation: models.Participation{
			ID:             3,
			RepositoryURI:  "https://vcs.test/sort-7-alice",
			RepositoryName: "sort-7-alice",
		},
		CommitHash:     "abc123",
		SubmissionType: models.SubmissionTypeManual,
	}
}

func TestRunnerReportsParsedContainerOutput(t *testing.T) {
	exec := &fakeExecutor{result: ExecutionResult{
		Stdout: `{"tests":[{"name":"testSort","passed":true},{"name":"testEmpty","passed":false,"message":"boom"}]}`,
		Logs:   []LogLine{{Time: time.Unix(10, 0).UTC(), Text: "compiling"}},
	}}
	reporter := &recordingReporter{}
	runner := NewRunner(exec, reporter, RunnerConfig{Concurrency: 1, Timeout: time.Minute}, zerolog.Nop())
	t.Cleanup(func() { _ = runner.Close(context.Background()) })

	require.NoError(t, runner.TriggerBuild(context.Background(), sampleTrigger()))
	require.Eventually(t, func() bool { return reporter.count() == 1 }, time.Second, 5*time.Millisecond)

	notification := reporter.notifications[0]
	require.Equal(t, "sort-7-alice", notification.RepositoryName)
	require.Equal(t, "abc123", notification.CommitHash())
	require.True(t, notification.Successful)
	require.Len(t, notification.Tests, 2)
	require.Equal(t, "compiling", notification.Logs[0].Log)

	exec.mu.Lock()
	defer exec.mu.Unlock()
	require.Equal(t, []string{"./gradlew", "test", "--offline"}, exec.requests[0].Cmd)
	require.Contains(t, exec.requests[0].Env, "GEMA_BRANCH=main")
	require.Contains(t, exec.requests[0].Env, "GEMA_COMMIT=abc123")
}

func TestRunnerReportsFailedBuildWhenContainerErrors(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("image not found")}
	reporter := &recordingReporter{}
	runner := NewRunner(exec, reporter, RunnerConfig{}, zerolog.Nop())
	t.Cleanup(func() { _ = runner.Close(context.Background()) })

	require.NoError(t, runner.TriggerBuild(context.Background(), sampleTrigger()))
	require.Eventually(t, func() bool { return reporter.count() == 1 }, time.Second, 5*time.Millisecond)

	notification := reporter.notifications[0]
	require.False(t, notification.Successful)
	require.Empty(t, notification.Tests)
	require.Equal(t, "image not found", notification.Logs[0].Log)
}

func TestRunnerRejectsExercisesWithoutImage(t *testing.T) {
	runner := NewRunner(&fakeExecutor{}, &recordingReporter{}, RunnerConfig{}, zerolog.Nop())
	trigger := sampleTrigger()
	trigger.Exercise.TestImage = " "
	require.Error(t, runner.TriggerBuild(context.Background(), trigger))

	require.NoError(t, runner.Close(context.Background()))
	require.Error(t, runner.TriggerBuild(context.Background(), sampleTrigger()))
}

func TestNotificationMarksUnparsedOutputAsFailed(t *testing.T) {
	runAt := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	notification := Notification(sampleTrigger(), ExecutionResult{Stdout: "error: cannot find symbol\n\nBUILD FAILED\n", ExitCode: 1}, runAt)

	require.False(t, notification.Successful)
	require.Len(t, notification.Logs, 2)
	require.Equal(t, "BUILD FAILED", notification.Logs[1].Log)
	require.Equal(t, runAt, notification.BuildRunDate)
}

func TestNotificationHonoursExitCodeAndTimeout(t *testing.T) {
	runAt := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	output := `{"tests":[{"name":"a","passed":true}]}`

	failed := Notification(sampleTrigger(), ExecutionResult{Stdout: output, ExitCode: 2}, runAt)
	require.False(t, failed.Successful)
	require.Len(t, failed.Tests, 1)

	timedOut := Notification(sampleTrigger(), ExecutionResult{Stdout: output, TimedOut: true, Duration: time.Minute}, runAt)
	require.False(t, timedOut.Successful)
	require.Equal(t, "build timed out", timedOut.Logs[len(timedOut.Logs)-1].Log)

	reported := Notification(sampleTrigger(), ExecutionResult{Stdout: `{"successful":false,"tests":[]}`}, runAt)
	require.False(t, reported.Successful)
}

func TestParseLogLinesReadsDockerTimestamps(t *testing.T) {
	lines := parseLogLines(strings.NewReader("2024-03-01T12:00:00.5Z compiling\n\nno timestamp here\n"))
	require.Len(t, lines, 2)
	require.Equal(t, "compiling", lines[0].Text)
	require.Equal(t, 500*time.Millisecond, time.Duration(lines[0].Time.Nanosecond()))
	require.Equal(t, "no timestamp here", lines[1].Text)
	require.True(t, lines[1].Time.IsZero())
}

func TestWebhookReporterPostsWithSecret(t *testing.T) {
	var received dto.BuildResultNotification
	var token, build string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = r.Header.Get("X-CI-Token")
		build = r.Header.Get("X-Build-ID")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	notification := Notification(sampleTrigger(), ExecutionResult{Stdout: `{"tests":[]}`}, time.Now().UTC())
	require.NoError(t, NewWebhookReporter(server.URL, "s3cret").Report(context.Background(), notification))
	require.Equal(t, "s3cret", token)
	require.Equal(t, "sort-7-alice", received.RepositoryName)
	require.Equal(t, "sort-7-alice@"+received.CommitHash(), build)
}

func TestWebhookReporterFailsOnRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"success":false,"message":"invalid ci token"}`))
	}))
	t.Cleanup(server.Close)

	err := NewWebhookReporter(server.URL, "wrong").Report(context.Background(), dto.BuildResultNotification{RepositoryName: "x"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "403")
}
