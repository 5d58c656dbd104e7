package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(now time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

type stubActivityRecorder struct {
	mu      sync.Mutex
	entries []ActivityEntry
}

func (s *stubActivityRecorder) Record(_ context.Context, entry ActivityEntry) (dto.ActivityResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return dto.ActivityResponse{Action: entry.Action, EntityType: entry.EntityType, EntityID: entry.EntityID}, nil
}

func (s *stubActivityRecorder) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	actions := make([]string, 0, len(s.entries))
	for _, entry := range s.entries {
		actions = append(actions, entry.Action)
	}
	return actions
}

type stubVCS struct {
	mu            sync.Mutex
	lastCommit    string
	pushDate      *time.Time
	defaultBranch string
	readOnly      []string
	writable      []string
	err           error
}

func (s *stubVCS) LastCommitHash(context.Context, string, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCommit, s.err
}

func (s *stubVCS) CommitInfos(context.Context, string) ([]CommitInfo, error) {
	return nil, s.err
}

func (s *stubVCS) SetRepositoryPermissionsToReadOnly(_ context.Context, uri, _ string, _ []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.readOnly = append(s.readOnly, uri)
	return nil
}

func (s *stubVCS) GrantRepositoryWriteAccess(_ context.Context, uri, _ string, _ []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.writable = append(s.writable, uri)
	return nil
}

func (s *stubVCS) DefaultBranch(context.Context, string) (string, error) {
	return s.defaultBranch, s.err
}

func (s *stubVCS) PushDate(context.Context, string, string) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushDate, nil
}

type stubCI struct {
	mu       sync.Mutex
	triggers []BuildTrigger
	err      error
}

func (s *stubCI) TriggerBuild(_ context.Context, trigger BuildTrigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.triggers = append(s.triggers, trigger)
	return nil
}

func (s *stubCI) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.triggers)
}

type stubArchiver struct {
	uploads map[string]string
}

func (s *stubArchiver) Upload(_ context.Context, name string, reader io.Reader) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	if s.uploads == nil {
		s.uploads = map[string]string{}
	}
	s.uploads[name] = string(data)
	return "https://logs.test/" + name, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []ResultEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event ResultEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.Type)
	}
	return types
}

var (
	instructor = ActivityActor{ID: 1, Role: RoleInstructor}
	tutorA     = ActivityActor{ID: 2, Role: RoleTutor}
	tutorB     = ActivityActor{ID: 3, Role: RoleTutor}
	student    = ActivityActor{ID: 100, Role: RoleStudent}
)

var baseTime = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

type gradingEnv struct {
	db             *gorm.DB
	clock          *testClock
	exercises      repository.ExerciseRepository
	participations repository.ParticipationRepository
	submissions    repository.SubmissionRepository
	results        repository.ResultRepository
	complaints     repository.ComplaintRepository
	vcs            *stubVCS
	ci             *stubCI
	archiver       *stubArchiver
	activity       *stubActivityRecorder
	publisher      *recordingPublisher
	testCases      TestCaseService
	policies       SubmissionPolicyService
	grading        GradingService
	assessment     AssessmentService
	complaint      ComplaintService
	resultView     ResultService
	participation  ParticipationService
}

func newGradingEnv(t *testing.T) *gradingEnv {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.All()...))

	env := &gradingEnv{
		db:             db,
		clock:          &testClock{now: baseTime},
		exercises:      repository.NewExerciseRepository(db),
		participations: repository.NewParticipationRepository(db),
		submissions:    repository.NewSubmissionRepository(db),
		results:        repository.NewResultRepository(db),
		complaints:     repository.NewComplaintRepository(db),
		vcs:            &stubVCS{lastCommit: "head"},
		ci:             &stubCI{},
		archiver:       &stubArchiver{},
		activity:       &stubActivityRecorder{},
		publisher:      &recordingPublisher{},
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	logger := testLogger()
	claimer := NewLocalClaimer()
	locker := NewParticipationLockService(env.participations, env.vcs, logger)

	env.testCases = NewTestCaseService(env.exercises, repository.NewTestCaseRepository(db), validate, env.activity, logger)
	env.policies = NewSubmissionPolicyService(env.exercises, repository.NewSubmissionPolicyRepository(db), env.participations, env.submissions, env.vcs, locker, validate, env.activity, SubmissionPolicyConfig{FanOut: 2}, logger)
	env.grading = NewGradingService(GradingDependencies{
		Exercises:      env.exercises,
		Participations: env.participations,
		Submissions:    env.submissions,
		Results:        env.results,
		TestCases:      env.testCases,
		Policies:       env.policies,
		VCS:            env.vcs,
		CI:             env.ci,
		Locker:         locker,
		Archiver:       env.archiver,
		Publisher:      env.publisher,
		Claimer:        claimer,
		Activity:       env.activity,
		Validator:      validate,
		FanOut:         2,
	}, logger)
	env.assessment = NewAssessmentService(AssessmentDependencies{
		Exercises:      env.exercises,
		Participations: env.participations,
		Submissions:    env.submissions,
		Results:        env.results,
		Claimer:        claimer,
		Publisher:      env.publisher,
		Activity:       env.activity,
		Validator:      validate,
	}, AssessmentConfig{LockLimit: 2}, logger)
	env.complaint = NewComplaintService(ComplaintDependencies{
		Exercises:      env.exercises,
		Participations: env.participations,
		Results:        env.results,
		Complaints:     env.complaints,
		Claimer:        claimer,
		Publisher:      env.publisher,
		Activity:       env.activity,
		Validator:      validate,
	}, ComplaintConfig{Window: 7 * 24 * time.Hour}, logger)
	env.resultView = NewResultService(env.exercises, env.participations, env.results, logger)
	env.participation = NewParticipationService(env.exercises, env.participations, env.submissions, locker, nil, env.activity, logger)

	env.grading.(*gradingService).now = env.clock.Now
	env.policies.(*submissionPolicyService).now = env.clock.Now
	env.assessment.(*assessmentService).now = env.clock.Now
	env.complaint.(*complaintService).now = env.clock.Now
	env.resultView.(*resultService).now = env.clock.Now
	env.participation.(*participationService).now = env.clock.Now

	return env
}

func (e *gradingEnv) seedExercise(t *testing.T, mutate func(*models.Exercise), testCases ...models.TestCase) models.Exercise {
	t.Helper()
	exercise := models.Exercise{
		Title:          "Sorting",
		ProjectKey:     "SORT",
		MaxPoints:      100,
		AssessmentType: models.AssessmentTypeAutomatic,
	}
	if mutate != nil {
		mutate(&exercise)
	}
	require.NoError(t, e.db.Omit("TestCases", "StaticCodeAnalysisCategories", "SubmissionPolicy").Create(&exercise).Error)
	for _, category := range exercise.StaticCodeAnalysisCategories {
		category.ExerciseID = exercise.ID
		require.NoError(t, e.db.Create(&category).Error)
	}
	for _, tc := range testCases {
		tc.ExerciseID = exercise.ID
		if tc.Visibility == "" {
			tc.Visibility = models.VisibilityAlways
		}
		require.NoError(t, e.db.Create(&tc).Error)
	}
	stored, err := e.exercises.GetByID(context.Background(), exercise.ID)
	require.NoError(t, err)
	return stored
}

func (e *gradingEnv) seedParticipation(t *testing.T, exercise models.Exercise, login string, studentID uint) models.Participation {
	t.Helper()
	participation := models.Participation{
		ExerciseID:     exercise.ID,
		StudentLogin:   login,
		StudentID:      studentID,
		RepositoryURI:  "https://vcs.test/" + login,
		RepositoryName: fmt.Sprintf("%s-%d-%s", strings.ToLower(exercise.ProjectKey), exercise.ID, login),
	}
	require.NoError(t, e.db.Create(&participation).Error)
	return participation
}

func (e *gradingEnv) setPolicy(t *testing.T, exercise models.Exercise, policy models.SubmissionPolicy) {
	t.Helper()
	policy.ExerciseID = exercise.ID
	require.NoError(t, e.db.Create(&policy).Error)
}

func (e *gradingEnv) reloadParticipation(t *testing.T, id uint) models.Participation {
	t.Helper()
	participation, err := e.participations.GetByID(context.Background(), id)
	require.NoError(t, err)
	return participation
}

func activeTest(name string, weight float64) models.TestCase {
	return models.TestCase{TestName: name, Weight: weight, BonusMultiplier: 1, Active: true, Visibility: models.VisibilityAlways}
}

func passedTest(name string) dto.BuildTestResult {
	return dto.BuildTestResult{Name: name, Passed: true}
}

func failedTest(name string) dto.BuildTestResult {
	return dto.BuildTestResult{Name: name, Passed: false, Message: "expected 1 but was 2"}
}

func buildReport(participation models.Participation, commit string, runAt time.Time, tests ...dto.BuildTestResult) dto.BuildResultNotification {
	return dto.BuildResultNotification{
		RepositoryName: participation.RepositoryName,
		Commits:        []dto.BuildCommit{{Hash: commit}},
		Successful:     true,
		BuildRunDate:   runAt,
		Tests:          tests,
	}
}

func manualFeedbackRequest(credits float64, text string) dto.FeedbackRequest {
	return dto.FeedbackRequest{
		Type:       string(models.FeedbackTypeManualUnreferenced),
		DetailText: text,
		Credits:    &credits,
	}
}

func floatRef(v float64) *float64 { return &v }

func timeRef(v time.Time) *time.Time { return &v }
