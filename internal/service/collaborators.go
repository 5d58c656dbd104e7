package service

import (
	"context"
	"io"
	"time"

	"github.com/noah-isme/gema-grader/internal/models"
)

// CommitInfo summarises a commit in a student repository.
type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	Timestamp time.Time
}

// VersionControl is the port to the version control system hosting student repositories.
type VersionControl interface {
	LastCommitHash(ctx context.Context, repositoryURI, branch string) (string, error)
	CommitInfos(ctx context.Context, repositoryURI string) ([]CommitInfo, error)
	SetRepositoryPermissionsToReadOnly(ctx context.Context, repositoryURI, projectKey string, users []string) error
	GrantRepositoryWriteAccess(ctx context.Context, repositoryURI, projectKey string, users []string) error
	DefaultBranch(ctx context.Context, repositoryURI string) (string, error)
	PushDate(ctx context.Context, repositoryURI, commitHash string) (*time.Time, error)
}

// BuildTrigger asks the continuous integration system to build a commit.
type BuildTrigger struct {
	Exercise       models.Exercise
	Participation  models.Participation
	CommitHash     string
	SubmissionType models.SubmissionType
}

// ContinuousIntegration is the port to the build system.
type ContinuousIntegration interface {
	TriggerBuild(ctx context.Context, trigger BuildTrigger) error
}

// ParticipationLocker locks and unlocks a participation together with its repository.
type ParticipationLocker interface {
	LockStudentParticipation(ctx context.Context, exercise models.Exercise, participation models.Participation) error
	UnlockStudentRepositoryAndParticipation(ctx context.Context, exercise models.Exercise, participation models.Participation) error
}

// BuildLogArchiver stores complete build logs outside the database.
type BuildLogArchiver interface {
	Upload(ctx context.Context, name string, reader io.Reader) (string, error)
}
