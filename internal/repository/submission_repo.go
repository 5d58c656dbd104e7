package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/models"
)

// SubmissionRepository persists submissions and exposes their ordered results.
type SubmissionRepository interface {
	// Create stores a new submission. When a concurrent report already created the
	// submission of the same commit, submission is filled with the stored row instead.
	Create(ctx context.Context, submission *models.Submission) error
	Update(ctx context.Context, submission *models.Submission) error
	GetByID(ctx context.Context, id uint) (models.Submission, error)
	FindByCommit(ctx context.Context, participationID uint, commitHash string) (models.Submission, error)
	LatestByParticipation(ctx context.Context, participationID uint) (models.Submission, error)
	ListByExercise(ctx context.Context, exerciseID uint) ([]models.Submission, error)
	CountGraded(ctx context.Context, participationID uint) (int, error)
	ReplaceBuildLogs(ctx context.Context, submissionID uint, entries []models.BuildLogEntry) error
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository constructs a submission repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) withResults(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Results", orderByID("results")).
		Preload("Results.Feedbacks", orderByID("feedbacks")).
		Preload("Results.Feedbacks.LongFeedbackText")
}

func (r *submissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	err := r.db.WithContext(ctx).Omit("Results").Create(submission).Error
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return err
	}
	existing, findErr := r.FindByCommit(ctx, submission.ParticipationID, submission.CommitHash)
	if findErr != nil {
		return errors.Join(err, findErr)
	}
	*submission = existing
	return nil
}

func (r *submissionRepository) Update(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Omit("Results", "BuildLogEntries").Save(submission).Error
}

func (r *submissionRepository) GetByID(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.withResults(ctx).First(&submission, id).Error; err != nil {
		return models.Submission{}, err
	}
	return submission, nil
}

func (r *submissionRepository) FindByCommit(ctx context.Context, participationID uint, commitHash string) (models.Submission, error) {
	var submission models.Submission
	err := r.withResults(ctx).
		Where("participation_id = ? AND commit_hash = ?", participationID, commitHash).
		First(&submission).Error
	if err != nil {
		return models.Submission{}, err
	}
	return submission, nil
}

func (r *submissionRepository) LatestByParticipation(ctx context.Context, participationID uint) (models.Submission, error) {
	var submission models.Submission
	err := r.withResults(ctx).
		Where("participation_id = ?", participationID).
		Order("submission_date DESC, id DESC").
		First(&submission).Error
	if err != nil {
		return models.Submission{}, err
	}
	return submission, nil
}

// ListByExercise returns every submission of the exercise ordered by participation and age.
func (r *submissionRepository) ListByExercise(ctx context.Context, exerciseID uint) ([]models.Submission, error) {
	var submissions []models.Submission
	err := r.withResults(ctx).
		Joins("JOIN participations ON participations.id = submissions.participation_id").
		Where("participations.exercise_id = ?", exerciseID).
		Order("submissions.participation_id ASC, submissions.submission_date ASC, submissions.id ASC").
		Find(&submissions).Error
	if err != nil {
		return nil, err
	}
	return submissions, nil
}

// CountGraded counts submissions of the participation with at least one completed result.
func (r *submissionRepository) CountGraded(ctx context.Context, participationID uint) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Submission{}).
		Where("submissions.participation_id = ?", participationID).
		Where("EXISTS (SELECT 1 FROM results WHERE results.submission_id = submissions.id AND results.completion_date IS NOT NULL)").
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// ReplaceBuildLogs swaps the stored build output of a submission for the entries of its latest build.
func (r *submissionRepository) ReplaceBuildLogs(ctx context.Context, submissionID uint, entries []models.BuildLogEntry) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("submission_id = ?", submissionID).Delete(&models.BuildLogEntry{}).Error; err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		return tx.CreateInBatches(entries, 200).Error
	})
}
