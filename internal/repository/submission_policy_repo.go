package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/models"
)

// SubmissionPolicyRepository persists the submission policy of an exercise.
type SubmissionPolicyRepository interface {
	GetByExercise(ctx context.Context, exerciseID uint) (models.SubmissionPolicy, error)
	Create(ctx context.Context, policy *models.SubmissionPolicy) error
	Update(ctx context.Context, policy *models.SubmissionPolicy) error
	Delete(ctx context.Context, id uint) error
}

type submissionPolicyRepository struct {
	db *gorm.DB
}

// NewSubmissionPolicyRepository constructs a submission policy repository.
func NewSubmissionPolicyRepository(db *gorm.DB) SubmissionPolicyRepository {
	return &submissionPolicyRepository{db: db}
}

func (r *submissionPolicyRepository) GetByExercise(ctx context.Context, exerciseID uint) (models.SubmissionPolicy, error) {
	var policy models.SubmissionPolicy
	if err := r.db.WithContext(ctx).Where("exercise_id = ?", exerciseID).First(&policy).Error; err != nil {
		return models.SubmissionPolicy{}, err
	}
	return policy, nil
}

func (r *submissionPolicyRepository) Create(ctx context.Context, policy *models.SubmissionPolicy) error {
	return r.db.WithContext(ctx).Create(policy).Error
}

func (r *submissionPolicyRepository) Update(ctx context.Context, policy *models.SubmissionPolicy) error {
	return r.db.WithContext(ctx).Save(policy).Error
}

func (r *submissionPolicyRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&models.SubmissionPolicy{}, id).Error
}
