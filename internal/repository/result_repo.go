package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-grader/internal/models"
)

// ResultRepository persists results together with their feedback.
type ResultRepository interface {
	Create(ctx context.Context, result *models.Result) error
	GetByID(ctx context.Context, id uint) (models.Result, error)
	ListByParticipation(ctx context.Context, participationID uint) ([]models.Result, error)
	ReplaceFeedbacks(ctx context.Context, result *models.Result) error
	Update(ctx context.Context, result *models.Result) error
	Delete(ctx context.Context, id uint) error
	CountOpenLocks(ctx context.Context, exerciseID, assessorID uint) (int, error)
}

type resultRepository struct {
	db *gorm.DB
}

// NewResultRepository constructs a result repository.
func NewResultRepository(db *gorm.DB) ResultRepository {
	return &resultRepository{db: db}
}

// Create inserts the result and its feedback, including out-of-line detail texts.
func (r *resultRepository) Create(ctx context.Context, result *models.Result) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		feedbacks := result.Feedbacks
		if err := tx.Omit(clause.Associations).Create(result).Error; err != nil {
			return err
		}
		if err := createFeedbacks(tx, result.ID, feedbacks); err != nil {
			return err
		}
		result.Feedbacks = feedbacks
		return nil
	})
}

func (r *resultRepository) GetByID(ctx context.Context, id uint) (models.Result, error) {
	var result models.Result
	err := r.db.WithContext(ctx).
		Preload("Feedbacks", orderByID("feedbacks")).
		Preload("Feedbacks.LongFeedbackText").
		First(&result, id).Error
	if err != nil {
		return models.Result{}, err
	}
	return result, nil
}

func (r *resultRepository) ListByParticipation(ctx context.Context, participationID uint) ([]models.Result, error) {
	var results []models.Result
	err := r.db.WithContext(ctx).
		Preload("Feedbacks", orderByID("feedbacks")).
		Where("participation_id = ?", participationID).
		Order("id ASC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// ReplaceFeedbacks stores the result's scalar fields and swaps its whole feedback list.
func (r *resultRepository) ReplaceFeedbacks(ctx context.Context, result *models.Result) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		feedbacks := result.Feedbacks
		if err := deleteFeedbacks(tx, result.ID); err != nil {
			return err
		}
		if err := tx.Omit(clause.Associations).Save(result).Error; err != nil {
			return err
		}
		if err := createFeedbacks(tx, result.ID, feedbacks); err != nil {
			return err
		}
		result.Feedbacks = feedbacks
		return nil
	})
}

func (r *resultRepository) Update(ctx context.Context, result *models.Result) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(result).Error
}

// Delete removes the result, its feedback and any complaint filed against it.
func (r *resultRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deleteFeedbacks(tx, id); err != nil {
			return err
		}
		complaints := tx.Model(&models.Complaint{}).Select("id").Where("result_id = ?", id)
		if err := tx.Where("complaint_id IN (?)", complaints).Delete(&models.ComplaintResponse{}).Error; err != nil {
			return err
		}
		if err := tx.Where("result_id = ?", id).Delete(&models.Complaint{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Result{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// CountOpenLocks counts uncompleted manual results the assessor holds in the exercise.
func (r *resultRepository) CountOpenLocks(ctx context.Context, exerciseID, assessorID uint) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Result{}).
		Joins("JOIN participations ON participations.id = results.participation_id").
		Where("participations.exercise_id = ?", exerciseID).
		Where("results.assessor_id = ?", assessorID).
		Where("results.completion_date IS NULL").
		Where("results.assessment_type <> ?", models.AssessmentTypeAutomatic).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func createFeedbacks(tx *gorm.DB, resultID uint, feedbacks []models.Feedback) error {
	for i := range feedbacks {
		feedback := &feedbacks[i]
		feedback.ID = 0
		feedback.ResultID = resultID
		longText := feedback.LongFeedbackText
		if err := tx.Omit(clause.Associations).Create(feedback).Error; err != nil {
			return err
		}
		if longText != nil {
			longText.ID = 0
			longText.FeedbackID = feedback.ID
			if err := tx.Create(longText).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

func deleteFeedbacks(tx *gorm.DB, resultID uint) error {
	feedbackIDs := tx.Model(&models.Feedback{}).Select("id").Where("result_id = ?", resultID)
	if err := tx.Where("feedback_id IN (?)", feedbackIDs).Delete(&models.LongFeedbackText{}).Error; err != nil {
		return err
	}
	return tx.Where("result_id = ?", resultID).Delete(&models.Feedback{}).Error
}
