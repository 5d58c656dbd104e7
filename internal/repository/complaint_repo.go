package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-grader/internal/models"
)

// ErrComplaintResolved reports that another response already decided the complaint.
var ErrComplaintResolved = errors.New("complaint already resolved")

// ComplaintRepository persists complaints and their responses.
type ComplaintRepository interface {
	Create(ctx context.Context, complaint *models.Complaint) error
	GetByID(ctx context.Context, id uint) (models.Complaint, error)
	GetByResultID(ctx context.Context, resultID uint) (models.Complaint, error)
	Respond(ctx context.Context, complaint *models.Complaint, response *models.ComplaintResponse, result *models.Result) error
}

type complaintRepository struct {
	db *gorm.DB
}

// NewComplaintRepository constructs a complaint repository.
func NewComplaintRepository(db *gorm.DB) ComplaintRepository {
	return &complaintRepository{db: db}
}

// Create stores the complaint and flags the result it targets.
func (r *complaintRepository) Create(ctx context.Context, complaint *models.Complaint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Response").Create(complaint).Error; err != nil {
			return err
		}
		return tx.Model(&models.Result{}).
			Where("id = ?", complaint.ResultID).
			Update("has_complaint", true).Error
	})
}

func (r *complaintRepository) GetByID(ctx context.Context, id uint) (models.Complaint, error) {
	var complaint models.Complaint
	if err := r.db.WithContext(ctx).Preload("Response").First(&complaint, id).Error; err != nil {
		return models.Complaint{}, err
	}
	return complaint, nil
}

func (r *complaintRepository) GetByResultID(ctx context.Context, resultID uint) (models.Complaint, error) {
	var complaint models.Complaint
	err := r.db.WithContext(ctx).
		Preload("Response").
		Where("result_id = ?", resultID).
		First(&complaint).Error
	if err != nil {
		return models.Complaint{}, err
	}
	return complaint, nil
}

// Respond decides an open complaint. The decision, the optional replacement result and the
// response are written in one transaction; a complaint decided in the meantime yields
// ErrComplaintResolved and nothing is written.
func (r *complaintRepository) Respond(ctx context.Context, complaint *models.Complaint, response *models.ComplaintResponse, result *models.Result) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		decided := tx.Model(&models.Complaint{}).
			Where("id = ? AND accepted IS NULL", complaint.ID).
			Update("accepted", complaint.Accepted)
		if decided.Error != nil {
			return decided.Error
		}
		if decided.RowsAffected == 0 {
			return ErrComplaintResolved
		}

		if result != nil {
			feedbacks := result.Feedbacks
			if err := tx.Omit(clause.Associations).Create(result).Error; err != nil {
				return err
			}
			if err := createFeedbacks(tx, result.ID, feedbacks); err != nil {
				return err
			}
			result.Feedbacks = feedbacks
			resultID := result.ID
			response.ResultID = &resultID
		}

		response.ComplaintID = complaint.ID
		if err := tx.Create(response).Error; err != nil {
			return err
		}
		complaint.Response = response
		return nil
	})
}
