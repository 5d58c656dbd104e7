package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/models"
)

// ParticipationRepository persists student participations.
type ParticipationRepository interface {
	Create(ctx context.Context, participation *models.Participation) error
	GetByID(ctx context.Context, id uint) (models.Participation, error)
	GetByRepositoryName(ctx context.Context, name string) (models.Participation, error)
	ListByExercise(ctx context.Context, exerciseID uint) ([]models.Participation, error)
	SetLocked(ctx context.Context, id uint, locked bool) error
	SetIndividualDueDate(ctx context.Context, id uint, dueDate *time.Time) error
}

type participationRepository struct {
	db *gorm.DB
}

// NewParticipationRepository constructs a participation repository.
func NewParticipationRepository(db *gorm.DB) ParticipationRepository {
	return &participationRepository{db: db}
}

func (r *participationRepository) Create(ctx context.Context, participation *models.Participation) error {
	return r.db.WithContext(ctx).Create(participation).Error
}

func (r *participationRepository) GetByID(ctx context.Context, id uint) (models.Participation, error) {
	var participation models.Participation
	if err := r.db.WithContext(ctx).First(&participation, id).Error; err != nil {
		return models.Participation{}, err
	}
	return participation, nil
}

func (r *participationRepository) GetByRepositoryName(ctx context.Context, name string) (models.Participation, error) {
	var participation models.Participation
	if err := r.db.WithContext(ctx).Where("repository_name = ?", name).First(&participation).Error; err != nil {
		return models.Participation{}, err
	}
	return participation, nil
}

func (r *participationRepository) ListByExercise(ctx context.Context, exerciseID uint) ([]models.Participation, error) {
	var participations []models.Participation
	err := r.db.WithContext(ctx).
		Where("exercise_id = ?", exerciseID).
		Order("id ASC").
		Find(&participations).Error
	if err != nil {
		return nil, err
	}
	return participations, nil
}

func (r *participationRepository) SetLocked(ctx context.Context, id uint, locked bool) error {
	return r.db.WithContext(ctx).
		Model(&models.Participation{}).
		Where("id = ?", id).
		Update("locked", locked).Error
}

func (r *participationRepository) SetIndividualDueDate(ctx context.Context, id uint, dueDate *time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Participation{}).
		Where("id = ?", id).
		Update("individual_due_date", dueDate).Error
}
