package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/models"
)

// ExerciseRepository loads exercises together with their grading configuration.
type ExerciseRepository interface {
	Create(ctx context.Context, exercise *models.Exercise) error
	GetByID(ctx context.Context, id uint) (models.Exercise, error)
	Update(ctx context.Context, exercise *models.Exercise) error
	ListWithUpcomingDates(ctx context.Context, since time.Time) ([]models.Exercise, error)
}

type exerciseRepository struct {
	db *gorm.DB
}

// NewExerciseRepository constructs an exercise repository.
func NewExerciseRepository(db *gorm.DB) ExerciseRepository {
	return &exerciseRepository{db: db}
}

func (r *exerciseRepository) Create(ctx context.Context, exercise *models.Exercise) error {
	return r.db.WithContext(ctx).Create(exercise).Error
}

func (r *exerciseRepository) GetByID(ctx context.Context, id uint) (models.Exercise, error) {
	var exercise models.Exercise
	err := r.db.WithContext(ctx).
		Preload("TestCases", orderByID("test_cases")).
		Preload("StaticCodeAnalysisCategories", orderByID("static_code_analysis_categories")).
		Preload("SubmissionPolicy").
		First(&exercise, id).Error
	if err != nil {
		return models.Exercise{}, err
	}
	return exercise, nil
}

func (r *exerciseRepository) Update(ctx context.Context, exercise *models.Exercise) error {
	return r.db.WithContext(ctx).Omit("TestCases", "StaticCodeAnalysisCategories", "SubmissionPolicy").Save(exercise).Error
}

// ListWithUpcomingDates returns exercises with a lifecycle date after since, plus those
// whose participations carry an individual due date after since.
func (r *exerciseRepository) ListWithUpcomingDates(ctx context.Context, since time.Time) ([]models.Exercise, error) {
	individual := r.db.Model(&models.Participation{}).
		Select("exercise_id").
		Where("individual_due_date > ?", since)

	var exercises []models.Exercise
	err := r.db.WithContext(ctx).
		Preload("TestCases", orderByID("test_cases")).
		Where("release_date > ? OR due_date > ? OR build_and_test_after_due_date > ? OR assessment_due_date > ? OR id IN (?)",
			since, since, since, since, individual).
		Order("id ASC").
		Find(&exercises).Error
	if err != nil {
		return nil, err
	}
	return exercises, nil
}

func orderByID(table string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Order(table + ".id ASC")
	}
}
