package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-grader/internal/models"
)

// TestCaseRepository persists the test cases of an exercise.
type TestCaseRepository interface {
	ListByExercise(ctx context.Context, exerciseID uint) ([]models.TestCase, error)
	CreateMissing(ctx context.Context, exerciseID uint, testCases []models.TestCase) error
	Update(ctx context.Context, testCase *models.TestCase) error
}

type testCaseRepository struct {
	db *gorm.DB
}

// NewTestCaseRepository constructs a test case repository.
func NewTestCaseRepository(db *gorm.DB) TestCaseRepository {
	return &testCaseRepository{db: db}
}

func (r *testCaseRepository) ListByExercise(ctx context.Context, exerciseID uint) ([]models.TestCase, error) {
	var testCases []models.TestCase
	err := r.db.WithContext(ctx).
		Where("exercise_id = ?", exerciseID).
		Order("id ASC").
		Find(&testCases).Error
	if err != nil {
		return nil, err
	}
	return testCases, nil
}

// CreateMissing inserts test cases whose name is not yet registered; existing names are left untouched.
func (r *testCaseRepository) CreateMissing(ctx context.Context, exerciseID uint, testCases []models.TestCase) error {
	if len(testCases) == 0 {
		return nil
	}
	for i := range testCases {
		testCases[i].ExerciseID = exerciseID
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "exercise_id"}, {Name: "test_name"}},
			DoNothing: true,
		}).
		Create(&testCases).Error
}

func (r *testCaseRepository) Update(ctx context.Context, testCase *models.TestCase) error {
	return r.db.WithContext(ctx).Save(testCase).Error
}
