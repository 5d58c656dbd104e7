package service

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
)

// TestCaseService keeps the registry of named tests per exercise.
type TestCaseService interface {
	List(ctx context.Context, exerciseID uint) ([]models.TestCase, error)
	RegisterReported(ctx context.Context, exerciseID uint, testNames []string) ([]models.TestCase, error)
	Update(ctx context.Context, exerciseID uint, updates []dto.TestCaseUpdateRequest, actor ActivityActor) ([]models.TestCase, error)
}

type testCaseService struct {
	exercises repository.ExerciseRepository
	repo      repository.TestCaseRepository
	validator *validator.Validate
	activity  ActivityRecorder
	logger    zerolog.Logger
}

// NewTestCaseService constructs the test case registry.
func NewTestCaseService(exercises repository.ExerciseRepository, repo repository.TestCaseRepository, validate *validator.Validate, activity ActivityRecorder, logger zerolog.Logger) TestCaseService {
	return &testCaseService{
		exercises: exercises,
		repo:      repo,
		validator: validate,
		activity:  activity,
		logger:    logger.With().Str("component", "test_case_service").Logger(),
	}
}

func (s *testCaseService) List(ctx context.Context, exerciseID uint) ([]models.TestCase, error) {
	return s.repo.ListByExercise(ctx, exerciseID)
}

// RegisterReported inserts reported tests that are unknown to the exercise. New tests start
// inactive so that an instructor decides whether they count; existing configuration is kept.
func (s *testCaseService) RegisterReported(ctx context.Context, exerciseID uint, testNames []string) ([]models.TestCase, error) {
	existing, err := s.repo.ListByExercise(ctx, exerciseID)
	if err != nil {
		return nil, err
	}

	known := make(map[string]struct{}, len(existing))
	for _, tc := range existing {
		known[tc.TestName] = struct{}{}
	}

	var missing []models.TestCase
	for _, name := range testNames {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := known[name]; ok {
			continue
		}
		known[name] = struct{}{}
		missing = append(missing, models.TestCase{
			TestName:        name,
			Weight:          1,
			BonusMultiplier: 1,
			Active:          false,
			Visibility:      models.VisibilityAlways,
		})
	}
	if len(missing) == 0 {
		return existing, nil
	}

	if err := s.repo.CreateMissing(ctx, exerciseID, missing); err != nil {
		return nil, err
	}
	s.logger.Info().Uint("exercise_id", exerciseID).Int("count", len(missing)).Msg("registered new test cases")

	return s.repo.ListByExercise(ctx, exerciseID)
}

func (s *testCaseService) Update(ctx context.Context, exerciseID uint, updates []dto.TestCaseUpdateRequest, actor ActivityActor) ([]models.TestCase, error) {
	if !actor.IsInstructor() {
		return nil, forbidden("only instructors may change test cases")
	}
	if _, err := s.exercises.GetByID(ctx, exerciseID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrExerciseNotFound
		}
		return nil, err
	}

	testCases, err := s.repo.ListByExercise(ctx, exerciseID)
	if err != nil {
		return nil, err
	}
	byID := make(map[uint]*models.TestCase, len(testCases))
	for i := range testCases {
		byID[testCases[i].ID] = &testCases[i]
	}

	for _, update := range updates {
		if err := s.validator.Struct(update); err != nil {
			return nil, err
		}
		if _, ok := byID[update.ID]; !ok {
			return nil, invalid("id", "test case does not belong to the exercise")
		}
	}

	for _, update := range updates {
		tc := byID[update.ID]
		if update.Weight != nil {
			tc.Weight = *update.Weight
		}
		if update.BonusMultiplier != nil {
			tc.BonusMultiplier = *update.BonusMultiplier
		}
		if update.BonusPoints != nil {
			tc.BonusPoints = *update.BonusPoints
		}
		if update.Active != nil {
			tc.Active = *update.Active
		}
		if update.Visibility != nil {
			tc.Visibility = models.Visibility(*update.Visibility)
		}
		if err := s.repo.Update(ctx, tc); err != nil {
			return nil, err
		}
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEntry{
		Actor:      actor,
		Action:     ActionTestCasesUpdated,
		EntityType: "exercise",
		EntityID:   uintPtr(exerciseID),
		Metadata:   map[string]interface{}{"updated": len(updates)},
	})

	return testCases, nil
}
