package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
)

// ResultService serves results to tutors and students. Students only see feedback of tests
// that are visible to them at the time of the request.
type ResultService interface {
	Get(ctx context.Context, resultID uint, actor ActivityActor) (dto.ResultResponse, error)
	ListByParticipation(ctx context.Context, participationID uint, actor ActivityActor) ([]dto.ResultResponse, error)
}

type resultService struct {
	exercises      repository.ExerciseRepository
	participations repository.ParticipationRepository
	results        repository.ResultRepository
	logger         zerolog.Logger
	now            func() time.Time
}

// NewResultService constructs the result read service.
func NewResultService(exercises repository.ExerciseRepository, participations repository.ParticipationRepository, results repository.ResultRepository, logger zerolog.Logger) ResultService {
	return &resultService{
		exercises:      exercises,
		participations: participations,
		results:        results,
		logger:         logger.With().Str("component", "result_service").Logger(),
		now:            time.Now,
	}
}

func (s *resultService) context(ctx context.Context, participationID uint) (models.Participation, models.Exercise, error) {
	participation, err := s.participations.GetByID(ctx, participationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Participation{}, models.Exercise{}, ErrParticipationNotFound
		}
		return models.Participation{}, models.Exercise{}, err
	}
	exercise, err := s.exercises.GetByID(ctx, participation.ExerciseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Participation{}, models.Exercise{}, ErrExerciseNotFound
		}
		return models.Participation{}, models.Exercise{}, err
	}
	return participation, exercise, nil
}

func (s *resultService) Get(ctx context.Context, resultID uint, actor ActivityActor) (dto.ResultResponse, error) {
	result, err := s.results.GetByID(ctx, resultID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.ResultResponse{}, ErrResultNotFound
		}
		return dto.ResultResponse{}, err
	}
	if actor.IsTutor() {
		return dto.NewResultResponse(result), nil
	}

	participation, exercise, err := s.context(ctx, result.ParticipationID)
	if err != nil {
		return dto.ResultResponse{}, err
	}
	if !actor.Is(&participation.StudentID) {
		return dto.ResultResponse{}, forbidden("result belongs to another student")
	}

	now := s.now()
	if !visibleToStudent(exercise, result, now) {
		return dto.ResultResponse{}, ErrResultNotFound
	}
	return dto.NewResultResponse(filterForStudent(exercise, participation, result, now)), nil
}

func (s *resultService) ListByParticipation(ctx context.Context, participationID uint, actor ActivityActor) ([]dto.ResultResponse, error) {
	participation, exercise, err := s.context(ctx, participationID)
	if err != nil {
		return nil, err
	}
	if !actor.IsTutor() && !actor.Is(&participation.StudentID) {
		return nil, forbidden("participation belongs to another student")
	}

	results, err := s.results.ListByParticipation(ctx, participationID)
	if err != nil {
		return nil, err
	}
	if actor.IsTutor() {
		return dto.NewResultResponseSlice(results), nil
	}

	now := s.now()
	visible := make([]models.Result, 0, len(results))
	for _, result := range results {
		if visibleToStudent(exercise, result, now) {
			visible = append(visible, filterForStudent(exercise, participation, result, now))
		}
	}
	return dto.NewResultResponseSlice(visible), nil
}

// visibleToStudent hides manual results until they are submitted and the assessment due date passed.
func visibleToStudent(exercise models.Exercise, result models.Result, now time.Time) bool {
	if !result.IsManual() {
		return true
	}
	if !result.IsCompleted() {
		return false
	}
	due := exercise.AssessmentDueDate
	return due == nil || !now.Before(*due)
}

// filterForStudent drops feedback of tests the student may not see yet.
func filterForStudent(exercise models.Exercise, participation models.Participation, result models.Result, now time.Time) models.Result {
	byID := make(map[uint]models.TestCase, len(exercise.TestCases))
	for _, tc := range exercise.TestCases {
		byID[tc.ID] = tc
	}
	afterDueDate := grading.AfterDueDatePassed(participation.AfterDueDateReference(exercise), now)

	filtered := result
	filtered.Feedbacks = make([]models.Feedback, 0, len(result.Feedbacks))
	for _, feedback := range result.Feedbacks {
		if feedback.IsTestFeedback() && feedback.TestCaseID != nil {
			tc, ok := byID[*feedback.TestCaseID]
			if ok && !grading.IsConsidered(tc, afterDueDate) {
				continue
			}
		}
		filtered.Feedbacks = append(filtered.Feedbacks, feedback)
	}
	return filtered
}
