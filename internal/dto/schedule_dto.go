package dto

import (
	"time"

	"github.com/noah-isme/gema-grader/internal/models"
)

// IndividualDueDateRequest grants a participation a different due date; nil removes it.
type IndividualDueDateRequest struct {
	DueDate *time.Time `json:"due_date"`
}

// RecomputeResponse reports how many results a recomputation touched.
type RecomputeResponse struct {
	ExerciseID uint `json:"exercise_id"`
	Updated    int  `json:"updated"`
}

// TestCaseUpdateRequest changes the grading configuration of one test case.
type TestCaseUpdateRequest struct {
	ID              uint     `json:"id" validate:"required"`
	Weight          *float64 `json:"weight" validate:"omitempty,gte=0"`
	BonusMultiplier *float64 `json:"bonus_multiplier" validate:"omitempty,gte=0"`
	BonusPoints     *float64 `json:"bonus_points" validate:"omitempty,gte=0"`
	Active          *bool    `json:"active"`
	Visibility      *string  `json:"visibility" validate:"omitempty,oneof=ALWAYS AFTER_DUE_DATE NEVER"`
}

// ParticipationResponse serializes a participation.
type ParticipationResponse struct {
	ID                uint       `json:"id"`
	ExerciseID        uint       `json:"exercise_id"`
	StudentLogin      string     `json:"student_login"`
	RepositoryName    string     `json:"repository_name"`
	Branch            string     `json:"branch,omitempty"`
	IndividualDueDate *time.Time `json:"individual_due_date"`
	Locked            bool       `json:"locked"`
}

// NewParticipationResponse maps a participation model.
func NewParticipationResponse(participation models.Participation) ParticipationResponse {
	return ParticipationResponse{
		ID:                participation.ID,
		ExerciseID:        participation.ExerciseID,
		StudentLogin:      participation.StudentLogin,
		RepositoryName:    participation.RepositoryName,
		Branch:            participation.Branch,
		IndividualDueDate: participation.IndividualDueDate,
		Locked:            participation.Locked,
	}
}
