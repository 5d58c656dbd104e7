package dto

import "github.com/noah-isme/gema-grader/internal/models"

// SubmissionPolicyRequest describes a submission policy to add or update.
// Nullable fields are checked by the policy service so missing values map to a bad request.
type SubmissionPolicyRequest struct {
	ID               *uint    `json:"id"`
	Type             string   `json:"type" validate:"required,oneof=lock_repository submission_penalty"`
	SubmissionLimit  *int     `json:"submission_limit"`
	Active           *bool    `json:"active"`
	ExceedingPenalty *float64 `json:"exceeding_penalty"`
}

// SubmissionPolicyResponse serializes a submission policy.
type SubmissionPolicyResponse struct {
	ID               uint     `json:"id"`
	ExerciseID       uint     `json:"exercise_id"`
	Type             string   `json:"type"`
	SubmissionLimit  int      `json:"submission_limit"`
	Active           bool     `json:"active"`
	ExceedingPenalty *float64 `json:"exceeding_penalty,omitempty"`
}

// NewSubmissionPolicyResponse maps a policy model.
func NewSubmissionPolicyResponse(policy models.SubmissionPolicy) SubmissionPolicyResponse {
	return SubmissionPolicyResponse{
		ID:               policy.ID,
		ExerciseID:       policy.ExerciseID,
		Type:             string(policy.Type),
		SubmissionLimit:  policy.SubmissionLimit,
		Active:           policy.Active,
		ExceedingPenalty: policy.ExceedingPenalty,
	}
}
