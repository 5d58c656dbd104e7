package models

import "time"

// SubmissionPolicyType selects the variant of a submission policy.
type SubmissionPolicyType string

const (
	SubmissionPolicyLockRepository    SubmissionPolicyType = "lock_repository"
	SubmissionPolicySubmissionPenalty SubmissionPolicyType = "submission_penalty"
)

// SubmissionPolicy limits how many graded submissions a participation may make.
// ExceedingPenalty is only meaningful for the submission_penalty variant.
type SubmissionPolicy struct {
	ID               uint                 `gorm:"primaryKey" json:"id"`
	ExerciseID       uint                 `gorm:"not null;uniqueIndex" json:"exercise_id"`
	Type             SubmissionPolicyType `gorm:"size:32;not null" json:"type"`
	SubmissionLimit  int                  `gorm:"not null" json:"submission_limit"`
	Active           bool                 `json:"active"`
	ExceedingPenalty *float64             `json:"exceeding_penalty,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// IsLockRepository reports whether the policy locks the repository at the limit.
func (p SubmissionPolicy) IsLockRepository() bool {
	return p.Type == SubmissionPolicyLockRepository
}

// PenaltyValue returns the exceeding penalty or zero.
func (p SubmissionPolicy) PenaltyValue() float64 {
	if p.ExceedingPenalty == nil {
		return 0
	}
	return *p.ExceedingPenalty
}
