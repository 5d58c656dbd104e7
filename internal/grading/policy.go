package grading

import "github.com/noah-isme/gema-grader/internal/models"

// SubmissionPenalty returns the points deducted for a participation's count-th graded submission.
func SubmissionPenalty(policy *models.SubmissionPolicy, count int) float64 {
	if policy == nil || !policy.Active || policy.Type != models.SubmissionPolicySubmissionPenalty {
		return 0
	}
	exceeding := count - policy.SubmissionLimit
	if exceeding <= 0 {
		return 0
	}
	return float64(exceeding) * policy.PenaltyValue()
}

// SubmissionPermitted reports whether the count-th graded submission is still rated.
func SubmissionPermitted(policy *models.SubmissionPolicy, count int) bool {
	if policy == nil || !policy.Active || policy.Type != models.SubmissionPolicyLockRepository {
		return true
	}
	return count <= policy.SubmissionLimit
}
