package grading

import (
	"math"
	"time"

	"github.com/noah-isme/gema-grader/internal/models"
)

const epsilon = 1e-9

// AfterDueDatePassed reports whether tests hidden until the due date count at now.
// Without a reference date nothing is hidden.
func AfterDueDatePassed(reference *time.Time, now time.Time) bool {
	return reference == nil || !now.Before(*reference)
}

// IsConsidered reports whether a test case contributes to the score.
func IsConsidered(tc models.TestCase, afterDueDate bool) bool {
	if !tc.Active {
		return false
	}
	switch tc.Visibility {
	case models.VisibilityAlways, "":
		return true
	case models.VisibilityAfterDueDate:
		return afterDueDate
	default:
		return false
	}
}

// ConsideredTestCases filters the test cases that count at the given moment.
func ConsideredTestCases(testCases []models.TestCase, afterDueDate bool) []models.TestCase {
	considered := make([]models.TestCase, 0, len(testCases))
	for _, tc := range testCases {
		if IsConsidered(tc, afterDueDate) {
			considered = append(considered, tc)
		}
	}
	return considered
}

// TestCasePoints returns the points awarded per passed test, keyed by test name,
// and their sum capped at the maximum reachable points.
func TestCasePoints(exercise models.Exercise, considered []models.TestCase, passed map[string]bool) (map[string]float64, float64) {
	totalWeight := 0.0
	for _, tc := range considered {
		totalWeight += tc.Weight
	}

	perTest := make(map[string]float64, len(considered))
	total := 0.0
	for _, tc := range considered {
		if !passed[tc.TestName] {
			continue
		}
		points := tc.BonusPoints
		if totalWeight > epsilon {
			points += tc.Weight * tc.BonusMultiplier / totalWeight * exercise.MaxPoints
		}
		perTest[tc.TestName] = points
		total += points
	}

	return perTest, math.Min(total, MaxReachablePoints(exercise))
}

// MaxReachablePoints is the exercise maximum plus any bonus that may exceed it.
func MaxReachablePoints(exercise models.Exercise) float64 {
	return exercise.MaxPoints + exercise.EffectiveBonusPoints()
}

// MaxScore is the highest percentage a result of the exercise may reach.
func MaxScore(exercise models.Exercise) float64 {
	if exercise.MaxPoints <= epsilon {
		return 100
	}
	return 100 + exercise.EffectiveBonusPoints()/exercise.MaxPoints*100
}

// PointsToScore converts points into a clamped percentage of the exercise maximum.
func PointsToScore(exercise models.Exercise, points float64) float64 {
	if exercise.MaxPoints <= epsilon {
		return 0
	}
	score := points / exercise.MaxPoints * 100
	return math.Max(0, math.Min(score, MaxScore(exercise)))
}

// ScoreFromFeedback recomputes a score from the credits of a result's feedback.
// Test credits are capped before penalties and manual credits are applied.
func ScoreFromFeedback(exercise models.Exercise, feedbacks []models.Feedback) float64 {
	testPoints := 0.0
	other := 0.0
	for _, feedback := range feedbacks {
		if feedback.IsTestFeedback() {
			testPoints += feedback.CreditsValue()
			continue
		}
		other += feedback.CreditsValue()
	}
	testPoints = math.Min(testPoints, MaxReachablePoints(exercise))
	return PointsToScore(exercise, testPoints+other)
}

// ManualCredits sums the credits tutors assigned by hand.
func ManualCredits(feedbacks []models.Feedback) float64 {
	total := 0.0
	for _, feedback := range feedbacks {
		if feedback.Type != models.FeedbackTypeAutomatic {
			total += feedback.CreditsValue()
		}
	}
	return total
}
