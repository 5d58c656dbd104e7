package service

import (
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/models"
)

// manualFeedback converts tutor feedback into models, stripping markup from tutor-written text.
func manualFeedback(policy *bluemonday.Policy, requests []dto.FeedbackRequest) ([]models.Feedback, error) {
	feedbacks := make([]models.Feedback, 0, len(requests))
	for i, request := range requests {
		if models.FeedbackType(request.Type) != models.FeedbackTypeAutomatic {
			request.Text = strings.TrimSpace(policy.Sanitize(request.Text))
			request.DetailText = strings.TrimSpace(policy.Sanitize(request.DetailText))
			if request.DetailText == "" {
				return nil, invalid(fmt.Sprintf("feedbacks[%d].detail_text", i), "is required for manual feedback")
			}
			if request.Credits == nil {
				return nil, invalid(fmt.Sprintf("feedbacks[%d].credits", i), "is required for manual feedback")
			}
		}
		if request.Credits == nil {
			request.Credits = floatPtr(0)
		}
		feedbacks = append(feedbacks, request.ToModel())
	}
	return feedbacks, nil
}

// manualResultString summarises a manual result for display.
func manualResultString(exercise models.Exercise, result models.Result) string {
	points := result.Score / 100 * exercise.MaxPoints
	summary := fmt.Sprintf("%.2f of %.2f points", points, exercise.MaxPoints)
	if result.TestCaseCount == 0 {
		return summary
	}
	return resultString(result.TestCaseCount, result.PassedTestCaseCount, result.CodeIssueCount) + ", " + summary
}

// applyManualFeedback rescores a manual result from its new feedback list.
func applyManualFeedback(exercise models.Exercise, result *models.Result, feedbacks []models.Feedback) {
	result.Feedbacks = feedbacks
	result.Score = grading.ScoreFromFeedback(exercise, feedbacks)
	result.ResultString = manualResultString(exercise, *result)
}
