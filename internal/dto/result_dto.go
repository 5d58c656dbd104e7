package dto

import (
	"time"

	"github.com/noah-isme/gema-grader/internal/models"
)

// FeedbackResponse serializes a feedback entry.
type FeedbackResponse struct {
	ID         uint     `json:"id"`
	Text       string   `json:"text"`
	DetailText string   `json:"detail_text"`
	Credits    *float64 `json:"credits"`
	Type       string   `json:"type"`
	Positive   *bool    `json:"positive"`
	TestCaseID *uint    `json:"test_case_id,omitempty"`
	Reference  string   `json:"reference,omitempty"`
}

// ResultResponse serializes a result with its feedback.
type ResultResponse struct {
	ID                  uint               `json:"id"`
	SubmissionID        uint               `json:"submission_id"`
	ParticipationID     uint               `json:"participation_id"`
	Score               float64            `json:"score"`
	AssessmentType      string             `json:"assessment_type"`
	CorrectionRound     int                `json:"correction_round"`
	CompletionDate      *time.Time         `json:"completion_date"`
	AssessorID          *uint              `json:"assessor_id"`
	Rated               *bool              `json:"rated"`
	HasComplaint        bool               `json:"has_complaint"`
	Successful          bool               `json:"successful"`
	ResultString        string             `json:"result_string"`
	TestCaseCount       int                `json:"test_case_count"`
	PassedTestCaseCount int                `json:"passed_test_case_count"`
	CodeIssueCount      int                `json:"code_issue_count"`
	Feedbacks           []FeedbackResponse `json:"feedbacks"`
	CreatedAt           time.Time          `json:"created_at"`
}

// SubmissionResponse serializes a submission together with the result a caller works on.
type SubmissionResponse struct {
	ID              uint            `json:"id"`
	ParticipationID uint            `json:"participation_id"`
	CommitHash      string          `json:"commit_hash"`
	SubmissionDate  time.Time       `json:"submission_date"`
	Type            string          `json:"type"`
	BuildFailed     bool            `json:"build_failed"`
	BuildLogURL     string          `json:"build_log_url,omitempty"`
	Result          *ResultResponse `json:"result,omitempty"`
}

// SubmissionCountResponse reports how many graded submissions a participation made.
type SubmissionCountResponse struct {
	ParticipationID uint `json:"participation_id"`
	Count           int  `json:"count"`
}

// NewFeedbackResponse maps a feedback model.
func NewFeedbackResponse(feedback models.Feedback) FeedbackResponse {
	return FeedbackResponse{
		ID:         feedback.ID,
		Text:       feedback.Text,
		DetailText: feedback.FullDetailText(),
		Credits:    feedback.Credits,
		Type:       string(feedback.Type),
		Positive:   feedback.Positive,
		TestCaseID: feedback.TestCaseID,
		Reference:  feedback.Reference,
	}
}

// NewResultResponse maps a result model with all its feedback.
func NewResultResponse(result models.Result) ResultResponse {
	feedbacks := make([]FeedbackResponse, 0, len(result.Feedbacks))
	for _, feedback := range result.Feedbacks {
		feedbacks = append(feedbacks, NewFeedbackResponse(feedback))
	}

	return ResultResponse{
		ID:                  result.ID,
		SubmissionID:        result.SubmissionID,
		ParticipationID:     result.ParticipationID,
		Score:               result.Score,
		AssessmentType:      string(result.AssessmentType),
		CorrectionRound:     result.CorrectionRound,
		CompletionDate:      result.CompletionDate,
		AssessorID:          result.AssessorID,
		Rated:               result.Rated,
		HasComplaint:        result.HasComplaint,
		Successful:          result.Successful,
		ResultString:        result.ResultString,
		TestCaseCount:       result.TestCaseCount,
		PassedTestCaseCount: result.PassedTestCaseCount,
		CodeIssueCount:      result.CodeIssueCount,
		Feedbacks:           feedbacks,
		CreatedAt:           result.CreatedAt,
	}
}

// NewResultResponseSlice maps a list of results.
func NewResultResponseSlice(results []models.Result) []ResultResponse {
	responses := make([]ResultResponse, 0, len(results))
	for _, result := range results {
		responses = append(responses, NewResultResponse(result))
	}
	return responses
}

// NewSubmissionResponse maps a submission and, when given, the result of interest.
func NewSubmissionResponse(submission models.Submission, result *models.Result) SubmissionResponse {
	response := SubmissionResponse{
		ID:              submission.ID,
		ParticipationID: submission.ParticipationID,
		CommitHash:      submission.CommitHash,
		SubmissionDate:  submission.SubmissionDate,
		Type:            string(submission.Type),
		BuildFailed:     submission.BuildFailed,
		BuildLogURL:     submission.BuildLogURL,
	}
	if result != nil {
		mapped := NewResultResponse(*result)
		response.Result = &mapped
	}
	return response
}
