package dto

import "github.com/noah-isme/gema-grader/internal/models"

// FeedbackRequest is a feedback entry submitted by a tutor.
type FeedbackRequest struct {
	Text       string   `json:"text" validate:"max=500"`
	DetailText string   `json:"detail_text"`
	Credits    *float64 `json:"credits"`
	Type       string   `json:"type" validate:"required,oneof=AUTOMATIC MANUAL MANUAL_UNREFERENCED"`
	Positive   *bool    `json:"positive"`
	TestCaseID *uint    `json:"test_case_id"`
	Reference  string   `json:"reference" validate:"max=255"`
}

// ManualAssessmentRequest carries the feedback of a manual result.
type ManualAssessmentRequest struct {
	Feedbacks []FeedbackRequest `json:"feedbacks" validate:"dive"`
	Rated     *bool             `json:"rated"`
}

// ComplaintRequest is a student's complaint about a result.
type ComplaintRequest struct {
	Text string `json:"text" validate:"required,max=5000"`
}

// ComplaintDecisionRequest resolves a complaint and, when accepted, carries the new feedback.
type ComplaintDecisionRequest struct {
	ComplaintID  uint              `json:"complaint_id" validate:"required"`
	Accepted     *bool             `json:"accepted" validate:"required"`
	ResponseText string            `json:"response_text" validate:"max=5000"`
	Feedbacks    []FeedbackRequest `json:"feedbacks" validate:"dive"`
}

// ComplaintResponsePayload serializes a complaint with its answer.
type ComplaintResponsePayload struct {
	ID           uint   `json:"id"`
	ResultID     uint   `json:"result_id"`
	Text         string `json:"text"`
	Accepted     *bool  `json:"accepted"`
	ResponseText string `json:"response_text,omitempty"`
}

// ToModel converts the request into a feedback model.
func (f FeedbackRequest) ToModel() models.Feedback {
	feedback := models.Feedback{
		Text:       f.Text,
		Credits:    f.Credits,
		Type:       models.FeedbackType(f.Type),
		Positive:   f.Positive,
		TestCaseID: f.TestCaseID,
		Reference:  f.Reference,
	}
	feedback.SetDetailText(f.DetailText)
	return feedback
}

// FeedbackModels converts a list of feedback requests.
func FeedbackModels(requests []FeedbackRequest) []models.Feedback {
	feedbacks := make([]models.Feedback, 0, len(requests))
	for _, request := range requests {
		feedbacks = append(feedbacks, request.ToModel())
	}
	return feedbacks
}

// NewComplaintResponsePayload maps a complaint model.
func NewComplaintResponsePayload(complaint models.Complaint) ComplaintResponsePayload {
	payload := ComplaintResponsePayload{
		ID:       complaint.ID,
		ResultID: complaint.ResultID,
		Text:     complaint.Text,
		Accepted: complaint.Accepted,
	}
	if complaint.Response != nil {
		payload.ResponseText = complaint.Response.ResponseText
	}
	return payload
}
