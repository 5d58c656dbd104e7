package models

import "time"

// Result is a scored evaluation of a submission.
// A nil CompletionDate marks a result that is locked for manual assessment.
type Result struct {
	ID                  uint           `gorm:"primaryKey" json:"id"`
	SubmissionID        uint           `gorm:"not null;index" json:"submission_id"`
	ParticipationID     uint           `gorm:"not null;index" json:"participation_id"`
	Score               float64        `json:"score"`
	AssessmentType      AssessmentType `gorm:"size:32;not null" json:"assessment_type"`
	CorrectionRound     int            `gorm:"not null;default:0" json:"correction_round"`
	CompletionDate      *time.Time     `json:"completion_date"`
	AssessorID          *uint          `gorm:"index" json:"assessor_id"`
	Rated               *bool          `json:"rated"`
	HasComplaint        bool           `json:"has_complaint"`
	Successful          bool           `json:"successful"`
	ResultString        string         `gorm:"size:255" json:"result_string"`
	TestCaseCount       int            `json:"test_case_count"`
	PassedTestCaseCount int            `json:"passed_test_case_count"`
	CodeIssueCount      int            `json:"code_issue_count"`
	BuildRunDate        *time.Time     `json:"build_run_date"`
	Feedbacks           []Feedback     `gorm:"constraint:OnDelete:CASCADE" json:"feedbacks,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// IsManual reports whether the result was produced by a human assessor.
func (r Result) IsManual() bool {
	return r.AssessmentType != AssessmentTypeAutomatic
}

// IsCompleted reports whether the result has been submitted.
func (r Result) IsCompleted() bool {
	return r.CompletionDate != nil
}

// IsRated reports whether the result counts towards the student's score.
func (r Result) IsRated() bool {
	return r.Rated != nil && *r.Rated
}
