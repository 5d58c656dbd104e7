package models

import "time"

// SubmissionType records what caused a submission to be built.
type SubmissionType string

const (
	SubmissionTypeManual     SubmissionType = "MANUAL"
	SubmissionTypeInstructor SubmissionType = "INSTRUCTOR"
	SubmissionTypeTest       SubmissionType = "TEST"
	SubmissionTypeOther      SubmissionType = "OTHER"
)

// Submission is one graded commit of a participation.
type Submission struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	ParticipationID uint            `gorm:"not null;uniqueIndex:idx_submission_participation_commit" json:"participation_id"`
	CommitHash      string          `gorm:"size:64;not null;uniqueIndex:idx_submission_participation_commit" json:"commit_hash"`
	SubmissionDate  time.Time       `json:"submission_date"`
	Type            SubmissionType  `gorm:"size:32;not null;default:MANUAL" json:"type"`
	BuildFailed     bool            `json:"build_failed"`
	BuildLogURL     string          `gorm:"size:512" json:"build_log_url,omitempty"`
	Results         []Result        `gorm:"constraint:OnDelete:CASCADE" json:"results,omitempty"`
	BuildLogEntries []BuildLogEntry `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// LatestResult returns the most recently created result, or nil.
func (s Submission) LatestResult() *Result {
	if len(s.Results) == 0 {
		return nil
	}
	return &s.Results[len(s.Results)-1]
}

// FirstManualResult returns the first result created by a human assessor, or nil.
func (s Submission) FirstManualResult() *Result {
	for i := range s.Results {
		if s.Results[i].IsManual() {
			return &s.Results[i]
		}
	}
	return nil
}

// LatestManualResult returns the most recently created manual result, or nil.
func (s Submission) LatestManualResult() *Result {
	for i := len(s.Results) - 1; i >= 0; i-- {
		if s.Results[i].IsManual() {
			return &s.Results[i]
		}
	}
	return nil
}

// LatestAutomaticResult returns the most recently created automatic result, or nil.
func (s Submission) LatestAutomaticResult() *Result {
	for i := len(s.Results) - 1; i >= 0; i-- {
		if !s.Results[i].IsManual() {
			return &s.Results[i]
		}
	}
	return nil
}

// ResultForCorrectionRound returns the manual result tracked against the given round, or nil.
func (s Submission) ResultForCorrectionRound(round int) *Result {
	for i := range s.Results {
		if s.Results[i].IsManual() && s.Results[i].CorrectionRound == round {
			return &s.Results[i]
		}
	}
	return nil
}

// HasCompletedResult reports whether any result of the submission is completed.
func (s Submission) HasCompletedResult() bool {
	for _, result := range s.Results {
		if result.CompletionDate != nil {
			return true
		}
	}
	return false
}

// BuildLogEntry is one line of CI output attached to a submission.
type BuildLogEntry struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	SubmissionID uint      `gorm:"not null;index" json:"submission_id"`
	Time         time.Time `json:"time"`
	Log          string    `gorm:"type:text" json:"log"`
}
