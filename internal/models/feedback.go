package models

import "strings"

// FeedbackType distinguishes generated feedback from tutor feedback.
type FeedbackType string

const (
	FeedbackTypeAutomatic          FeedbackType = "AUTOMATIC"
	FeedbackTypeManual             FeedbackType = "MANUAL"
	FeedbackTypeManualUnreferenced FeedbackType = "MANUAL_UNREFERENCED"
)

const (
	// StaticCodeAnalysisFeedbackIdentifier prefixes feedback produced from static analysis findings.
	StaticCodeAnalysisFeedbackIdentifier = "SCAFeedbackIdentifier:"
	// SubmissionPolicyFeedbackIdentifier prefixes feedback produced by a submission penalty policy.
	SubmissionPolicyFeedbackIdentifier = "SubPolFeedbackIdentifier:"
	// MaxFeedbackDetailTextLength is the longest detail text kept in line.
	MaxFeedbackDetailTextLength = 5000
)

// Feedback is a single graded remark on a result.
type Feedback struct {
	ID                  uint              `gorm:"primaryKey" json:"id"`
	ResultID            uint              `gorm:"not null;index" json:"result_id"`
	Text                string            `gorm:"size:500" json:"text"`
	DetailText          string            `gorm:"type:text" json:"detail_text"`
	Credits             *float64          `json:"credits"`
	Type                FeedbackType      `gorm:"size:32;not null" json:"type"`
	Positive            *bool             `json:"positive"`
	TestCaseID          *uint             `gorm:"index" json:"test_case_id"`
	Reference           string            `gorm:"size:255" json:"reference"`
	HasLongFeedbackText bool              `json:"has_long_feedback_text"`
	LongFeedbackText    *LongFeedbackText `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// LongFeedbackText keeps the complete detail text of a feedback out of line.
type LongFeedbackText struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	FeedbackID uint   `gorm:"not null;uniqueIndex" json:"feedback_id"`
	Text       string `gorm:"type:text" json:"text"`
}

// IsTestFeedback reports whether the feedback was generated for a test case.
func (f Feedback) IsTestFeedback() bool {
	return f.Type == FeedbackTypeAutomatic && !f.IsStaticCodeAnalysisFeedback() && !f.IsSubmissionPolicyFeedback()
}

// IsStaticCodeAnalysisFeedback reports whether the feedback stems from a static analysis finding.
func (f Feedback) IsStaticCodeAnalysisFeedback() bool {
	return strings.HasPrefix(f.Text, StaticCodeAnalysisFeedbackIdentifier)
}

// IsSubmissionPolicyFeedback reports whether the feedback records a submission policy penalty.
func (f Feedback) IsSubmissionPolicyFeedback() bool {
	return strings.HasPrefix(f.Text, SubmissionPolicyFeedbackIdentifier)
}

// CreditsValue returns the credits or zero when unset.
func (f Feedback) CreditsValue() float64 {
	if f.Credits == nil {
		return 0
	}
	return *f.Credits
}

// SetDetailText stores the text in line, moving it out of line when it is too long.
func (f *Feedback) SetDetailText(text string) {
	runes := []rune(text)
	if len(runes) <= MaxFeedbackDetailTextLength {
		f.DetailText = text
		f.HasLongFeedbackText = false
		f.LongFeedbackText = nil
		return
	}
	f.DetailText = string(runes[:MaxFeedbackDetailTextLength-3]) + "..."
	f.HasLongFeedbackText = true
	f.LongFeedbackText = &LongFeedbackText{Text: text}
}

// FullDetailText returns the untruncated detail text when it was loaded.
func (f Feedback) FullDetailText() string {
	if f.HasLongFeedbackText && f.LongFeedbackText != nil {
		return f.LongFeedbackText.Text
	}
	return f.DetailText
}
