package models

import "time"

// AssessmentType describes how a result or an exercise is graded.
type AssessmentType string

const (
	AssessmentTypeAutomatic     AssessmentType = "AUTOMATIC"
	AssessmentTypeSemiAutomatic AssessmentType = "SEMI_AUTOMATIC"
)

// IncludedInOverallScore controls how an exercise contributes to the course score.
type IncludedInOverallScore string

const (
	IncludedCompletely IncludedInOverallScore = "INCLUDED_COMPLETELY"
	IncludedAsBonus    IncludedInOverallScore = "INCLUDED_AS_BONUS"
	NotIncluded        IncludedInOverallScore = "NOT_INCLUDED"
)

// Exercise is a programming exercise students submit code for.
type Exercise struct {
	ID                                     uint                         `gorm:"primaryKey" json:"id"`
	Title                                  string                       `gorm:"size:255;not null" json:"title"`
	ProjectKey                             string                       `gorm:"size:64;index" json:"project_key"`
	DefaultBranch                          string                       `gorm:"size:128" json:"default_branch"`
	MaxPoints                              float64                      `gorm:"not null" json:"max_points"`
	BonusPoints                            float64                      `json:"bonus_points"`
	IncludedInOverallScore                 IncludedInOverallScore       `gorm:"size:32;not null;default:INCLUDED_COMPLETELY" json:"included_in_overall_score"`
	AssessmentType                         AssessmentType               `gorm:"size:32;not null;default:AUTOMATIC" json:"assessment_type"`
	AllowComplaintsForAutomaticAssessments bool                         `json:"allow_complaints_for_automatic_assessments"`
	ReleaseDate                            *time.Time                   `json:"release_date"`
	DueDate                                *time.Time                   `json:"due_date"`
	BuildAndTestAfterDueDate               *time.Time                   `json:"build_and_test_after_due_date"`
	AssessmentDueDate                      *time.Time                   `json:"assessment_due_date"`
	CorrectionRounds                       int                          `gorm:"not null;default:1" json:"correction_rounds"`
	StaticCodeAnalysisEnabled              bool                         `json:"static_code_analysis_enabled"`
	MaxStaticCodeAnalysisPenalty           *int                         `json:"max_static_code_analysis_penalty"`
	TestImage                              string                       `gorm:"size:255" json:"test_image"`
	TestCommand                            string                       `gorm:"size:512" json:"test_command"`
	TestCases                              []TestCase                   `gorm:"constraint:OnDelete:CASCADE" json:"test_cases,omitempty"`
	StaticCodeAnalysisCategories           []StaticCodeAnalysisCategory `gorm:"constraint:OnDelete:CASCADE" json:"static_code_analysis_categories,omitempty"`
	SubmissionPolicy                       *SubmissionPolicy            `gorm:"constraint:OnDelete:CASCADE" json:"submission_policy,omitempty"`
	CreatedAt                              time.Time                    `json:"created_at"`
	UpdatedAt                              time.Time                    `json:"updated_at"`
}

// EffectiveBonusPoints returns the bonus points that may raise a score above 100%.
func (e Exercise) EffectiveBonusPoints() float64 {
	if e.IncludedInOverallScore != IncludedCompletely || e.BonusPoints <= 0 {
		return 0
	}
	return e.BonusPoints
}

// IsManuallyAssessed reports whether tutors review results of the exercise.
func (e Exercise) IsManuallyAssessed() bool {
	return e.AssessmentType == AssessmentTypeSemiAutomatic
}

// AfterDueDateReference is the instant after which hidden tests count.
// The build-and-test date wins over the regular due date.
func (e Exercise) AfterDueDateReference() *time.Time {
	if e.BuildAndTestAfterDueDate != nil {
		return e.BuildAndTestAfterDueDate
	}
	return e.DueDate
}

// HasAfterDueDateTests reports whether any active test is hidden until the due date.
func (e Exercise) HasAfterDueDateTests() bool {
	for _, tc := range e.TestCases {
		if tc.Active && tc.Visibility == VisibilityAfterDueDate {
			return true
		}
	}
	return false
}
