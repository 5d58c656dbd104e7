package models

import "time"

// Visibility determines when students see a test and when it counts.
type Visibility string

const (
	VisibilityAlways       Visibility = "ALWAYS"
	VisibilityAfterDueDate Visibility = "AFTER_DUE_DATE"
	VisibilityNever        Visibility = "NEVER"
)

// TestCase is the grading configuration for a single named test of an exercise.
type TestCase struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	ExerciseID      uint       `gorm:"not null;uniqueIndex:idx_test_case_exercise_name" json:"exercise_id"`
	TestName        string     `gorm:"size:255;not null;uniqueIndex:idx_test_case_exercise_name" json:"test_name"`
	Weight          float64    `gorm:"not null" json:"weight"`
	BonusMultiplier float64    `gorm:"not null" json:"bonus_multiplier"`
	BonusPoints     float64    `json:"bonus_points"`
	Active          bool       `json:"active"`
	Visibility      Visibility `gorm:"size:32;not null;default:ALWAYS" json:"visibility"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// CategoryState controls how static analysis findings of a category are treated.
type CategoryState string

const (
	CategoryStateGraded   CategoryState = "GRADED"
	CategoryStateFeedback CategoryState = "FEEDBACK"
	CategoryStateInactive CategoryState = "INACTIVE"
)

// StaticCodeAnalysisCategory groups static analysis rules with a shared penalty.
type StaticCodeAnalysisCategory struct {
	ID         uint          `gorm:"primaryKey" json:"id"`
	ExerciseID uint          `gorm:"not null;index" json:"exercise_id"`
	Name       string        `gorm:"size:128;not null" json:"name"`
	Penalty    float64       `json:"penalty"`
	MaxPenalty *float64      `json:"max_penalty"`
	State      CategoryState `gorm:"size:32;not null;default:FEEDBACK" json:"state"`
}
