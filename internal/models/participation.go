package models

import "time"

// Participation links a student to an exercise and its repository.
type Participation struct {
	ID                uint         `gorm:"primaryKey" json:"id"`
	ExerciseID        uint         `gorm:"not null;index" json:"exercise_id"`
	StudentLogin      string       `gorm:"size:128;not null" json:"student_login"`
	StudentID         uint         `gorm:"index" json:"student_id"`
	RepositoryURI     string       `gorm:"size:512" json:"repository_uri"`
	RepositoryName    string       `gorm:"size:255;uniqueIndex" json:"repository_name"`
	Branch            string       `gorm:"size:128" json:"branch"`
	IndividualDueDate *time.Time   `json:"individual_due_date"`
	Locked            bool         `json:"locked"`
	Submissions       []Submission `gorm:"constraint:OnDelete:CASCADE" json:"submissions,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// EffectiveDueDate returns the individual due date if set, else the exercise due date.
func (p Participation) EffectiveDueDate(exercise Exercise) *time.Time {
	if p.IndividualDueDate != nil {
		return p.IndividualDueDate
	}
	return exercise.DueDate
}

// HasLaterIndividualDueDate reports whether the participation was granted more time than the exercise.
func (p Participation) HasLaterIndividualDueDate(exercise Exercise) bool {
	if p.IndividualDueDate == nil {
		return false
	}
	if exercise.DueDate == nil {
		return true
	}
	return p.IndividualDueDate.After(*exercise.DueDate)
}

// AfterDueDateReference is the instant from which tests hidden until the due date count
// for this participation. A later individual due date postpones the exercise's date.
func (p Participation) AfterDueDateReference(exercise Exercise) *time.Time {
	reference := exercise.BuildAndTestAfterDueDate
	if reference == nil {
		return p.EffectiveDueDate(exercise)
	}
	if p.IndividualDueDate != nil && p.IndividualDueDate.After(*reference) {
		return p.IndividualDueDate
	}
	return reference
}
