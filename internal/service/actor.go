package service

import "strings"

// Roles recognised by the grading workflows, from least to most privileged.
const (
	RoleStudent    = "student"
	RoleTutor      = "tutor"
	RoleInstructor = "instructor"
	RoleAdmin      = "admin"
	RoleSystem     = "system"
)

// ActivityActor represents the authenticated caller of a workflow.
type ActivityActor struct {
	ID   uint
	Role string
}

// SystemActor is used for scheduled and CI-triggered work.
var SystemActor = ActivityActor{Role: RoleSystem}

func (a ActivityActor) role() string {
	return strings.ToLower(strings.TrimSpace(a.Role))
}

// IsInstructor reports whether the actor may override tutors and manage exercises.
func (a ActivityActor) IsInstructor() bool {
	switch a.role() {
	case RoleInstructor, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

// IsTutor reports whether the actor may assess submissions.
func (a ActivityActor) IsTutor() bool {
	return a.role() == RoleTutor || a.IsInstructor()
}

// Is reports whether the actor is the user with the given id.
func (a ActivityActor) Is(userID *uint) bool {
	return userID != nil && a.ID != 0 && *userID == a.ID
}
