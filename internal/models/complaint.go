package models

import "time"

// Complaint is a student's request to re-evaluate a completed result.
type Complaint struct {
	ID              uint               `gorm:"primaryKey" json:"id"`
	ResultID        uint               `gorm:"not null;uniqueIndex" json:"result_id"`
	ParticipationID uint               `gorm:"not null;index" json:"participation_id"`
	StudentID       uint               `gorm:"index" json:"student_id"`
	Text            string             `gorm:"type:text" json:"text"`
	Accepted        *bool              `json:"accepted"`
	SubmittedAt     time.Time          `json:"submitted_at"`
	Response        *ComplaintResponse `gorm:"constraint:OnDelete:CASCADE" json:"response,omitempty"`
}

// ComplaintResponse is the reviewer's answer to a complaint.
type ComplaintResponse struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	ComplaintID  uint      `gorm:"not null;uniqueIndex" json:"complaint_id"`
	ReviewerID   uint      `gorm:"not null" json:"reviewer_id"`
	ResponseText string    `gorm:"type:text" json:"response_text"`
	ResultID     *uint     `json:"result_id"`
	CreatedAt    time.Time `json:"created_at"`
}
