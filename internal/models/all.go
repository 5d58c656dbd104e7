package models

// All lists every persisted model in migration order.
func All() []interface{} {
	return []interface{}{
		&Exercise{},
		&TestCase{},
		&StaticCodeAnalysisCategory{},
		&SubmissionPolicy{},
		&Participation{},
		&Submission{},
		&BuildLogEntry{},
		&Result{},
		&Feedback{},
		&LongFeedbackText{},
		&Complaint{},
		&ComplaintResponse{},
		&ActivityLog{},
	}
}
