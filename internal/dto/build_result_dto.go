package dto

import "time"

// BuildResultNotification is the normalized payload a CI system posts after building a participation's commit.
type BuildResultNotification struct {
	ProjectKey         string                     `json:"project_key"`
	RepositoryName     string                     `json:"repository_name" validate:"required"`
	Branch             string                     `json:"branch"`
	Commits            []BuildCommit              `json:"commits" validate:"required,min=1,dive"`
	Successful         bool                       `json:"successful"`
	BuildRunDate       time.Time                  `json:"build_run_date" validate:"required"`
	Tests              []BuildTestResult          `json:"tests" validate:"dive"`
	StaticCodeAnalysis []StaticCodeAnalysisReport `json:"static_code_analysis" validate:"dive"`
	Logs               []BuildLogLine             `json:"logs"`
}

// BuildCommit identifies the commit a build ran against.
type BuildCommit struct {
	Hash           string `json:"hash" validate:"required"`
	RepositorySlug string `json:"repository_slug"`
}

// BuildTestResult is the outcome of a single test.
type BuildTestResult struct {
	Name    string `json:"name" validate:"required"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

// StaticCodeAnalysisReport groups the issues a single tool found.
type StaticCodeAnalysisReport struct {
	Tool   string                    `json:"tool" validate:"required"`
	Issues []StaticCodeAnalysisIssue `json:"issues" validate:"dive"`
}

// StaticCodeAnalysisIssue is one finding of a static analysis tool.
type StaticCodeAnalysisIssue struct {
	Category  string `json:"category" validate:"required"`
	Rule      string `json:"rule"`
	Message   string `json:"message"`
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// BuildLogLine is a timestamped line of build output.
type BuildLogLine struct {
	Time time.Time `json:"time"`
	Log  string    `json:"log"`
}

// CommitHash returns the hash of the commit the build is about.
func (n BuildResultNotification) CommitHash() string {
	if len(n.Commits) == 0 {
		return ""
	}
	for _, commit := range n.Commits {
		if commit.RepositorySlug == "" || commit.RepositorySlug == n.RepositoryName {
			return commit.Hash
		}
	}
	return n.Commits[0].Hash
}
