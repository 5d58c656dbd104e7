package service

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/models"
)

const (
	duplicateTestsResultString = "Error: Found duplicated tests!"
	duplicateTestDetailText    = "This is a duplicate test case."
	buildFailedResultString    = "Build failed"
)

// automaticAssessment is the generated part of a result before it is persisted.
type automaticAssessment struct {
	Feedbacks      []models.Feedback
	Considered     int
	Passed         int
	CodeIssues     int
	HasDuplicates  bool
	BuildFailed    bool
	AllTestsPassed bool
}

type staticCodeAnalysisDetail struct {
	Category  string `json:"category"`
	Rule      string `json:"rule,omitempty"`
	Message   string `json:"message,omitempty"`
	FilePath  string `json:"filePath,omitempty"`
	StartLine int    `json:"startLine,omitempty"`
	EndLine   int    `json:"endLine,omitempty"`
}

func duplicateTestNames(tests []dto.BuildTestResult) map[string]struct{} {
	seen := make(map[string]int, len(tests))
	for _, test := range tests {
		seen[strings.TrimSpace(test.Name)]++
	}
	duplicates := map[string]struct{}{}
	for name, count := range seen {
		if count > 1 {
			duplicates[name] = struct{}{}
		}
	}
	return duplicates
}

// assessBuild turns a build report into automatic feedback and test counts.
// Feedback is kept for every active test so it can be disclosed later; only
// tests considered at this moment earn points.
func assessBuild(exercise models.Exercise, report dto.BuildResultNotification, afterDueDate bool) automaticAssessment {
	assessment := automaticAssessment{}

	byName := make(map[string]models.TestCase, len(exercise.TestCases))
	for _, tc := range exercise.TestCases {
		byName[tc.TestName] = tc
	}

	duplicates := duplicateTestNames(report.Tests)
	if len(duplicates) > 0 {
		assessment.HasDuplicates = true
		names := make([]string, 0, len(duplicates))
		for name := range duplicates {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			feedback := models.Feedback{
				Text:     name,
				Type:     models.FeedbackTypeAutomatic,
				Positive: boolPtr(false),
				Credits:  floatPtr(0),
			}
			feedback.SetDetailText(duplicateTestDetailText)
			if tc, ok := byName[name]; ok {
				feedback.TestCaseID = uintPtr(tc.ID)
			}
			assessment.Feedbacks = append(assessment.Feedbacks, feedback)
		}
		return assessment
	}

	if !report.Successful && len(report.Tests) == 0 {
		assessment.BuildFailed = true
		return assessment
	}

	passed := make(map[string]bool, len(report.Tests))
	for _, test := range report.Tests {
		passed[strings.TrimSpace(test.Name)] = test.Passed
	}

	considered := grading.ConsideredTestCases(exercise.TestCases, afterDueDate)
	perTest, _ := grading.TestCasePoints(exercise, considered, passed)
	assessment.Considered = len(considered)

	consideredNames := make(map[string]struct{}, len(considered))
	for _, tc := range considered {
		consideredNames[tc.TestName] = struct{}{}
		if passed[tc.TestName] {
			assessment.Passed++
		}
	}
	assessment.AllTestsPassed = len(considered) > 0 && assessment.Passed == len(considered)

	for _, test := range report.Tests {
		name := strings.TrimSpace(test.Name)
		tc, ok := byName[name]
		if !ok || !tc.Active {
			continue
		}
		credits := 0.0
		if _, counts := consideredNames[name]; counts {
			credits = perTest[name]
		}
		feedback := models.Feedback{
			Text:       name,
			Type:       models.FeedbackTypeAutomatic,
			Positive:   boolPtr(test.Passed),
			Credits:    floatPtr(credits),
			TestCaseID: uintPtr(tc.ID),
		}
		feedback.SetDetailText(test.Message)
		assessment.Feedbacks = append(assessment.Feedbacks, feedback)
	}

	if exercise.StaticCodeAnalysisEnabled {
		scaFeedbacks, issues := staticCodeAnalysisFeedback(exercise, report.StaticCodeAnalysis)
		assessment.Feedbacks = append(assessment.Feedbacks, scaFeedbacks...)
		assessment.CodeIssues = issues
	}

	return assessment
}

// staticCodeAnalysisFeedback creates one feedback per reported issue. Issues of inactive or
// unknown categories are dropped; each graded issue carries its share of the category penalty.
func staticCodeAnalysisFeedback(exercise models.Exercise, reports []dto.StaticCodeAnalysisReport) ([]models.Feedback, int) {
	counts := map[string]int{}
	for _, report := range reports {
		for _, issue := range report.Issues {
			if _, ok := grading.IsCategoryReported(exercise, issue.Category); ok {
				counts[issue.Category]++
			}
		}
	}

	penalty := grading.CalculateStaticCodeAnalysisPenalty(exercise, counts)

	var feedbacks []models.Feedback
	issues := 0
	for _, report := range reports {
		for _, issue := range report.Issues {
			if _, ok := grading.IsCategoryReported(exercise, issue.Category); !ok {
				continue
			}
			issues++
			credits := 0.0
			if amount, graded := penalty.PerCategory[issue.Category]; graded {
				credits = -amount / float64(counts[issue.Category])
			}
			detail, _ := json.Marshal(staticCodeAnalysisDetail{
				Category:  issue.Category,
				Rule:      issue.Rule,
				Message:   issue.Message,
				FilePath:  issue.FilePath,
				StartLine: issue.StartLine,
				EndLine:   issue.EndLine,
			})
			feedback := models.Feedback{
				Text:      models.StaticCodeAnalysisFeedbackIdentifier + report.Tool,
				Reference: issue.Rule,
				Type:      models.FeedbackTypeAutomatic,
				Positive:  boolPtr(false),
				Credits:   floatPtr(credits),
			}
			feedback.SetDetailText(string(detail))
			feedbacks = append(feedbacks, feedback)
		}
	}

	return feedbacks, issues
}

func submissionPolicyFeedback(count, limit int, penalty float64) models.Feedback {
	feedback := models.Feedback{
		Text:     models.SubmissionPolicyFeedbackIdentifier + "Submission penalty",
		Type:     models.FeedbackTypeAutomatic,
		Positive: boolPtr(false),
		Credits:  floatPtr(-penalty),
	}
	feedback.SetDetailText(fmt.Sprintf("You have submitted %d times and exceeded the limit of %d submissions. %.2f points were deducted.", count, limit, penalty))
	return feedback
}

// rescoreTestFeedback recomputes test credits from stored outcomes with the current test configuration.
func rescoreTestFeedback(exercise models.Exercise, feedbacks []models.Feedback, afterDueDate bool) []models.Feedback {
	passed := map[string]bool{}
	for _, feedback := range feedbacks {
		if feedback.IsTestFeedback() && feedback.Positive != nil {
			passed[feedback.Text] = *feedback.Positive
		}
	}

	considered := grading.ConsideredTestCases(exercise.TestCases, afterDueDate)
	perTest, _ := grading.TestCasePoints(exercise, considered, passed)

	rescored := make([]models.Feedback, len(feedbacks))
	copy(rescored, feedbacks)
	for i := range rescored {
		if !rescored[i].IsTestFeedback() {
			continue
		}
		rescored[i].Credits = floatPtr(perTest[rescored[i].Text])
	}
	return rescored
}

func countTestOutcomes(exercise models.Exercise, feedbacks []models.Feedback, afterDueDate bool) (int, int) {
	considered := grading.ConsideredTestCases(exercise.TestCases, afterDueDate)
	names := make(map[string]struct{}, len(considered))
	for _, tc := range considered {
		names[tc.TestName] = struct{}{}
	}
	passed := 0
	for _, feedback := range feedbacks {
		if !feedback.IsTestFeedback() || feedback.Positive == nil || !*feedback.Positive {
			continue
		}
		if _, ok := names[feedback.Text]; ok {
			passed++
		}
	}
	return len(considered), passed
}

func resultString(total, passed, issues int) string {
	text := fmt.Sprintf("%d of %d passed", passed, total)
	if issues == 1 {
		text += ", 1 issue"
	} else if issues > 1 {
		text += fmt.Sprintf(", %d issues", issues)
	}
	return text
}

// cloneFeedbacks copies feedback so that it can be stored on another result.
func cloneFeedbacks(feedbacks []models.Feedback) []models.Feedback {
	cloned := make([]models.Feedback, 0, len(feedbacks))
	for _, feedback := range feedbacks {
		copyOf := feedback
		copyOf.ID = 0
		copyOf.ResultID = 0
		if feedback.LongFeedbackText != nil {
			copyOf.LongFeedbackText = &models.LongFeedbackText{Text: feedback.LongFeedbackText.Text}
		}
		cloned = append(cloned, copyOf)
	}
	return cloned
}

func manualFeedbackOnly(feedbacks []models.Feedback) []models.Feedback {
	var manual []models.Feedback
	for _, feedback := range feedbacks {
		if feedback.Type != models.FeedbackTypeAutomatic {
			manual = append(manual, feedback)
		}
	}
	return manual
}

func boolPtr(v bool) *bool { return &v }

func floatPtr(v float64) *float64 { return &v }
