package grading

import (
	"math"

	"github.com/noah-isme/gema-grader/internal/models"
)

// StaticCodeAnalysisPenalty holds the deduction derived from static analysis findings.
type StaticCodeAnalysisPenalty struct {
	// PerCategory is the deduction in points per graded category after all caps.
	PerCategory map[string]float64
	Total       float64
}

// CalculateStaticCodeAnalysisPenalty applies per-category penalties with their caps and
// limits the sum to the exercise's maximum static analysis penalty. Issue counts are keyed
// by category name; categories that are not graded never deduct.
func CalculateStaticCodeAnalysisPenalty(exercise models.Exercise, issueCounts map[string]int) StaticCodeAnalysisPenalty {
	penalty := StaticCodeAnalysisPenalty{PerCategory: map[string]float64{}}
	if !exercise.StaticCodeAnalysisEnabled {
		return penalty
	}

	uncapped := 0.0
	for _, category := range exercise.StaticCodeAnalysisCategories {
		if category.State != models.CategoryStateGraded {
			continue
		}
		count := issueCounts[category.Name]
		if count <= 0 {
			continue
		}
		amount := category.Penalty * float64(count)
		if category.MaxPenalty != nil {
			amount = math.Min(amount, *category.MaxPenalty)
		}
		if amount <= epsilon {
			continue
		}
		penalty.PerCategory[category.Name] = amount
		uncapped += amount
	}

	limit := MaxStaticCodeAnalysisPenaltyPoints(exercise)
	if uncapped > limit && uncapped > epsilon {
		ratio := limit / uncapped
		for name, amount := range penalty.PerCategory {
			penalty.PerCategory[name] = amount * ratio
		}
		penalty.Total = limit
		return penalty
	}

	penalty.Total = uncapped
	return penalty
}

// MaxStaticCodeAnalysisPenaltyPoints converts the exercise's percentage cap into points.
// Without an explicit cap the whole maximum may be deducted.
func MaxStaticCodeAnalysisPenaltyPoints(exercise models.Exercise) float64 {
	if exercise.MaxStaticCodeAnalysisPenalty == nil {
		return exercise.MaxPoints
	}
	percent := math.Max(0, float64(*exercise.MaxStaticCodeAnalysisPenalty))
	return exercise.MaxPoints * percent / 100
}

// IsCategoryReported reports whether findings of the category become feedback.
func IsCategoryReported(exercise models.Exercise, name string) (models.StaticCodeAnalysisCategory, bool) {
	for _, category := range exercise.StaticCodeAnalysisCategories {
		if category.Name == name {
			return category, category.State != models.CategoryStateInactive
		}
	}
	return models.StaticCodeAnalysisCategory{}, false
}
