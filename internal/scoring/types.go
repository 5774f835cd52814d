// Package scoring turns validation records into 0-100 scores, quality categories and
// triage decisions, and aggregates them into batch reports.
package scoring

import (
	"encoding/json"

	"github.com/hyperjump/mondai/internal/models"
)

// Category is the quality band a score falls into.
type Category int

const (
	// CategoryPoor is below the questionable threshold.
	CategoryPoor Category = iota
	// CategoryQuestionable is at or above the questionable threshold.
	CategoryQuestionable
	// CategoryAcceptable is at or above the acceptable threshold.
	CategoryAcceptable
	// CategoryGood is at or above the good threshold.
	CategoryGood
	// CategoryExcellent is at or above the excellent threshold.
	CategoryExcellent
)

// Categories lists every category from best to worst.
var Categories = []Category{CategoryExcellent, CategoryGood, CategoryAcceptable, CategoryQuestionable, CategoryPoor}

// String returns the upper-case category name.
func (c Category) String() string {
	switch c {
	case CategoryExcellent:
		return "EXCELLENT"
	case CategoryGood:
		return "GOOD"
	case CategoryAcceptable:
		return "ACCEPTABLE"
	case CategoryQuestionable:
		return "QUESTIONABLE"
	case CategoryPoor:
		return "POOR"
	default:
		return "UNKNOWN"
	}
}

// Description returns the human-readable meaning of the category.
func (c Category) Description() string {
	switch c {
	case CategoryExcellent:
		return "High confidence - Ready for use"
	case CategoryGood:
		return "Medium-high confidence - Minor review recommended"
	case CategoryAcceptable:
		return "Medium confidence - Review recommended"
	case CategoryQuestionable:
		return "Low confidence - Significant review needed"
	default:
		return "Very low confidence - Consider regenerating"
	}
}

// Color returns the display color for the category.
func (c Category) Color() string {
	switch c {
	case CategoryExcellent:
		return "green"
	case CategoryGood:
		return "lightgreen"
	case CategoryAcceptable:
		return "yellow"
	case CategoryQuestionable:
		return "orange"
	default:
		return "red"
	}
}

// MarshalJSON writes the category name.
func (c Category) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// Decision is the triage decision derived from a score.
type Decision string

const (
	DecisionApprove            Decision = "APPROVE"
	DecisionApproveWithReview  Decision = "APPROVE_WITH_REVIEW"
	DecisionConditionalApprove Decision = "CONDITIONAL_APPROVE"
	DecisionReviewRequired     Decision = "REVIEW_REQUIRED"
	DecisionRejectWithFeedback Decision = "REJECT_WITH_FEEDBACK"
	DecisionReject             Decision = "REJECT"
)

// Priority says how urgently a decision needs human attention.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// NeedsAttention reports whether the priority is HIGH or CRITICAL.
func (p Priority) NeedsAttention() bool {
	return p == PriorityHigh || p == PriorityCritical
}

// ScoreDecision is derived from a ValidationRecord and a ValidationConfig; it is never stored
// on the record.
type ScoreDecision struct {
	Score       float64  `json:"score"`
	Category    Category `json:"category"`
	Description string   `json:"description"`
	Color       string   `json:"color"`
	Decision    Decision `json:"decision"`
	Action      string   `json:"action"`
	Priority    Priority `json:"priority"`
	Reasoning   string   `json:"reasoning"`
}

// ProcessedQuestion is one question's entry in a batch report.
type ProcessedQuestion struct {
	MCQ               models.MCQ               `json:"mcq"`
	ValidationScore   float64                  `json:"validation_score"`
	Decision          ScoreDecision            `json:"decision"`
	ValidationDetails *models.ValidationRecord `json:"validation_details"`
}

// BatchSummary tallies decisions across a batch.
type BatchSummary struct {
	Total             int            `json:"total"`
	Approved          int            `json:"approved"`
	Conditional       int            `json:"conditional"`
	ReviewRequired    int            `json:"review_required"`
	Rejected          int            `json:"rejected"`
	AverageScore      float64        `json:"average_score"`
	ScoreDistribution map[string]int `json:"score_distribution"`
}

// Passed is approved plus conditional.
func (s BatchSummary) Passed() int {
	return s.Approved + s.Conditional
}

// QualityMetrics holds batch-level rates.
type QualityMetrics struct {
	PassRate        float64  `json:"pass_rate"`
	HighQualityRate float64  `json:"high_quality_rate"`
	NeedsAttention  []string `json:"needs_attention"`
}

// Recommendation is an actionable suggestion derived from batch metrics.
type Recommendation struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Action   string `json:"action"`
}

// BatchReport is the full result of scoring a batch.
type BatchReport struct {
	ProcessedQuestions map[string]ProcessedQuestion `json:"processed_questions"`
	BatchSummary       BatchSummary                 `json:"batch_summary"`
	Recommendations    []Recommendation             `json:"recommendations"`
	QualityMetrics     QualityMetrics               `json:"quality_metrics"`
}

// ValidationSummary is the compact pass/fail view of a batch.
type ValidationSummary struct {
	Passed       int    `json:"passed"`
	Failed       int    `json:"failed"`
	PassRate     string `json:"pass_rate"`
	AverageScore string `json:"average_score"`
}

// QuickSummary is the short form of a BatchReport returned by the API.
type QuickSummary struct {
	TotalQuestions      int               `json:"total_questions"`
	ValidationSummary   ValidationSummary `json:"validation_summary"`
	QualityDistribution map[string]int    `json:"quality_distribution"`
	TopRecommendations  []Recommendation  `json:"top_recommendations"`
	NeedsAttention      []string          `json:"needs_attention"`
}
