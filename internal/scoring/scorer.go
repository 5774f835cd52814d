package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/hyperjump/mondai/internal/models"
	"github.com/hyperjump/mondai/pkg/utils"
)

// Scorer scores validation records against a ValidationConfig. It holds no mutable state.
type Scorer struct {
	config *ValidationConfig
}

// NewScorer creates a scorer. A nil config uses the defaults; an invalid one is rejected.
func NewScorer(cfg *ValidationConfig) (*Scorer, error) {
	c, err := NewValidationConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &Scorer{config: c}, nil
}

// Config returns the scorer's configuration.
func (s *Scorer) Config() *ValidationConfig {
	return s.config
}

// Score returns the weighted 0-100 validation score for rec.
func (s *Scorer) Score(rec *models.ValidationRecord) float64 {
	if rec == nil {
		return 0
	}
	total := EmbeddingComponent(rec.MaxSimilarity, rec.SupportedByEmbeddings)*s.config.EmbeddingWeight*100 +
		ModelComponent(rec.ModelVerdict)*s.config.ModelWeight*100 +
		EvidenceComponent(rec.Evidence)*s.config.EvidenceWeight*100
	return utils.Clamp(total, 0, 100)
}

// EmbeddingComponent scales similarity to 87.5% of the component, plus 12.5% when supported.
func EmbeddingComponent(maxSimilarity float64, supported bool) float64 {
	score := maxSimilarity * 0.875
	if supported {
		score += 0.125
	}
	return score
}

// ModelComponent is 0 without a usable verdict. Unsupported answers get at most 30%;
// supported ones get 50% plus half their confidence.
func ModelComponent(v *models.ModelVerdict) float64 {
	if !v.Usable() {
		return 0
	}
	if !v.Supported {
		return v.Confidence * 0.3
	}
	return 0.5 + v.Confidence*0.5
}

// EvidenceComponent rewards up to four pieces of evidence and their average score.
func EvidenceComponent(evidence []models.Evidence) float64 {
	if len(evidence) == 0 {
		return 0
	}
	scores := make([]float64, len(evidence))
	for i, e := range evidence {
		scores[i] = e.Score
	}
	return math.Min(0.5, float64(len(evidence))*0.125) + utils.Mean(scores)*0.5
}

// Category maps a score to its quality band.
func (s *Scorer) Category(score float64) Category {
	switch {
	case score >= s.config.ExcellentThreshold:
		return CategoryExcellent
	case score >= s.config.GoodThreshold:
		return CategoryGood
	case score >= s.config.AcceptableThreshold:
		return CategoryAcceptable
	case score >= s.config.Questionable():
		return CategoryQuestionable
	default:
		return CategoryPoor
	}
}

// Decide scores rec and turns the score into a triage decision.
func (s *Scorer) Decide(rec *models.ValidationRecord) ScoreDecision {
	if rec == nil {
		rec = &models.ValidationRecord{}
	}
	score := s.Score(rec)
	cat := s.Category(score)
	d := ScoreDecision{
		Score:       score,
		Category:    cat,
		Description: cat.Description(),
		Color:       cat.Color(),
	}

	switch cat {
	case CategoryExcellent:
		d.Decision, d.Action, d.Priority = DecisionApprove, "Use as-is", PriorityLow
		d.Reasoning = fmt.Sprintf("Excellent validation score (%.1f). High confidence in accuracy.", score)
	case CategoryGood:
		d.Decision, d.Action, d.Priority = DecisionApproveWithReview, "Minor review recommended", PriorityLow
		d.Reasoning = fmt.Sprintf("Good validation score (%.1f). Consider quick review for optimization.", score)
	case CategoryAcceptable:
		if v := rec.ModelVerdict; v.Usable() && v.Supported && v.Confidence >= 0.8 {
			d.Decision, d.Action, d.Priority = DecisionConditionalApprove, "Review model evidence", PriorityMedium
			d.Reasoning = fmt.Sprintf("Acceptable score (%.1f) but strong model support. Review context alignment.", score)
		} else {
			d.Decision, d.Action, d.Priority = DecisionReviewRequired, "Manual review needed", PriorityHigh
			d.Reasoning = fmt.Sprintf("Acceptable score (%.1f) but weak model support. Manual verification needed.", score)
		}
	case CategoryQuestionable:
		d.Decision, d.Action, d.Priority = DecisionRejectWithFeedback, "Regenerate with feedback", PriorityHigh
		d.Reasoning = fmt.Sprintf("Low score (%.1f). Evidence: %d chunks, similarity: %.2f",
			score, len(rec.Evidence), rec.MaxSimilarity)
	default:
		d.Decision, d.Action, d.Priority = DecisionReject, "Regenerate completely", PriorityCritical
		d.Reasoning = fmt.Sprintf("Very low score (%.1f). Poor evidence support and model confidence.", score)
	}
	return d
}

// ProcessBatch scores every record that has a matching question. Records without a
// question are skipped.
func (s *Scorer) ProcessBatch(mcqs models.MCQSet, report models.ValidationReport) *BatchReport {
	out := &BatchReport{
		ProcessedQuestions: make(map[string]ProcessedQuestion),
		BatchSummary: BatchSummary{
			ScoreDistribution: make(map[string]int, len(Categories)),
		},
		Recommendations: []Recommendation{},
		QualityMetrics:  QualityMetrics{NeedsAttention: []string{}},
	}
	for _, c := range Categories {
		out.BatchSummary.ScoreDistribution[c.String()] = 0
	}

	ids := make([]string, 0, len(report))
	for id := range report {
		ids = append(ids, id)
	}
	models.SortIDs(ids)

	var scores []float64
	summary := &out.BatchSummary
	for _, id := range ids {
		mcq, ok := mcqs[id]
		if !ok {
			continue
		}
		rec := report[id]
		if rec == nil {
			rec = &models.ValidationRecord{}
		}
		d := s.Decide(rec)
		scores = append(scores, d.Score)
		summary.ScoreDistribution[d.Category.String()]++
		out.ProcessedQuestions[id] = ProcessedQuestion{
			MCQ:               mcq,
			ValidationScore:   d.Score,
			Decision:          d,
			ValidationDetails: rec,
		}

		summary.Total++
		name := strings.ToLower(string(d.Decision))
		switch {
		case strings.Contains(name, "approve") && !strings.Contains(name, "conditional"):
			summary.Approved++
		case strings.Contains(name, "conditional"):
			summary.Conditional++
		case strings.Contains(name, "review"):
			summary.ReviewRequired++
		default:
			summary.Rejected++
		}
		if d.Priority.NeedsAttention() {
			out.QualityMetrics.NeedsAttention = append(out.QualityMetrics.NeedsAttention, id)
		}
	}

	if len(scores) > 0 {
		summary.AverageScore = utils.Mean(scores)
		out.QualityMetrics.PassRate = float64(summary.Passed()) / float64(summary.Total)
		out.QualityMetrics.HighQualityRate = float64(summary.Approved) / float64(summary.Total)
	}
	out.Recommendations = recommendations(out)
	return out
}

// recommendations checks each condition independently; any number may fire.
func recommendations(r *BatchReport) []Recommendation {
	recs := []Recommendation{}
	m, sum := r.QualityMetrics, r.BatchSummary

	if m.PassRate < 0.5 {
		recs = append(recs, Recommendation{
			Type:     "QUALITY_CONCERN",
			Severity: "HIGH",
			Message:  fmt.Sprintf("Low pass rate (%s). Consider adjusting generation parameters.", percent(m.PassRate)),
			Action:   "Review generation settings, chunk quality, or source material",
		})
	}
	if m.HighQualityRate > 0.8 {
		recs = append(recs, Recommendation{
			Type:     "EXCELLENT_QUALITY",
			Severity: "INFO",
			Message:  fmt.Sprintf("High quality rate (%s). Current settings are optimal.", percent(m.HighQualityRate)),
			Action:   "Maintain current generation parameters",
		})
	}
	if float64(sum.Rejected) > float64(sum.Total)*0.3 {
		recs = append(recs, Recommendation{
			Type:     "HIGH_REJECTION_RATE",
			Severity: "MEDIUM",
			Message:  fmt.Sprintf("High rejection rate (%d/%d). Quality issues detected.", sum.Rejected, sum.Total),
			Action:   "Review source material quality and consider stricter content filtering",
		})
	}
	return recs
}

// Summarize returns the compact API view of a batch report.
func Summarize(r *BatchReport) QuickSummary {
	sum := r.BatchSummary
	passRate := "0%"
	if sum.Total > 0 {
		passRate = percent(float64(sum.Passed()) / float64(sum.Total))
	}

	dist := make(map[string]int, len(Categories))
	for _, c := range Categories {
		dist[strings.ToLower(c.String())] = sum.ScoreDistribution[c.String()]
	}

	top := r.Recommendations
	if len(top) > 3 {
		top = top[:3]
	}
	if top == nil {
		top = []Recommendation{}
	}
	attention := r.QualityMetrics.NeedsAttention
	if attention == nil {
		attention = []string{}
	}

	return QuickSummary{
		TotalQuestions: sum.Total,
		ValidationSummary: ValidationSummary{
			Passed:       sum.Passed(),
			Failed:       sum.Rejected + sum.ReviewRequired,
			PassRate:     passRate,
			AverageScore: fmt.Sprintf("%.1f", sum.AverageScore),
		},
		QualityDistribution: dist,
		TopRecommendations:  top,
		NeedsAttention:      attention,
	}
}

func percent(rate float64) string {
	return fmt.Sprintf("%.1f%%", rate*100)
}
