// Package validation checks generated questions against the indexed source: retrieved
// evidence, optional entailment and extractive QA, an optional model verdict, and
// distractor diagnostics, combined into a quality score and a triage action.
package validation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/mondai/internal/embedding"
	"github.com/hyperjump/mondai/internal/metrics"
	"github.com/hyperjump/mondai/internal/models"
	"github.com/hyperjump/mondai/internal/retrieval"
	"github.com/hyperjump/mondai/internal/vector"
	"github.com/hyperjump/mondai/internal/verify"
	"github.com/hyperjump/mondai/pkg/utils"
)

// Quality score weights.
const (
	weightSimilarity = 0.40
	weightEntailment = 0.35
	weightQA         = 0.20
	weightPenalty    = 0.05
)

const (
	penaltyTooSimilar   = 0.25
	penaltyTooDifferent = 0.15
	// Similarities at or above this are the correct answer compared with itself.
	selfMatchSimilarity = 0.999
	ambiguityRatio      = 0.9
	ambiguityFloor      = 0.6
)

// EntailmentScorer scores hypotheses against a premise. Scores are raw and only
// comparable within one call.
type EntailmentScorer interface {
	Score(ctx context.Context, premise string, hypotheses []string) ([]float64, error)
}

// ExtractiveQA extracts an answer span for a question from a passage.
type ExtractiveQA interface {
	Answer(ctx context.Context, question, passage string) (verify.Answer, error)
}

// ModelVerifier asks a language model whether the context supports the answer. Failures
// are reported in the verdict's Error field, never as a nil verdict.
type ModelVerifier interface {
	Verify(ctx context.Context, mcq models.MCQ, passage string) *models.ModelVerdict
}

// Engine validates questions. The optional collaborators may be nil; each missing one
// degrades its part of the record to zero or empty.
type Engine struct {
	retriever  retrieval.Retriever
	embedder   embedding.Embedder
	entailment EntailmentScorer
	qa         ExtractiveQA
	verifier   ModelVerifier
	config     Config
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithEntailment sets the entailment scorer.
func WithEntailment(s EntailmentScorer) Option {
	return func(e *Engine) { e.entailment = s }
}

// WithQA sets the extractive QA collaborator.
func WithQA(qa ExtractiveQA) Option {
	return func(e *Engine) { e.qa = qa }
}

// WithVerifier sets the model verifier.
func WithVerifier(v ModelVerifier) Option {
	return func(e *Engine) { e.verifier = v }
}

// WithConfig sets the engine thresholds; zero fields take defaults.
func WithConfig(c Config) Option {
	return func(e *Engine) {
		c.ApplyDefaults()
		e.config = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records triage outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine that retrieves evidence from retriever's local index and
// compares answers with embedder.
func NewEngine(retriever retrieval.Retriever, embedder embedding.Embedder, opts ...Option) *Engine {
	e := &Engine{
		retriever: retriever,
		embedder:  embedder,
		config:    DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = utils.OrNop(e.logger)
	return e
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

// ValidateBatch validates every question in id order. Only an index that is not built
// aborts the batch. Any other retrieval failure is logged and the question gets a
// rejected record, so the report always covers every id. On cancellation the records
// finished so far are returned with the context error.
func (e *Engine) ValidateBatch(ctx context.Context, mcqs models.MCQSet) (models.ValidationReport, error) {
	report := make(models.ValidationReport, len(mcqs))
	for _, id := range mcqs.Keys() {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		rec, err := e.Validate(ctx, mcqs[id])
		if err != nil {
			if errors.Is(err, retrieval.ErrIndexNotReady) || ctx.Err() != nil {
				return report, fmt.Errorf("validate question %s: %w", id, err)
			}
			e.logger.Warn("retrieval failed, rejecting question", zap.String("id", id), zap.Error(err))
			rec = failedRecord(reasonRetrievalFailed)
			e.metrics.Validated(string(rec.TriageAction), rec.QualityScore)
		}
		report[id] = rec
	}
	return report, nil
}

const reasonRetrievalFailed = "retrieval failed"

// failedRecord is the record of a question that could not be checked at all.
func failedRecord(reason string) *models.ValidationRecord {
	return &models.ValidationRecord{
		Evidence:               []models.Evidence{},
		DistractorSimilarities: map[string]*float64{},
		DistractorFlags:        []models.DistractorFlag{},
		TriageAction:           models.TriageReject,
		FlagReasons:            []string{reason},
	}
}

// Validate builds the validation record for one question.
func (e *Engine) Validate(ctx context.Context, mcq models.MCQ) (*models.ValidationRecord, error) {
	cfg := e.config
	statement := fmt.Sprintf("%s Answer: %s", mcq.Question, mcq.CorrectAnswer)

	hits, err := e.retriever.Retrieve(ctx, statement, cfg.TopK, "")
	if err != nil {
		return nil, err
	}

	rec := &models.ValidationRecord{
		Evidence:               []models.Evidence{},
		DistractorSimilarities: make(map[string]*float64, len(mcq.Options)),
		DistractorFlags:        []models.DistractorFlag{},
		FlagReasons:            []string{},
	}
	for _, h := range hits {
		// Every candidate counts toward max similarity, even below the cutoff.
		if h.Score > rec.MaxSimilarity {
			rec.MaxSimilarity = h.Score
		}
		if h.Score >= *cfg.EvidenceCutoff {
			rec.Evidence = append(rec.Evidence, models.Evidence{
				ChunkRef: h.Chunk.ID,
				Page:     h.Chunk.Page,
				Score:    h.Score,
				Text:     utils.Truncate(h.Chunk.Text, cfg.MaxEvidenceChars),
			})
		}
	}
	rec.MaxSimilarity = utils.Clamp01(rec.MaxSimilarity)
	rec.SupportedByEmbeddings = rec.MaxSimilarity >= *cfg.SimilarityThreshold
	if len(rec.Evidence) == 0 {
		rec.FlagReasons = append(rec.FlagReasons, "no evidence above cutoff")
	}

	passage := retrieval.ContextBlocks(hits)
	correctIdx, match := verify.FindOption(mcq.Options, mcq.CorrectAnswer)
	rec.CorrectMatch = string(match)

	e.scoreEntailment(ctx, mcq, passage, correctIdx, rec)
	e.answerQA(ctx, mcq, passage, rec)
	e.checkDistractors(ctx, mcq, rec)
	e.verifyWithModel(ctx, mcq, passage, rec)

	rec.QualityScore = QualityScore(rec.MaxSimilarity, rec.CorrectEntailment, rec.QAScore, rec.QAAgrees, rec.DistractorPenalty)

	switch {
	case rec.QualityScore >= cfg.AutoAcceptThreshold && !rec.Ambiguous:
		rec.TriageAction = models.TriagePass
	case rec.QualityScore >= *cfg.ReviewThreshold:
		rec.TriageAction = models.TriageReview
	default:
		rec.TriageAction = models.TriageReject
	}
	e.metrics.Validated(string(rec.TriageAction), rec.QualityScore)
	return rec, nil
}

// QualityScore combines the validation signals into [0, 1]. The QA score only counts
// when the extracted answer agrees with the correct one.
func QualityScore(maxSimilarity, correctEntailment, qaScore float64, qaAgrees bool, penalty float64) float64 {
	qa := 0.0
	if qaAgrees {
		qa = qaScore
	}
	return utils.Clamp01(weightSimilarity*maxSimilarity +
		weightEntailment*correctEntailment +
		weightQA*qa -
		weightPenalty*penalty)
}

// scoreEntailment scores "question + option" for every option against the passage,
// normalizes the batch, reads off the correct answer's score and marks ambiguous options.
// An answer matching no option is scored as an extra synthetic hypothesis.
func (e *Engine) scoreEntailment(ctx context.Context, mcq models.MCQ, passage string, correctIdx int, rec *models.ValidationRecord) {
	if e.entailment == nil || len(mcq.Options) == 0 {
		return
	}
	hyps := make([]string, 0, len(mcq.Options)+1)
	for _, o := range mcq.Options {
		hyps = append(hyps, mcq.Question+" "+o.Text)
	}
	synthetic := correctIdx < 0 && mcq.CorrectAnswer != ""
	if synthetic {
		hyps = append(hyps, mcq.Question+" "+mcq.CorrectAnswer)
	}

	raw, err := e.entailment.Score(ctx, passage, hyps)
	if err != nil || len(raw) != len(hyps) {
		e.logger.Warn("entailment unavailable", zap.String("question", utils.Head(mcq.Question, 80)), zap.Error(err))
		rec.FlagReasons = append(rec.FlagReasons, "entailment unavailable")
		return
	}
	norm := utils.MinMaxNormalize(raw)

	rec.EntailmentScores = make(map[string]float64, len(mcq.Options))
	for i, o := range mcq.Options {
		rec.EntailmentScores[o.Label] = norm[i]
	}
	switch {
	case synthetic:
		rec.CorrectEntailment = norm[len(norm)-1]
		rec.CorrectMatch = string(verify.MatchSynthetic)
	case correctIdx >= 0:
		rec.CorrectEntailment = norm[correctIdx]
	}

	threshold := max(rec.CorrectEntailment*ambiguityRatio, ambiguityFloor)
	for i, o := range mcq.Options {
		if i == correctIdx {
			continue
		}
		if norm[i] >= threshold {
			rec.Ambiguous = true
			rec.AmbiguousOptions = append(rec.AmbiguousOptions, o.Label)
		}
	}
	if rec.Ambiguous {
		rec.FlagReasons = append(rec.FlagReasons, "ambiguous options: "+strings.Join(rec.AmbiguousOptions, ", "))
	}
}

// answerQA extracts an answer from the passage and compares it with the correct answer.
func (e *Engine) answerQA(ctx context.Context, mcq models.MCQ, passage string, rec *models.ValidationRecord) {
	if e.qa == nil {
		return
	}
	ans, err := e.qa.Answer(ctx, mcq.Question, passage)
	if err != nil {
		e.logger.Warn("extractive QA unavailable", zap.Error(err))
		rec.FlagReasons = append(rec.FlagReasons, "extractive QA unavailable")
		return
	}
	if ans.Text == "" {
		return
	}
	text := ans.Text
	rec.QAAnswer = &text
	rec.QAScore = ans.Score
	if mcq.CorrectAnswer == "" || e.embedder == nil {
		return
	}
	vecs, err := e.embedder.EmbedBatch(ctx, []string{text, mcq.CorrectAnswer})
	if err != nil || len(vecs) != 2 {
		e.logger.Warn("embed QA answer", zap.Error(err))
		return
	}
	rec.QAAgrees = vector.Cosine(vecs[0], vecs[1]) >= *e.config.QAAgreeThreshold
	if !rec.QAAgrees {
		rec.FlagReasons = append(rec.FlagReasons, "QA answer disagrees with correct answer")
	}
}

// checkDistractors compares each option with the correct answer. Options too close to the
// correct answer or too far from it are flagged; the correct option itself is skipped
// by its near-perfect similarity.
func (e *Engine) checkDistractors(ctx context.Context, mcq models.MCQ, rec *models.ValidationRecord) {
	for _, o := range mcq.Options {
		rec.DistractorSimilarities[o.Label] = nil
	}
	if mcq.CorrectAnswer == "" || len(mcq.Options) == 0 || e.embedder == nil {
		return
	}
	texts := make([]string, 0, len(mcq.Options)+1)
	texts = append(texts, mcq.CorrectAnswer)
	for _, o := range mcq.Options {
		texts = append(texts, o.Text)
	}
	vecs, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil || len(vecs) != len(texts) {
		e.logger.Warn("distractor check unavailable", zap.Error(err))
		rec.FlagReasons = append(rec.FlagReasons, "distractor check unavailable")
		return
	}

	cfg := e.config
	for i, o := range mcq.Options {
		if strings.TrimSpace(o.Text) == "" {
			continue
		}
		sim := vector.Cosine(vecs[0], vecs[i+1])
		rec.DistractorSimilarities[o.Label] = &sim
		if sim >= selfMatchSimilarity {
			continue
		}
		var reason models.DistractorReason
		switch {
		case sim >= cfg.DistractorTooSimilar:
			reason = models.ReasonTooSimilar
			rec.DistractorPenalty += penaltyTooSimilar
		case sim <= *cfg.DistractorTooDifferent:
			reason = models.ReasonTooDifferent
			rec.DistractorPenalty += penaltyTooDifferent
		default:
			continue
		}
		rec.DistractorFlags = append(rec.DistractorFlags, models.DistractorFlag{Label: o.Label, Reason: reason, Similarity: sim})
		rec.FlagReasons = append(rec.FlagReasons, fmt.Sprintf("option %s %s (%.2f)", o.Label, strings.ReplaceAll(string(reason), "_", " "), sim))
	}
	rec.DistractorPenalty = min(rec.DistractorPenalty, 1.0)
}

// verifyWithModel asks the verifier for a verdict when verification is required.
func (e *Engine) verifyWithModel(ctx context.Context, mcq models.MCQ, passage string, rec *models.ValidationRecord) {
	if !e.config.RequireModelVerification {
		return
	}
	if e.verifier == nil {
		rec.FlagReasons = append(rec.FlagReasons, "model verifier unavailable")
		return
	}
	v := e.verifier.Verify(ctx, mcq, passage)
	if v == nil {
		v = &models.ModelVerdict{Error: "verifier returned no verdict"}
	}
	rec.ModelVerdict = v
	if v.Error != "" {
		e.logger.Warn("model verification failed", zap.String("error", v.Error))
		rec.FlagReasons = append(rec.FlagReasons, "model verification failed")
	}
}
