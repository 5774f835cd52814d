// Package pipeline runs a full generation or validation pass over one chunk store:
// index it, generate questions, validate and score them, and record the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/mondai/internal/chunkstore"
	"github.com/hyperjump/mondai/internal/embedding"
	"github.com/hyperjump/mondai/internal/generation"
	"github.com/hyperjump/mondai/internal/llm"
	"github.com/hyperjump/mondai/internal/metrics"
	"github.com/hyperjump/mondai/internal/models"
	"github.com/hyperjump/mondai/internal/retrieval"
	"github.com/hyperjump/mondai/internal/runlog"
	"github.com/hyperjump/mondai/internal/scoring"
	"github.com/hyperjump/mondai/internal/validation"
)

// ErrNoGenerator is returned by Generate when no chat model is configured.
var ErrNoGenerator = errors.New("no question generator configured")

// Options holds the collaborators of a Pipeline. Embedder and Scorer are required;
// everything else may be nil.
type Options struct {
	Embedder   embedding.Embedder
	IndexType  string
	Generator  generation.Generator
	Entailment validation.EntailmentScorer
	QA         validation.ExtractiveQA
	Verifier   validation.ModelVerifier
	Validation validation.Config
	Scorer     *scoring.Scorer
	Usage      *llm.UsageCollector
	RunLog     *runlog.Log
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Pipeline runs one request at a time so usage counts belong to a single run.
type Pipeline struct {
	opts Options
	mu   sync.Mutex
}

// New creates a pipeline.
func New(opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Pipeline{opts: opts}
}

// CanGenerate reports whether a generator is configured.
func (p *Pipeline) CanGenerate() bool {
	return p.opts.Generator != nil
}

// Scorer returns the validation scorer.
func (p *Pipeline) Scorer() *scoring.Scorer {
	return p.opts.Scorer
}

// GenerateRequest describes one generation run.
type GenerateRequest struct {
	generation.Request
	// Difficulty, when set, runs one pass per difficulty instead of Request.N questions.
	Difficulty *generation.DifficultyCounts
	Validate   bool
	Source     string // filename, for the run log
	Collection string
}

// Result is the outcome of a run. ValidationError is set when generation succeeded
// but validation did not.
type Result struct {
	RunID           string                  `json:"run_id,omitempty"`
	MCQs            models.MCQSet           `json:"mcqs"`
	Validation      models.ValidationReport `json:"validation,omitempty"`
	Report          *scoring.BatchReport    `json:"report,omitempty"`
	Summary         *scoring.QuickSummary   `json:"summary,omitempty"`
	ValidationError string                  `json:"error,omitempty"`
	Usage           llm.Usage               `json:"usage"`
	Elapsed         time.Duration           `json:"-"`
}

// Generate indexes store, generates questions and optionally validates them against
// the same index. Partial generation output is returned along with a context error.
func (p *Pipeline) Generate(ctx context.Context, store *chunkstore.Store, req GenerateRequest) (*Result, error) {
	if p.opts.Generator == nil {
		return nil, ErrNoGenerator
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	svc, err := p.index(ctx, store)
	if err != nil {
		return nil, err
	}

	orch := generation.NewOrchestrator(svc, p.opts.Generator,
		generation.WithLogger(p.opts.Logger),
		generation.WithMetrics(p.opts.Metrics))

	var mcqs models.MCQSet
	if req.Difficulty != nil {
		mcqs, err = orch.GenerateByDifficulty(ctx, store, req.Request, *req.Difficulty)
	} else {
		mcqs, err = orch.Generate(ctx, store, req.Request)
	}
	res := &Result{MCQs: mcqs}
	if err != nil {
		res.Usage = p.finishUsage()
		return res, err
	}

	if req.Validate && len(mcqs) > 0 {
		if err := p.validateInto(ctx, svc, res); err != nil {
			p.opts.Logger.Warn("Validation failed", zap.Error(err))
			res.ValidationError = "Validation failed: " + err.Error()
		}
	}

	res.Usage = p.finishUsage()
	res.Elapsed = time.Since(start)
	res.RunID = p.record("generation", req, res)
	return res, nil
}

// Validate indexes store and validates mcqs against it.
func (p *Pipeline) Validate(ctx context.Context, store *chunkstore.Store, mcqs models.MCQSet) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	svc, err := p.index(ctx, store)
	if err != nil {
		return nil, err
	}
	res := &Result{MCQs: mcqs}
	if err := p.validateInto(ctx, svc, res); err != nil {
		res.Usage = p.finishUsage()
		return res, err
	}
	res.Usage = p.finishUsage()
	res.Elapsed = time.Since(start)
	res.RunID = p.record("validation", GenerateRequest{}, res)
	return res, nil
}

// Score runs the scorer over an existing validation report.
func (p *Pipeline) Score(mcqs models.MCQSet, report models.ValidationReport) (*scoring.BatchReport, scoring.QuickSummary) {
	batch := p.opts.Scorer.ProcessBatch(mcqs, report)
	return batch, scoring.Summarize(batch)
}

func (p *Pipeline) index(ctx context.Context, store *chunkstore.Store) (*retrieval.Service, error) {
	if store == nil || store.Len() == 0 {
		return nil, generation.ErrNoChunks
	}
	idx := retrieval.NewIndex(p.opts.Embedder,
		retrieval.WithIndexType(p.opts.IndexType),
		retrieval.WithIndexLogger(p.opts.Logger))
	if err := idx.Build(ctx, store); err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}
	return retrieval.NewService(idx,
		retrieval.WithServiceLogger(p.opts.Logger),
		retrieval.WithServiceMetrics(p.opts.Metrics)), nil
}

func (p *Pipeline) validateInto(ctx context.Context, svc *retrieval.Service, res *Result) error {
	opts := []validation.Option{
		validation.WithConfig(p.opts.Validation),
		validation.WithLogger(p.opts.Logger),
		validation.WithMetrics(p.opts.Metrics),
	}
	if p.opts.Entailment != nil {
		opts = append(opts, validation.WithEntailment(p.opts.Entailment))
	}
	if p.opts.QA != nil {
		opts = append(opts, validation.WithQA(p.opts.QA))
	}
	if p.opts.Verifier != nil {
		opts = append(opts, validation.WithVerifier(p.opts.Verifier))
	}
	engine := validation.NewEngine(svc, p.opts.Embedder, opts...)

	report, err := engine.ValidateBatch(ctx, res.MCQs)
	if err != nil {
		return err
	}
	batch, summary := p.Score(res.MCQs, report)
	res.Validation = report
	res.Report = batch
	res.Summary = &summary
	return nil
}

func (p *Pipeline) finishUsage() llm.Usage {
	u := p.opts.Usage.Snapshot()
	p.opts.Usage.Reset()
	return u
}

func (p *Pipeline) record(event string, req GenerateRequest, res *Result) string {
	rec := map[string]any{
		"filename":     req.Source,
		"collection":   req.Collection,
		"questions":    len(res.MCQs),
		"token_usage":  res.Usage,
		"elapsed_secs": res.Elapsed.Seconds(),
		"validated":    res.Report != nil,
	}
	if event == "generation" {
		rec["mode"] = string(req.Mode)
		rec["requested"] = req.N
		if req.Difficulty != nil {
			rec["difficulty"] = req.Difficulty
			rec["requested"] = req.Difficulty.Total()
		}
	}
	if res.Summary != nil {
		rec["summary"] = res.Summary.ValidationSummary
	}
	if res.ValidationError != "" {
		rec["validation_error"] = res.ValidationError
	}
	id, err := p.opts.RunLog.Append(event, rec)
	if err != nil {
		p.opts.Logger.Warn("Failed to write run log", zap.Error(err))
	}
	return id
}
