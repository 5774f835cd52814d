// Package generation turns indexed chunks into questions, either unit by unit or by
// sampling retrieval contexts.
package generation

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/mondai/internal/chunkstore"
	"github.com/hyperjump/mondai/internal/metrics"
	"github.com/hyperjump/mondai/internal/models"
	"github.com/hyperjump/mondai/internal/retrieval"
	"github.com/hyperjump/mondai/pkg/utils"
)

// Generator produces exactly n questions from a context, or an error.
type Generator interface {
	GenerateMCQs(ctx context.Context, passage string, n int, difficulty models.Difficulty) (models.MCQSet, error)
}

// Mode selects how generation contexts are chosen.
type Mode string

const (
	ModeRAG      Mode = "rag"
	ModePerPage  Mode = "per_page"
	ModePerChunk Mode = "per_chunk"
)

// ParseMode accepts rag, per_page (alias per_unit) and per_chunk; empty means rag.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "rag":
		return ModeRAG, nil
	case "per_page", "per_unit", "page":
		return ModePerPage, nil
	case "per_chunk", "chunk":
		return ModePerChunk, nil
	default:
		return "", fmt.Errorf("mode must be 'per_page', 'per_chunk' or 'rag', got %q", s)
	}
}

const (
	DefaultQuestionsPerUnit = 3
	DefaultTopK             = 3
	attemptsPerQuestion     = 4
	minSeedSentenceLen      = 20
	seedFallbackLen         = 200
	noTextSeed              = "[no text available]"
)

// ErrNoChunks means there is nothing to generate from.
var ErrNoChunks = errors.New("no chunks to generate from")

// Request describes one generation run.
type Request struct {
	N                int
	Mode             Mode
	QuestionsPerUnit int // per-unit modes
	TopK             int // rag mode
	Difficulty       models.Difficulty
}

func (r *Request) applyDefaults() {
	if r.Mode == "" {
		r.Mode = ModeRAG
	}
	if r.QuestionsPerUnit <= 0 {
		r.QuestionsPerUnit = DefaultQuestionsPerUnit
	}
	if r.TopK <= 0 {
		r.TopK = DefaultTopK
	}
}

// DifficultyCounts is the number of questions wanted per difficulty.
type DifficultyCounts struct {
	Easy   int `json:"easy" yaml:"easy"`
	Medium int `json:"medium" yaml:"medium"`
	Hard   int `json:"hard" yaml:"hard"`
}

// DefaultDifficultyCounts returns 3 easy, 5 medium and 2 hard.
func DefaultDifficultyCounts() DifficultyCounts {
	return DifficultyCounts{Easy: 3, Medium: 5, Hard: 2}
}

// Total returns the sum of all counts.
func (d DifficultyCounts) Total() int {
	return d.Easy + d.Medium + d.Hard
}

// Orchestrator runs generation over a chunk store.
type Orchestrator struct {
	retriever retrieval.Retriever
	generator Generator
	logger    *zap.Logger
	metrics   *metrics.Metrics

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRand sets the random source used for sampling.
func WithRand(r *rand.Rand) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.rng = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records attempts and accepted questions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator creates an orchestrator. retriever is only used in rag mode.
func NewOrchestrator(retriever retrieval.Retriever, generator Generator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		retriever: retriever,
		generator: generator,
		logger:    zap.NewNop(),
		rng:       rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x6d6f6e646169)),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Generate runs one mode until req.N questions are accepted or the inputs run out.
// Keys are "1".."k" in acceptance order. Generator failures are logged and skipped;
// on cancellation the questions accepted so far are returned with ctx.Err().
func (o *Orchestrator) Generate(ctx context.Context, store *chunkstore.Store, req Request) (models.MCQSet, error) {
	req.applyDefaults()
	if req.N <= 0 {
		return models.MCQSet{}, nil
	}
	if store == nil || store.Len() == 0 {
		return nil, ErrNoChunks
	}

	var (
		qs  []models.MCQ
		err error
	)
	switch req.Mode {
	case ModeRAG:
		qs, err = o.generateRAG(ctx, store, req)
	case ModePerPage:
		qs, err = o.generatePerUnit(ctx, store.PageUnits(), req)
	case ModePerChunk:
		qs, err = o.generatePerUnit(ctx, store.ChunkUnits(), req)
	default:
		return nil, fmt.Errorf("unknown generation mode %q", req.Mode)
	}
	o.metrics.QuestionsGenerated(string(req.Mode), string(req.Difficulty), len(qs))
	o.logger.Info("Generation finished",
		zap.String("mode", string(req.Mode)),
		zap.String("difficulty", string(req.Difficulty)),
		zap.Int("requested", req.N),
		zap.Int("generated", len(qs)))
	return models.Renumber(qs), err
}

// GenerateByDifficulty runs Generate once per non-zero count and merges the results
// in easy, medium, hard order, keyed densely across the merge.
func (o *Orchestrator) GenerateByDifficulty(ctx context.Context, store *chunkstore.Store, req Request, counts DifficultyCounts) (models.MCQSet, error) {
	var all []models.MCQ
	for _, step := range []struct {
		d models.Difficulty
		n int
	}{
		{models.DifficultyEasy, counts.Easy},
		{models.DifficultyMedium, counts.Medium},
		{models.DifficultyHard, counts.Hard},
	} {
		if step.n <= 0 {
			continue
		}
		r := req
		r.N = step.n
		r.Difficulty = step.d
		set, err := o.Generate(ctx, store, r)
		for _, q := range set.Ordered() {
			q.Difficulty = step.d
			all = append(all, q)
		}
		if err != nil {
			return models.Renumber(all), err
		}
	}
	return models.Renumber(all), nil
}

func (o *Orchestrator) generatePerUnit(ctx context.Context, units []chunkstore.Unit, req Request) ([]models.MCQ, error) {
	var out []models.MCQ
	for _, u := range units {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		text := u.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		set, err := o.generator.GenerateMCQs(ctx, text, req.QuestionsPerUnit, req.Difficulty)
		o.metrics.GenerationAttempt(string(req.Mode), err == nil)
		if err != nil {
			o.logger.Warn("Generator failed on unit",
				zap.Int("page", u.Page),
				zap.Int("first_chunk", u.Chunks[0].ChunkID),
				zap.Error(err))
			continue
		}
		for _, q := range set.Ordered() {
			out = append(out, q)
			if len(out) >= req.N {
				return out, nil
			}
		}
	}
	return out, nil
}

func (o *Orchestrator) generateRAG(ctx context.Context, store *chunkstore.Store, req Request) ([]models.MCQ, error) {
	if o.retriever == nil {
		return nil, errors.New("rag mode needs a retriever")
	}
	var out []models.MCQ
	maxAttempts := req.N * attemptsPerQuestion
	for attempt := 1; len(out) < req.N && attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		chunk, _ := store.Get(o.intN(store.Len()))
		query := "Create questions about: " + o.seedSentence(chunk.Text)

		hits, err := o.retriever.Retrieve(ctx, query, req.TopK, "")
		if err != nil {
			if errors.Is(err, retrieval.ErrIndexNotReady) {
				return out, err
			}
			o.logger.Warn("Retrieval failed during RAG attempt", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		passage := retrieval.ContextBlocks(hits)

		set, err := o.generator.GenerateMCQs(ctx, passage, 1, req.Difficulty)
		o.metrics.GenerationAttempt(string(req.Mode), err == nil)
		if err != nil {
			o.logger.Warn("Generator failed during RAG attempt", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		for _, q := range set.Ordered() {
			out = append(out, q)
			if len(out) >= req.N {
				break
			}
		}
	}
	if len(out) < req.N {
		o.logger.Warn("RAG generation ran out of attempts",
			zap.Int("requested", req.N),
			zap.Int("generated", len(out)),
			zap.Int("attempts", maxAttempts))
	}
	return out, nil
}

// seedSentence picks a random sentence longer than 20 characters, falling back to
// the head of the text.
func (o *Orchestrator) seedSentence(text string) string {
	var candidates []string
	for _, s := range utils.SplitSentences(text) {
		if utils.RuneLen(strings.TrimSpace(s)) > minSeedSentenceLen {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) > 0 {
		return candidates[o.intN(len(candidates))]
	}
	if head := strings.TrimSpace(utils.Head(text, seedFallbackLen)); head != "" {
		return head
	}
	return noTextSeed
}

func (o *Orchestrator) intN(n int) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rng.IntN(n)
}
