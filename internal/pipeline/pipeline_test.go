package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/mondai/internal/chunkstore"
	"github.com/hyperjump/mondai/internal/embedding"
	"github.com/hyperjump/mondai/internal/generation"
	"github.com/hyperjump/mondai/internal/llm"
	"github.com/hyperjump/mondai/internal/models"
	"github.com/hyperjump/mondai/internal/runlog"
	"github.com/hyperjump/mondai/internal/scoring"
	"github.com/hyperjump/mondai/internal/validation"
	"github.com/hyperjump/mondai/internal/verify"
)

// fakeGenerator returns n fixed questions per call and
// reports 10 prompt and 5 completion tokens per call.
type fakeGenerator struct {
	usage *llm.UsageCollector
	calls int
	err   error
}

func (g *fakeGenerator) GenerateMCQs(_ context.Context, passage string, n int, d models.Difficulty) (models.MCQSet, error) {
	g.calls++
	g.usage.Record(10, 5, 0, time.Millisecond)
	if g.err != nil {
		return nil, g.err
	}
	out := make(models.MCQSet, n)
	for i := 1; i <= n; i++ {
		out[fmt.Sprint(i)] = models.MCQ{
			Question: fmt.Sprintf("What does the passage say (call %d)?", g.calls),
			Options: []models.Option{
				{Label: "a", Text: "mitochondria produce energy"},
				{Label: "b", Text: "volcanoes erupt lava"},
			},
			CorrectAnswer: "mitochondria produce energy",
			Difficulty:    d,
		}
	}
	return out, nil
}

// statementFailingEmbedder embeds chunks but fails on validation statements
// containing failOn.
type statementFailingEmbedder struct {
	*embedding.HashingEmbedder
	failOn string
}

func (e statementFailingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.Contains(text, " Answer: ") && strings.Contains(text, e.failOn) {
		return nil, errors.New("embedding service unavailable")
	}
	return e.HashingEmbedder.Embed(ctx, text)
}

func (e statementFailingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func testStore() *chunkstore.Store {
	return chunkstore.New([]models.Chunk{
		{Page: 1, ChunkID: 1, Text: "The mitochondria produce energy for the cell through respiration."},
		{Page: 2, ChunkID: 1, Text: "Ribosomes assemble proteins from amino acids in the cytoplasm."},
	})
}

func newPipeline(t *testing.T, gen generation.Generator, usage *llm.UsageCollector, log *runlog.Log) *Pipeline {
	t.Helper()
	scorer, err := scoring.NewScorer(nil)
	require.NoError(t, err)
	cfg := validation.DefaultConfig()
	cfg.RequireModelVerification = false
	return New(Options{
		Embedder:   embedding.NewHashingEmbedder(128),
		IndexType:  "memory",
		Generator:  gen,
		Entailment: verify.NewLexicalEntailment(),
		QA:         verify.NewBleveQA(),
		Validation: cfg,
		Scorer:     scorer,
		Usage:      usage,
		RunLog:     log,
	})
}

func readLog(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		out = append(out, rec)
	}
	return out
}

func TestGenerate_withValidation(t *testing.T) {
	usage := llm.NewUsageCollector()
	logPath := filepath.Join(t.TempDir(), "runs.jsonl")
	log, err := runlog.Open(logPath)
	require.NoError(t, err)
	defer log.Close()

	gen := &fakeGenerator{usage: usage}
	p := newPipeline(t, gen, usage, log)
	require.True(t, p.CanGenerate())

	res, err := p.Generate(context.Background(), testStore(), GenerateRequest{
		Request:    generation.Request{N: 2, Mode: generation.ModePerPage, QuestionsPerUnit: 1},
		Validate:   true,
		Source:     "bio.pdf",
		Collection: "biology",
	})
	require.NoError(t, err)

	assert.Len(t, res.MCQs, 2)
	assert.Equal(t, []string{"1", "2"}, res.MCQs.Keys())
	assert.Len(t, res.Validation, 2)
	require.NotNil(t, res.Report)
	require.NotNil(t, res.Summary)
	assert.Equal(t, 2, res.Summary.TotalQuestions)
	assert.Empty(t, res.ValidationError)
	assert.NotEmpty(t, res.RunID)

	assert.Equal(t, 2, res.Usage.Calls)
	assert.Equal(t, 30, res.Usage.TotalTokens)
	assert.Equal(t, 0, usage.Snapshot().Calls, "collector is reset after the run")

	records := readLog(t, logPath)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "generation", rec["event"])
	assert.Equal(t, res.RunID, rec["id"])
	assert.Equal(t, "bio.pdf", rec["filename"])
	assert.Equal(t, "per_page", rec["mode"])
	assert.Equal(t, true, rec["validated"])
	assert.EqualValues(t, 2, rec["questions"])
}

func TestGenerate_usageIsPerRun(t *testing.T) {
	usage := llm.NewUsageCollector()
	p := newPipeline(t, &fakeGenerator{usage: usage}, usage, nil)
	req := GenerateRequest{Request: generation.Request{N: 1, Mode: generation.ModePerChunk, QuestionsPerUnit: 1}}

	first, err := p.Generate(context.Background(), testStore(), req)
	require.NoError(t, err)
	second, err := p.Generate(context.Background(), testStore(), req)
	require.NoError(t, err)

	assert.Equal(t, 1, first.Usage.Calls)
	assert.Equal(t, 1, second.Usage.Calls)
	assert.Equal(t, 1, second.Usage.Runs)
	assert.Empty(t, second.RunID, "no run log configured")
}

func TestGenerate_byDifficulty(t *testing.T) {
	usage := llm.NewUsageCollector()
	p := newPipeline(t, &fakeGenerator{usage: usage}, usage, nil)

	res, err := p.Generate(context.Background(), testStore(), GenerateRequest{
		Request:    generation.Request{Mode: generation.ModePerPage, QuestionsPerUnit: 1},
		Difficulty: &generation.DifficultyCounts{Easy: 1, Hard: 1},
	})
	require.NoError(t, err)
	require.Len(t, res.MCQs, 2)
	assert.Equal(t, models.DifficultyEasy, res.MCQs["1"].Difficulty)
	assert.Equal(t, models.DifficultyHard, res.MCQs["2"].Difficulty)
}

func TestGenerate_statementFailureRejectsOnlyThatQuestion(t *testing.T) {
	usage := llm.NewUsageCollector()
	scorer, err := scoring.NewScorer(nil)
	require.NoError(t, err)
	cfg := validation.DefaultConfig()
	cfg.RequireModelVerification = false
	p := New(Options{
		Embedder:   statementFailingEmbedder{HashingEmbedder: embedding.NewHashingEmbedder(64), failOn: "(call 2)"},
		IndexType:  "memory",
		Generator:  &fakeGenerator{usage: usage},
		Validation: cfg,
		Scorer:     scorer,
		Usage:      usage,
	})

	res, err := p.Generate(context.Background(), testStore(), GenerateRequest{
		Request:  generation.Request{N: 2, Mode: generation.ModePerChunk, QuestionsPerUnit: 1},
		Validate: true,
	})
	require.NoError(t, err)
	require.Len(t, res.MCQs, 2)
	assert.Empty(t, res.ValidationError)
	require.Len(t, res.Validation, 2)
	require.NotNil(t, res.Report)
	assert.Equal(t, 2, res.Report.BatchSummary.Total)

	var failed, checked *models.ValidationRecord
	for id, q := range res.MCQs {
		if strings.Contains(q.Question, "(call 2)") {
			failed = res.Validation[id]
		} else {
			checked = res.Validation[id]
		}
	}
	require.NotNil(t, failed)
	require.NotNil(t, checked)
	assert.Equal(t, models.TriageReject, failed.TriageAction)
	assert.Contains(t, failed.FlagReasons, "retrieval failed")
	assert.Greater(t, checked.MaxSimilarity, 0.0)
	assert.Equal(t, 2, res.Usage.Calls)
}

func TestGenerate_noGenerator(t *testing.T) {
	p := newPipeline(t, nil, nil, nil)
	assert.False(t, p.CanGenerate())
	_, err := p.Generate(context.Background(), testStore(), GenerateRequest{Request: generation.Request{N: 1}})
	assert.ErrorIs(t, err, ErrNoGenerator)
}

func TestGenerate_emptyStore(t *testing.T) {
	p := newPipeline(t, &fakeGenerator{}, nil, nil)
	_, err := p.Generate(context.Background(), chunkstore.New(nil), GenerateRequest{Request: generation.Request{N: 1}})
	assert.ErrorIs(t, err, generation.ErrNoChunks)
}

func TestGenerate_generatorFailureIsNotFatal(t *testing.T) {
	usage := llm.NewUsageCollector()
	gen := &fakeGenerator{usage: usage, err: errors.New("bad json")}
	p := newPipeline(t, gen, usage, nil)

	res, err := p.Generate(context.Background(), testStore(), GenerateRequest{
		Request: generation.Request{N: 3, Mode: generation.ModePerPage},
	})
	require.NoError(t, err)
	assert.Empty(t, res.MCQs)
	assert.Equal(t, 2, res.Usage.Calls)
}

func TestValidate(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "runs.jsonl")
	log, err := runlog.Open(logPath)
	require.NoError(t, err)
	defer log.Close()
	p := newPipeline(t, nil, nil, log)

	mcqs := models.MCQSet{
		"1": {
			Question:      "What produces energy for the cell?",
			Options:       []models.Option{{Label: "a", Text: "mitochondria"}, {Label: "b", Text: "granite"}},
			CorrectAnswer: "mitochondria",
		},
	}
	res, err := p.Validate(context.Background(), testStore(), mcqs)
	require.NoError(t, err)
	require.Contains(t, res.Validation, "1")
	assert.Greater(t, res.Validation["1"].MaxSimilarity, 0.0)
	require.NotNil(t, res.Report)
	assert.Equal(t, 1, res.Report.BatchSummary.Total)

	records := readLog(t, logPath)
	require.Len(t, records, 1)
	assert.Equal(t, "validation", records[0]["event"])
}

func TestScore(t *testing.T) {
	p := newPipeline(t, nil, nil, nil)
	mcqs := models.MCQSet{"1": {Question: "q", Options: []models.Option{{Label: "a", Text: "x"}}, CorrectAnswer: "x"}}
	report := models.ValidationReport{"1": {MaxSimilarity: 1, SupportedByEmbeddings: true}}

	batch, summary := p.Score(mcqs, report)
	assert.Equal(t, 1, batch.BatchSummary.Total)
	assert.Equal(t, 1, summary.TotalQuestions)
}
