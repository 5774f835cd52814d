package validation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/mondai/internal/chunkstore"
	"github.com/hyperjump/mondai/internal/embedding"
	"github.com/hyperjump/mondai/internal/models"
	"github.com/hyperjump/mondai/internal/retrieval"
	"github.com/hyperjump/mondai/internal/verify"
)

type fakeRetriever struct {
	hits  []models.ScoredChunk
	err   error
	query string
	topK  int
}

func (f *fakeRetriever) Retrieve(_ context.Context, query string, topK int, scope string) ([]models.ScoredChunk, error) {
	f.query, f.topK = query, topK
	if scope != "" {
		return nil, errors.New("validation must use the local index")
	}
	return f.hits, f.err
}

// mapEmbedder returns fixed vectors; unknown text maps to a vector orthogonal to all of them.
type mapEmbedder struct {
	vecs map[string][]float32
	err  error
}

func (m *mapEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	if v, ok := m.vecs[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (m *mapEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *mapEmbedder) Dimensions() int { return 3 }
func (m *mapEmbedder) Close() error    { return nil }

type fakeEntailment struct {
	raw   []float64
	err   error
	calls [][]string
}

func (f *fakeEntailment) Score(_ context.Context, _ string, hyps []string) ([]float64, error) {
	f.calls = append(f.calls, hyps)
	return f.raw, f.err
}

type fakeQA struct {
	ans verify.Answer
	err error
}

func (f fakeQA) Answer(context.Context, string, string) (verify.Answer, error) {
	return f.ans, f.err
}

type fakeVerifier struct {
	verdict *models.ModelVerdict
	passage string
}

func (f *fakeVerifier) Verify(_ context.Context, _ models.MCQ, passage string) *models.ModelVerdict {
	f.passage = passage
	return f.verdict
}

// Paris is the answer; Lyon is too close to it and Banana too far.
func geoEmbedder() *mapEmbedder {
	return &mapEmbedder{vecs: map[string][]float32{
		"Paris":  {1, 0, 0},
		"Lyon":   {0.9, 0.43589, 0},
		"Berlin": {0.5, 0.86603, 0},
		"Banana": {0, 1, 0},
	}}
}

func geoMCQ() models.MCQ {
	return models.MCQ{
		Question: "What is the capital of France?",
		Options: []models.Option{
			{Label: "a", Text: "Paris"},
			{Label: "b", Text: "Lyon"},
			{Label: "c", Text: "Berlin"},
			{Label: "d", Text: "Banana"},
		},
		CorrectAnswer: "Paris",
	}
}

func hit(id, page int, text string, score float64) models.ScoredChunk {
	return models.ScoredChunk{Chunk: models.Chunk{ID: id, Page: page, ChunkID: 1, Text: text}, Score: score}
}

func geoHits() []models.ScoredChunk {
	return []models.ScoredChunk{
		hit(0, 1, "The capital of France is Paris.", 0.9),
		hit(3, 2, "Lyon is a large French city.", 0.45),
		hit(7, 5, "Berlin is in Germany.", 0.3),
	}
}

func TestValidate_allSignals(t *testing.T) {
	r := &fakeRetriever{hits: geoHits()}
	ent := &fakeEntailment{raw: []float64{4, 1, 2, 0}}
	ver := &fakeVerifier{verdict: &models.ModelVerdict{Supported: true, Confidence: 0.9}}
	e := NewEngine(r, geoEmbedder(),
		WithEntailment(ent),
		WithQA(fakeQA{ans: verify.Answer{Text: "Paris", Score: 0.8}}),
		WithVerifier(ver),
	)

	rec, err := e.Validate(context.Background(), geoMCQ())
	require.NoError(t, err)

	assert.Equal(t, "What is the capital of France? Answer: Paris", r.query)
	assert.Equal(t, 4, r.topK)

	// Evidence below the cutoff is dropped from the list but not from max similarity.
	assert.InDelta(t, 0.9, rec.MaxSimilarity, 1e-9)
	assert.True(t, rec.SupportedByEmbeddings)
	require.Len(t, rec.Evidence, 1)
	assert.Equal(t, models.Evidence{ChunkRef: 0, Page: 1, Score: 0.9, Text: "The capital of France is Paris."}, rec.Evidence[0])

	require.Len(t, ent.calls, 1)
	assert.Equal(t, "What is the capital of France? Lyon", ent.calls[0][1])
	assert.Equal(t, map[string]float64{"a": 1, "b": 0.25, "c": 0.5, "d": 0}, rec.EntailmentScores)
	assert.Equal(t, 1.0, rec.CorrectEntailment)
	assert.Equal(t, "exact", rec.CorrectMatch)
	assert.False(t, rec.Ambiguous)

	require.NotNil(t, rec.QAAnswer)
	assert.Equal(t, "Paris", *rec.QAAnswer)
	assert.True(t, rec.QAAgrees)

	require.Len(t, rec.DistractorFlags, 2)
	assert.Equal(t, "b", rec.DistractorFlags[0].Label)
	assert.Equal(t, models.ReasonTooSimilar, rec.DistractorFlags[0].Reason)
	assert.Equal(t, "d", rec.DistractorFlags[1].Label)
	assert.Equal(t, models.ReasonTooDifferent, rec.DistractorFlags[1].Reason)
	assert.InDelta(t, 0.4, rec.DistractorPenalty, 1e-9)
	require.NotNil(t, rec.DistractorSimilarities["a"])
	assert.InDelta(t, 1.0, *rec.DistractorSimilarities["a"], 1e-6)

	assert.Contains(t, ver.passage, "[page 1] The capital of France is Paris.")
	assert.Contains(t, ver.passage, "[page 5] Berlin is in Germany.")
	assert.Equal(t, 0.9, rec.ModelVerdict.Confidence)

	// 0.40*0.9 + 0.35*1 + 0.20*0.8 - 0.05*0.4
	assert.InDelta(t, 0.85, rec.QualityScore, 1e-6)
	assert.Equal(t, models.TriagePass, rec.TriageAction)
	assert.Contains(t, rec.FlagReasons, "option b too similar (0.90)")
	assert.Contains(t, rec.FlagReasons, "option d too different (0.00)")
}

func TestValidate_ambiguousBlocksPass(t *testing.T) {
	e := NewEngine(&fakeRetriever{hits: geoHits()}, geoEmbedder(),
		WithEntailment(&fakeEntailment{raw: []float64{4, 3.8, 0, 0}}),
		WithQA(fakeQA{ans: verify.Answer{Text: "Paris", Score: 0.8}}),
		WithConfig(Config{RequireModelVerification: false}),
	)

	rec, err := e.Validate(context.Background(), geoMCQ())
	require.NoError(t, err)
	assert.True(t, rec.Ambiguous)
	assert.Equal(t, []string{"b"}, rec.AmbiguousOptions)
	assert.GreaterOrEqual(t, rec.QualityScore, 0.7)
	assert.Equal(t, models.TriageReview, rec.TriageAction)
	assert.Contains(t, rec.FlagReasons, "ambiguous options: b")
}

func TestValidate_ambiguityFloor(t *testing.T) {
	// A weak correct score still needs 0.6 before another option counts as ambiguous.
	e := NewEngine(&fakeRetriever{hits: geoHits()}, geoEmbedder(),
		WithEntailment(&fakeEntailment{raw: []float64{0.3, 0.5, 1, 0}}),
		WithConfig(Config{RequireModelVerification: false}),
	)
	rec, err := e.Validate(context.Background(), geoMCQ())
	require.NoError(t, err)
	assert.InDelta(t, 0.3, rec.CorrectEntailment, 1e-9)
	assert.Equal(t, []string{"c"}, rec.AmbiguousOptions)
}

func TestValidate_syntheticHypothesis(t *testing.T) {
	ent := &fakeEntailment{raw: []float64{1, 0, 0, 0, 3}}
	mcq := geoMCQ()
	mcq.CorrectAnswer = "Rome"
	e := NewEngine(&fakeRetriever{hits: geoHits()}, geoEmbedder(), WithEntailment(ent))

	rec, err := e.Validate(context.Background(), mcq)
	require.NoError(t, err)
	require.Len(t, ent.calls[0], 5)
	assert.Equal(t, "What is the capital of France? Rome", ent.calls[0][4])
	assert.Equal(t, "synthetic", rec.CorrectMatch)
	assert.Equal(t, 1.0, rec.CorrectEntailment)
	assert.Len(t, rec.EntailmentScores, 4)
}

func TestValidate_fuzzyAnswerMatch(t *testing.T) {
	ent := &fakeEntailment{raw: []float64{3, 0, 0, 1}}
	mcq := geoMCQ()
	mcq.CorrectAnswer = "paris."
	e := NewEngine(&fakeRetriever{hits: geoHits()}, geoEmbedder(), WithEntailment(ent))

	rec, err := e.Validate(context.Background(), mcq)
	require.NoError(t, err)
	assert.Equal(t, "exact", rec.CorrectMatch)
	assert.Len(t, ent.calls[0], 4)
	assert.Equal(t, 1.0, rec.CorrectEntailment)

	mcq.CorrectAnswer = "Berlinn"
	rec, err = e.Validate(context.Background(), mcq)
	require.NoError(t, err)
	assert.Equal(t, "fuzzy", rec.CorrectMatch)
}

func TestValidate_collaboratorsDegrade(t *testing.T) {
	e := NewEngine(&fakeRetriever{hits: geoHits()}, &mapEmbedder{err: errors.New("model down")},
		WithEntailment(&fakeEntailment{err: errors.New("no model")}),
		WithQA(fakeQA{err: errors.New("no qa")}),
	)

	rec, err := e.Validate(context.Background(), geoMCQ())
	require.NoError(t, err)
	assert.Nil(t, rec.EntailmentScores)
	assert.Zero(t, rec.CorrectEntailment)
	assert.Nil(t, rec.QAAnswer)
	assert.False(t, rec.QAAgrees)
	assert.Empty(t, rec.DistractorFlags)
	assert.Nil(t, rec.ModelVerdict)
	assert.Contains(t, rec.FlagReasons, "entailment unavailable")
	assert.Contains(t, rec.FlagReasons, "extractive QA unavailable")
	assert.Contains(t, rec.FlagReasons, "distractor check unavailable")
	assert.Contains(t, rec.FlagReasons, "model verifier unavailable")
	// Only similarity is left: 0.40*0.9.
	assert.InDelta(t, 0.36, rec.QualityScore, 1e-9)
	assert.Equal(t, models.TriageReject, rec.TriageAction)
}

func TestValidate_verifierErrorKeptOnRecord(t *testing.T) {
	ver := &fakeVerifier{verdict: &models.ModelVerdict{Error: "Model verification failed to return JSON: bad"}}
	e := NewEngine(&fakeRetriever{hits: geoHits()}, geoEmbedder(), WithVerifier(ver))

	rec, err := e.Validate(context.Background(), geoMCQ())
	require.NoError(t, err)
	require.NotNil(t, rec.ModelVerdict)
	assert.False(t, rec.ModelVerdict.Usable())
	assert.Contains(t, rec.FlagReasons, "model verification failed")
}

func TestValidate_verificationDisabled(t *testing.T) {
	ver := &fakeVerifier{verdict: &models.ModelVerdict{Supported: true, Confidence: 1}}
	e := NewEngine(&fakeRetriever{hits: geoHits()}, geoEmbedder(),
		WithVerifier(ver),
		WithConfig(Config{RequireModelVerification: false}),
	)
	rec, err := e.Validate(context.Background(), geoMCQ())
	require.NoError(t, err)
	assert.Nil(t, rec.ModelVerdict)
	assert.Empty(t, ver.passage)
}

func TestValidate_noEvidence(t *testing.T) {
	e := NewEngine(&fakeRetriever{}, geoEmbedder())
	rec, err := e.Validate(context.Background(), geoMCQ())
	require.NoError(t, err)
	assert.Zero(t, rec.MaxSimilarity)
	assert.False(t, rec.SupportedByEmbeddings)
	assert.NotNil(t, rec.Evidence)
	assert.Empty(t, rec.Evidence)
	assert.Contains(t, rec.FlagReasons, "no evidence above cutoff")
	assert.Equal(t, models.TriageReject, rec.TriageAction)
}

func TestValidate_negativeSimilarityClamped(t *testing.T) {
	e := NewEngine(&fakeRetriever{hits: []models.ScoredChunk{hit(0, 1, "x", -0.2)}}, geoEmbedder())
	rec, err := e.Validate(context.Background(), geoMCQ())
	require.NoError(t, err)
	assert.Zero(t, rec.MaxSimilarity)
	assert.GreaterOrEqual(t, rec.QualityScore, 0.0)
}

func TestValidate_evidenceTruncated(t *testing.T) {
	long := strings.Repeat("a", 1200)
	e := NewEngine(&fakeRetriever{hits: []models.ScoredChunk{hit(0, 1, long, 0.8)}}, geoEmbedder())
	rec, err := e.Validate(context.Background(), geoMCQ())
	require.NoError(t, err)
	require.Len(t, rec.Evidence, 1)
	assert.Equal(t, strings.Repeat("a", 1000)+"...", rec.Evidence[0].Text)
}

func TestValidate_malformedMCQ(t *testing.T) {
	e := NewEngine(&fakeRetriever{hits: geoHits()}, geoEmbedder(),
		WithEntailment(&fakeEntailment{raw: []float64{1}}),
		WithQA(fakeQA{ans: verify.Answer{Text: "Paris", Score: 1}}),
	)
	rec, err := e.Validate(context.Background(), models.MCQ{})
	require.NoError(t, err)
	assert.Empty(t, rec.DistractorSimilarities)
	assert.Nil(t, rec.EntailmentScores)
	assert.False(t, rec.QAAgrees)
	assert.Contains(t, []models.TriageAction{models.TriageReview, models.TriageReject}, rec.TriageAction)
}

func TestValidate_emptyOptionTextHasNilSimilarity(t *testing.T) {
	mcq := geoMCQ()
	mcq.Options[2].Text = ""
	e := NewEngine(&fakeRetriever{hits: geoHits()}, geoEmbedder())
	rec, err := e.Validate(context.Background(), mcq)
	require.NoError(t, err)
	assert.Contains(t, rec.DistractorSimilarities, "c")
	assert.Nil(t, rec.DistractorSimilarities["c"])
}

func TestValidate_penaltyCapped(t *testing.T) {
	mcq := models.MCQ{Question: "q", CorrectAnswer: "Paris"}
	for i := 0; i < 6; i++ {
		mcq.Options = append(mcq.Options, models.Option{Label: string(rune('a' + i)), Text: "Lyon"})
	}
	e := NewEngine(&fakeRetriever{hits: geoHits()}, geoEmbedder())
	rec, err := e.Validate(context.Background(), mcq)
	require.NoError(t, err)
	assert.Len(t, rec.DistractorFlags, 6)
	assert.Equal(t, 1.0, rec.DistractorPenalty)
}

func steps() []float64 {
	out := make([]float64, 11)
	for i := range out {
		out[i] = float64(i) / 10
	}
	return out
}

func TestQualityScore_nonDecreasing(t *testing.T) {
	tests := []struct {
		name  string
		score func(x float64) float64
	}{
		{"max similarity", func(x float64) float64 { return QualityScore(x, 0.5, 0.5, true, 0.25) }},
		{"correct entailment", func(x float64) float64 { return QualityScore(0.5, x, 0.5, true, 0.25) }},
		{"qa score when agreeing", func(x float64) float64 { return QualityScore(0.5, 0.5, x, true, 0.25) }},
		{"qa score ignored when disagreeing", func(x float64) float64 { return QualityScore(0.5, 0.5, x, false, 0.25) }},
		{"all signals at full penalty", func(x float64) float64 { return QualityScore(x, x, x, true, 1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := -1.0
			for _, x := range steps() {
				got := tt.score(x)
				assert.GreaterOrEqual(t, got, prev, "quality fell at input %.1f", x)
				assert.GreaterOrEqual(t, got, 0.0)
				assert.LessOrEqual(t, got, 1.0)
				prev = got
			}
		})
	}
	assert.Equal(t, QualityScore(0.5, 0.5, 0, false, 0), QualityScore(0.5, 0.5, 1, false, 0))
	assert.InDelta(t, 0.95, QualityScore(1, 1, 1, true, 0), 1e-9)
	assert.Equal(t, 0.0, QualityScore(0, 0, 0, false, 1))
}

func TestValidate_qualityNonDecreasingInSimilarity(t *testing.T) {
	prev := -1.0
	for _, x := range steps() {
		e := NewEngine(&fakeRetriever{hits: []models.ScoredChunk{hit(0, 1, "The capital of France is Paris.", x)}}, geoEmbedder(),
			WithEntailment(&fakeEntailment{raw: []float64{4, 1, 2, 0}}),
			WithQA(fakeQA{ans: verify.Answer{Text: "Paris", Score: 0.8}}),
			WithConfig(Config{RequireModelVerification: false}),
		)
		rec, err := e.Validate(context.Background(), geoMCQ())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, rec.QualityScore, prev, "quality fell at similarity %.1f", x)
		assert.GreaterOrEqual(t, rec.QualityScore, 0.0)
		assert.LessOrEqual(t, rec.QualityScore, 1.0)
		prev = rec.QualityScore
	}
}

func TestValidateBatch(t *testing.T) {
	e := NewEngine(&fakeRetriever{hits: geoHits()}, geoEmbedder())
	mcqs := models.MCQSet{"2": geoMCQ(), "1": geoMCQ(), "10": {}}

	report, err := e.ValidateBatch(context.Background(), mcqs)
	require.NoError(t, err)
	assert.Len(t, report, 3)
	for id, rec := range report {
		assert.NotNil(t, rec, id)
	}
}

// flakyRetriever fails for queries containing failOn.
type flakyRetriever struct {
	fakeRetriever
	failOn string
}

func (f *flakyRetriever) Retrieve(ctx context.Context, query string, topK int, scope string) ([]models.ScoredChunk, error) {
	if strings.Contains(query, f.failOn) {
		return nil, errors.New("embed query: transient 503")
	}
	return f.fakeRetriever.Retrieve(ctx, query, topK, scope)
}

func TestValidateBatch_retrievalFailureKeepsBatch(t *testing.T) {
	broken := geoMCQ()
	broken.Question = "Which river crosses Paris?"
	mcqs := models.MCQSet{"1": geoMCQ(), "2": broken, "3": geoMCQ()}
	e := NewEngine(&flakyRetriever{fakeRetriever: fakeRetriever{hits: geoHits()}, failOn: "river"}, geoEmbedder(),
		WithConfig(Config{RequireModelVerification: false}))

	report, err := e.ValidateBatch(context.Background(), mcqs)
	require.NoError(t, err)
	require.Len(t, report, 3)

	failed := report["2"]
	require.NotNil(t, failed)
	assert.Equal(t, models.TriageReject, failed.TriageAction)
	assert.Equal(t, []string{"retrieval failed"}, failed.FlagReasons)
	assert.Empty(t, failed.Evidence)
	assert.Zero(t, failed.QualityScore)
	assert.Zero(t, failed.MaxSimilarity)

	for _, id := range []string{"1", "3"} {
		require.NotNil(t, report[id], id)
		assert.InDelta(t, 0.9, report[id].MaxSimilarity, 1e-9, id)
	}
}

func TestValidateBatch_indexNotReady(t *testing.T) {
	x := retrieval.NewIndex(embedding.NewHashingEmbedder(16))
	e := NewEngine(retrieval.NewService(x), x.Embedder())

	report, err := e.ValidateBatch(context.Background(), models.MCQSet{"1": geoMCQ()})
	assert.ErrorIs(t, err, retrieval.ErrIndexNotReady)
	assert.Empty(t, report)
}

func TestValidateBatch_cancelledReturnsPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := NewEngine(&fakeRetriever{hits: geoHits()}, geoEmbedder())

	report, err := e.ValidateBatch(ctx, models.MCQSet{"1": geoMCQ()})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotNil(t, report)
	assert.Empty(t, report)
}

func TestValidate_localCollaboratorsEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := chunkstore.New([]models.Chunk{
		{Page: 1, ChunkID: 1, Text: "The capital of France is Paris. Paris lies on the Seine."},
		{Page: 2, ChunkID: 1, Text: "Berlin is the capital of Germany."},
		{Page: 3, ChunkID: 1, Text: "Bananas are rich in potassium."},
	})
	emb := embedding.NewHashingEmbedder(256)
	x := retrieval.NewIndex(emb, retrieval.WithIndexType("memory"))
	require.NoError(t, x.Build(ctx, store))

	e := NewEngine(retrieval.NewService(x), emb,
		WithEntailment(verify.NewLexicalEntailment()),
		WithQA(verify.NewBleveQA()),
		WithConfig(Config{RequireModelVerification: false, TopK: 2}),
	)
	rec, err := e.Validate(ctx, geoMCQ())
	require.NoError(t, err)

	assert.Greater(t, rec.MaxSimilarity, 0.0)
	assert.Equal(t, 1.0, rec.CorrectEntailment)
	require.NotNil(t, rec.QAAnswer)
	assert.Contains(t, *rec.QAAnswer, "Paris")
	assert.True(t, rec.QAAgrees)
	assert.Contains(t, []models.TriageAction{models.TriagePass, models.TriageReview, models.TriageReject}, rec.TriageAction)
}
