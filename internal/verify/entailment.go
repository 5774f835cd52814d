package verify

import (
	"context"
)

// lexicalCandidates is how many matching premise sentences are checked per hypothesis.
const lexicalCandidates = 5

// LexicalEntailment scores hypotheses against a premise by term coverage: for each
// hypothesis, the best share of its terms found in a single premise sentence. It stands
// in for a cross-encoder when no ONNX model is configured. Scores are in [0, 1] but, like
// model logits, only meaningful relative to the rest of the batch.
type LexicalEntailment struct{}

// NewLexicalEntailment returns the lexical entailment scorer.
func NewLexicalEntailment() *LexicalEntailment {
	return &LexicalEntailment{}
}

// Score returns one score per hypothesis.
func (LexicalEntailment) Score(ctx context.Context, premise string, hypotheses []string) ([]float64, error) {
	out := make([]float64, len(hypotheses))
	idx, err := newSentenceIndex(premise)
	if err != nil {
		return nil, err
	}
	defer idx.Close()

	for i, h := range hypotheses {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hits, err := idx.search(ctx, h, lexicalCandidates)
		if err != nil {
			return nil, err
		}
		want := idx.terms(h)
		for _, hit := range hits {
			out[i] = max(out[i], coverage(want, idx.terms(hit.Text)))
		}
	}
	return out, nil
}
