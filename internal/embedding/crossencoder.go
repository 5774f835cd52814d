//go:build cgo
// +build cgo

package embedding

import (
	"context"
)

// CrossEncoder scores (premise, hypothesis) pairs with a single-logit ONNX model,
// e.g. an MS MARCO or NLI relevance head exported with output "logits".
// Scores are raw logits; callers normalize per batch.
type CrossEncoder struct {
	runner    *onnxRunner
	tokenizer Tokenizer
}

// NewCrossEncoder loads the model at modelPath.
func NewCrossEncoder(modelPath string, maxTokens int) (*CrossEncoder, error) {
	runner, err := newONNXRunner(modelPath, maxTokens, 1, "logits")
	if err != nil {
		return nil, err
	}
	return &CrossEncoder{runner: runner, tokenizer: &SimpleTokenizer{}}, nil
}

// Score returns one raw score per hypothesis against the same premise.
func (c *CrossEncoder) Score(ctx context.Context, premise string, hypotheses []string) ([]float64, error) {
	out := make([]float64, len(hypotheses))
	for i, h := range hypotheses {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ids, mask, types := c.tokenizer.TokenizePair(premise, h, c.runner.maxTokens)
		logits, err := c.runner.run(ids, mask, types)
		if err != nil {
			return nil, err
		}
		out[i] = float64(logits[0])
	}
	return out, nil
}

// Close destroys the session and tensors.
func (c *CrossEncoder) Close() error {
	return c.runner.destroy()
}
