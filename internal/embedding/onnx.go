//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// onnxRunner owns a BERT-style session with pre-allocated tensors. Run is serialized.
type onnxRunner struct {
	session             *ort.AdvancedSession
	maxTokens           int
	outputLen           int
	inputIDsTensor      *ort.Tensor[int64]
	attentionMaskTensor *ort.Tensor[int64]
	tokenTypeIDsTensor  *ort.Tensor[int64]
	outputTensor        *ort.Tensor[float32]
	mu                  sync.Mutex
}

func newONNXRunner(modelPath string, maxTokens, outputLen int, outputName string) (*onnxRunner, error) {
	if err := initONNX(); err != nil {
		return nil, err
	}
	r := &onnxRunner{maxTokens: maxTokens, outputLen: outputLen}
	shape := ort.NewShape(1, int64(maxTokens))
	var err error
	if r.inputIDsTensor, err = ort.NewEmptyTensor[int64](shape); err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	if r.attentionMaskTensor, err = ort.NewEmptyTensor[int64](shape); err != nil {
		r.destroy()
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	if r.tokenTypeIDsTensor, err = ort.NewEmptyTensor[int64](shape); err != nil {
		r.destroy()
		return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	if r.outputTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(outputLen))); err != nil {
		r.destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	r.session, err = ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{outputName},
		[]ort.ArbitraryTensor{r.inputIDsTensor, r.attentionMaskTensor, r.tokenTypeIDsTensor},
		[]ort.ArbitraryTensor{r.outputTensor},
		nil,
	)
	if err != nil {
		r.destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return r, nil
}

var (
	onnxInitOnce sync.Once
	onnxInitErr  error
)

func initONNX() error {
	onnxInitOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}
		if err := ort.InitializeEnvironment(); err != nil {
			onnxInitErr = fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	})
	return onnxInitErr
}

// run copies the token tensors in, runs inference, and returns a copy of the output.
func (r *onnxRunner) run(inputIDs, attentionMask, tokenTypeIDs []int64) ([]float32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copy(r.inputIDsTensor.GetData(), inputIDs)
	copy(r.attentionMaskTensor.GetData(), attentionMask)
	copy(r.tokenTypeIDsTensor.GetData(), tokenTypeIDs)
	if err := r.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	out := make([]float32, r.outputLen)
	copy(out, r.outputTensor.GetData())
	return out, nil
}

func (r *onnxRunner) destroy() error {
	var err error
	if r.session != nil {
		err = r.session.Destroy()
		r.session = nil
	}
	if r.inputIDsTensor != nil {
		_ = r.inputIDsTensor.Destroy()
	}
	if r.attentionMaskTensor != nil {
		_ = r.attentionMaskTensor.Destroy()
	}
	if r.tokenTypeIDsTensor != nil {
		_ = r.tokenTypeIDsTensor.Destroy()
	}
	if r.outputTensor != nil {
		_ = r.outputTensor.Destroy()
	}
	r.inputIDsTensor, r.attentionMaskTensor, r.tokenTypeIDsTensor, r.outputTensor = nil, nil, nil, nil
	return err
}

// ONNXEmbedder runs a sentence-embedding model exported with a pooled "output" tensor.
type ONNXEmbedder struct {
	runner     *onnxRunner
	dimensions int
	tokenizer  Tokenizer
}

// NewONNXEmbedder loads the model at modelPath.
func NewONNXEmbedder(modelPath string, dimensions, maxTokens int) (*ONNXEmbedder, error) {
	runner, err := newONNXRunner(modelPath, maxTokens, dimensions, "output")
	if err != nil {
		return nil, err
	}
	return &ONNXEmbedder{runner: runner, dimensions: dimensions, tokenizer: &SimpleTokenizer{}}, nil
}

// Embed returns the normalized embedding for text.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ids, mask, types := e.tokenizer.Tokenize(text, e.runner.maxTokens)
	emb, err := e.runner.run(ids, mask, types)
	if err != nil {
		return nil, err
	}
	NormalizeL2Slice(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// Close destroys the session and tensors.
func (e *ONNXEmbedder) Close() error {
	return e.runner.destroy()
}
