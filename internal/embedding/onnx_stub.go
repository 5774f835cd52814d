//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"errors"
)

var errNoCGO = errors.New("ONNX models require CGO; build with CGO_ENABLED=1 and onnxruntime")

// ONNXEmbedder stub type when built without CGO (see onnx.go for real implementation).
type ONNXEmbedder struct{ HashingEmbedder }

// NewONNXEmbedder returns an error when built without CGO.
func NewONNXEmbedder(_ string, _, _ int) (*ONNXEmbedder, error) {
	return nil, errNoCGO
}

// CrossEncoder stub type when built without CGO.
type CrossEncoder struct{}

// NewCrossEncoder returns an error when built without CGO.
func NewCrossEncoder(_ string, _ int) (*CrossEncoder, error) {
	return nil, errNoCGO
}

// Score is not available without CGO.
func (c *CrossEncoder) Score(context.Context, string, []string) ([]float64, error) {
	return nil, errNoCGO
}

// Close is a no-op.
func (c *CrossEncoder) Close() error { return nil }
