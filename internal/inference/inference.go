// Package inference defines the model abstraction shared by the leaf gate and
// the disease classifier, plus an in-process ONNX Runtime backend.
package inference

import (
	"context"
	"fmt"
	"sort"
)

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// NewTensor allocates a zeroed tensor of the given shape.
func NewTensor(shape ...int64) *Tensor {
	return &Tensor{Shape: append([]int64(nil), shape...), Data: make([]float32, elements(shape))}
}

// Validate checks that the data length matches the shape.
func (t *Tensor) Validate() error {
	if t == nil {
		return fmt.Errorf("nil tensor")
	}
	if want := elements(t.Shape); int64(len(t.Data)) != want {
		return fmt.Errorf("tensor shape %v needs %d values, got %d", t.Shape, want, len(t.Data))
	}
	return nil
}

func elements(shape []int64) int64 {
	if len(shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}

// Model runs a forward pass and returns the scores of the single image in the
// batch. Implementations must be safe for concurrent use.
type Model interface {
	Predict(ctx context.Context, input *Tensor) ([]float32, error)
	Close() error
}

// Argmax returns the index of the highest score. The first maximum wins.
func Argmax(scores []float32) int {
	if len(scores) == 0 {
		return -1
	}
	best := 0
	for i, s := range scores {
		if s > scores[best] {
			best = i
		}
	}
	return best
}

// TopK returns the indices of the k highest scores, best first. Equal scores
// keep index order.
func TopK(scores []float32, k int) []int {
	if k > len(scores) {
		k = len(scores)
	}
	if k <= 0 {
		return nil
	}
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] > scores[idx[b]]
	})
	return idx[:k]
}
