// Package leafgate screens uploads with a generic image classifier: an image
// counts as a leaf when one of its top predicted labels mentions the keyword.
package leafgate

import (
	"context"
	"fmt"
	"image"
	"strings"

	"go.uber.org/zap"

	"github.com/example/leafscan/internal/imageprep"
	"github.com/example/leafscan/internal/inference"
	"github.com/example/leafscan/internal/labels"
)

// Candidate is one of the generic classifier's top predictions.
type Candidate struct {
	Index int
	Label string
	Score float32
}

// Verdict is the gate's decision together with the labels it was based on.
type Verdict struct {
	LeafDetected bool
	Candidates   []Candidate
}

// Options tunes the heuristic.
type Options struct {
	TopK    int
	Keyword string
}

// Gate runs the generic classifier and applies the keyword heuristic.
type Gate struct {
	model   inference.Model
	labels  labels.Table
	spec    imageprep.Spec
	topK    int
	keyword string
	logger  *zap.Logger
}

// New builds a gate. Zero options fall back to the top 3 labels and "leaf".
func New(model inference.Model, table labels.Table, spec imageprep.Spec, opts Options, logger *zap.Logger) *Gate {
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	if opts.Keyword == "" {
		opts.Keyword = "leaf"
	}
	return &Gate{
		model:   model,
		labels:  table,
		spec:    spec,
		topK:    opts.TopK,
		keyword: strings.ToLower(opts.Keyword),
		logger:  logger.Named("leafgate"),
	}
}

// Inspect classifies img and reports whether any top label contains the keyword.
func (g *Gate) Inspect(ctx context.Context, img image.Image) (*Verdict, error) {
	input, err := imageprep.ToTensor(img, g.spec)
	if err != nil {
		return nil, err
	}

	scores, err := g.model.Predict(ctx, input)
	if err != nil {
		return nil, err
	}
	if len(scores) != g.labels.Len() {
		return nil, fmt.Errorf("generic classifier returned %d scores for %d labels", len(scores), g.labels.Len())
	}

	verdict := &Verdict{}
	for rank, idx := range inference.TopK(scores, g.topK) {
		label, _ := g.labels.Label(idx)
		verdict.Candidates = append(verdict.Candidates, Candidate{Index: idx, Label: label, Score: scores[idx]})
		g.logger.Debug("generic prediction",
			zap.Int("rank", rank+1),
			zap.String("label", label),
			zap.Float32("score", scores[idx]))

		if strings.Contains(strings.ToLower(label), g.keyword) {
			verdict.LeafDetected = true
		}
	}
	return verdict, nil
}
