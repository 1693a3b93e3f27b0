// Package classifier maps a leaf image to a plant species and condition.
package classifier

import (
	"context"
	"fmt"
	"image"

	"github.com/example/leafscan/internal/imageprep"
	"github.com/example/leafscan/internal/inference"
	"github.com/example/leafscan/internal/labels"
)

// Prediction is the most probable class.
type Prediction struct {
	Index      int
	Label      string
	Confidence float32
}

// Classifier runs the disease model.
type Classifier struct {
	model  inference.Model
	labels labels.Table
	spec   imageprep.Spec
}

// New builds a classifier. The model must emit one score per table entry.
func New(model inference.Model, table labels.Table, spec imageprep.Spec) *Classifier {
	return &Classifier{model: model, labels: table, spec: spec}
}

// Classify returns the highest scoring label for img.
func (c *Classifier) Classify(ctx context.Context, img image.Image) (*Prediction, error) {
	input, err := imageprep.ToTensor(img, c.spec)
	if err != nil {
		return nil, err
	}

	scores, err := c.model.Predict(ctx, input)
	if err != nil {
		return nil, err
	}
	if len(scores) != c.labels.Len() {
		return nil, fmt.Errorf("disease model returned %d scores, expected %d", len(scores), c.labels.Len())
	}

	best := inference.Argmax(scores)
	label, _ := c.labels.Label(best)
	return &Prediction{Index: best, Label: label, Confidence: scores[best]}, nil
}
