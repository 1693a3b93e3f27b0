package classifier

import (
	"context"
	"errors"
	"image"
	"math"
	"testing"

	"github.com/example/leafscan/internal/imageprep"
	"github.com/example/leafscan/internal/inference"
	"github.com/example/leafscan/internal/labels"
)

type stubModel struct {
	scores []float32
	err    error
	last   *inference.Tensor
}

func (s *stubModel) Predict(ctx context.Context, input *inference.Tensor) ([]float32, error) {
	s.last = input
	if s.err != nil {
		return nil, s.err
	}
	return s.scores, nil
}

func (s *stubModel) Close() error { return nil }

var testSpec = imageprep.Spec{Size: 4, Layout: imageprep.NHWC, Scaling: imageprep.ScaleRaw}

func scoresFor(index int, p float32) []float32 {
	scores := make([]float32, labels.DiseaseCount)
	rest := (1 - p) / float32(len(scores)-1)
	for i := range scores {
		scores[i] = rest
	}
	scores[index] = p
	return scores
}

func grayImage() image.Image {
	img := image.NewGray(image.Rect(0, 0, 6, 6))
	for i := range img.Pix {
		img.Pix[i] = 130
	}
	return img
}

func TestClassifyPicksArgmaxLabel(t *testing.T) {
	model := &stubModel{scores: scoresFor(29, 0.82)}
	c := New(model, labels.Disease(), testSpec)

	pred, err := c.Classify(context.Background(), grayImage())
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if pred.Index != 29 || pred.Label != "Tomato : Early blight" {
		t.Fatalf("unexpected prediction %+v", pred)
	}
	if math.Abs(float64(pred.Confidence-0.82)) > 1e-6 {
		t.Fatalf("unexpected confidence %f", pred.Confidence)
	}
}

func TestClassifyFeedsWholePixelValues(t *testing.T) {
	model := &stubModel{scores: scoresFor(0, 0.9)}
	c := New(model, labels.Disease(), testSpec)

	if _, err := c.Classify(context.Background(), grayImage()); err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	for _, v := range model.last.Data {
		if v != 130 {
			t.Fatalf("expected raw pixel value 130, got %f", v)
		}
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	scores := make([]float32, labels.DiseaseCount)
	scores[5], scores[17] = 0.5, 0.5
	c := New(&stubModel{scores: scores}, labels.Disease(), testSpec)

	for i := 0; i < 5; i++ {
		pred, err := c.Classify(context.Background(), grayImage())
		if err != nil {
			t.Fatalf("Classify failed: %v", err)
		}
		if pred.Index != 5 {
			t.Fatalf("run %d picked %d, expected the first maximum 5", i, pred.Index)
		}
	}
}

func TestClassifyRejectsWrongScoreCount(t *testing.T) {
	c := New(&stubModel{scores: []float32{0.5, 0.5}}, labels.Disease(), testSpec)

	if _, err := c.Classify(context.Background(), grayImage()); err == nil {
		t.Fatal("expected error for wrong score count")
	}
}

func TestClassifyPropagatesModelError(t *testing.T) {
	boom := errors.New("inference failed")
	c := New(&stubModel{err: boom}, labels.Disease(), testSpec)

	if _, err := c.Classify(context.Background(), grayImage()); !errors.Is(err, boom) {
		t.Fatalf("expected model error, got %v", err)
	}
}
