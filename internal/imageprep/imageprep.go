// Package imageprep turns uploaded image files into model input tensors.
package imageprep

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"os"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/example/leafscan/internal/inference"
)

// Layout is the dimension order of the produced tensor.
type Layout string

const (
	NHWC Layout = "nhwc"
	NCHW Layout = "nchw"
)

// Scaling maps an 8-bit channel value into the model's input range.
type Scaling int

const (
	// ScaleMobileNet maps [0,255] to [-1,1].
	ScaleMobileNet Scaling = iota
	// ScaleRaw keeps whole pixel values in [0,255].
	ScaleRaw
)

// Spec is the input contract of one model.
type Spec struct {
	Size    int
	Layout  Layout
	Scaling Scaling
}

// Shape returns the batch-of-one tensor shape for the spec.
func (s Spec) Shape() []int64 {
	n := int64(s.Size)
	if s.Layout == NCHW {
		return []int64{1, 3, n, n}
	}
	return []int64{1, n, n, 3}
}

// DefaultMaxPixels matches the decompression bomb threshold of common imaging
// libraries.
const DefaultMaxPixels = 89_478_485

// ErrTooManyPixels is returned for images whose header declares more pixels
// than the decode budget allows.
var ErrTooManyPixels = errors.New("image exceeds pixel budget")

// Decode reads any registered image format (JPEG, PNG, GIF, BMP, TIFF, WebP).
// The header is checked against maxPixels before any pixel data is decoded;
// a non-positive maxPixels selects DefaultMaxPixels.
func Decode(r io.Reader, maxPixels int64) (image.Image, error) {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	var header bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(r, &header))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d is over %d pixels", ErrTooManyPixels, cfg.Width, cfg.Height, maxPixels)
	}

	img, err := imaging.Decode(io.MultiReader(&header, r))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// Open decodes the image stored at path within the maxPixels budget.
func Open(path string, maxPixels int64) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()
	return Decode(f, maxPixels)
}

// ToTensor resizes img to a square of spec.Size with nearest-neighbour
// sampling, ignoring aspect ratio, and lays its RGB channels out per spec.
func ToTensor(img image.Image, spec Spec) (*inference.Tensor, error) {
	if spec.Size <= 0 {
		return nil, fmt.Errorf("invalid target size %d", spec.Size)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("image has no pixels")
	}

	resized := imaging.Resize(img, spec.Size, spec.Size, imaging.NearestNeighbor)
	tensor := inference.NewTensor(spec.Shape()...)

	size := spec.Size
	plane := size * size
	for y := 0; y < size; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < size; x++ {
			px := row[x*4 : x*4+3]
			for c := 0; c < 3; c++ {
				v := scale(px[c], spec.Scaling)
				if spec.Layout == NCHW {
					tensor.Data[c*plane+y*size+x] = v
				} else {
					tensor.Data[(y*size+x)*3+c] = v
				}
			}
		}
	}
	return tensor, nil
}

func scale(v uint8, s Scaling) float32 {
	switch s {
	case ScaleRaw:
		return float32(v)
	default:
		return float32(v)/127.5 - 1
	}
}
