package imageprep

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func solidImage(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestSpecShape(t *testing.T) {
	if got := (Spec{Size: 224, Layout: NHWC}).Shape(); !slices.Equal(got, []int64{1, 224, 224, 3}) {
		t.Fatalf("unexpected NHWC shape %v", got)
	}
	if got := (Spec{Size: 32, Layout: NCHW}).Shape(); !slices.Equal(got, []int64{1, 3, 32, 32}) {
		t.Fatalf("unexpected NCHW shape %v", got)
	}
}

func TestToTensorMobileNetScaling(t *testing.T) {
	img := solidImage(10, 6, color.NRGBA{R: 255, G: 0, B: 51, A: 255})

	tensor, err := ToTensor(img, Spec{Size: 4, Layout: NHWC, Scaling: ScaleMobileNet})
	if err != nil {
		t.Fatalf("ToTensor failed: %v", err)
	}
	if err := tensor.Validate(); err != nil {
		t.Fatalf("invalid tensor: %v", err)
	}

	want := []float32{1, -1, 51/127.5 - 1}
	for c, w := range want {
		if got := tensor.Data[c]; math.Abs(float64(got-w)) > 1e-6 {
			t.Errorf("channel %d: got %f, want %f", c, got, w)
		}
	}
	for _, v := range tensor.Data {
		if v < -1 || v > 1 {
			t.Fatalf("value %f outside [-1,1]", v)
		}
	}
}

func TestToTensorRawScalingKeepsWholeValues(t *testing.T) {
	img := solidImage(3, 3, color.NRGBA{R: 12, G: 200, B: 7, A: 255})

	tensor, err := ToTensor(img, Spec{Size: 2, Layout: NHWC, Scaling: ScaleRaw})
	if err != nil {
		t.Fatalf("ToTensor failed: %v", err)
	}
	for i, v := range tensor.Data {
		if v != float32(math.Trunc(float64(v))) {
			t.Fatalf("value %d = %f is not a whole number", i, v)
		}
	}
	if tensor.Data[0] != 12 || tensor.Data[1] != 200 || tensor.Data[2] != 7 {
		t.Fatalf("unexpected first pixel %v", tensor.Data[:3])
	}
}

func TestToTensorNCHWLayout(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 1, G: 2, B: 3, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{R: 4, G: 5, B: 6, A: 255})

	tensor, err := ToTensor(img, Spec{Size: 2, Layout: NCHW, Scaling: ScaleRaw})
	if err != nil {
		t.Fatalf("ToTensor failed: %v", err)
	}
	// Planes are 2x2; the top row holds the two source pixels.
	if tensor.Data[0] != 1 || tensor.Data[1] != 4 {
		t.Fatalf("unexpected red plane %v", tensor.Data[0:4])
	}
	if tensor.Data[4] != 2 || tensor.Data[5] != 5 {
		t.Fatalf("unexpected green plane %v", tensor.Data[4:8])
	}
	if tensor.Data[8] != 3 || tensor.Data[9] != 6 {
		t.Fatalf("unexpected blue plane %v", tensor.Data[8:12])
	}
}

func TestToTensorRejectsBadSize(t *testing.T) {
	if _, err := ToTensor(solidImage(2, 2, color.NRGBA{A: 255}), Spec{Size: 0}); err == nil {
		t.Fatal("expected error for zero size")
	}
}

func TestDecode(t *testing.T) {
	data := encodePNG(t, solidImage(5, 7, color.NRGBA{G: 255, A: 255}))

	img, err := Decode(bytes.NewReader(data), 0)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 5 || b.Dy() != 7 {
		t.Fatalf("unexpected bounds %v", b)
	}

	if _, err := Decode(bytes.NewReader([]byte("definitely not an image")), 0); err == nil {
		t.Fatal("expected decode error for corrupt bytes")
	}
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leaf.png")
	if err := os.WriteFile(path, encodePNG(t, solidImage(2, 2, color.NRGBA{A: 255})), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	if _, err := Open(path, 0); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := Open(filepath.Join(t.TempDir(), "missing.png"), 0); err == nil {
		t.Fatal("expected error for missing file")
	}
}

// pngHeader returns a PNG signature and IHDR chunk declaring an RGB image of
// the given size, without any pixel data.
func pngHeader(width, height uint32) []byte {
	var ihdr [13]byte
	binary.BigEndian.PutUint32(ihdr[0:4], width)
	binary.BigEndian.PutUint32(ihdr[4:8], height)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 2 // truecolour

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr[:]...)
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestDecodeRejectsImagesOverPixelBudget(t *testing.T) {
	_, err := Decode(bytes.NewReader(pngHeader(12000, 12000)), 0)
	if !errors.Is(err, ErrTooManyPixels) {
		t.Fatalf("expected ErrTooManyPixels for 12000x12000, got %v", err)
	}

	data := encodePNG(t, solidImage(10, 10, color.NRGBA{A: 255}))
	if _, err := Decode(bytes.NewReader(data), 99); !errors.Is(err, ErrTooManyPixels) {
		t.Fatalf("expected ErrTooManyPixels for a 100 pixel image over a 99 pixel budget, got %v", err)
	}
	img, err := Decode(bytes.NewReader(data), 100)
	if err != nil {
		t.Fatalf("expected image at the budget to decode, got %v", err)
	}
	if b := img.Bounds(); b.Dx() != 10 || b.Dy() != 10 {
		t.Fatalf("unexpected bounds %v", b)
	}
}
