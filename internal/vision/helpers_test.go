package vision

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/your-org/enrollment/internal/config"
	"github.com/your-org/enrollment/internal/models"
)

// checker returns a w x h gray image alternating lo and hi per pixel, so the
// mean is (lo+hi)/2 and the standard deviation is (hi-lo)/2.
func checker(w, h int, lo, hi uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := lo
			if (x+y)%2 == 1 {
				v = hi
			}
			img.Set(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func pngUpload(t *testing.T, img image.Image) models.UploadCandidate {
	t.Helper()
	return models.UploadCandidate{Data: encodePNG(t, img), Filename: "photo.png", ContentType: "image/png"}
}

func testUploadsConfig() config.UploadsConfig {
	return config.UploadsConfig{
		AllowedPhotoExtensions:    []string{"jpg", "jpeg", "png", "bmp", "tiff", "webp"},
		AllowedDocumentExtensions: []string{"pdf", "jpg", "jpeg", "png"},
		MaxPhotoSize:              15 << 20,
		MaxDocumentSize:           10 << 20,
		MaxPixels:                 config.DefaultMaxPixels,
	}
}

// fakeEngine identifies a "person" by the red value of the top-left pixel.
// Unknown values produce no detection.
type fakeEngine struct {
	mu        sync.Mutex
	faces     map[uint8]models.FaceEncoding
	box       [4]float32
	locateErr error
	panicMsg  string
	calls     int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		faces: map[uint8]models.FaceEncoding{},
		box:   [4]float32{10, 10, 110, 110},
	}
}

func (e *fakeEngine) Locate(_ context.Context, img image.Image) ([]Detection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.panicMsg != "" {
		panic(e.panicMsg)
	}
	if e.locateErr != nil {
		return nil, e.locateErr
	}
	r, _, _, _ := img.At(img.Bounds().Min.X, img.Bounds().Min.Y).RGBA()
	if _, ok := e.faces[uint8(r>>8)]; !ok {
		return nil, nil
	}
	return []Detection{{BBox: e.box, Confidence: 0.99}}, nil
}

func (e *fakeEngine) Encode(_ context.Context, img image.Image, _ Detection) (models.FaceEncoding, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, _, _, _ := img.At(img.Bounds().Min.X, img.Bounds().Min.Y).RGBA()
	return e.faces[uint8(r>>8)].Clone(), nil
}

func (e *fakeEngine) Close() error { return nil }

// vec builds a small encoding; distances between vec(a) and vec(b) equal |a-b|.
func vec(x float32) models.FaceEncoding {
	return models.FaceEncoding{x, 0, 0, 0}
}
