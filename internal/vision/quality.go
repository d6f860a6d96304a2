package vision

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"github.com/your-org/enrollment/internal/models"
)

const (
	minAspectRatio = 0.5
	maxAspectRatio = 2.0
)

// QualityPolicy bounds brightness and contrast. Face-based validation
// measures luma; the hash fallback measures averaged RGB channels.
type QualityPolicy struct {
	Name          string
	UseLuma       bool
	MinBrightness float64
	MaxBrightness float64
	MinContrast   float64
}

var (
	FacePolicy = QualityPolicy{Name: "face", UseLuma: true, MinBrightness: 50, MaxBrightness: 200, MinContrast: 20}
	HashPolicy = QualityPolicy{Name: "hash", MinBrightness: 30, MaxBrightness: 220, MinContrast: 15}
)

// QualityAnalyzer measures decoded photos and applies minimum-size,
// aspect-ratio and exposure checks.
type QualityAnalyzer struct {
	minW int
	minH int
}

func NewQualityAnalyzer(minW, minH int) *QualityAnalyzer {
	return &QualityAnalyzer{minW: minW, minH: minH}
}

func (q *QualityAnalyzer) MinSize() (int, int) { return q.minW, q.minH }

// Analyze computes image statistics. Alpha is ignored.
func (q *QualityAnalyzer) Analyze(img image.Image) models.ImageQualityMetrics {
	src := imaging.Clone(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()

	m := models.ImageQualityMetrics{Width: w, Height: h}
	if w == 0 || h == 0 {
		return m
	}
	m.AspectRatio = float64(w) / float64(h)

	n := float64(w * h)
	var sum, sumSq [3]float64
	var lumaSum, lumaSq float64
	for i := 0; i+3 < len(src.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			v := float64(src.Pix[i+c])
			sum[c] += v
			sumSq[c] += v * v
		}
		l := luma(src.Pix[i], src.Pix[i+1], src.Pix[i+2])
		lumaSum += l
		lumaSq += l * l
	}

	var meanSum, stdSum float64
	for c := 0; c < 3; c++ {
		mean := sum[c] / n
		meanSum += mean
		stdSum += stddev(sumSq[c], mean, n)
	}
	m.BrightnessMean = meanSum / 3
	m.ContrastStdDev = stdSum / 3
	m.LumaMean = lumaSum / n
	m.LumaStdDev = stddev(lumaSq, m.LumaMean, n)
	return m
}

// Undersized reports whether img is below the configured minimum.
func (q *QualityAnalyzer) Undersized(img image.Image) bool {
	b := img.Bounds()
	return b.Dx() < q.minW || b.Dy() < q.minH
}

// Check rejects images that are too small, oddly proportioned, too dark,
// too bright or too flat for the given policy. The computed metrics are
// returned either way.
func (q *QualityAnalyzer) Check(img image.Image, policy QualityPolicy) (models.ImageQualityMetrics, error) {
	m := q.Analyze(img)
	if q.Undersized(img) {
		return m, reject(models.RejectQuality, "Image is too small (%dx%d). Minimum size is %dx%d pixels",
			m.Width, m.Height, q.minW, q.minH)
	}
	if m.AspectRatio < minAspectRatio || m.AspectRatio > maxAspectRatio {
		return m, reject(models.RejectQuality, "Image aspect ratio %.2f is not supported. Please upload a standard photo", m.AspectRatio)
	}

	brightness, contrast := m.BrightnessMean, m.ContrastStdDev
	if policy.UseLuma {
		brightness, contrast = m.LumaMean, m.LumaStdDev
	}
	switch {
	case brightness < policy.MinBrightness:
		return m, reject(models.RejectQuality, "Image is too dark. Please use better lighting")
	case brightness > policy.MaxBrightness:
		return m, reject(models.RejectQuality, "Image is too bright or overexposed")
	case contrast < policy.MinContrast:
		return m, reject(models.RejectQuality, "Image contrast is too low. Please upload a clearer photo")
	}
	return m, nil
}

// PadToMinimum places img at the top-left of a white canvas at least
// minW x minH in size. Transparent areas are flattened onto white.
func PadToMinimum(img image.Image, minW, minH int) *image.NRGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < minW {
		w = minW
	}
	if h < minH {
		h = minH
	}
	canvas := imaging.New(w, h, color.White)
	return imaging.Overlay(canvas, img, image.Pt(0, 0), 1.0)
}

func luma(r, g, b uint8) float64 {
	return 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
}

func stddev(sumSq, mean, n float64) float64 {
	v := sumSq/n - mean*mean
	if v < 0 {
		return 0
	}
	return math.Sqrt(v)
}
