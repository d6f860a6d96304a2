package vision

import (
	"context"
	"fmt"
	"image"

	"github.com/your-org/enrollment/internal/models"
	"github.com/your-org/enrollment/internal/observability"
)

// DetectionOutcome reports what the detector found in a photo.
type DetectionOutcome struct {
	Found     bool
	Message   string
	Encodings []models.FaceEncoding
	Faces     []Detection
}

// FaceDetector filters engine detections by size and encodes each
// remaining face.
type FaceDetector struct {
	engine      FaceEngine
	minFaceSize int
}

func NewFaceDetector(engine FaceEngine, minFaceSize int) *FaceDetector {
	return &FaceDetector{engine: engine, minFaceSize: minFaceSize}
}

// Detect returns Found=false with a user-facing message when no usable face
// is present. Engine failures are returned as errors.
func (d *FaceDetector) Detect(ctx context.Context, img image.Image) (DetectionOutcome, error) {
	dets, err := d.engine.Locate(ctx, img)
	if err != nil {
		return DetectionOutcome{}, fmt.Errorf("locate faces: %w", err)
	}
	if len(dets) == 0 {
		return DetectionOutcome{Message: "No face found in the image. Please upload a clear photo of your face"}, nil
	}

	minSide := float32(d.minFaceSize)
	kept := make([]Detection, 0, len(dets))
	for _, det := range dets {
		if det.Width() >= minSide && det.Height() >= minSide {
			kept = append(kept, det)
		}
	}
	if len(kept) == 0 {
		return DetectionOutcome{
			Message: fmt.Sprintf("Face is too small. Faces must be at least %dx%d pixels", d.minFaceSize, d.minFaceSize),
		}, nil
	}

	encs := make([]models.FaceEncoding, 0, len(kept))
	for _, det := range kept {
		enc, err := d.engine.Encode(ctx, img, det)
		if err != nil {
			return DetectionOutcome{}, fmt.Errorf("encode face: %w", err)
		}
		encs = append(encs, enc)
	}

	observability.FacesDetected.Add(float64(len(kept)))

	msg := "Face detected"
	if len(kept) > 1 {
		msg = fmt.Sprintf("%d faces detected", len(kept))
	}
	return DetectionOutcome{Found: true, Message: msg, Encodings: encs, Faces: kept}, nil
}
