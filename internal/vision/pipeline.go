package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/disintegration/imaging"

	"github.com/your-org/enrollment/internal/models"
	"github.com/your-org/enrollment/internal/observability"
	"github.com/your-org/enrollment/internal/storage"
)

// Pipeline orchestrates photo validation:
// integrity → quality (→ pad) → fingerprint → duplicate check → remember.
type Pipeline struct {
	integrity     *IntegrityChecker
	quality       *QualityAnalyzer
	validator     Validator
	padUndersized bool
}

// NewPipeline wires the stages. padUndersized enables padding of undersized
// photos instead of rejecting them; it is meant for development only.
func NewPipeline(integrity *IntegrityChecker, quality *QualityAnalyzer, validator Validator, padUndersized bool) *Pipeline {
	return &Pipeline{
		integrity:     integrity,
		quality:       quality,
		validator:     validator,
		padUndersized: padUndersized,
	}
}

func (p *Pipeline) Mode() models.ValidationMode { return p.validator.Mode() }

func (p *Pipeline) Validator() Validator { return p.validator }

// Validate runs every stage for one uploaded photo and records its
// fingerprint under label when accepted. An empty label is replaced by the
// next free image_<n> for the user, reported in the result. It never returns
// an error and never panics: internal failures become a rejected result.
func (p *Pipeline) Validate(ctx context.Context, upload models.UploadCandidate, userID, label string) models.ValidationResult {
	return p.run(ctx, upload, userID, label, true)
}

// Check is Validate without recording anything, for checking a photo as
// soon as it is selected.
func (p *Pipeline) Check(ctx context.Context, upload models.UploadCandidate, userID, label string) models.ValidationResult {
	return p.run(ctx, upload, userID, label, false)
}

func (p *Pipeline) run(ctx context.Context, upload models.UploadCandidate, userID, label string, remember bool) (res models.ValidationResult) {
	start := time.Now()
	res.Mode = p.Mode()
	res.Label = label

	defer func() {
		if r := recover(); r != nil {
			slog.Error("validation panic", "user_id", userID, "label", res.Label, "panic", r, "stack", string(debug.Stack()))
			res = p.rejected(&ValidationError{Kind: models.RejectInternal, Message: genericFailure}, res)
		}
		p.record(userID, res, time.Since(start))
	}()

	var err error
	res, err = p.validate(ctx, upload, userID, label, remember, res)
	if err != nil {
		ve := AsValidationError(err)
		if ve.Kind == models.RejectInternal {
			slog.Error("validation failed", "user_id", userID, "label", res.Label, "error", err)
		}
		return p.rejected(ve, res)
	}
	return res
}

func (p *Pipeline) validate(ctx context.Context, upload models.UploadCandidate, userID, label string, remember bool, res models.ValidationResult) (models.ValidationResult, error) {
	if err := storage.ValidateUserID(userID); err != nil {
		return res, fmt.Errorf("user %q: %w", userID, err)
	}

	stage := time.Now()
	img, format, err := p.integrity.CheckPhoto(upload.Data, upload.Extension())
	if err != nil {
		return res, err
	}
	observability.StageDuration.WithLabelValues("integrity").Observe(time.Since(stage).Seconds())

	stage = time.Now()
	data := upload.Data
	if p.padUndersized && p.quality.Undersized(img) {
		minW, minH := p.quality.MinSize()
		padded := PadToMinimum(img, minW, minH)
		encoded, err := EncodeHighFidelity(padded, format)
		if err != nil {
			return res, fmt.Errorf("encode padded image: %w", err)
		}
		slog.Warn("padded undersized photo", "user_id", userID, "label", label,
			"from", fmt.Sprintf("%dx%d", img.Bounds().Dx(), img.Bounds().Dy()),
			"to", fmt.Sprintf("%dx%d", padded.Bounds().Dx(), padded.Bounds().Dy()))
		img, data = padded, encoded
		res.Adjusted = true
	}
	metrics, err := p.quality.Check(img, p.validator.Policy())
	res.Metrics = &metrics
	if err != nil {
		return res, err
	}
	observability.StageDuration.WithLabelValues("quality").Observe(time.Since(stage).Seconds())

	fp, err := p.validator.Fingerprint(ctx, img, data)
	if err != nil {
		return res, err
	}
	res.Encodings = fp.Encodings
	res.ContentHash = fp.Hash

	stage = time.Now()
	unlock, err := p.validator.Lock(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("lock user: %w", err)
	}
	defer unlock()

	if label == "" {
		if label, err = p.nextLabel(ctx, userID); err != nil {
			return res, fmt.Errorf("assign label: %w", err)
		}
		res.Label = label
	}
	if err := p.validator.Duplicate(ctx, userID, label, fp); err != nil {
		return res, err
	}
	if remember {
		if err := p.validator.Remember(ctx, userID, label, fp); err != nil {
			return res, fmt.Errorf("save fingerprint: %w", err)
		}
	}
	observability.StageDuration.WithLabelValues("duplicate").Observe(time.Since(stage).Seconds())

	res.Accepted = true
	res.Data = data
	res.Reason = "Photo validated successfully"
	if res.Mode == models.ModeHash {
		res.Reason = "Photo accepted. " + fp.Message
	}
	if res.Adjusted {
		res.Reason += fmt.Sprintf(" (image was padded to the minimum size of %dx%d)", p.quality.minW, p.quality.minH)
	}
	return res, nil
}

// nextLabel picks the first free image_<n>, counting up from the number of
// labels on record. The caller holds the user lock.
func (p *Pipeline) nextLabel(ctx context.Context, userID string) (string, error) {
	labels, err := p.validator.Labels(ctx, userID)
	if err != nil {
		return "", err
	}
	taken := make(map[string]bool, len(labels))
	for _, l := range labels {
		taken[l] = true
	}
	for n := len(labels) + 1; ; n++ {
		if l := fmt.Sprintf("image_%d", n); !taken[l] {
			return l, nil
		}
	}
}

// ValidateDocument applies the integrity stage only.
func (p *Pipeline) ValidateDocument(upload models.UploadCandidate) models.ValidationResult {
	res := models.ValidationResult{Mode: p.Mode()}
	if err := p.integrity.Check(upload.Data, upload.Extension(), models.FileKindDocument); err != nil {
		return p.rejected(AsValidationError(err), res)
	}
	res.Accepted = true
	res.Reason = "Document accepted"
	res.Data = upload.Data
	return res
}

func (p *Pipeline) rejected(ve *ValidationError, res models.ValidationResult) models.ValidationResult {
	res.Accepted = false
	res.Kind = ve.Kind
	res.Reason = ve.Message
	res.DuplicateOf = ve.DuplicateOf
	res.Encodings = nil
	res.Data = nil
	return res
}

func (p *Pipeline) record(userID string, res models.ValidationResult, took time.Duration) {
	outcome := "accepted"
	if !res.Accepted {
		outcome = string(res.Kind)
	}
	observability.ValidationsTotal.WithLabelValues(string(res.Mode), outcome).Inc()
	slog.Info("photo validated",
		"user_id", userID,
		"label", res.Label,
		"mode", res.Mode,
		"outcome", outcome,
		"faces", len(res.Encodings),
		"adjusted", res.Adjusted,
		"duration_ms", took.Milliseconds(),
	)
}

// EncodeHighFidelity re-encodes img losslessly where the format allows and
// at maximum JPEG quality otherwise. WebP has no encoder and becomes PNG.
func EncodeHighFidelity(img image.Image, format string) ([]byte, error) {
	f := imaging.PNG
	switch format {
	case "jpeg":
		f = imaging.JPEG
	case "bmp":
		f = imaging.BMP
	case "tiff":
		f = imaging.TIFF
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, f, imaging.JPEGQuality(100)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
