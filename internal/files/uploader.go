package files

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/enrollment/internal/models"
	"github.com/your-org/enrollment/internal/observability"
	"github.com/your-org/enrollment/internal/vision"
)

const DefaultCategory = "applications"

const storeFailure = "File could not be saved. Please try again."

// EventPublisher receives every validation decision.
type EventPublisher interface {
	PublishValidation(ctx context.Context, ev models.ValidationEvent) error
}

// RecordDeleter removes a user's face and hash records.
type RecordDeleter interface {
	DeleteUser(ctx context.Context, userID string) error
}

// UploadRequest is one file submitted by a user.
type UploadRequest struct {
	UserID   string
	Label    string
	Category string
	Kind     models.FileKind
	Upload   models.UploadCandidate
}

// UploadResult is the validation outcome plus where the file was stored.
type UploadResult struct {
	models.ValidationResult
	Path string `json:"path,omitempty"`
}

// Uploader validates uploads and stores the accepted ones.
type Uploader struct {
	pipeline *vision.Pipeline
	files    *Service
	records  RecordDeleter
	events   EventPublisher
}

// NewUploader builds an Uploader. events may be nil.
func NewUploader(pipeline *vision.Pipeline, files *Service, records RecordDeleter, events EventPublisher) *Uploader {
	return &Uploader{pipeline: pipeline, files: files, records: records, events: events}
}

func (u *Uploader) Pipeline() *vision.Pipeline { return u.pipeline }

func (u *Uploader) Files() *Service { return u.files }

// SaveUploadedFile validates req and, when accepted, stores the file. A
// rejected upload is not an error; a storage failure after acceptance is.
// Photos without a label get the next free image_<n> from the pipeline.
func (u *Uploader) SaveUploadedFile(ctx context.Context, req UploadRequest) (UploadResult, error) {
	if req.Category == "" {
		req.Category = DefaultCategory
	}
	if req.Kind == "" {
		req.Kind = models.FileKindPhoto
	}

	var res models.ValidationResult
	if req.Kind == models.FileKindDocument {
		res = u.pipeline.ValidateDocument(req.Upload)
		res.Label = req.Label
		if res.Label == "" {
			res.Label = "document_" + uuid.NewString()[:8]
		}
	} else {
		res = u.pipeline.Validate(ctx, req.Upload, req.UserID, req.Label)
	}
	out := UploadResult{ValidationResult: res}

	if !res.Accepted {
		u.publish(ctx, req, out)
		return out, nil
	}

	key, err := u.files.Persist(ctx, req.Category, req.UserID, res.Data)
	if err != nil {
		slog.Error("store accepted upload", "user_id", req.UserID, "label", out.Label, "error", err)
		// The fingerprint stays recorded under out.Label; retrying with that
		// label replaces it instead of being rejected as a duplicate.
		out.Accepted = false
		out.Kind = models.RejectInternal
		out.Reason = storeFailure
		out.Data = nil
		return out, fmt.Errorf("save uploaded file: %w", err)
	}
	out.Path = key
	u.publish(ctx, req, out)
	return out, nil
}

func (u *Uploader) publish(ctx context.Context, req UploadRequest, out UploadResult) {
	if u.events == nil {
		return
	}
	ev := models.NewValidationEvent(req.UserID, out.Label, out.ValidationResult)
	ev.StoredPath = out.Path
	if err := u.events.PublishValidation(ctx, ev); err != nil {
		observability.EventsPublishFailed.Inc()
		slog.Warn("publish validation event", "user_id", req.UserID, "error", err)
	}
}

// PurgeUser deletes the user's face records, hash records and stored files.
func (u *Uploader) PurgeUser(ctx context.Context, userID string) (int, error) {
	return PurgeUser(ctx, u.records, u.files, userID)
}

// PurgeUser removes records and files concurrently and returns how many
// files were deleted.
func PurgeUser(ctx context.Context, records RecordDeleter, svc *Service, userID string) (int, error) {
	var removed int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := records.DeleteUser(gctx, userID); err != nil {
			return fmt.Errorf("delete records: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		n, err := svc.DeleteUser(gctx, userID)
		removed = n
		if err != nil {
			return fmt.Errorf("delete files: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return removed, err
	}
	slog.Info("user purged", "user_id", userID, "files", removed)
	return removed, nil
}
