package vision

import (
	"context"
	"fmt"
	"image"

	"github.com/your-org/enrollment/internal/models"
	"github.com/your-org/enrollment/internal/storage"
)

// Fingerprint identifies an accepted photo for duplicate detection.
type Fingerprint struct {
	Encodings []models.FaceEncoding
	Hash      string
	Message   string
}

// Validator is the duplicate-detection strategy the pipeline runs after the
// integrity and quality stages. It is picked once at startup.
type Validator interface {
	Mode() models.ValidationMode
	Policy() QualityPolicy
	// Fingerprint returns a *ValidationError when the photo is unusable
	// (no face), any other error for internal failures.
	Fingerprint(ctx context.Context, img image.Image, data []byte) (Fingerprint, error)
	Duplicate(ctx context.Context, userID, label string, fp Fingerprint) error
	Remember(ctx context.Context, userID, label string, fp Fingerprint) error
	Lock(ctx context.Context, userID string) (func(), error)
	// Labels lists the labels the user already has a fingerprint under.
	Labels(ctx context.Context, userID string) ([]string, error)
	DeleteUser(ctx context.Context, userID string) error
}

func duplicateOf(match string) *ValidationError {
	return &ValidationError{
		Kind:        models.RejectDuplicate,
		Message:     fmt.Sprintf("This photo appears to show the same face as your image %q. Please upload a different photo", match),
		DuplicateOf: match,
	}
}

// FaceBasedValidator detects faces, rejects faces already stored for the
// user and records the new encodings.
type FaceBasedValidator struct {
	detector *FaceDetector
	store    storage.FaceEncodingStore
	dups     *DuplicateFaceChecker
}

func NewFaceBasedValidator(detector *FaceDetector, store storage.FaceEncodingStore, threshold float64) *FaceBasedValidator {
	return &FaceBasedValidator{
		detector: detector,
		store:    store,
		dups:     NewDuplicateFaceChecker(store, threshold),
	}
}

func (v *FaceBasedValidator) Mode() models.ValidationMode { return models.ModeFace }
func (v *FaceBasedValidator) Policy() QualityPolicy       { return FacePolicy }

func (v *FaceBasedValidator) Fingerprint(ctx context.Context, img image.Image, _ []byte) (Fingerprint, error) {
	out, err := v.detector.Detect(ctx, img)
	if err != nil {
		return Fingerprint{}, err
	}
	if !out.Found {
		return Fingerprint{}, reject(models.RejectNoFace, "%s", out.Message)
	}
	return Fingerprint{Encodings: out.Encodings, Message: out.Message}, nil
}

func (v *FaceBasedValidator) Duplicate(ctx context.Context, userID, label string, fp Fingerprint) error {
	match, found, err := v.dups.IsDuplicate(ctx, userID, label, fp.Encodings)
	if err != nil {
		return fmt.Errorf("check duplicate faces: %w", err)
	}
	if found {
		return duplicateOf(match)
	}
	return nil
}

func (v *FaceBasedValidator) Remember(ctx context.Context, userID, label string, fp Fingerprint) error {
	return v.store.SaveFaces(ctx, userID, label, fp.Encodings)
}

func (v *FaceBasedValidator) Lock(ctx context.Context, userID string) (func(), error) {
	return v.store.LockUser(ctx, userID)
}

func (v *FaceBasedValidator) Labels(ctx context.Context, userID string) ([]string, error) {
	rec, err := v.store.LoadFaces(ctx, userID)
	if err != nil {
		return nil, err
	}
	return sortedKeys(rec), nil
}

func (v *FaceBasedValidator) DeleteUser(ctx context.Context, userID string) error {
	return v.store.DeleteUser(ctx, userID)
}

// HashBasedValidator is the fallback when no face engine is available. It
// only catches byte-identical re-uploads.
type HashBasedValidator struct {
	store storage.HashStore
	dups  *HashDuplicateChecker
}

func NewHashBasedValidator(store storage.HashStore) *HashBasedValidator {
	return &HashBasedValidator{store: store, dups: NewHashDuplicateChecker(store)}
}

func (v *HashBasedValidator) Mode() models.ValidationMode { return models.ModeHash }
func (v *HashBasedValidator) Policy() QualityPolicy       { return HashPolicy }

func (v *HashBasedValidator) Fingerprint(_ context.Context, _ image.Image, data []byte) (Fingerprint, error) {
	return Fingerprint{
		Hash:    ContentHash(data),
		Message: "Face recognition unavailable; basic validation applied",
	}, nil
}

func (v *HashBasedValidator) Duplicate(ctx context.Context, userID, label string, fp Fingerprint) error {
	match, found, err := v.dups.IsDuplicate(ctx, userID, label, fp.Hash)
	if err != nil {
		return fmt.Errorf("check duplicate hashes: %w", err)
	}
	if found {
		return &ValidationError{
			Kind:        models.RejectDuplicate,
			Message:     fmt.Sprintf("This file was already uploaded as your image %q. Please upload a different photo", match),
			DuplicateOf: match,
		}
	}
	return nil
}

func (v *HashBasedValidator) Remember(ctx context.Context, userID, label string, fp Fingerprint) error {
	return v.store.SaveHash(ctx, userID, label, fp.Hash)
}

func (v *HashBasedValidator) Lock(ctx context.Context, userID string) (func(), error) {
	return v.store.LockUser(ctx, userID)
}

func (v *HashBasedValidator) Labels(ctx context.Context, userID string) ([]string, error) {
	rec, err := v.store.LoadHashes(ctx, userID)
	if err != nil {
		return nil, err
	}
	return sortedKeys(rec), nil
}

func (v *HashBasedValidator) DeleteUser(ctx context.Context, userID string) error {
	return v.store.DeleteUser(ctx, userID)
}
