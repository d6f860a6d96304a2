package files

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io/fs"
	"log/slog"
	"path"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/your-org/enrollment/internal/models"
	"github.com/your-org/enrollment/internal/observability"
	"github.com/your-org/enrollment/internal/storage"
	"github.com/your-org/enrollment/internal/vision"
)

var ErrInvalidPath = errors.New("invalid file path")

// Service stores accepted files under "<category>/<user_id>/<uuid>.<ext>".
type Service struct {
	objects storage.ObjectStore
}

func NewService(objects storage.ObjectStore) *Service {
	return &Service{objects: objects}
}

func validSegment(s string) bool {
	return s != "" && storage.ValidateUserID(s) == nil
}

// ParseKey splits a stored path into its parts, rejecting anything that is
// not exactly category/user/name or that tries to leave the storage root.
func ParseKey(key string) (category, userID, name string, err error) {
	if !fs.ValidPath(key) || strings.Contains(key, "\\") {
		return "", "", "", ErrInvalidPath
	}
	parts := strings.Split(key, "/")
	if len(parts) != 3 || !validSegment(parts[0]) || !validSegment(parts[1]) || parts[2] == "" {
		return "", "", "", ErrInvalidPath
	}
	return parts[0], parts[1], parts[2], nil
}

// Persist writes data for userID under category and returns its path.
// Images are re-encoded at full fidelity with transparency flattened onto
// white; WebP, PDF and anything that fails to re-encode are stored as is.
func (s *Service) Persist(ctx context.Context, category, userID string, data []byte) (string, error) {
	if !validSegment(category) {
		return "", fmt.Errorf("category %q: %w", category, ErrInvalidPath)
	}
	if err := storage.ValidateUserID(userID); err != nil {
		return "", err
	}

	payload, mt := prepare(data)
	ext := strings.TrimPrefix(mt.Extension(), ".")
	if ext == "" {
		ext = "bin"
	}
	key := path.Join(category, userID, uuid.NewString()+"."+ext)

	if err := s.objects.PutObject(ctx, key, payload, mt.String()); err != nil {
		return "", fmt.Errorf("persist file: %w", err)
	}
	observability.UploadsStored.WithLabelValues(category).Inc()
	return key, nil
}

// prepare returns the bytes to store and their detected type.
func prepare(data []byte) ([]byte, *mimetype.MIME) {
	mt := mimetype.Detect(data)

	var format string
	switch {
	case mt.Is("image/jpeg"):
		format = "jpeg"
	case mt.Is("image/png"):
		format = "png"
	case mt.Is("image/bmp"):
		format = "bmp"
	case mt.Is("image/tiff"):
		format = "tiff"
	default:
		return data, mt
	}

	img, _, err := vision.DecodePhoto(data)
	if err != nil {
		slog.Warn("store original bytes: decode failed", "error", err)
		return data, mt
	}
	b := img.Bounds()
	flat := imaging.Overlay(imaging.New(b.Dx(), b.Dy(), color.White), img, image.Pt(0, 0), 1.0)

	out, err := vision.EncodeHighFidelity(flat, format)
	if err != nil {
		slog.Warn("store original bytes: re-encode failed", "error", err)
		return data, mt
	}
	return out, mt
}

// Open returns the content of a stored file and its MIME type.
func (s *Service) Open(ctx context.Context, key string) ([]byte, string, error) {
	if _, _, _, err := ParseKey(key); err != nil {
		return nil, "", err
	}
	data, err := s.objects.GetObject(ctx, key)
	if err != nil {
		return nil, "", err
	}
	return data, mimetype.Detect(data).String(), nil
}

// Move relocates a stored file to another category for the same user and
// returns the new path.
func (s *Service) Move(ctx context.Context, key, category string) (string, error) {
	_, userID, name, err := ParseKey(key)
	if err != nil {
		return "", err
	}
	if !validSegment(category) {
		return "", fmt.Errorf("category %q: %w", category, ErrInvalidPath)
	}
	dst := path.Join(category, userID, name)
	if dst == key {
		return key, nil
	}

	data, err := s.objects.GetObject(ctx, key)
	if err != nil {
		return "", err
	}
	if err := s.objects.PutObject(ctx, dst, data, mimetype.Detect(data).String()); err != nil {
		return "", fmt.Errorf("move file: %w", err)
	}
	if err := s.objects.DeleteObject(ctx, key); err != nil {
		return "", fmt.Errorf("remove moved file: %w", err)
	}
	return dst, nil
}

func (s *Service) Delete(ctx context.Context, key string) error {
	if _, _, _, err := ParseKey(key); err != nil {
		return err
	}
	return s.objects.DeleteObject(ctx, key)
}

// List returns the stored paths for userID in category.
func (s *Service) List(ctx context.Context, category, userID string) ([]string, error) {
	if !validSegment(category) || !validSegment(userID) {
		return nil, ErrInvalidPath
	}
	return s.objects.ListObjects(ctx, category+"/"+userID+"/")
}

// batchDeleter is implemented by object stores with a bulk delete call.
type batchDeleter interface {
	DeleteObjects(ctx context.Context, keys []string) error
}

// DeleteUser removes every stored file of userID in all categories and
// returns how many were removed.
func (s *Service) DeleteUser(ctx context.Context, userID string) (int, error) {
	if err := storage.ValidateUserID(userID); err != nil {
		return 0, err
	}
	all, err := s.objects.ListObjects(ctx, "")
	if err != nil {
		return 0, err
	}
	var keys []string
	for _, k := range all {
		if _, uid, _, err := ParseKey(k); err == nil && uid == userID {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return 0, nil
	}

	if bd, ok := s.objects.(batchDeleter); ok {
		if err := bd.DeleteObjects(ctx, keys); err != nil {
			return 0, err
		}
		return len(keys), nil
	}
	for i, k := range keys {
		if err := s.objects.DeleteObject(ctx, k); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return i, err
		}
	}
	return len(keys), nil
}

// FileKindFor maps a request value to a kind, defaulting to photo.
func FileKindFor(v string) (models.FileKind, bool) {
	if v == "" {
		return models.FileKindPhoto, true
	}
	k := models.FileKind(strings.ToLower(v))
	return k, k.IsValid()
}
