package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/your-org/enrollment/internal/models"
)

const (
	faceDir = "face_data"
	hashDir = "image_hashes"
)

// FileStore keeps one JSON document per user for face encodings and another
// for content hashes. Writes replace the whole file atomically.
type FileStore struct {
	dir   string
	users *keyedMutex // LockUser
	files *keyedMutex // read-modify-write of a single file
}

func NewFileStore(dataDir string) (*FileStore, error) {
	for _, sub := range []string{faceDir, hashDir} {
		if err := os.MkdirAll(filepath.Join(dataDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", sub, err)
		}
	}
	return &FileStore{dir: dataDir, users: newKeyedMutex(), files: newKeyedMutex()}, nil
}

func (s *FileStore) facePath(userID string) string {
	return filepath.Join(s.dir, faceDir, "user_"+userID+"_faces.json")
}

func (s *FileStore) hashPath(userID string) string {
	return filepath.Join(s.dir, hashDir, "user_"+userID+"_hashes.json")
}

func (s *FileStore) LockUser(ctx context.Context, userID string) (func(), error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	return s.users.Lock(ctx, userID)
}

func (s *FileStore) LoadFaces(ctx context.Context, userID string) (models.UserFaceRecord, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	rec := models.UserFaceRecord{}
	if err := readJSON(s.facePath(userID), &rec); err != nil {
		return nil, fmt.Errorf("load faces for user %s: %w", userID, err)
	}
	return rec, nil
}

// SaveFaces sets the encodings stored under label, replacing any previous ones.
func (s *FileStore) SaveFaces(ctx context.Context, userID, label string, encs []models.FaceEncoding) error {
	if err := ValidateUserID(userID); err != nil {
		return err
	}
	path := s.facePath(userID)
	unlock, err := s.files.Lock(ctx, path)
	if err != nil {
		return err
	}
	defer unlock()

	rec := models.UserFaceRecord{}
	if err := readJSON(path, &rec); err != nil {
		return fmt.Errorf("load faces for user %s: %w", userID, err)
	}
	cp := make([]models.FaceEncoding, len(encs))
	for i, e := range encs {
		cp[i] = e.Clone()
	}
	rec[label] = cp

	if err := writeJSONAtomic(path, rec); err != nil {
		return fmt.Errorf("save faces for user %s: %w", userID, err)
	}
	return nil
}

func (s *FileStore) LoadHashes(ctx context.Context, userID string) (models.UserHashRecord, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	rec := models.UserHashRecord{}
	if err := readJSON(s.hashPath(userID), &rec); err != nil {
		return nil, fmt.Errorf("load hashes for user %s: %w", userID, err)
	}
	return rec, nil
}

func (s *FileStore) SaveHash(ctx context.Context, userID, label, hash string) error {
	if err := ValidateUserID(userID); err != nil {
		return err
	}
	path := s.hashPath(userID)
	unlock, err := s.files.Lock(ctx, path)
	if err != nil {
		return err
	}
	defer unlock()

	rec := models.UserHashRecord{}
	if err := readJSON(path, &rec); err != nil {
		return fmt.Errorf("load hashes for user %s: %w", userID, err)
	}
	rec[label] = hash

	if err := writeJSONAtomic(path, rec); err != nil {
		return fmt.Errorf("save hashes for user %s: %w", userID, err)
	}
	return nil
}

// DeleteUser removes both records. Missing files are not an error.
func (s *FileStore) DeleteUser(ctx context.Context, userID string) error {
	if err := ValidateUserID(userID); err != nil {
		return err
	}
	for _, path := range []string{s.facePath(userID), s.hashPath(userID)} {
		unlock, err := s.files.Lock(ctx, path)
		if err != nil {
			return err
		}
		err = os.Remove(path)
		unlock()
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("delete %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

// readJSON decodes path into v. A missing file leaves v untouched.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
