package storage

import (
	"context"
	"errors"

	"github.com/your-org/enrollment/internal/models"
)

var (
	ErrInvalidUserID = errors.New("invalid user id")
	ErrNotFound      = errors.New("not found")
)

const maxUserIDLen = 128

// ValidateUserID accepts ids made of letters, digits, '-' and '_'. User ids
// end up in file names and object keys, so anything else is refused.
func ValidateUserID(id string) error {
	if id == "" || len(id) > maxUserIDLen {
		return ErrInvalidUserID
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return ErrInvalidUserID
		}
	}
	return nil
}

// UserLocker serializes work on one user's records. The returned func
// releases the lock and must be called exactly once.
type UserLocker interface {
	LockUser(ctx context.Context, userID string) (unlock func(), err error)
}

// FaceEncodingStore persists per-user face encodings keyed by image label.
// A user with no record loads as an empty map.
type FaceEncodingStore interface {
	UserLocker
	LoadFaces(ctx context.Context, userID string) (models.UserFaceRecord, error)
	SaveFaces(ctx context.Context, userID, label string, encs []models.FaceEncoding) error
	DeleteUser(ctx context.Context, userID string) error
}

// HashStore is the content-hash counterpart used when faces can't be encoded.
type HashStore interface {
	UserLocker
	LoadHashes(ctx context.Context, userID string) (models.UserHashRecord, error)
	SaveHash(ctx context.Context, userID, label, hash string) error
	DeleteUser(ctx context.Context, userID string) error
}

// RecordStore keeps both kinds of records; FileStore and PostgresStore
// implement it.
type RecordStore interface {
	FaceEncodingStore
	HashStore
}

// FaceSearcher is implemented by stores that can find a near-duplicate
// encoding without loading the whole record.
type FaceSearcher interface {
	FindSimilarFace(ctx context.Context, userID, excludeLabel string, encs []models.FaceEncoding, threshold float64) (label string, found bool, err error)
}

// ObjectStore holds accepted upload files.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	DeleteObject(ctx context.Context, key string) error
	ListObjects(ctx context.Context, prefix string) ([]string, error)
	Ping(ctx context.Context) error
}

// EventRecorder stores validation decisions for auditing.
type EventRecorder interface {
	CreateValidationEvent(ctx context.Context, ev *models.ValidationEvent) error
}
