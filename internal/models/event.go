package models

import (
	"time"

	"github.com/google/uuid"
)

// ValidationEvent records one pipeline decision. It is published to NATS,
// stored in the audit table and pushed to websocket subscribers.
type ValidationEvent struct {
	ID          uuid.UUID      `json:"id" db:"id"`
	UserID      string         `json:"user_id" db:"user_id"`
	Label       string         `json:"label" db:"label"`
	Mode        ValidationMode `json:"mode" db:"mode"`
	Accepted    bool           `json:"accepted" db:"accepted"`
	Kind        RejectKind     `json:"kind,omitempty" db:"kind"`
	Reason      string         `json:"reason" db:"reason"`
	DuplicateOf string         `json:"duplicate_of,omitempty" db:"duplicate_of"`
	FaceCount   int            `json:"face_count" db:"face_count"`
	Adjusted    bool           `json:"adjusted" db:"adjusted"`
	StoredPath  string         `json:"stored_path,omitempty" db:"stored_path"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
}

// NewValidationEvent builds an event from a pipeline result.
func NewValidationEvent(userID, label string, res ValidationResult) ValidationEvent {
	return ValidationEvent{
		ID:          uuid.New(),
		UserID:      userID,
		Label:       label,
		Mode:        res.Mode,
		Accepted:    res.Accepted,
		Kind:        res.Kind,
		Reason:      res.Reason,
		DuplicateOf: res.DuplicateOf,
		FaceCount:   len(res.Encodings),
		Adjusted:    res.Adjusted,
		CreatedAt:   time.Now().UTC(),
	}
}
