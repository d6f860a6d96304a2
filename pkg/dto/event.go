package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/your-org/enrollment/internal/models"
)

type EventResponse struct {
	ID          uuid.UUID `json:"id"`
	UserID      string    `json:"user_id"`
	Label       string    `json:"label"`
	Mode        string    `json:"mode"`
	Accepted    bool      `json:"accepted"`
	Kind        string    `json:"kind,omitempty"`
	Reason      string    `json:"reason"`
	DuplicateOf string    `json:"duplicate_of,omitempty"`
	FaceCount   int       `json:"face_count"`
	Adjusted    bool      `json:"adjusted"`
	FileURL     string    `json:"file_url,omitempty"`
	CreatedAt   string    `json:"created_at"`
}

func NewEventResponse(ev models.ValidationEvent) EventResponse {
	resp := EventResponse{
		ID:          ev.ID,
		UserID:      ev.UserID,
		Label:       ev.Label,
		Mode:        string(ev.Mode),
		Accepted:    ev.Accepted,
		Kind:        string(ev.Kind),
		Reason:      ev.Reason,
		DuplicateOf: ev.DuplicateOf,
		FaceCount:   ev.FaceCount,
		Adjusted:    ev.Adjusted,
		CreatedAt:   ev.CreatedAt.Format(time.RFC3339),
	}
	if ev.StoredPath != "" {
		resp.FileURL = FileURL(ev.StoredPath)
	}
	return resp
}

type EventListResponse struct {
	Events []EventResponse `json:"events"`
	Total  int             `json:"total"`
}

// WSEvent is a WebSocket message for real-time validation delivery.
type WSEvent struct {
	Type   string        `json:"type"` // photo_accepted, photo_rejected
	UserID string        `json:"user_id"`
	Data   EventResponse `json:"data"`
}

func NewWSEvent(ev models.ValidationEvent) *WSEvent {
	typ := "photo_rejected"
	if ev.Accepted {
		typ = "photo_accepted"
	}
	return &WSEvent{Type: typ, UserID: ev.UserID, Data: NewEventResponse(ev)}
}
