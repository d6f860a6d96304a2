package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/your-org/enrollment/internal/files"
	"github.com/your-org/enrollment/internal/models"
	"github.com/your-org/enrollment/pkg/dto"
)

// RecordReader exposes a user's stored fingerprints.
type RecordReader interface {
	LoadFaces(ctx context.Context, userID string) (models.UserFaceRecord, error)
	LoadHashes(ctx context.Context, userID string) (models.UserHashRecord, error)
}

// EventLister returns a user's recent validation decisions.
type EventLister interface {
	ListValidationEvents(ctx context.Context, userID string, limit int) ([]models.ValidationEvent, error)
}

type UserHandler struct {
	records  RecordReader
	uploader *files.Uploader
	events   EventLister // nil without the postgres backend
}

func NewUserHandler(records RecordReader, uploader *files.Uploader, events EventLister) *UserHandler {
	return &UserHandler{records: records, uploader: uploader, events: events}
}

// Faces lists the labels stored for a user with their encoding counts or
// content hashes, plus the user's stored files.
func (h *UserHandler) Faces(c *gin.Context) {
	userID, ok := userParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	faces, err := h.records.LoadFaces(ctx, userID)
	if err != nil {
		slog.Error("load faces", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load face records"})
		return
	}
	hashes, err := h.records.LoadHashes(ctx, userID)
	if err != nil {
		slog.Error("load hashes", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load hash records"})
		return
	}

	category := c.DefaultQuery("category", files.DefaultCategory)
	stored, err := h.uploader.Files().List(ctx, category, userID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid category"})
		return
	}

	c.JSON(http.StatusOK, dto.FaceRecordResponse{
		UserID: userID,
		Labels: summarize(faces, hashes),
		Files:  append([]string{}, stored...),
	})
}

func summarize(faces models.UserFaceRecord, hashes models.UserHashRecord) []dto.LabelSummary {
	byLabel := map[string]*dto.LabelSummary{}
	get := func(label string) *dto.LabelSummary {
		if s, ok := byLabel[label]; ok {
			return s
		}
		s := &dto.LabelSummary{Label: label}
		byLabel[label] = s
		return s
	}
	for label, encs := range faces {
		get(label).Encodings = len(encs)
	}
	for label, hash := range hashes {
		get(label).Hash = hash
	}

	out := make([]dto.LabelSummary, 0, len(byLabel))
	for _, s := range byLabel {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// Delete removes all face records, hash records and files of a user.
func (h *UserHandler) Delete(c *gin.Context) {
	userID, ok := userParam(c)
	if !ok {
		return
	}
	n, err := h.uploader.PurgeUser(c.Request.Context(), userID)
	if err != nil {
		slog.Error("purge user", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete user data"})
		return
	}
	c.JSON(http.StatusOK, dto.PurgeResponse{UserID: userID, FilesRemoved: n})
}

// Events lists recent validation decisions for a user.
func (h *UserHandler) Events(c *gin.Context) {
	userID, ok := userParam(c)
	if !ok {
		return
	}
	if h.events == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "event history requires the postgres backend"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	events, err := h.events.ListValidationEvents(c.Request.Context(), userID, limit)
	if err != nil {
		slog.Error("list validation events", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list events"})
		return
	}

	resp := dto.EventListResponse{Events: make([]dto.EventResponse, 0, len(events)), Total: len(events)}
	for _, ev := range events {
		resp.Events = append(resp.Events, dto.NewEventResponse(ev))
	}
	c.JSON(http.StatusOK, resp)
}
