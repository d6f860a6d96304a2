package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/your-org/enrollment/internal/files"
	"github.com/your-org/enrollment/internal/storage"
	"github.com/your-org/enrollment/pkg/dto"
)

type FileHandler struct {
	files *files.Service
}

func NewFileHandler(svc *files.Service) *FileHandler {
	return &FileHandler{files: svc}
}

func filePath(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("path"), "/")
}

func (h *FileHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, files.ErrInvalidPath), errors.Is(err, storage.ErrInvalidKey):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file path"})
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
	default:
		slog.Error("file operation", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "file operation failed"})
	}
}

// Get streams a stored file.
func (h *FileHandler) Get(c *gin.Context) {
	data, contentType, err := h.files.Open(c.Request.Context(), filePath(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, contentType, data)
}

func (h *FileHandler) Delete(c *gin.Context) {
	if err := h.files.Delete(c.Request.Context(), filePath(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Move relocates a file to another category, e.g. temp → applications.
func (h *FileHandler) Move(c *gin.Context) {
	var req dto.MoveFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	dst, err := h.files.Move(c.Request.Context(), req.Path, req.Category)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.MoveFileResponse{Path: dst, FileURL: dto.FileURL(dst)})
}
