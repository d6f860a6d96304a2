package handlers

import (
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/enrollment/internal/files"
	"github.com/your-org/enrollment/internal/models"
	"github.com/your-org/enrollment/internal/storage"
	"github.com/your-org/enrollment/internal/vision"
	"github.com/your-org/enrollment/pkg/dto"
)

type UploadHandler struct {
	uploader *files.Uploader
	// maxSize bounds how much of an upload is read for the given kind.
	maxSize func(models.FileKind) int64
}

func NewUploadHandler(uploader *files.Uploader, integrity *vision.IntegrityChecker) *UploadHandler {
	return &UploadHandler{uploader: uploader, maxSize: integrity.MaxSize}
}

func userParam(c *gin.Context) (string, bool) {
	userID := c.Param("user_id")
	if err := storage.ValidateUserID(userID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return "", false
	}
	return userID, true
}

func (h *UploadHandler) readFile(c *gin.Context, kind models.FileKind) (models.UploadCandidate, bool) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return models.UploadCandidate{}, false
	}
	upload, err := readMultipart(fh, h.maxSize(kind))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read uploaded file"})
		return models.UploadCandidate{}, false
	}
	return upload, true
}

func readMultipart(fh *multipart.FileHeader, limit int64) (models.UploadCandidate, error) {
	f, err := fh.Open()
	if err != nil {
		return models.UploadCandidate{}, err
	}
	defer f.Close()
	return vision.ReadUpload(f, fh.Filename, fh.Header.Get("Content-Type"), limit)
}

// Validate checks a photo without storing it or recording its fingerprint.
func (h *UploadHandler) Validate(c *gin.Context) {
	userID, ok := userParam(c)
	if !ok {
		return
	}
	upload, ok := h.readFile(c, models.FileKindPhoto)
	if !ok {
		return
	}
	res := h.uploader.Pipeline().Check(c.Request.Context(), upload, userID, c.PostForm("label"))
	c.JSON(statusFor(res), dto.NewValidationResponse(res, res.Label, ""))
}

// Upload validates a file and stores it when accepted.
func (h *UploadHandler) Upload(c *gin.Context) {
	userID, ok := userParam(c)
	if !ok {
		return
	}
	kind, ok := files.FileKindFor(c.PostForm("kind"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be photo or document"})
		return
	}
	upload, ok := h.readFile(c, kind)
	if !ok {
		return
	}

	out, err := h.uploader.SaveUploadedFile(c.Request.Context(), files.UploadRequest{
		UserID:   userID,
		Label:    c.PostForm("label"),
		Category: c.PostForm("category"),
		Kind:     kind,
		Upload:   upload,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "file could not be saved, please try again", "label": out.Label})
		return
	}

	status := statusFor(out.ValidationResult)
	if out.Accepted {
		status = http.StatusCreated
	}
	c.JSON(status, dto.NewValidationResponse(out.ValidationResult, out.Label, out.Path))
}

func statusFor(res models.ValidationResult) int {
	switch {
	case res.Accepted:
		return http.StatusOK
	case res.Kind == models.RejectInternal:
		return http.StatusInternalServerError
	case res.Kind == models.RejectDuplicate:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}
