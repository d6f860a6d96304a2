package vision

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"

	"github.com/your-org/enrollment/internal/config"
	"github.com/your-org/enrollment/internal/models"
)

// IntegrityChecker validates that an upload is of an allowed type, within
// size limits and actually decodes as what it claims to be.
type IntegrityChecker struct {
	photoExts map[string]bool
	docExts   map[string]bool
	maxPhoto  int64
	maxDoc    int64
	maxPixels int64 // 0 disables the check
}

func NewIntegrityChecker(cfg config.UploadsConfig) *IntegrityChecker {
	return &IntegrityChecker{
		photoExts: extSet(cfg.AllowedPhotoExtensions),
		docExts:   extSet(cfg.AllowedDocumentExtensions),
		maxPhoto:  cfg.MaxPhotoSize,
		maxDoc:    cfg.MaxDocumentSize,
		maxPixels: cfg.MaxPixels,
	}
}

func extSet(exts []string) map[string]bool {
	m := make(map[string]bool, len(exts))
	for _, e := range exts {
		m[strings.ToLower(strings.TrimPrefix(e, "."))] = true
	}
	return m
}

// MaxSize returns the upload limit for kind.
func (c *IntegrityChecker) MaxSize(kind models.FileKind) int64 {
	if kind == models.FileKindDocument {
		return c.maxDoc
	}
	return c.maxPhoto
}

// Check validates data against the declared extension. It returns a
// *ValidationError of kind integrity on rejection.
func (c *IntegrityChecker) Check(data []byte, ext string, kind models.FileKind) error {
	_, _, err := c.check(data, ext, kind)
	return err
}

// CheckPhoto is Check for a photo that also hands back the decoded image,
// EXIF orientation applied, and its format name.
func (c *IntegrityChecker) CheckPhoto(data []byte, ext string) (image.Image, string, error) {
	return c.check(data, ext, models.FileKindPhoto)
}

func (c *IntegrityChecker) check(data []byte, ext string, kind models.FileKind) (image.Image, string, error) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))

	allowed := c.photoExts
	if kind == models.FileKindDocument {
		allowed = c.docExts
	}
	if ext == "" || !allowed[ext] {
		return nil, "", reject(models.RejectIntegrity, "File type %q is not allowed. Allowed types: %s",
			ext, strings.Join(sortedKeys(allowed), ", "))
	}

	if len(data) == 0 {
		return nil, "", reject(models.RejectIntegrity, "File is empty")
	}
	if limit := c.MaxSize(kind); int64(len(data)) > limit {
		return nil, "", reject(models.RejectIntegrity, "File is too large. Maximum size is %d MB", limit>>20)
	}

	if kind == models.FileKindDocument && ext == "pdf" {
		if !mimetype.Detect(data).Is("application/pdf") {
			return nil, "", reject(models.RejectIntegrity, "File is not a valid PDF document")
		}
		return nil, "", nil
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", &ValidationError{Kind: models.RejectIntegrity, Message: "File is not a valid image", Err: err}
	}
	// The header is enough to refuse decompression bombs before allocating.
	if c.maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > c.maxPixels {
		return nil, "", reject(models.RejectIntegrity, "Image dimensions %dx%d are too large. Maximum is %d pixels",
			cfg.Width, cfg.Height, c.maxPixels)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", &ValidationError{Kind: models.RejectIntegrity, Message: "File is corrupted or incomplete", Err: err}
	}
	return img, format, nil
}

// CheckStream runs Check on the remaining content of rs and restores the
// original read position before returning, on every path.
func (c *IntegrityChecker) CheckStream(rs io.ReadSeeker, ext string, kind models.FileKind) (err error) {
	pos, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("get stream position: %w", err)
	}
	defer func() {
		if _, serr := rs.Seek(pos, io.SeekStart); serr != nil && err == nil {
			err = fmt.Errorf("restore stream position: %w", serr)
		}
	}()

	// One byte over the limit is enough to reject.
	data, err := io.ReadAll(io.LimitReader(rs, c.MaxSize(kind)+1))
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}
	return c.Check(data, ext, kind)
}

// DecodePhoto decodes an image honouring its EXIF orientation. It returns
// the registered format name ("jpeg", "png", "bmp", "tiff", "webp").
func DecodePhoto(data []byte) (image.Image, string, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode config: %w", err)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}

// ReadUpload buffers an uploaded stream into a candidate without moving the
// caller's read position. Content beyond limit is not read.
func ReadUpload(rs io.ReadSeeker, filename, contentType string, limit int64) (models.UploadCandidate, error) {
	pos, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return models.UploadCandidate{}, fmt.Errorf("get stream position: %w", err)
	}
	defer rs.Seek(pos, io.SeekStart) //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(rs, limit+1))
	if err != nil {
		return models.UploadCandidate{}, fmt.Errorf("read upload: %w", err)
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mimetype.Detect(data).String()
	}
	return models.UploadCandidate{Data: data, Filename: filename, ContentType: contentType}, nil
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
