package dto

import "github.com/your-org/enrollment/internal/models"

// ValidationResponse is returned by the upload and validate endpoints.
type ValidationResponse struct {
	Accepted    bool                        `json:"accepted"`
	Reason      string                      `json:"reason"`
	Kind        string                      `json:"kind,omitempty"`
	Mode        string                      `json:"mode"`
	Label       string                      `json:"label"`
	DuplicateOf string                      `json:"duplicate_of,omitempty"`
	FaceCount   int                         `json:"face_count"`
	Adjusted    bool                        `json:"adjusted"`
	Path        string                      `json:"path,omitempty"`
	FileURL     string                      `json:"file_url,omitempty"`
	Metrics     *models.ImageQualityMetrics `json:"metrics,omitempty"`
}

func NewValidationResponse(res models.ValidationResult, label, path string) ValidationResponse {
	resp := ValidationResponse{
		Accepted:    res.Accepted,
		Reason:      res.Reason,
		Kind:        string(res.Kind),
		Mode:        string(res.Mode),
		Label:       label,
		DuplicateOf: res.DuplicateOf,
		FaceCount:   len(res.Encodings),
		Adjusted:    res.Adjusted,
		Path:        path,
		Metrics:     res.Metrics,
	}
	if path != "" {
		resp.FileURL = FileURL(path)
	}
	return resp
}

// FileURL is where a stored file can be downloaded.
func FileURL(path string) string {
	return "/v1/files/" + path
}

// StatusResponse describes the active validation mode.
type StatusResponse struct {
	FaceRecognitionAvailable bool    `json:"face_recognition_available"`
	Mode                     string  `json:"mode"`
	ServiceAvailable         bool    `json:"service_available"`
	Backend                  string  `json:"backend"`
	SimilarityThreshold      float64 `json:"similarity_threshold"`
}

// LabelSummary describes one stored image slot.
type LabelSummary struct {
	Label     string `json:"label"`
	Encodings int    `json:"encodings,omitempty"`
	Hash      string `json:"hash,omitempty"`
}

type FaceRecordResponse struct {
	UserID string         `json:"user_id"`
	Labels []LabelSummary `json:"labels"`
	Files  []string       `json:"files"`
}

type PurgeResponse struct {
	UserID       string `json:"user_id"`
	FilesRemoved int    `json:"files_removed"`
}

type MoveFileRequest struct {
	Path     string `json:"path" binding:"required"`
	Category string `json:"category" binding:"required"`
}

type MoveFileResponse struct {
	Path    string `json:"path"`
	FileURL string `json:"file_url"`
}
