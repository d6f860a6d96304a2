package models

// RejectKind classifies why an upload was rejected.
type RejectKind string

const (
	RejectIntegrity RejectKind = "integrity"
	RejectQuality   RejectKind = "quality"
	RejectNoFace    RejectKind = "no_face"
	RejectDuplicate RejectKind = "duplicate"
	RejectInternal  RejectKind = "internal"
)

// ValidationMode names the duplicate-detection strategy that produced a result.
type ValidationMode string

const (
	// ModeFace compares face encodings.
	ModeFace ValidationMode = "face"
	// ModeHash compares content hashes; only byte-identical re-uploads are caught.
	ModeHash ValidationMode = "hash"
)

// ImageQualityMetrics are computed per call and never persisted.
type ImageQualityMetrics struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	AspectRatio float64 `json:"aspect_ratio"`
	// BrightnessMean and ContrastStdDev average the per-channel RGB statistics.
	BrightnessMean float64 `json:"brightness_mean"`
	ContrastStdDev float64 `json:"contrast_stddev"`
	// LumaMean and LumaStdDev are computed on the grayscale conversion.
	LumaMean   float64 `json:"luma_mean"`
	LumaStdDev float64 `json:"luma_stddev"`
}

// ValidationResult is the outcome of one pipeline run.
type ValidationResult struct {
	Accepted    bool                 `json:"accepted"`
	Reason      string               `json:"reason"`
	Kind        RejectKind           `json:"kind,omitempty"`
	Mode        ValidationMode       `json:"mode"`
	Label       string               `json:"label,omitempty"`
	DuplicateOf string               `json:"duplicate_of,omitempty"`
	Encodings   []FaceEncoding       `json:"-"`
	ContentHash string               `json:"content_hash,omitempty"`
	Adjusted    bool                 `json:"adjusted"`
	Metrics     *ImageQualityMetrics `json:"metrics,omitempty"`
	// Data holds the bytes to persist when accepted: the upload itself, or the
	// padded image when Adjusted is set.
	Data []byte `json:"-"`
}
