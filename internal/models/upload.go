package models

import (
	"path/filepath"
	"strings"
)

// FileKind selects the integrity rules applied to an upload.
type FileKind string

const (
	FileKindPhoto    FileKind = "photo"
	FileKindDocument FileKind = "document"
)

// IsValid reports whether k is a known kind.
func (k FileKind) IsValid() bool {
	return k == FileKindPhoto || k == FileKindDocument
}

// UploadCandidate is one uploaded file as received from the client.
// It lives only for the duration of a single validation call.
type UploadCandidate struct {
	Data        []byte
	Filename    string
	ContentType string
}

// Extension returns the lower-cased extension of the declared filename without the dot.
func (u UploadCandidate) Extension() string {
	return FileExtension(u.Filename)
}

// FileExtension returns the lower-cased extension of name without the dot,
// or "" if name has none.
func FileExtension(name string) string {
	ext := filepath.Ext(name)
	if ext == "" {
		return ""
	}
	return strings.ToLower(ext[1:])
}
