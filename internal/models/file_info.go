package models

import (
	"mime"
	"path/filepath"
	"strings"
	"time"
)

// FileInfo represents metadata about an uploaded report file.
type FileInfo struct {
	ID         string    `json:"id" msgpack:"id"`
	Name       string    `json:"name" msgpack:"name"`
	MediaType  string    `json:"mediaType" msgpack:"mediaType"`
	Size       int64     `json:"size" msgpack:"size"`
	UploadedAt time.Time `json:"uploadedAt" msgpack:"uploadedAt"`
	Status     string    `json:"status" msgpack:"status"` // "uploaded", "selected", "analyzed", "error"
}

// IsPDF reports whether the file carries the pdf marker.
// A declared media type wins; the extension is only consulted when none was given.
func (f *FileInfo) IsPDF() bool {
	return IsPDFMediaType(f.MediaType, f.Name)
}

// IsPDFMediaType applies the pdf marker rule to a media type / file name pair.
func IsPDFMediaType(mediaType, name string) bool {
	if mediaType != "" {
		return strings.Contains(strings.ToLower(mediaType), "pdf")
	}
	return strings.EqualFold(filepath.Ext(name), ".pdf")
}

// DetectMediaType returns the declared media type, or one derived from the
// file extension when nothing usable was declared.
func DetectMediaType(declared, name string) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".csv":
		return "text/csv"
	case ".txt":
		return "text/plain"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return declared
}
