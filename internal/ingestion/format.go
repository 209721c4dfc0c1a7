package ingestion

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Format is the closed set of document formats the ingestor accepts.
type Format int

const (
	// FormatUnknown is the zero value and is never returned with a nil error.
	FormatUnknown Format = iota
	// FormatPDF is a Portable Document Format file.
	FormatPDF
	// FormatDOC is a Word 97-2003 binary document.
	FormatDOC
	// FormatDOCX is an Office Open XML word-processing document.
	FormatDOCX
)

// extFormats maps lower-case file extensions to their Format.
var extFormats = map[string]Format{
	".pdf":  FormatPDF,
	".doc":  FormatDOC,
	".docx": FormatDOCX,
}

// String returns the short format name used in logs and API responses.
func (f Format) String() string {
	switch f {
	case FormatPDF:
		return "pdf"
	case FormatDOC:
		return "doc"
	case FormatDOCX:
		return "docx"
	default:
		return "unknown"
	}
}

// Ext returns the canonical file extension for f, including the dot.
func (f Format) Ext() string {
	if f == FormatUnknown {
		return ""
	}
	return "." + f.String()
}

// FormatFor resolves a filename to its Format using the extension only.
// Unknown or missing extensions return ErrUnsupportedFormat.
func FormatFor(filename string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if f, ok := extFormats[ext]; ok {
		return f, nil
	}
	return FormatUnknown, fmt.Errorf("ingestion: %q: %w (accepted: %s)",
		filename, ErrUnsupportedFormat, strings.Join(SupportedExtensions(), ", "))
}

// SupportedExtensions lists the accepted extensions in a stable order.
func SupportedExtensions() []string {
	return []string{".pdf", ".doc", ".docx"}
}
