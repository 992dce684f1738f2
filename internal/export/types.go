// Package export renders document versions for archiving and download.
package export

import (
	"errors"
)

type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat accepts the formats above case-insensitively; empty means HTML.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(lower(raw)); f {
	case "":
		return FormatHTML, nil
	case FormatHTML, FormatPDF, FormatDOCX:
		return f, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

type Request struct {
	DocumentID string
	// Version 0 means the latest version.
	Version        int
	Format         Format
	IncludeHistory bool
}

type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("export: unsupported format")
	// ErrPDFDependencyMissing indicates chromium is not installed.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates pandoc is not installed.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
