// Package export renders a draft report as HTML and prints it to PDF with headless Chrome.
package export

import (
	"errors"
	"time"

	"blocksign/api/internal/draft"
)

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatHTML Format = "html"
)

// ParseFormat maps a query value to a Format, defaulting to PDF.
func ParseFormat(value string) (Format, error) {
	switch Format(value) {
	case "", FormatPDF:
		return FormatPDF, nil
	case FormatHTML:
		return FormatHTML, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Report is everything shown in a draft report.
type Report struct {
	Title       string
	Contract    string // markdown
	Summary     []string
	Risks       []draft.Risk
	Language    draft.Language
	Owner       string
	PDFSHA256   string
	IPFSURL     string
	WalrusURL   string
	DocumentID  string
	TxDigest    string
	Status      string
	Revision    string
	GeneratedAt time.Time
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrEmptyReport indicates a report without contract text.
	ErrEmptyReport = errors.New("report has no contract text")
	// ErrUnsupportedFormat is returned for unknown export formats.
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
