package export

import (
	"context"
	"fmt"
	"time"
)

// Service renders draft reports.
type Service struct {
	printer Printer
	now     func() time.Time
}

// NewService creates a report service. printer may be nil, in which case only
// HTML reports are available.
func NewService(printer Printer) *Service {
	return &Service{printer: printer, now: time.Now}
}

// PDFAvailable reports whether a browser was found for PDF output.
func (s *Service) PDFAvailable() bool {
	return s.printer != nil
}

// Export renders report in format.
func (s *Service) Export(ctx context.Context, report Report, format Format) (*Result, error) {
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = s.now()
	}
	html, err := RenderReportHTML(report)
	if err != nil {
		return nil, err
	}

	filename := sanitizeFilename(report.Title)
	switch format {
	case FormatHTML:
		return &Result{Data: []byte(html), Filename: filename + ".html", MimeType: "text/html; charset=utf-8"}, nil
	case FormatPDF:
		if s.printer == nil {
			return nil, fmt.Errorf("%w: no browser configured", ErrPDFDependencyMissing)
		}
		data, err := s.printer.PrintPDF(ctx, html)
		if err != nil {
			return nil, err
		}
		return &Result{Data: data, Filename: filename + "-report.pdf", MimeType: "application/pdf"}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
