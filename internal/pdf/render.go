package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-pdf/fpdf"
)

const (
	coreFamily     = "Helvetica"
	embeddedFamily = "contract"
	DefaultTitle   = "Sözleşme"
)

var (
	// ErrEmptyText is returned when there is nothing to render.
	ErrEmptyText = errors.New("pdf text is empty")

	// Fixed document dates keep the output byte-stable for identical input.
	documentDate = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
)

// Renderer writes laid out documents with fpdf. With an empty font file it uses
// the core Helvetica font, otherwise the TrueType file is embedded.
type Renderer struct {
	fontBytes []byte
}

func NewRenderer(fontFile string) (*Renderer, error) {
	if fontFile == "" {
		return &Renderer{}, nil
	}
	raw, err := os.ReadFile(fontFile)
	if err != nil {
		return nil, fmt.Errorf("read pdf font: %w", err)
	}
	return &Renderer{fontBytes: raw}, nil
}

// Render sanitizes text and title and returns the PDF bytes.
func (r *Renderer) Render(text, title string) ([]byte, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	if title == "" {
		title = DefaultTitle
	}

	doc := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           fpdf.SizeType{Wd: PageWidth, Ht: PageHeight},
	})
	doc.SetMargins(0, 0, 0)
	doc.SetAutoPageBreak(false, 0)
	doc.SetCatalogSort(true)
	doc.SetCreationDate(documentDate)
	doc.SetModificationDate(documentDate)

	family := coreFamily
	encode := doc.UnicodeTranslatorFromDescriptor("")
	if len(r.fontBytes) > 0 {
		doc.AddUTF8FontFromBytes(embeddedFamily, "", r.fontBytes)
		family = embeddedFamily
		encode = func(s string) string { return s }
	}
	doc.SetFont(family, "", BodySize)

	safeTitle := Sanitize(title)
	doc.SetTitle(safeTitle, true)
	layout := Layout(Sanitize(text), safeTitle, fpdfMeasurer{doc: doc, encode: encode})

	for _, page := range layout.Pages {
		doc.AddPage()
		for _, line := range page.Lines {
			doc.SetFontSize(line.Size)
			doc.Text(line.X, PageHeight-line.Y, encode(line.Text))
		}
	}
	if err := doc.Error(); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

type fpdfMeasurer struct {
	doc    *fpdf.Fpdf
	encode func(string) string
}

func (m fpdfMeasurer) Width(text string, size float64) float64 {
	m.doc.SetFontSize(size)
	return m.doc.GetStringWidth(m.encode(text))
}
