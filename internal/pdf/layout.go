package pdf

import (
	"regexp"
	"strings"
)

// Page geometry in points, A4 portrait.
const (
	PageWidth  = 595.28
	PageHeight = 841.89
	Margin     = 48.0

	BodySize   = 11.0
	TitleSize  = 16.0
	LineHeight = BodySize * 1.35
	titleGap   = 12.0
)

var headingSizes = []struct {
	pattern *regexp.Regexp
	size    float64
}{
	{regexp.MustCompile(`^#\s+`), 14},
	{regexp.MustCompile(`^##\s+`), 12.5},
	{regexp.MustCompile(`^###\s+`), 11.5},
}

// Measurer reports the drawn width of text at a font size, in points.
type Measurer interface {
	Width(text string, size float64) float64
}

// Line is one drawn line. Y is the baseline measured from the bottom of the page.
type Line struct {
	Text    string
	X       float64
	Y       float64
	Size    float64
	Heading bool
}

type Page struct {
	Lines []Line
}

// Document is the laid out result. The title is the first line of the first page.
type Document struct {
	Pages []Page
}

func (d Document) LineCount() int {
	total := 0
	for _, page := range d.Pages {
		total += len(page.Lines)
	}
	return total
}

// Layout places title and text on pages. Text is expected to be sanitized.
func Layout(text, title string, m Measurer) Document {
	maxWidth := PageWidth - 2*Margin
	doc := Document{Pages: []Page{{
		Lines: []Line{{Text: title, X: Margin, Y: PageHeight - Margin, Size: TitleSize, Heading: true}},
	}}}
	current := &doc.Pages[0]
	y := PageHeight - Margin - TitleSize - titleGap

	for _, raw := range strings.Split(strings.ReplaceAll(text, "\r", ""), "\n") {
		line, size, heading := classify(raw)
		if strings.TrimSpace(line) == "" {
			y -= LineHeight / 2
			continue
		}
		for _, wrapped := range WrapLines(line, m, size, maxWidth) {
			if y-LineHeight < Margin {
				doc.Pages = append(doc.Pages, Page{})
				current = &doc.Pages[len(doc.Pages)-1]
				y = PageHeight - Margin
			}
			current.Lines = append(current.Lines, Line{Text: wrapped, X: Margin, Y: y, Size: size, Heading: heading})
			y -= LineHeight
		}
	}
	return doc
}

func classify(line string) (string, float64, bool) {
	for _, h := range headingSizes {
		if h.pattern.MatchString(line) {
			return strings.TrimSpace(h.pattern.ReplaceAllString(line, "")), h.size, true
		}
	}
	return line, BodySize, false
}

// WrapLines splits text into lines no wider than maxWidth at size. Paragraphs
// break on newlines, words on single spaces, and a word that cannot fit on a
// line of its own is broken between characters.
func WrapLines(text string, m Measurer, size, maxWidth float64) []string {
	var out []string
	for _, paragraph := range strings.Split(strings.ReplaceAll(text, "\r", ""), "\n") {
		if strings.TrimSpace(paragraph) == "" {
			out = append(out, "")
			continue
		}
		line := ""
		for _, word := range strings.Split(paragraph, " ") {
			candidate := word
			if line != "" {
				candidate = line + " " + word
			}
			if m.Width(candidate, size) <= maxWidth {
				line = candidate
				continue
			}
			if line != "" {
				out = append(out, line)
			}
			if m.Width(word, size) <= maxWidth {
				line = word
				continue
			}
			chunk := ""
			for _, r := range word {
				test := chunk + string(r)
				if m.Width(test, size) > maxWidth {
					if chunk != "" {
						out = append(out, chunk)
					}
					chunk = string(r)
				} else {
					chunk = test
				}
			}
			if chunk != "" {
				out = append(out, chunk)
			}
			line = ""
		}
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
