package pdf

import (
	"bytes"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// monoMeasurer treats every character as half the font size wide.
type monoMeasurer struct{}

func (monoMeasurer) Width(text string, size float64) float64 {
	return float64(utf8.RuneCountInString(text)) * size / 2
}

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"Şirket İşçi ğüöçı":      "Sirket Isci guoci",
		"ÇĞÜÖ":                   "CGUO",
		"“quoted” ‘single’ «fr»": `"quoted" 'single' "fr"`,
		"a – b — c":              "a - b - c",
		"100€ 50₺ 3£ 7¥":         "100EUR 50TL 3GBP 7YEN",
		"Œuvre æther":            "OEuvre aether",
		"café naïve":             "cafe naive",
		"tab\tnew\nline\r":       "tab\tnew\nline\r",
		"emoji 😀 and 中文":         "emoji  and ",
		"zero\u200bwidth":        "zerowidth",
		"non\u00a0breaking":      "non breaking",
		"":                       "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Sanitize(in), "input %q", in)
	}
}

func TestSanitizeNeverEmitsAboveLatin1(t *testing.T) {
	input := "Sözleşme ₿ ∑ → ✓ 𝔘 ﬁ ½ Ω ğ"
	for _, r := range Sanitize(input) {
		assert.LessOrEqual(t, r, rune(0xFF), "unexpected rune %U", r)
	}
}

func TestWrapLines(t *testing.T) {
	m := monoMeasurer{}
	// size 10 gives 5pt per character, so 50pt fits 10 characters.
	got := WrapLines("aaa bbb ccc ddd\n\nabcdefghijklmnopqrstuvwxy end", m, 10, 50)

	assert.Equal(t, []string{
		"aaa bbb",
		"ccc ddd",
		"",
		"abcdefghij",
		"klmnopqrst",
		"uvwxy",
		"end",
	}, got)
	for _, line := range got {
		if utf8.RuneCountInString(line) > 1 {
			assert.LessOrEqual(t, m.Width(line, 10), 50.0, "line %q", line)
		}
	}
}

func TestWrapLinesDropsCarriageReturns(t *testing.T) {
	got := WrapLines("one\r\ntwo", monoMeasurer{}, 10, 500)
	assert.Equal(t, []string{"one", "two"}, got)
}

func TestLayoutHeadingsAndSpacing(t *testing.T) {
	doc := Layout("# Title One\n## Section\n### Sub\nbody text\n\nafter blank", "Contract", monoMeasurer{})

	require.Len(t, doc.Pages, 1)
	lines := doc.Pages[0].Lines
	require.Len(t, lines, 6)

	assert.Equal(t, Line{Text: "Contract", X: Margin, Y: PageHeight - Margin, Size: TitleSize, Heading: true}, lines[0])

	first := PageHeight - Margin - TitleSize - titleGap
	assert.Equal(t, "Title One", lines[1].Text)
	assert.Equal(t, 14.0, lines[1].Size)
	assert.InDelta(t, first, lines[1].Y, 1e-9)
	assert.Equal(t, 12.5, lines[2].Size)
	assert.Equal(t, 11.5, lines[3].Size)
	assert.Equal(t, "body text", lines[4].Text)
	assert.False(t, lines[4].Heading)
	assert.InDelta(t, first-3*LineHeight, lines[4].Y, 1e-9)
	assert.InDelta(t, first-4*LineHeight-LineHeight/2, lines[5].Y, 1e-9)
}

func TestLayoutPaginates(t *testing.T) {
	text := strings.TrimSuffix(strings.Repeat("line\n", 120), "\n")
	doc := Layout(text, "T", monoMeasurer{})

	require.Greater(t, len(doc.Pages), 1)
	assert.Equal(t, 121, doc.LineCount())
	for _, page := range doc.Pages {
		for _, line := range page.Lines {
			assert.GreaterOrEqual(t, line.Y, Margin, "line below bottom margin")
		}
	}
	assert.InDelta(t, PageHeight-Margin, doc.Pages[1].Lines[0].Y, 1e-9)
}

func TestRenderProducesStablePDF(t *testing.T) {
	r, err := NewRenderer("")
	require.NoError(t, err)

	text := "# Hizmet Sözleşmesi\n\nTaraflar: Ayşe ve Şükrü.\n" + strings.Repeat("Uzun bir paragraf metni. ", 200)
	first, err := r.Render(text, "Sözleşme")
	require.NoError(t, err)
	second, err := r.Render(text, "Sözleşme")
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(first, []byte("%PDF-")))
	assert.Equal(t, first, second)
}

func TestRenderRejectsEmptyText(t *testing.T) {
	r, err := NewRenderer("")
	require.NoError(t, err)
	_, err = r.Render("", "x")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestNewRendererMissingFont(t *testing.T) {
	_, err := NewRenderer("/nonexistent/font.ttf")
	assert.Error(t, err)
}
