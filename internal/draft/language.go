package draft

import (
	"regexp"
	"strings"
)

type Language string

const (
	Turkish Language = "tr"
	English Language = "en"
)

// DisplayName is the language name used in model instructions.
func (l Language) DisplayName() string {
	if l == English {
		return "English"
	}
	return "Türkçe"
}

const languageSampleRunes = 500

var (
	turkishMarkers = wordPatterns("ve", "ile", "taraf", "sözleşme", "teslim", "fesh", "mücbir", "fatura", "tarih", "gün")
	englishMarkers = wordPatterns("the", "and", "party", "agreement", "deliver", "termination", "due", "day", "contract")
	turkishLetters = regexp.MustCompile(`[ğıüşöçİŞĞÜÖ]`)
)

func wordPatterns(words ...string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(words))
	for _, word := range words {
		patterns = append(patterns, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(word)+`\b`))
	}
	return patterns
}

// DetectLanguage scores the first 500 characters of text against Turkish and
// English marker words. Ties and empty input resolve to Turkish.
func DetectLanguage(text string) Language {
	if text == "" {
		return Turkish
	}
	sample := text
	if runes := []rune(text); len(runes) > languageSampleRunes {
		sample = string(runes[:languageSampleRunes])
	}
	sample = strings.ToLower(sample)

	turkish, english := 0, 0
	for _, pattern := range turkishMarkers {
		if pattern.MatchString(sample) {
			turkish += 2
		}
	}
	for _, pattern := range englishMarkers {
		if pattern.MatchString(sample) {
			english += 2
		}
	}
	if turkishLetters.MatchString(sample) {
		turkish += 3
	}

	if turkish >= english {
		return Turkish
	}
	return English
}
