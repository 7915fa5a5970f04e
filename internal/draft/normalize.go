package draft

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf16"
)

var (
	fencedBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	unicodeEscape      = regexp.MustCompile(`\\u([0-9A-Fa-f]{4})(?:\\u([0-9A-Fa-f]{4}))?`)
	leadingQuotes      = regexp.MustCompile("^\\s*[\"'`]+\\s*")
	trailingQuotes     = regexp.MustCompile("\\s*[\"'`]+\\s*$")
	wrappedInQuotes    = regexp.MustCompile(`(?s)^"(.*)"$`)
	summaryHeadings    = []*regexp.Regexp{
		regexp.MustCompile(`(?is)(?:^|\n)#{0,3}\s*ÖZET\s*[:-]?\s*(.*?)(?:\n#{1,3}\s|$)`),
		regexp.MustCompile(`(?is)(?:^|\n)#{0,3}\s*SUMMARY\s*[:-]?\s*(.*?)(?:\n#{1,3}\s|$)`),
	}
	// Longer headings first so "RISK ANALYSIS" is not captured as "RISK".
	riskHeading      = regexp.MustCompile(`(?is)(?:^|\n)#{0,3}\s*(?:RİSK ANALİZİ|RISK ANALYSIS|Risk Analizi|RİSK|RISK)\s*[:-]?\s*(.*?)(?:\n#{1,3}\s|$)`)
	anyBullet        = regexp.MustCompile(`(?:^|\n)\s*[-*]\s+.+`)
	anyBulletPrefix  = regexp.MustCompile(`^\n?\s*[-*]\s+`)
	bulletPrefix     = regexp.MustCompile(`^\s*[-*]\s*`)
	riskLine         = regexp.MustCompile(`(?i)(High|Medium|Low|Yüksek|Orta|Mini)\s*[:\-–]\s*(.+)`)
	unescapeReplacer = strings.NewReplacer(`\r`, "\r", `\n`, "\n", `\t`, "\t", `\"`, `"`, `\'`, "'")
)

// Normalize converts raw model output into a Contract. It never fails: when no JSON
// object can be recovered it scrapes headings and bullets from the text instead.
func Normalize(raw string) Contract {
	if candidate, ok := extractJSONSubstring(raw); ok {
		if parsed, ok := parseObject(candidate); ok && hasContractKeys(parsed) {
			return normalizeParsed(parsed)
		}
	}

	if parsed, ok := parseObject(raw); ok && hasContractKeys(parsed) {
		return normalizeParsed(parsed)
	}

	unescaped := Unescape(raw)
	if candidate, ok := extractJSONSubstring(unescaped); ok {
		if parsed, ok := parseObject(candidate); ok && hasContractKeys(parsed) {
			return normalizeParsed(parsed)
		}
	}

	return parsePlainText(strings.TrimSpace(unescaped))
}

// Unescape resolves the backslash sequences models emit when they return JSON
// encoded inside a string.
func Unescape(s string) string {
	if s == "" {
		return s
	}
	s = unescapeReplacer.Replace(s)
	return unicodeEscape.ReplaceAllStringFunc(s, func(match string) string {
		groups := unicodeEscape.FindStringSubmatch(match)
		first := parseHex4(groups[1])
		if groups[2] == "" {
			return string(rune(first))
		}
		second := parseHex4(groups[2])
		if utf16.IsSurrogate(rune(first)) {
			if combined := utf16.DecodeRune(rune(first), rune(second)); combined != '\uFFFD' {
				return string(combined)
			}
		}
		return string(rune(first)) + string(rune(second))
	})
}

func parseHex4(value string) uint16 {
	parsed, _ := strconv.ParseUint(value, 16, 16)
	return uint16(parsed)
}

// extractJSONSubstring returns the body of the first fenced block, or the text
// between the first '{' and the last '}'.
func extractJSONSubstring(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	if match := fencedBlockPattern.FindStringSubmatch(text); match != nil && match[1] != "" {
		return strings.TrimSpace(match[1]), true
	}
	first := strings.Index(text, "{")
	last := strings.LastIndex(text, "}")
	if first >= 0 && last > first {
		return strings.TrimSpace(text[first : last+1]), true
	}
	return "", false
}

// parseObject tries a strict parse, then an unescaped parse, then an unescaped
// parse with wrapping quotes removed.
func parseObject(text string) (map[string]any, bool) {
	if text == "" {
		return nil, false
	}
	attempts := []func() string{
		func() string { return text },
		func() string { return Unescape(text) },
		func() string {
			stripped := leadingQuotes.ReplaceAllString(text, "")
			stripped = trailingQuotes.ReplaceAllString(stripped, "")
			return Unescape(stripped)
		},
	}
	for _, attempt := range attempts {
		var value any
		if err := json.Unmarshal([]byte(attempt()), &value); err != nil {
			continue
		}
		object, ok := value.(map[string]any)
		return object, ok
	}
	return nil, false
}

func hasContractKeys(parsed map[string]any) bool {
	return truthy(parsed["contract"]) || truthy(parsed["summary"]) || truthy(parsed["riskAnalysis"])
}

func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	default:
		return true
	}
}

func normalizeParsed(parsed map[string]any) Contract {
	var contractRaw any = ""
	for _, key := range []string{"contract", "text", "content"} {
		if value, ok := parsed[key]; ok && value != nil {
			contractRaw = value
			break
		}
	}

	var text string
	if s, ok := contractRaw.(string); ok {
		text = wrappedInQuotes.ReplaceAllString(Unescape(s), "$1")
		text = strings.TrimSpace(text)
	} else {
		encoded, _ := json.Marshal(contractRaw)
		text = string(encoded)
	}

	var summary []string
	switch v := parsed["summary"].(type) {
	case []any:
		summary = make([]string, 0, len(v))
		for _, item := range v {
			summary = append(summary, stringify(item))
		}
	default:
		if truthy(v) {
			summary = []string{stringify(v)}
		} else {
			summary = []string{summaryMissing}
		}
	}

	var risks []Risk
	if items, ok := parsed["riskAnalysis"].([]any); ok {
		risks = make([]Risk, 0, len(items))
		for _, item := range items {
			if item == nil {
				continue
			}
			risk := Risk{Level: LevelMedium, Description: stringify(item)}
			if object, ok := item.(map[string]any); ok {
				if level, ok := object["level"]; ok && level != nil {
					risk.Level = stringify(level)
				}
				if description, ok := object["description"]; ok && description != nil {
					risk.Description = stringify(description)
				}
			}
			risks = append(risks, risk)
		}
	}
	if len(summary) == 0 {
		summary = []string{summaryMissing}
	}
	if len(risks) == 0 {
		risks = []Risk{{Level: LevelMedium, Description: riskMissing}}
	}

	return Contract{Contract: text, Summary: summary, RiskAnalysis: risks}
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}

func parsePlainText(text string) Contract {
	result := Contract{Contract: strings.TrimSpace(text)}

	for _, heading := range summaryHeadings {
		match := heading.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		var bullets []string
		for _, line := range strings.Split(match[1], "\n") {
			line = strings.TrimSpace(bulletPrefix.ReplaceAllString(line, ""))
			if line != "" {
				bullets = append(bullets, line)
			}
		}
		if len(bullets) > 0 {
			result.Summary = limit(bullets, maxPlainTextSummaries)
		}
		break
	}

	if len(result.Summary) == 0 {
		for _, bullet := range anyBullet.FindAllString(text, -1) {
			result.Summary = append(result.Summary, strings.TrimSpace(anyBulletPrefix.ReplaceAllString(strings.TrimLeft(bullet, " \t\r"), "")))
			if len(result.Summary) == maxPlainTextSummaries {
				break
			}
		}
	}

	if match := riskHeading.FindStringSubmatch(text); match != nil {
		for _, line := range strings.Split(match[1], "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			result.RiskAnalysis = append(result.RiskAnalysis, parseRiskLine(line))
		}
	}

	if len(result.Summary) == 0 {
		result.Summary = []string{summaryNotExtracted}
	}
	if len(result.RiskAnalysis) == 0 {
		result.RiskAnalysis = []Risk{{Level: LevelMedium, Description: riskNotExtracted}}
	}
	return result
}

func parseRiskLine(line string) Risk {
	match := riskLine.FindStringSubmatch(line)
	if match == nil {
		return Risk{Level: LevelMedium, Description: line}
	}
	return Risk{Level: riskLevel(match[1]), Description: strings.TrimSpace(match[2])}
}

// riskLevel maps the Turkish level words. English words are kept as written.
func riskLevel(level string) string {
	switch strings.ToLower(level) {
	case "yüksek":
		return LevelHigh
	case "orta":
		return LevelMedium
	case "mini":
		return LevelLow
	default:
		return level
	}
}

func limit(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
