package draft

import (
	"fmt"
	"strings"
	"time"
)

const promptTemplate = `
You are a professional legal-drafting assistant. Respond in %[1]s.
User-supplied details below (do not invent missing legal identifiers).
Description: %[2]s
Parties: %[3]s
Country: %[4]s
Currency: %[5]s
Deadline: %[6]s
Termination (days): %[7]s

OUTPUT INSTRUCTION (priority order):
1) Preferably return a valid JSON object ONLY (no code fences, no extra text) with keys:
   {
     "contract": "<full contract as markdown or plain text>",
     "summary": ["bullet1","bullet2",...],
     "riskAnalysis": [{"level":"High|Medium|Low","description":"..."}]
   }
   If you return JSON, ensure strings are not escaped JSON-within-JSON (return real JSON).

2) If you cannot return JSON, return CLEAN markdown in %[1]s with the following headings:
   # <TITLE>
   ## TARAFLAR (or PARTIES)
   ## PROJE KAPSAMI (or SCOPE)
   ## ÖDEME KOŞULLARI (or PAYMENT TERMS)
   ## TESLİM TARİHİ (or DELIVERY DATE)
   ## FİKRİ MÜLKİYET (or IP)
   ## FESİH KOŞULLARI (or TERMINATION)
   Then append:
   ## ÖZET (or SUMMARY) - 3 to 6 bullet points
   ## RISK ANALIZI (or RISK ANALYSIS) - up to 3 items like "High: reason"

IMPORTANT:
- If the user prompt is in Turkish, produce the contract and headings in Turkish. If in English, produce in English.
- Do not wrap the JSON in markdown code blocks. Do not output anything other than the JSON object if you can.
- If you cannot produce JSON, produce only the clean markdown described above.
`

// BuildPrompt renders the drafting instruction for params in the detected language.
func BuildPrompt(params Params, lang Language) string {
	parties := make([]string, 0, len(params.Parties))
	for _, party := range params.Parties {
		address := party.Address
		if address == "" {
			address = "adres yok"
		}
		parties = append(parties, fmt.Sprintf("%s (%s)", party.Name, address))
	}
	termination := params.Termination
	if termination == "" {
		termination = "Belirtilmemiş"
	}
	return fmt.Sprintf(promptTemplate,
		lang.DisplayName(),
		params.Prompt,
		strings.Join(parties, "; "),
		params.Country,
		params.Currency,
		FormatDeadline(params.Deadline),
		termination,
	)
}

var deadlineLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04"}

// FormatDeadline renders an ISO date as dd.mm.yyyy. Unparseable input is returned unchanged.
func FormatDeadline(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	for _, layout := range deadlineLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.Format("02.01.2006")
		}
	}
	return value
}
