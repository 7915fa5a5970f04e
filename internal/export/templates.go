package export

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"blocksign/api/internal/draft"
)

// Raw HTML in contract text is escaped, not passed through.
var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// MarkdownToHTML renders contract markdown.
func MarkdownToHTML(source string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(source), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return template.HTML(buf.String()), nil
}

type labels struct {
	Summary   string
	Risks     string
	Contract  string
	Anchoring string
	Generated string
	Hash      string
	Document  string
	Digest    string
	Status    string
	Revision  string
	Level     map[string]string
}

var reportLabels = map[draft.Language]labels{
	draft.Turkish: {
		Summary: "Özet", Risks: "Risk Analizi", Contract: "Sözleşme Metni", Anchoring: "Zincir Kaydı",
		Generated: "Oluşturulma", Hash: "PDF SHA-256", Document: "Belge", Digest: "İşlem", Status: "Durum",
		Revision: "Revizyon",
		Level:    map[string]string{draft.LevelHigh: "Yüksek", draft.LevelMedium: "Orta", draft.LevelLow: "Düşük"},
	},
	draft.English: {
		Summary: "Summary", Risks: "Risk Analysis", Contract: "Contract", Anchoring: "On-chain record",
		Generated: "Generated", Hash: "PDF SHA-256", Document: "Document", Digest: "Transaction", Status: "Status",
		Revision: "Revision",
		Level:    map[string]string{draft.LevelHigh: "High", draft.LevelMedium: "Medium", draft.LevelLow: "Low"},
	},
}

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time) string {
		return t.UTC().Format("02.01.2006 15:04 UTC")
	},
}).Parse(reportHTML))

type templateData struct {
	Report
	Labels       labels
	ContractHTML template.HTML
	Anchored     bool
}

// RenderReportHTML renders the full report page.
func RenderReportHTML(report Report) (string, error) {
	if strings.TrimSpace(report.Contract) == "" {
		return "", ErrEmptyReport
	}
	body, err := MarkdownToHTML(report.Contract)
	if err != nil {
		return "", err
	}
	l, ok := reportLabels[report.Language]
	if !ok {
		l = reportLabels[draft.Turkish]
	}
	if report.Title == "" {
		report.Title = "Sözleşme"
	}
	data := templateData{
		Report:       report,
		Labels:       l,
		ContractHTML: body,
		Anchored:     report.DocumentID != "" || report.PDFSHA256 != "",
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return buf.String(), nil
}

const reportHTML = `<!DOCTYPE html>
<html lang="{{.Language}}">
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    @page { size: A4; margin: 18mm; }
    body { font-family: "DejaVu Sans", Arial, sans-serif; font-size: 11pt; line-height: 1.5; color: #111; }
    h1 { border-bottom: 2px solid #222; padding-bottom: 0.4rem; }
    .meta { color: #555; font-size: 0.85em; margin-bottom: 1.5rem; }
    .risk { padding: 0.3rem 0.6rem; margin: 0.3rem 0; border-left: 4px solid #999; }
    .risk-high { border-color: #c0392b; }
    .risk-medium { border-color: #e67e22; }
    .risk-low { border-color: #27ae60; }
    .contract { margin-top: 1.5rem; }
    table.anchor td { padding: 0.2rem 0.6rem 0.2rem 0; font-family: monospace; font-size: 0.85em; word-break: break-all; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{.Labels.Generated}}: {{formatDate .GeneratedAt}}{{if .Owner}} | {{.Owner}}{{end}}{{if .Revision}} | {{.Labels.Revision}} {{.Revision}}{{end}}</div>
  {{if .Summary}}
  <h2>{{.Labels.Summary}}</h2>
  <ul>{{range .Summary}}<li>{{.}}</li>{{end}}</ul>
  {{end}}
  {{if .Risks}}
  <h2>{{.Labels.Risks}}</h2>
  {{range .Risks}}<div class="risk risk-{{lower .Level}}"><strong>{{index $.Labels.Level .Level}}</strong> {{.Description}}</div>{{end}}
  {{end}}
  {{if .Anchored}}
  <h2>{{.Labels.Anchoring}}</h2>
  <table class="anchor">
    {{if .PDFSHA256}}<tr><td>{{.Labels.Hash}}</td><td>{{.PDFSHA256}}</td></tr>{{end}}
    {{if .DocumentID}}<tr><td>{{.Labels.Document}}</td><td>{{.DocumentID}}</td></tr>{{end}}
    {{if .TxDigest}}<tr><td>{{.Labels.Digest}}</td><td>{{.TxDigest}}</td></tr>{{end}}
    {{if .Status}}<tr><td>{{.Labels.Status}}</td><td>{{.Status}}</td></tr>{{end}}
    {{if .IPFSURL}}<tr><td>IPFS</td><td>{{.IPFSURL}}</td></tr>{{end}}
    {{if .WalrusURL}}<tr><td>Walrus</td><td>{{.WalrusURL}}</td></tr>{{end}}
  </table>
  {{end}}
  <h2>{{.Labels.Contract}}</h2>
  <div class="contract">{{.ContractHTML}}</div>
</body>
</html>`
