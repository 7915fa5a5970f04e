// Package draft turns a natural-language contract request into structured contract
// text, a short summary and a risk list, using a generative model whose free-form
// output is normalized on a best-effort basis.
package draft

import "errors"

// Party is a contract party as entered by the requester.
type Party struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Params describes the contract the requester wants drafted.
type Params struct {
	Prompt      string  `json:"prompt"`
	Parties     []Party `json:"parties"`
	Country     string  `json:"country"`
	Currency    string  `json:"currency"`
	Deadline    string  `json:"deadline"`
	Termination string  `json:"termination"`
}

// Risk is one annotated risk of a drafted contract.
type Risk struct {
	Level       string `json:"level"`
	Description string `json:"description"`
}

// Contract is the normalized model output.
type Contract struct {
	Contract     string   `json:"contract"`
	Summary      []string `json:"summary"`
	RiskAnalysis []Risk   `json:"riskAnalysis"`
}

const (
	LevelHigh   = "High"
	LevelMedium = "Medium"
	LevelLow    = "Low"
)

// Placeholder texts used when a field cannot be recovered from the model output.
const (
	summaryMissing        = "Özet bulunamadı"
	riskMissing           = "Risk analizi yok"
	summaryNotExtracted   = "Özet otomatik olarak üretilemedi."
	riskNotExtracted      = "Risk analizi otomatik olarak üretilemedi."
	maxPlainTextSummaries = 6
)

var (
	// ErrEmptyPrompt is returned when a draft is requested without a description.
	ErrEmptyPrompt = errors.New("draft prompt is empty")
	// ErrModelUnavailable indicates no generative model is configured.
	ErrModelUnavailable = errors.New("generative model not configured")
)
