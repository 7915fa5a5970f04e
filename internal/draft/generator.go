package draft

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// Model produces raw text for a prompt.
type Model interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GenAIModel calls the Gemini API.
type GenAIModel struct {
	client *genai.Client
	model  string
}

func NewGenAIModel(ctx context.Context, apiKey, model string) (*GenAIModel, error) {
	if apiKey == "" {
		return nil, ErrModelUnavailable
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GenAIModel{client: client, model: model}, nil
}

func (m *GenAIModel) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := m.client.Models.GenerateContent(ctx, m.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return resp.Text(), nil
}

// Generator drafts contracts with a Model and normalizes the result.
type Generator struct {
	model  Model
	logger *zap.Logger
}

// NewGenerator accepts a nil model; Generate then fails with ErrModelUnavailable.
func NewGenerator(model Model, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{model: model, logger: logger}
}

func (g *Generator) Generate(ctx context.Context, params Params) (Contract, error) {
	if g.model == nil {
		return Contract{}, ErrModelUnavailable
	}
	if strings.TrimSpace(params.Prompt) == "" {
		return Contract{}, ErrEmptyPrompt
	}

	lang := DetectLanguage(params.Prompt)
	raw, err := g.model.Generate(ctx, BuildPrompt(params, lang))
	if err != nil {
		return Contract{}, err
	}
	contract := Normalize(raw)
	g.logger.Debug("contract drafted",
		zap.String("language", string(lang)),
		zap.Int("raw_bytes", len(raw)),
		zap.Int("summary_items", len(contract.Summary)),
		zap.Int("risk_items", len(contract.RiskAnalysis)),
	)
	return contract, nil
}
