package draft

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeModel struct {
	generate func(ctx context.Context, prompt string) (string, error)
	prompts  []string
}

func (f *fakeModel) Generate(ctx context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.generate(ctx, prompt)
}

func TestDetectLanguage(t *testing.T) {
	cases := []struct {
		name string
		text string
		want Language
	}{
		{name: "empty", text: "", want: Turkish},
		{name: "turkish words", text: "Taraflar arasında yazılım teslim sözleşmesi, ödeme 30 gün içinde", want: Turkish},
		{name: "english words", text: "A service agreement where the party will deliver the contract by the due day", want: English},
		{name: "tie goes to turkish", text: "xyz", want: Turkish},
		{name: "turkish letters only", text: "şşş and", want: Turkish},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DetectLanguage(tc.text))
		})
	}
}

func TestDetectLanguageOnlySamplesPrefix(t *testing.T) {
	text := strings.Repeat("x ", 300) + "the party agreement contract deliver"
	assert.Equal(t, Turkish, DetectLanguage(text))
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt(Params{
		Prompt:   "Web sitesi geliştirme",
		Parties:  []Party{{Name: "Ayşe", Address: "0xabc"}, {Name: "Bob"}},
		Country:  "TR",
		Currency: "TRY",
		Deadline: "2025-03-09",
	}, Turkish)

	assert.Contains(t, prompt, "Respond in Türkçe.")
	assert.Contains(t, prompt, "Parties: Ayşe (0xabc); Bob (adres yok)")
	assert.Contains(t, prompt, "Deadline: 09.03.2025")
	assert.Contains(t, prompt, "Termination (days): Belirtilmemiş")
	assert.Contains(t, prompt, "return CLEAN markdown in Türkçe")
}

func TestFormatDeadline(t *testing.T) {
	assert.Equal(t, "", FormatDeadline(""))
	assert.Equal(t, "31.12.2024", FormatDeadline("2024-12-31"))
	assert.Equal(t, "01.02.2025", FormatDeadline("2025-02-01T10:00:00Z"))
	assert.Equal(t, "next week", FormatDeadline("next week"))
}

func TestGeneratorGenerate(t *testing.T) {
	model := &fakeModel{generate: func(context.Context, string) (string, error) {
		return `{"contract":"C","summary":["s"],"riskAnalysis":[{"level":"Low","description":"r"}]}`, nil
	}}
	gen := NewGenerator(model, zaptest.NewLogger(t))

	got, err := gen.Generate(context.Background(), Params{Prompt: "The party shall deliver the agreement"})

	require.NoError(t, err)
	assert.Equal(t, "C", got.Contract)
	assert.Equal(t, []Risk{{Level: "Low", Description: "r"}}, got.RiskAnalysis)
	require.Len(t, model.prompts, 1)
	assert.Contains(t, model.prompts[0], "Respond in English.")
}

func TestGeneratorErrors(t *testing.T) {
	_, err := NewGenerator(nil, nil).Generate(context.Background(), Params{Prompt: "x"})
	assert.ErrorIs(t, err, ErrModelUnavailable)

	model := &fakeModel{generate: func(context.Context, string) (string, error) {
		return "", errors.New("quota exceeded")
	}}
	gen := NewGenerator(model, nil)

	_, err = gen.Generate(context.Background(), Params{Prompt: "  "})
	assert.ErrorIs(t, err, ErrEmptyPrompt)
	assert.Empty(t, model.prompts)

	_, err = gen.Generate(context.Background(), Params{Prompt: "sözleşme"})
	assert.EqualError(t, err, "quota exceeded")
}

func TestNewGenAIModelRequiresKey(t *testing.T) {
	_, err := NewGenAIModel(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrModelUnavailable)
}
