// Package enrich calls the external generative model to produce summaries,
// tags, and claims for ingested text.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/dmahlow/lorekeep/internal/knowledge"
)

// Providers supported for enrichment.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// maxInputChars caps the text sent to the model per call.
const maxInputChars = 24 * 1024

const systemPrompt = `You are a knowledge curation assistant. Given a document, respond with a JSON object:
{"summary": "2-4 sentence summary", "tags": ["short", "topic", "tags"], "claims": ["standalone factual claims from the document"]}
Respond with JSON only, no surrounding prose.`

// Config selects the enrichment provider and model.
type Config struct {
	Provider  string
	Model     string
	ServerURL string
	APIKey    string
}

// Summarizer produces enrichments from cleaned text.
type Summarizer struct {
	llm llms.Model
}

// New creates a Summarizer for the configured provider.
func New(cfg Config) (*Summarizer, error) {
	var (
		model llms.Model
		err   error
	)
	switch cfg.Provider {
	case ProviderOllama, "":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.ServerURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.ServerURL))
		}
		model, err = ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai api key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.APIKey),
			openai.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported enrichment provider: %s", cfg.Provider)
	}
	return &Summarizer{llm: model}, nil
}

// NewWithModel wraps an existing model (primarily for testing).
func NewWithModel(model llms.Model) *Summarizer {
	return &Summarizer{llm: model}
}

// enrichmentPayload is the JSON shape the model is asked to produce.
type enrichmentPayload struct {
	Summary string   `json:"summary"`
	Tags    []string `json:"tags"`
	Claims  []string `json:"claims"`
}

// Summarize sends the text to the model and parses the structured response.
// Failures carry the AiProcessingError kind so the retry scheduler treats
// them as transient by default.
func (s *Summarizer) Summarize(ctx context.Context, text string) (knowledge.Enrichment, error) {
	if len(text) > maxInputChars {
		text = text[:maxInputChars]
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, text),
	}
	resp, err := s.llm.GenerateContent(ctx, messages)
	if err != nil {
		return knowledge.Enrichment{}, knowledge.WrapError(knowledge.KindAIProcessingError, "generate enrichment", err)
	}
	if len(resp.Choices) == 0 {
		return knowledge.Enrichment{}, knowledge.NewError(knowledge.KindAIProcessingError, "no response choices")
	}

	payload, err := parsePayload(resp.Choices[0].Content)
	if err != nil {
		return knowledge.Enrichment{}, knowledge.WrapError(knowledge.KindAIProcessingError, "parse enrichment response", err)
	}
	return knowledge.Enrichment{
		Summary: payload.Summary,
		Tags:    payload.Tags,
		Claims:  payload.Claims,
	}, nil
}

// parsePayload tolerates markdown code fences around the JSON body.
func parsePayload(raw string) (enrichmentPayload, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}
	var payload enrichmentPayload
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return enrichmentPayload{}, fmt.Errorf("unmarshal: %w", err)
	}
	return payload, nil
}
