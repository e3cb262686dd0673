package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/maildigest/ai"
	"google.golang.org/genai"
)

// models is the subset of genai.Models used here.
type models interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Provider implements ai.AIProvider on the Gemini API.
type Provider struct {
	embedder  *Embedder
	completer *Completer
	logger    *slog.Logger
}

// NewProvider creates a Gemini-backed provider. config.Backend must be "gemini".
func NewProvider(ctx context.Context, config *ai.Config) (ai.AIProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Backend != ai.BackendGemini {
		return nil, fmt.Errorf("%w: backend %q is not gemini", ai.ErrInvalidConfig, config.Backend)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return newProvider(client.Models, config), nil
}

func newProvider(m models, config *ai.Config) *Provider {
	return &Provider{
		embedder: &Embedder{
			models: m,
			model:  config.EmbeddingModel,
			logger: slog.Default().With("component", "gemini-embedder"),
		},
		completer: &Completer{
			models:      m,
			model:       config.CompletionModel,
			temperature: float32(config.Temperature),
			logger:      slog.Default().With("component", "gemini-completer"),
		},
		logger: slog.Default().With("component", "gemini-provider"),
	}
}

func (p *Provider) Embedder() ai.Embedder {
	return p.embedder
}

func (p *Provider) Completer() ai.Completer {
	return p.completer
}

func (p *Provider) Close() error {
	p.logger.Debug("closing Gemini provider")
	return nil
}

// Embedder implements ai.Embedder with Models.EmbedContent.
type Embedder struct {
	models models
	model  string
	logger *slog.Logger
}

var _ ai.Embedder = (*Embedder)(nil)

func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts sends one content entry per text in a single request.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
	}

	e.logger.Debug("generating embeddings for texts", "count", len(texts))
	resp, err := e.models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{})
	if err != nil {
		return nil, fmt.Errorf("failed to embed content: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d for %d texts", ai.ErrEmbeddingCount, len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		vectors[i] = emb.Values
	}
	return vectors, nil
}

// Completer implements ai.Completer with Models.GenerateContent.
// System turns are merged into the request's system instruction.
type Completer struct {
	models      models
	model       string
	temperature float32
	logger      *slog.Logger
}

var _ ai.Completer = (*Completer)(nil)

func (c *Completer) Complete(ctx context.Context, turns []ai.Turn) (string, error) {
	var (
		system   []*genai.Part
		contents []*genai.Content
	)
	for _, turn := range turns {
		// Gemini rejects requests containing an empty text part.
		if strings.TrimSpace(turn.Text) == "" {
			continue
		}
		switch turn.Role {
		case ai.RoleSystem:
			system = append(system, genai.NewPartFromText(turn.Text))
		case ai.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(turn.Text, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(turn.Text, genai.RoleUser))
		}
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(c.temperature),
	}
	if len(system) > 0 {
		config.SystemInstruction = &genai.Content{Parts: system}
	}

	resp, err := c.models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	text := resp.Text()
	if text == "" && len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", ai.ErrEmptyResponse)
	}
	return text, nil
}
