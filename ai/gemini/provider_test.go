package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/poiesic/maildigest/ai"
	"github.com/poiesic/maildigest/summary"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeModels struct {
	gotContents []*genai.Content
	gotConfig   *genai.GenerateContentConfig
	reply       string
	embedErr    error
	dropVector  bool
}

// GenerateContent fails on empty text parts the way the Gemini API does.
func (f *fakeModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.gotContents = contents
	f.gotConfig = config
	for _, c := range contents {
		for _, part := range c.Parts {
			if part.Text == "" {
				return nil, errors.New("Error 400, INVALID_ARGUMENT: contents.parts must not be empty")
			}
		}
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: genai.NewContentFromText(f.reply, genai.RoleModel)},
		},
	}, nil
}

func (f *fakeModels) EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	resp := &genai.EmbedContentResponse{}
	for i := range contents {
		resp.Embeddings = append(resp.Embeddings, &genai.ContentEmbedding{Values: []float32{float32(i), 1}})
	}
	if f.dropVector {
		resp.Embeddings = resp.Embeddings[:len(resp.Embeddings)-1]
	}
	return resp, nil
}

func testConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithBackend(ai.BackendGemini),
		ai.WithAPIKey("k"),
		ai.WithEmbeddingModel("gemini-embedding-001"),
		ai.WithCompletionModel("gemini-2.5-flash"),
	)
}

func TestCompleter_SplitsSystemTurns(t *testing.T) {
	fake := &fakeModels{reply: "summary text"}
	p := newProvider(fake, testConfig())

	text, err := p.Completer().Complete(context.Background(), []ai.Turn{
		{Role: ai.RoleSystem, Text: "one"},
		{Role: ai.RoleSystem, Text: "two"},
		{Role: ai.RoleUser, Text: "body"},
		{Role: ai.RoleUser, Text: "ask"},
	})
	require.NoError(t, err)
	assert.Equal(t, "summary text", text)

	require.NotNil(t, fake.gotConfig.SystemInstruction)
	assert.Len(t, fake.gotConfig.SystemInstruction.Parts, 2)
	require.Len(t, fake.gotContents, 2)
	assert.Equal(t, "body", fake.gotContents[0].Parts[0].Text)
	assert.Equal(t, "ask", fake.gotContents[1].Parts[0].Text)
}

func TestCompleter_DropsEmptyTurns(t *testing.T) {
	fake := &fakeModels{reply: "nothing to summarize"}
	p := newProvider(fake, testConfig())

	text, err := p.Completer().Complete(context.Background(), summary.BuildPrompt(nil))
	require.NoError(t, err)
	assert.Equal(t, "nothing to summarize", text)

	require.Len(t, fake.gotContents, 1)
	assert.Equal(t, "Write a summary of the emails above.", fake.gotContents[0].Parts[0].Text)
	for _, part := range fake.gotConfig.SystemInstruction.Parts {
		assert.NotEmpty(t, part.Text)
	}
}

func TestEmbedder_EmbedTexts(t *testing.T) {
	p := newProvider(&fakeModels{}, testConfig())

	vectors, err := p.Embedder().EmbedTexts(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 1}}, vectors)
}

func TestEmbedder_CountMismatch(t *testing.T) {
	p := newProvider(&fakeModels{dropVector: true}, testConfig())

	_, err := p.Embedder().EmbedTexts(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, ai.ErrEmbeddingCount)
}

func TestEmbedder_Error(t *testing.T) {
	boom := errors.New("quota")
	p := newProvider(&fakeModels{embedErr: boom}, testConfig())

	_, err := p.Embedder().EmbedText(context.Background(), "a")
	assert.ErrorIs(t, err, boom)
}

func TestNewProvider_RequiresGeminiBackend(t *testing.T) {
	_, err := NewProvider(context.Background(), ai.DefaultConfig())
	assert.ErrorIs(t, err, ai.ErrInvalidConfig)
}
