package encoder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"google.golang.org/genai"

	"jobmate/matching-service/internal/credentials"
	"jobmate/matching-service/internal/model"
)

// GeminiModel embeds through the Gemini API, asking for exactly the
// configured output dimensionality. One client is kept per API key.
type GeminiModel struct {
	keys *credentials.Rotator
	name string
	dim  int

	mu      sync.Mutex
	clients map[string]*genai.Client
}

// GeminiLoader returns a Loader that probes the model once with the first
// available key.
func GeminiLoader(modelName string, dim int, keys *credentials.Rotator) Loader {
	return func(ctx context.Context) (Model, error) {
		m := &GeminiModel{
			keys:    keys,
			name:    modelName,
			dim:     dim,
			clients: make(map[string]*genai.Client),
		}
		if _, err := m.Embed(ctx, []string{FallbackQuery}); err != nil {
			return nil, fmt.Errorf("probe %s: %w", modelName, err)
		}
		return m, nil
	}
}

// Dimension implements Model.
func (m *GeminiModel) Dimension() int { return m.dim }

// Embed implements Model.
func (m *GeminiModel) Embed(ctx context.Context, texts []string) ([]model.Vector, error) {
	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, genai.NewContentFromText(t, genai.RoleUser))
	}
	dim := int32(m.dim)
	cfg := &genai.EmbedContentConfig{
		TaskType:             "SEMANTIC_SIMILARITY",
		OutputDimensionality: &dim,
	}

	return credentials.Call(ctx, m.keys, func(ctx context.Context, key string) ([]model.Vector, error) {
		client, err := m.client(ctx, key)
		if err != nil {
			return nil, err
		}
		resp, err := client.Models.EmbedContent(ctx, m.name, contents, cfg)
		if err != nil {
			return nil, classifyGemini(err)
		}
		if len(resp.Embeddings) != len(texts) {
			return nil, fmt.Errorf("gemini returned %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
		}
		out := make([]model.Vector, len(texts))
		for i, e := range resp.Embeddings {
			if e == nil {
				return nil, fmt.Errorf("no embedding returned for input %d", i)
			}
			out[i] = model.Vector(e.Values)
		}
		return out, nil
	})
}

func (m *GeminiModel) client(ctx context.Context, key string) (*genai.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clients[key]; ok {
		return c, nil
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	m.clients[key] = c
	return c, nil
}

func classifyGemini(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", credentials.ErrRateLimited, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr.Code == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", credentials.ErrRateLimited, err)
	}
	return err
}
