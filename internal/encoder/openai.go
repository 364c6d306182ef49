package encoder

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"jobmate/matching-service/internal/credentials"
	"jobmate/matching-service/internal/model"
)

// OpenAIModel calls an OpenAI-compatible /embeddings endpoint (OpenAI, a
// text-embeddings-inference server, Ollama). Keys come from the rotator.
type OpenAIModel struct {
	client openai.Client
	keys   *credentials.Rotator
	name   string
	useGPU bool
	dim    int
}

// OpenAILoader returns a Loader that builds the client and probes the
// endpoint once to learn the served dimension.
func OpenAILoader(baseURL, modelName string, useGPU bool, keys *credentials.Rotator) Loader {
	return func(ctx context.Context) (Model, error) {
		opts := []option.RequestOption{
			option.WithMaxRetries(0), // the rotator and Encoder own retries
		}
		if baseURL != "" {
			opts = append(opts, option.WithBaseURL(baseURL))
		}
		m := &OpenAIModel{
			client: openai.NewClient(opts...),
			keys:   keys,
			name:   modelName,
			useGPU: useGPU,
		}
		probe, err := m.Embed(ctx, []string{FallbackQuery})
		if err != nil {
			return nil, fmt.Errorf("probe %s: %w", modelName, err)
		}
		m.dim = len(probe[0])
		return m, nil
	}
}

// Dimension implements Model.
func (m *OpenAIModel) Dimension() int { return m.dim }

// Embed implements Model.
func (m *OpenAIModel) Embed(ctx context.Context, texts []string) ([]model.Vector, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(m.name),
	}
	return credentials.Call(ctx, m.keys, func(ctx context.Context, key string) ([]model.Vector, error) {
		reqOpts := []option.RequestOption{option.WithAPIKey(key)}
		if m.useGPU {
			// Honoured by self-hosted servers that pick a device per request.
			reqOpts = append(reqOpts, option.WithHeader("X-Device", "cuda"))
		}
		resp, err := m.client.Embeddings.New(ctx, params, reqOpts...)
		if err != nil {
			return nil, classifyOpenAI(err)
		}
		out := make([]model.Vector, len(texts))
		for _, d := range resp.Data {
			if d.Index < 0 || int(d.Index) >= len(out) {
				return nil, fmt.Errorf("embedding index %d out of range", d.Index)
			}
			v := make(model.Vector, len(d.Embedding))
			for i, f := range d.Embedding {
				v[i] = float32(f)
			}
			out[d.Index] = v
		}
		for i, v := range out {
			if v == nil {
				return nil, fmt.Errorf("no embedding returned for input %d", i)
			}
		}
		return out, nil
	})
}

func classifyOpenAI(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", credentials.ErrRateLimited, err)
	}
	return err
}
