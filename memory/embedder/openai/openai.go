// Package openai implements memory.Embedder on any OpenAI-compatible
// embeddings endpoint (OpenAI, SiliconFlow, Ollama, vLLM).
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/logging"
	"github.com/becomeliminal/nim-recall/memory"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = string(openai.SmallEmbedding3)

// Config configures the embedder.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string

	// Dimensions is requested from models that support shortening and is
	// checked against every returned vector. Zero accepts the model default.
	Dimensions int
}

// Embedder calls the embeddings API.
type Embedder struct {
	client *openai.Client
	model  string
	dims   int
	logger *slog.Logger
}

var _ memory.Embedder = (*Embedder)(nil)

// New creates an embedder.
func New(cfg Config, logger *slog.Logger) *Embedder {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Embedder{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
		dims:   cfg.Dimensions,
		logger: logging.OrNop(logger).With("component", "embedder.openai"),
	}
}

// Embed implements memory.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in one request, in input order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no texts provided for embedding")
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: e.dims,
	})
	if err != nil {
		return nil, core.Unavailable(core.ErrEmbeddingUnavailable, fmt.Errorf("create embeddings: %w", err))
	}
	if len(resp.Data) != len(texts) {
		return nil, core.Unavailable(core.ErrEmbeddingUnavailable,
			fmt.Errorf("got %d embeddings for %d texts", len(resp.Data), len(texts)))
	}

	vectors := make([][]float32, len(texts))
	for i, d := range resp.Data {
		idx := d.Index
		if idx < 0 || idx >= len(texts) {
			idx = i
		}
		if e.dims > 0 && len(d.Embedding) != e.dims {
			return nil, fmt.Errorf("%w: model returned %d, want %d", core.ErrDimensionMismatch, len(d.Embedding), e.dims)
		}
		vectors[idx] = d.Embedding
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, core.Unavailable(core.ErrEmbeddingUnavailable, fmt.Errorf("missing embedding for text %d", i))
		}
	}

	e.logger.Debug("embedded", "texts", len(texts), "tokens", resp.Usage.TotalTokens)
	return vectors, nil
}

// Dimensions implements memory.Embedder. It is zero until configured.
func (e *Embedder) Dimensions() int {
	return e.dims
}
