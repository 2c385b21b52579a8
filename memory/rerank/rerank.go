// Package rerank implements memory.Reranker against a Cohere/Jina style
// /v1/rerank endpoint (SiliconFlow, Jina, Voyage, text-embeddings-inference).
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/logging"
	"github.com/becomeliminal/nim-recall/memory"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "BAAI/bge-reranker-v2-m3"

// Config configures the client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client calls a rerank API.
type Client struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

var _ memory.Reranker = (*Client)(nil)

// New creates a Client. BaseURL may or may not end in /v1.
func New(cfg Config, logger *slog.Logger) *Client {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(strings.TrimSuffix(cfg.BaseURL, "/"), "/v1"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
		logger:  logging.OrNop(logger).With("component", "rerank"),
	}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float32 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank implements memory.Reranker. Results come back in the service's
// order; callers sort.
func (c *Client) Rerank(ctx context.Context, query string, documents []string, topN int) ([]memory.RerankResult, error) {
	if len(documents) == 0 {
		return []memory.RerankResult{}, nil
	}

	body, err := json.Marshal(rerankRequest{
		Model:     c.model,
		Query:     query,
		Documents: documents,
		TopN:      topN,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, core.Unavailable(core.ErrRerankUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, core.Unavailable(core.ErrRerankUnavailable,
			fmt.Errorf("rerank API error %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, core.Unavailable(core.ErrRerankUnavailable, fmt.Errorf("decode rerank response: %w", err))
	}

	results := make([]memory.RerankResult, len(result.Results))
	for i, r := range result.Results {
		results[i] = memory.RerankResult{Index: r.Index, Score: r.Score}
	}
	c.logger.Debug("reranked", "documents", len(documents), "results", len(results))
	return results, nil
}
