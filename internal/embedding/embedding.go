package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/kevinmichaelchen/trend-watch/internal/models"
	openai "github.com/sashabaranov/go-openai"
)

// Client embeds repository summaries and search queries through an
// OpenAI-compatible embeddings endpoint.
type Client struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

// NewClient builds a client. dimensions of zero leaves the model's default.
func NewClient(baseURL, apiKey, model string, dimensions int) *Client {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	return &Client{
		client:     openai.NewClientWithConfig(cfg),
		model:      openai.EmbeddingModel(model),
		dimensions: dimensions,
	}
}

const maxBatchSize = 256

// Text is the document embedded for one record.
func Text(fullName, summary string) string {
	return fmt.Sprintf("%s: %s", fullName, summary)
}

func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += maxBatchSize {
		end := min(start+maxBatchSize, len(texts))
		batch := texts[start:end]

		resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input:      batch,
			Model:      c.model,
			Dimensions: c.dimensions,
		})
		if err != nil {
			return nil, fmt.Errorf("creating embeddings (batch %d-%d): %w", start, end, err)
		}

		for _, emb := range resp.Data {
			if emb.Index < 0 || emb.Index >= len(batch) {
				return nil, fmt.Errorf("%w: embedding index %d out of range", models.ErrInvalidResponse, emb.Index)
			}
			vectors[start+emb.Index] = emb.Embedding
		}
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("%w: no embedding for input %d", models.ErrInvalidResponse, i)
		}
	}
	return vectors, nil
}

func (c *Client) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := c.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}
