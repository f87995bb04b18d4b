package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
)

const DefaultEmbeddingModel = "gemini-embedding-001"

// Embedder produces vectors for one task type. Snippets are embedded as
// retrieval documents and search queries as retrieval queries.
type Embedder struct {
	client   *Client
	model    string
	taskType genai.TaskType
}

func (c *Client) DocumentEmbedder(model string) *Embedder {
	return c.embedder(model, genai.TaskTypeRetrievalDocument)
}

func (c *Client) QueryEmbedder(model string) *Embedder {
	return c.embedder(model, genai.TaskTypeRetrievalQuery)
}

func (c *Client) embedder(model string, task genai.TaskType) *Embedder {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &Embedder{client: c, model: model, taskType: task}
}

func (e *Embedder) Model() string {
	return e.model
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	client, err := e.client.current(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.client.timeout)
	defer cancel()

	slog.DebugContext(ctx, "embedding content", "model", e.model, "length", len(text))
	em := client.EmbeddingModel(e.model)
	em.TaskType = e.taskType
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, err
	}

	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("empty embedding received")
	}
	return res.Embedding.Values, nil
}
