package ollama

import (
	"context"
	"strings"

	"github.com/graphloom/loom/internal/util"
	"github.com/graphloom/loom/pkg/ai"

	"github.com/ollama/ollama/api"
)

const defaultDimensions = 1536

// GenerateEmbedding embeds one input with the configured embedding model.
// Blank input returns a zero vector so batch callers keep positional
// alignment.
func (c *GraphOllamaClient) GenerateEmbedding(
	ctx context.Context,
	input []byte,
) ([]float32, error) {
	dim := int(util.GetEnvNumeric("AI_EMBED_DIM", defaultDimensions))
	if strings.TrimSpace(string(input)) == "" {
		return make([]float32, dim), nil
	}

	rCtx, cancel := context.WithTimeout(ctx, c.requestTimeout())
	defer cancel()

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return nil, classifyErr(ctx, err)
	}
	defer c.reqLock.Release(1)

	if err := c.limiter.Wait(rCtx); err != nil {
		return nil, classifyErr(ctx, err)
	}

	req := &api.EmbedRequest{
		Model: c.embeddingModel,
		Input: string(input),
	}
	res, err := c.Client.Embed(rCtx, req)
	if err != nil {
		return nil, classifyErr(ctx, err)
	}

	c.modifyMetrics(ai.ModelMetrics{
		InputTokens: res.PromptEvalCount,
		TotalTokens: res.PromptEvalCount,
		DurationMs:  res.TotalDuration.Milliseconds(),
	})

	// The result is clamped to the configured dimension; short results
	// are zero-padded at the tail.
	out := make([]float32, dim)
	i := 0
	for _, vec := range res.Embeddings {
		for _, v := range vec {
			if i >= dim {
				break
			}
			out[i] = float32(v)
			i++
		}
	}
	return out, nil
}
