package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/graphloom/loom/internal/util"
	"github.com/graphloom/loom/pkg/ai"

	"github.com/openai/openai-go/v3"
)

const defaultDimensions = 1536

func embeddingDim() int {
	return int(util.GetEnvNumeric("AI_EMBED_DIM", defaultDimensions))
}

// GenerateEmbedding embeds one input with the configured embedding model.
func (c *GraphOpenAIClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	res, err := c.GenerateEmbeddings(ctx, [][]byte{input})
	if err != nil {
		return nil, err
	}
	if len(res) != 1 {
		return nil, fmt.Errorf("unexpected embedding result size: got %d want 1", len(res))
	}
	return res[0], nil
}

// GenerateEmbeddings embeds a batch in one request, preserving input
// order. Blank inputs never reach the provider; they come back as zero
// vectors so callers keep positional alignment.
func (c *GraphOpenAIClient) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	dim := embeddingDim()

	out := make([][]float32, len(inputs))
	texts := make([]string, 0, len(inputs))
	positions := make([]int, 0, len(inputs))
	for i, in := range inputs {
		text := string(in)
		if strings.TrimSpace(text) == "" {
			out[i] = make([]float32, dim)
			continue
		}
		texts = append(texts, text)
		positions = append(positions, i)
	}
	if len(texts) == 0 {
		return out, nil
	}

	vectors, err := c.embedTexts(ctx, texts, dim)
	if err != nil {
		return nil, err
	}
	for i, vec := range vectors {
		out[positions[i]] = vec
	}
	return out, nil
}

func (c *GraphOpenAIClient) embedTexts(ctx context.Context, texts []string, dim int) ([][]float32, error) {
	rCtx, cancel := context.WithTimeout(ctx, c.requestTimeout())
	defer cancel()

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return nil, classifyErr(ctx, err)
	}
	defer c.reqLock.Release(1)

	if err := c.limiter.Wait(rCtx); err != nil {
		return nil, classifyErr(ctx, err)
	}

	body := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: c.embeddingModel,
	}

	start := time.Now()
	response, err := c.EmbeddingClient.Embeddings.New(rCtx, body)
	if err != nil {
		return nil, classifyErr(ctx, err)
	}

	c.modifyMetrics(ai.ModelMetrics{
		InputTokens: int(response.Usage.PromptTokens),
		TotalTokens: int(response.Usage.TotalTokens),
		DurationMs:  time.Since(start).Milliseconds(),
	})

	if len(response.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response size mismatch: got %d want %d", len(response.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, item := range response.Data {
		idx := int(item.Index)
		if idx < 0 || idx >= len(texts) {
			return nil, fmt.Errorf("embedding index out of range: %d", item.Index)
		}
		// Every vector is clamped to the configured dimension; short
		// results are zero-padded at the tail.
		vec := make([]float32, dim)
		for i, v := range item.Embedding {
			if i >= dim {
				break
			}
			vec[i] = float32(v)
		}
		out[idx] = vec
	}
	for i := range out {
		if out[i] == nil {
			return nil, fmt.Errorf("missing embedding for index %d", i)
		}
	}
	return out, nil
}
