package store

import (
	"context"
	"fmt"

	"github.com/graphloom/loom/pkg/ai"
	"golang.org/x/sync/errgroup"
)

// maxParallelEmbeds bounds goroutine growth when a client has no batch
// endpoint and every input becomes its own request.
const maxParallelEmbeds = 8

// ChunkRange invokes fn over consecutive [start, end) windows of at most
// chunkSize until total is covered, stopping at the first error. A
// chunkSize <= 0 means a single window over everything.
func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := start + chunkSize
		if end > total {
			end = total
		}
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}

// DedupeStrings drops empty strings and duplicates, keeping the first
// occurrence of each value in order. Returns nil when nothing survives.
func DedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

type embeddingBatcher interface {
	GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error)
}

// GenerateEmbeddings embeds all inputs, preserving order. Clients with a
// batch endpoint get the whole slice at once; the rest are called per
// input with bounded parallelism.
func GenerateEmbeddings(
	ctx context.Context,
	client ai.Client,
	inputs [][]byte,
) ([][]float32, error) {
	if client == nil {
		return nil, fmt.Errorf("ai client is nil")
	}
	if len(inputs) == 0 {
		return nil, nil
	}
	if b, ok := client.(embeddingBatcher); ok {
		return b.GenerateEmbeddings(ctx, inputs)
	}

	out := make([][]float32, len(inputs))

	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(maxParallelEmbeds)
	for i, input := range inputs {
		eg.Go(func() error {
			emb, err := client.GenerateEmbedding(ectx, input)
			if err != nil {
				return fmt.Errorf("embed input %d: %w", i, err)
			}
			out[i] = emb
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}
