package graph

import (
	"context"

	"github.com/graphloom/loom/internal/util"
	"github.com/graphloom/loom/pkg/common"
	"github.com/graphloom/loom/pkg/logger"
	"github.com/graphloom/loom/pkg/store"
)

// assembleBatch collects the mutations that survived verification, in
// resolution order.
func (r *docResolver) assembleBatch(outcome verifyOutcome) *common.MutationBatch {
	batch := &common.MutationBatch{GraphID: r.graphID, DocumentID: r.documentID}
	for _, id := range r.nodeOrder {
		if _, ok := outcome.rejectedNodes[id]; ok {
			continue
		}
		batch.Nodes = append(batch.Nodes, r.pendingNodes[id])
	}
	for _, key := range r.edgeOrder {
		if _, ok := outcome.rejectedEdges[key]; ok {
			continue
		}
		batch.Edges = append(batch.Edges, r.pendingEdges[key])
	}
	return batch
}

// writeBatch embeds the batch's nodes, applies the batch to the store
// with bounded retries, and folds it into the run index on success so
// later documents resolve against it.
func (p *Pipeline) writeBatch(ctx context.Context, run *runExecution, batch *common.MutationBatch) error {
	if batch.Empty() {
		return nil
	}

	p.embedBatch(ctx, batch)

	err := util.RetryErrWithContext(ctx, p.writeRetries, func(rCtx context.Context) error {
		return p.store.ApplyBatch(rCtx, batch)
	})
	if err != nil {
		return &common.StoreWriteError{DocumentID: batch.DocumentID, Attempts: p.writeRetries, Err: err}
	}

	run.ix.apply(batch)
	return nil
}

// embedBatch computes node embeddings from name and description. An
// embedding failure degrades to writing without vectors; the store then
// keeps whatever embedding a node already had.
func (p *Pipeline) embedBatch(ctx context.Context, batch *common.MutationBatch) {
	if len(batch.Nodes) == 0 {
		return
	}

	inputs := make([][]byte, len(batch.Nodes))
	for i, m := range batch.Nodes {
		inputs[i] = []byte(m.Node.Name + "\n" + m.Node.Description)
	}

	vectors, err := util.RetryWithContext(ctx, p.maxRetries, func(rCtx context.Context) ([][]float32, error) {
		return store.GenerateEmbeddings(rCtx, p.ai, inputs)
	})
	if err != nil {
		logger.Warn("[Write][Embed] embedding degraded, writing without vectors",
			"documentId", batch.DocumentID, "error", err)
		for _, m := range batch.Nodes {
			m.Node.Embedding = nil
		}
		return
	}

	for i, m := range batch.Nodes {
		m.Node.Embedding = vectors[i]
	}
}
