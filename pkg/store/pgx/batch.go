package pgx

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/graphloom/loom/internal/util"
	"github.com/graphloom/loom/pkg/common"
	"github.com/graphloom/loom/pkg/logger"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

const upsertNodeSQL = `
INSERT INTO nodes (id, graph_id, name, type, aliases, description, attributes, evidence, embedding, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
ON CONFLICT (graph_id, id) DO UPDATE SET
	name = EXCLUDED.name,
	type = EXCLUDED.type,
	aliases = EXCLUDED.aliases,
	description = EXCLUDED.description,
	attributes = EXCLUDED.attributes,
	evidence = EXCLUDED.evidence,
	embedding = COALESCE(EXCLUDED.embedding, nodes.embedding),
	updated_at = now()`

const upsertEdgeSQL = `
INSERT INTO edges (id, graph_id, source_id, target_id, type, description, confidence, evidence, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
ON CONFLICT (graph_id, source_id, type, target_id) DO UPDATE SET
	description = EXCLUDED.description,
	confidence = EXCLUDED.confidence,
	evidence = EXCLUDED.evidence,
	updated_at = now()`

// ApplyBatch writes one document's approved mutations in a single
// transaction, nodes before edges so an edge never lands ahead of its
// endpoints. A failure rolls the whole batch back. Mutations carry full
// post-merge state keyed by stable identity, so a replayed batch
// converges on the same rows instead of duplicating them.
func (s *GraphDBStore) ApplyBatch(ctx context.Context, batch *common.MutationBatch) error {
	if batch == nil || batch.Empty() {
		return nil
	}

	s.dbLock.Lock()
	defer s.dbLock.Unlock()

	logger.Debug("[Store][ApplyBatch] Applying batch",
		"graph", batch.GraphID, "document", batch.DocumentID,
		"nodes", len(batch.Nodes), "edges", len(batch.Edges))

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, m := range batch.Nodes {
		if m == nil || m.Node == nil {
			continue
		}
		if err := upsertNode(ctx, tx, m.Node); err != nil {
			return err
		}
	}
	for _, m := range batch.Edges {
		if m == nil || m.Edge == nil {
			continue
		}
		if err := upsertEdge(ctx, tx, m.Edge); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func upsertNode(ctx context.Context, tx pgxv5.Tx, n *common.Node) error {
	if n.ID == "" {
		return fmt.Errorf("node id is empty")
	}
	aliases, err := json.Marshal(n.Aliases)
	if err != nil {
		return fmt.Errorf("failed to marshal node aliases: %w", err)
	}
	attributes, err := json.Marshal(n.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal node attributes: %w", err)
	}
	evidence, err := json.Marshal(n.Evidence)
	if err != nil {
		return fmt.Errorf("failed to marshal node evidence: %w", err)
	}

	var embedding any
	if len(n.Embedding) > 0 {
		embedding = pgvector.NewVector(n.Embedding)
	}

	_, err = tx.Exec(ctx, upsertNodeSQL,
		n.ID, n.GraphID, util.SanitizePostgresText(n.Name), n.Type,
		aliases, util.SanitizePostgresText(n.Description), attributes, evidence, embedding)
	if err != nil {
		return fmt.Errorf("failed to upsert node %s: %w", n.ID, err)
	}
	return nil
}

func upsertEdge(ctx context.Context, tx pgxv5.Tx, e *common.Edge) error {
	if e.ID == "" {
		return fmt.Errorf("edge id is empty")
	}
	evidence, err := json.Marshal(e.Evidence)
	if err != nil {
		return fmt.Errorf("failed to marshal edge evidence: %w", err)
	}

	_, err = tx.Exec(ctx, upsertEdgeSQL,
		e.ID, e.GraphID, e.SourceID, e.TargetID,
		e.Type, util.SanitizePostgresText(e.Description), e.Confidence, evidence)
	if err != nil {
		return fmt.Errorf("failed to upsert edge %s: %w", e.ID, err)
	}
	return nil
}
