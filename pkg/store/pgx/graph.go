package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/graphloom/loom/pkg/common"
	"github.com/graphloom/loom/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

const defaultNeighborhoodNodes = 200

// idChunkSize caps the array parameter handed to ANY($n) lookups.
const idChunkSize = 500

const nodeColumns = `id, graph_id, name, type, aliases, description, attributes, evidence, embedding`

const edgeColumns = `id, graph_id, source_id, target_id, type, description, confidence, evidence`

// LoadGraph returns every node and edge of a graph in two scans. The
// resolution engine calls it once per run to seed its index.
func (s *GraphDBStore) LoadGraph(ctx context.Context, graphID string) ([]common.Node, []common.Edge, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE graph_id = $1`, graphID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load nodes: %w", err)
	}
	nodes, err := collectNodes(rows)
	if err != nil {
		return nil, nil, err
	}

	rows, err = s.conn.Query(ctx,
		`SELECT `+edgeColumns+` FROM edges WHERE graph_id = $1`, graphID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load edges: %w", err)
	}
	edges, err := collectEdges(rows)
	if err != nil {
		return nil, nil, err
	}

	return nodes, edges, nil
}

func (s *GraphDBStore) GetNode(ctx context.Context, graphID string, nodeID string) (*common.Node, error) {
	row := s.conn.QueryRow(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE graph_id = $1 AND id = $2`, graphID, nodeID)

	node, err := scanNode(row)
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	return node, nil
}

func (s *GraphDBStore) GetNodeEdges(ctx context.Context, graphID string, nodeID string) ([]common.Edge, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT `+edgeColumns+` FROM edges
		 WHERE graph_id = $1 AND (source_id = $2 OR target_id = $2)`, graphID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get node edges: %w", err)
	}
	return collectEdges(rows)
}

// SearchNodes ranks nodes by cosine similarity against the query
// embedding, best first, dropping hits below minScore.
func (s *GraphDBStore) SearchNodes(
	ctx context.Context,
	graphID string,
	embedding []float32,
	limit int,
	minScore float64,
) ([]store.ScoredNode, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	vec := pgvector.NewVector(embedding)
	rows, err := s.conn.Query(ctx,
		`SELECT `+nodeColumns+`, 1 - (embedding <=> $2) AS score
		 FROM nodes
		 WHERE graph_id = $1 AND embedding IS NOT NULL AND 1 - (embedding <=> $2) >= $4
		 ORDER BY embedding <=> $2
		 LIMIT $3`, graphID, vec, limit, minScore)
	if err != nil {
		return nil, fmt.Errorf("failed to search nodes: %w", err)
	}
	defer rows.Close()

	hits := make([]store.ScoredNode, 0, limit)
	for rows.Next() {
		var (
			node  common.Node
			score float64
		)
		if err := scanNodeFields(rows, &node, &score); err != nil {
			return nil, err
		}
		hits = append(hits, store.ScoredNode{Node: node, Score: score})
	}
	return hits, rows.Err()
}

// Neighborhood expands breadth-first from the seed nodes. Edges whose
// far endpoint fell outside the node budget are dropped so the returned
// pair is always self-contained.
func (s *GraphDBStore) Neighborhood(
	ctx context.Context,
	graphID string,
	seedIDs []string,
	depth int,
	maxNodes int,
) ([]common.Node, []common.Edge, error) {
	if len(seedIDs) == 0 {
		return nil, nil, nil
	}
	if maxNodes <= 0 {
		maxNodes = defaultNeighborhoodNodes
	}

	frontier := store.DedupeStrings(seedIDs)
	nodes, err := s.nodesByIDs(ctx, graphID, frontier)
	if err != nil {
		return nil, nil, err
	}

	included := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		included[n.ID] = true
	}

	var edges []common.Edge
	seenEdges := make(map[string]bool)

	for hop := 0; hop < depth && len(frontier) > 0 && len(included) < maxNodes; hop++ {
		rows, err := s.conn.Query(ctx,
			`SELECT `+edgeColumns+` FROM edges
			 WHERE graph_id = $1 AND (source_id = ANY($2) OR target_id = ANY($2))`,
			graphID, frontier)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to expand neighborhood: %w", err)
		}
		hopEdges, err := collectEdges(rows)
		if err != nil {
			return nil, nil, err
		}

		var next []string
		for _, e := range hopEdges {
			if !seenEdges[e.ID] {
				seenEdges[e.ID] = true
				edges = append(edges, e)
			}
			for _, id := range []string{e.SourceID, e.TargetID} {
				if !included[id] && len(included)+len(next) < maxNodes {
					included[id] = true
					next = append(next, id)
				}
			}
		}
		if len(next) == 0 {
			break
		}

		fetched, err := s.nodesByIDs(ctx, graphID, next)
		if err != nil {
			return nil, nil, err
		}
		nodes = append(nodes, fetched...)
		frontier = next
	}

	kept := edges[:0]
	for _, e := range edges {
		if included[e.SourceID] && included[e.TargetID] {
			kept = append(kept, e)
		}
	}
	return nodes, kept, nil
}

func (s *GraphDBStore) nodesByIDs(ctx context.Context, graphID string, ids []string) ([]common.Node, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var nodes []common.Node
	err := store.ChunkRange(len(ids), idChunkSize, func(start, end int) error {
		rows, err := s.conn.Query(ctx,
			`SELECT `+nodeColumns+` FROM nodes WHERE graph_id = $1 AND id = ANY($2)`,
			graphID, ids[start:end])
		if err != nil {
			return fmt.Errorf("failed to get nodes: %w", err)
		}
		chunk, err := collectNodes(rows)
		if err != nil {
			return err
		}
		nodes = append(nodes, chunk...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNodeFields(row rowScanner, node *common.Node, extra ...any) error {
	var (
		aliases    []byte
		attributes []byte
		evidence   []byte
		embedding  *pgvector.Vector
	)
	dest := []any{
		&node.ID, &node.GraphID, &node.Name, &node.Type,
		&aliases, &node.Description, &attributes, &evidence, &embedding,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return err
	}

	if len(aliases) > 0 {
		if err := json.Unmarshal(aliases, &node.Aliases); err != nil {
			return fmt.Errorf("failed to unmarshal node aliases: %w", err)
		}
	}
	if len(attributes) > 0 {
		if err := json.Unmarshal(attributes, &node.Attributes); err != nil {
			return fmt.Errorf("failed to unmarshal node attributes: %w", err)
		}
	}
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &node.Evidence); err != nil {
			return fmt.Errorf("failed to unmarshal node evidence: %w", err)
		}
	}
	if embedding != nil {
		node.Embedding = embedding.Slice()
	}
	return nil
}

func scanNode(row rowScanner) (*common.Node, error) {
	var node common.Node
	if err := scanNodeFields(row, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

func collectNodes(rows pgxv5.Rows) ([]common.Node, error) {
	defer rows.Close()

	var nodes []common.Node
	for rows.Next() {
		var node common.Node
		if err := scanNodeFields(rows, &node); err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

func scanEdge(row rowScanner) (*common.Edge, error) {
	var (
		edge     common.Edge
		evidence []byte
	)
	err := row.Scan(
		&edge.ID, &edge.GraphID, &edge.SourceID, &edge.TargetID,
		&edge.Type, &edge.Description, &edge.Confidence, &evidence,
	)
	if err != nil {
		return nil, err
	}
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &edge.Evidence); err != nil {
			return nil, fmt.Errorf("failed to unmarshal edge evidence: %w", err)
		}
	}
	return &edge, nil
}

func collectEdges(rows pgxv5.Rows) ([]common.Edge, error) {
	defer rows.Close()

	var edges []common.Edge
	for rows.Next() {
		edge, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, *edge)
	}
	return edges, rows.Err()
}
