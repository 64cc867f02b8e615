// Package query answers retrieval queries over a finished graph. It is a
// thin read path: embed the query text, find similar nodes, expand their
// neighborhood, and rank what comes back. It never mutates the store and
// makes no consistency guarantees beyond what the store already holds.
package query

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/graphloom/loom/pkg/ai"
	"github.com/graphloom/loom/pkg/common"
	"github.com/graphloom/loom/pkg/store"
)

// Service executes retrieval queries against one GraphStore.
type Service struct {
	store store.GraphStore
	ai    ai.Client

	limit    int
	minScore float64
	depth    int
	maxNodes int
	hopDecay float64
}

// NewServiceParams configures a Service. Store and AI are required; zero
// values elsewhere select the defaults documented per field.
type NewServiceParams struct {
	Store store.GraphStore
	AI    ai.Client

	// Limit caps the number of similarity seeds per query. Defaults to 8.
	Limit int
	// MinScore drops similarity hits scoring below it. Defaults to 0.25.
	MinScore float64
	// Depth bounds neighborhood expansion in hops from the seeds.
	// Defaults to 1.
	Depth int
	// MaxNodes bounds the total nodes a query returns. Defaults to 50.
	MaxNodes int
	// HopDecay scales a node's rank for every hop it sits away from the
	// best seed reaching it. Defaults to 0.5.
	HopDecay float64
}

// NewService creates a Service from params.
func NewService(params NewServiceParams) (*Service, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if params.AI == nil {
		return nil, fmt.Errorf("ai client is required")
	}

	s := &Service{
		store: params.Store,
		ai:    params.AI,

		limit:    params.Limit,
		minScore: params.MinScore,
		depth:    params.Depth,
		maxNodes: params.MaxNodes,
		hopDecay: params.HopDecay,
	}
	if s.limit <= 0 {
		s.limit = 8
	}
	if s.minScore <= 0 {
		s.minScore = 0.25
	}
	if s.depth <= 0 {
		s.depth = 1
	}
	if s.maxNodes <= 0 {
		s.maxNodes = 50
	}
	if s.hopDecay <= 0 || s.hopDecay > 1 {
		s.hopDecay = 0.5
	}
	return s, nil
}

// Hit is one ranked node of a query result. Seeds carry their similarity
// score and zero hops; neighbors carry the best seed score reaching them
// decayed once per hop.
type Hit struct {
	Node  common.Node `json:"node"`
	Score float64     `json:"score"`
	Hops  int         `json:"hops"`
}

// Result is the answer to one query: ranked nodes plus the edges
// connecting them, each carrying its evidence.
type Result struct {
	Nodes []Hit         `json:"nodes"`
	Edges []common.Edge `json:"edges"`
}

// NodeDetail is one node together with every edge touching it.
type NodeDetail struct {
	Node  common.Node   `json:"node"`
	Edges []common.Edge `json:"edges"`
}

// Query embeds text, finds the most similar nodes, expands their
// neighborhood and returns the ranked subgraph. A query matching nothing
// returns an empty Result rather than an error.
func (s *Service) Query(ctx context.Context, graphID string, text string) (*Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("query text is required")
	}

	embedding, err := s.ai.GenerateEmbedding(ctx, []byte(text))
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	seeds, err := s.store.SearchNodes(ctx, graphID, embedding, s.limit, s.minScore)
	if err != nil {
		return nil, fmt.Errorf("failed to search nodes: %w", err)
	}
	if len(seeds) == 0 {
		return &Result{}, nil
	}

	seedIDs := make([]string, 0, len(seeds))
	for _, seed := range seeds {
		seedIDs = append(seedIDs, seed.Node.ID)
	}

	nodes, edges, err := s.store.Neighborhood(ctx, graphID, seedIDs, s.depth, s.maxNodes)
	if err != nil {
		return nil, fmt.Errorf("failed to expand neighborhood: %w", err)
	}

	hits := s.rank(seeds, nodes, edges)

	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Confidence != edges[j].Confidence {
			return edges[i].Confidence > edges[j].Confidence
		}
		return edges[i].ID < edges[j].ID
	})

	return &Result{Nodes: hits, Edges: edges}, nil
}

// Node returns one node by id together with its edges.
func (s *Service) Node(ctx context.Context, graphID string, nodeID string) (*NodeDetail, error) {
	node, err := s.store.GetNode(ctx, graphID, nodeID)
	if err != nil {
		return nil, err
	}
	edges, err := s.store.GetNodeEdges(ctx, graphID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load node edges: %w", err)
	}
	return &NodeDetail{Node: *node, Edges: edges}, nil
}

// rank scores every returned node. Seeds keep their similarity score;
// every other node gets the best seed score reaching it over the returned
// edges, multiplied by hopDecay per hop. The relaxation runs one pass per
// allowed hop, so a high-scoring seed two hops away can outrank a weak
// seed one hop away.
func (s *Service) rank(seeds []store.ScoredNode, nodes []common.Node, edges []common.Edge) []Hit {
	scores := make(map[string]float64, len(nodes))
	hops := make(map[string]int, len(nodes))
	for _, seed := range seeds {
		if seed.Score > scores[seed.Node.ID] {
			scores[seed.Node.ID] = seed.Score
			hops[seed.Node.ID] = 0
		}
	}

	relax := func(from, to string) {
		score, ok := scores[from]
		if !ok {
			return
		}
		candidate := score * s.hopDecay
		if candidate > scores[to] {
			scores[to] = candidate
			hops[to] = hops[from] + 1
		}
	}
	for i := 0; i < s.depth; i++ {
		for _, e := range edges {
			relax(e.SourceID, e.TargetID)
			relax(e.TargetID, e.SourceID)
		}
	}

	hits := make([]Hit, 0, len(nodes))
	for _, n := range nodes {
		hits = append(hits, Hit{Node: n, Score: scores[n.ID], Hops: hops[n.ID]})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].Hops != hits[j].Hops {
			return hits[i].Hops < hits[j].Hops
		}
		return hits[i].Node.ID < hits[j].Node.ID
	})
	return hits
}
