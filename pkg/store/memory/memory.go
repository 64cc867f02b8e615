package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/graphloom/loom/pkg/common"
	"github.com/graphloom/loom/pkg/store"
)

// GraphMemStore is an in-memory store.GraphStore. Tests and single-node
// deployments use it in place of Postgres; it mirrors the pgx store's
// upsert and not-found semantics exactly.
type GraphMemStore struct {
	mu     sync.RWMutex
	graphs map[string]*graphData
	runs   map[string]*common.RunState
}

type graphData struct {
	nodes map[string]*common.Node
	// keyed by common.EdgeKey so candidates that collapse to the same
	// (source, type, target) converge on one row, as in Postgres.
	edges map[string]*common.Edge
}

var _ store.GraphStore = (*GraphMemStore)(nil)

func NewGraphMemStore() *GraphMemStore {
	return &GraphMemStore{
		graphs: make(map[string]*graphData),
		runs:   make(map[string]*common.RunState),
	}
}

func (s *GraphMemStore) graph(graphID string) *graphData {
	g, ok := s.graphs[graphID]
	if !ok {
		g = &graphData{
			nodes: make(map[string]*common.Node),
			edges: make(map[string]*common.Edge),
		}
		s.graphs[graphID] = g
	}
	return g
}

func (s *GraphMemStore) LoadGraph(ctx context.Context, graphID string) ([]common.Node, []common.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.graphs[graphID]
	if !ok {
		return nil, nil, nil
	}

	nodes := make([]common.Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		nodes = append(nodes, *cloneNode(n))
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	edges := make([]common.Edge, 0, len(g.edges))
	for _, e := range g.edges {
		edges = append(edges, *cloneEdge(e))
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })

	return nodes, edges, nil
}

// ApplyBatch validates the whole batch before touching anything, so a
// bad mutation leaves the store unchanged.
func (s *GraphMemStore) ApplyBatch(ctx context.Context, batch *common.MutationBatch) error {
	if batch == nil || batch.Empty() {
		return nil
	}

	for _, m := range batch.Nodes {
		if m == nil || m.Node == nil {
			continue
		}
		if m.Node.ID == "" {
			return fmt.Errorf("node id is empty")
		}
	}
	for _, m := range batch.Edges {
		if m == nil || m.Edge == nil {
			continue
		}
		if m.Edge.ID == "" {
			return fmt.Errorf("edge id is empty")
		}
		if m.Edge.SourceID == "" || m.Edge.TargetID == "" {
			return fmt.Errorf("edge %s has empty endpoint", m.Edge.ID)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.graph(batch.GraphID)
	for _, m := range batch.Nodes {
		if m == nil || m.Node == nil {
			continue
		}
		incoming := cloneNode(m.Node)
		if existing, ok := g.nodes[incoming.ID]; ok && len(incoming.Embedding) == 0 {
			incoming.Embedding = existing.Embedding
		}
		g.nodes[incoming.ID] = incoming
	}
	for _, m := range batch.Edges {
		if m == nil || m.Edge == nil {
			continue
		}
		incoming := cloneEdge(m.Edge)
		key := common.EdgeKey(incoming.SourceID, incoming.Type, incoming.TargetID)
		if existing, ok := g.edges[key]; ok {
			incoming.ID = existing.ID
		}
		g.edges[key] = incoming
	}

	return nil
}

func (s *GraphMemStore) GetNode(ctx context.Context, graphID string, nodeID string) (*common.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.graphs[graphID]
	if !ok {
		return nil, store.ErrNotFound
	}
	n, ok := g.nodes[nodeID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneNode(n), nil
}

func (s *GraphMemStore) GetNodeEdges(ctx context.Context, graphID string, nodeID string) ([]common.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.graphs[graphID]
	if !ok {
		return nil, nil
	}

	var edges []common.Edge
	for _, e := range g.edges {
		if e.SourceID == nodeID || e.TargetID == nodeID {
			edges = append(edges, *cloneEdge(e))
		}
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })
	return edges, nil
}

func (s *GraphMemStore) SearchNodes(
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

	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.graphs[graphID]
	if !ok {
		return nil, nil
	}

	hits := make([]store.ScoredNode, 0, limit)
	for _, n := range g.nodes {
		if len(n.Embedding) == 0 {
			continue
		}
		score := cosineSimilarity(embedding, n.Embedding)
		if score < minScore {
			continue
		}
		hits = append(hits, store.ScoredNode{Node: *cloneNode(n), Score: score})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Node.ID < hits[j].Node.ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *GraphMemStore) Neighborhood(
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
		maxNodes = 200
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.graphs[graphID]
	if !ok {
		return nil, nil, nil
	}

	included := make(map[string]bool)
	var nodes []common.Node
	var frontier []string
	for _, id := range store.DedupeStrings(seedIDs) {
		n, ok := g.nodes[id]
		if !ok {
			continue
		}
		included[id] = true
		nodes = append(nodes, *cloneNode(n))
		frontier = append(frontier, id)
	}

	sortedEdges := make([]*common.Edge, 0, len(g.edges))
	for _, e := range g.edges {
		sortedEdges = append(sortedEdges, e)
	}
	sort.Slice(sortedEdges, func(i, j int) bool { return sortedEdges[i].ID < sortedEdges[j].ID })

	var edges []common.Edge
	seenEdges := make(map[string]bool)

	for hop := 0; hop < depth && len(frontier) > 0 && len(included) < maxNodes; hop++ {
		inFrontier := make(map[string]bool, len(frontier))
		for _, id := range frontier {
			inFrontier[id] = true
		}

		var next []string
		for _, e := range sortedEdges {
			if !inFrontier[e.SourceID] && !inFrontier[e.TargetID] {
				continue
			}
			if !seenEdges[e.ID] {
				seenEdges[e.ID] = true
				edges = append(edges, *cloneEdge(e))
			}
			for _, id := range []string{e.SourceID, e.TargetID} {
				if !included[id] && len(included)+len(next) < maxNodes {
					if _, ok := g.nodes[id]; !ok {
						continue
					}
					included[id] = true
					next = append(next, id)
				}
			}
		}
		if len(next) == 0 {
			break
		}
		for _, id := range next {
			nodes = append(nodes, *cloneNode(g.nodes[id]))
		}
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

func (s *GraphMemStore) CreateRun(ctx context.Context, run *common.RunState) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run id is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; ok {
		return fmt.Errorf("run %s already exists", run.ID)
	}

	stored := cloneRun(run)
	now := time.Now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.runs[run.ID] = stored
	return nil
}

func (s *GraphMemStore) GetRun(ctx context.Context, runID string) (*common.RunState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneRun(run), nil
}

func (s *GraphMemStore) UpdateRunStatus(ctx context.Context, runID string, status common.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	run.Status = status
	run.UpdatedAt = time.Now()
	return nil
}

func (s *GraphMemStore) SetRunVocabulary(ctx context.Context, runID string, vocab *common.TypeVocabulary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	run.Vocabulary = cloneVocabulary(vocab)
	run.UpdatedAt = time.Now()
	return nil
}

func (s *GraphMemStore) UpdateRunDocument(ctx context.Context, runID string, doc common.DocumentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}

	replaced := false
	for i := range run.Documents {
		if run.Documents[i].DocumentID == doc.DocumentID {
			run.Documents[i] = doc
			replaced = true
			break
		}
	}
	if !replaced {
		run.Documents = append(run.Documents, doc)
	}
	run.UpdatedAt = time.Now()
	return nil
}

func (s *GraphMemStore) FinalizeRun(ctx context.Context, runID string, status common.RunStatus, summary *common.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}

	now := time.Now()
	run.Status = status
	if summary != nil {
		sum := *summary
		run.Summary = &sum
	}
	run.FinishedAt = &now
	run.UpdatedAt = now
	return nil
}

func (s *GraphMemStore) RequestCancel(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	run.CancelRequested = true
	run.UpdatedAt = time.Now()
	return nil
}

func (s *GraphMemStore) CancelRequested(ctx context.Context, runID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return false, store.ErrNotFound
	}
	return run.CancelRequested, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func cloneNode(n *common.Node) *common.Node {
	out := *n
	out.Aliases = append([]string(nil), n.Aliases...)
	out.Evidence = append([]common.Evidence(nil), n.Evidence...)
	out.Embedding = append([]float32(nil), n.Embedding...)
	if n.Attributes != nil {
		out.Attributes = make(map[string][]common.AttributeValue, len(n.Attributes))
		for k, vals := range n.Attributes {
			out.Attributes[k] = append([]common.AttributeValue(nil), vals...)
		}
	}
	return &out
}

func cloneEdge(e *common.Edge) *common.Edge {
	out := *e
	out.Evidence = append([]common.Evidence(nil), e.Evidence...)
	return &out
}

func cloneVocabulary(v *common.TypeVocabulary) *common.TypeVocabulary {
	if v == nil {
		return nil
	}
	return &common.TypeVocabulary{
		EntityTypes:   append([]string(nil), v.EntityTypes...),
		RelationTypes: append([]string(nil), v.RelationTypes...),
	}
}

func cloneRun(r *common.RunState) *common.RunState {
	out := *r
	if r.Goal != nil {
		goal := *r.Goal
		out.Goal = &goal
	}
	out.Vocabulary = cloneVocabulary(r.Vocabulary)
	out.Documents = append([]common.DocumentStatus(nil), r.Documents...)
	if r.Summary != nil {
		sum := *r.Summary
		out.Summary = &sum
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		out.FinishedAt = &t
	}
	return &out
}
