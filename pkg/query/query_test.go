package query

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/graphloom/loom/pkg/ai"
	"github.com/graphloom/loom/pkg/common"
	"github.com/graphloom/loom/pkg/store"
	"github.com/graphloom/loom/pkg/store/memory"
)

// embedAI is an ai.Client that only embeds: queries map to fixed vectors
// so similarity against seeded node embeddings is predictable.
type embedAI struct {
	embeddings map[string][]float32
	err        error
}

func (a *embedAI) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	return "", nil
}

func (a *embedAI) GenerateCompletionWithFormat(ctx context.Context, name string, description string, prompt string, out any, opts ...ai.GenerateOption) error {
	return nil
}

func (a *embedAI) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	if a.err != nil {
		return nil, a.err
	}
	if emb, ok := a.embeddings[string(input)]; ok {
		return emb, nil
	}
	return []float32{0, 0, 0, 1}, nil
}

func (a *embedAI) ResetMetrics() {}

func (a *embedAI) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

func node(id, name string, emb []float32) common.Node {
	return common.Node{
		ID:        id,
		GraphID:   "g1",
		Name:      name,
		Type:      "ORGANIZATION",
		Aliases:   []string{name},
		Embedding: emb,
	}
}

func edge(id, sourceID, targetID, relType string, confidence float64) common.Edge {
	return common.Edge{
		ID:         id,
		GraphID:    "g1",
		SourceID:   sourceID,
		TargetID:   targetID,
		Type:       relType,
		Confidence: confidence,
	}
}

func seedGraph(t *testing.T, st *memory.GraphMemStore, nodes []common.Node, edges []common.Edge) {
	t.Helper()

	batch := &common.MutationBatch{GraphID: "g1", DocumentID: "doc-seed"}
	for i := range nodes {
		batch.Nodes = append(batch.Nodes, &common.NodeMutation{Op: common.MutationCreate, Node: &nodes[i]})
	}
	for i := range edges {
		batch.Edges = append(batch.Edges, &common.EdgeMutation{Op: common.MutationCreate, Edge: &edges[i]})
	}
	if err := st.ApplyBatch(context.Background(), batch); err != nil {
		t.Fatalf("ApplyBatch() error = %v", err)
	}
}

func TestNewServiceValidation(t *testing.T) {
	st := memory.NewGraphMemStore()

	if _, err := NewService(NewServiceParams{AI: &embedAI{}}); err == nil {
		t.Fatal("NewService() without store, want error")
	}
	if _, err := NewService(NewServiceParams{Store: st}); err == nil {
		t.Fatal("NewService() without ai client, want error")
	}

	svc, err := NewService(NewServiceParams{Store: st, AI: &embedAI{}, HopDecay: 1.5})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	if svc.limit != 8 || svc.minScore != 0.25 || svc.depth != 1 || svc.maxNodes != 50 {
		t.Errorf("defaults = limit %d minScore %v depth %d maxNodes %d",
			svc.limit, svc.minScore, svc.depth, svc.maxNodes)
	}
	if svc.hopDecay != 0.5 {
		t.Errorf("hopDecay = %v, want 0.5 for out-of-range param", svc.hopDecay)
	}
}

func TestQueryRanksByDecayedSimilarity(t *testing.T) {
	st := memory.NewGraphMemStore()
	seedGraph(t, st,
		[]common.Node{
			node("n-aster", "Aster Institute", []float32{1, 0, 0, 0}),
			node("n-borealis", "Borealis Fund", []float32{0, 1, 0, 0}),
			node("n-cobalt", "Cobalt Ridge", []float32{0, 0, 1, 0}),
			node("n-dune", "Dune Hollow", []float32{0, 0, 0, 1}),
		},
		[]common.Edge{
			edge("e-support", "n-aster", "n-borealis", "SUPPORTED_BY", 0.9),
			edge("e-locate", "n-borealis", "n-cobalt", "LOCATED_IN", 0.7),
		},
	)

	client := &embedAI{embeddings: map[string][]float32{
		"who supports the institute": {1, 0, 0, 0},
	}}
	svc, err := NewService(NewServiceParams{Store: st, AI: client, Depth: 2})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	res, err := svc.Query(context.Background(), "g1", "who supports the institute")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	wantOrder := []string{"n-aster", "n-borealis", "n-cobalt"}
	if len(res.Nodes) != len(wantOrder) {
		t.Fatalf("Query() = %d nodes, want %d", len(res.Nodes), len(wantOrder))
	}
	for i, id := range wantOrder {
		if res.Nodes[i].Node.ID != id {
			t.Fatalf("Query() node[%d] = %s, want %s", i, res.Nodes[i].Node.ID, id)
		}
	}

	wantScores := []float64{1.0, 0.5, 0.25}
	wantHops := []int{0, 1, 2}
	for i := range res.Nodes {
		if res.Nodes[i].Score != wantScores[i] {
			t.Errorf("node %s score = %v, want %v", res.Nodes[i].Node.ID, res.Nodes[i].Score, wantScores[i])
		}
		if res.Nodes[i].Hops != wantHops[i] {
			t.Errorf("node %s hops = %d, want %d", res.Nodes[i].Node.ID, res.Nodes[i].Hops, wantHops[i])
		}
	}

	if len(res.Edges) != 2 {
		t.Fatalf("Query() = %d edges, want 2", len(res.Edges))
	}
	if res.Edges[0].ID != "e-support" || res.Edges[1].ID != "e-locate" {
		t.Errorf("edge order = [%s %s], want confidence-descending [e-support e-locate]",
			res.Edges[0].ID, res.Edges[1].ID)
	}

	// The disconnected node never enters the result.
	for _, hit := range res.Nodes {
		if hit.Node.ID == "n-dune" {
			t.Error("disconnected node n-dune included in result")
		}
	}
}

func TestQueryTakesBestPathAcrossSeeds(t *testing.T) {
	st := memory.NewGraphMemStore()
	// Strong seed two hops from the contested node, weak seed one hop away.
	seedGraph(t, st,
		[]common.Node{
			node("n-meridian", "Meridian Group", []float32{1, 0, 0, 0}),
			node("n-willow", "Willow Trust", []float32{1, 3, 0, 0}),
			node("n-harbor", "Harbor Lab", []float32{0, 0, 1, 0}),
			node("n-crossing", "Crossing Point", []float32{0, 0, 0, 1}),
		},
		[]common.Edge{
			edge("e-fund", "n-meridian", "n-harbor", "FUNDS", 0.9),
			edge("e-host", "n-harbor", "n-crossing", "HOSTS", 0.8),
			edge("e-near", "n-willow", "n-crossing", "NEAR", 0.6),
		},
	)

	client := &embedAI{embeddings: map[string][]float32{
		"meridian": {1, 0, 0, 0},
	}}
	svc, err := NewService(NewServiceParams{Store: st, AI: client, Depth: 2})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	res, err := svc.Query(context.Background(), "g1", "meridian")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	wantOrder := []string{"n-meridian", "n-harbor", "n-willow", "n-crossing"}
	if len(res.Nodes) != len(wantOrder) {
		t.Fatalf("Query() = %d nodes, want %d", len(res.Nodes), len(wantOrder))
	}
	for i, id := range wantOrder {
		if res.Nodes[i].Node.ID != id {
			t.Fatalf("Query() node[%d] = %s, want %s", i, res.Nodes[i].Node.ID, id)
		}
	}

	// The weak seed scores its raw similarity, 1/sqrt(10).
	willow := res.Nodes[2]
	if willow.Score <= 0.25 || willow.Score >= 0.5 {
		t.Errorf("weak seed score = %v, want similarity between 0.25 and 0.5", willow.Score)
	}

	// The contested node takes the stronger two-hop path over the weak
	// one-hop path.
	crossing := res.Nodes[3]
	if crossing.Score != 0.25 {
		t.Errorf("contested node score = %v, want 0.25 via the strong seed", crossing.Score)
	}
	if crossing.Hops != 2 {
		t.Errorf("contested node hops = %d, want 2", crossing.Hops)
	}

	if len(res.Edges) != 3 {
		t.Fatalf("Query() = %d edges, want 3", len(res.Edges))
	}
	if res.Edges[0].ID != "e-fund" || res.Edges[1].ID != "e-host" || res.Edges[2].ID != "e-near" {
		t.Errorf("edge order = [%s %s %s], want [e-fund e-host e-near]",
			res.Edges[0].ID, res.Edges[1].ID, res.Edges[2].ID)
	}
}

func TestQueryDepthBoundsTraversal(t *testing.T) {
	st := memory.NewGraphMemStore()
	seedGraph(t, st,
		[]common.Node{
			node("n-aster", "Aster Institute", []float32{1, 0, 0, 0}),
			node("n-borealis", "Borealis Fund", []float32{0, 1, 0, 0}),
			node("n-cobalt", "Cobalt Ridge", []float32{0, 0, 1, 0}),
		},
		[]common.Edge{
			edge("e-support", "n-aster", "n-borealis", "SUPPORTED_BY", 0.9),
			edge("e-locate", "n-borealis", "n-cobalt", "LOCATED_IN", 0.7),
		},
	)

	client := &embedAI{embeddings: map[string][]float32{
		"aster": {1, 0, 0, 0},
	}}
	svc, err := NewService(NewServiceParams{Store: st, AI: client})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	res, err := svc.Query(context.Background(), "g1", "aster")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(res.Nodes) != 2 {
		t.Fatalf("Query() = %d nodes, want 2 at default depth 1", len(res.Nodes))
	}
	if res.Nodes[0].Node.ID != "n-aster" || res.Nodes[1].Node.ID != "n-borealis" {
		t.Errorf("nodes = [%s %s], want [n-aster n-borealis]",
			res.Nodes[0].Node.ID, res.Nodes[1].Node.ID)
	}
	if len(res.Edges) != 1 || res.Edges[0].ID != "e-support" {
		t.Errorf("edges = %#v, want only e-support", res.Edges)
	}
}

func TestQueryNoMatches(t *testing.T) {
	st := memory.NewGraphMemStore()
	seedGraph(t, st,
		[]common.Node{node("n-aster", "Aster Institute", []float32{1, 0, 0, 0})},
		nil,
	)

	// The default embedding is orthogonal to every seeded node.
	svc, err := NewService(NewServiceParams{Store: st, AI: &embedAI{}})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	res, err := svc.Query(context.Background(), "g1", "something unrelated")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(res.Nodes) != 0 || len(res.Edges) != 0 {
		t.Errorf("Query() = %d nodes %d edges, want empty result", len(res.Nodes), len(res.Edges))
	}
}

func TestQueryInputAndEmbedErrors(t *testing.T) {
	st := memory.NewGraphMemStore()

	svc, err := NewService(NewServiceParams{Store: st, AI: &embedAI{}})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	if _, err := svc.Query(context.Background(), "g1", "   "); err == nil {
		t.Fatal("Query() with blank text, want error")
	}

	errBoom := errors.New("embedder down")
	svc, err = NewService(NewServiceParams{Store: st, AI: &embedAI{err: errBoom}})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	_, err = svc.Query(context.Background(), "g1", "anything")
	if !errors.Is(err, errBoom) {
		t.Fatalf("Query() error = %v, want wrapped embed error", err)
	}
	if !strings.Contains(err.Error(), "failed to embed query") {
		t.Errorf("Query() error = %q, want embed failure context", err)
	}
}

func TestNodeDetail(t *testing.T) {
	st := memory.NewGraphMemStore()
	seedGraph(t, st,
		[]common.Node{
			node("n-aster", "Aster Institute", []float32{1, 0, 0, 0}),
			node("n-borealis", "Borealis Fund", []float32{0, 1, 0, 0}),
		},
		[]common.Edge{
			edge("e-support", "n-aster", "n-borealis", "SUPPORTED_BY", 0.9),
		},
	)

	svc, err := NewService(NewServiceParams{Store: st, AI: &embedAI{}})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	detail, err := svc.Node(context.Background(), "g1", "n-aster")
	if err != nil {
		t.Fatalf("Node() error = %v", err)
	}
	if detail.Node.Name != "Aster Institute" {
		t.Errorf("Node().Name = %q, want %q", detail.Node.Name, "Aster Institute")
	}
	if len(detail.Edges) != 1 || detail.Edges[0].ID != "e-support" {
		t.Errorf("Node().Edges = %#v, want only e-support", detail.Edges)
	}

	if _, err := svc.Node(context.Background(), "g1", "n-missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Node() unknown id error = %v, want store.ErrNotFound", err)
	}
}
