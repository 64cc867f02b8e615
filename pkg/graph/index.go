package graph

import (
	"sort"

	"github.com/graphloom/loom/pkg/common"
)

// runIndex is the resolver's in-memory view of committed graph state.
// It is seeded from LoadGraph at run start and folded forward after each
// successful batch write, so later documents resolve against everything
// earlier documents committed. Lookups by identity key return node ids
// in insertion order.
//
// The index is not safe for concurrent use; the coordinator serializes
// access with the per-run resolve mutex.
type runIndex struct {
	nodes map[string]*common.Node
	keys  map[string][]string
	edges map[string]*common.Edge
}

func newRunIndex() *runIndex {
	return &runIndex{
		nodes: make(map[string]*common.Node),
		keys:  make(map[string][]string),
		edges: make(map[string]*common.Edge),
	}
}

func (ix *runIndex) load(nodes []common.Node, edges []common.Edge) {
	for i := range nodes {
		ix.insertNode(cloneNode(&nodes[i]))
	}
	for i := range edges {
		edge := cloneEdge(&edges[i])
		ix.edges[common.EdgeKey(edge.SourceID, edge.Type, edge.TargetID)] = edge
	}
}

// insertNode stores the node and registers its identity keys. Re-inserting
// an id replaces the stored node and registers any keys new aliases added;
// existing key registrations are kept.
func (ix *runIndex) insertNode(node *common.Node) {
	ix.nodes[node.ID] = node
	ix.addKey(common.IdentityKey(node.Name, node.Type), node.ID)
	for _, alias := range node.Aliases {
		ix.addKey(common.IdentityKey(alias, node.Type), node.ID)
	}
}

func (ix *runIndex) addKey(key, nodeID string) {
	for _, id := range ix.keys[key] {
		if id == nodeID {
			return
		}
	}
	ix.keys[key] = append(ix.keys[key], nodeID)
}

func (ix *runIndex) byKey(key string) []string {
	return ix.keys[key]
}

func (ix *runIndex) node(id string) *common.Node {
	return ix.nodes[id]
}

func (ix *runIndex) edge(key string) *common.Edge {
	return ix.edges[key]
}

// apply folds a successfully written batch into the committed view.
func (ix *runIndex) apply(batch *common.MutationBatch) {
	for _, m := range batch.Nodes {
		ix.insertNode(cloneNode(m.Node))
	}
	for _, m := range batch.Edges {
		edge := cloneEdge(m.Edge)
		ix.edges[common.EdgeKey(edge.SourceID, edge.Type, edge.TargetID)] = edge
	}
}

func cloneNode(node *common.Node) *common.Node {
	clone := *node
	clone.Aliases = append([]string(nil), node.Aliases...)
	clone.Evidence = append([]common.Evidence(nil), node.Evidence...)
	clone.Embedding = append([]float32(nil), node.Embedding...)
	if node.Attributes != nil {
		clone.Attributes = make(map[string][]common.AttributeValue, len(node.Attributes))
		for key, values := range node.Attributes {
			clone.Attributes[key] = append([]common.AttributeValue(nil), values...)
		}
	}
	return &clone
}

func cloneEdge(edge *common.Edge) *common.Edge {
	clone := *edge
	clone.Evidence = append([]common.Evidence(nil), edge.Evidence...)
	return &clone
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
