package common

// MutationOp tells whether a mutation creates a new graph element or
// merges into an existing one.
type MutationOp string

const (
	MutationCreate MutationOp = "create"
	MutationMerge  MutationOp = "merge"
)

// NodeMutation is one proposed node change inside a batch. Node carries
// the full post-merge state (the upsert payload); the Added* fields carry
// the per-document delta so verification can judge the change itself
// rather than the accumulated node.
//
// TriggeredBy records the candidate evidence that caused the create or
// merge, making every dedup decision auditable. Fuzzy merges additionally
// set SoftMerge and the similarity score that accepted them.
type NodeMutation struct {
	Op              MutationOp                  `json:"op"`
	Node            *Node                       `json:"node"`
	AddedAliases    []string                    `json:"added_aliases,omitempty"`
	AddedEvidence   []Evidence                  `json:"added_evidence,omitempty"`
	AddedAttributes map[string][]AttributeValue `json:"added_attributes,omitempty"`
	TriggeredBy     []Evidence                  `json:"triggered_by"`
	SoftMerge       bool                        `json:"soft_merge,omitempty"`
	Similarity      float64                     `json:"similarity,omitempty"`
	Confidence      float64                     `json:"confidence"`
}

// EdgeMutation is one proposed edge change inside a batch. Edge carries
// the full post-merge state keyed by (source, type, target).
type EdgeMutation struct {
	Op            MutationOp `json:"op"`
	Edge          *Edge      `json:"edge"`
	AddedEvidence []Evidence `json:"added_evidence,omitempty"`
	Confidence    float64    `json:"confidence"`
}

// MutationBatch is the unit of verification and write: every approved
// change one document contributes to the graph, expressed as idempotent
// upserts so a retried batch cannot duplicate data.
type MutationBatch struct {
	GraphID    string          `json:"graph_id"`
	DocumentID string          `json:"document_id"`
	Nodes      []*NodeMutation `json:"nodes"`
	Edges      []*EdgeMutation `json:"edges"`
}

// Empty reports whether the batch carries no mutations at all.
func (b *MutationBatch) Empty() bool {
	return len(b.Nodes) == 0 && len(b.Edges) == 0
}
