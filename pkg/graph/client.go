package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/graphloom/loom/pkg/ai"
	"github.com/graphloom/loom/pkg/common"
	"github.com/graphloom/loom/pkg/store"
)

// ContentLoader materializes a document's raw bytes from its content
// reference. pkg/loader provides the production implementation; tests
// substitute an inline fake.
type ContentLoader interface {
	Load(ctx context.Context, ref common.ContentRef) ([]byte, error)
}

// Pipeline is the knowledge-graph construction pipeline: it segments
// documents, extracts candidate entities and relations per chunk,
// resolves candidates against the graph, verifies the proposed
// mutations, and writes them as atomic per-document batches.
//
// A Pipeline should be created using NewPipeline. It is safe for
// concurrent use, but runs against the same graph must be serialized by
// the caller; the queue worker does this with a per-graph lease.
type Pipeline struct {
	store  store.GraphStore
	ai     ai.Client
	loader ContentLoader

	tokenEncoder      string
	maxChunkTokens    int
	parallelDocuments int
	parallelChunks    int
	maxRetries        int
	writeRetries      int
	reextractRounds   int

	similarity      SimilarityFunc
	simThreshold    float64
	confidenceFloor float64

	singleValuedKeys map[string]struct{}
	symmetricTypes   map[string]struct{}
	selfPermitted    map[string]struct{}
}

// NewPipelineParams defines the configuration parameters for creating a
// new Pipeline. Store, AI, and Loader are required; zero values
// everywhere else select the defaults documented per field.
type NewPipelineParams struct {
	Store  store.GraphStore
	AI     ai.Client
	Loader ContentLoader

	// TokenEncoder is the tiktoken encoding used for chunk budgeting.
	// Defaults to "cl100k_base".
	TokenEncoder string
	// MaxChunkTokens bounds the token size of unstructured chunks.
	// Defaults to 512.
	MaxChunkTokens int
	// ParallelDocuments controls how many documents are processed in
	// parallel. Defaults to 4.
	ParallelDocuments int
	// ParallelChunks controls how many extraction calls run concurrently
	// within one document. Defaults to 8.
	ParallelChunks int
	// MaxRetries bounds capability call retries: extraction reformatting,
	// verification consults, description merges, and embedding calls.
	// Defaults to 3.
	MaxRetries int
	// WriteRetries bounds whole-batch store write attempts. Defaults to 3.
	WriteRetries int
	// ReextractRounds bounds verification-triggered re-extraction rounds
	// per document before a conflict becomes a permanent rejection.
	// Defaults to 2.
	ReextractRounds int

	// Similarity scores two normalized entity names in [0,1] for fuzzy
	// matching. Defaults to LevenshteinSimilarity.
	Similarity SimilarityFunc
	// SimilarityThreshold accepts fuzzy matches at or above this score.
	// Defaults to 0.8.
	SimilarityThreshold float64
	// ConfidenceFloor rejects mutations below this confidence.
	// Defaults to 0.35.
	ConfidenceFloor float64

	// SingleValuedKeys are attribute keys that can hold only one true
	// value; conflicting values trigger re-extraction. Nil selects the
	// defaults (birth_date, death_date, founded, dissolved); an explicit
	// empty slice disables the check.
	SingleValuedKeys []string
	// SymmetricRelations are relation types treated as undirected when
	// matching edges. Nil selects the defaults (RELATED_TO,
	// ASSOCIATED_WITH, PARTNER_OF, SPOUSE_OF, SIBLING_OF); an explicit
	// empty slice makes every type directional.
	SymmetricRelations []string
	// SelfRelations are relation types allowed to connect a node to
	// itself. Defaults to none.
	SelfRelations []string
}

// NewPipeline creates and returns a new Pipeline configured with the
// provided parameters.
//
// Example:
//
//	params := graph.NewPipelineParams{
//		Store:             storeClient,
//		AI:                aiClient,
//		Loader:            loaderClient,
//		ParallelDocuments: 2,
//		ParallelChunks:    25,
//	}
//	pipeline, err := graph.NewPipeline(params)
//	if err != nil {
//		log.Fatal(err)
//	}
func NewPipeline(params NewPipelineParams) (*Pipeline, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if params.AI == nil {
		return nil, fmt.Errorf("ai client is required")
	}
	if params.Loader == nil {
		return nil, fmt.Errorf("content loader is required")
	}

	p := &Pipeline{
		store:  params.Store,
		ai:     params.AI,
		loader: params.Loader,

		tokenEncoder:      params.TokenEncoder,
		maxChunkTokens:    params.MaxChunkTokens,
		parallelDocuments: params.ParallelDocuments,
		parallelChunks:    params.ParallelChunks,
		maxRetries:        params.MaxRetries,
		writeRetries:      params.WriteRetries,
		reextractRounds:   params.ReextractRounds,

		similarity:      params.Similarity,
		simThreshold:    params.SimilarityThreshold,
		confidenceFloor: params.ConfidenceFloor,
	}

	if p.tokenEncoder == "" {
		p.tokenEncoder = "cl100k_base"
	}
	if p.maxChunkTokens <= 0 {
		p.maxChunkTokens = 512
	}
	if p.parallelDocuments <= 0 {
		p.parallelDocuments = 4
	}
	if p.parallelChunks <= 0 {
		p.parallelChunks = 8
	}
	if p.maxRetries <= 0 {
		p.maxRetries = 3
	}
	if p.writeRetries <= 0 {
		p.writeRetries = 3
	}
	if p.reextractRounds <= 0 {
		p.reextractRounds = 2
	}
	if p.similarity == nil {
		p.similarity = LevenshteinSimilarity
	}
	if p.simThreshold <= 0 {
		p.simThreshold = 0.8
	}
	if p.confidenceFloor <= 0 {
		p.confidenceFloor = 0.35
	}

	singleValued := params.SingleValuedKeys
	if singleValued == nil {
		singleValued = []string{"birth_date", "death_date", "founded", "dissolved"}
	}
	p.singleValuedKeys = make(map[string]struct{}, len(singleValued))
	for _, key := range singleValued {
		key = strings.ToLower(strings.TrimSpace(key))
		if key != "" {
			p.singleValuedKeys[key] = struct{}{}
		}
	}

	symmetric := params.SymmetricRelations
	if symmetric == nil {
		symmetric = []string{"RELATED_TO", "ASSOCIATED_WITH", "PARTNER_OF", "SPOUSE_OF", "SIBLING_OF"}
	}
	p.symmetricTypes = typeSet(symmetric)
	p.selfPermitted = typeSet(params.SelfRelations)

	return p, nil
}

func typeSet(labels []string) map[string]struct{} {
	set := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		label = normalizeTypeLabel(label)
		if label != "" {
			set[label] = struct{}{}
		}
	}
	return set
}

func (p *Pipeline) isSingleValued(key string) bool {
	_, ok := p.singleValuedKeys[strings.ToLower(key)]
	return ok
}

func (p *Pipeline) isSymmetric(relationType string) bool {
	_, ok := p.symmetricTypes[relationType]
	return ok
}

func (p *Pipeline) isSelfPermitting(relationType string) bool {
	_, ok := p.selfPermitted[relationType]
	return ok
}
