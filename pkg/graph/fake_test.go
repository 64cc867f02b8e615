package graph

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/graphloom/loom/pkg/ai"
	"github.com/graphloom/loom/pkg/common"
	"github.com/graphloom/loom/pkg/store"
)

// fakeAI scripts the capability calls the pipeline makes. Extraction
// responses are selected by a substring of the prompt, which tests key
// on sentinel chunk text; every other call type has one scripted answer.
type fakeAI struct {
	mu          sync.Mutex
	extractions map[string]extractResponse
	extractFail map[string]int
	verdict     string
	verdictErr  error
	proposal    *vocabProposal
	proposalErr error
	review      *vocabReview
	reviewErr   error
	completion  string
	calls       map[string]int
}

func newFakeAI() *fakeAI {
	return &fakeAI{
		extractions: make(map[string]extractResponse),
		extractFail: make(map[string]int),
		calls:       make(map[string]int),
	}
}

func (f *fakeAI) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["completion"]++
	if f.completion != "" {
		return f.completion, nil
	}
	return "merged description", nil
}

func (f *fakeAI) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++

	switch v := out.(type) {
	case *extractResponse:
		for key, remaining := range f.extractFail {
			if remaining == 0 || !strings.Contains(prompt, key) {
				continue
			}
			if remaining > 0 {
				f.extractFail[key] = remaining - 1
			}
			return &common.CapabilityError{Kind: common.CapabilityMalformed, Err: fmt.Errorf("unparsable response")}
		}
		for key, res := range f.extractions {
			if strings.Contains(prompt, key) {
				*v = res
				return nil
			}
		}
		*v = extractResponse{}
		return nil

	case *consultVerdict:
		if f.verdictErr != nil {
			return f.verdictErr
		}
		verdict := f.verdict
		if verdict == "" {
			verdict = "complementary"
		}
		*v = consultVerdict{Verdict: verdict, Reason: "scripted"}
		return nil

	case *vocabProposal:
		if f.proposalErr != nil {
			return f.proposalErr
		}
		if f.proposal == nil {
			return &common.CapabilityError{Kind: common.CapabilityMalformed, Err: fmt.Errorf("no proposal scripted")}
		}
		*v = *f.proposal
		return nil

	case *vocabReview:
		if f.reviewErr != nil {
			return f.reviewErr
		}
		if f.review == nil {
			*v = vocabReview{Approved: true}
			return nil
		}
		*v = *f.review
		return nil

	default:
		return fmt.Errorf("unexpected format type %T", out)
	}
}

func (f *fakeAI) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["embedding"]++

	vec := make([]float32, 4)
	for i, b := range input {
		vec[i%4] += float32(b)
	}
	return vec, nil
}

func (f *fakeAI) ResetMetrics() {}

func (f *fakeAI) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

func (f *fakeAI) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

// fakeLoader serves inline content only.
type fakeLoader struct{}

func (fakeLoader) Load(ctx context.Context, ref common.ContentRef) ([]byte, error) {
	if ref.Scheme != common.RefInline {
		return nil, fmt.Errorf("unsupported scheme %q", ref.Scheme)
	}
	return ref.Inline, nil
}

func newTestPipeline(t *testing.T, st store.GraphStore, client ai.Client, mutate ...func(*NewPipelineParams)) *Pipeline {
	t.Helper()

	params := NewPipelineParams{
		Store:             st,
		AI:                client,
		Loader:            fakeLoader{},
		MaxChunkTokens:    64,
		ParallelDocuments: 1,
		ParallelChunks:    2,
	}
	for _, m := range mutate {
		m(&params)
	}

	p, err := NewPipeline(params)
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	return p
}

func newTestRun(t *testing.T, st store.GraphStore, runID, graphID string) *common.RunState {
	t.Helper()

	run := &common.RunState{
		ID:      runID,
		GraphID: graphID,
		Status:  common.RunPending,
	}
	if err := st.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	return run
}

func newTestExecution(p *Pipeline, run *common.RunState, docs []common.Document) *runExecution {
	ix := newRunIndex()
	return &runExecution{
		p:     p,
		run:   run,
		vocab: DefaultVocabulary(),
		docs:  docs,
		ix:    ix,
	}
}

func inlineDoc(id, graphID, text string) common.Document {
	return common.Document{
		ID:      id,
		GraphID: graphID,
		Kind:    common.SourceUnstructured,
		Content: common.ContentRef{Scheme: common.RefInline, Inline: []byte(text)},
	}
}

func chunkOf(docID string, index int, text string, start int) common.Chunk {
	return common.Chunk{
		ID:         fmt.Sprintf("%s#%d", docID, index),
		DocumentID: docID,
		Index:      index,
		Start:      start,
		End:        start + len([]rune(text)),
		Text:       text,
	}
}

func testEntity(name, entityType, description string, confidence float64, attrs ...string) extractEntity {
	e := extractEntity{
		EntityName:        name,
		EntityType:        entityType,
		EntityDescription: description,
		Confidence:        confidence,
	}
	for i := 0; i+1 < len(attrs); i += 2 {
		e.Attributes = append(e.Attributes, extractAttribute{Key: attrs[i], Value: attrs[i+1]})
	}
	return e
}

func testRelation(source, target, relationType string, confidence float64) extractRelation {
	return extractRelation{
		SourceEntity:            source,
		TargetEntity:            target,
		RelationType:            relationType,
		RelationshipDescription: source + " relates to " + target,
		Confidence:              confidence,
	}
}
