package graph

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/graphloom/loom/pkg/common"
	"github.com/graphloom/loom/pkg/store/memory"
)

func TestVerifyConfidenceFloor(t *testing.T) {
	p := newTestPipeline(t, memory.NewGraphMemStore(), newFakeAI())

	extractions := []chunkExtraction{
		{
			chunk: chunkOf("doc-1", 0, "Ghost Ventures hired Elena Park.", 0),
			entities: []common.CandidateEntity{
				entityCandidate("Ghost Ventures", "ORGANIZATION", 0.2, evidenceAt("doc-1#0", 0, 14)),
				entityCandidate("Elena Park", "PERSON", 0.9, evidenceAt("doc-1#0", 21, 31)),
			},
			relations: []common.CandidateRelation{
				relationCandidate("Elena Park", "Ghost Ventures", "WORKS_AT", 0.9, evidenceAt("doc-1#0", 0, 31)),
			},
		},
	}
	r := resolveOne(t, p, newRunIndex(), extractions)

	outcome := p.verifyBatch(context.Background(), r, false)

	ghostID := r.nodeOrder[0]
	if reason, ok := outcome.rejectedNodes[ghostID]; !ok {
		t.Errorf("low-confidence node not rejected")
	} else if !strings.Contains(reason, "below floor") {
		t.Errorf("rejection reason = %q, want confidence floor", reason)
	}
	if _, ok := outcome.rejectedNodes[r.nodeOrder[1]]; ok {
		t.Errorf("confident node rejected")
	}
	if len(r.edgeOrder) != 1 {
		t.Fatalf("pending edges = %d, want 1", len(r.edgeOrder))
	}
	if reason := outcome.rejectedEdges[r.edgeOrder[0]]; reason != "target node rejected" {
		t.Errorf("edge rejection = %q, want cascade from rejected target", reason)
	}
	if outcome.rejections() != 2 {
		t.Errorf("rejections() = %d, want 2", outcome.rejections())
	}
}

func TestVerifyEdgeConfidenceFloor(t *testing.T) {
	p := newTestPipeline(t, memory.NewGraphMemStore(), newFakeAI())

	extractions := []chunkExtraction{
		{
			chunk: chunkOf("doc-1", 0, "Elena Park might know Beacon Labs.", 0),
			entities: []common.CandidateEntity{
				entityCandidate("Elena Park", "PERSON", 0.9, evidenceAt("doc-1#0", 0, 10)),
				entityCandidate("Beacon Labs", "ORGANIZATION", 0.9, evidenceAt("doc-1#0", 22, 33)),
			},
			relations: []common.CandidateRelation{
				relationCandidate("Elena Park", "Beacon Labs", "WORKS_AT", 0.2, evidenceAt("doc-1#0", 0, 33)),
			},
		},
	}
	r := resolveOne(t, p, newRunIndex(), extractions)

	outcome := p.verifyBatch(context.Background(), r, false)

	if len(outcome.rejectedNodes) != 0 {
		t.Errorf("rejected nodes = %v, want none", outcome.rejectedNodes)
	}
	if reason, ok := outcome.rejectedEdges[r.edgeOrder[0]]; !ok || !strings.Contains(reason, "below floor") {
		t.Errorf("edge rejection = %q (%v), want confidence floor", reason, ok)
	}
}

func TestVerifySelfEdge(t *testing.T) {
	extractions := []chunkExtraction{
		{
			chunk: chunkOf("doc-1", 0, "The Ouroboros Council references itself.", 0),
			entities: []common.CandidateEntity{
				entityCandidate("Ouroboros Council", "ORGANIZATION", 0.9, evidenceAt("doc-1#0", 4, 21)),
			},
			relations: []common.CandidateRelation{
				relationCandidate("Ouroboros Council", "Ouroboros Council", "RELATED_TO", 0.9, evidenceAt("doc-1#0", 0, 40)),
			},
		},
	}

	t.Run("rejected by default", func(t *testing.T) {
		p := newTestPipeline(t, memory.NewGraphMemStore(), newFakeAI())
		r := resolveOne(t, p, newRunIndex(), extractions)

		outcome := p.verifyBatch(context.Background(), r, false)

		if len(r.edgeOrder) != 1 {
			t.Fatalf("pending edges = %d, want 1", len(r.edgeOrder))
		}
		reason, ok := outcome.rejectedEdges[r.edgeOrder[0]]
		if !ok || !strings.Contains(reason, "self-referential") {
			t.Errorf("self-edge rejection = %q (%v), want self-referential reason", reason, ok)
		}
	})

	t.Run("kept when the type permits self-references", func(t *testing.T) {
		p := newTestPipeline(t, memory.NewGraphMemStore(), newFakeAI(), func(params *NewPipelineParams) {
			params.SelfRelations = []string{"RELATED_TO"}
		})
		r := resolveOne(t, p, newRunIndex(), extractions)

		outcome := p.verifyBatch(context.Background(), r, false)

		if len(outcome.rejectedEdges) != 0 {
			t.Errorf("rejected edges = %v, want none", outcome.rejectedEdges)
		}
	})
}

func conflictedResolver(t *testing.T, p *Pipeline) *docResolver {
	t.Helper()

	first := entityCandidate("Elena Park", "PERSON", 0.9, evidenceAt("doc-1#0", 0, 10))
	first.Attributes = map[string]string{"birth_date": "12 March 1980"}
	second := entityCandidate("Elena Park", "PERSON", 0.9, evidenceAt("doc-1#0", 12, 22))
	second.Attributes = map[string]string{"birth_date": "30 June 1985"}

	extractions := []chunkExtraction{
		{
			chunk: chunkOf("doc-1", 0, "Elena Park, born 1980. Elena Park, born 1985.", 0),
			entities: []common.CandidateEntity{
				first,
				second,
				entityCandidate("Beacon Labs", "ORGANIZATION", 0.9, evidenceAt("doc-1#0", 30, 41)),
			},
			relations: []common.CandidateRelation{
				relationCandidate("Elena Park", "Beacon Labs", "WORKS_AT", 0.9, evidenceAt("doc-1#0", 0, 41)),
			},
		},
	}
	return resolveOne(t, p, newRunIndex(), extractions)
}

func TestVerifyAttributeConflict(t *testing.T) {
	t.Run("contradiction flags chunks before the final round", func(t *testing.T) {
		client := newFakeAI()
		client.verdict = "contradictory"
		p := newTestPipeline(t, memory.NewGraphMemStore(), client)
		r := conflictedResolver(t, p)

		outcome := p.verifyBatch(context.Background(), r, false)

		if _, ok := outcome.flagged["doc-1#0"]; !ok {
			t.Errorf("flagged = %v, want the conflicting chunk", outcome.flagged)
		}
		if outcome.rejections() != 0 {
			t.Errorf("rejections() = %d, want 0 before the final round", outcome.rejections())
		}
	})

	t.Run("contradiction rejects on the final round and cascades", func(t *testing.T) {
		client := newFakeAI()
		client.verdict = "contradictory"
		p := newTestPipeline(t, memory.NewGraphMemStore(), client)
		r := conflictedResolver(t, p)

		outcome := p.verifyBatch(context.Background(), r, true)

		conflictedID := r.nodeOrder[0]
		reason, ok := outcome.rejectedNodes[conflictedID]
		if !ok || !strings.Contains(reason, `single-valued attribute "birth_date"`) {
			t.Errorf("node rejection = %q (%v), want unresolved conflict", reason, ok)
		}
		if len(outcome.flagged) != 0 {
			t.Errorf("flagged = %v, want none on the final round", outcome.flagged)
		}
		if reason := outcome.rejectedEdges[r.edgeOrder[0]]; reason != "source node rejected" {
			t.Errorf("edge rejection = %q, want cascade from rejected source", reason)
		}
	})

	t.Run("complementary values keep both", func(t *testing.T) {
		client := newFakeAI()
		p := newTestPipeline(t, memory.NewGraphMemStore(), client)
		r := conflictedResolver(t, p)

		outcome := p.verifyBatch(context.Background(), r, false)

		if outcome.rejections() != 0 || len(outcome.flagged) != 0 {
			t.Errorf("outcome = %d rejections / %d flagged, want none", outcome.rejections(), len(outcome.flagged))
		}
		values := r.pendingNodes[r.nodeOrder[0]].Node.Attributes["birth_date"]
		if len(values) != 2 {
			t.Errorf("birth_date values = %d, want both kept", len(values))
		}
		if calls := client.callCount("judge_attribute_conflict"); calls != 1 {
			t.Errorf("consult calls = %d, want 1", calls)
		}
	})

	t.Run("consult failure treated as contradictory", func(t *testing.T) {
		client := newFakeAI()
		client.verdictErr = errors.New("consult unavailable")
		p := newTestPipeline(t, memory.NewGraphMemStore(), client)
		r := conflictedResolver(t, p)

		outcome := p.verifyBatch(context.Background(), r, false)

		if _, ok := outcome.flagged["doc-1#0"]; !ok {
			t.Errorf("flagged = %v, want conflict assumed on consult failure", outcome.flagged)
		}
	})

	t.Run("multi-valued attributes never consult", func(t *testing.T) {
		client := newFakeAI()
		client.verdict = "contradictory"
		p := newTestPipeline(t, memory.NewGraphMemStore(), client)

		first := entityCandidate("Elena Park", "PERSON", 0.9, evidenceAt("doc-1#0", 0, 10))
		first.Attributes = map[string]string{"award": "Turing Prize"}
		second := entityCandidate("Elena Park", "PERSON", 0.9, evidenceAt("doc-1#0", 12, 22))
		second.Attributes = map[string]string{"award": "Fields Medal"}

		extractions := []chunkExtraction{
			{
				chunk:    chunkOf("doc-1", 0, "Elena Park won twice.", 0),
				entities: []common.CandidateEntity{first, second},
			},
		}
		r := resolveOne(t, p, newRunIndex(), extractions)

		outcome := p.verifyBatch(context.Background(), r, false)

		if outcome.rejections() != 0 || len(outcome.flagged) != 0 {
			t.Errorf("outcome = %d rejections / %d flagged, want none", outcome.rejections(), len(outcome.flagged))
		}
		if calls := client.callCount("judge_attribute_conflict"); calls != 0 {
			t.Errorf("consult calls = %d, want 0 for a multi-valued key", calls)
		}
		values := r.pendingNodes[r.nodeOrder[0]].Node.Attributes["award"]
		if len(values) != 2 {
			t.Errorf("award values = %d, want both kept", len(values))
		}
	})
}
