package common

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestNormalizeName_CollapsesAndUppercases(t *testing.T) {
	got := NormalizeName("  Dr.  Jane\nSmith ")
	if got != "DR. JANE SMITH" {
		t.Fatalf("expected DR. JANE SMITH, got %q", got)
	}
}

func TestNormalizeName_Empty(t *testing.T) {
	if got := NormalizeName("   "); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}

func TestNormalizeValue_Lowercases(t *testing.T) {
	got := NormalizeValue(" 1912-06-23\r\n")
	if got != "1912-06-23" {
		t.Fatalf("expected 1912-06-23, got %q", got)
	}
	if NormalizeValue("Berlin") != NormalizeValue("  berlin ") {
		t.Fatal("expected case-insensitive value normalization")
	}
}

func TestIdentityKey_SeparatesTypes(t *testing.T) {
	person := IdentityKey("Mercury", "PERSON")
	element := IdentityKey("Mercury", "CONCEPT")
	if person == element {
		t.Fatalf("expected distinct keys per type, got %q for both", person)
	}
	if person != IdentityKey("  mercury ", "person") {
		t.Fatal("expected key to be normalization-invariant")
	}
}

func TestUnionEvidence_DedupesBySpan(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a := Evidence{DocumentID: "d1", ChunkID: "c1", Start: 0, End: 10, ExtractedAt: base}
	sameSpanLater := Evidence{DocumentID: "d1", ChunkID: "c1", Start: 0, End: 10, ExtractedAt: base.Add(time.Hour)}
	b := Evidence{DocumentID: "d1", ChunkID: "c2", Start: 10, End: 20, ExtractedAt: base}

	got := UnionEvidence([]Evidence{a}, sameSpanLater, b)
	if len(got) != 2 {
		t.Fatalf("expected 2 evidence entries, got %d", len(got))
	}
	if !got[0].ExtractedAt.Equal(base) {
		t.Fatal("expected first-seen extraction time to survive the union")
	}
}

func TestUnionEvidence_Monotonic(t *testing.T) {
	evs := []Evidence{{DocumentID: "d1", ChunkID: "c1"}}
	prev := len(evs)
	for i := 0; i < 5; i++ {
		evs = UnionEvidence(evs, Evidence{DocumentID: "d1", ChunkID: fmt.Sprintf("c%d", i)})
		if len(evs) < prev {
			t.Fatalf("evidence shrank from %d to %d", prev, len(evs))
		}
		prev = len(evs)
	}
}

func TestEdgeKey_DirectionMatters(t *testing.T) {
	if EdgeKey("a", "WORKS_AT", "b") == EdgeKey("b", "WORKS_AT", "a") {
		t.Fatal("expected direction-sensitive edge keys")
	}
}

func TestCapabilityError_Classification(t *testing.T) {
	err := fmt.Errorf("calling model: %w", &CapabilityError{Kind: CapabilityRateLimited, Err: errors.New("429")})
	if kind := CapabilityKind(err); kind != CapabilityRateLimited {
		t.Fatalf("expected rate_limited, got %q", kind)
	}
	if kind := CapabilityKind(errors.New("plain")); kind != "" {
		t.Fatalf("expected empty kind for plain error, got %q", kind)
	}
}

func TestIsMalformedInput_ThroughWrapping(t *testing.T) {
	err := fmt.Errorf("segmenting: %w", &MalformedInputError{DocumentID: "d1", Reason: "empty content"})
	if !IsMalformedInput(err) {
		t.Fatal("expected wrapped MalformedInputError to be detected")
	}
	if IsMalformedInput(errors.New("other")) {
		t.Fatal("expected plain error not to be malformed input")
	}
}

func TestDocumentStage_Terminal(t *testing.T) {
	if !StageDone.Terminal() || !StageFailed.Terminal() {
		t.Fatal("expected done and failed to be terminal")
	}
	if StageResolving.Terminal() {
		t.Fatal("expected resolving to be non-terminal")
	}
}

func TestRunState_DocumentStatusFor(t *testing.T) {
	run := RunState{Documents: []DocumentStatus{{DocumentID: "d1"}, {DocumentID: "d2"}}}
	st := run.DocumentStatusFor("d2")
	if st == nil {
		t.Fatal("expected status for d2")
	}
	st.Stage = StageDone
	if run.Documents[1].Stage != StageDone {
		t.Fatal("expected returned pointer to alias the run's entry")
	}
	if run.DocumentStatusFor("missing") != nil {
		t.Fatal("expected nil for unknown document")
	}
}
