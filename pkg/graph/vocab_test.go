package graph

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/graphloom/loom/pkg/common"
	"github.com/graphloom/loom/pkg/store/memory"
)

func TestProposeVocabulary(t *testing.T) {
	goal := &common.Goal{KindOfGraph: "biotech research graph", Description: "genes and the proteins they encode"}

	t.Run("approved on first review", func(t *testing.T) {
		client := newFakeAI()
		client.proposal = &vocabProposal{
			EntityTypes:   []string{"gene", " Protein "},
			RelationTypes: []string{"encodes", "binds to"},
		}

		p := newTestPipeline(t, memory.NewGraphMemStore(), client)
		got := p.proposeVocabulary(context.Background(), goal, "sample text")

		wantEntities := []string{"GENE", "PROTEIN"}
		wantRelations := []string{"ENCODES", "BINDS_TO"}
		if !reflect.DeepEqual(got.EntityTypes, wantEntities) {
			t.Errorf("EntityTypes = %v, want %v", got.EntityTypes, wantEntities)
		}
		if !reflect.DeepEqual(got.RelationTypes, wantRelations) {
			t.Errorf("RelationTypes = %v, want %v", got.RelationTypes, wantRelations)
		}
		if calls := client.callCount("propose_type_vocabulary"); calls != 1 {
			t.Errorf("propose calls = %d, want 1", calls)
		}
		if calls := client.callCount("review_type_vocabulary"); calls != 1 {
			t.Errorf("review calls = %d, want 1", calls)
		}
	})

	t.Run("critic revision replaces the draft", func(t *testing.T) {
		client := newFakeAI()
		client.proposal = &vocabProposal{
			EntityTypes:   []string{"gene"},
			RelationTypes: []string{"related to"},
		}
		client.review = &vocabReview{
			Approved:      false,
			EntityTypes:   []string{"gene", "variant"},
			RelationTypes: []string{"encodes"},
			Reason:        "missing variant coverage",
		}

		p := newTestPipeline(t, memory.NewGraphMemStore(), client)
		got := p.proposeVocabulary(context.Background(), goal, "sample text")

		wantEntities := []string{"GENE", "VARIANT"}
		if !reflect.DeepEqual(got.EntityTypes, wantEntities) {
			t.Errorf("EntityTypes = %v, want revised %v", got.EntityTypes, wantEntities)
		}
		if !reflect.DeepEqual(got.RelationTypes, []string{"ENCODES"}) {
			t.Errorf("RelationTypes = %v, want revised [ENCODES]", got.RelationTypes)
		}
	})

	t.Run("proposal failure falls back to default", func(t *testing.T) {
		client := newFakeAI()

		p := newTestPipeline(t, memory.NewGraphMemStore(), client)
		got := p.proposeVocabulary(context.Background(), goal, "sample text")

		if !reflect.DeepEqual(got, DefaultVocabulary()) {
			t.Errorf("proposeVocabulary() = %v, want default vocabulary", got)
		}
		if calls := client.callCount("propose_type_vocabulary"); calls != 3 {
			t.Errorf("propose calls = %d, want 3", calls)
		}
		if calls := client.callCount("review_type_vocabulary"); calls != 0 {
			t.Errorf("review calls = %d, want 0", calls)
		}
	})

	t.Run("rejection without usable revision keeps the draft", func(t *testing.T) {
		client := newFakeAI()
		client.proposal = &vocabProposal{
			EntityTypes:   []string{"gene"},
			RelationTypes: []string{"encodes"},
		}
		client.review = &vocabReview{Approved: false, Reason: "too narrow"}

		p := newTestPipeline(t, memory.NewGraphMemStore(), client)
		got := p.proposeVocabulary(context.Background(), goal, "sample text")

		if !reflect.DeepEqual(got.EntityTypes, []string{"GENE"}) {
			t.Errorf("EntityTypes = %v, want draft kept", got.EntityTypes)
		}
		if calls := client.callCount("review_type_vocabulary"); calls != 1 {
			t.Errorf("review calls = %d, want 1", calls)
		}
	})

	t.Run("review failure keeps the draft", func(t *testing.T) {
		client := newFakeAI()
		client.proposal = &vocabProposal{
			EntityTypes:   []string{"gene"},
			RelationTypes: []string{"encodes"},
		}
		client.reviewErr = errors.New("review unavailable")

		p := newTestPipeline(t, memory.NewGraphMemStore(), client)
		got := p.proposeVocabulary(context.Background(), goal, "sample text")

		if !reflect.DeepEqual(got.EntityTypes, []string{"GENE"}) {
			t.Errorf("EntityTypes = %v, want draft kept", got.EntityTypes)
		}
		if !reflect.DeepEqual(got.RelationTypes, []string{"ENCODES"}) {
			t.Errorf("RelationTypes = %v, want draft kept", got.RelationTypes)
		}
	})
}

func TestNormalizeTypeList(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		want   []string
	}{
		{
			name:   "uppercases and snake-cases",
			labels: []string{"gene", "binds to", "Works  At"},
			want:   []string{"GENE", "BINDS_TO", "WORKS_AT"},
		},
		{
			name:   "drops empties and duplicates",
			labels: []string{"gene", "", "  ", "Gene", "GENE"},
			want:   []string{"GENE"},
		},
		{
			name:   "preserves first-seen order",
			labels: []string{"PERSON", "ORGANIZATION", "person"},
			want:   []string{"PERSON", "ORGANIZATION"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeTypeList(tt.labels)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("normalizeTypeList() = %v, want %v", got, tt.want)
			}
		})
	}
}
