package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/graphloom/loom/internal/util"
	"github.com/graphloom/loom/pkg/ai"
	"github.com/graphloom/loom/pkg/common"
	"github.com/graphloom/loom/pkg/logger"
)

type vocabProposal struct {
	EntityTypes   []string `json:"entity_types" jsonschema_description:"Proposed entity type labels, ALL CAPS singular nouns"`
	RelationTypes []string `json:"relation_types" jsonschema_description:"Proposed relation type labels, ALL_CAPS_SNAKE_CASE verb phrases"`
}

type vocabReview struct {
	Approved      bool     `json:"approved" jsonschema_description:"Whether the proposed vocabulary can be used as-is"`
	EntityTypes   []string `json:"entity_types" jsonschema_description:"Complete corrected entity type list, repeated unchanged when approved"`
	RelationTypes []string `json:"relation_types" jsonschema_description:"Complete corrected relation type list, repeated unchanged when approved"`
	Reason        string   `json:"reason" jsonschema_description:"Short justification for the verdict"`
}

// DefaultVocabulary is the type vocabulary used when a run carries no
// goal to propose one from.
func DefaultVocabulary() *common.TypeVocabulary {
	return &common.TypeVocabulary{
		EntityTypes: []string{
			"ORGANIZATION", "PERSON", "LOCATION", "CONCEPT",
			"CREATIVE_WORK", "DATE", "PRODUCT", "EVENT",
		},
		RelationTypes: []string{
			"RELATED_TO", "PART_OF", "LOCATED_IN", "WORKS_AT",
			"CREATED_BY", "PARTICIPATES_IN",
		},
	}
}

// proposeVocabulary drafts a type vocabulary from the run goal and a
// corpus sample, then runs a critic pass over the draft. The critic can
// revise the lists; revisions are re-reviewed up to maxRetries rounds,
// after which the last revision wins. Any capability failure degrades to
// the default vocabulary rather than failing the run.
func (p *Pipeline) proposeVocabulary(ctx context.Context, goal *common.Goal, corpusSample string) *common.TypeVocabulary {
	proposal, err := p.draftVocabulary(ctx, goal, corpusSample)
	if err != nil {
		logger.Warn("[Vocab][Propose] proposal failed, using default vocabulary", "error", err)
		return DefaultVocabulary()
	}

	for round := 1; round <= p.maxRetries; round++ {
		review, err := p.critiqueVocabulary(ctx, goal, proposal)
		if err != nil {
			logger.Warn("[Vocab][Critique] review failed, keeping proposal",
				"round", round, "error", err)
			break
		}
		if review.Approved {
			break
		}

		revisedEntities := normalizeTypeList(review.EntityTypes)
		revisedRelations := normalizeTypeList(review.RelationTypes)
		if len(revisedEntities) == 0 || len(revisedRelations) == 0 {
			logger.Warn("[Vocab][Critique] rejected without usable revision, keeping proposal",
				"round", round, "reason", review.Reason)
			break
		}
		logger.Info("[Vocab][Critique] vocabulary revised",
			"round", round, "reason", review.Reason)
		proposal = &common.TypeVocabulary{
			EntityTypes:   revisedEntities,
			RelationTypes: revisedRelations,
		}
	}

	return proposal
}

func (p *Pipeline) draftVocabulary(ctx context.Context, goal *common.Goal, corpusSample string) (*common.TypeVocabulary, error) {
	if corpusSample == "" {
		corpusSample = "(no sample available)"
	}
	prompt := fmt.Sprintf(ai.VocabProposePrompt, goal.KindOfGraph, goal.Description, corpusSample)

	proposal, err := util.RetryWithContext(ctx, p.maxRetries, func(rCtx context.Context) (*vocabProposal, error) {
		var res vocabProposal
		err := p.ai.GenerateCompletionWithFormat(
			rCtx,
			"propose_type_vocabulary",
			"Propose entity and relation type labels for a knowledge graph.",
			prompt,
			&res,
		)
		if err != nil {
			return nil, err
		}
		return &res, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to propose vocabulary: %w", err)
	}

	entityTypes := normalizeTypeList(proposal.EntityTypes)
	relationTypes := normalizeTypeList(proposal.RelationTypes)
	if len(entityTypes) == 0 || len(relationTypes) == 0 {
		return nil, fmt.Errorf("proposed vocabulary is incomplete")
	}
	return &common.TypeVocabulary{EntityTypes: entityTypes, RelationTypes: relationTypes}, nil
}

func (p *Pipeline) critiqueVocabulary(ctx context.Context, goal *common.Goal, proposal *common.TypeVocabulary) (*vocabReview, error) {
	prompt := fmt.Sprintf(
		ai.VocabCritiquePrompt,
		goal.KindOfGraph,
		goal.Description,
		strings.Join(proposal.EntityTypes, ", "),
		strings.Join(proposal.RelationTypes, ", "),
	)

	return util.RetryWithContext(ctx, p.maxRetries, func(rCtx context.Context) (*vocabReview, error) {
		var res vocabReview
		err := p.ai.GenerateCompletionWithFormat(
			rCtx,
			"review_type_vocabulary",
			"Review a proposed type vocabulary for a knowledge graph.",
			prompt,
			&res,
		)
		if err != nil {
			return nil, err
		}
		return &res, nil
	})
}

// normalizeTypeList uppercases labels, replaces spaces with underscores,
// and drops empties and duplicates while preserving order.
func normalizeTypeList(labels []string) []string {
	out := make([]string, 0, len(labels))
	seen := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		label = normalizeTypeLabel(label)
		if label == "" {
			continue
		}
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		out = append(out, label)
	}
	return out
}
