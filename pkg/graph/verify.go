package graph

import (
	"context"
	"fmt"

	"github.com/graphloom/loom/internal/util"
	"github.com/graphloom/loom/pkg/ai"
	"github.com/graphloom/loom/pkg/common"
	"github.com/graphloom/loom/pkg/logger"
)

type consultVerdict struct {
	Verdict string `json:"verdict" jsonschema_description:"Either contradictory or complementary"`
	Reason  string `json:"reason" jsonschema_description:"Short justification for the verdict"`
}

// verifyOutcome is the verification decision over one document's pending
// mutations: which to drop, and which chunks to re-extract.
type verifyOutcome struct {
	rejectedNodes map[string]string
	rejectedEdges map[string]string
	flagged       map[string]struct{}
}

func (o *verifyOutcome) rejections() int {
	return len(o.rejectedNodes) + len(o.rejectedEdges)
}

// verifyBatch checks every pending mutation of a document. Mutations
// below the confidence floor are rejected; rejected node creations
// cascade to the edges referencing them; self-edges are rejected unless
// their type permits them. A contradictory value on a single-valued
// attribute flags the contributing chunks for re-extraction, or rejects
// the mutation once re-extraction rounds are exhausted.
func (p *Pipeline) verifyBatch(ctx context.Context, r *docResolver, final bool) verifyOutcome {
	outcome := verifyOutcome{
		rejectedNodes: make(map[string]string),
		rejectedEdges: make(map[string]string),
		flagged:       make(map[string]struct{}),
	}
	droppedCreates := make(map[string]struct{})

	for _, id := range r.nodeOrder {
		m := r.pendingNodes[id]

		if m.Confidence < p.confidenceFloor {
			reason := fmt.Sprintf("confidence %.2f below floor %.2f", m.Confidence, p.confidenceFloor)
			outcome.rejectedNodes[id] = reason
			if m.Op == common.MutationCreate {
				droppedCreates[id] = struct{}{}
			}
			logger.Info("[Verify][Node] mutation rejected",
				"nodeId", id, "name", m.Node.Name,
				"error", &common.VerificationRejected{Reason: reason})
			continue
		}

		if key, a, b := p.conflictingAttribute(m); key != "" {
			if !p.consultContradiction(ctx, m.Node.Name, key, a, b) {
				continue
			}
			if !final {
				for _, value := range m.AddedAttributes[key] {
					if value.Evidence.DocumentID == r.documentID {
						outcome.flagged[value.Evidence.ChunkID] = struct{}{}
					}
				}
				logger.Info("[Verify][Node] attribute conflict flagged for re-extraction",
					"nodeId", id, "name", m.Node.Name, "attribute", key)
				continue
			}
			reason := fmt.Sprintf("unresolved conflict on single-valued attribute %q", key)
			outcome.rejectedNodes[id] = reason
			if m.Op == common.MutationCreate {
				droppedCreates[id] = struct{}{}
			}
			logger.Info("[Verify][Node] mutation rejected",
				"nodeId", id, "name", m.Node.Name,
				"error", &common.VerificationRejected{Reason: reason})
		}
	}

	for _, key := range r.edgeOrder {
		m := r.pendingEdges[key]
		edge := m.Edge

		if _, ok := droppedCreates[edge.SourceID]; ok {
			outcome.rejectedEdges[key] = "source node rejected"
			continue
		}
		if _, ok := droppedCreates[edge.TargetID]; ok {
			outcome.rejectedEdges[key] = "target node rejected"
			continue
		}

		if edge.SourceID == edge.TargetID && !p.isSelfPermitting(edge.Type) {
			reason := fmt.Sprintf("self-referential %s edge", edge.Type)
			outcome.rejectedEdges[key] = reason
			logger.Info("[Verify][Edge] mutation rejected",
				"edgeKey", key, "error", &common.VerificationRejected{Reason: reason})
			continue
		}

		if m.Confidence < p.confidenceFloor {
			reason := fmt.Sprintf("confidence %.2f below floor %.2f", m.Confidence, p.confidenceFloor)
			outcome.rejectedEdges[key] = reason
			logger.Info("[Verify][Edge] mutation rejected",
				"edgeKey", key, "error", &common.VerificationRejected{Reason: reason})
		}
	}

	return outcome
}

// conflictingAttribute returns the first single-valued attribute key this
// mutation added a second distinct value to, with the two values to
// judge. Keys are visited in sorted order so the outcome is stable.
func (p *Pipeline) conflictingAttribute(m *common.NodeMutation) (string, string, string) {
	for _, key := range sortedKeys(m.AddedAttributes) {
		if !p.isSingleValued(key) {
			continue
		}
		values := m.Node.Attributes[key]
		if len(values) < 2 {
			continue
		}
		added := m.AddedAttributes[key]
		return key, values[0].Value, added[len(added)-1].Value
	}
	return "", "", ""
}

// consultContradiction asks the model whether two values of a
// single-valued attribute actually disagree. Capability failures degrade
// to contradictory, the safe direction.
func (p *Pipeline) consultContradiction(ctx context.Context, entityName, key, a, b string) bool {
	prompt := fmt.Sprintf(ai.AttributeConsultPrompt, entityName, key, a, b)

	verdict, err := util.RetryWithContext(ctx, p.maxRetries, func(rCtx context.Context) (*consultVerdict, error) {
		var res consultVerdict
		err := p.ai.GenerateCompletionWithFormat(
			rCtx,
			"judge_attribute_conflict",
			"Judge whether two values of a single-valued attribute contradict each other.",
			prompt,
			&res,
		)
		if err != nil {
			return nil, err
		}
		return &res, nil
	})
	if err != nil {
		logger.Warn("[Verify][Consult] consult failed, treating values as contradictory",
			"entity", entityName, "attribute", key, "error", err)
		return true
	}

	return verdict.Verdict != "complementary"
}
