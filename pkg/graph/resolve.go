package graph

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/graphloom/loom/pkg/common"
)

// SimilarityFunc scores two normalized entity names in [0,1], 1 meaning
// identical. The resolver calls it for fuzzy matching; tests inject
// fixed-score implementations.
type SimilarityFunc func(a, b string) float64

// LevenshteinSimilarity is the default similarity measure: edit distance
// normalized by the longer input, inverted so 1 is an exact match.
func LevenshteinSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// normalizeTypeLabel is the canonical form of an entity or relation type
// label: normalized like a name, with spaces collapsed to underscores.
func normalizeTypeLabel(label string) string {
	return strings.ReplaceAll(common.NormalizeName(label), " ", "_")
}

// docResolver accumulates one document's pending mutations against the
// committed run index. The pending overlay is consulted before the
// committed view on every lookup, so later chunks of the same document
// see earlier chunks' creations and merges. On any failure the overlay
// is simply discarded; nothing touches the index until a batch commits.
type docResolver struct {
	p  *Pipeline
	ix *runIndex

	graphID    string
	documentID string

	pendingNodes map[string]*common.NodeMutation
	pendingKeys  map[string][]string
	pendingEdges map[string]*common.EdgeMutation
	nodeOrder    []string
	edgeOrder    []string

	nodeDescs map[string][]string
	edgeDescs map[string][]string

	softMerges int
}

func newDocResolver(p *Pipeline, ix *runIndex, graphID, documentID string) *docResolver {
	return &docResolver{
		p:            p,
		ix:           ix,
		graphID:      graphID,
		documentID:   documentID,
		pendingNodes: make(map[string]*common.NodeMutation),
		pendingKeys:  make(map[string][]string),
		pendingEdges: make(map[string]*common.EdgeMutation),
		nodeDescs:    make(map[string][]string),
		edgeDescs:    make(map[string][]string),
	}
}

// resolveDocument resolves every candidate of a document, chunk by chunk
// in order, into a pending mutation overlay. Degraded chunks contribute
// nothing. Within a chunk, entities resolve before relations so every
// relation endpoint has a node id.
func (p *Pipeline) resolveDocument(run *runExecution, doc common.Document, extractions []chunkExtraction) (*docResolver, error) {
	r := newDocResolver(p, run.ix, doc.GraphID, doc.ID)

	for _, extraction := range extractions {
		if extraction.degraded != nil {
			continue
		}

		names := make(map[string]string, len(extraction.entities))
		for _, entity := range extraction.entities {
			id, err := r.resolveEntity(entity)
			if err != nil {
				return nil, err
			}
			normalized := common.NormalizeName(entity.Name)
			if _, ok := names[normalized]; !ok {
				names[normalized] = id
			}
		}
		for _, relation := range extraction.relations {
			if err := r.resolveRelation(relation, names); err != nil {
				return nil, err
			}
		}
	}

	return r, nil
}

// resolveEntity maps one candidate onto a node id: exact identity match
// first, then the best fuzzy match at or above the similarity threshold,
// then a fresh node. Candidates only ever merge into nodes, never nodes
// into each other.
func (r *docResolver) resolveEntity(candidate common.CandidateEntity) (string, error) {
	entityType := normalizeTypeLabel(candidate.Type)
	key := common.IdentityKey(candidate.Name, entityType)

	if id := r.lookupExact(key); id != "" {
		r.mergeInto(id, candidate, false, 0)
		return id, nil
	}

	if id, score := r.bestFuzzyMatch(candidate.Name, entityType); id != "" {
		r.mergeInto(id, candidate, true, score)
		r.softMerges++
		return id, nil
	}

	return r.createNode(candidate, entityType)
}

// lookupExact returns the node id registered for an identity key,
// preferring the pending overlay. When several nodes share the key the
// most established one wins: larger evidence set, then smaller id.
func (r *docResolver) lookupExact(key string) string {
	if ids := r.pendingKeys[key]; len(ids) > 0 {
		return r.pickEstablished(ids)
	}
	if ids := r.ix.byKey(key); len(ids) > 0 {
		return r.pickEstablished(ids)
	}
	return ""
}

func (r *docResolver) pickEstablished(ids []string) string {
	best := ""
	bestEvidence := -1
	for _, id := range ids {
		node := r.nodeState(id)
		if node == nil {
			continue
		}
		evidence := len(node.Evidence)
		if evidence > bestEvidence || (evidence == bestEvidence && id < best) {
			best = id
			bestEvidence = evidence
		}
	}
	return best
}

// nodeState returns the current view of a node: its pending post-merge
// state when the document already touched it, the committed state
// otherwise.
func (r *docResolver) nodeState(id string) *common.Node {
	if m, ok := r.pendingNodes[id]; ok {
		return m.Node
	}
	return r.ix.node(id)
}

// bestFuzzyMatch scans all nodes of the candidate's type, pending and
// committed, and returns the best-scoring one at or above the threshold.
// Ties fall to the larger evidence set, then the smaller id, so the
// outcome does not depend on map iteration order.
func (r *docResolver) bestFuzzyMatch(name, entityType string) (string, float64) {
	normalized := common.NormalizeName(name)

	bestID := ""
	bestScore := 0.0
	bestEvidence := 0

	consider := func(node *common.Node) {
		if node.Type != entityType {
			return
		}
		score := r.nodeSimilarity(normalized, node)
		if score < r.p.simThreshold {
			return
		}
		evidence := len(node.Evidence)
		better := bestID == "" ||
			score > bestScore ||
			(score == bestScore && evidence > bestEvidence) ||
			(score == bestScore && evidence == bestEvidence && node.ID < bestID)
		if better {
			bestID = node.ID
			bestScore = score
			bestEvidence = evidence
		}
	}

	for _, m := range r.pendingNodes {
		consider(m.Node)
	}
	for id, node := range r.ix.nodes {
		if _, ok := r.pendingNodes[id]; ok {
			continue
		}
		consider(node)
	}

	return bestID, bestScore
}

// nodeSimilarity is the best similarity between the normalized candidate
// name and any surface form of the node, canonical name included.
func (r *docResolver) nodeSimilarity(normalized string, node *common.Node) float64 {
	best := r.p.similarity(normalized, common.NormalizeName(node.Name))
	for _, alias := range node.Aliases {
		if score := r.p.similarity(normalized, common.NormalizeName(alias)); score > best {
			best = score
		}
	}
	return best
}

// mergeInto folds a candidate into the node's pending mutation,
// materializing one from committed state on first touch. The candidate's
// surface form joins the alias set, its evidence and attributes union in,
// and its description queues for the merge pass.
func (r *docResolver) mergeInto(id string, candidate common.CandidateEntity, soft bool, score float64) {
	m, ok := r.pendingNodes[id]
	if !ok {
		m = &common.NodeMutation{
			Op:   common.MutationMerge,
			Node: cloneNode(r.ix.node(id)),
		}
		r.registerPending(m)
	}
	node := m.Node

	if !hasAlias(node.Aliases, candidate.Name) {
		node.Aliases = append(node.Aliases, candidate.Name)
		m.AddedAliases = append(m.AddedAliases, candidate.Name)
		r.addPendingKey(common.IdentityKey(candidate.Name, node.Type), id)
	}

	before := len(node.Evidence)
	node.Evidence = common.UnionEvidence(node.Evidence, candidate.Evidence)
	if len(node.Evidence) > before {
		m.AddedEvidence = common.UnionEvidence(m.AddedEvidence, candidate.Evidence)
	}

	for _, key := range sortedKeys(candidate.Attributes) {
		r.addAttribute(m, key, candidate.Attributes[key], candidate.Evidence)
	}

	if candidate.Description != "" {
		r.nodeDescs[id] = append(r.nodeDescs[id], candidate.Description)
	}

	m.TriggeredBy = common.UnionEvidence(m.TriggeredBy, candidate.Evidence)
	if candidate.Confidence > m.Confidence {
		m.Confidence = candidate.Confidence
	}
	if soft {
		m.SoftMerge = true
		if score > m.Similarity {
			m.Similarity = score
		}
	}
}

// addAttribute appends a value to an attribute's value list unless an
// equal normalized value is already present.
func (r *docResolver) addAttribute(m *common.NodeMutation, key, value string, evidence common.Evidence) {
	normalized := common.NormalizeValue(value)
	if normalized == "" {
		return
	}
	for _, existing := range m.Node.Attributes[key] {
		if existing.Normalized == normalized {
			return
		}
	}

	attribute := common.AttributeValue{
		Value:      value,
		Normalized: normalized,
		Evidence:   evidence,
	}
	if m.Node.Attributes == nil {
		m.Node.Attributes = make(map[string][]common.AttributeValue)
	}
	m.Node.Attributes[key] = append(m.Node.Attributes[key], attribute)
	if m.AddedAttributes == nil {
		m.AddedAttributes = make(map[string][]common.AttributeValue)
	}
	m.AddedAttributes[key] = append(m.AddedAttributes[key], attribute)
}

func (r *docResolver) createNode(candidate common.CandidateEntity, entityType string) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate node id: %w", err)
	}

	node := &common.Node{
		ID:       id,
		GraphID:  r.graphID,
		Name:     candidate.Name,
		Type:     entityType,
		Aliases:  []string{candidate.Name},
		Evidence: []common.Evidence{candidate.Evidence},
	}
	m := &common.NodeMutation{
		Op:          common.MutationCreate,
		Node:        node,
		TriggeredBy: []common.Evidence{candidate.Evidence},
		Confidence:  candidate.Confidence,
	}
	r.registerPending(m)

	for _, key := range sortedKeys(candidate.Attributes) {
		r.addAttribute(m, key, candidate.Attributes[key], candidate.Evidence)
	}
	if candidate.Description != "" {
		r.nodeDescs[id] = append(r.nodeDescs[id], candidate.Description)
	}

	return id, nil
}

func (r *docResolver) registerPending(m *common.NodeMutation) {
	node := m.Node
	r.pendingNodes[node.ID] = m
	r.nodeOrder = append(r.nodeOrder, node.ID)
	r.addPendingKey(common.IdentityKey(node.Name, node.Type), node.ID)
	for _, alias := range node.Aliases {
		r.addPendingKey(common.IdentityKey(alias, node.Type), node.ID)
	}
}

func (r *docResolver) addPendingKey(key, nodeID string) {
	for _, id := range r.pendingKeys[key] {
		if id == nodeID {
			return
		}
	}
	r.pendingKeys[key] = append(r.pendingKeys[key], nodeID)
}

// resolveRelation maps a candidate relation onto an edge keyed by
// (source, type, target), creating or merging like entities do.
// Symmetric relation types are canonicalized by sorting the endpoint
// ids, so A-B and B-A collapse to one edge.
func (r *docResolver) resolveRelation(candidate common.CandidateRelation, names map[string]string) error {
	sourceID := names[common.NormalizeName(candidate.SourceName)]
	targetID := names[common.NormalizeName(candidate.TargetName)]
	if sourceID == "" || targetID == "" {
		return nil
	}

	relationType := normalizeTypeLabel(candidate.Type)
	if r.p.isSymmetric(relationType) && targetID < sourceID {
		sourceID, targetID = targetID, sourceID
	}
	key := common.EdgeKey(sourceID, relationType, targetID)

	m, ok := r.pendingEdges[key]
	if !ok {
		if committed := r.ix.edge(key); committed != nil {
			m = &common.EdgeMutation{
				Op:   common.MutationMerge,
				Edge: cloneEdge(committed),
			}
		} else {
			id, err := gonanoid.New()
			if err != nil {
				return fmt.Errorf("failed to generate edge id: %w", err)
			}
			m = &common.EdgeMutation{
				Op: common.MutationCreate,
				Edge: &common.Edge{
					ID:       id,
					GraphID:  r.graphID,
					SourceID: sourceID,
					TargetID: targetID,
					Type:     relationType,
				},
			}
		}
		r.pendingEdges[key] = m
		r.edgeOrder = append(r.edgeOrder, key)
	}
	edge := m.Edge

	before := len(edge.Evidence)
	edge.Evidence = common.UnionEvidence(edge.Evidence, candidate.Evidence)
	if len(edge.Evidence) > before {
		m.AddedEvidence = common.UnionEvidence(m.AddedEvidence, candidate.Evidence)
	}
	if candidate.Confidence > edge.Confidence {
		edge.Confidence = candidate.Confidence
	}
	if candidate.Confidence > m.Confidence {
		m.Confidence = candidate.Confidence
	}
	if candidate.Description != "" {
		r.edgeDescs[key] = append(r.edgeDescs[key], candidate.Description)
	}

	return nil
}

func hasAlias(aliases []string, name string) bool {
	for _, alias := range aliases {
		if alias == name {
			return true
		}
	}
	return false
}
