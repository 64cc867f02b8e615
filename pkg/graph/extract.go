package graph

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/graphloom/loom/pkg/ai"
	"github.com/graphloom/loom/pkg/common"
	"github.com/graphloom/loom/pkg/logger"
)

type extractAttribute struct {
	Key   string `json:"key" jsonschema_description:"Attribute key in lowercase snake_case, e.g. birth_date"`
	Value string `json:"value" jsonschema_description:"Attribute value exactly as stated in the text"`
}

type extractEntity struct {
	EntityName        string             `json:"entity_name" jsonschema_description:"Surface form of the entity exactly as it appears in the text"`
	EntityType        string             `json:"entity_type" jsonschema_description:"One of the provided entity types"`
	EntityDescription string             `json:"entity_description" jsonschema_description:"Comprehensive description of the entity's attributes, activities and information provided by the source."`
	Attributes        []extractAttribute `json:"attributes" jsonschema_description:"Key-value facts explicitly stated for the entity"`
	Confidence        float64            `json:"confidence" jsonschema_description:"Certainty of the extraction between 0.0 and 1.0"`
	SourceQuote       string             `json:"source_quote" jsonschema_description:"Short verbatim quote from the segment supporting the entity"`
}

type extractRelation struct {
	SourceEntity            string  `json:"source_entity" jsonschema_description:"Name of the source entity, as listed in entities"`
	TargetEntity            string  `json:"target_entity" jsonschema_description:"Name of the target entity, as listed in entities"`
	RelationType            string  `json:"relation_type" jsonschema_description:"One of the provided relation types"`
	RelationshipDescription string  `json:"relationship_description" jsonschema_description:"Explanation as to why the source entity and the target entity are related to each other"`
	Confidence              float64 `json:"confidence" jsonschema_description:"Certainty of the extraction between 0.0 and 1.0"`
	SourceQuote             string  `json:"source_quote" jsonschema_description:"Short verbatim quote from the segment supporting the relationship"`
}

type extractResponse struct {
	Entities  []extractEntity   `json:"entities" jsonschema_description:"Entities identified in the text segment"`
	Relations []extractRelation `json:"relations" jsonschema_description:"Relationships identified between the extracted entities"`
}

// chunkExtraction is the outcome of extracting one chunk. A degraded
// extraction carries no candidates but keeps the document alive.
type chunkExtraction struct {
	chunk     common.Chunk
	entities  []common.CandidateEntity
	relations []common.CandidateRelation
	degraded  *common.ExtractionDegraded
}

// extractChunk runs one extraction call for a chunk, retrying with a
// reformat instruction when the model returns malformed output. Timeouts
// and rate limits retry without the reminder; after maxRetries attempts
// the chunk degrades instead of failing the document.
func (p *Pipeline) extractChunk(ctx context.Context, run *runExecution, chunk common.Chunk) chunkExtraction {
	basePrompt := p.extractionPrompt(run, chunk)

	var lastErr error
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		prompt := basePrompt
		if lastErr != nil && common.CapabilityKind(lastErr) == common.CapabilityMalformed {
			prompt += fmt.Sprintf(ai.ReformatInstruction, attempt)
		}

		var res extractResponse
		err := p.ai.GenerateCompletionWithFormat(
			ctx,
			"extract_entities_and_relations",
			"Extract entities and relationships from a provided text segment.",
			prompt,
			&res,
		)
		if err == nil {
			entities, relations := buildCandidates(chunk, &res)
			return chunkExtraction{chunk: chunk, entities: entities, relations: relations}
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		logger.Warn("[Extract][Chunk] retrying extraction",
			"chunkId", chunk.ID, "attempt", attempt, "error", err)
	}

	logger.Warn("[Extract][Chunk] extraction degraded",
		"chunkId", chunk.ID, "attempts", p.maxRetries, "error", lastErr)
	return chunkExtraction{
		chunk: chunk,
		degraded: &common.ExtractionDegraded{
			ChunkID:  chunk.ID,
			Attempts: p.maxRetries,
			Err:      lastErr,
		},
	}
}

func (p *Pipeline) extractionPrompt(run *runExecution, chunk common.Chunk) string {
	template := ai.ExtractPromptText
	if run.docKind(chunk.DocumentID) == common.SourceStructured {
		template = ai.ExtractPromptRecord
	}

	goal := "A general-purpose knowledge graph covering all entities and relationships in the corpus."
	if run.run.Goal != nil {
		goal = strings.TrimSpace(run.run.Goal.KindOfGraph + ": " + run.run.Goal.Description)
	}
	entityTypes := strings.Join(run.vocab.EntityTypes, ", ")
	relationTypes := strings.Join(run.vocab.RelationTypes, ", ")

	prompt := fmt.Sprintf(template, goal, entityTypes, relationTypes, entityTypes, entityTypes, relationTypes)
	return prompt + "\n# Real Data\n**Text:**\n" + chunk.Text + "\n\n**Output:**\n"
}

// buildCandidates converts a parsed extraction response into candidate
// entities and relations with provenance. Entities missing a name or
// type are dropped, and relations must reference extracted entity names.
func buildCandidates(chunk common.Chunk, res *extractResponse) ([]common.CandidateEntity, []common.CandidateRelation) {
	entities := make([]common.CandidateEntity, 0, len(res.Entities))
	names := make(map[string]struct{}, len(res.Entities))

	for _, entity := range res.Entities {
		name := strings.TrimSpace(entity.EntityName)
		entityType := strings.TrimSpace(entity.EntityType)
		if name == "" || entityType == "" {
			continue
		}

		attributes := make(map[string]string, len(entity.Attributes))
		for _, attr := range entity.Attributes {
			key := strings.ToLower(strings.TrimSpace(attr.Key))
			value := strings.TrimSpace(attr.Value)
			if key != "" && value != "" {
				attributes[key] = value
			}
		}

		entities = append(entities, common.CandidateEntity{
			Name:        name,
			Type:        entityType,
			Description: strings.TrimSpace(entity.EntityDescription),
			Attributes:  attributes,
			Confidence:  clampConfidence(entity.Confidence),
			Evidence:    quoteEvidence(chunk, entity.SourceQuote),
		})
		names[common.NormalizeName(name)] = struct{}{}
	}

	relations := make([]common.CandidateRelation, 0, len(res.Relations))
	for _, rel := range res.Relations {
		source := strings.TrimSpace(rel.SourceEntity)
		target := strings.TrimSpace(rel.TargetEntity)
		relationType := strings.TrimSpace(rel.RelationType)
		if source == "" || target == "" || relationType == "" {
			continue
		}
		if _, ok := names[common.NormalizeName(source)]; !ok {
			continue
		}
		if _, ok := names[common.NormalizeName(target)]; !ok {
			continue
		}

		relations = append(relations, common.CandidateRelation{
			SourceName:  source,
			TargetName:  target,
			Type:        relationType,
			Description: strings.TrimSpace(rel.RelationshipDescription),
			Confidence:  clampConfidence(rel.Confidence),
			Evidence:    quoteEvidence(chunk, rel.SourceQuote),
		})
	}

	return entities, relations
}

// quoteEvidence locates a source quote inside the chunk and returns
// evidence spanning it in document rune offsets. When the quote cannot
// be found, or the chunk text was rebuilt (structured records repeat
// their header), the evidence covers the whole chunk span.
func quoteEvidence(chunk common.Chunk, quote string) common.Evidence {
	evidence := common.Evidence{
		DocumentID:  chunk.DocumentID,
		ChunkID:     chunk.ID,
		Start:       chunk.Start,
		End:         chunk.End,
		ExtractedAt: time.Now(),
	}

	quote = strings.TrimSpace(quote)
	if quote == "" || utf8.RuneCountInString(chunk.Text) != chunk.End-chunk.Start {
		return evidence
	}
	byteOffset := strings.Index(chunk.Text, quote)
	if byteOffset < 0 {
		return evidence
	}

	runeOffset := utf8.RuneCountInString(chunk.Text[:byteOffset])
	evidence.Start = chunk.Start + runeOffset
	evidence.End = evidence.Start + utf8.RuneCountInString(quote)
	return evidence
}

func clampConfidence(confidence float64) float64 {
	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}
