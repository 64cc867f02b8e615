package common

import (
	"fmt"
	"time"
)

// SourceKind distinguishes how a document's content is segmented.
// Unstructured content is split on sentence boundaries under a token
// budget; structured content is split into one chunk per logical record.
type SourceKind string

const (
	SourceUnstructured SourceKind = "unstructured"
	SourceStructured   SourceKind = "structured"
)

// ContentRef locates a document's raw content. The scheme selects the
// loader that materializes the bytes; all other fields are scheme-specific.
type ContentRef struct {
	Scheme string `json:"scheme"`
	Inline []byte `json:"inline,omitempty"`
	Bucket string `json:"bucket,omitempty"`
	Key    string `json:"key,omitempty"`
	URL    string `json:"url,omitempty"`
	Format string `json:"format,omitempty"`
}

// Content reference schemes. File refs resolve Key against a configured
// root directory and are meant for single-host deployments.
const (
	RefInline = "inline"
	RefS3     = "s3"
	RefWeb    = "web"
	RefFile   = "file"
)

// Content formats. Plain text is assumed when no format is given.
const (
	FormatText = "text"
	FormatDocx = "docx"
)

// Document is one ingested input to a construction run. Documents are
// immutable once ingested; the pipeline only reads them.
type Document struct {
	ID      string     `json:"id"`
	GraphID string     `json:"graph_id"`
	Kind    SourceKind `json:"kind"`
	Content ContentRef `json:"content"`
}

// Chunk is a bounded, provenance-carrying segment of one document. Chunks
// are created by the segmenter, consumed by exactly one extraction call,
// and discarded afterwards; only their ids survive inside Evidence.
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Index      int    `json:"index"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	Text       string `json:"text"`
	Tokens     int    `json:"tokens"`
}

// Evidence links a graph fact back to the span that produced it.
// Evidence sets are append-only: merges union them, never drop.
type Evidence struct {
	DocumentID  string    `json:"document_id"`
	ChunkID     string    `json:"chunk_id"`
	Start       int       `json:"start"`
	End         int       `json:"end"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// Key identifies an evidence span independent of extraction time, so a
// re-extraction of the same span does not duplicate provenance.
func (e Evidence) Key() string {
	return fmt.Sprintf("%s|%s|%d|%d", e.DocumentID, e.ChunkID, e.Start, e.End)
}

// CandidateEntity is an unresolved entity mention proposed by extraction.
// Candidates are ephemeral: the resolution engine consumes them and they
// are never persisted as-is.
type CandidateEntity struct {
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	Description string            `json:"description"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Confidence  float64           `json:"confidence"`
	Evidence    Evidence          `json:"evidence"`
}

// CandidateRelation is an unresolved typed relation between two entity
// surface names from the same chunk. Ephemeral, like CandidateEntity.
type CandidateRelation struct {
	SourceName  string   `json:"source_name"`
	TargetName  string   `json:"target_name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Confidence  float64  `json:"confidence"`
	Evidence    Evidence `json:"evidence"`
}

// AttributeValue is one provenance-tagged value of a node attribute.
// Conflicting values for the same key coexist as separate AttributeValues
// rather than overwriting each other.
type AttributeValue struct {
	Value      string   `json:"value"`
	Normalized string   `json:"normalized"`
	Evidence   Evidence `json:"evidence"`
}

// Node is a resolved, persistent graph entity.
//
// The alias set always contains the canonical name. Attributes map a key
// to every value ever asserted for it, each with its own provenance. The
// embedding is computed from name and description for similarity retrieval.
type Node struct {
	ID          string                      `json:"id"`
	GraphID     string                      `json:"graph_id"`
	Name        string                      `json:"name"`
	Type        string                      `json:"type"`
	Aliases     []string                    `json:"aliases"`
	Description string                      `json:"description"`
	Attributes  map[string][]AttributeValue `json:"attributes,omitempty"`
	Evidence    []Evidence                  `json:"evidence"`
	Embedding   []float32                   `json:"-"`
}

// Edge is a resolved, persistent typed relation between two nodes.
// Candidates that collapse to the same (source, type, target) after
// resolution become one edge whose evidence set grows and whose
// confidence is the max over contributing extractions.
type Edge struct {
	ID          string     `json:"id"`
	GraphID     string     `json:"graph_id"`
	SourceID    string     `json:"source_id"`
	TargetID    string     `json:"target_id"`
	Type        string     `json:"type"`
	Description string     `json:"description"`
	Confidence  float64    `json:"confidence"`
	Evidence    []Evidence `json:"evidence"`
}

// EdgeKey is the identity of an edge inside one graph. Stores use it for
// upsert targets; the resolver uses it for merge lookups.
func EdgeKey(sourceID, relationType, targetID string) string {
	return sourceID + "|" + relationType + "|" + targetID
}

// UnionEvidence appends the entries of add that are not already present
// in dst, comparing by Evidence.Key. The returned slice preserves the
// order of dst followed by new entries in the order of add.
func UnionEvidence(dst []Evidence, add ...Evidence) []Evidence {
	seen := make(map[string]struct{}, len(dst))
	for _, e := range dst {
		seen[e.Key()] = struct{}{}
	}
	for _, e := range add {
		if _, ok := seen[e.Key()]; ok {
			continue
		}
		seen[e.Key()] = struct{}{}
		dst = append(dst, e)
	}
	return dst
}
