package common

import "time"

// RunStatus is the lifecycle state of a whole construction run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunComplete  RunStatus = "complete"
	RunCancelled RunStatus = "cancelled"
)

// DocumentStage is the per-document state machine. Stages advance
// strictly forward; transient retries loop inside a stage and are not
// visible as separate states.
type DocumentStage string

const (
	StagePending    DocumentStage = "pending"
	StageSegmenting DocumentStage = "segmenting"
	StageExtracting DocumentStage = "extracting"
	StageResolving  DocumentStage = "resolving"
	StageVerifying  DocumentStage = "verifying"
	StageWriting    DocumentStage = "writing"
	StageDone       DocumentStage = "done"
	StageFailed     DocumentStage = "failed"
)

// Terminal reports whether the stage is an end state.
func (s DocumentStage) Terminal() bool {
	return s == StageDone || s == StageFailed
}

// Goal describes what kind of graph a run should build. It is optional;
// when present it parameterizes the type vocabulary proposal and the
// extraction prompts.
type Goal struct {
	KindOfGraph string `json:"kind_of_graph"`
	Description string `json:"description"`
}

// TypeVocabulary is the set of entity and relation type labels a run
// extracts against. Either proposed from the run goal or defaulted.
type TypeVocabulary struct {
	EntityTypes   []string `json:"entity_types"`
	RelationTypes []string `json:"relation_types"`
}

// DocumentStatus is the coordinator's bookkeeping for one document.
type DocumentStatus struct {
	DocumentID     string           `json:"document_id"`
	Stage          DocumentStage    `json:"stage"`
	Retries        int              `json:"retries"`
	DegradedChunks int              `json:"degraded_chunks"`
	Chunks         int              `json:"chunks"`
	Nodes          int              `json:"nodes"`
	Edges          int              `json:"edges"`
	Error          string           `json:"error,omitempty"`
	StageDurations map[string]int64 `json:"stage_durations,omitempty"`
}

// RunSummary aggregates a finished run. It is persisted with the run so
// a status query never has to recompute it.
type RunSummary struct {
	DocumentsTotal  int   `json:"documents_total"`
	DocumentsDone   int   `json:"documents_done"`
	DocumentsFailed int   `json:"documents_failed"`
	NodesWritten    int   `json:"nodes_written"`
	EdgesWritten    int   `json:"edges_written"`
	SoftMerges      int   `json:"soft_merges"`
	Rejections      int   `json:"rejections"`
	Reextractions   int   `json:"reextractions"`
	DegradedChunks  int   `json:"degraded_chunks"`
	DurationMs      int64 `json:"duration_ms"`
}

// RunState is one pipeline execution over a document set. Created when a
// run is accepted, updated by the coordinator after each stage
// completion, finalized with its summary at run end.
type RunState struct {
	ID              string           `json:"id"`
	GraphID         string           `json:"graph_id"`
	Goal            *Goal            `json:"goal,omitempty"`
	Vocabulary      *TypeVocabulary  `json:"vocabulary,omitempty"`
	Status          RunStatus        `json:"status"`
	Documents       []DocumentStatus `json:"documents"`
	Summary         *RunSummary      `json:"summary,omitempty"`
	CancelRequested bool             `json:"cancel_requested"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	FinishedAt      *time.Time       `json:"finished_at,omitempty"`
}

// DocumentStatusFor returns a pointer to the status entry for the given
// document id, or nil when the run does not contain it.
func (r *RunState) DocumentStatusFor(documentID string) *DocumentStatus {
	for i := range r.Documents {
		if r.Documents[i].DocumentID == documentID {
			return &r.Documents[i]
		}
	}
	return nil
}
