package graph

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/graphloom/loom/internal/timing"
	"github.com/graphloom/loom/internal/util"
	"github.com/graphloom/loom/pkg/common"
	"github.com/graphloom/loom/pkg/logger"
)

// runExecution is the shared state of one executing run: the committed
// index all documents resolve against, the run's vocabulary, and the
// counters the summary is built from. Document workers touch it through
// the resolve mutex (index) and the status mutex (run state), never
// directly.
type runExecution struct {
	p     *Pipeline
	run   *common.RunState
	vocab *common.TypeVocabulary
	docs  []common.Document

	ix        *runIndex
	resolveMu sync.Mutex

	statusMu  sync.Mutex
	cancelled atomic.Bool

	softMerges    atomic.Int64
	rejections    atomic.Int64
	reextractions atomic.Int64
	degraded      atomic.Int64
	nodesWritten  atomic.Int64
	edgesWritten  atomic.Int64
}

// Execute runs the whole pipeline for one run: vocabulary, then every
// document through segment, extract, resolve, verify, and write, then
// the run summary. Document failures are isolated; the run itself fails
// only when run-level store operations do, so a queue redelivery can
// pick it up again.
func (p *Pipeline) Execute(ctx context.Context, run *common.RunState, docs []common.Document) (*common.RunSummary, error) {
	if run == nil || run.ID == "" {
		return nil, fmt.Errorf("run is required")
	}
	if run.GraphID == "" {
		return nil, fmt.Errorf("run %s has no graph id", run.ID)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("run %s has no documents", run.ID)
	}
	for i := range docs {
		if docs[i].ID == "" {
			return nil, fmt.Errorf("run %s contains a document without an id", run.ID)
		}
		if docs[i].GraphID == "" {
			docs[i].GraphID = run.GraphID
		}
	}

	started := time.Now()
	logger.Info("[Run][Execute] starting run",
		"runId", run.ID, "graphId", run.GraphID, "documents", len(docs))

	if err := p.store.UpdateRunStatus(ctx, run.ID, common.RunRunning); err != nil {
		return nil, fmt.Errorf("failed to mark run running: %w", err)
	}
	run.Status = common.RunRunning

	nodes, edges, err := p.store.LoadGraph(ctx, run.GraphID)
	if err != nil {
		return nil, fmt.Errorf("failed to load graph %s: %w", run.GraphID, err)
	}
	ix := newRunIndex()
	ix.load(nodes, edges)

	exec := &runExecution{p: p, run: run, docs: docs, ix: ix}
	exec.seedDocumentStatuses()

	if err := p.ensureVocabulary(ctx, exec); err != nil {
		return nil, err
	}

	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(p.parallelDocuments)
	for _, doc := range docs {
		d := doc
		eg.Go(func() error {
			select {
			case <-gCtx.Done():
				return nil
			default:
				exec.processDocument(gCtx, d)
				return nil
			}
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	status := common.RunComplete
	if exec.cancelled.Load() {
		status = common.RunCancelled
	}
	summary := exec.buildSummary(time.Since(started))

	if err := p.store.FinalizeRun(ctx, run.ID, status, summary); err != nil {
		return nil, fmt.Errorf("failed to finalize run %s: %w", run.ID, err)
	}
	run.Status = status
	run.Summary = summary

	logger.Info("[Run][Execute] run finished",
		"runId", run.ID, "status", status,
		"documentsDone", summary.DocumentsDone, "documentsFailed", summary.DocumentsFailed,
		"nodes", summary.NodesWritten, "edges", summary.EdgesWritten,
		"durationMs", summary.DurationMs)
	return summary, nil
}

// ensureVocabulary settles the type vocabulary the run extracts against:
// an explicit vocabulary wins, a goal proposes one, otherwise defaults.
// The settled vocabulary is persisted on the run before extraction
// starts.
func (p *Pipeline) ensureVocabulary(ctx context.Context, exec *runExecution) error {
	run := exec.run

	var vocab *common.TypeVocabulary
	switch {
	case run.Vocabulary != nil && len(run.Vocabulary.EntityTypes) > 0 && len(run.Vocabulary.RelationTypes) > 0:
		vocab = &common.TypeVocabulary{
			EntityTypes:   normalizeTypeList(run.Vocabulary.EntityTypes),
			RelationTypes: normalizeTypeList(run.Vocabulary.RelationTypes),
		}
	case run.Goal != nil:
		vocab = p.proposeVocabulary(ctx, run.Goal, p.corpusSample(ctx, exec.docs))
	default:
		vocab = DefaultVocabulary()
	}

	if err := p.store.SetRunVocabulary(ctx, run.ID, vocab); err != nil {
		return fmt.Errorf("failed to persist run vocabulary: %w", err)
	}
	run.Vocabulary = vocab
	exec.vocab = vocab

	logger.Info("[Run][Vocabulary] vocabulary settled",
		"runId", run.ID,
		"entityTypes", len(vocab.EntityTypes), "relationTypes", len(vocab.RelationTypes))
	return nil
}

// corpusSample returns the first words of the first loadable document,
// for grounding the vocabulary proposal.
func (p *Pipeline) corpusSample(ctx context.Context, docs []common.Document) string {
	for _, doc := range docs {
		raw, err := p.loader.Load(ctx, doc.Content)
		if err != nil {
			logger.Warn("[Run][Vocabulary] failed to sample document",
				"documentId", doc.ID, "error", err)
			continue
		}
		return util.FirstNWords(string(raw), 400)
	}
	return ""
}

// processDocument drives one document through the stage machine. All
// failure handling is local: a failed document is marked Failed and the
// rest of the run continues.
func (e *runExecution) processDocument(ctx context.Context, doc common.Document) {
	p := e.p
	tracker := timing.NewTracker()
	status := common.DocumentStatus{DocumentID: doc.ID, Stage: common.StagePending}

	fail := func(err error) {
		if ctx.Err() != nil {
			status.Error = "run cancelled"
			status.StageDurations = tracker.Milliseconds()
			e.updateDocument(ctx, status)
			return
		}
		status.Stage = common.StageFailed
		status.Error = err.Error()
		status.StageDurations = tracker.Milliseconds()
		e.updateDocument(ctx, status)
		logger.Error("[Run][Document] document failed",
			"runId", e.run.ID, "documentId", doc.ID, "stage", status.Stage, "error", err)
	}
	interrupt := func() {
		status.Error = "run cancelled"
		status.StageDurations = tracker.Milliseconds()
		e.updateDocument(ctx, status)
		logger.Info("[Run][Document] document interrupted",
			"runId", e.run.ID, "documentId", doc.ID, "stage", status.Stage)
	}
	advance := func(stage common.DocumentStage) {
		status.Stage = stage
		e.updateDocument(ctx, status)
	}

	if e.checkCancelled(ctx) {
		interrupt()
		return
	}

	advance(common.StageSegmenting)
	stopSegment := tracker.Track(string(common.StageSegmenting))
	raw, err := util.RetryWithContext(ctx, p.maxRetries, func(rCtx context.Context) ([]byte, error) {
		return p.loader.Load(rCtx, doc.Content)
	})
	var chunks []common.Chunk
	if err == nil {
		chunks, err = p.Segment(doc, string(raw))
	}
	stopSegment()
	if err != nil {
		fail(fmt.Errorf("failed to segment document: %w", err))
		return
	}
	status.Chunks = len(chunks)

	if e.checkCancelled(ctx) {
		interrupt()
		return
	}

	advance(common.StageExtracting)
	stopExtract := tracker.Track(string(common.StageExtracting))
	extractions := e.extractDocument(ctx, chunks)
	stopExtract()
	if ctx.Err() != nil {
		interrupt()
		return
	}

	if e.checkCancelled(ctx) {
		interrupt()
		return
	}

	advance(common.StageResolving)
	e.resolveMu.Lock()
	err = p.resolveVerifyWrite(ctx, e, doc, extractions, &status, tracker)
	e.resolveMu.Unlock()
	if err != nil {
		fail(err)
		return
	}

	degraded := countDegraded(extractions)
	status.DegradedChunks = degraded
	e.degraded.Add(int64(degraded))

	status.Stage = common.StageDone
	status.StageDurations = tracker.Milliseconds()
	e.updateDocument(ctx, status)
	logger.Info("[Run][Document] document done",
		"runId", e.run.ID, "documentId", doc.ID,
		"chunks", status.Chunks, "degradedChunks", status.DegradedChunks,
		"nodes", status.Nodes, "edges", status.Edges)
}

// extractDocument fans the document's chunks out over the chunk worker
// pool, collecting results by index so chunk order survives.
func (e *runExecution) extractDocument(ctx context.Context, chunks []common.Chunk) []chunkExtraction {
	extractions := make([]chunkExtraction, len(chunks))

	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(e.p.parallelChunks)
	for i, chunk := range chunks {
		idx, c := i, chunk
		eg.Go(func() error {
			select {
			case <-gCtx.Done():
				extractions[idx] = chunkExtraction{chunk: c, degraded: &common.ExtractionDegraded{
					ChunkID: c.ID, Err: gCtx.Err(),
				}}
				return nil
			default:
				extractions[idx] = e.p.extractChunk(gCtx, e, c)
				return nil
			}
		})
	}
	eg.Wait()

	return extractions
}

// resolveVerifyWrite is the serialized section of document processing:
// resolve against the shared index, verify, re-extract flagged chunks up
// to the round bound, then write the surviving batch and fold it into
// the index. The caller holds the resolve mutex throughout, which is
// what makes concurrent documents merge soundly instead of creating
// duplicate nodes.
func (p *Pipeline) resolveVerifyWrite(
	ctx context.Context,
	e *runExecution,
	doc common.Document,
	extractions []chunkExtraction,
	status *common.DocumentStatus,
	tracker *timing.Tracker,
) error {
	var r *docResolver
	var outcome verifyOutcome

	for round := 0; ; round++ {
		stopResolve := tracker.Track(string(common.StageResolving))
		var err error
		r, err = p.resolveDocument(e, doc, extractions)
		stopResolve()
		if err != nil {
			return err
		}

		if round == 0 {
			status.Stage = common.StageVerifying
			e.updateDocument(ctx, *status)
		}

		final := round >= p.reextractRounds
		stopVerify := tracker.Track(string(common.StageVerifying))
		outcome = p.verifyBatch(ctx, r, final)
		stopVerify()

		if len(outcome.flagged) == 0 || final {
			break
		}

		status.Retries++
		e.reextractions.Add(int64(len(outcome.flagged)))
		logger.Info("[Run][Document] re-extracting flagged chunks",
			"runId", e.run.ID, "documentId", doc.ID,
			"round", round+1, "chunks", len(outcome.flagged))

		stopReextract := tracker.Track(string(common.StageExtracting))
		p.reextractChunks(ctx, e, extractions, outcome.flagged)
		stopReextract()
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	e.rejections.Add(int64(outcome.rejections()))

	status.Stage = common.StageWriting
	e.updateDocument(ctx, *status)
	stopWrite := tracker.Track(string(common.StageWriting))
	defer stopWrite()

	p.mergeDescriptions(ctx, r, outcome)

	batch := r.assembleBatch(outcome)
	if err := p.writeBatch(ctx, e, batch); err != nil {
		return err
	}

	e.softMerges.Add(int64(r.softMerges))
	e.nodesWritten.Add(int64(len(batch.Nodes)))
	e.edgesWritten.Add(int64(len(batch.Edges)))
	status.Nodes = len(batch.Nodes)
	status.Edges = len(batch.Edges)
	return nil
}

// reextractChunks replaces the flagged entries of extractions in place,
// re-running extraction for just those chunks.
func (p *Pipeline) reextractChunks(ctx context.Context, e *runExecution, extractions []chunkExtraction, flagged map[string]struct{}) {
	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(p.parallelChunks)
	for i := range extractions {
		if _, ok := flagged[extractions[i].chunk.ID]; !ok {
			continue
		}
		idx := i
		eg.Go(func() error {
			extractions[idx] = p.extractChunk(gCtx, e, extractions[idx].chunk)
			return nil
		})
	}
	eg.Wait()
}

// checkCancelled reports whether the run should stop at this stage
// boundary. A cancel request observed once sticks for the rest of the
// run; a store error checking the flag is treated as not cancelled.
func (e *runExecution) checkCancelled(ctx context.Context) bool {
	if e.cancelled.Load() {
		return true
	}
	if ctx.Err() != nil {
		return true
	}

	requested, err := e.p.store.CancelRequested(ctx, e.run.ID)
	if err != nil {
		logger.Warn("[Run][Cancel] failed to check cancel flag",
			"runId", e.run.ID, "error", err)
		return false
	}
	if requested {
		e.cancelled.Store(true)
		logger.Info("[Run][Cancel] cancellation requested", "runId", e.run.ID)
	}
	return requested
}

func (e *runExecution) seedDocumentStatuses() {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	for _, doc := range e.docs {
		if e.run.DocumentStatusFor(doc.ID) == nil {
			e.run.Documents = append(e.run.Documents, common.DocumentStatus{
				DocumentID: doc.ID,
				Stage:      common.StagePending,
			})
		}
	}
}

// updateDocument replaces the document's status entry on the shared run
// state and persists it. Persistence is best-effort: a failed status
// write never fails the document.
func (e *runExecution) updateDocument(ctx context.Context, status common.DocumentStatus) {
	e.statusMu.Lock()
	replaced := false
	for i := range e.run.Documents {
		if e.run.Documents[i].DocumentID == status.DocumentID {
			e.run.Documents[i] = status
			replaced = true
			break
		}
	}
	if !replaced {
		e.run.Documents = append(e.run.Documents, status)
	}
	e.statusMu.Unlock()

	if err := e.p.store.UpdateRunDocument(ctx, e.run.ID, status); err != nil {
		logger.Warn("[Run][Status] failed to persist document status",
			"runId", e.run.ID, "documentId", status.DocumentID, "error", err)
	}
}

func (e *runExecution) buildSummary(elapsed time.Duration) *common.RunSummary {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()

	summary := &common.RunSummary{
		DocumentsTotal: len(e.docs),
		NodesWritten:   int(e.nodesWritten.Load()),
		EdgesWritten:   int(e.edgesWritten.Load()),
		SoftMerges:     int(e.softMerges.Load()),
		Rejections:     int(e.rejections.Load()),
		Reextractions:  int(e.reextractions.Load()),
		DegradedChunks: int(e.degraded.Load()),
		DurationMs:     elapsed.Milliseconds(),
	}
	for _, doc := range e.run.Documents {
		switch doc.Stage {
		case common.StageDone:
			summary.DocumentsDone++
		case common.StageFailed:
			summary.DocumentsFailed++
		}
	}
	return summary
}

func (e *runExecution) docKind(documentID string) common.SourceKind {
	for i := range e.docs {
		if e.docs[i].ID == documentID {
			return e.docs[i].Kind
		}
	}
	return common.SourceUnstructured
}

func countDegraded(extractions []chunkExtraction) int {
	count := 0
	for i := range extractions {
		if extractions[i].degraded != nil {
			count++
		}
	}
	return count
}
