package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/graphloom/loom/internal/util"
	"github.com/graphloom/loom/pkg/ai"
	"github.com/graphloom/loom/pkg/common"
	"github.com/graphloom/loom/pkg/graph"
	"github.com/graphloom/loom/pkg/leaselock"
	"github.com/graphloom/loom/pkg/logger"
	"github.com/graphloom/loom/pkg/store"
)

// RunMessage is the payload of one run request. The run row itself is
// persisted before publish; the message carries the document descriptors
// because documents are immutable inputs, not run state.
type RunMessage struct {
	RunID     string            `json:"run_id"`
	GraphID   string            `json:"graph_id"`
	Documents []common.Document `json:"documents"`
}

// Processor executes run messages. Locks is optional: when nil the
// processor runs without a graph lease, which is safe only when a single
// worker process writes the store (tests, memory-store deployments).
type Processor struct {
	Store  store.GraphStore
	AI     ai.Client
	Loader graph.ContentLoader
	Locks  *leaselock.Client
}

// ProcessRunMessage decodes one run message and drives the pipeline for
// it. A nil return acks the message; an error sends it through the retry
// queue. Messages for deleted or already-finished runs are acked without
// work so redeliveries stay harmless.
func (p *Processor) ProcessRunMessage(ctx context.Context, msg string) error {
	var data RunMessage
	if err := json.Unmarshal([]byte(msg), &data); err != nil {
		return fmt.Errorf("failed to decode run message: %w", err)
	}
	if data.RunID == "" || data.GraphID == "" {
		return fmt.Errorf("run message missing run or graph id")
	}
	if len(data.Documents) == 0 {
		return fmt.Errorf("run message %s carries no documents", data.RunID)
	}

	run, err := p.Store.GetRun(ctx, data.RunID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn("[Queue] Run no longer exists, dropping message", "run_id", data.RunID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", data.RunID, err)
	}

	switch run.Status {
	case common.RunComplete, common.RunCancelled:
		logger.Info("[Queue] Run already finished, dropping message",
			"run_id", run.ID, "status", run.Status)
		return nil
	}

	pipeline, err := p.newPipeline()
	if err != nil {
		return err
	}

	execCtx := ctx
	if p.Locks != nil {
		logger.Debug("[Queue] Acquiring graph lease", "graph_id", data.GraphID, "run_id", run.ID)
		lease, err := p.Locks.Acquire(ctx, "graph:"+data.GraphID, leaselock.Options{
			TTL:         10 * time.Minute,
			RenewEvery:  4 * time.Minute,
			Wait:        true,
			TokenPrefix: fmt.Sprintf("run/%s/", run.ID),
		})
		if err != nil {
			return fmt.Errorf("failed to acquire lease for graph %s: %w", data.GraphID, err)
		}
		defer func() {
			if err := lease.Release(context.Background()); err != nil {
				logger.Warn("[Queue] Failed to release graph lease",
					"graph_id", data.GraphID, "err", err)
			}
		}()
		execCtx = lease.Context
	}

	summary, err := pipeline.Execute(execCtx, run, data.Documents)
	if err != nil {
		return fmt.Errorf("run %s failed: %w", run.ID, err)
	}

	logger.Info("[Queue] Run finished",
		"run_id", run.ID, "status", run.Status,
		"documents_done", summary.DocumentsDone,
		"documents_failed", summary.DocumentsFailed,
		"nodes", summary.NodesWritten, "edges", summary.EdgesWritten)
	return nil
}

// newPipeline builds a pipeline from the environment. Zero values defer
// to the pipeline's own defaults.
func (p *Processor) newPipeline() (*graph.Pipeline, error) {
	return graph.NewPipeline(graph.NewPipelineParams{
		Store:  p.Store,
		AI:     p.AI,
		Loader: p.Loader,

		TokenEncoder:      util.GetEnv("TOKEN_ENCODER"),
		MaxChunkTokens:    int(util.GetEnvNumeric("MAX_CHUNK_TOKENS", 0)),
		ParallelDocuments: int(util.GetEnvNumeric("PARALLEL_DOCUMENTS", 0)),
		ParallelChunks:    int(util.GetEnvNumeric("PARALLEL_CHUNKS", 0)),
		MaxRetries:        int(util.GetEnvNumeric("MAX_RETRIES", 0)),
		WriteRetries:      int(util.GetEnvNumeric("WRITE_RETRIES", 0)),
		ReextractRounds:   int(util.GetEnvNumeric("REEXTRACT_ROUNDS", 0)),

		SimilarityThreshold: util.GetEnvFloat("SIM_THRESHOLD", 0),
		ConfidenceFloor:     util.GetEnvFloat("CONFIDENCE_FLOOR", 0),
	})
}
