package store

import (
	"context"
	"errors"

	"github.com/graphloom/loom/pkg/common"
)

// ErrNotFound is returned when a node, edge, or run does not exist.
var ErrNotFound = errors.New("not found")

// ScoredNode is a similarity search hit.
type ScoredNode struct {
	Node  common.Node
	Score float64
}

// GraphStore defines the persistence capability the pipeline consumes.
// Implementations must make ApplyBatch atomic and idempotent: a batch is
// a set of upserts keyed by node/edge identity, so re-applying a batch
// after a partial failure cannot duplicate data.
type GraphStore interface {
	// LoadGraph returns every node and edge of a graph. The resolution
	// engine uses it to seed its index at run start.
	LoadGraph(ctx context.Context, graphID string) ([]common.Node, []common.Edge, error)

	// ApplyBatch applies one document's approved mutations in a single
	// transaction. Nodes are written before edges so no edge ever
	// references a missing endpoint.
	ApplyBatch(ctx context.Context, batch *common.MutationBatch) error

	GetNode(ctx context.Context, graphID string, nodeID string) (*common.Node, error)
	GetNodeEdges(ctx context.Context, graphID string, nodeID string) ([]common.Edge, error)

	// SearchNodes returns nodes ordered by embedding similarity, best
	// first, dropping hits below minScore.
	SearchNodes(ctx context.Context, graphID string, embedding []float32, limit int, minScore float64) ([]ScoredNode, error)

	// Neighborhood expands from the seed nodes over at most depth hops,
	// returning the visited nodes and the edges connecting them. maxNodes
	// bounds the expansion.
	Neighborhood(ctx context.Context, graphID string, seedIDs []string, depth int, maxNodes int) ([]common.Node, []common.Edge, error)

	CreateRun(ctx context.Context, run *common.RunState) error
	GetRun(ctx context.Context, runID string) (*common.RunState, error)
	UpdateRunStatus(ctx context.Context, runID string, status common.RunStatus) error
	SetRunVocabulary(ctx context.Context, runID string, vocab *common.TypeVocabulary) error
	UpdateRunDocument(ctx context.Context, runID string, doc common.DocumentStatus) error
	FinalizeRun(ctx context.Context, runID string, status common.RunStatus, summary *common.RunSummary) error

	// RequestCancel sets the run's cancel flag; CancelRequested reads it.
	// The coordinator polls the flag at stage boundaries, so cancellation
	// is cooperative and never tears down an in-flight stage.
	RequestCancel(ctx context.Context, runID string) error
	CancelRequested(ctx context.Context, runID string) (bool, error)
}
