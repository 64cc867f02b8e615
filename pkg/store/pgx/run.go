package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/graphloom/loom/pkg/common"
	"github.com/graphloom/loom/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

const runColumns = `id, graph_id, goal, vocabulary, status, documents, summary, cancel_requested, created_at, updated_at, finished_at`

func (s *GraphDBStore) CreateRun(ctx context.Context, run *common.RunState) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run id is empty")
	}

	goal, err := json.Marshal(run.Goal)
	if err != nil {
		return fmt.Errorf("failed to marshal run goal: %w", err)
	}
	vocabulary, err := json.Marshal(run.Vocabulary)
	if err != nil {
		return fmt.Errorf("failed to marshal run vocabulary: %w", err)
	}
	documents, err := json.Marshal(run.Documents)
	if err != nil {
		return fmt.Errorf("failed to marshal run documents: %w", err)
	}

	s.dbLock.Lock()
	defer s.dbLock.Unlock()

	_, err = s.conn.Exec(ctx,
		`INSERT INTO runs (id, graph_id, goal, vocabulary, status, documents, cancel_requested, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, false, now(), now())`,
		run.ID, run.GraphID, goal, vocabulary, run.Status, documents)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

func (s *GraphDBStore) GetRun(ctx context.Context, runID string) (*common.RunState, error) {
	row := s.conn.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = $1`, runID)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

func (s *GraphDBStore) UpdateRunStatus(ctx context.Context, runID string, status common.RunStatus) error {
	tag, err := s.conn.Exec(ctx,
		`UPDATE runs SET status = $2, updated_at = now() WHERE id = $1`, runID, status)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *GraphDBStore) SetRunVocabulary(ctx context.Context, runID string, vocab *common.TypeVocabulary) error {
	vocabulary, err := json.Marshal(vocab)
	if err != nil {
		return fmt.Errorf("failed to marshal run vocabulary: %w", err)
	}

	tag, err := s.conn.Exec(ctx,
		`UPDATE runs SET vocabulary = $2, updated_at = now() WHERE id = $1`, runID, vocabulary)
	if err != nil {
		return fmt.Errorf("failed to set run vocabulary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UpdateRunDocument replaces the status entry for one document. The row
// is locked for the duration so concurrent per-document updates from the
// worker pool cannot overwrite each other.
func (s *GraphDBStore) UpdateRunDocument(ctx context.Context, runID string, doc common.DocumentStatus) error {
	s.dbLock.Lock()
	defer s.dbLock.Unlock()

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var raw []byte
	err = tx.QueryRow(ctx,
		`SELECT documents FROM runs WHERE id = $1 FOR UPDATE`, runID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return store.ErrNotFound
		}
		return fmt.Errorf("failed to lock run documents: %w", err)
	}

	var documents []common.DocumentStatus
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &documents); err != nil {
			return fmt.Errorf("failed to unmarshal run documents: %w", err)
		}
	}

	replaced := false
	for i := range documents {
		if documents[i].DocumentID == doc.DocumentID {
			documents[i] = doc
			replaced = true
			break
		}
	}
	if !replaced {
		documents = append(documents, doc)
	}

	updated, err := json.Marshal(documents)
	if err != nil {
		return fmt.Errorf("failed to marshal run documents: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE runs SET documents = $2, updated_at = now() WHERE id = $1`, runID, updated)
	if err != nil {
		return fmt.Errorf("failed to update run documents: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *GraphDBStore) FinalizeRun(ctx context.Context, runID string, status common.RunStatus, summary *common.RunSummary) error {
	sum, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}

	tag, err := s.conn.Exec(ctx,
		`UPDATE runs SET status = $2, summary = $3, finished_at = now(), updated_at = now() WHERE id = $1`,
		runID, status, sum)
	if err != nil {
		return fmt.Errorf("failed to finalize run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *GraphDBStore) RequestCancel(ctx context.Context, runID string) error {
	tag, err := s.conn.Exec(ctx,
		`UPDATE runs SET cancel_requested = true, updated_at = now() WHERE id = $1`, runID)
	if err != nil {
		return fmt.Errorf("failed to request cancel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *GraphDBStore) CancelRequested(ctx context.Context, runID string) (bool, error) {
	var cancel bool
	err := s.conn.QueryRow(ctx,
		`SELECT cancel_requested FROM runs WHERE id = $1`, runID).Scan(&cancel)
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return false, store.ErrNotFound
		}
		return false, fmt.Errorf("failed to read cancel flag: %w", err)
	}
	return cancel, nil
}

func scanRun(row rowScanner) (*common.RunState, error) {
	var (
		run        common.RunState
		goal       []byte
		vocabulary []byte
		documents  []byte
		summary    []byte
	)
	err := row.Scan(
		&run.ID, &run.GraphID, &goal, &vocabulary, &run.Status,
		&documents, &summary, &run.CancelRequested,
		&run.CreatedAt, &run.UpdatedAt, &run.FinishedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(goal) > 0 {
		if err := json.Unmarshal(goal, &run.Goal); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run goal: %w", err)
		}
	}
	if len(vocabulary) > 0 {
		if err := json.Unmarshal(vocabulary, &run.Vocabulary); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run vocabulary: %w", err)
		}
	}
	if len(documents) > 0 {
		if err := json.Unmarshal(documents, &run.Documents); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run documents: %w", err)
		}
	}
	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &run.Summary); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run summary: %w", err)
		}
	}
	return &run, nil
}
