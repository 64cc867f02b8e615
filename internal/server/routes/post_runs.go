package routes

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/graphloom/loom/internal/queue"
	"github.com/graphloom/loom/internal/server/middleware"
	"github.com/graphloom/loom/pkg/common"
	"github.com/graphloom/loom/pkg/logger"
)

// CreateRunHandler accepts a construction run, persists it as pending
// and hands it to the worker queue.
func CreateRunHandler(c echo.Context) error {
	type createRunBody struct {
		GraphID    string                 `json:"graph_id" validate:"required"`
		Goal       *common.Goal           `json:"goal"`
		Vocabulary *common.TypeVocabulary `json:"vocabulary"`
		Documents  []common.Document      `json:"documents" validate:"required,min=1"`
	}

	type createRunResponse struct {
		Message string           `json:"message"`
		Run     *common.RunState `json:"run,omitempty"`
	}

	data := new(createRunBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, createRunResponse{
			Message: "Invalid request params",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, createRunResponse{
			Message: "Invalid request params",
		})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	seen := make(map[string]bool, len(data.Documents))
	for i := range data.Documents {
		doc := &data.Documents[i]
		if doc.GraphID == "" {
			doc.GraphID = data.GraphID
		}
		if doc.Kind == "" {
			doc.Kind = common.SourceUnstructured
		}
		if seen[doc.ID] {
			return c.JSON(http.StatusBadRequest, createRunResponse{
				Message: fmt.Sprintf("duplicate document id %q", doc.ID),
			})
		}
		seen[doc.ID] = true

		if err := validateDocument(doc); err != nil {
			return c.JSON(http.StatusBadRequest, createRunResponse{
				Message: err.Error(),
			})
		}
	}

	runID, err := gonanoid.New()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, createRunResponse{
			Message: "Internal server error",
		})
	}

	now := time.Now()
	run := &common.RunState{
		ID:         runID,
		GraphID:    data.GraphID,
		Goal:       data.Goal,
		Vocabulary: data.Vocabulary,
		Status:     common.RunPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, doc := range data.Documents {
		run.Documents = append(run.Documents, common.DocumentStatus{
			DocumentID: doc.ID,
			Stage:      common.StagePending,
		})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	if err := app.Store.CreateRun(ctx, run); err != nil {
		logger.Error("Failed to create run", "err", err)
		return c.JSON(http.StatusInternalServerError, createRunResponse{
			Message: "Internal server error",
		})
	}

	msg, err := json.Marshal(queue.RunMessage{
		RunID:     run.ID,
		GraphID:   run.GraphID,
		Documents: data.Documents,
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, createRunResponse{
			Message: "Internal server error",
		})
	}
	if err := app.Publish(queue.RunQueue, msg); err != nil {
		logger.Error("Failed to publish run message", "run", run.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, createRunResponse{
			Message: "Failed to enqueue run",
		})
	}

	return c.JSON(http.StatusAccepted, createRunResponse{
		Message: "Run accepted",
		Run:     run,
	})
}

// validateDocument checks that a document's content reference carries
// what its scheme needs before the run is accepted.
func validateDocument(doc *common.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document id is required")
	}

	switch doc.Kind {
	case common.SourceUnstructured, common.SourceStructured:
	default:
		return fmt.Errorf("document %s has unknown kind %q", doc.ID, doc.Kind)
	}

	switch doc.Content.Scheme {
	case common.RefInline:
		if len(doc.Content.Inline) == 0 {
			return fmt.Errorf("document %s has no inline content", doc.ID)
		}
	case common.RefS3:
		if doc.Content.Key == "" {
			return fmt.Errorf("document %s has no object key", doc.ID)
		}
	case common.RefWeb:
		if doc.Content.URL == "" {
			return fmt.Errorf("document %s has no url", doc.ID)
		}
	case common.RefFile:
		if doc.Content.Key == "" {
			return fmt.Errorf("document %s has no file key", doc.ID)
		}
	default:
		return fmt.Errorf("document %s has unknown content scheme %q", doc.ID, doc.Content.Scheme)
	}
	return nil
}
