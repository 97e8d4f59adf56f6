package jobs

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/meridian-retail/meridian/internal/platform/httpx"
)

// Enqueuer submits scan tasks for background processing. *Client satisfies it.
type Enqueuer interface {
	EnqueueDiscrepancyScan(ctx context.Context, payload ScanPayload) (*asynq.TaskInfo, error)
	EnqueueReorderScan(ctx context.Context, payload ScanPayload) (*asynq.TaskInfo, error)
}

// Handler exposes on-demand triggers for the scans that otherwise run on the
// nightly schedule.
type Handler struct {
	logger *slog.Logger
	queue  Enqueuer
}

// NewHandler constructs handler.
func NewHandler(logger *slog.Logger, queue Enqueuer) *Handler {
	return &Handler{logger: logger, queue: queue}
}

// MountRoutes registers routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/admin/scans", func(r chi.Router) {
		r.Post("/discrepancy", h.triggerScan(h.queue.EnqueueDiscrepancyScan))
		r.Post("/reorder", h.triggerScan(h.queue.EnqueueReorderScan))
	})
}

type scanRequest struct {
	BranchID *uuid.UUID `json:"branch_id"`
}

func (h *Handler) triggerScan(enqueue func(context.Context, ScanPayload) (*asynq.TaskInfo, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req scanRequest
		if r.ContentLength != 0 {
			if err := httpx.DecodeJSON(r, &req); err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed scan request body")
				return
			}
		}
		info, err := enqueue(r.Context(), ScanPayload{BranchID: req.BranchID})
		if err != nil {
			h.logger.Error("enqueue scan", slog.Any("error", err))
			httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "scan could not be enqueued")
			return
		}
		httpx.JSON(w, http.StatusAccepted, map[string]any{
			"queued":  true,
			"task_id": info.ID,
		})
	}
}
