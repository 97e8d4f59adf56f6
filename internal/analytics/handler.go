package analytics

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/meridian-retail/meridian/internal/platform/httpx"
)

// Handler serves read-only reporting endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers analytics routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/analytics", func(r chi.Router) {
		r.Get("/rotation", h.handleRotation)
		r.Get("/abc", h.handleABC)
		r.Get("/discrepancies", h.handleDiscrepancies)
		r.Get("/reorder-suggestions", h.handleReorder)
		r.Get("/movement-summary", h.handleMovementSummary)
		r.Get("/valuation", h.handleValuation)
		r.Get("/low-stock", h.handleLowStock)
	})
}

func (h *Handler) handleRotation(w http.ResponseWriter, r *http.Request) {
	branchID, ok := optionalBranch(w, r)
	if !ok {
		return
	}
	days, ok := optionalInt(w, r, "days")
	if !ok {
		return
	}
	entries, err := h.service.RotationIndex(r.Context(), branchID, days)
	h.respond(w, r, entries, err)
}

func (h *Handler) handleABC(w http.ResponseWriter, r *http.Request) {
	branchID, ok := optionalBranch(w, r)
	if !ok {
		return
	}
	from, to, ok := dateRange(w, r)
	if !ok {
		return
	}
	entries, err := h.service.ABCClassification(r.Context(), branchID, from, to)
	h.respond(w, r, entries, err)
}

func (h *Handler) handleDiscrepancies(w http.ResponseWriter, r *http.Request) {
	branchID, ok := optionalBranch(w, r)
	if !ok {
		return
	}
	entries, err := h.service.Discrepancies(r.Context(), branchID)
	h.respond(w, r, entries, err)
}

func (h *Handler) handleReorder(w http.ResponseWriter, r *http.Request) {
	branchID, ok := optionalBranch(w, r)
	if !ok {
		return
	}
	horizon, ok := optionalInt(w, r, "horizon_days")
	if !ok {
		return
	}
	entries, err := h.service.ReorderSuggestions(r.Context(), branchID, horizon)
	h.respond(w, r, entries, err)
}

func (h *Handler) handleMovementSummary(w http.ResponseWriter, r *http.Request) {
	branchID, ok := optionalBranch(w, r)
	if !ok {
		return
	}
	from, to, ok := dateRange(w, r)
	if !ok {
		return
	}
	entries, err := h.service.MovementSummary(r.Context(), branchID, from, to)
	h.respond(w, r, entries, err)
}

func (h *Handler) handleValuation(w http.ResponseWriter, r *http.Request) {
	branchID, ok := optionalBranch(w, r)
	if !ok {
		return
	}
	entries, err := h.service.Valuation(r.Context(), branchID)
	h.respond(w, r, entries, err)
}

func (h *Handler) handleLowStock(w http.ResponseWriter, r *http.Request) {
	branchID, ok := optionalBranch(w, r)
	if !ok {
		return
	}
	products, err := h.service.LowStock(r.Context(), branchID)
	h.respond(w, r, products, err)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, payload any, err error) {
	if err != nil {
		h.logger.Error("analytics query failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": payload})
}

func optionalBranch(w http.ResponseWriter, r *http.Request) (*uuid.UUID, bool) {
	v := r.URL.Query().Get("branch_id")
	if v == "" {
		return nil, true
	}
	id, err := uuid.Parse(v)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid branch id")
		return nil, false
	}
	return &id, true
}

func optionalInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid "+name)
		return 0, false
	}
	return n, true
}

// dateRange parses optional from/to query params, defaulting to the trailing
// 30 days ending now.
func dateRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	q := r.URL.Query()
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)
	if v := q.Get("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid from date")
			return time.Time{}, time.Time{}, false
		}
		from = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid to date")
			return time.Time{}, time.Time{}, false
		}
		to = t.Add(24*time.Hour - time.Nanosecond)
	}
	return from, to, true
}
