package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-retail/meridian/internal/observability"
	"github.com/meridian-retail/meridian/internal/platform/httpx"
)

// Handler wires the JSON endpoints for stock mutations and ledger queries.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	metrics  *observability.Metrics
}

// NewHandler constructs the inventory handler. Metrics may be nil.
func NewHandler(logger *slog.Logger, service *Service, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New(), metrics: metrics}
}

// MountRoutes registers inventory and sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/inventory", func(r chi.Router) {
		r.Post("/initial", h.handleInitial)
		r.Post("/entries", h.handleEntry)
		r.Post("/exits", h.handleExit)
		r.Post("/adjustments", h.handleAdjust)
		r.Post("/transfers", h.handleTransfer)
		r.Post("/losses", h.handleLoss)
		r.Get("/movements", h.handleMovements)
	})
	r.Route("/sales", func(r chi.Router) {
		r.Post("/", h.handleRecordSale)
		r.Get("/{id}", h.handleGetSale)
		r.Get("/number/{number}", h.handleGetSaleByNumber)
		r.Post("/{id}/cancel", h.handleCancelSale)
	})
}

type entryRequest struct {
	ProductID uuid.UUID        `json:"product_id" validate:"required"`
	Quantity  int64            `json:"quantity" validate:"required,gt=0"`
	UnitCost  *decimal.Decimal `json:"unit_cost"`
	Reason    string           `json:"reason"`
	Note      string           `json:"note"`
	ActorID   uuid.UUID        `json:"actor_id" validate:"required"`
}

func (h *Handler) handleEntry(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.Entry(r.Context(), EntryInput{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		UnitCost:  req.UnitCost,
		Reason:    req.Reason,
		Note:      req.Note,
		ActorID:   req.ActorID,
	})
	h.respondMovement(w, r, result, err)
}

type initialRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int64     `json:"quantity" validate:"required,gt=0"`
	Note      string    `json:"note"`
	ActorID   uuid.UUID `json:"actor_id" validate:"required"`
}

func (h *Handler) handleInitial(w http.ResponseWriter, r *http.Request) {
	var req initialRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.InitialStock(r.Context(), InitialStockInput{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Note:      req.Note,
		ActorID:   req.ActorID,
	})
	h.respondMovement(w, r, result, err)
}

type exitRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int64     `json:"quantity" validate:"required,gt=0"`
	Reason    string    `json:"reason" validate:"required"`
	Note      string    `json:"note"`
	ActorID   uuid.UUID `json:"actor_id" validate:"required"`
}

func (h *Handler) handleExit(w http.ResponseWriter, r *http.Request) {
	var req exitRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.Exit(r.Context(), ExitInput{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Reason:    req.Reason,
		Note:      req.Note,
		ActorID:   req.ActorID,
	})
	h.respondMovement(w, r, result, err)
}

func (h *Handler) handleLoss(w http.ResponseWriter, r *http.Request) {
	var req exitRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.Loss(r.Context(), LossInput{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Reason:    req.Reason,
		Note:      req.Note,
		ActorID:   req.ActorID,
	})
	h.respondMovement(w, r, result, err)
}

type adjustRequest struct {
	ProductID    uuid.UUID `json:"product_id" validate:"required"`
	CountedStock int64     `json:"counted_stock" validate:"gte=0"`
	Reason       string    `json:"reason" validate:"required"`
	Note         string    `json:"note"`
	ActorID      uuid.UUID `json:"actor_id" validate:"required"`
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.Adjust(r.Context(), AdjustInput{
		ProductID:    req.ProductID,
		CountedStock: req.CountedStock,
		Reason:       req.Reason,
		Note:         req.Note,
		ActorID:      req.ActorID,
	})
	if errors.Is(err, ErrNoAdjustmentNeeded) {
		httpx.JSON(w, http.StatusOK, map[string]any{"adjusted": false, "message": err.Error()})
		return
	}
	h.respondMovement(w, r, result, err)
}

type transferRequest struct {
	ProductID           uuid.UUID `json:"product_id" validate:"required"`
	Quantity            int64     `json:"quantity" validate:"required,gt=0"`
	DestinationBranchID uuid.UUID `json:"destination_branch_id" validate:"required"`
	Note                string    `json:"note"`
	ActorID             uuid.UUID `json:"actor_id" validate:"required"`
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.Transfer(r.Context(), TransferInput{
		ProductID:           req.ProductID,
		Quantity:            req.Quantity,
		DestinationBranchID: req.DestinationBranchID,
		Note:                req.Note,
		ActorID:             req.ActorID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.metrics.CountMovement(string(MovementTransferOut))
	h.metrics.CountMovement(string(MovementTransferIn))
	httpx.JSON(w, http.StatusCreated, result)
}

type saleRequest struct {
	BranchID uuid.UUID         `json:"branch_id" validate:"required"`
	Lines    []saleLineRequest `json:"lines" validate:"required,min=1,dive"`
	Discount decimal.Decimal   `json:"discount"`
	Note     string            `json:"note"`
	ActorID  uuid.UUID         `json:"actor_id" validate:"required"`
}

type saleLineRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int64     `json:"quantity" validate:"required,gt=0"`
}

func (h *Handler) handleRecordSale(w http.ResponseWriter, r *http.Request) {
	var req saleRequest
	if !h.decode(w, r, &req) {
		return
	}
	lines := make([]SaleLineInput, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, SaleLineInput{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	result, err := h.service.RecordSale(r.Context(), SaleInput{
		BranchID: req.BranchID,
		Lines:    lines,
		Discount: req.Discount,
		Note:     req.Note,
		ActorID:  req.ActorID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	for _, movement := range result.Movements {
		h.metrics.CountMovement(string(movement.Kind))
	}
	httpx.JSON(w, http.StatusCreated, result)
}

type cancelSaleRequest struct {
	Reason  string    `json:"reason" validate:"required"`
	ActorID uuid.UUID `json:"actor_id" validate:"required"`
}

func (h *Handler) handleCancelSale(w http.ResponseWriter, r *http.Request) {
	saleID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid sale id")
		return
	}
	var req cancelSaleRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.CancelSale(r.Context(), CancelSaleInput{
		SaleID:  saleID,
		Reason:  req.Reason,
		ActorID: req.ActorID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	for _, movement := range result.Movements {
		h.metrics.CountMovement(string(movement.Kind))
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleGetSale(w http.ResponseWriter, r *http.Request) {
	saleID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid sale id")
		return
	}
	sale, err := h.service.GetSale(r.Context(), saleID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) handleGetSaleByNumber(w http.ResponseWriter, r *http.Request) {
	sale, err := h.service.GetSaleByNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := MovementFilter{Kind: MovementKind(q.Get("kind"))}
	if v := q.Get("product_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid product id")
			return
		}
		filter.ProductID = &id
	}
	if v := q.Get("branch_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid branch id")
			return
		}
		filter.BranchID = &id
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid from date")
			return
		}
		filter.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid to date")
			return
		}
		// Include the whole day.
		filter.To = t.Add(24*time.Hour - time.Nanosecond)
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PerPage, _ = strconv.Atoi(q.Get("per_page"))

	movements, pagination, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"data":       movements,
		"pagination": pagination,
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return true
}

func (h *Handler) respondMovement(w http.ResponseWriter, r *http.Request, result MovementResult, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.metrics.CountMovement(string(result.Movement.Kind))
	httpx.JSON(w, http.StatusCreated, result)
}

// fail maps domain sentinels onto problem responses; anything unmapped is
// logged and rendered by the generic transport handler.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrProductNotFound), errors.Is(err, ErrSaleNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInsufficientStock):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrSaleAlreadyCancelled):
		httpx.Problem(w, http.StatusConflict, "Already Cancelled", err.Error())
	case errors.Is(err, ErrConcurrencyConflict):
		httpx.Problem(w, http.StatusConflict, "Concurrency Conflict", err.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidTransfer),
		errors.Is(err, ErrEmptySale), errors.Is(err, ErrInvalidDiscount):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
	default:
		h.logger.Error("inventory operation failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
