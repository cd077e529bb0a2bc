package purchasing

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian/internal/platform/httpx"
	"github.com/meridian-pos/meridian/internal/shared"
)

// Handler wires JSON endpoints for the purchase order workflow.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers purchasing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/confirm", h.handleConfirm)
	r.Post("/{id}/receive", h.handleReceive)
	r.Post("/{id}/cancel", h.handleCancel)
}

func orderID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

type createOrderLineRequest struct {
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	Quantity  int64  `json:"quantity" validate:"required,gt=0"`
	UnitCost  string `json:"unit_cost" validate:"required"`
}

type createOrderRequest struct {
	LocationID int64                    `json:"location_id" validate:"required,gt=0"`
	Number     string                   `json:"number" validate:"max=64"`
	Supplier   string                   `json:"supplier" validate:"max=255"`
	Note       string                   `json:"note" validate:"max=500"`
	Lines      []createOrderLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	actorID, _ := shared.ActorFromContext(r.Context())

	var req createOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	lines := make([]CreateLineInput, 0, len(req.Lines))
	for _, line := range req.Lines {
		cost, err := decimal.NewFromString(line.UnitCost)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid unit_cost")
			return
		}
		lines = append(lines, CreateLineInput{ProductID: line.ProductID, Quantity: line.Quantity, UnitCost: cost})
	}

	po, err := h.service.Create(r.Context(), CreateInput{
		TenantID:   tenantID,
		LocationID: req.LocationID,
		Number:     req.Number,
		Supplier:   req.Supplier,
		Note:       req.Note,
		Lines:      lines,
		ActorID:    actorID,
	})
	if err != nil {
		h.logger.Error("create purchase order", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	actorID, _ := shared.ActorFromContext(r.Context())
	id, ok := orderID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid order id")
		return
	}
	if err := h.service.Confirm(r.Context(), tenantID, id, actorID); err != nil {
		h.logger.Error("confirm purchase order", slog.Any("error", err), slog.Int64("order_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": string(StatusConfirmed)})
}

type receiveLineRequest struct {
	LineID      int64  `json:"line_id" validate:"required,gt=0"`
	BatchNumber string `json:"batch_number" validate:"required,max=64"`
	ExpiresAt   string `json:"expires_at" validate:"required"`
	Quantity    int64  `json:"quantity" validate:"required,gt=0"`
}

type receiveRequest struct {
	Lines []receiveLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	actorID, _ := shared.ActorFromContext(r.Context())
	id, ok := orderID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid order id")
		return
	}

	var req receiveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	lines := make([]ReceiveLineInput, 0, len(req.Lines))
	for _, line := range req.Lines {
		expiresAt, err := time.Parse("2006-01-02", line.ExpiresAt)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid expires_at date")
			return
		}
		lines = append(lines, ReceiveLineInput{
			LineID:      line.LineID,
			BatchNumber: line.BatchNumber,
			ExpiresAt:   expiresAt,
			Quantity:    line.Quantity,
		})
	}

	po, err := h.service.Receive(r.Context(), ReceiveInput{
		TenantID:       tenantID,
		OrderID:        id,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		Lines:          lines,
		ActorID:        actorID,
	})
	if err != nil {
		h.logger.Error("receive purchase order", slog.Any("error", err), slog.Int64("order_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	actorID, _ := shared.ActorFromContext(r.Context())
	id, ok := orderID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid order id")
		return
	}
	if err := h.service.Cancel(r.Context(), tenantID, id, actorID); err != nil {
		h.logger.Error("cancel purchase order", slog.Any("error", err), slog.Int64("order_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": string(StatusCancelled)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	id, ok := orderID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid order id")
		return
	}
	po, err := h.service.Get(r.Context(), tenantID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	q := r.URL.Query()

	filter := ListFilter{
		TenantID: tenantID,
		Status:   Status(q.Get("status")),
	}
	if locationID, err := strconv.ParseInt(q.Get("location_id"), 10, 64); err == nil {
		filter.LocationID = locationID
	}
	if page, err := strconv.Atoi(q.Get("page")); err == nil {
		filter.Page = page
	}
	if perPage, err := strconv.Atoi(q.Get("per_page")); err == nil {
		filter.PerPage = perPage
	}

	orders, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list purchase orders", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	pagination := shared.NewPagination(filter.Page, filter.PerPage, total)
	httpx.JSON(w, http.StatusOK, map[string]any{
		"orders":   orders,
		"page":     pagination.Page,
		"per_page": pagination.PerPage,
		"total":    pagination.Total,
	})
}
