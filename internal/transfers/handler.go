package transfers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-pos/meridian/internal/platform/httpx"
	"github.com/meridian-pos/meridian/internal/shared"
)

// Handler wires JSON endpoints for the transfer workflow.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers transfer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/items", h.handleAddItem)
	r.Post("/{id}/validate", h.handleValidate)
	r.Post("/{id}/cancel", h.handleCancel)
}

func transferID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

type createTransferRequest struct {
	FromLocationID int64  `json:"from_location_id" validate:"required,gt=0"`
	ToLocationID   int64  `json:"to_location_id" validate:"required,gt=0"`
	Number         string `json:"number" validate:"max=64"`
	Note           string `json:"note" validate:"max=500"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	actorID, _ := shared.ActorFromContext(r.Context())

	var req createTransferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	transfer, err := h.service.Create(r.Context(), CreateInput{
		TenantID:       tenantID,
		FromLocationID: req.FromLocationID,
		ToLocationID:   req.ToLocationID,
		Number:         req.Number,
		Note:           req.Note,
		ActorID:        actorID,
	})
	if err != nil {
		h.logger.Error("create transfer", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, transfer)
}

type addItemRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	VariantID int64 `json:"variant_id" validate:"gte=0"`
	Quantity  int64 `json:"quantity" validate:"required,gt=0"`
}

func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	actorID, _ := shared.ActorFromContext(r.Context())
	id, ok := transferID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid transfer id")
		return
	}

	var req addItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	transfer, err := h.service.AddItem(r.Context(), AddItemInput{
		TenantID:   tenantID,
		TransferID: id,
		ProductID:  req.ProductID,
		VariantID:  req.VariantID,
		Quantity:   req.Quantity,
		ActorID:    actorID,
	})
	if err != nil {
		h.logger.Error("add transfer item", slog.Any("error", err), slog.Int64("transfer_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, transfer)
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	actorID, _ := shared.ActorFromContext(r.Context())
	id, ok := transferID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid transfer id")
		return
	}

	transfer, err := h.service.Validate(r.Context(), tenantID, id, actorID)
	if err != nil {
		h.logger.Error("validate transfer", slog.Any("error", err), slog.Int64("transfer_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, transfer)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	actorID, _ := shared.ActorFromContext(r.Context())
	id, ok := transferID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid transfer id")
		return
	}

	if err := h.service.Cancel(r.Context(), tenantID, id, actorID); err != nil {
		h.logger.Error("cancel transfer", slog.Any("error", err), slog.Int64("transfer_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": string(StatusCancelled)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	id, ok := transferID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid transfer id")
		return
	}
	transfer, err := h.service.Get(r.Context(), tenantID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, transfer)
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

	transfers, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list transfers", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	pagination := shared.NewPagination(filter.Page, filter.PerPage, total)
	httpx.JSON(w, http.StatusOK, map[string]any{
		"transfers": transfers,
		"page":      pagination.Page,
		"per_page":  pagination.PerPage,
		"total":     pagination.Total,
	})
}
