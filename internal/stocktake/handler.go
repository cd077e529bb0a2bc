package stocktake

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-pos/meridian/internal/platform/httpx"
	"github.com/meridian-pos/meridian/internal/shared"
)

// Handler wires JSON endpoints for stocktakes.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers stocktake routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/start", h.handleStart)
	r.Post("/{id}/counts", h.handleCounts)
	r.Post("/{id}/validate", h.handleValidate)
	r.Post("/{id}/cancel", h.handleCancel)
}

func stocktakeID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

type createStocktakeRequest struct {
	LocationID int64  `json:"location_id" validate:"required,gt=0"`
	Number     string `json:"number" validate:"max=64"`
	Note       string `json:"note" validate:"max=500"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	actorID, _ := shared.ActorFromContext(r.Context())

	var req createStocktakeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	st, err := h.service.Create(r.Context(), CreateInput{
		TenantID:   tenantID,
		LocationID: req.LocationID,
		Number:     req.Number,
		Note:       req.Note,
		ActorID:    actorID,
	})
	if err != nil {
		h.logger.Error("create stocktake", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, st)
}

type startStocktakeRequest struct {
	ProductIDs []int64 `json:"product_ids" validate:"dive,gt=0"`
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	actorID, _ := shared.ActorFromContext(r.Context())
	id, ok := stocktakeID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid stocktake id")
		return
	}

	var req startStocktakeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	st, err := h.service.Start(r.Context(), StartInput{
		TenantID:    tenantID,
		StocktakeID: id,
		ProductIDs:  req.ProductIDs,
		ActorID:     actorID,
	})
	if err != nil {
		h.logger.Error("start stocktake", slog.Any("error", err), slog.Int64("stocktake_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

type countRequest struct {
	ProductID  int64 `json:"product_id" validate:"required,gt=0"`
	VariantID  int64 `json:"variant_id" validate:"gte=0"`
	CountedQty int64 `json:"counted_qty" validate:"gte=0"`
}

type countsRequest struct {
	Counts []countRequest `json:"counts" validate:"required,min=1,dive"`
}

func (h *Handler) handleCounts(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	actorID, _ := shared.ActorFromContext(r.Context())
	id, ok := stocktakeID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid stocktake id")
		return
	}

	var req countsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	counts := make([]CountInput, 0, len(req.Counts))
	for _, c := range req.Counts {
		counts = append(counts, CountInput{ProductID: c.ProductID, VariantID: c.VariantID, CountedQty: c.CountedQty})
	}

	st, err := h.service.SetCounted(r.Context(), tenantID, id, counts, actorID)
	if err != nil {
		h.logger.Error("record counts", slog.Any("error", err), slog.Int64("stocktake_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	actorID, _ := shared.ActorFromContext(r.Context())
	id, ok := stocktakeID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid stocktake id")
		return
	}

	st, err := h.service.Validate(r.Context(), tenantID, id, actorID)
	if err != nil {
		h.logger.Error("validate stocktake", slog.Any("error", err), slog.Int64("stocktake_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	actorID, _ := shared.ActorFromContext(r.Context())
	id, ok := stocktakeID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid stocktake id")
		return
	}

	if err := h.service.Cancel(r.Context(), tenantID, id, actorID); err != nil {
		h.logger.Error("cancel stocktake", slog.Any("error", err), slog.Int64("stocktake_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": string(StatusCancelled)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	id, ok := stocktakeID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid stocktake id")
		return
	}
	st, err := h.service.Get(r.Context(), tenantID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
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

	stocktakes, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list stocktakes", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	pagination := shared.NewPagination(filter.Page, filter.PerPage, total)
	httpx.JSON(w, http.StatusOK, map[string]any{
		"stocktakes": stocktakes,
		"page":       pagination.Page,
		"per_page":   pagination.PerPage,
		"total":      pagination.Total,
	})
}
