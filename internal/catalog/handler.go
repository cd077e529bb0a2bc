package catalog

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-pos/meridian/internal/platform/httpx"
	"github.com/meridian-pos/meridian/internal/shared"
)

// Handler wires JSON endpoints for the product catalog.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/low-stock", h.handleLowStock)
	r.Get("/{id}", h.handleGet)
	r.Put("/{id}", h.handleUpdate)
	r.Delete("/{id}", h.handleDeactivate)
}

type productRequest struct {
	Code     string `json:"code" validate:"required,max=64"`
	Name     string `json:"name" validate:"required,max=255"`
	Unit     string `json:"unit" validate:"max=32"`
	MinStock int64  `json:"min_stock" validate:"gte=0"`
	Active   *bool  `json:"active"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	var req productRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	product, err := h.service.Create(r.Context(), CreateProductInput{
		TenantID: tenantID,
		Code:     req.Code,
		Name:     req.Name,
		Unit:     req.Unit,
		MinStock: req.MinStock,
	})
	if err != nil {
		h.logger.Error("create product", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, product)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid product id")
		return
	}
	var req productRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	product, err := h.service.Update(r.Context(), UpdateProductInput{
		TenantID: tenantID,
		ID:       id,
		Code:     req.Code,
		Name:     req.Name,
		Unit:     req.Unit,
		MinStock: req.MinStock,
		Active:   active,
	})
	if err != nil {
		h.logger.Error("update product", slog.Any("error", err), slog.Int64("product_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid product id")
		return
	}
	product, err := h.service.Get(r.Context(), tenantID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	q := r.URL.Query()

	filter := ListFilter{
		TenantID: tenantID,
		Search:   q.Get("search"),
	}
	if page, err := strconv.Atoi(q.Get("page")); err == nil {
		filter.Page = page
	}
	if perPage, err := strconv.Atoi(q.Get("per_page")); err == nil {
		filter.PerPage = perPage
	}
	if raw := q.Get("active"); raw != "" {
		active := raw == "true"
		filter.Active = &active
	}

	products, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list products", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	pagination := shared.NewPagination(filter.Page, filter.PerPage, total)
	httpx.JSON(w, http.StatusOK, map[string]any{
		"products": products,
		"page":     pagination.Page,
		"per_page": pagination.PerPage,
		"total":    pagination.Total,
	})
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid product id")
		return
	}
	if err := h.service.Deactivate(r.Context(), tenantID, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "deactivated"})
}

func (h *Handler) handleLowStock(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	items, err := h.service.LowStock(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("low stock listing", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}
