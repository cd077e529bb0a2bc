package sales

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

// Handler wires JSON endpoints for the sale workflow.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Put("/{id}/lines", h.handleSetLines)
	r.Post("/{id}/finalize", h.handleFinalize)
	r.Post("/{id}/cancel", h.handleCancel)
	r.Post("/{id}/return", h.handleReturn)
}

func saleID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

type createSaleRequest struct {
	LocationID int64  `json:"location_id" validate:"required,gt=0"`
	Number     string `json:"number" validate:"max=64"`
	Note       string `json:"note" validate:"max=500"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	actorID, _ := shared.ActorFromContext(r.Context())

	var req createSaleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	sale, err := h.service.Create(r.Context(), CreateInput{
		TenantID:   tenantID,
		LocationID: req.LocationID,
		Number:     req.Number,
		Note:       req.Note,
		ActorID:    actorID,
	})
	if err != nil {
		h.logger.Error("create sale", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sale)
}

type saleLineRequest struct {
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	VariantID int64  `json:"variant_id" validate:"gte=0"`
	Quantity  int64  `json:"quantity" validate:"required,gt=0"`
	UnitPrice string `json:"unit_price" validate:"required"`
}

type setLinesRequest struct {
	Lines []saleLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleSetLines(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	actorID, _ := shared.ActorFromContext(r.Context())
	id, ok := saleID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid sale id")
		return
	}

	var req setLinesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	lines := make([]LineInput, 0, len(req.Lines))
	for _, line := range req.Lines {
		price, err := decimal.NewFromString(line.UnitPrice)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid unit_price")
			return
		}
		lines = append(lines, LineInput{
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Quantity:  line.Quantity,
			UnitPrice: price,
		})
	}

	sale, err := h.service.SetLines(r.Context(), tenantID, id, lines, actorID)
	if err != nil {
		h.logger.Error("set sale lines", slog.Any("error", err), slog.Int64("sale_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) handleFinalize(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	actorID, _ := shared.ActorFromContext(r.Context())
	id, ok := saleID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid sale id")
		return
	}

	receipt, err := h.service.Finalize(r.Context(), tenantID, id, actorID)
	if err != nil {
		h.logger.Error("finalize sale", slog.Any("error", err), slog.Int64("sale_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, receipt)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	actorID, _ := shared.ActorFromContext(r.Context())
	id, ok := saleID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid sale id")
		return
	}

	if err := h.service.Cancel(r.Context(), tenantID, id, actorID); err != nil {
		h.logger.Error("cancel sale", slog.Any("error", err), slog.Int64("sale_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": string(StatusCancelled)})
}

type returnLineRequest struct {
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	VariantID int64  `json:"variant_id" validate:"gte=0"`
	Quantity  int64  `json:"quantity" validate:"required,gt=0"`
	ExpiresAt string `json:"expires_at" validate:"required"`
}

type returnRequest struct {
	Lines []returnLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	actorID, _ := shared.ActorFromContext(r.Context())
	id, ok := saleID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid sale id")
		return
	}

	var req returnRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	lines := make([]ReturnLineInput, 0, len(req.Lines))
	for _, line := range req.Lines {
		expiresAt, err := time.Parse("2006-01-02", line.ExpiresAt)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid expires_at date")
			return
		}
		lines = append(lines, ReturnLineInput{
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Quantity:  line.Quantity,
			ExpiresAt: expiresAt,
		})
	}

	if err := h.service.Return(r.Context(), tenantID, id, lines, actorID); err != nil {
		h.logger.Error("return sale", slog.Any("error", err), slog.Int64("sale_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "returned"})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	id, ok := saleID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid sale id")
		return
	}
	sale, err := h.service.Get(r.Context(), tenantID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
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

	sales, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list sales", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	pagination := shared.NewPagination(filter.Page, filter.PerPage, total)
	httpx.JSON(w, http.StatusOK, map[string]any{
		"sales":    sales,
		"page":     pagination.Page,
		"per_page": pagination.PerPage,
		"total":    pagination.Total,
	})
}
