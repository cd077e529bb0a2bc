package stock

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-pos/meridian/internal/platform/httpx"
	"github.com/meridian-pos/meridian/internal/shared"
)

// Handler wires read endpoints for stock levels, movements and batches.
// Mutations go through the workflow modules; the ledger has no direct
// write endpoint.
type Handler struct {
	logger *slog.Logger
	ledger *Ledger
}

// NewHandler constructs the stock handler.
func NewHandler(logger *slog.Logger, ledger *Ledger) *Handler {
	return &Handler{logger: logger, ledger: ledger}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/levels", h.handleGetLevel)
	r.Get("/movements", h.handleListMovements)
	r.Get("/batches", h.handleListBatches)
}

type levelResponse struct {
	LocationID int64  `json:"location_id"`
	ProductID  int64  `json:"product_id"`
	VariantID  *int64 `json:"variant_id,omitempty"`
	Quantity   int64  `json:"quantity"`
	Reserved   int64  `json:"reserved"`
	Available  int64  `json:"available"`
}

func (h *Handler) handleGetLevel(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	q := r.URL.Query()
	locationID := parseID(q.Get("location_id"))
	productID := parseID(q.Get("product_id"))
	if locationID <= 0 || productID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "location_id and product_id are required")
		return
	}
	variantID := parseID(q.Get("variant_id"))
	if variantID < 0 {
		variantID = 0
	}

	level, err := h.ledger.GetLevel(r.Context(), Key{TenantID: tenantID, LocationID: locationID, ProductID: productID, VariantID: variantID})
	if err != nil {
		h.logger.Error("get stock level", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	resp := levelResponse{
		LocationID: level.LocationID,
		ProductID:  level.ProductID,
		Quantity:   level.Quantity,
		Reserved:   level.Reserved,
		Available:  level.Available,
	}
	if level.VariantID != 0 {
		v := level.VariantID
		resp.VariantID = &v
	}
	httpx.JSON(w, http.StatusOK, resp)
}

type movementResponse struct {
	ID             int64   `json:"id"`
	LocationID     int64   `json:"location_id"`
	ProductID      int64   `json:"product_id"`
	VariantID      *int64  `json:"variant_id,omitempty"`
	Type           string  `json:"type"`
	Quantity       int64   `json:"quantity"`
	QuantityBefore int64   `json:"quantity_before"`
	QuantityAfter  int64   `json:"quantity_after"`
	Reference      string  `json:"reference,omitempty"`
	RefKind        *string `json:"ref_kind,omitempty"`
	RefID          *int64  `json:"ref_id,omitempty"`
	CreatedBy      int64   `json:"created_by"`
	CreatedAt      string  `json:"created_at"`
}

func (h *Handler) handleListMovements(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	q := r.URL.Query()

	filter := MovementFilter{
		TenantID:   tenantID,
		LocationID: parseID(q.Get("location_id")),
		ProductID:  parseID(q.Get("product_id")),
		VariantID:  parseID(q.Get("variant_id")),
		Type:       MovementType(q.Get("type")),
		Page:       int(parseID(q.Get("page"))),
		PerPage:    int(parseID(q.Get("per_page"))),
	}
	if filter.Type != "" && !filter.Type.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown movement type")
		return
	}
	if from := q.Get("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid from date")
			return
		}
		filter.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid to date")
			return
		}
		filter.To = t.Add(24*time.Hour - time.Nanosecond)
	}

	movements, total, err := h.ledger.ListMovements(r.Context(), filter)
	if err != nil {
		h.logger.Error("list movements", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	items := make([]movementResponse, 0, len(movements))
	for _, m := range movements {
		item := movementResponse{
			ID:             m.ID,
			LocationID:     m.LocationID,
			ProductID:      m.ProductID,
			Type:           string(m.Type),
			Quantity:       m.Quantity,
			QuantityBefore: m.QuantityBefore,
			QuantityAfter:  m.QuantityAfter,
			Reference:      m.Reference,
			CreatedBy:      m.CreatedBy,
			CreatedAt:      m.CreatedAt.Format(time.RFC3339),
		}
		if m.VariantID != 0 {
			v := m.VariantID
			item.VariantID = &v
		}
		if !m.Ref.IsZero() {
			kind := string(m.Ref.Kind)
			id := m.Ref.ID
			item.RefKind = &kind
			item.RefID = &id
		}
		items = append(items, item)
	}

	pagination := shared.NewPagination(filter.Page, filter.PerPage, total)
	httpx.JSON(w, http.StatusOK, map[string]any{
		"movements": items,
		"page":      pagination.Page,
		"per_page":  pagination.PerPage,
		"total":     pagination.Total,
	})
}

type batchResponse struct {
	ID           int64  `json:"id"`
	LocationID   int64  `json:"location_id"`
	ProductID    int64  `json:"product_id"`
	BatchNumber  string `json:"batch_number"`
	ReceivedAt   string `json:"received_at"`
	ExpiresAt    string `json:"expires_at"`
	Quantity     int64  `json:"quantity"`
	AvailableQty int64  `json:"available_quantity"`
	Status       string `json:"status"`
}

func (h *Handler) handleListBatches(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	q := r.URL.Query()
	locationID := parseID(q.Get("location_id"))
	productID := parseID(q.Get("product_id"))
	if locationID <= 0 || productID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "location_id and product_id are required")
		return
	}

	batches, err := h.ledger.ListBatches(r.Context(), tenantID, locationID, productID)
	if err != nil {
		h.logger.Error("list batches", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	items := make([]batchResponse, 0, len(batches))
	for _, b := range batches {
		items = append(items, batchResponse{
			ID:           b.ID,
			LocationID:   b.LocationID,
			ProductID:    b.ProductID,
			BatchNumber:  b.BatchNumber,
			ReceivedAt:   b.ReceivedAt.Format(time.RFC3339),
			ExpiresAt:    b.ExpiresAt.Format("2006-01-02"),
			Quantity:     b.Quantity,
			AvailableQty: b.AvailableQty,
			Status:       string(b.Status),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"batches": items})
}

func parseID(s string) int64 {
	if s == "" {
		return 0
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
