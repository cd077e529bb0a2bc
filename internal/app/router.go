package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-pos/meridian/internal/catalog"
	"github.com/meridian-pos/meridian/internal/observability"
	"github.com/meridian-pos/meridian/internal/purchasing"
	"github.com/meridian-pos/meridian/internal/sales"
	"github.com/meridian-pos/meridian/internal/stock"
	"github.com/meridian-pos/meridian/internal/stocktake"
	"github.com/meridian-pos/meridian/internal/transfers"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger *slog.Logger
	Config *Config

	CatalogHandler    *catalog.Handler
	StockHandler      *stock.Handler
	SalesHandler      *sales.Handler
	PurchasingHandler *purchasing.Handler
	TransfersHandler  *transfers.Handler
	StocktakeHandler  *stocktake.Handler

	Metrics *observability.Metrics
}

// NewRouter constructs the chi.Router with Meridian defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(TenancyMiddleware(params.Logger))

		if params.CatalogHandler != nil {
			r.Route("/products", params.CatalogHandler.MountRoutes)
		}
		if params.StockHandler != nil {
			r.Route("/stock", params.StockHandler.MountRoutes)
		}
		if params.SalesHandler != nil {
			r.Route("/sales", params.SalesHandler.MountRoutes)
		}
		if params.PurchasingHandler != nil {
			r.Route("/purchase-orders", params.PurchasingHandler.MountRoutes)
		}
		if params.TransfersHandler != nil {
			r.Route("/transfers", params.TransfersHandler.MountRoutes)
		}
		if params.StocktakeHandler != nil {
			r.Route("/stocktakes", params.StocktakeHandler.MountRoutes)
		}
	})

	return r
}
