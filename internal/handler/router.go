package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mmeshcher/barpay-system/internal/metrics"
	custommiddleware "github.com/mmeshcher/barpay-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса barpay.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(metrics.HTTPMiddleware)

	r.Get("/ping", h.Ping)

	// Сжатие ответа берёт на себя GzipMiddleware, иначе тело сжимается дважды.
	r.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		DisableCompression: true,
	}))

	r.Route("/users", func(r chi.Router) {
		r.Get("/", h.GetUsers)
		r.Post("/", h.CreateUser)
		r.Put("/", h.UpdateUser)
		r.Post("/login", h.Login)
		r.Put("/{id}/balance", h.AdjustBalance)
	})

	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.GetOrders)
		r.Post("/", h.CreateOrder)
		r.Put("/", h.UpdateOrderStatus)
		r.Post("/validate", h.ValidateOrder)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
	})

	return r
}
