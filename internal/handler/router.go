package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	custommiddleware "github.com/mmeshcher/localhub-client/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware локального API.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Encoding"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(custommiddleware.Session)

		r.Get("/carts", h.GetCarts)
		r.Route("/vendors/{vendorID}", func(r chi.Router) {
			r.Get("/cart", h.GetCart)
			r.Post("/cart/items", h.AddItem)
			r.Delete("/cart", h.ClearCart)
			r.Post("/orders", h.PlaceOrder)
		})
		r.Put("/cart/items/{productID}", h.SetQuantity)
		r.Delete("/cart/items/{productID}", h.RemoveItem)

		r.Get("/orders", h.GetOrders)
		r.Route("/orders/{orderID}", func(r chi.Router) {
			r.Get("/", h.GetOrder)
			r.Post("/tracking", h.StartTracking)
			r.Delete("/tracking", h.StopTracking)
			r.Post("/cancel", h.CancelOrder)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
