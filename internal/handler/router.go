package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/shopbot/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware магазина.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/users/register", h.Register)
		r.Get("/items", h.GetItems)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/users/me/loyalty", h.GetLoyalty)

			r.Get("/basket", h.GetBasket)
			r.Post("/basket/items", h.AddBasketItem)
			r.Delete("/basket/items/{itemID}", h.RemoveBasketItem)

			r.Post("/orders", h.Checkout)
			r.Get("/orders", h.GetOrders)
			r.Get("/orders/waiting", h.GetWaitingOrders)
			r.Get("/orders/{orderID}", h.GetOrder)
			r.Post("/orders/{orderID}/claim", h.ClaimOrder)
			r.Patch("/orders/{orderID}/status", h.UpdateOrderStatus)
			r.Post("/orders/{orderID}/cancel", h.CancelOrder)

			r.Post("/items", h.CreateItem)

			r.Group(func(r chi.Router) {
				r.Use(h.adminOnly)

				r.Get("/promocodes", h.GetPromocodes)
				r.Post("/promocodes", h.CreatePromocode)

				r.Route("/admin", func(r chi.Router) {
					r.Post("/admins", h.AddAdmin)
					r.Delete("/admins/{userID}", h.RemoveAdmin)

					r.Get("/couriers", h.GetCouriers)
					r.Post("/couriers", h.AddCourier)
					r.Patch("/couriers/{userID}", h.SetCourierActive)

					r.Post("/users/{userID}/ban", h.BanUser)
					r.Delete("/users/{userID}/ban", h.UnbanUser)
					r.Put("/users/{userID}/loyalty", h.OverrideLoyalty)
				})
			})
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
