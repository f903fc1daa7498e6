package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/artbooking-system/internal/middleware"
)

// SetupRouter настраивает маршруты HTTP-сервера.
func (h *Handler) SetupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger(h.logger))
	r.Use(middleware.GzipMiddleware)

	r.Route("/api", func(r chi.Router) {
		// Открытые маршруты: регистрация, публичные рейтинги и
		// обратный вызов платёжного шлюза.
		r.Post("/users", h.Register)
		r.Get("/subscriptions/tiers", h.ListTiers)
		r.Get("/artists/{id}/rating", h.GetArtistRating)
		r.Get("/services/{id}/availability", h.CheckAvailability)
		r.Get("/payments/vnpay/callback", h.PaymentCallback)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/services", h.CreateService)
			r.Post("/subscriptions/tiers", h.CreateTier)

			r.Post("/bookings", h.CreateBooking)
			r.Get("/bookings", h.ListBookings)
			r.Post("/bookings/{id}/status", h.TransitionBooking)

			r.Post("/artists/{id}/rating", h.SubmitRating)

			r.Post("/payments/bookings/{id}", h.CreateBookingPayment)
			r.Post("/payments/subscriptions/{tierID}", h.CreateSubscriptionPayment)
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
