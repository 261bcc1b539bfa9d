package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/avolkhin/dues-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса взносов.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/ping", h.Ping)

	r.Route("/api", func(r chi.Router) {
		r.Post("/operator/login", h.Login)

		// Подтверждение оплаты приходит с возврата из платёжного шлюза,
		// у которого нет операторской cookie.
		r.Post("/payments/confirm", h.ConfirmPayment)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/dues", h.CreateDue)
			r.Post("/dues/generate", h.BulkGenerate)
			r.Get("/dues/{dueID}", h.GetDue)
			r.Post("/dues/{dueID}/checkout", h.CreateCheckoutSession)
			r.Get("/dues/{dueID}/invoice", h.GetInvoice)

			r.Get("/residents/{residentID}/dues", h.ListResidentDues)
			r.Get("/residents/{residentID}/view", h.GetResidentView)

			r.Get("/reconciliation", h.Reconcile)

			r.Get("/config/concepts", h.GetConcepts)
			r.Put("/config/concepts", h.UpdateConcepts)
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
