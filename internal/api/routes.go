package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes mounts every endpoint on r
func (h *Handler) Routes(r chi.Router) {
	r.Use(RequestID)
	r.Use(Logger(h.logger))
	r.Use(middleware.Recoverer)

	if h.Hub != nil {
		r.Get("/ws", h.Hub.ServeWS)
	}

	// Public endpoints
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)
	r.Get("/exchange", h.GetExchange)
	r.Get("/orders/open", h.GetOpenOrders)
	r.Get("/orders/{id}", h.GetOrder)
	r.Get("/balances/{user}/{token}", h.GetBalance)
	r.Get("/tokens", h.ListTokens)
	r.Get("/audit", h.GetAudit)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		r.Post("/deposits", h.Deposit)
		r.Post("/withdrawals", h.Withdraw)
		r.Post("/orders", h.PlaceOrder)
		r.Get("/orders", h.GetUserOrders)
		r.Delete("/orders/{id}", h.CancelOrder)
		r.Post("/orders/{id}/fill", h.FillOrder)
		r.Get("/trades", h.GetUserTrades)
		r.Get("/events", h.GetUserEvents)
		r.Post("/tokens/{token}/approve", h.Approve)
		r.Post("/tokens/{token}/transfer", h.Transfer)
		r.Get("/tokens/{token}/balance", h.WalletBalance)
	})
}
