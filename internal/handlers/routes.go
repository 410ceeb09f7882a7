package handlers

import (
	"net/http"

	"github.com/mrkniai/backend/internal/middleware"
)

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Generations   GenerationService
	History       HistoryStore
	Subscriptions SubscriptionManager
	Webhook       WebhookProcessor
	Verifier      middleware.TokenVerifier
	Limiter       RateLimiter
	DB            Pinger
	IsAdmin       func(email string) bool
}

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{DB: deps.DB}
	generations := GenerationHandler{Service: deps.Generations, Limiter: deps.Limiter}
	account := AccountHandler{Service: deps.Generations}
	hist := HistoryHandler{History: deps.History}
	admin := AdminHandler{Manager: deps.Subscriptions, IsAdmin: deps.IsAdmin}
	billingHook := BillingHandler{Processor: deps.Webhook}

	authed := middleware.Authenticate(deps.Verifier)
	user := func(h http.HandlerFunc) http.Handler { return authed(h) }

	mux.HandleFunc("/healthz", health.Handle)
	mux.Handle("/api/v1/models", user(account.Models))
	mux.Handle("/api/v1/account", user(account.Account))
	mux.Handle("/api/v1/generations/image", user(generations.SubmitImage))
	mux.Handle("/api/v1/generations/video", user(generations.SubmitVideo))
	mux.Handle("/api/v1/generations/status", user(generations.Status))
	mux.Handle("/api/v1/history", user(hist.Handle))
	mux.Handle("/api/v1/admin/subscriptions", user(admin.Subscriptions))
	mux.HandleFunc("/api/v1/billing/webhook", billingHook.Webhook)
}
