package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the public routes. Everything under /api/v1 requires a
// bearer token and is rate limited per caller.
func NewRouter(h *Handler, auth *Authenticator, limiter *RateLimiter) *mux.Router {
	r := mux.NewRouter()
	r.Use(instrument)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.Use(auth.Middleware, limiter.Middleware)

	apiV1.HandleFunc("/pools", h.CreatePool).Methods(http.MethodPost)
	apiV1.HandleFunc("/pools/{id}", h.GetPool).Methods(http.MethodGet)
	apiV1.HandleFunc("/pools/{id}/vault", h.GetVault).Methods(http.MethodGet)
	apiV1.HandleFunc("/pools/{id}/join", h.JoinPool).Methods(http.MethodPost)
	apiV1.HandleFunc("/pools/{id}/close", h.ClosePool).Methods(http.MethodPost)
	apiV1.HandleFunc("/pools/{id}/payout", h.Payout).Methods(http.MethodPost)
	apiV1.HandleFunc("/pools/{id}/transfers", h.ListTransfers).Methods(http.MethodGet)
	apiV1.HandleFunc("/creators/{creator}/pools", h.ListPools).Methods(http.MethodGet)
	apiV1.HandleFunc("/accounts", h.OpenAccount).Methods(http.MethodPost)
	apiV1.HandleFunc("/accounts/{id}", h.GetAccount).Methods(http.MethodGet)
	apiV1.HandleFunc("/accounts/{id}/entries", h.GetAccountEntries).Methods(http.MethodGet)
	if h.devFunding {
		apiV1.HandleFunc("/accounts/{id}/fund", h.FundAccount).Methods(http.MethodPost)
	}

	return r
}
