package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/teampool/internal/service"
)

// Metrics
var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "teampool_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "teampool_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "endpoint"})
)

const maxBodyBytes = 1 << 20

type Handler struct {
	svc        *service.PoolService
	idem       *IdempotencyCache
	amounts    Amounts
	log        logrus.FieldLogger
	devFunding bool
}

func NewHandler(svc *service.PoolService, idem *IdempotencyCache, amounts Amounts, log logrus.FieldLogger) *Handler {
	return &Handler{svc: svc, idem: idem, amounts: amounts, log: log}
}

// WithDevFunding exposes the account funding route. The service must be
// backed by a ledger that can mint balances.
func (h *Handler) WithDevFunding() *Handler {
	h.devFunding = h.svc.FundingEnabled()
	return h
}

// requestError is a client mistake detected before the service is called.
type requestError struct {
	code int
	msg  string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &requestError{code: http.StatusBadRequest, msg: msg}
}

func unprocessable(msg string) error {
	return &requestError{code: http.StatusUnprocessableEntity, msg: msg}
}

type operation func() (int, interface{}, error)

// mutate runs op, honouring an optional Idempotency-Key header. Keys are
// scoped to the caller and the request path.
func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, op func(body []byte) operation) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "Stream read error")
		return
	}
	r.Body = io.NopCloser(bytes.NewBuffer(body))
	run := op(body)

	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey == "" {
		code, payload, err := run()
		if err != nil {
			h.respondServiceError(w, r, err)
			return
		}
		respondJSON(w, r, code, payload)
		return
	}

	hash := sha256.Sum256(body)
	reqHash := hex.EncodeToString(hash[:])
	scoped := CallerFrom(r.Context()) + "|" + r.URL.Path + "|" + idemKey

	existing, err := h.idem.Reserve(scoped, reqHash)
	switch {
	case errors.Is(err, ErrIdempotencyConflict):
		respondError(w, r, http.StatusConflict, "Request in progress")
		return
	case errors.Is(err, ErrIdempotencyMismatch):
		respondError(w, r, http.StatusUnprocessableEntity, "Key reuse with mismatched payload")
		return
	case existing != nil:
		httpReqTotal.WithLabelValues(r.Method, routeLabel(r), strconv.Itoa(existing.ResponseStatus)).Inc()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(existing.ResponseStatus)
		w.Write(existing.ResponseBody)
		return
	}

	code, payload, err := run()
	if err != nil {
		h.idem.Release(scoped)
		h.respondServiceError(w, r, err)
		return
	}

	respBody, err := json.Marshal(payload)
	if err != nil {
		h.idem.Release(scoped)
		h.respondServiceError(w, r, err)
		return
	}
	h.idem.Complete(scoped, code, respBody)

	httpReqTotal.WithLabelValues(r.Method, routeLabel(r), strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(respBody)
}

func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		respondError(w, r, reqErr.code, reqErr.msg)
		return
	}

	kind := service.KindOf(err)
	switch kind {
	case service.KindValidation:
		respondKindError(w, r, http.StatusUnprocessableEntity, err.Error(), kind)
	case service.KindConflict:
		respondKindError(w, r, http.StatusConflict, err.Error(), kind)
	case service.KindAuthorization:
		respondKindError(w, r, http.StatusForbidden, err.Error(), kind)
	case service.KindResource:
		respondKindError(w, r, http.StatusUnprocessableEntity, "Insufficient funds", kind)
	case service.KindNotFound:
		respondKindError(w, r, http.StatusNotFound, err.Error(), kind)
	default:
		h.log.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
		respondKindError(w, r, http.StatusInternalServerError, "Internal Server Error", kind)
	}
}

// instrument records request latency per route template.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := prometheus.NewTimer(httpLatency.WithLabelValues(r.Method, routeLabel(r)))
		defer timer.ObserveDuration()
		next.ServeHTTP(w, r)
	})
}

// Helpers
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

func respondJSON(w http.ResponseWriter, r *http.Request, code int, payload interface{}) {
	httpReqTotal.WithLabelValues(r.Method, routeLabel(r), strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func respondError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	respondJSON(w, r, code, map[string]string{"error": msg})
}

func respondKindError(w http.ResponseWriter, r *http.Request, code int, msg string, kind service.Kind) {
	respondJSON(w, r, code, map[string]string{"error": msg, "kind": kind.String()})
}
