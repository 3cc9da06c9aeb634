package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/punchamoorthee/neoledger/internal/domain"
	"github.com/punchamoorthee/neoledger/internal/service"
	"github.com/shopspring/decimal"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5, 15},
	}, []string{"method", "endpoint"})
)

// Caller identity is established by the gateway in front of the service.
const (
	headerUserID         = "X-User-ID"
	headerIdempotencyKey = "Idempotency-Key"
)

// Services are the operations the HTTP surface exposes.
type Services struct {
	Executor   *service.Executor
	Reconciler *service.Reconciler
	Ledger     *service.Ledger
	Accounts   *service.Accounts
	Directory  *service.Directory
}

type Handler struct {
	svc Services
	log *log.Logger
}

func NewHandler(svc Services, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{svc: svc, log: logger.With("component", "http")}
}

// Routes builds the router.
func (h *Handler) Routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.instrument)

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)
	r.HandleFunc("/webhooks/rail", h.RailWebhookHandler).Methods(http.MethodPost)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/accounts", h.CreateAccountHandler).Methods(http.MethodPost)
	v1.HandleFunc("/accounts/{id}", h.GetAccountHandler).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{id}/balance", h.GetBalanceHandler).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{id}/entries", h.GetAccountEntriesHandler).Methods(http.MethodGet)
	v1.HandleFunc("/transfers/peer", h.CreatePeerTransferHandler).Methods(http.MethodPost)
	v1.HandleFunc("/transfers/external", h.CreateExternalTransferHandler).Methods(http.MethodPost)
	v1.HandleFunc("/transactions", h.ListTransactionsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/transactions/{id}", h.GetTransactionHandler).Methods(http.MethodGet)
	v1.HandleFunc("/transactions/{id}/approve", h.ApproveTransferHandler).Methods(http.MethodPost)
	v1.HandleFunc("/transactions/{id}/cancel", h.CancelTransferHandler).Methods(http.MethodPost)
	v1.HandleFunc("/external-transfers", h.ListExternalTransfersHandler).Methods(http.MethodGet)
	v1.HandleFunc("/external-transfers/{id}", h.GetExternalTransferHandler).Methods(http.MethodGet)
	v1.HandleFunc("/recipients", h.RecipientsHandler).Methods(http.MethodGet)
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument records request metrics by route template and writes the access log.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		httpRequestDuration.WithLabelValues(r.Method, endpoint).Observe(elapsed.Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
		if endpoint != "/metrics" && endpoint != "/health" {
			h.log.Debug("request", "method", r.Method, "endpoint", endpoint, "status", rec.status, "elapsed", elapsed)
		}
	})
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error     string           `json:"error"`
	Reason    string           `json:"reason,omitempty"`
	Remaining *decimal.Decimal `json:"remaining,omitempty"`
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, errorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

// respondWithServiceError maps service errors onto status codes. Anything
// unclassified is logged and hidden behind a 500.
func (h *Handler) respondWithServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if rej, ok := domain.AsRejection(err); ok {
		respondWithJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error: rej.Message, Reason: string(rej.Reason), Remaining: rej.Remaining,
		})
		return
	}
	switch {
	case errors.Is(err, domain.ErrIdempotencyMismatch):
		respondWithError(w, http.StatusUnprocessableEntity, "Key reuse with mismatched payload")
	case errors.Is(err, domain.ErrNotFound):
		respondWithError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, domain.ErrForbidden):
		respondWithError(w, http.StatusForbidden, "Forbidden")
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrAccountExists),
		errors.Is(err, domain.ErrTransfersInFlight):
		respondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNonZeroBalance):
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

// callerID reads the authenticated user. It writes the 401 itself.
func callerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.Header.Get(headerUserID))
	if err != nil {
		respondWithError(w, http.StatusUnauthorized, "Missing or invalid "+headerUserID+" header")
		return uuid.Nil, false
	}
	return id, true
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed id")
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return false
	}
	return true
}
