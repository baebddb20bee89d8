package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type topupRequest struct {
	PlayerID string `json:"player_uid"`
	Amount   int    `json:"diamond_amount"`
	OrderID  string `json:"order_id,omitempty"`
}

type retryResponse struct {
	Message string `json:"message"`
	OrderID string `json:"order_id"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

type apiHandler struct {
	tracker *Tracker
	log     *zap.Logger
}

// NewRouter builds the HTTP surface. Automation routes are served both under
// /api and at the root.
func NewRouter(tracker *Tracker, gatherer prometheus.Gatherer, cors []string, log *zap.Logger) http.Handler {
	h := &apiHandler{tracker: tracker, log: log.Named("http")}

	r := mux.NewRouter()
	for _, base := range []string{"/api/automation", "/automation"} {
		s := r.PathPrefix(base).Subrouter()
		s.HandleFunc("/topup", h.createTopup).Methods(http.MethodPost, http.MethodOptions)
		s.HandleFunc("/orders", h.listOrders).Methods(http.MethodGet, http.MethodOptions)
		s.HandleFunc("/orders/{id}", h.getOrder).Methods(http.MethodGet, http.MethodOptions)
		s.HandleFunc("/orders/{id}/retry", h.retryOrder).Methods(http.MethodPost, http.MethodOptions)
		s.HandleFunc("/orders/{id}/logs", h.orderLogs).Methods(http.MethodGet, http.MethodOptions)
		s.HandleFunc("/stats", h.stats).Methods(http.MethodGet, http.MethodOptions)
	}
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})

	var handler http.Handler = r
	handler = withCORS(cors)(handler)
	handler = withLogging(h.log)(handler)
	handler = withRecovery(h.log)(handler)
	handler = withRequestID(handler)
	return wrapHTTPHandler(handler)
}

func NewHTTPServer(cfg ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
		WriteTimeout:      time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func (h *apiHandler) createTopup(w http.ResponseWriter, r *http.Request) {
	var req topupRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	order, err := h.tracker.Create(r.Context(), req.PlayerID, req.Amount, req.OrderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *apiHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	orders, err := h.tracker.List(r.Context(), OrderStatus(q.Get("status")), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *apiHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.tracker.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *apiHandler) retryOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.tracker.Retry(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, retryResponse{Message: T("retry_accepted"), OrderID: id})
}

func (h *apiHandler) orderLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.tracker.Logs(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *apiHandler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.tracker.Stats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *apiHandler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *apiHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	detail := errorDetail(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed", zap.String("request_id", requestID(r.Context())), zap.Error(err))
	}
	writeError(w, status, detail)
}

// httpStatus maps tracker errors to response codes. Automation failures are
// never HTTP errors; they live on the order.
func httpStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotRetryable),
		errors.Is(err, ErrInvalidOrder):
		return http.StatusBadRequest
	case errors.Is(err, ErrDuplicateOrder),
		errors.Is(err, ErrAlreadyRunning),
		errors.Is(err, ErrStatusConflict):
		return http.StatusConflict
	case errors.Is(err, ErrQueueFull),
		errors.Is(err, ErrDispatcherDone):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func errorDetail(err error) string {
	switch {
	case errors.Is(err, ErrOrderNotFound):
		return "Order not found"
	case errors.Is(err, ErrNotRetryable):
		return "Only failed or manual_pending orders can be retried"
	case httpStatus(err) == http.StatusInternalServerError:
		return "Internal server error occurred"
	default:
		return err.Error()
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}
