package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auctionops_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "auctionops_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

// NewRouter wires every route onto a mux router.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(instrument)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/auctions", h.CreateAuctionHandler).Methods(http.MethodPost)
	v1.HandleFunc("/auctions/{id}", h.GetAuctionHandler).Methods(http.MethodGet)
	v1.HandleFunc("/auctions/{id}/price", h.GetPriceHandler).Methods(http.MethodGet)
	v1.HandleFunc("/auctions/{id}/bids", h.GetBidHistoryHandler).Methods(http.MethodGet)
	v1.HandleFunc("/auctions/{id}/bids", h.PlaceBidHandler).Methods(http.MethodPost)
	v1.HandleFunc("/bidders/{id}/bids", h.GetBidderBidsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/wallets", h.OpenWalletHandler).Methods(http.MethodPost)
	v1.HandleFunc("/wallets/{id}", h.GetWalletHandler).Methods(http.MethodGet)
	v1.HandleFunc("/wallets/{id}/entries", h.GetWalletEntriesHandler).Methods(http.MethodGet)
	v1.HandleFunc("/wallets/{id}/topups", h.TopUpHandler).Methods(http.MethodPost)
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

// instrument labels metrics by route template so ids do not explode cardinality.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		if endpoint == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(r.Method, endpoint))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		timer.ObserveDuration()
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}
