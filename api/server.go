// Package api serves the backend side of the tip flow: invoice creation,
// status lookups and the per-domain settlement channel.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/nostrstack/paywatch/database"
	"github.com/nostrstack/paywatch/database/models"
	"github.com/nostrstack/paywatch/lightning"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const (
	PayPath     = "/api/pay"
	StatusPath  = "/api/pay/status"
	StreamPath  = "/ws/pay"
	MetricsPath = "/metrics"

	DefaultInvoiceExpiry = 10 * time.Minute
)

// Tracker follows a stored payment on the node until it settles.
type Tracker interface {
	Track(ctx context.Context, payment *models.Payment) bool
}

type Option func(*Server)

func WithClock(clk clock.Clock) Option {
	return func(s *Server) {
		s.clock = clk
	}
}

func WithInvoiceExpiry(expiry time.Duration) Option {
	return func(s *Server) {
		s.invoiceExpiry = expiry
	}
}

func WithTracker(tracker Tracker) Option {
	return func(s *Server) {
		s.tracker = tracker
	}
}

func WithGatherer(gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = gatherer
	}
}

type Server struct {
	Addr string

	repository    database.PaymentRepository
	node          lightning.Client
	hub           *Hub
	tracker       Tracker
	clock         clock.Clock
	invoiceExpiry time.Duration
	gatherer      prometheus.Gatherer

	router     *mux.Router
	httpServer *http.Server
}

func NewServer(addr string, repository database.PaymentRepository, node lightning.Client, hub *Hub, opts ...Option) *Server {
	s := &Server{
		Addr:          addr,
		repository:    repository,
		node:          node,
		hub:           hub,
		clock:         clock.NewDefaultClock(),
		invoiceExpiry: DefaultInvoiceExpiry,
		gatherer:      prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}

	router := mux.NewRouter()
	router.Use(logRequests)
	router.HandleFunc(PayPath, s.handlePay).Methods(http.MethodPost)
	router.HandleFunc(StatusPath, s.handleStatus).Methods(http.MethodGet)
	router.Handle(StreamPath, hub).Methods(http.MethodGet)
	router.Handle(MetricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router = router

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Infof("API listening on %s", s.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve api: %w", err)
	}

	return nil
}

// Shutdown drops the settlement subscribers, then drains HTTP requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if s.httpServer == nil {
		return nil
	}

	return s.httpServer.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The settlement channel needs the raw writer to hijack the connection.
		if r.URL.Path == StreamPath {
			next.ServeHTTP(w, r)

			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		log.WithContext(r.Context()).WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Debug("request served")
	})
}
