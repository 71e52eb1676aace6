// Package httpapi serves the lending REST API.
package httpapi

import (
	"net/http"

	"github.com/bookstore/services/lending/internal/auth"
	"github.com/bookstore/services/lending/internal/lending"
	"github.com/bookstore/services/lending/internal/metrics"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Pinger checks a backing store.
type Pinger interface {
	Ping() error
}

// HealthChecker reports whether a dependency is usable.
type HealthChecker interface {
	IsHealthy() bool
}

// Options controls identity enforcement and CORS.
type Options struct {
	// AuthRequired makes /admin routes require an admin token and
	// /student routes require any valid token.
	AuthRequired bool
	CORSOrigins  []string
}

// Server holds the HTTP handlers
type Server struct {
	lending  *lending.Service
	auth     *auth.Service
	database Pinger
	broker   HealthChecker
	metrics  *metrics.Metrics
	opts     Options
	log      *zap.Logger
}

// NewServer creates the HTTP API server
func NewServer(lendingSvc *lending.Service, authSvc *auth.Service, database Pinger, broker HealthChecker, m *metrics.Metrics, opts Options, log *zap.Logger) *Server {
	return &Server{
		lending:  lendingSvc,
		auth:     authSvc,
		database: database,
		broker:   broker,
		metrics:  m,
		opts:     opts,
		log:      log,
	}
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /books/search", s.searchBooks)

	mux.Handle("GET /admin/books", s.requireAdmin(s.listBooks))
	mux.Handle("POST /admin/book", s.requireAdmin(s.addBook))
	mux.Handle("DELETE /admin/book/{id}", s.requireAdmin(s.deleteBook))
	mux.Handle("PATCH /admin/book/{id}/reduce", s.requireAdmin(s.reduceQuantity))
	mux.Handle("GET /admin/issued", s.requireAdmin(s.listAllIssued))
	mux.Handle("GET /admin/history", s.requireAdmin(s.adminHistory))

	mux.Handle("POST /student/issue/{bookId}", s.requireStudent(s.issueBook))
	mux.Handle("POST /student/return/{bookId}", s.requireStudent(s.returnBook))
	mux.Handle("GET /student/issued", s.requireStudent(s.listActiveLoans))
	mux.Handle("GET /student/history", s.requireStudent(s.history))

	mux.HandleFunc("POST /login", s.login)
	mux.HandleFunc("POST /register", s.register)
	mux.HandleFunc("GET /me", s.me)

	mux.HandleFunc("GET /healthz", s.healthz)
	mux.Handle("GET /metrics", s.metrics.Handler())

	return s.cors(s.observe(mux, s.authenticate(mux)))
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.database.Ping(); err != nil {
		s.log.Error("Database health check failed", zap.Error(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("unhealthy: database connection failed"))
		return
	}

	if !s.broker.IsHealthy() {
		s.log.Error("RabbitMQ health check failed")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("unhealthy: rabbitmq connection failed"))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("healthy"))
}
