package httpapi

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/bookstore/services/lending/internal/apperr"
	"github.com/bookstore/services/lending/internal/auth"
	"github.com/bookstore/services/lending/internal/events"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-ID"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// observe tags each request with an ID, then logs it and records its
// latency labelled by the matching route pattern.
func (s *Server) observe(routes *http.ServeMux, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, requestID)
		r = r.WithContext(events.WithCorrelationID(r.Context(), requestID))

		_, route := routes.Handler(r)
		if _, path, ok := strings.Cut(route, " "); ok {
			route = path
		}
		if route == "" {
			route = "unmatched"
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		s.metrics.ObserveRequest(r.Method, route, rec.status, elapsed)

		s.log.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("route", route),
			zap.Int("status", rec.status),
			zap.Duration("duration", elapsed),
			zap.String("request_id", requestID),
		)
	})
}

// authenticate verifies a bearer token when one is sent. Requests without
// a token continue anonymously; the route decides whether that is enough.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := auth.BearerToken(header)
		if !ok {
			s.writeError(w, apperr.Unauthorized("Invalid authorization header"))
			return
		}
		principal, err := s.auth.Verify(token)
		if err != nil {
			s.writeError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

func (s *Server) requireAdmin(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.AuthRequired {
			principal, ok := auth.FromContext(r.Context())
			if !ok {
				s.writeError(w, apperr.Unauthorized("Not authenticated"))
				return
			}
			if !principal.IsAdmin() {
				s.writeError(w, apperr.Forbidden("Admin access required"))
				return
			}
		}
		h(w, r)
	})
}

func (s *Server) requireStudent(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.AuthRequired {
			if _, ok := auth.FromContext(r.Context()); !ok {
				s.writeError(w, apperr.Unauthorized("Not authenticated"))
				return
			}
		}
		h(w, r)
	})
}

// cors allows the configured frontend origins and answers preflight requests.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (slices.Contains(s.opts.CORSOrigins, origin) || slices.Contains(s.opts.CORSOrigins, "*")) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", strings.Join([]string{
					http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions,
				}, ", "))
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, "+requestIDHeader)
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
