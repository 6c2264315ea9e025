package api

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/auth"
)

type ctxKey int

const (
	keyRequestID ctxKey = iota
	keyOwnerID
)

const (
	headerRequestID = "X-Request-ID"

	// maxRequestBodySize caps JSON request bodies at 1 MiB.
	maxRequestBodySize = 1 << 20

	// maxRequestIDLen bounds client-supplied request ids.
	maxRequestIDLen = 64

	defaultCORSMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	defaultCORSHeaders = "Authorization, Content-Type, X-Request-ID"
)

// withRequestID propagates a usable X-Request-ID header or mints a UUID.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), keyRequestID, id)))
	})
}

// validRequestID accepts short ids made of letters, digits, '-' and '_'
// so client input never reaches the logs unfiltered.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

func requestID(r *http.Request) string {
	id, _ := r.Context().Value(keyRequestID).(string) //nolint:errcheck // empty when absent
	return id
}

// accessLog logs every request and observes its latency under the matched
// route pattern.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		s.metrics.HTTPRequest(route, r.Method, status, elapsed)

		log := s.logger.Info
		if status >= http.StatusInternalServerError {
			log = s.logger.Warn
		}
		log("http request",
			"method", r.Method,
			"route", route,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", elapsed.Milliseconds(),
			"request_id", requestID(r),
		)
	})
}

// recoverPanics turns a handler panic into a 500 with the standard error
// body. http.ErrAbortHandler is re-raised for net/http to handle.
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rv := recover()
			if rv == nil {
				return
			}
			if err, ok := rv.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rv)
			}
			s.logger.Error("handler panic",
				"panic", rv,
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", requestID(r),
				"stack", string(debug.Stack()),
			)
			writeInternalError(w, "internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

// cors answers preflight requests and decorates responses for allowed
// origins. No allowed_origins configured means any origin.
func (s *Server) cors(next http.Handler) http.Handler {
	methods := joinOr(s.cfg.CORS.AllowedMethods, defaultCORSMethods)
	headers := joinOr(s.cfg.CORS.AllowedHeaders, defaultCORSHeaders)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		h := w.Header()
		h.Add("Vary", "Origin")
		if origin != "" && s.originAllowed(origin) {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", methods)
			h.Set("Access-Control-Allow-Headers", headers)
			h.Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	allowed := s.cfg.CORS.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

// requireOwner verifies the bearer token. Its subject becomes the owner
// id every handler behind it scopes by.
func (s *Server) requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.verifier.ParseToken(auth.BearerToken(r))
		if err != nil {
			s.logger.Debug("request rejected", "path", r.URL.Path, "request_id", requestID(r), "error", err)
			if errors.Is(err, auth.ErrTokenMissing) {
				writeUnauthenticated(w, "bearer token is required")
			} else {
				writeUnauthenticated(w, "invalid or expired token")
			}
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), keyOwnerID, claims.OwnerID())))
	})
}

// ownerID returns the owner id set by requireOwner.
func ownerID(r *http.Request) string {
	id, _ := r.Context().Value(keyOwnerID).(string) //nolint:errcheck // empty when unauthenticated
	return id
}

func joinOr(values []string, fallback string) string {
	if len(values) == 0 {
		return fallback
	}
	return strings.Join(values, ", ")
}
