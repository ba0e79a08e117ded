package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/eugenenazirov/service-common/internal/httperr"
	"github.com/eugenenazirov/service-common/internal/metrics"
	"github.com/eugenenazirov/service-common/internal/server"
)

// RequestID propagates X-Request-ID, generating one when the client sent none.
type RequestID struct {
	Base
}

// NewRequestID returns the request id middleware.
func NewRequestID() *RequestID {
	return &RequestID{Base: NewBase("request-id")}
}

// Wrap implements Middleware.
func (m *RequestID) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}

		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(server.ContextWithRequestID(r.Context(), requestID)))
	})
}

// CORS answers preflight requests and sets the allow headers.
type CORS struct {
	Base
	origins []string
}

// NewCORS returns a CORS middleware for the given origins; "*" allows any.
func NewCORS(origins []string) *CORS {
	return &CORS{Base: NewBase("cors"), origins: origins}
}

// Wrap implements Middleware.
func (m *CORS) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := m.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			if origin != "*" {
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-Requested-With,X-Request-ID")
			w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *CORS) allowedOrigin(origin string) string {
	for _, allowed := range m.origins {
		if allowed == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(allowed, origin) {
			return origin
		}
	}
	return ""
}

type rateLimiter interface {
	Allow() bool
}

// RateLimit rejects requests above a token-bucket rate with 429.
type RateLimit struct {
	Base
	limiter rateLimiter
}

// NewRateLimit returns a limiter allowing rps requests per second with the
// given burst. A non-positive rps or burst disables limiting.
func NewRateLimit(rps float64, burst int) *RateLimit {
	m := &RateLimit{Base: NewBase("rate-limit")}
	if rps > 0 && burst > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return m
}

// Wrap implements Middleware.
func (m *RateLimit) Wrap(next http.Handler) http.Handler {
	if m.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.limiter.Allow() {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Retry-After", "1")
		httperr.Write(w, httperr.New(http.StatusTooManyRequests, "Too many requests", "rate limit exceeded, please retry shortly"))
	})
}

// Metrics records request counts and latencies labelled by route template.
type Metrics struct {
	Base
	registry *metrics.Registry
	route    func(*http.Request) string
	skip     []string
}

// NewMetrics returns the metrics middleware. route maps a request to its
// route template so label cardinality stays bounded.
func NewMetrics(reg *metrics.Registry, route func(*http.Request) string) *Metrics {
	return &Metrics{
		Base:     NewBase("metrics"),
		registry: reg,
		route:    route,
		skip:     []string{"/metrics", "/docs"},
	}
}

// Wrap implements Middleware.
func (m *Metrics) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range m.skip {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		done := m.registry.RequestStarted()
		defer done()

		rec := &server.ResponseRecorder{ResponseWriter: w, Status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		m.registry.ObserveRequest(r.Method, m.route(r), rec.Status, time.Since(start))
	})
}
