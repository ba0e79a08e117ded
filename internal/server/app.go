package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"

	"github.com/eugenenazirov/service-common/internal/metrics"
	"github.com/eugenenazirov/service-common/internal/openapi"
)

// Info is the OpenAPI metadata and mount configuration of an App.
type Info struct {
	Title        string
	Description  string
	Version      string
	ContactURL   string
	ContactEmail string
	LicenseName  string
	LicenseURL   string
	// RootPath is the prefix a proxy strips before forwarding; it only
	// affects the advertised servers list and the docs UI.
	RootPath string
	// APIPrefix is prepended to every route registered through Handle.
	APIPrefix string
}

// Timeouts configures the HTTP server started by Run.
type Timeouts struct {
	ReadHeader    time.Duration
	Write         time.Duration
	Idle          time.Duration
	ShutdownGrace time.Duration
}

// Middleware wraps the App's root handler.
type Middleware interface {
	Name() string
	Wrap(next http.Handler) http.Handler
}

// Hook runs as part of the application lifecycle.
type Hook func(ctx context.Context) error

// Option configures an App.
type Option func(*App)

// WithMetrics exposes reg on /metrics.
func WithMetrics(reg *metrics.Registry) Option {
	return func(a *App) {
		a.metrics = reg
	}
}

// WithTimeouts overrides the HTTP server timeouts.
func WithTimeouts(t Timeouts) Option {
	return func(a *App) {
		a.timeouts = t
	}
}

type route struct {
	method string
	path   string
	op     openapi.Operation
}

// App is the application object: router, route catalogue, middleware chain
// and lifecycle hooks.
type App struct {
	info     Info
	logger   *zap.Logger
	metrics  *metrics.Registry
	timeouts Timeouts

	router *mux.Router
	api    *mux.Router

	mu            sync.RWMutex
	routes        []route
	middlewares   []Middleware
	handler       http.Handler
	shutdownHooks []Hook
}

// New builds an App with the built-in /openapi.json, /docs and /metrics
// routes plus GET /health under the API prefix.
func New(info Info, logger *zap.Logger, opts ...Option) *App {
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{
		info:   info,
		logger: logger,
		timeouts: Timeouts{
			ReadHeader:    5 * time.Second,
			Write:         15 * time.Second,
			Idle:          60 * time.Second,
			ShutdownGrace: 10 * time.Second,
		},
		router: mux.NewRouter(),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.router.Handle("/openapi.json", http.HandlerFunc(a.handleOpenAPI)).Methods(http.MethodGet)
	a.router.Handle("/docs", http.RedirectHandler(a.info.RootPath+"/docs/index.html", http.StatusMovedPermanently))
	a.router.PathPrefix("/docs/").Handler(httpSwagger.Handler(
		httpSwagger.URL(a.info.RootPath + "/openapi.json"),
	))
	if a.metrics != nil {
		a.router.Handle("/metrics", a.metrics.Handler()).Methods(http.MethodGet)
	}

	prefix := strings.TrimRight(info.APIPrefix, "/")
	a.info.APIPrefix = prefix
	if prefix == "" {
		a.api = a.router
	} else {
		a.api = a.router.PathPrefix(prefix).Subrouter()
	}

	a.Handle(http.MethodGet, "/health", http.HandlerFunc(handleHealth), openapi.Operation{
		Summary: "Service health",
		Tags:    []string{"system"},
		Responses: map[string]openapi.Response{
			"200": {
				Description: "Service is healthy",
				Content: map[string]openapi.MediaType{
					"application/json": {Schema: &openapi.Schema{
						Type: "object",
						Properties: map[string]*openapi.Schema{
							"status":    {Type: "string"},
							"timestamp": {Type: "string", Format: "date-time"},
						},
					}},
				},
			},
		},
	})

	a.rebuild()
	return a
}

// Info returns the metadata the App was built with.
func (a *App) Info() Info {
	return a.info
}

// Logger returns the App's logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Handle registers handler for method and path (relative to the API prefix)
// and records op in the OpenAPI document.
func (a *App) Handle(method, path string, handler http.Handler, op openapi.Operation) {
	a.api.Handle(path, handler).Methods(method)

	a.mu.Lock()
	a.routes = append(a.routes, route{method: method, path: a.info.APIPrefix + path, op: op})
	a.mu.Unlock()
}

// AddMiddleware wraps the App with m. Middlewares added later run first.
func (a *App) AddMiddleware(m Middleware) {
	a.mu.Lock()
	a.middlewares = append(a.middlewares, m)
	a.mu.Unlock()

	a.rebuild()
	a.logger.Debug("middleware registered", zap.String("middleware", m.Name()))
}

// Middlewares lists the registered middleware names in registration order.
func (a *App) Middlewares() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	names := make([]string, 0, len(a.middlewares))
	for _, m := range a.middlewares {
		names = append(names, m.Name())
	}
	return names
}

// SetNotFoundHandler replaces the router's 404 handler.
func (a *App) SetNotFoundHandler(h http.Handler) {
	a.router.NotFoundHandler = h
}

// SetMethodNotAllowedHandler replaces the router's 405 handler.
func (a *App) SetMethodNotAllowedHandler(h http.Handler) {
	a.router.MethodNotAllowedHandler = h
}

// RouteTemplate returns the path template matching r, or "unmatched".
func (a *App) RouteTemplate(r *http.Request) string {
	var match mux.RouteMatch
	if a.router.Match(r, &match) && match.Route != nil {
		if tpl, err := match.Route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// OnShutdown registers a hook run after the HTTP server stops.
func (a *App) OnShutdown(h Hook) {
	a.mu.Lock()
	a.shutdownHooks = append(a.shutdownHooks, h)
	a.mu.Unlock()
}

// RunShutdownHooks runs every shutdown hook in registration order and waits
// for each to return.
func (a *App) RunShutdownHooks(ctx context.Context) error {
	a.mu.RLock()
	hooks := append([]Hook(nil), a.shutdownHooks...)
	a.mu.RUnlock()

	var errs []error
	for _, h := range hooks {
		if err := h(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenAPI builds the OpenAPI document for the registered routes.
func (a *App) OpenAPI() *openapi.Document {
	info := openapi.Info{
		Title:       a.info.Title,
		Description: a.info.Description,
		Version:     a.info.Version,
	}
	if a.info.ContactURL != "" || a.info.ContactEmail != "" {
		info.Contact = &openapi.Contact{URL: a.info.ContactURL, Email: a.info.ContactEmail}
	}
	if a.info.LicenseName != "" {
		info.License = &openapi.License{Name: a.info.LicenseName, URL: a.info.LicenseURL}
	}

	doc := openapi.New(info)
	if a.info.RootPath != "" {
		doc.Servers = []openapi.Server{{URL: a.info.RootPath}}
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, r := range a.routes {
		doc.AddOperation(r.method, r.path, r.op)
	}
	return doc
}

// ServeHTTP implements http.Handler.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mu.RLock()
	h := a.handler
	a.mu.RUnlock()
	h.ServeHTTP(w, r)
}

func (a *App) rebuild() {
	a.mu.Lock()
	defer a.mu.Unlock()

	var h http.Handler = a.router
	for _, m := range a.middlewares {
		h = m.Wrap(h)
	}
	a.handler = h
}

func (a *App) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	data, err := openapi.MarshalJSON(a.OpenAPI())
	if err != nil {
		a.logger.Error("render openapi document", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal error"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
	})
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
