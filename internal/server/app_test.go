package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/service-common/internal/metrics"
	"github.com/eugenenazirov/service-common/internal/openapi"
)

func testInfo() Info {
	return Info{
		Title:        "Registry",
		Description:  "Registry service",
		Version:      "1.0.0",
		ContactURL:   "https://example.org",
		ContactEmail: "ops@example.org",
		LicenseName:  "MPL-2.0",
		LicenseURL:   "https://www.mozilla.org/en-US/MPL/2.0/",
	}
}

type headerMiddleware struct {
	name  string
	value string
}

func (m headerMiddleware) Name() string { return m.name }

func (m headerMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("X-Chain", m.value)
		next.ServeHTTP(w, r)
	})
}

func TestHealthRoute(t *testing.T) {
	app := New(testInfo(), zaptest.NewLogger(t))

	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var body healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "ok" {
		t.Fatalf("unexpected status %q", body.Status)
	}
}

func TestAPIPrefixAppliesToRoutes(t *testing.T) {
	info := testInfo()
	info.APIPrefix = "/api/v1/"
	app := New(info, zaptest.NewLogger(t))

	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected prefixed health route, got %d", rec.Code)
	}

	doc := app.OpenAPI()
	if _, ok := doc.Paths["/api/v1/health"]; !ok {
		t.Fatalf("expected prefixed path in document, got %v", doc.Paths)
	}

	rec = httptest.NewRecorder()
	app.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected openapi.json outside the prefix, got %d", rec.Code)
	}
}

func TestOpenAPIEndpointMatchesDocument(t *testing.T) {
	info := testInfo()
	info.RootPath = "/registry"
	app := New(info, zaptest.NewLogger(t))
	app.Handle(http.MethodPost, "/programs/{id}", http.NotFoundHandler(), openapi.Operation{Summary: "Update program"})

	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var served, built map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &served); err != nil {
		t.Fatalf("decode served document: %v", err)
	}
	data, err := openapi.MarshalJSON(app.OpenAPI())
	if err != nil {
		t.Fatalf("marshal document: %v", err)
	}
	if err := json.Unmarshal(data, &built); err != nil {
		t.Fatalf("decode built document: %v", err)
	}

	servedJSON, _ := json.Marshal(served)
	builtJSON, _ := json.Marshal(built)
	if string(servedJSON) != string(builtJSON) {
		t.Fatalf("served document differs from built document:\n%s\n%s", servedJSON, builtJSON)
	}

	doc := app.OpenAPI()
	if doc.Info.Contact == nil || doc.Info.Contact.Email != "ops@example.org" {
		t.Fatalf("expected contact in document, got %+v", doc.Info.Contact)
	}
	if len(doc.Servers) != 1 || doc.Servers[0].URL != "/registry" {
		t.Fatalf("expected root path server, got %+v", doc.Servers)
	}
	if _, ok := doc.Paths["/programs/{id}"]["post"]; !ok {
		t.Fatalf("expected registered operation in document")
	}
}

func TestDocsRedirect(t *testing.T) {
	app := New(testInfo(), zaptest.NewLogger(t))

	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/docs", nil))
	if rec.Code != http.StatusMovedPermanently {
		t.Fatalf("expected redirect, got %d", rec.Code)
	}
	if got := rec.Header().Get("Location"); got != "/docs/index.html" {
		t.Fatalf("unexpected redirect target %q", got)
	}
}

func TestMetricsRoute(t *testing.T) {
	app := New(testInfo(), zaptest.NewLogger(t), WithMetrics(metrics.New("test")))

	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
}

func TestMiddlewareOrder(t *testing.T) {
	app := New(testInfo(), zaptest.NewLogger(t))
	app.AddMiddleware(headerMiddleware{name: "first", value: "first"})
	app.AddMiddleware(headerMiddleware{name: "second", value: "second"})

	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	chain := rec.Header().Values("X-Chain")
	if len(chain) != 2 || chain[0] != "second" || chain[1] != "first" {
		t.Fatalf("expected last registered middleware to run first, got %v", chain)
	}
	if names := app.Middlewares(); len(names) != 2 || names[0] != "first" {
		t.Fatalf("unexpected middleware names %v", names)
	}
}

func TestRouteTemplate(t *testing.T) {
	app := New(testInfo(), zaptest.NewLogger(t))
	app.Handle(http.MethodGet, "/programs/{id}", http.NotFoundHandler(), openapi.Operation{})

	if got := app.RouteTemplate(httptest.NewRequest(http.MethodGet, "/programs/42", nil)); got != "/programs/{id}" {
		t.Fatalf("unexpected template %q", got)
	}
	if got := app.RouteTemplate(httptest.NewRequest(http.MethodGet, "/nope", nil)); got != "unmatched" {
		t.Fatalf("expected unmatched, got %q", got)
	}
}

func TestShutdownHooksRunInOrder(t *testing.T) {
	app := New(testInfo(), zaptest.NewLogger(t))
	var order []string
	app.OnShutdown(func(context.Context) error { order = append(order, "a"); return nil })
	app.OnShutdown(func(context.Context) error { order = append(order, "b"); return errors.New("b failed") })
	app.OnShutdown(func(context.Context) error { order = append(order, "c"); return nil })

	err := app.RunShutdownHooks(context.Background())
	if err == nil {
		t.Fatalf("expected joined error from failing hook")
	}
	if len(order) != 3 || order[0] != "a" || order[2] != "c" {
		t.Fatalf("unexpected hook order %v", order)
	}
}

func TestServeStopsOnCancelAndRunsHooks(t *testing.T) {
	app := New(testInfo(), zaptest.NewLogger(t), WithTimeouts(Timeouts{
		ReadHeader:    time.Second,
		Write:         time.Second,
		Idle:          time.Second,
		ShutdownGrace: time.Second,
	}))
	hookCalled := make(chan struct{}, 1)
	app.OnShutdown(func(context.Context) error {
		hookCalled <- struct{}{}
		return nil
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- app.Serve(ctx, ln, true)
	}()

	resp, err := waitForHealth(t, "http://"+ln.Addr().String()+"/health")
	if err != nil {
		t.Fatalf("server did not become ready: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Serve did not return after cancellation")
	}

	select {
	case <-hookCalled:
	default:
		t.Fatalf("expected shutdown hook to run")
	}
}

func TestRunFailsForBusyPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	app := New(testInfo(), zaptest.NewLogger(t))
	if err := app.Run(context.Background(), "127.0.0.1", port, false); err == nil {
		t.Fatalf("expected error when port is in use")
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "abc")
	if got := RequestIDFromContext(ctx); got != "abc" {
		t.Fatalf("expected abc, got %s", got)
	}
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty id, got %s", got)
	}
}

func waitForHealth(t *testing.T, url string) (*http.Response, error) {
	t.Helper()

	var lastErr error
	for i := 0; i < 50; i++ {
		resp, err := http.Get(url)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		time.Sleep(20 * time.Millisecond)
	}
	return nil, lastErr
}
