package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

// ContextWithRequestID stores the request id on ctx.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, id)
}

// RequestIDFromContext returns the request id stored on ctx, if any.
func RequestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// Run listens on host:port and serves until ctx is cancelled or the server
// fails. See Serve.
func (a *App) Run(ctx context.Context, host string, port int, accessLog bool) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return a.Serve(ctx, ln, accessLog)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts the
// server down gracefully and runs the shutdown hooks. Request access logging
// is only emitted when accessLog is set.
func (a *App) Serve(ctx context.Context, ln net.Listener, accessLog bool) error {
	var handler http.Handler = a
	if accessLog {
		handler = accessLogHandler(a.logger, handler)
	}

	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: a.timeouts.ReadHeader,
		WriteTimeout:      a.timeouts.Write,
		IdleTimeout:       a.timeouts.Idle,
		ErrorLog:          zap.NewStdLog(a.logger),
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server listening", zap.String("addr", ln.Addr().String()))
		errCh <- server.Serve(ln)
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		a.logger.Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.timeouts.ShutdownGrace)
	defer cancel()

	shutdown(shutdownCtx, server, a.logger)

	if err := a.RunShutdownHooks(shutdownCtx); err != nil {
		a.logger.Error("shutdown hooks failed", zap.Error(err))
		if serveErr == nil {
			serveErr = err
		}
	}
	return serveErr
}

func shutdown(ctx context.Context, server *http.Server, logger *zap.Logger) {
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("forced close failed", zap.Error(closeErr))
		}
	}
}

func accessLogHandler(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &ResponseRecorder{ResponseWriter: w, Status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.Status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", rec.Header().Get("X-Request-ID")),
		)
	})
}

// ResponseRecorder captures the status code written by a handler.
type ResponseRecorder struct {
	http.ResponseWriter
	Status int
}

// WriteHeader implements http.ResponseWriter.
func (r *ResponseRecorder) WriteHeader(status int) {
	r.Status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
