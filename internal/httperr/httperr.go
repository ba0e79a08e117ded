// Package httperr defines the JSON error envelope every service returns and
// installs the application-wide exception handlers.
package httperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/eugenenazirov/service-common/internal/server"
)

// Error is an error that carries its HTTP representation.
type Error struct {
	Status  int
	Code    string
	Message string
}

// New creates an Error.
func New(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Write renders err as JSON. Errors wrapping *Error keep their status and
// code; anything else becomes a 500 whose body never carries err's text.
func Write(w http.ResponseWriter, err error) {
	var httpErr *Error
	if errors.As(err, &httpErr) {
		writeJSON(w, httpErr.Status, errorResponse{Error: httpErr.Code, Details: httpErr.Message})
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal error", Details: "unexpected server error"})
}

// HandlerFunc is an http handler that reports failures by returning them.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Handle adapts fn to http.Handler, writing returned errors with Write.
// Errors that do not wrap *Error are logged before the 500 is sent.
func Handle(logger *zap.Logger, fn HandlerFunc) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err == nil {
			return
		}
		var httpErr *Error
		if !errors.As(err, &httpErr) {
			logger.Error("request failed",
				zap.Error(err),
				zap.String("path", r.URL.Path),
				zap.String("request_id", server.RequestIDFromContext(r.Context())),
			)
		}
		Write(w, err)
	})
}

// Install registers the JSON 404 and 405 handlers and the panic recovery
// middleware on app.
func Install(app *server.App, logger *zap.Logger) {
	app.SetNotFoundHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Write(w, New(http.StatusNotFound, "Not found", fmt.Sprintf("no route for %s", r.URL.Path)))
	}))
	app.SetMethodNotAllowedHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Write(w, New(http.StatusMethodNotAllowed, "Method not allowed", fmt.Sprintf("%s is not allowed on %s", r.Method, r.URL.Path)))
	}))
	app.AddMiddleware(Recoverer{logger: logger})
}

// Recoverer turns handler panics into 500 responses.
type Recoverer struct {
	logger *zap.Logger
}

// Name implements server.Middleware.
func (Recoverer) Name() string {
	return "recoverer"
}

// Wrap implements server.Middleware.
func (m Recoverer) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				m.logger.Error("panic recovered",
					zap.Any("error", rec),
					zap.String("path", r.URL.Path),
					zap.String("request_id", server.RequestIDFromContext(r.Context())),
				)
				Write(w, New(http.StatusInternalServerError, "Internal error", "unexpected server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
