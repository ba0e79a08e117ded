package middleware

import (
	"errors"

	"github.com/eugenenazirov/service-common/internal/registry"
	"github.com/eugenenazirov/service-common/internal/server"
)

// ErrNoApp is returned by PostInit when the registry holds no application.
var ErrNoApp = errors.New("no application registered")

// Middleware is anything that can be added to the application's middleware chain.
type Middleware = server.Middleware

// Base is embedded by concrete middlewares to provide their name.
type Base struct {
	name string
}

// NewBase returns a Base with the given name.
func NewBase(name string) Base {
	return Base{name: name}
}

// Name implements Middleware.
func (b Base) Name() string {
	return b.name
}

// PostInit registers m on the application held by reg and returns m so
// construction and registration can be chained.
func PostInit[M Middleware](reg *registry.Registry, m M) (M, error) {
	app := reg.App()
	if app == nil {
		return m, ErrNoApp
	}
	app.AddMiddleware(m)
	return m, nil
}
