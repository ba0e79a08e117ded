// Package registry holds the singletons created once at startup: the resolved
// settings, the application object and the database engine. A Registry is
// constructed by the initializer and passed explicitly to whatever needs it.
package registry

import (
	"sync"

	"github.com/eugenenazirov/service-common/internal/database"
	"github.com/eugenenazirov/service-common/internal/server"
)

// Registry stores the process singletons and guards access with a RWMutex.
type Registry struct {
	mu      sync.RWMutex
	configs []any
	app     *server.App
	engine  *database.Engine
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// Configs returns a copy of the registered settings in registration order.
func (r *Registry) Configs() []any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]any, len(r.configs))
	copy(out, r.configs)
	return out
}

// AppendConfig registers a settings instance. It never replaces an existing
// entry; uniqueness per type is enforced by the settings resolver.
func (r *Registry) AppendConfig(cfg any) {
	r.mu.Lock()
	r.configs = append(r.configs, cfg)
	r.mu.Unlock()
}

// App returns the registered application object, or nil.
func (r *Registry) App() *server.App {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.app
}

// SetApp registers the application object, replacing any previous one.
func (r *Registry) SetApp(app *server.App) {
	r.mu.Lock()
	r.app = app
	r.mu.Unlock()
}

// Engine returns the registered database engine, or nil.
func (r *Registry) Engine() *database.Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.engine
}

// SetEngine registers the database engine, replacing any previous one.
func (r *Registry) SetEngine(engine *database.Engine) {
	r.mu.Lock()
	r.engine = engine
	r.mu.Unlock()
}
