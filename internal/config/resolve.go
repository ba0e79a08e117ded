package config

import (
	"context"
	"errors"
	"reflect"

	"github.com/eugenenazirov/service-common/internal/registry"
)

// ErrStrictInterface is returned when a strict lookup names an interface
// type, which no registered settings value can match exactly.
var ErrStrictInterface = errors.New("strict settings lookup needs a concrete type")

// Resolve returns the settings instance of type T held by reg, loading and
// registering a new one built by newFn when none matches.
//
// With strict set only an entry of exactly type T matches, so T must be
// concrete; an interface T fails with ErrStrictInterface. Otherwise any
// entry assignable to T matches, and so does an entry whose embedded base
// Settings is assignable to T: resolving *Settings non-strictly returns the
// base of a previously registered service-specific settings type.
func Resolve[T Provider](ctx context.Context, l *Loader, reg *registry.Registry, strict bool, newFn func() T) (T, error) {
	if strict && reflect.TypeOf((*T)(nil)).Elem().Kind() == reflect.Interface {
		var zero T
		return zero, ErrStrictInterface
	}

	for _, entry := range reg.Configs() {
		if match, ok := lookup[T](entry, strict); ok {
			return match, nil
		}
	}

	cfg := newFn()
	if err := l.Load(ctx, cfg); err != nil {
		var zero T
		return zero, err
	}
	reg.AppendConfig(cfg)
	return cfg, nil
}

// Get resolves the base Settings non-strictly.
func Get(ctx context.Context, l *Loader, reg *registry.Registry) (*Settings, error) {
	return Resolve(ctx, l, reg, false, New)
}

func lookup[T Provider](entry any, strict bool) (T, bool) {
	var zero T
	if strict {
		if reflect.TypeOf(entry) == reflect.TypeOf((*T)(nil)).Elem() {
			return entry.(T), true
		}
		return zero, false
	}

	if match, ok := entry.(T); ok {
		return match, true
	}
	if p, ok := entry.(Provider); ok {
		if match, ok := any(p.Base()).(T); ok {
			return match, true
		}
	}
	return zero, false
}
