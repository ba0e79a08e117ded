// Package config resolves service settings from multiple sources with
// precedence: COMMON_-prefixed environment variables > .env file > config
// file (YAML, JSON or TOML) > struct defaults. Derived fields (datasource,
// worker identity, pod id) are computed once after binding, and resolved
// settings are cached in the registry so each type is resolved only once.
package config
