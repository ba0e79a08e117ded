// Package application wires a service together at startup. The Initializer
// resolves settings, builds the logger, the HTTP application object and the
// database engine, stores them in a registry and exposes the run, migrate and
// getOpenAPI commands used by the service binary.
package application
