// Package server provides the application object every service is built on:
// a gorilla/mux router with an OpenAPI route catalogue, a middleware chain,
// lifecycle hooks, and the HTTP server loop.
package server
