// Package middleware is the extension point for HTTP middlewares. Concrete
// middlewares embed Base and register themselves on the application through
// PostInit. The stock request id, CORS, rate limit and metrics middlewares
// are installed by the initializer.
package middleware
