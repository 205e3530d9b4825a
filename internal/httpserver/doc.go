// Package httpserver wraps net/http with listen-address validation,
// sensible timeouts and graceful shutdown for the stats endpoints.
package httpserver
