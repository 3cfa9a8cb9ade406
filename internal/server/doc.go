// Package server hosts the media vault API behind a single HTTP server.
//
// The server builds a consistent middleware chain of request IDs, logging,
// audit, metrics, security headers, CORS, rate limiting, and identity
// resolution so handlers all share common protections and instrumentation.
package server
