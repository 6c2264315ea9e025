// Package api implements the HTTP REST API and WebSocket server for the
// SIAMP light server.
//
// This package provides:
//   - REST endpoints to pair, control, inspect and unpair lights
//   - REST endpoints to manage schedules
//   - WebSocket hub pushing twin changes to their owners
//   - JWT bearer authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - Health and Prometheus metrics endpoints
//
// # Errors
//
// Handlers render every use-case failure as {"status","code","message"}
// with the failure's HTTP status. Unknown errors become INTERNAL and their
// cause is logged, never returned.
//
// # Security
//
// Tokens are HS256 JWTs issued elsewhere; the subject is the owner id.
// WebSocket connections use single-use tickets bound to that owner so the
// token never appears in a URL.
package api
