// Package api implements the HTTP request surface of the lanwake controller.
//
// This package provides:
//   - REST endpoints to list and clear the device registry, wake a device
//     and request a scan pass
//   - Status and metrics endpoints for operators
//   - A websocket hub relaying controller events
//   - A gate combining the caller rate limiter with Basic or bearer
//     credential checks
//
// # Security
//
// Every gated request is first checked against the per-address rate
// limiter. A throttled caller gets 429 with Retry-After and the handler
// is never reached. Wrong credentials are answered with 401 and extend
// the caller's backoff; good credentials reset it. Handlers never sleep.
//
// Websocket connections authenticate with a single-use ticket obtained
// from POST /api/v1/auth/ws-ticket, so tokens never appear in URLs.
//
// The controller is meant for a home LAN. It is not hardened for exposure
// to the Internet.
package api
