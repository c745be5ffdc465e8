// Package api implements the HTTP REST API and WebSocket server for the
// smart bulb core.
//
// This package provides:
//   - REST endpoints for simulator mode, discovery, connection and commands
//   - Saved-bulb management and account sign-in against the account backend
//   - WebSocket hub relaying control facade events by channel
//   - Middleware stack (request ID, logging, recovery, CORS, body limit,
//     per-client rate limit)
//
// # Architecture
//
// The server is a thin adapter over the control facade. Every request maps
// onto one facade or directory operation; domain errors are translated to
// HTTP statuses in one place (writeDomainError). Facade events are pushed
// to WebSocket clients subscribed to the matching channel:
//
//	scan     scan_started, scan_finished
//	device   device_discovered
//	session  connecting, session_started, session_ended
//	state    state_changed, command_failed
//	mode     mode_changed
//
// # Graceful Degradation
//
// Without an account directory the saved-bulb and account routes answer
// 503; discovery and control keep working.
package api
