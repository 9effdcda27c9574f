// Package api exposes the daemon over HTTP and provides the typed client the
// CLI uses to reach it.
//
// # Routes
//
// POST /api/messages accepts a messages.Envelope and answers with a
// MessageResponse. Failures keep the envelope shape; the HTTP status follows
// services.HTTPStatus so validation errors surface as 400 and a refused
// message during data deletion as 409.
//
// GET /api/downloads lists load items with their live file and transfer
// progress. Repeated status query parameters filter the list.
//
// GET /api/status reports the daemon runtime, the active list, the pending
// queue and any restore prompt left by the startup reconcile.
//
// GET /api/logs serves the in-memory log stream with since/limit/follow/tail
// parameters.
//
// When an API token is configured every route requires
// "Authorization: Bearer <token>".
package api
