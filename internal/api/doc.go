// Package api hosts the operator HTTP server, middleware, and REST handlers.
// Notable routes:
//   - GET /healthz / readyz for Kubernetes health checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for round progress and the active community scans.
//   - POST /v1/round/stop and /v1/communities/stop to cancel work.
//   - GET/PUT /v1/enabled and /v1/settings for runtime settings.
//   - GET/DELETE /v1/notifications plus a websocket feed at
//     /v1/notifications/stream.
//   - GET /v1/events for recent batch events when Pub/Sub is disabled.
package api
