// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /api/scans for run submission, POST /api/scans/{run_id}/cancel.
//   - GET /api/scans/... for run listings, results, audits and live
//     progress (server-sent events).
//   - GET /api/members/... for member directory lookups.
package api
