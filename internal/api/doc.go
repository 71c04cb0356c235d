// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access to a running audit. Notable routes:
//   - GET /healthz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/status and /api/jobs for progress and reports.
//   - POST /api/jobs/{id}/rescan to audit a finished route again.
//   - GET /api/job-events for a Server-Sent Events stream of lifecycle events.
//   - GET /artifacts/* for report files and screenshots.
package api
