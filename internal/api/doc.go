// Package api hosts the serve-mode HTTP server, middleware and REST handlers.
// Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to trigger a crawl (409 while one is in flight).
//   - GET /v1/runs/latest and /v1/runs/{run_id} for run reports.
package api
