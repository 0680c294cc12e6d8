// Package api hosts the HTTP gateway. Notable routes:
//   - POST /analyze (alias /v1/analyze) streams one analysis run as
//     server-sent events.
//   - GET /healthz, /health and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/runs and /api/runs/{run_id} for the run audit trail via the
//     RunRepository interface.
package api
