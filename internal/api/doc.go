// Package api hosts the operator HTTP surface that runs alongside an ingest.
// Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs/{run_id} for run lifecycle rows, when a run store is configured.
package api
