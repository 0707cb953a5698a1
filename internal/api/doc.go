// Package api hosts the operator HTTP server. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/batches/{subject_id}/{job_type} for the current batch status of
//     a subject, and .../history for its recent entries.
package api
