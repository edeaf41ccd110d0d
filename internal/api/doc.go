// Package api hosts the HTTP front door of the harvester. Routes:
//   - POST /api/v1/scrape accepts a harvest request and hands it to the dispatcher.
//   - GET /api/v1/jobs/{job_id} reports job status and, once finished, the summary.
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
