// Package api hosts the HTTP server, middleware, and REST handlers. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/poll, the cron trigger for one change-detection pass.
//   - GET /v1/search, /v1/manga/{id} and /v1/read/{source}/{mangaID}/{chapterID}
//     for catalog lookups across providers.
//
// Routes under /v1 require an API key when auth is enabled.
package api
