// Package main hosts the scan service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, scan management
//     and member directory endpoints. Scan submissions are validated,
//     normalized into scan.RunConfig, persisted via the store, and handed to
//     the admission controller.
//   - Admission & runner: at most a configured number of scans run at once;
//     extra submissions queue FIFO and start when a slot frees. Each run
//     fans keyword searches out across the six Parliament data sources,
//     deduplicates hits, prefilters procedural noise, and pushes the
//     remainder through a bounded classification pool.
//   - Rate limiting: every Parliament API call passes through a shared
//     per-host limiter that caps concurrent requests and paces them, with
//     exponential backoff on 429 and transient failures.
//   - Outage handling: sustained classifier failures pause the pipeline;
//     deferred items are retried in escalating rounds and anything still
//     failing is written to the audit trail rather than lost.
//   - Persistence & fanout: results, audits and progress snapshots go to
//     Postgres (or an in-memory store for local use); a compact Pub/Sub
//     notification is published when a run finishes. Progress is also
//     streamed live over server-sent events.
//   - Configuration & plumbing: Viper populates config from env/files; zap
//     provides structured logging; Prometheus metrics are exported via the
//     metrics middleware and /metrics handler.
//
// Operational notes:
//   - Shutdown is coordinated via context cancellation from SIGINT/SIGTERM;
//     in-flight runs keep their cooperative cancel tokens, and operators can
//     cancel individual runs through the API.
//   - The HTTP server listens on the configured port; health endpoints
//     (/healthz, /readyz) stay lightweight for probes.
package main
