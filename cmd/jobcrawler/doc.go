// Package main hosts the crawler entrypoint.
//
// Architecture overview:
//   - Sources: each configured source names an adapter kind (greenhouse, lever, rapidapi, html). Adapters
//     fetch through a shared fetcher.Layer that applies the per-domain gate, retries with jittered backoff,
//     blocks hosts after repeated 401/403 answers and rotates through fallback URLs for HTML boards.
//   - Normalize & dedup: raw postings are cleaned, classified (internship, placement, graduate), filtered for
//     relevance and hashed. Duplicates within a run collapse to one record; hashes the backend already holds
//     are skipped using the configured hash store (memory, local JSON file or Postgres).
//   - Ingest: surviving jobs are posted in batches to INGEST_BASE_URL/jobs/ingest with the shared secret.
//     Delivered hashes are remembered so unchanged postings are not resent on the next run.
//   - Reporting: every run produces a RunReport with per-source counts and failures. Reports are kept in the
//     run store, optionally published to Pub/Sub and logged as a summary.
//
// Modes:
//   - Batch (default): one run, then exit. A nonzero exit code means the run failed outright; partial runs
//     exit 0 and log the failed sources. Metrics are pushed to a Pushgateway when configured.
//   - Dry run (-dry-run): no ingest; jobs are written to stdout as JSON lines. Logs always go to stderr.
//   - Serve (-serve): HTTP API with POST /v1/runs, run lookups, /metrics and probes, plus an optional
//     schedule (server.schedule_interval). Only one run is in flight at a time.
//
// Quick checklist:
//   - Configure env vars: JOBCRAWLER_INGEST_BASE_URL, JOBCRAWLER_INGEST_SECRET, JOBCRAWLER_RAPIDAPI_KEY and,
//     when persistence beyond memory is required, JOBCRAWLER_DB_DSN.
//   - Run locally: go run ./cmd/jobcrawler -config config.yaml -dry-run
package main
