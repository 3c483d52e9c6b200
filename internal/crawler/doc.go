// Package crawler holds the canonical job model, the interfaces that connect
// fetchers, adapters, stores and the ingest client, and the error taxonomy and
// retry policy shared by the ingestion pipeline.
package crawler
