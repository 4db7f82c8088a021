// Package ingest orchestrates one full pipeline run: extract records from
// the source, resolve them to canonical identities, build a candidate
// snapshot, diff it against the current one, and atomically promote it,
// feeding the change records to the publisher outbox. A scheduler wraps the
// runner for the daemon's periodic crawls.
package ingest
