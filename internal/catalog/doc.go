// Package catalog persists the versioned game catalog in SQLite: major
// versions, updates, snapshots, canonical entities with their per-snapshot
// version rows, source mappings, scrape state, scrape runs, change records,
// and the outbound message outbox.
//
// The Store owns every SQL statement in the module. Snapshot promotion is a
// single transaction guarded by an optimistic counter on the major version,
// so that exactly one snapshot per major version is current at any instant
// and change records commit atomically with the promotion that produced them.
package catalog
