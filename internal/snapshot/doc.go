// Package snapshot owns the major-version/update/snapshot lifecycle. It
// opens candidate snapshots, promotes them atomically while demoting the
// prior current snapshot, and enforces the single-current invariant through
// an optimistic counter on the major version.
package snapshot
