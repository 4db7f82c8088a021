// Package scrapestate tracks per-entity ingestion cursors: content hashes
// for unchanged-detection and consecutive-miss counting with a grace
// threshold before an absent entity is deactivated.
package scrapestate
