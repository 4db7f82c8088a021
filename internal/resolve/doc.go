// Package resolve maps external (source, identifier) pairs to canonical
// catalog entities. Unknown identifiers are fuzzy-matched against existing
// entities by normalized name; matches at or above the configured confidence
// threshold become unverified mappings for manual review, anything below
// creates a fresh canonical entity.
package resolve
