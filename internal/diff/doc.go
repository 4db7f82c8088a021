// Package diff computes auditable field-level differences between the
// entity attribute sets of two snapshots. Nested attribute maps are
// flattened to dotted leaf paths so a single points-cost change surfaces as
// exactly one change record, and the emitted records form a patch that
// reconstructs the newer attribute set from the older one.
package diff
