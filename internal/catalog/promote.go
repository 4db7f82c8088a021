package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/luizgaroland/warhammer40kPapaMeta/internal/extract"
)

// FactionVersionInput is one copy-on-write faction row to create with a
// promotion. IsPresent false records a tombstone for a removed faction.
type FactionVersionInput struct {
	FactionID int64
	IsPresent bool
	Attrs     extract.Attrs
}

// WargearOptionInput is one wargear association on a new unit version.
type WargearOptionInput struct {
	WargearID      int64
	PointsCost     int64
	IsDefault      bool
	ExclusionGroup string
}

// UnitVersionInput is one copy-on-write unit row to create with a promotion.
type UnitVersionInput struct {
	UnitID         int64
	IsPresent      bool
	Attrs          extract.Attrs
	WargearOptions []WargearOptionInput
}

// CanonicalUpdateInput mutates an in-place entity (detachment, enhancement,
// wargear) as part of a promotion.
type CanonicalUpdateInput struct {
	EntityType extract.EntityType
	EntityID   int64
	Name       string
	Attrs      extract.Attrs
	IsActive   bool
}

// ChangeInput is one field-level change record to commit with a promotion.
type ChangeInput struct {
	EntityType   extract.EntityType
	EntityID     int64
	FieldChanged string
	OldValue     *string
	NewValue     *string
	ChangeType   ChangeType
}

// PromoteParams carries everything a promotion writes in one transaction.
type PromoteParams struct {
	SnapshotID     int64
	MajorVersionID int64
	// ExpectedSeq is the promotion counter observed when the candidate was
	// opened. A mismatch at commit time means another run promoted first.
	ExpectedSeq      int64
	UpdateID         *int64
	FactionVersions  []FactionVersionInput
	UnitVersions     []UnitVersionInput
	CanonicalUpdates []CanonicalUpdateInput
	Changes          []ChangeInput
}

// PromoteSnapshot atomically marks the candidate current, demotes the prior
// current snapshot (and any current update of the same type), writes the
// copy-on-write version rows, applies in-place canonical updates, and
// commits the change records. Either everything lands or nothing does.
func (s *Store) PromoteSnapshot(ctx context.Context, params PromoteParams) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		return s.promoteOnce(ctx, params)
	})
}

func (s *Store) promoteOnce(ctx context.Context, params PromoteParams) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin promote tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()

	// Optimistic check: bump the counter only if nobody promoted since the
	// candidate was opened.
	res, err := tx.ExecContext(
		ctx,
		`UPDATE major_versions SET promotion_seq = promotion_seq + 1
         WHERE id = ? AND promotion_seq = ?`,
		params.MajorVersionID,
		params.ExpectedSeq,
	)
	if err != nil {
		return fmt.Errorf("bump promotion seq: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("promotion seq rows affected: %w", err)
	}
	if affected == 0 {
		return ErrPromotionConflict
	}

	if _, err := tx.ExecContext(
		ctx,
		`UPDATE version_snapshots SET is_current = 0 WHERE major_version_id = ? AND is_current = 1`,
		params.MajorVersionID,
	); err != nil {
		return fmt.Errorf("demote prior snapshot: %w", err)
	}

	res, err = tx.ExecContext(
		ctx,
		`UPDATE version_snapshots SET is_current = 1, promoted_at = ?
         WHERE id = ? AND major_version_id = ?`,
		formatTime(now),
		params.SnapshotID,
		params.MajorVersionID,
	)
	if err != nil {
		return fmt.Errorf("mark snapshot current: %w", err)
	}
	if affected, err = res.RowsAffected(); err != nil {
		return fmt.Errorf("snapshot rows affected: %w", err)
	}
	if affected != 1 {
		return fmt.Errorf("mark snapshot current: snapshot %d not found under major version %d",
			params.SnapshotID, params.MajorVersionID)
	}

	if params.UpdateID != nil {
		if err := promoteUpdate(ctx, tx, params.MajorVersionID, *params.UpdateID); err != nil {
			return err
		}
	}

	for _, fv := range params.FactionVersions {
		if err := insertFactionVersion(ctx, tx, params.SnapshotID, fv, now); err != nil {
			return err
		}
	}
	for _, uv := range params.UnitVersions {
		if err := insertUnitVersion(ctx, tx, params.SnapshotID, uv, now); err != nil {
			return err
		}
	}
	for _, cu := range params.CanonicalUpdates {
		if err := applyCanonicalUpdate(ctx, tx, cu); err != nil {
			return err
		}
	}
	for _, change := range params.Changes {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO change_records (snapshot_id, entity_type, entity_id, field_changed, old_value, new_value, change_type, created_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			params.SnapshotID,
			string(change.EntityType),
			change.EntityID,
			change.FieldChanged,
			nullableStringPtr(change.OldValue),
			nullableStringPtr(change.NewValue),
			string(change.ChangeType),
			formatTime(now),
		); err != nil {
			return fmt.Errorf("insert change record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit promote: %w", err)
	}
	return nil
}

// promoteUpdate marks the snapshot's update current and demotes any other
// current update of the same type under the same major version.
func promoteUpdate(ctx context.Context, tx *sql.Tx, majorVersionID, updateID int64) error {
	var updateType string
	err := tx.QueryRowContext(
		ctx,
		`SELECT update_type FROM game_updates WHERE id = ? AND major_version_id = ?`,
		updateID,
		majorVersionID,
	).Scan(&updateType)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("promote update %d: not found under major version %d", updateID, majorVersionID)
	}
	if err != nil {
		return fmt.Errorf("load update type: %w", err)
	}

	if _, err := tx.ExecContext(
		ctx,
		`UPDATE game_updates SET is_current = 0
         WHERE major_version_id = ? AND update_type = ? AND is_current = 1`,
		majorVersionID,
		updateType,
	); err != nil {
		return fmt.Errorf("demote prior update: %w", err)
	}
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE game_updates SET is_current = 1 WHERE id = ?`,
		updateID,
	); err != nil {
		return fmt.Errorf("mark update current: %w", err)
	}
	return nil
}

func insertFactionVersion(ctx context.Context, tx *sql.Tx, snapshotID int64, input FactionVersionInput, now time.Time) error {
	attrsJSON, err := marshalAttrs(input.Attrs)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO faction_versions (faction_id, snapshot_id, is_present, attrs_json, created_at)
         VALUES (?, ?, ?, ?, ?)`,
		input.FactionID,
		snapshotID,
		boolToInt(input.IsPresent),
		attrsJSON,
		formatTime(now),
	); err != nil {
		return fmt.Errorf("insert faction version: %w", err)
	}
	return nil
}

func insertUnitVersion(ctx context.Context, tx *sql.Tx, snapshotID int64, input UnitVersionInput, now time.Time) error {
	attrsJSON, err := marshalAttrs(input.Attrs)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(
		ctx,
		`INSERT INTO unit_versions (unit_id, snapshot_id, is_present, base_points_cost, battlefield_role, unit_size, attrs_json, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		input.UnitID,
		snapshotID,
		boolToInt(input.IsPresent),
		attrInt(input.Attrs, "base_points_cost"),
		attrString(input.Attrs, "battlefield_role"),
		attrInt(input.Attrs, "unit_size"),
		attrsJSON,
		formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("insert unit version: %w", err)
	}
	versionID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("unit version id: %w", err)
	}
	for _, opt := range input.WargearOptions {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO unit_wargear_options (unit_version_id, wargear_id, points_cost, is_default, exclusion_group)
             VALUES (?, ?, ?, ?, ?)`,
			versionID,
			opt.WargearID,
			opt.PointsCost,
			boolToInt(opt.IsDefault),
			nullableString(opt.ExclusionGroup),
		); err != nil {
			return fmt.Errorf("insert wargear option: %w", err)
		}
	}
	return nil
}

func applyCanonicalUpdate(ctx context.Context, tx *sql.Tx, input CanonicalUpdateInput) error {
	table, err := canonicalTable(input.EntityType)
	if err != nil {
		return err
	}
	attrsJSON, err := marshalAttrs(input.Attrs)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(
		ctx,
		`UPDATE `+table+` SET name = ?, attrs_json = ?, is_active = ? WHERE id = ?`,
		input.Name,
		attrsJSON,
		boolToInt(input.IsActive),
		input.EntityID,
	)
	if err != nil {
		return fmt.Errorf("update %s %d: %w", input.EntityType, input.EntityID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("canonical update rows affected: %w", err)
	}
	if affected != 1 {
		return fmt.Errorf("update %s %d: row missing", input.EntityType, input.EntityID)
	}
	return nil
}

func nullableStringPtr(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func attrInt(attrs extract.Attrs, key string) any {
	if attrs == nil {
		return nil
	}
	switch v := attrs[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return nil
	}
}

func attrString(attrs extract.Attrs, key string) any {
	if attrs == nil {
		return nil
	}
	if v, ok := attrs[key].(string); ok && v != "" {
		return v
	}
	return nil
}
