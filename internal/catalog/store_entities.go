package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/luizgaroland/warhammer40kPapaMeta/internal/extract"
)

func canonicalTable(entityType extract.EntityType) (string, error) {
	switch entityType {
	case extract.EntityFaction:
		return "factions", nil
	case extract.EntityDetachment:
		return "detachments", nil
	case extract.EntityEnhancement:
		return "enhancements", nil
	case extract.EntityUnit:
		return "units", nil
	case extract.EntityWargear:
		return "wargear", nil
	default:
		return "", fmt.Errorf("unknown entity type %q", entityType)
	}
}

// ListCanonical returns the identity of every canonical entity of a type,
// for fuzzy-match candidates.
func (s *Store) ListCanonical(ctx context.Context, entityType extract.EntityType) ([]CanonicalRef, error) {
	table, err := canonicalTable(entityType)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT id, name FROM `+table+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", entityType, err)
	}
	defer rows.Close()

	var refs []CanonicalRef
	for rows.Next() {
		var ref CanonicalRef
		if err := rows.Scan(&ref.ID, &ref.Name); err != nil {
			return nil, fmt.Errorf("scan %s: %w", entityType, err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// CreateCanonical inserts a new canonical entity and returns its id.
// parentID is the owning faction for units and detachments and the owning
// detachment for enhancements; code is only meaningful for factions.
func (s *Store) CreateCanonical(ctx context.Context, entityType extract.EntityType, name string, parentID *int64, code string) (int64, error) {
	ctx = ensureContext(ctx)
	now := formatTime(time.Now().UTC())

	var (
		res sql.Result
		err error
	)
	switch entityType {
	case extract.EntityFaction:
		res, err = s.execWithRetry(
			ctx,
			`INSERT INTO factions (name, code, created_at) VALUES (?, ?, ?)`,
			name, nullableString(code), now,
		)
	case extract.EntityUnit:
		res, err = s.execWithRetry(
			ctx,
			`INSERT INTO units (faction_id, name, created_at) VALUES (?, ?, ?)`,
			nullableInt64(parentID), name, now,
		)
	case extract.EntityDetachment:
		res, err = s.execWithRetry(
			ctx,
			`INSERT INTO detachments (faction_id, name, attrs_json, created_at) VALUES (?, ?, '{}', ?)`,
			nullableInt64(parentID), name, now,
		)
	case extract.EntityEnhancement:
		res, err = s.execWithRetry(
			ctx,
			`INSERT INTO enhancements (detachment_id, name, attrs_json, created_at) VALUES (?, ?, '{}', ?)`,
			nullableInt64(parentID), name, now,
		)
	case extract.EntityWargear:
		res, err = s.execWithRetry(
			ctx,
			`INSERT INTO wargear (name, attrs_json, created_at) VALUES (?, '{}', ?)`,
			name, now,
		)
	default:
		return 0, fmt.Errorf("unknown entity type %q", entityType)
	}
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", entityType, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// FactionByCode fetches a faction by its source code.
func (s *Store) FactionByCode(ctx context.Context, code string) (*CanonicalRef, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT id, name FROM factions WHERE code = ?`,
		code,
	)
	var ref CanonicalRef
	err := row.Scan(&ref.ID, &ref.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("faction by code: %w", err)
	}
	return &ref, nil
}

// SnapshotView assembles the attribute set of every entity present at the
// given snapshot. Factions and units come from their copy-on-write version
// tables; detachments, enhancements, and wargear reflect their in-place
// canonical state.
func (s *Store) SnapshotView(ctx context.Context, majorVersionID, snapshotID int64) (map[EntityKey]EntityState, error) {
	ctx = ensureContext(ctx)
	view := make(map[EntityKey]EntityState)

	if err := s.collectVersioned(ctx, view, extract.EntityFaction, majorVersionID, snapshotID); err != nil {
		return nil, err
	}
	if err := s.collectVersioned(ctx, view, extract.EntityUnit, majorVersionID, snapshotID); err != nil {
		return nil, err
	}
	for _, entityType := range []extract.EntityType{extract.EntityDetachment, extract.EntityEnhancement, extract.EntityWargear} {
		if err := s.collectCanonical(ctx, view, entityType); err != nil {
			return nil, err
		}
	}
	return view, nil
}

func (s *Store) collectVersioned(ctx context.Context, view map[EntityKey]EntityState, entityType extract.EntityType, majorVersionID, snapshotID int64) error {
	var query string
	switch entityType {
	case extract.EntityFaction:
		query = `
            SELECT fv.faction_id, f.name, fv.is_present, fv.attrs_json
            FROM faction_versions fv
            JOIN factions f ON f.id = fv.faction_id
            JOIN version_snapshots vs ON vs.id = fv.snapshot_id
            WHERE vs.major_version_id = ?1 AND fv.snapshot_id <= ?2
              AND fv.snapshot_id = (
                  SELECT MAX(fv2.snapshot_id)
                  FROM faction_versions fv2
                  JOIN version_snapshots vs2 ON vs2.id = fv2.snapshot_id
                  WHERE fv2.faction_id = fv.faction_id
                    AND vs2.major_version_id = ?1 AND fv2.snapshot_id <= ?2)`
	case extract.EntityUnit:
		query = `
            SELECT uv.unit_id, u.name, uv.is_present, uv.attrs_json
            FROM unit_versions uv
            JOIN units u ON u.id = uv.unit_id
            JOIN version_snapshots vs ON vs.id = uv.snapshot_id
            WHERE vs.major_version_id = ?1 AND uv.snapshot_id <= ?2
              AND uv.snapshot_id = (
                  SELECT MAX(uv2.snapshot_id)
                  FROM unit_versions uv2
                  JOIN version_snapshots vs2 ON vs2.id = uv2.snapshot_id
                  WHERE uv2.unit_id = uv.unit_id
                    AND vs2.major_version_id = ?1 AND uv2.snapshot_id <= ?2)`
	default:
		return fmt.Errorf("entity type %q has no version table", entityType)
	}

	rows, err := s.db.QueryContext(ctx, query, majorVersionID, snapshotID)
	if err != nil {
		return fmt.Errorf("snapshot view %s: %w", entityType, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id      int64
			name    string
			present int
			raw     string
		)
		if err := rows.Scan(&id, &name, &present, &raw); err != nil {
			return fmt.Errorf("scan %s version: %w", entityType, err)
		}
		if present == 0 {
			continue
		}
		attrs, err := unmarshalAttrs(raw)
		if err != nil {
			return err
		}
		key := EntityKey{Type: entityType, ID: id}
		view[key] = EntityState{Key: key, Name: name, Attrs: attrs}
	}
	return rows.Err()
}

func (s *Store) collectCanonical(ctx context.Context, view map[EntityKey]EntityState, entityType extract.EntityType) error {
	table, err := canonicalTable(entityType)
	if err != nil {
		return err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, attrs_json FROM `+table+` WHERE is_active = 1`)
	if err != nil {
		return fmt.Errorf("snapshot view %s: %w", entityType, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   int64
			name string
			raw  string
		)
		if err := rows.Scan(&id, &name, &raw); err != nil {
			return fmt.Errorf("scan %s: %w", entityType, err)
		}
		attrs, err := unmarshalAttrs(raw)
		if err != nil {
			return err
		}
		key := EntityKey{Type: entityType, ID: id}
		view[key] = EntityState{Key: key, Name: name, Attrs: attrs}
	}
	return rows.Err()
}

// UnitVersionRow is the persisted form of one unit version.
type UnitVersionRow struct {
	ID             int64
	UnitID         int64
	SnapshotID     int64
	IsPresent      bool
	BasePointsCost *int64
	Role           string
	UnitSize       *int64
	Attrs          extract.Attrs
}

// UnitVersionAt returns the effective unit version at the given snapshot,
// following the copy-on-write chain backwards.
func (s *Store) UnitVersionAt(ctx context.Context, unitID, snapshotID int64) (*UnitVersionRow, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT id, unit_id, snapshot_id, is_present, base_points_cost, battlefield_role, unit_size, attrs_json
         FROM unit_versions
         WHERE unit_id = ? AND snapshot_id <= ?
         ORDER BY snapshot_id DESC LIMIT 1`,
		unitID,
		snapshotID,
	)
	var (
		uv      UnitVersionRow
		present int
		cost    sql.NullInt64
		role    sql.NullString
		size    sql.NullInt64
		raw     string
	)
	err := row.Scan(&uv.ID, &uv.UnitID, &uv.SnapshotID, &present, &cost, &role, &size, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("unit version at snapshot: %w", err)
	}
	uv.IsPresent = present != 0
	if cost.Valid {
		uv.BasePointsCost = &cost.Int64
	}
	uv.Role = role.String
	if size.Valid {
		uv.UnitSize = &size.Int64
	}
	if uv.Attrs, err = unmarshalAttrs(raw); err != nil {
		return nil, err
	}
	return &uv, nil
}

// WargearOptionsForUnitVersion lists the wargear associations of one unit version.
func (s *Store) WargearOptionsForUnitVersion(ctx context.Context, unitVersionID int64) ([]UnitWargearOption, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT id, unit_version_id, wargear_id, points_cost, is_default, exclusion_group
         FROM unit_wargear_options WHERE unit_version_id = ? ORDER BY id`,
		unitVersionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list wargear options: %w", err)
	}
	defer rows.Close()

	var options []UnitWargearOption
	for rows.Next() {
		var (
			opt       UnitWargearOption
			isDefault int
			group     sql.NullString
		)
		if err := rows.Scan(&opt.ID, &opt.UnitVersionID, &opt.WargearID, &opt.PointsCost, &isDefault, &group); err != nil {
			return nil, fmt.Errorf("scan wargear option: %w", err)
		}
		opt.IsDefault = isDefault != 0
		opt.ExclusionGroup = group.String
		options = append(options, opt)
	}
	return options, rows.Err()
}
