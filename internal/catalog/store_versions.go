package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// EnsureMajorVersion returns the major version with the given number,
// creating it when absent.
func (s *Store) EnsureMajorVersion(ctx context.Context, versionNumber, name string) (*MajorVersion, error) {
	ctx = ensureContext(ctx)
	existing, err := s.MajorVersionByNumber(ctx, versionNumber)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = s.execWithRetry(
		ctx,
		`INSERT INTO major_versions (version_number, name, release_date, created_at)
         VALUES (?, ?, ?, ?)`,
		versionNumber,
		name,
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		// Lost a creation race; the row exists now.
		if IsUniqueViolation(err) {
			return s.MajorVersionByNumber(ctx, versionNumber)
		}
		return nil, fmt.Errorf("insert major version: %w", err)
	}
	return s.MajorVersionByNumber(ctx, versionNumber)
}

// MajorVersionByNumber fetches a major version by its version number.
func (s *Store) MajorVersionByNumber(ctx context.Context, versionNumber string) (*MajorVersion, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT id, version_number, name, release_date, promotion_seq, created_at
         FROM major_versions WHERE version_number = ?`,
		versionNumber,
	)
	return scanMajorVersion(row)
}

// MajorVersionByID fetches a major version by identifier.
func (s *Store) MajorVersionByID(ctx context.Context, id int64) (*MajorVersion, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT id, version_number, name, release_date, promotion_seq, created_at
         FROM major_versions WHERE id = ?`,
		id,
	)
	return scanMajorVersion(row)
}

func scanMajorVersion(row *sql.Row) (*MajorVersion, error) {
	var (
		mv         MajorVersion
		releaseRaw string
		createdRaw string
	)
	err := row.Scan(&mv.ID, &mv.VersionNumber, &mv.Name, &releaseRaw, &mv.PromotionSeq, &createdRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan major version: %w", err)
	}
	if mv.ReleaseDate, err = parseTime(releaseRaw); err != nil {
		return nil, err
	}
	if mv.CreatedAt, err = parseTime(createdRaw); err != nil {
		return nil, err
	}
	return &mv, nil
}

// CreateUpdate records a new publisher revision under a major version.
func (s *Store) CreateUpdate(ctx context.Context, update *GameUpdate) (*GameUpdate, error) {
	if update == nil {
		return nil, errors.New("update is nil")
	}
	ctx = ensureContext(ctx)
	releasedAt := update.ReleasedAt
	if releasedAt.IsZero() {
		releasedAt = time.Now().UTC()
	}
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO game_updates (major_version_id, update_type, version_code, name, released_at, is_current)
         VALUES (?, ?, ?, ?, ?, 0)`,
		update.MajorVersionID,
		string(update.UpdateType),
		update.VersionCode,
		update.Name,
		formatTime(releasedAt),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return s.UpdateByCode(ctx, update.MajorVersionID, update.VersionCode)
		}
		return nil, fmt.Errorf("insert game update: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.updateByID(ctx, id)
}

// UpdateByCode fetches an update by its version code under a major version.
func (s *Store) UpdateByCode(ctx context.Context, majorVersionID int64, versionCode string) (*GameUpdate, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT id, major_version_id, update_type, version_code, name, released_at, is_current
         FROM game_updates WHERE major_version_id = ? AND version_code = ?`,
		majorVersionID,
		versionCode,
	)
	return scanGameUpdate(row)
}

func (s *Store) updateByID(ctx context.Context, id int64) (*GameUpdate, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, major_version_id, update_type, version_code, name, released_at, is_current
         FROM game_updates WHERE id = ?`,
		id,
	)
	return scanGameUpdate(row)
}

// CurrentUpdate returns the current update of the given type, if any.
func (s *Store) CurrentUpdate(ctx context.Context, majorVersionID int64, updateType UpdateType) (*GameUpdate, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT id, major_version_id, update_type, version_code, name, released_at, is_current
         FROM game_updates WHERE major_version_id = ? AND update_type = ? AND is_current = 1`,
		majorVersionID,
		string(updateType),
	)
	return scanGameUpdate(row)
}

func scanGameUpdate(row *sql.Row) (*GameUpdate, error) {
	var (
		gu          GameUpdate
		releasedRaw string
		current     int
	)
	err := row.Scan(&gu.ID, &gu.MajorVersionID, (*string)(&gu.UpdateType), &gu.VersionCode, &gu.Name, &releasedRaw, &current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan game update: %w", err)
	}
	if gu.ReleasedAt, err = parseTime(releasedRaw); err != nil {
		return nil, err
	}
	gu.IsCurrent = current != 0
	return &gu, nil
}

// CreateSnapshot opens a candidate snapshot. Candidates are not current
// until promoted.
func (s *Store) CreateSnapshot(ctx context.Context, majorVersionID int64, updateID *int64, effectiveDate time.Time) (*Snapshot, error) {
	ctx = ensureContext(ctx)
	if effectiveDate.IsZero() {
		effectiveDate = time.Now().UTC()
	}
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO version_snapshots (major_version_id, update_id, effective_date, is_current, created_at)
         VALUES (?, ?, ?, 0, ?)`,
		majorVersionID,
		nullableInt64(updateID),
		formatTime(effectiveDate),
		formatTime(time.Now().UTC()),
	)
	if err != nil {
		return nil, fmt.Errorf("insert snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.SnapshotByID(ctx, id)
}

const snapshotColumns = "id, major_version_id, update_id, effective_date, is_current, promoted_at, created_at"

// SnapshotByID fetches a snapshot by identifier.
func (s *Store) SnapshotByID(ctx context.Context, id int64) (*Snapshot, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT `+snapshotColumns+` FROM version_snapshots WHERE id = ?`,
		id,
	)
	return scanSnapshot(row)
}

// CurrentSnapshot returns the single current snapshot for a major version.
func (s *Store) CurrentSnapshot(ctx context.Context, majorVersionID int64) (*Snapshot, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT `+snapshotColumns+` FROM version_snapshots
         WHERE major_version_id = ? AND is_current = 1`,
		majorVersionID,
	)
	snapshot, err := scanSnapshot(row)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoCurrentSnapshot
	}
	return snapshot, err
}

// CurrentSnapshotCount counts current snapshots for a major version. The
// single-current invariant means the result is always 0 or 1.
func (s *Store) CurrentSnapshotCount(ctx context.Context, majorVersionID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT COUNT(1) FROM version_snapshots WHERE major_version_id = ? AND is_current = 1`,
		majorVersionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count current snapshots: %w", err)
	}
	return count, nil
}

// DiscardCandidate deletes an unpromoted snapshot and any version rows tied
// to it. Promoted snapshots are never deleted.
func (s *Store) DiscardCandidate(ctx context.Context, snapshotID int64) error {
	ctx = ensureContext(ctx)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin discard tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT is_current FROM version_snapshots WHERE id = ?`, snapshotID).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("load candidate: %w", err)
	}
	if current != 0 {
		return fmt.Errorf("discard candidate %d: snapshot is current", snapshotID)
	}

	statements := []string{
		`DELETE FROM unit_wargear_options WHERE unit_version_id IN (SELECT id FROM unit_versions WHERE snapshot_id = ?)`,
		`DELETE FROM unit_versions WHERE snapshot_id = ?`,
		`DELETE FROM faction_versions WHERE snapshot_id = ?`,
		`DELETE FROM change_records WHERE snapshot_id = ?`,
		`DELETE FROM version_snapshots WHERE id = ?`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt, snapshotID); err != nil {
			return fmt.Errorf("discard candidate: %w", err)
		}
	}
	return tx.Commit()
}

func scanSnapshot(row *sql.Row) (*Snapshot, error) {
	var (
		snap        Snapshot
		updateID    sql.NullInt64
		effective   string
		current     int
		promotedRaw sql.NullString
		createdRaw  string
	)
	err := row.Scan(&snap.ID, &snap.MajorVersionID, &updateID, &effective, &current, &promotedRaw, &createdRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}
	if updateID.Valid {
		snap.UpdateID = &updateID.Int64
	}
	snap.IsCurrent = current != 0
	if snap.EffectiveDate, err = parseTime(effective); err != nil {
		return nil, err
	}
	if snap.PromotedAt, err = parseNullTime(promotedRaw); err != nil {
		return nil, err
	}
	if snap.CreatedAt, err = parseTime(createdRaw); err != nil {
		return nil, err
	}
	return &snap, nil
}
