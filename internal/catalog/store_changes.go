package catalog

import (
	"context"
	"database/sql"
	"fmt"
)

// ChangesForSnapshot lists every change record committed with a promotion.
func (s *Store) ChangesForSnapshot(ctx context.Context, snapshotID int64) ([]ChangeRecord, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT id, snapshot_id, entity_type, entity_id, field_changed, old_value, new_value, change_type, created_at
         FROM change_records WHERE snapshot_id = ? ORDER BY id`,
		snapshotID,
	)
	if err != nil {
		return nil, fmt.Errorf("list change records: %w", err)
	}
	defer rows.Close()

	var records []ChangeRecord
	for rows.Next() {
		var (
			rec        ChangeRecord
			oldValue   sql.NullString
			newValue   sql.NullString
			createdRaw string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.SnapshotID,
			(*string)(&rec.EntityType),
			&rec.EntityID,
			&rec.FieldChanged,
			&oldValue,
			&newValue,
			(*string)(&rec.ChangeType),
			&createdRaw,
		); err != nil {
			return nil, fmt.Errorf("scan change record: %w", err)
		}
		if oldValue.Valid {
			rec.OldValue = &oldValue.String
		}
		if newValue.Valid {
			rec.NewValue = &newValue.String
		}
		if rec.CreatedAt, err = parseTime(createdRaw); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ChangeCount counts the change records attached to a snapshot.
func (s *Store) ChangeCount(ctx context.Context, snapshotID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT COUNT(1) FROM change_records WHERE snapshot_id = ?`,
		snapshotID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count change records: %w", err)
	}
	return count, nil
}
