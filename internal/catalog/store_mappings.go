package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/luizgaroland/warhammer40kPapaMeta/internal/extract"
)

const mappingColumns = "id, source, source_identifier, entity_type, entity_id, confidence, verified, metadata_json, created_at, updated_at"

// Mapping fetches the source mapping for an external identifier.
func (s *Store) Mapping(ctx context.Context, source, sourceIdentifier string, entityType extract.EntityType) (*SourceMapping, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT `+mappingColumns+` FROM source_mappings
         WHERE source = ? AND source_identifier = ? AND entity_type = ?`,
		source,
		sourceIdentifier,
		string(entityType),
	)
	return scanMapping(row)
}

// CreateMapping inserts a new source mapping. A unique violation surfaces
// unchanged so callers can treat the race as "already created".
func (s *Store) CreateMapping(ctx context.Context, mapping *SourceMapping) (*SourceMapping, error) {
	if mapping == nil {
		return nil, errors.New("mapping is nil")
	}
	if mapping.Confidence < 0 || mapping.Confidence > 1 {
		return nil, fmt.Errorf("mapping confidence %f out of range", mapping.Confidence)
	}
	ctx = ensureContext(ctx)
	metadataJSON, err := marshalAttrs(mapping.Metadata)
	if err != nil {
		return nil, err
	}
	now := formatTime(time.Now().UTC())
	_, err = s.execWithRetry(
		ctx,
		`INSERT INTO source_mappings (source, source_identifier, entity_type, entity_id, confidence, verified, metadata_json, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		mapping.Source,
		mapping.SourceIdentifier,
		string(mapping.EntityType),
		mapping.EntityID,
		mapping.Confidence,
		boolToInt(mapping.Verified),
		metadataJSON,
		now,
		now,
	)
	if err != nil {
		return nil, err
	}
	return s.Mapping(ctx, mapping.Source, mapping.SourceIdentifier, mapping.EntityType)
}

// TouchMapping refreshes a mapping's metadata and updated_at after a re-scrape.
func (s *Store) TouchMapping(ctx context.Context, id int64, metadata extract.Attrs) error {
	metadataJSON, err := marshalAttrs(metadata)
	if err != nil {
		return err
	}
	if _, err := s.execWithRetry(
		ensureContext(ctx),
		`UPDATE source_mappings SET metadata_json = ?, updated_at = ? WHERE id = ?`,
		metadataJSON,
		formatTime(time.Now().UTC()),
		id,
	); err != nil {
		return fmt.Errorf("touch mapping: %w", err)
	}
	return nil
}

// VerifyMapping marks a mapping as manually verified.
func (s *Store) VerifyMapping(ctx context.Context, id int64) error {
	res, err := s.execWithRetry(
		ensureContext(ctx),
		`UPDATE source_mappings SET verified = 1, updated_at = ? WHERE id = ?`,
		formatTime(time.Now().UTC()),
		id,
	)
	if err != nil {
		return fmt.Errorf("verify mapping: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify mapping rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// UnverifiedMappings lists mappings awaiting manual review, lowest
// confidence first.
func (s *Store) UnverifiedMappings(ctx context.Context) ([]SourceMapping, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT `+mappingColumns+` FROM source_mappings WHERE verified = 0 ORDER BY confidence, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list unverified mappings: %w", err)
	}
	defer rows.Close()

	var mappings []SourceMapping
	for rows.Next() {
		mapping, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, *mapping)
	}
	return mappings, rows.Err()
}

func scanMapping(scanner interface{ Scan(dest ...any) error }) (*SourceMapping, error) {
	var (
		m           SourceMapping
		verified    int
		metadataRaw string
		createdRaw  string
		updatedRaw  string
	)
	err := scanner.Scan(
		&m.ID,
		&m.Source,
		&m.SourceIdentifier,
		(*string)(&m.EntityType),
		&m.EntityID,
		&m.Confidence,
		&verified,
		&metadataRaw,
		&createdRaw,
		&updatedRaw,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan mapping: %w", err)
	}
	m.Verified = verified != 0
	if m.Metadata, err = unmarshalAttrs(metadataRaw); err != nil {
		return nil, err
	}
	if m.CreatedAt, err = parseTime(createdRaw); err != nil {
		return nil, err
	}
	if m.UpdatedAt, err = parseTime(updatedRaw); err != nil {
		return nil, err
	}
	return &m, nil
}
