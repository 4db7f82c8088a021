package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/luizgaroland/warhammer40kPapaMeta/internal/extract"
)

const scrapeStateColumns = "id, entity_type, entity_id, last_scraped_at, content_hash, status, consecutive_misses, is_active, metadata_json"

// ScrapeStateFor fetches the ingestion cursor for one entity.
func (s *Store) ScrapeStateFor(ctx context.Context, entityType extract.EntityType, entityID int64) (*ScrapeState, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT `+scrapeStateColumns+` FROM scrape_states WHERE entity_type = ? AND entity_id = ?`,
		string(entityType),
		entityID,
	)
	return scanScrapeState(row)
}

// RecordScrapeSuccess upserts the cursor after a successful scrape: stores
// the content hash, stamps the scrape time, and resets the miss counter.
func (s *Store) RecordScrapeSuccess(ctx context.Context, entityType extract.EntityType, entityID int64, contentHash string, status ScrapeStatus) error {
	now := formatTime(time.Now().UTC())
	if _, err := s.execWithRetry(
		ensureContext(ctx),
		`INSERT INTO scrape_states (entity_type, entity_id, last_scraped_at, content_hash, status, consecutive_misses, is_active)
         VALUES (?, ?, ?, ?, ?, 0, 1)
         ON CONFLICT(entity_type, entity_id) DO UPDATE SET
             last_scraped_at = excluded.last_scraped_at,
             content_hash = excluded.content_hash,
             status = excluded.status,
             consecutive_misses = 0,
             is_active = 1`,
		string(entityType),
		entityID,
		now,
		contentHash,
		string(status),
	); err != nil {
		return fmt.Errorf("record scrape success: %w", err)
	}
	return nil
}

// RecordScrapeMiss increments the consecutive-miss counter for an entity
// that was absent from a run and returns the updated count.
func (s *Store) RecordScrapeMiss(ctx context.Context, entityType extract.EntityType, entityID int64) (int, error) {
	ctx = ensureContext(ctx)
	if _, err := s.execWithRetry(
		ctx,
		`UPDATE scrape_states SET consecutive_misses = consecutive_misses + 1
         WHERE entity_type = ? AND entity_id = ?`,
		string(entityType),
		entityID,
	); err != nil {
		return 0, fmt.Errorf("record scrape miss: %w", err)
	}
	state, err := s.ScrapeStateFor(ctx, entityType, entityID)
	if err != nil {
		return 0, err
	}
	return state.ConsecutiveMisses, nil
}

// DeactivateEntity flips the cursor inactive once the grace threshold is
// exhausted.
func (s *Store) DeactivateEntity(ctx context.Context, entityType extract.EntityType, entityID int64) error {
	if _, err := s.execWithRetry(
		ensureContext(ctx),
		`UPDATE scrape_states SET is_active = 0 WHERE entity_type = ? AND entity_id = ?`,
		string(entityType),
		entityID,
	); err != nil {
		return fmt.Errorf("deactivate entity: %w", err)
	}
	return nil
}

func scanScrapeState(row *sql.Row) (*ScrapeState, error) {
	var (
		st          ScrapeState
		scrapedRaw  sql.NullString
		active      int
		metadataRaw string
	)
	err := row.Scan(
		&st.ID,
		(*string)(&st.EntityType),
		&st.EntityID,
		&scrapedRaw,
		&st.ContentHash,
		(*string)(&st.Status),
		&st.ConsecutiveMisses,
		&active,
		&metadataRaw,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan scrape state: %w", err)
	}
	st.IsActive = active != 0
	if st.LastScrapedAt, err = parseNullTime(scrapedRaw); err != nil {
		return nil, err
	}
	if st.Metadata, err = unmarshalAttrs(metadataRaw); err != nil {
		return nil, err
	}
	return &st, nil
}

// BeginScrapeRun records the start of one ingestion attempt.
func (s *Store) BeginScrapeRun(ctx context.Context, source, scrapeType string) (*ScrapeRun, error) {
	ctx = ensureContext(ctx)
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO scrape_runs (source, scrape_type, status, started_at) VALUES (?, ?, ?, ?)`,
		source,
		scrapeType,
		string(RunRunning),
		formatTime(time.Now().UTC()),
	)
	if err != nil {
		return nil, fmt.Errorf("insert scrape run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.ScrapeRunByID(ctx, id)
}

// FinishScrapeRun closes an ingestion attempt with its outcome.
func (s *Store) FinishScrapeRun(ctx context.Context, id int64, status RunStatus, processed, failed int, errorMessage string, snapshotID *int64) error {
	if _, err := s.execWithRetry(
		ensureContext(ctx),
		`UPDATE scrape_runs
         SET status = ?, finished_at = ?, items_processed = ?, items_failed = ?, error_message = ?, snapshot_id = ?
         WHERE id = ?`,
		string(status),
		formatTime(time.Now().UTC()),
		processed,
		failed,
		nullableString(errorMessage),
		nullableInt64(snapshotID),
		id,
	); err != nil {
		return fmt.Errorf("finish scrape run: %w", err)
	}
	return nil
}

const scrapeRunColumns = "id, source, scrape_type, status, started_at, finished_at, items_processed, items_failed, error_message, snapshot_id"

// ScrapeRunByID fetches one ingestion attempt.
func (s *Store) ScrapeRunByID(ctx context.Context, id int64) (*ScrapeRun, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT `+scrapeRunColumns+` FROM scrape_runs WHERE id = ?`,
		id,
	)
	return scanScrapeRun(row)
}

// RecentScrapeRuns lists the latest ingestion attempts, newest first.
func (s *Store) RecentScrapeRuns(ctx context.Context, limit int) ([]ScrapeRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT `+scrapeRunColumns+` FROM scrape_runs ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list scrape runs: %w", err)
	}
	defer rows.Close()

	var runs []ScrapeRun
	for rows.Next() {
		run, err := scanScrapeRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func scanScrapeRun(scanner interface{ Scan(dest ...any) error }) (*ScrapeRun, error) {
	var (
		run         ScrapeRun
		startedRaw  string
		finishedRaw sql.NullString
		errorMsg    sql.NullString
		snapshotID  sql.NullInt64
	)
	err := scanner.Scan(
		&run.ID,
		&run.Source,
		&run.ScrapeType,
		(*string)(&run.Status),
		&startedRaw,
		&finishedRaw,
		&run.ItemsProcessed,
		&run.ItemsFailed,
		&errorMsg,
		&snapshotID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan scrape run: %w", err)
	}
	if run.StartedAt, err = parseTime(startedRaw); err != nil {
		return nil, err
	}
	if run.FinishedAt, err = parseNullTime(finishedRaw); err != nil {
		return nil, err
	}
	run.ErrorMessage = errorMsg.String
	if snapshotID.Valid {
		run.SnapshotID = &snapshotID.Int64
	}
	return &run, nil
}
