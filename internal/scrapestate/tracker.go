package scrapestate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/luizgaroland/warhammer40kPapaMeta/internal/catalog"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/extract"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/logging"
)

// Store is the persistence surface the tracker needs.
type Store interface {
	ScrapeStateFor(ctx context.Context, entityType extract.EntityType, entityID int64) (*catalog.ScrapeState, error)
	RecordScrapeSuccess(ctx context.Context, entityType extract.EntityType, entityID int64, contentHash string, status catalog.ScrapeStatus) error
	RecordScrapeMiss(ctx context.Context, entityType extract.EntityType, entityID int64) (int, error)
	DeactivateEntity(ctx context.Context, entityType extract.EntityType, entityID int64) error
}

// Disposition is the tracker's verdict on an entity missing from a run.
type Disposition string

const (
	// DispositionCarry keeps the entity in the candidate unchanged while it
	// is still within the grace window.
	DispositionCarry Disposition = "carry_forward"
	// DispositionDeactivate excludes the entity from the candidate so the
	// promotion records its removal.
	DispositionDeactivate Disposition = "deactivate"
)

// Tracker applies the grace-threshold policy over the persisted cursors.
type Tracker struct {
	store  Store
	grace  int
	logger *slog.Logger
}

// NewTracker constructs a tracker. grace is the number of consecutive
// missed runs an entity survives before deactivation.
func NewTracker(store Store, grace int, logger *slog.Logger) *Tracker {
	if grace < 1 {
		grace = 1
	}
	return &Tracker{
		store:  store,
		grace:  grace,
		logger: logging.WithComponent(logger, "scrapestate"),
	}
}

// Unchanged reports whether the entity's stored content hash matches the
// freshly scraped one, meaning the scrape can be skipped without touching
// version history. A missing or inactive cursor never matches.
func (t *Tracker) Unchanged(ctx context.Context, entityType extract.EntityType, entityID int64, contentHash string) (bool, error) {
	state, err := t.store.ScrapeStateFor(ctx, entityType, entityID)
	if errors.Is(err, catalog.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load scrape state: %w", err)
	}
	if !state.IsActive {
		return false, nil
	}
	return state.ContentHash != "" && state.ContentHash == contentHash, nil
}

// MarkSeen records a successful scrape: the hash is stored and the miss
// counter resets, reactivating the entity if it had lapsed.
func (t *Tracker) MarkSeen(ctx context.Context, entityType extract.EntityType, entityID int64, contentHash string) error {
	return t.store.RecordScrapeSuccess(ctx, entityType, entityID, contentHash, catalog.ScrapeSuccess)
}

// MarkMissing records that an entity previously seen was absent from this
// run and decides its fate. Within the grace window the entity is carried
// forward; once misses reach the threshold it is deactivated.
func (t *Tracker) MarkMissing(ctx context.Context, entityType extract.EntityType, entityID int64) (Disposition, error) {
	misses, err := t.store.RecordScrapeMiss(ctx, entityType, entityID)
	if err != nil {
		return "", fmt.Errorf("record miss: %w", err)
	}
	if misses < t.grace {
		t.logger.Info("entity missing within grace window",
			logging.String(logging.FieldEntityType, string(entityType)),
			logging.Int64("entity_id", entityID),
			logging.Int("consecutive_misses", misses),
			logging.Int("grace_threshold", t.grace),
		)
		return DispositionCarry, nil
	}
	if err := t.store.DeactivateEntity(ctx, entityType, entityID); err != nil {
		return "", fmt.Errorf("deactivate entity: %w", err)
	}
	t.logger.Warn("entity deactivated after grace exhausted",
		logging.String(logging.FieldEntityType, string(entityType)),
		logging.Int64("entity_id", entityID),
		logging.Int("consecutive_misses", misses),
		logging.String(logging.FieldEventType, "entity_deactivated"),
	)
	return DispositionDeactivate, nil
}

// Active reports whether the entity's cursor is still active. Entities with
// no cursor yet are considered active.
func (t *Tracker) Active(ctx context.Context, entityType extract.EntityType, entityID int64) (bool, error) {
	state, err := t.store.ScrapeStateFor(ctx, entityType, entityID)
	if errors.Is(err, catalog.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("load scrape state: %w", err)
	}
	return state.IsActive, nil
}
