package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/luizgaroland/warhammer40kPapaMeta/internal/catalog"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/logging"
)

// ErrPromotionConflict is returned when a concurrent ingestion run promoted
// first. The caller must retry its whole run against the new current
// snapshot; its candidate and change records are discarded.
var ErrPromotionConflict = catalog.ErrPromotionConflict

// Candidate is an open, not-yet-current snapshot together with the state
// observed when it was opened.
type Candidate struct {
	Snapshot       *catalog.Snapshot
	MajorVersionID int64
	// Base is the snapshot that was current when the candidate was opened,
	// nil on first ingestion.
	Base *catalog.Snapshot
	// baseSeq is the promotion counter observed at open time; Promote's
	// optimistic check compares against it.
	baseSeq int64
}

// Mutation carries everything a promotion writes atomically alongside the
// current-flag flip.
type Mutation struct {
	FactionVersions  []catalog.FactionVersionInput
	UnitVersions     []catalog.UnitVersionInput
	CanonicalUpdates []catalog.CanonicalUpdateInput
	Changes          []catalog.ChangeInput
}

// Manager coordinates snapshot lifecycle operations against the store.
type Manager struct {
	store  *catalog.Store
	logger *slog.Logger
}

// NewManager constructs a snapshot manager.
func NewManager(store *catalog.Store, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: logging.WithComponent(logger, "snapshot"),
	}
}

// OpenCandidate creates a new candidate snapshot under the major version,
// recording the promotion counter and current snapshot for the later
// optimistic promote.
func (m *Manager) OpenCandidate(ctx context.Context, majorVersionID int64, updateID *int64) (*Candidate, error) {
	major, err := m.store.MajorVersionByID(ctx, majorVersionID)
	if err != nil {
		return nil, fmt.Errorf("load major version: %w", err)
	}

	base, err := m.store.CurrentSnapshot(ctx, majorVersionID)
	if err != nil && !errors.Is(err, catalog.ErrNoCurrentSnapshot) {
		return nil, fmt.Errorf("load current snapshot: %w", err)
	}

	snap, err := m.store.CreateSnapshot(ctx, majorVersionID, updateID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("open candidate: %w", err)
	}

	m.logger.Debug("candidate snapshot opened",
		logging.Int64(logging.FieldSnapshotID, snap.ID),
		logging.Int64("major_version_id", majorVersionID),
	)

	return &Candidate{
		Snapshot:       snap,
		MajorVersionID: majorVersionID,
		Base:           base,
		baseSeq:        major.PromotionSeq,
	}, nil
}

// Promote atomically marks the candidate current, demotes the prior current
// snapshot and any same-type current update, and commits the mutation's
// version rows and change records. Returns ErrPromotionConflict when another
// run promoted since the candidate was opened; nothing is written in that
// case.
func (m *Manager) Promote(ctx context.Context, cand *Candidate, mutation Mutation) error {
	if cand == nil || cand.Snapshot == nil {
		return errors.New("candidate is nil")
	}
	err := m.store.PromoteSnapshot(ctx, catalog.PromoteParams{
		SnapshotID:       cand.Snapshot.ID,
		MajorVersionID:   cand.MajorVersionID,
		ExpectedSeq:      cand.baseSeq,
		UpdateID:         cand.Snapshot.UpdateID,
		FactionVersions:  mutation.FactionVersions,
		UnitVersions:     mutation.UnitVersions,
		CanonicalUpdates: mutation.CanonicalUpdates,
		Changes:          mutation.Changes,
	})
	if errors.Is(err, catalog.ErrPromotionConflict) {
		m.logger.Warn("promotion conflict; candidate discarded",
			logging.Int64(logging.FieldSnapshotID, cand.Snapshot.ID),
			logging.Int64("major_version_id", cand.MajorVersionID),
		)
		if discardErr := m.store.DiscardCandidate(ctx, cand.Snapshot.ID); discardErr != nil {
			m.logger.Warn("discard conflicted candidate", logging.Error(discardErr))
		}
		return ErrPromotionConflict
	}
	if err != nil {
		return fmt.Errorf("promote snapshot %d: %w", cand.Snapshot.ID, err)
	}

	m.logger.Info("snapshot promoted",
		logging.Int64(logging.FieldSnapshotID, cand.Snapshot.ID),
		logging.Int64("major_version_id", cand.MajorVersionID),
		logging.Int("change_records", len(mutation.Changes)),
	)
	return nil
}

// Discard abandons a candidate that will not be promoted.
func (m *Manager) Discard(ctx context.Context, cand *Candidate) error {
	if cand == nil || cand.Snapshot == nil {
		return nil
	}
	return m.store.DiscardCandidate(ctx, cand.Snapshot.ID)
}

// Current returns the authoritative snapshot for a major version.
func (m *Manager) Current(ctx context.Context, majorVersionID int64) (*catalog.Snapshot, error) {
	return m.store.CurrentSnapshot(ctx, majorVersionID)
}
