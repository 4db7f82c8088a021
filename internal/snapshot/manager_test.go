package snapshot_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luizgaroland/warhammer40kPapaMeta/internal/catalog"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/extract"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/logging"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/snapshot"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/testsupport"
)

func setup(t *testing.T) (*catalog.Store, *snapshot.Manager, int64) {
	t.Helper()
	store := testsupport.MustOpenStore(t)
	manager := snapshot.NewManager(store, logging.NewNop())
	major, err := store.EnsureMajorVersion(context.Background(), "10th", "10th Edition")
	require.NoError(t, err)
	return store, manager, major.ID
}

func TestPromoteMakesCandidateCurrent(t *testing.T) {
	store, manager, majorID := setup(t)
	ctx := context.Background()

	cand, err := manager.OpenCandidate(ctx, majorID, nil)
	require.NoError(t, err)
	assert.Nil(t, cand.Base, "no current snapshot on first ingestion")

	_, err = manager.Current(ctx, majorID)
	assert.ErrorIs(t, err, catalog.ErrNoCurrentSnapshot)

	require.NoError(t, manager.Promote(ctx, cand, snapshot.Mutation{}))

	current, err := manager.Current(ctx, majorID)
	require.NoError(t, err)
	assert.Equal(t, cand.Snapshot.ID, current.ID)

	count, err := store.CurrentSnapshotCount(ctx, majorID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPromoteDemotesPriorCurrent(t *testing.T) {
	store, manager, majorID := setup(t)
	ctx := context.Background()

	first, err := manager.OpenCandidate(ctx, majorID, nil)
	require.NoError(t, err)
	require.NoError(t, manager.Promote(ctx, first, snapshot.Mutation{}))

	second, err := manager.OpenCandidate(ctx, majorID, nil)
	require.NoError(t, err)
	require.NotNil(t, second.Base)
	assert.Equal(t, first.Snapshot.ID, second.Base.ID)

	require.NoError(t, manager.Promote(ctx, second, snapshot.Mutation{}))

	current, err := manager.Current(ctx, majorID)
	require.NoError(t, err)
	assert.Equal(t, second.Snapshot.ID, current.ID)

	demoted, err := store.SnapshotByID(ctx, first.Snapshot.ID)
	require.NoError(t, err)
	assert.False(t, demoted.IsCurrent)
}

func TestConcurrentPromoteLoserIsDiscarded(t *testing.T) {
	store, manager, majorID := setup(t)
	ctx := context.Background()

	a, err := manager.OpenCandidate(ctx, majorID, nil)
	require.NoError(t, err)
	b, err := manager.OpenCandidate(ctx, majorID, nil)
	require.NoError(t, err)

	require.NoError(t, manager.Promote(ctx, a, snapshot.Mutation{}))

	old := "100"
	err = manager.Promote(ctx, b, snapshot.Mutation{
		Changes: []catalog.ChangeInput{{
			EntityType:   extract.EntityUnit,
			EntityID:     1,
			FieldChanged: "base_points_cost",
			OldValue:     &old,
			ChangeType:   catalog.ChangeModified,
		}},
	})
	assert.ErrorIs(t, err, snapshot.ErrPromotionConflict)

	// The losing candidate and its records are gone.
	_, err = store.SnapshotByID(ctx, b.Snapshot.ID)
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	current, err := manager.Current(ctx, majorID)
	require.NoError(t, err)
	assert.Equal(t, a.Snapshot.ID, current.ID)
}

func TestPromoteWritesMutationAtomically(t *testing.T) {
	store, manager, majorID := setup(t)
	ctx := context.Background()

	factionID, err := store.CreateCanonical(ctx, extract.EntityFaction, "Space Marines", nil, "SM")
	require.NoError(t, err)
	unitID, err := store.CreateCanonical(ctx, extract.EntityUnit, "Intercessor Squad", &factionID, "")
	require.NoError(t, err)

	cand, err := manager.OpenCandidate(ctx, majorID, nil)
	require.NoError(t, err)

	newValue := "100"
	require.NoError(t, manager.Promote(ctx, cand, snapshot.Mutation{
		FactionVersions: []catalog.FactionVersionInput{{
			FactionID: factionID,
			IsPresent: true,
			Attrs:     extract.Attrs{"name": "Space Marines"},
		}},
		UnitVersions: []catalog.UnitVersionInput{{
			UnitID:    unitID,
			IsPresent: true,
			Attrs:     extract.Attrs{"name": "Intercessor Squad", "base_points_cost": float64(100)},
		}},
		Changes: []catalog.ChangeInput{{
			EntityType:   extract.EntityUnit,
			EntityID:     unitID,
			FieldChanged: "base_points_cost",
			NewValue:     &newValue,
			ChangeType:   catalog.ChangeAdded,
		}},
	}))

	view, err := store.SnapshotView(ctx, majorID, cand.Snapshot.ID)
	require.NoError(t, err)
	assert.Len(t, view, 2)

	changes, err := store.ChangesForSnapshot(ctx, cand.Snapshot.ID)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, unitID, changes[0].EntityID)

	version, err := store.UnitVersionAt(ctx, unitID, cand.Snapshot.ID)
	require.NoError(t, err)
	require.NotNil(t, version.BasePointsCost)
	assert.Equal(t, int64(100), *version.BasePointsCost)
}

func TestFailedPromotionPreservesPriorSnapshot(t *testing.T) {
	store, manager, majorID := setup(t)
	ctx := context.Background()

	baseline, err := manager.OpenCandidate(ctx, majorID, nil)
	require.NoError(t, err)
	require.NoError(t, manager.Promote(ctx, baseline, snapshot.Mutation{}))

	factionID, err := store.CreateCanonical(ctx, extract.EntityFaction, "Space Marines", nil, "SM")
	require.NoError(t, err)

	cand, err := manager.OpenCandidate(ctx, majorID, nil)
	require.NoError(t, err)

	// The canonical update targets a row that does not exist, so the
	// transaction fails after the faction version row was already written.
	newValue := `"Combat Doctrines"`
	err = manager.Promote(ctx, cand, snapshot.Mutation{
		FactionVersions: []catalog.FactionVersionInput{{
			FactionID: factionID,
			IsPresent: true,
			Attrs:     extract.Attrs{"name": "Space Marines"},
		}},
		CanonicalUpdates: []catalog.CanonicalUpdateInput{{
			EntityType: extract.EntityDetachment,
			EntityID:   9999,
			Name:       "Phantom Detachment",
			Attrs:      extract.Attrs{"rule": "Combat Doctrines"},
			IsActive:   true,
		}},
		Changes: []catalog.ChangeInput{{
			EntityType:   extract.EntityDetachment,
			EntityID:     9999,
			FieldChanged: "rule",
			NewValue:     &newValue,
			ChangeType:   catalog.ChangeAdded,
		}},
	})
	require.Error(t, err)
	require.NotErrorIs(t, err, snapshot.ErrPromotionConflict)

	// The prior snapshot is still current and nothing from the mutation
	// survived the rollback.
	current, err := manager.Current(ctx, majorID)
	require.NoError(t, err)
	assert.Equal(t, baseline.Snapshot.ID, current.ID)

	count, err := store.CurrentSnapshotCount(ctx, majorID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	failedSnap, err := store.SnapshotByID(ctx, cand.Snapshot.ID)
	require.NoError(t, err)
	assert.False(t, failedSnap.IsCurrent)

	changes, err := store.ChangesForSnapshot(ctx, cand.Snapshot.ID)
	require.NoError(t, err)
	assert.Empty(t, changes)

	view, err := store.SnapshotView(ctx, majorID, cand.Snapshot.ID)
	require.NoError(t, err)
	assert.Empty(t, view, "faction version row rolled back")
}

func TestDiscardAbandonsCandidate(t *testing.T) {
	store, manager, majorID := setup(t)
	ctx := context.Background()

	cand, err := manager.OpenCandidate(ctx, majorID, nil)
	require.NoError(t, err)
	require.NoError(t, manager.Discard(ctx, cand))

	_, err = store.SnapshotByID(ctx, cand.Snapshot.ID)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}
