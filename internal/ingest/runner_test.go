package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luizgaroland/warhammer40kPapaMeta/internal/catalog"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/extract"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/logging"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/publish"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/snapshot"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/testsupport"
)

type stubTransport struct{}

func (stubTransport) Publish(_ context.Context, _, messageUUID, _ string) (string, error) {
	return "stream-" + messageUUID, nil
}

func (stubTransport) Confirmed(context.Context, string) (bool, error) { return false, nil }

func (stubTransport) Close() error { return nil }

func basePayload() extract.Payload {
	return extract.Payload{
		Records: []extract.Record{
			{
				EntityType: extract.EntityFaction,
				SourceID:   "SM",
				Name:       "Space Marines",
				Attrs:      extract.Attrs{"allegiance": "Imperium"},
			},
			{
				EntityType:  extract.EntityUnit,
				SourceID:    "intercessor-squad",
				Name:        "Intercessor Squad",
				FactionCode: "SM",
				Attrs: extract.Attrs{
					"base_points_cost": float64(100),
					"battlefield_role": "Battleline",
					"unit_size":        float64(5),
				},
			},
			{
				EntityType:  extract.EntityDetachment,
				SourceID:    "gladius",
				Name:        "Gladius Task Force",
				FactionCode: "SM",
				Attrs:       extract.Attrs{"rule": "Combat Doctrines"},
			},
		},
	}
}

func newTestRunner(t *testing.T, store *catalog.Store, payload extract.Payload, withBridge bool) *Runner {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	extractor := &extract.StaticExtractor{Payload: payload}
	var bridge *publish.Bridge
	if withBridge {
		policy := publish.RetryPolicy{Initial: time.Millisecond, Max: time.Millisecond, Multiplier: 2}
		bridge = publish.NewBridge(store, stubTransport{}, policy, 3, logging.NewNop())
	}
	return NewRunner(cfg, store, extractor, bridge, logging.NewNop())
}

func TestRunFirstIngestPromotesInitialSnapshot(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	runner := newTestRunner(t, store, basePayload(), true)
	ctx := context.Background()

	result, err := runner.Run(ctx, extract.Scope{})
	require.NoError(t, err)
	assert.True(t, result.Promoted)
	require.NotNil(t, result.SnapshotID)
	assert.Equal(t, 3, result.Processed)
	assert.Zero(t, result.Failed)
	assert.Positive(t, result.Changes)

	major, err := store.MajorVersionByNumber(ctx, "10th")
	require.NoError(t, err)
	current, err := store.CurrentSnapshot(ctx, major.ID)
	require.NoError(t, err)
	assert.Equal(t, *result.SnapshotID, current.ID)

	view, err := store.SnapshotView(ctx, major.ID, current.ID)
	require.NoError(t, err)
	assert.Len(t, view, 3)

	changes, err := store.ChangesForSnapshot(ctx, current.ID)
	require.NoError(t, err)
	require.NotEmpty(t, changes)
	for _, change := range changes {
		assert.Equal(t, catalog.ChangeAdded, change.ChangeType)
	}

	run, err := store.ScrapeRunByID(ctx, result.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.RunSuccess, run.Status)
	require.NotNil(t, run.SnapshotID)

	pending, err := store.MessagesByStatus(ctx, catalog.MessagePending)
	require.NoError(t, err)
	// One message per changed entity, the snapshot status event, and the
	// run started/completed pair.
	assert.Len(t, pending, 6)
}

func TestRunIdenticalPayloadIsIdempotent(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	runner := newTestRunner(t, store, basePayload(), false)
	ctx := context.Background()

	first, err := runner.Run(ctx, extract.Scope{})
	require.NoError(t, err)
	require.True(t, first.Promoted)

	second, err := runner.Run(ctx, extract.Scope{})
	require.NoError(t, err)
	assert.False(t, second.Promoted)
	assert.Zero(t, second.Changes)
	assert.Nil(t, second.SnapshotID)

	major, err := store.MajorVersionByNumber(ctx, "10th")
	require.NoError(t, err)
	current, err := store.CurrentSnapshot(ctx, major.ID)
	require.NoError(t, err)
	assert.Equal(t, *first.SnapshotID, current.ID, "current snapshot unchanged")

	count, err := store.CurrentSnapshotCount(ctx, major.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	run, err := store.ScrapeRunByID(ctx, second.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.RunSuccess, run.Status)
}

func TestRunPointsChangeCreatesNewUnitVersion(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	ctx := context.Background()

	first, err := newTestRunner(t, store, basePayload(), false).Run(ctx, extract.Scope{})
	require.NoError(t, err)
	require.True(t, first.Promoted)

	updated := basePayload()
	for i := range updated.Records {
		if updated.Records[i].SourceID == "intercessor-squad" {
			updated.Records[i].Attrs["base_points_cost"] = float64(90)
		}
	}

	second, err := newTestRunner(t, store, updated, false).Run(ctx, extract.Scope{})
	require.NoError(t, err)
	require.True(t, second.Promoted)
	assert.Equal(t, 1, second.Changes)

	changes, err := store.ChangesForSnapshot(ctx, *second.SnapshotID)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	change := changes[0]
	assert.Equal(t, catalog.ChangeModified, change.ChangeType)
	assert.Equal(t, extract.EntityUnit, change.EntityType)
	assert.Equal(t, "base_points_cost", change.FieldChanged)
	require.NotNil(t, change.OldValue)
	require.NotNil(t, change.NewValue)
	assert.Equal(t, "100", *change.OldValue)
	assert.Equal(t, "90", *change.NewValue)

	// The copy-on-write chain keeps both versions addressable.
	newVersion, err := store.UnitVersionAt(ctx, change.EntityID, *second.SnapshotID)
	require.NoError(t, err)
	require.NotNil(t, newVersion.BasePointsCost)
	assert.Equal(t, int64(90), *newVersion.BasePointsCost)

	oldVersion, err := store.UnitVersionAt(ctx, change.EntityID, *first.SnapshotID)
	require.NoError(t, err)
	require.NotNil(t, oldVersion.BasePointsCost)
	assert.Equal(t, int64(100), *oldVersion.BasePointsCost)
}

func TestRunGraceThresholdRemovesEntity(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	ctx := context.Background()

	first, err := newTestRunner(t, store, basePayload(), false).Run(ctx, extract.Scope{})
	require.NoError(t, err)
	require.True(t, first.Promoted)

	withoutUnit := extract.Payload{}
	for _, rec := range basePayload().Records {
		if rec.SourceID == "intercessor-squad" {
			continue
		}
		withoutUnit.Records = append(withoutUnit.Records, rec)
	}

	// Grace threshold is 3: the first two misses carry the unit forward.
	for i := 0; i < 2; i++ {
		result, err := newTestRunner(t, store, withoutUnit, false).Run(ctx, extract.Scope{})
		require.NoError(t, err)
		assert.False(t, result.Promoted, "miss %d within grace", i+1)
		assert.Zero(t, result.Changes)
	}

	third, err := newTestRunner(t, store, withoutUnit, false).Run(ctx, extract.Scope{})
	require.NoError(t, err)
	require.True(t, third.Promoted, "third miss exhausts grace")

	changes, err := store.ChangesForSnapshot(ctx, *third.SnapshotID)
	require.NoError(t, err)
	require.NotEmpty(t, changes)
	for _, change := range changes {
		assert.Equal(t, catalog.ChangeRemoved, change.ChangeType)
		assert.Equal(t, extract.EntityUnit, change.EntityType)
	}

	major, err := store.MajorVersionByNumber(ctx, "10th")
	require.NoError(t, err)
	view, err := store.SnapshotView(ctx, major.ID, *third.SnapshotID)
	require.NoError(t, err)
	assert.Len(t, view, 2, "unit gone from current view")

	// Time travel: the first snapshot still contains the unit.
	oldView, err := store.SnapshotView(ctx, major.ID, *first.SnapshotID)
	require.NoError(t, err)
	assert.Len(t, oldView, 3)
}

func TestRunScopedCrawlNeverCountsMisses(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	ctx := context.Background()

	_, err := newTestRunner(t, store, basePayload(), false).Run(ctx, extract.Scope{})
	require.NoError(t, err)

	onlyFaction := extract.Payload{Records: basePayload().Records[:1]}
	for i := 0; i < 5; i++ {
		result, err := newTestRunner(t, store, onlyFaction, false).Run(ctx, extract.Scope{FactionCode: "SM"})
		require.NoError(t, err)
		assert.False(t, result.Promoted)
	}

	major, err := store.MajorVersionByNumber(ctx, "10th")
	require.NoError(t, err)
	current, err := store.CurrentSnapshot(ctx, major.ID)
	require.NoError(t, err)
	view, err := store.SnapshotView(ctx, major.ID, current.ID)
	require.NoError(t, err)
	assert.Len(t, view, 3, "absent entities untouched by scoped runs")
}

func TestRunExtractionFailuresMarkRunPartial(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	payload := basePayload()
	payload.Failures = append(payload.Failures, extract.Failure{
		EntityType: extract.EntityUnit,
		SourceID:   "broken-unit",
		Err:        errors.New("parse error"),
	})
	runner := newTestRunner(t, store, payload, false)
	ctx := context.Background()

	result, err := runner.Run(ctx, extract.Scope{})
	require.NoError(t, err)
	assert.True(t, result.Promoted)
	assert.Equal(t, 1, result.Failed)

	run, err := store.ScrapeRunByID(ctx, result.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.RunPartial, run.Status)
}

func TestConflictedPromotionDoesNotRecordFreshHashes(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	ctx := context.Background()

	first, err := newTestRunner(t, store, basePayload(), false).Run(ctx, extract.Scope{})
	require.NoError(t, err)
	require.True(t, first.Promoted)

	updated := basePayload()
	for i := range updated.Records {
		if updated.Records[i].SourceID == "intercessor-squad" {
			updated.Records[i].Attrs["base_points_cost"] = float64(90)
		}
	}
	runner := newTestRunner(t, store, updated, false)
	logger := logging.NewNop()

	// Drive the pipeline by hand up to the promotion gate so another run
	// can win the race in between.
	major, err := store.EnsureMajorVersion(ctx, "10th", "10th Edition")
	require.NoError(t, err)
	payload, err := runner.extractor.Extract(ctx, extract.Scope{})
	require.NoError(t, err)
	records, invalid := runner.validateRecords(logger, payload)
	require.Zero(t, invalid)

	cand, err := runner.snapshots.OpenCandidate(ctx, major.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, cand.Base)
	prior, err := store.SnapshotView(ctx, major.ID, cand.Base.ID)
	require.NoError(t, err)

	resolved, _, resolveFailures := runner.resolveAll(ctx, logger, records)
	require.Zero(t, resolveFailures)
	_, marks, err := runner.buildCandidate(ctx, logger, prior, resolved, extract.Scope{})
	require.NoError(t, err)
	require.NotEmpty(t, marks)

	interloper, err := runner.snapshots.OpenCandidate(ctx, major.ID, nil)
	require.NoError(t, err)
	require.NoError(t, runner.snapshots.Promote(ctx, interloper, snapshot.Mutation{}))

	err = runner.snapshots.Promote(ctx, cand, snapshot.Mutation{})
	require.ErrorIs(t, err, snapshot.ErrPromotionConflict)

	// The losing run never recorded the fresh hashes, so the retried run
	// still sees the content as changed and promotes the 90-point cost.
	second, err := newTestRunner(t, store, updated, false).Run(ctx, extract.Scope{})
	require.NoError(t, err)
	require.True(t, second.Promoted, "retried run must promote the change")
	assert.Equal(t, 1, second.Changes)

	mapping, err := store.Mapping(ctx, "wahapedia", "intercessor-squad", extract.EntityUnit)
	require.NoError(t, err)
	version, err := store.UnitVersionAt(ctx, mapping.EntityID, *second.SnapshotID)
	require.NoError(t, err)
	require.NotNil(t, version.BasePointsCost)
	assert.Equal(t, int64(90), *version.BasePointsCost)
}

func wargearPayload() extract.Payload {
	payload := basePayload()
	payload.Records = append(payload.Records, extract.Record{
		EntityType: extract.EntityWargear,
		SourceID:   "power-fist",
		Name:       "Power Fist",
		Attrs:      extract.Attrs{"category": "melee"},
	})
	for i := range payload.Records {
		if payload.Records[i].SourceID == "intercessor-squad" {
			payload.Records[i].Attrs["wargear_options"] = map[string]any{
				"power-fist": map[string]any{
					"points_cost": float64(5),
					"is_default":  true,
				},
			}
		}
	}
	return payload
}

func TestScopedRunKeepsWargearOptions(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	ctx := context.Background()

	first, err := newTestRunner(t, store, wargearPayload(), false).Run(ctx, extract.Scope{})
	require.NoError(t, err)
	require.True(t, first.Promoted)

	mapping, err := store.Mapping(ctx, "wahapedia", "intercessor-squad", extract.EntityUnit)
	require.NoError(t, err)
	unitID := mapping.EntityID

	firstVersion, err := store.UnitVersionAt(ctx, unitID, *first.SnapshotID)
	require.NoError(t, err)
	firstOptions, err := store.WargearOptionsForUnitVersion(ctx, firstVersion.ID)
	require.NoError(t, err)
	require.Len(t, firstOptions, 1)

	// A per-faction crawl carries no global wargear records, but the unit's
	// associations must survive on the new version via the stored mappings.
	updated := wargearPayload()
	for i := range updated.Records {
		if updated.Records[i].SourceID == "intercessor-squad" {
			updated.Records[i].Attrs["base_points_cost"] = float64(90)
		}
	}
	second, err := newTestRunner(t, store, updated, false).Run(ctx, extract.Scope{FactionCode: "SM"})
	require.NoError(t, err)
	require.True(t, second.Promoted)

	secondVersion, err := store.UnitVersionAt(ctx, unitID, *second.SnapshotID)
	require.NoError(t, err)
	options, err := store.WargearOptionsForUnitVersion(ctx, secondVersion.ID)
	require.NoError(t, err)
	require.Len(t, options, 1)
	assert.Equal(t, firstOptions[0].WargearID, options[0].WargearID)
	assert.Equal(t, int64(5), options[0].PointsCost)
	assert.True(t, options[0].IsDefault)
}

func TestRunExtractErrorFailsRun(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	cfg := testsupport.NewConfig(t)
	extractor := &extract.StaticExtractor{Err: errors.New("source unreachable")}
	runner := NewRunner(cfg, store, extractor, nil, logging.NewNop())
	ctx := context.Background()

	_, err := runner.Run(ctx, extract.Scope{})
	require.Error(t, err)

	runs, err := store.RecentScrapeRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, catalog.RunFailed, runs[0].Status)
	assert.Contains(t, runs[0].ErrorMessage, "source unreachable")
}
