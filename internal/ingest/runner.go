package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/alitto/pond/v2"

	"github.com/luizgaroland/warhammer40kPapaMeta/internal/catalog"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/config"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/diff"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/extract"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/logging"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/publish"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/resolve"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/scrapestate"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/services"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/snapshot"
)

// Result summarizes one completed pipeline run.
type Result struct {
	Run        *catalog.ScrapeRun
	SnapshotID *int64
	Promoted   bool
	Changes    int
	Processed  int
	Failed     int
}

// Runner executes the scrape-resolve-diff-promote pipeline.
type Runner struct {
	store         *catalog.Store
	snapshots     *snapshot.Manager
	resolver      *resolve.Resolver
	tracker       *scrapestate.Tracker
	bridge        *publish.Bridge
	extractor     extract.Extractor
	source        string
	versionNumber string
	versionName   string
	parallelism   int
	channelPrefix string
	logger        *slog.Logger
}

// NewRunner wires the pipeline from configuration. bridge may be nil to
// disable publishing (dry runs).
func NewRunner(cfg *config.Config, store *catalog.Store, extractor extract.Extractor, bridge *publish.Bridge, logger *slog.Logger) *Runner {
	parallelism := cfg.Scraper.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	return &Runner{
		store:         store,
		snapshots:     snapshot.NewManager(store, logger),
		resolver:      resolve.NewResolver(store, cfg.Source.Name, cfg.Resolver.ConfidenceThreshold, nil, logger),
		tracker:       scrapestate.NewTracker(store, cfg.Scraper.GraceThreshold, logger),
		bridge:        bridge,
		extractor:     extractor,
		source:        cfg.Source.Name,
		versionNumber: cfg.Game.VersionNumber,
		versionName:   cfg.Game.VersionName,
		parallelism:   parallelism,
		channelPrefix: cfg.Publisher.ChannelPrefix,
		logger:        logging.WithComponent(logger, "ingest"),
	}
}

type resolvedRecord struct {
	rec extract.Record
	key catalog.EntityKey
}

// Run executes one pipeline pass. An empty scope requests a full crawl;
// scoped runs never count absent entities against the grace threshold.
func (r *Runner) Run(ctx context.Context, scope extract.Scope) (*Result, error) {
	major, err := r.store.EnsureMajorVersion(ctx, r.versionNumber, r.versionName)
	if err != nil {
		return nil, fmt.Errorf("ensure major version: %w", err)
	}

	scrapeType := "full"
	if scope.FactionCode != "" {
		scrapeType = "faction:" + scope.FactionCode
	}
	run, err := r.store.BeginScrapeRun(ctx, r.source, scrapeType)
	if err != nil {
		return nil, fmt.Errorf("begin scrape run: %w", err)
	}
	logger := r.logger.With(logging.Int64(logging.FieldRunID, run.ID))
	logger.Info("ingestion run started",
		logging.String(logging.FieldSource, r.source),
		logging.String("scrape_type", scrapeType),
	)
	r.publishRunEvent(ctx, logger, "run_started", map[string]any{
		"run_id":      run.ID,
		"source":      r.source,
		"scrape_type": scrapeType,
	})

	payload, err := r.extractor.Extract(ctx, scope)
	if err != nil {
		err = services.Wrap(services.ErrTransient, "ingest", "extract", "source extraction failed", err)
		r.finishRun(ctx, run.ID, catalog.RunFailed, 0, 0, err.Error(), nil)
		return nil, err
	}

	records, failed := r.validateRecords(logger, payload)
	failed += len(payload.Failures)
	for _, failure := range payload.Failures {
		logger.Warn("extraction failure",
			logging.String(logging.FieldEntityType, string(failure.EntityType)),
			logging.String("source_identifier", failure.SourceID),
			logging.Error(failure.Err),
		)
	}

	cand, err := r.snapshots.OpenCandidate(ctx, major.ID, nil)
	if err != nil {
		r.finishRun(ctx, run.ID, catalog.RunFailed, 0, failed, err.Error(), nil)
		return nil, err
	}

	prior := map[catalog.EntityKey]catalog.EntityState{}
	if cand.Base != nil {
		prior, err = r.store.SnapshotView(ctx, major.ID, cand.Base.ID)
		if err != nil {
			r.abandon(ctx, cand, run.ID, failed, err)
			return nil, err
		}
	}

	resolved, wargearBySource, resolveFailures := r.resolveAll(ctx, logger, records)
	failed += resolveFailures

	candidate, marks, err := r.buildCandidate(ctx, logger, prior, resolved, scope)
	if err != nil {
		r.abandon(ctx, cand, run.ID, failed, err)
		return nil, err
	}

	changes, err := diff.Compare(prior, candidate)
	if err != nil {
		r.abandon(ctx, cand, run.ID, failed, err)
		return nil, err
	}

	processed := len(resolved)
	result := &Result{Run: run, Changes: len(changes), Processed: processed, Failed: failed}

	if len(changes) == 0 && cand.Base != nil {
		if err := r.snapshots.Discard(ctx, cand); err != nil {
			logger.Warn("discard unchanged candidate", logging.Error(err))
		}
		// The candidate equals the current snapshot, so the hashes already
		// describe committed data.
		r.markAllSeen(ctx, logger, marks)
		status := runOutcome(failed)
		r.finishRun(ctx, run.ID, status, processed, failed, "", nil)
		logger.Info("no changes detected; candidate discarded",
			logging.Int("records", processed),
		)
		return result, nil
	}

	mutation := r.buildMutation(ctx, prior, candidate, changes, wargearBySource)
	if err := r.snapshots.Promote(ctx, cand, mutation); err != nil {
		if errors.Is(err, snapshot.ErrPromotionConflict) {
			r.finishRun(ctx, run.ID, catalog.RunFailed, processed, failed, "promotion conflict", nil)
			return nil, err
		}
		r.abandon(ctx, cand, run.ID, failed, err)
		return nil, err
	}
	snapshotID := cand.Snapshot.ID
	result.SnapshotID = &snapshotID
	result.Promoted = true
	r.markAllSeen(ctx, logger, marks)

	r.publishChanges(ctx, logger, snapshotID, changes, result)

	status := runOutcome(failed)
	r.finishRun(ctx, run.ID, status, processed, failed, "", &snapshotID)
	logger.Info("ingestion run finished",
		logging.Int64(logging.FieldSnapshotID, snapshotID),
		logging.Int("records", processed),
		logging.Int("failures", failed),
		logging.Int("change_records", len(changes)),
		logging.String("status", string(status)),
	)
	return result, nil
}

func (r *Runner) validateRecords(logger *slog.Logger, payload *extract.Payload) ([]extract.Record, int) {
	records := make([]extract.Record, 0, len(payload.Records))
	failed := 0
	for _, rec := range payload.Records {
		if err := rec.Validate(); err != nil {
			failed++
			logger.Warn("invalid record skipped", logging.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records, failed
}

// resolveAll assigns canonical identities in dependency order: factions
// first so they can parent detachments and units, detachments before the
// enhancements they own. Each independent phase fans out over the pool.
func (r *Runner) resolveAll(ctx context.Context, logger *slog.Logger, records []extract.Record) ([]resolvedRecord, map[string]int64, int) {
	byType := make(map[extract.EntityType][]extract.Record)
	for _, rec := range records {
		byType[rec.EntityType] = append(byType[rec.EntityType], rec)
	}

	var (
		resolved        []resolvedRecord
		failures        int
		factionByCode   = make(map[string]int64)
		detachmentByID  = make(map[string]int64)
		wargearBySource = make(map[string]int64)
	)

	for _, rec := range byType[extract.EntityFaction] {
		res, err := r.resolver.Resolve(ctx, rec, nil)
		if err != nil {
			failures++
			logger.Warn("faction resolution failed",
				logging.String("source_identifier", rec.SourceID),
				logging.Error(err),
			)
			continue
		}
		factionByCode[rec.SourceID] = res.Mapping.EntityID
		resolved = append(resolved, resolvedRecord{rec: rec, key: catalog.EntityKey{Type: rec.EntityType, ID: res.Mapping.EntityID}})
	}

	pool := pond.NewPool(r.parallelism)
	defer pool.StopAndWait()
	var mu sync.Mutex

	phase := func(recs []extract.Record, parentFor func(extract.Record) *int64, track func(extract.Record, int64)) {
		group := pool.NewGroupContext(ctx)
		groupCtx := group.Context()
		for _, rec := range recs {
			rec := rec
			group.Submit(func() {
				if groupCtx.Err() != nil {
					return
				}
				res, err := r.resolver.Resolve(groupCtx, rec, parentFor(rec))
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failures++
					logger.Warn("resolution failed",
						logging.String(logging.FieldEntityType, string(rec.EntityType)),
						logging.String("source_identifier", rec.SourceID),
						logging.Error(err),
					)
					return
				}
				if track != nil {
					track(rec, res.Mapping.EntityID)
				}
				resolved = append(resolved, resolvedRecord{rec: rec, key: catalog.EntityKey{Type: rec.EntityType, ID: res.Mapping.EntityID}})
			})
		}
		if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("resolution phase incomplete", logging.Error(err))
		}
	}

	factionParent := func(rec extract.Record) *int64 {
		if id, ok := factionByCode[rec.FactionCode]; ok {
			return &id
		}
		return nil
	}

	phase(byType[extract.EntityDetachment], factionParent, func(rec extract.Record, id int64) {
		detachmentByID[rec.SourceID] = id
	})
	phase(byType[extract.EntityWargear], func(extract.Record) *int64 { return nil }, func(rec extract.Record, id int64) {
		wargearBySource[rec.SourceID] = id
	})
	phase(byType[extract.EntityUnit], factionParent, nil)
	phase(byType[extract.EntityEnhancement], func(rec extract.Record) *int64 {
		if raw, ok := rec.Attrs["detachment_id"].(string); ok {
			if id, ok := detachmentByID[raw]; ok {
				return &id
			}
		}
		return nil
	}, nil)

	return resolved, wargearBySource, failures
}

// seenMark is a content-hash write staged until the candidate's data is
// known to be durable.
type seenMark struct {
	key  catalog.EntityKey
	hash string
}

// buildCandidate materializes the entity states the candidate snapshot
// would contain. Unchanged content hashes reuse the prior state verbatim;
// entities absent from a full crawl are carried forward until the grace
// threshold deactivates them. Content hashes are returned as staged marks
// rather than written here: a hash committed ahead of a failed promotion
// would make the retried run skip the change.
func (r *Runner) buildCandidate(ctx context.Context, logger *slog.Logger, prior map[catalog.EntityKey]catalog.EntityState, resolved []resolvedRecord, scope extract.Scope) (map[catalog.EntityKey]catalog.EntityState, []seenMark, error) {
	candidate := make(map[catalog.EntityKey]catalog.EntityState, len(resolved))
	seen := make(map[catalog.EntityKey]struct{}, len(resolved))
	marks := make([]seenMark, 0, len(resolved))

	for _, re := range resolved {
		key := re.key
		seen[key] = struct{}{}

		unchanged, err := r.tracker.Unchanged(ctx, key.Type, key.ID, re.rec.ContentHash)
		if err != nil {
			return nil, nil, err
		}
		marks = append(marks, seenMark{key: key, hash: re.rec.ContentHash})
		if priorState, ok := prior[key]; unchanged && ok {
			candidate[key] = priorState
			continue
		}

		attrs := make(extract.Attrs, len(re.rec.Attrs)+1)
		for k, v := range re.rec.Attrs {
			attrs[k] = v
		}
		attrs["name"] = re.rec.Name
		candidate[key] = catalog.EntityState{Key: key, Name: re.rec.Name, Attrs: attrs}
	}

	for key, priorState := range prior {
		if _, ok := seen[key]; ok {
			continue
		}
		if scope.FactionCode != "" {
			// Scoped runs only observe one faction; absence elsewhere means
			// nothing.
			candidate[key] = priorState
			continue
		}
		disposition, err := r.tracker.MarkMissing(ctx, key.Type, key.ID)
		if err != nil {
			return nil, nil, err
		}
		if disposition == scrapestate.DispositionCarry {
			candidate[key] = priorState
			continue
		}
		logger.Info("entity removed from candidate",
			logging.String(logging.FieldEntityType, string(key.Type)),
			logging.Int64("entity_id", key.ID),
		)
	}
	return candidate, marks, nil
}

// markAllSeen persists the staged content hashes. Failures are logged only:
// the underlying data already committed, and a stale hash just means the
// next run re-diffs the entity.
func (r *Runner) markAllSeen(ctx context.Context, logger *slog.Logger, marks []seenMark) {
	for _, mark := range marks {
		if err := r.tracker.MarkSeen(ctx, mark.key.Type, mark.key.ID, mark.hash); err != nil {
			logger.Warn("record scrape success failed",
				logging.String(logging.FieldEntityType, string(mark.key.Type)),
				logging.Int64("entity_id", mark.key.ID),
				logging.Error(err),
			)
		}
	}
}

// buildMutation translates the diff into the version rows and canonical
// updates the promotion writes. Only changed entities get new rows; the
// copy-on-write chain serves the rest.
func (r *Runner) buildMutation(ctx context.Context, prior, candidate map[catalog.EntityKey]catalog.EntityState, changes []catalog.ChangeInput, wargearBySource map[string]int64) snapshot.Mutation {
	changed := make(map[catalog.EntityKey]struct{})
	for _, change := range changes {
		changed[catalog.EntityKey{Type: change.EntityType, ID: change.EntityID}] = struct{}{}
	}

	keys := make([]catalog.EntityKey, 0, len(changed))
	for key := range changed {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Type != keys[j].Type {
			return keys[i].Type < keys[j].Type
		}
		return keys[i].ID < keys[j].ID
	})

	var mutation snapshot.Mutation
	mutation.Changes = changes

	for _, key := range keys {
		state, present := candidate[key]
		if !present {
			state = prior[key]
		}
		switch key.Type {
		case extract.EntityFaction:
			mutation.FactionVersions = append(mutation.FactionVersions, catalog.FactionVersionInput{
				FactionID: key.ID,
				IsPresent: present,
				Attrs:     state.Attrs,
			})
		case extract.EntityUnit:
			mutation.UnitVersions = append(mutation.UnitVersions, catalog.UnitVersionInput{
				UnitID:         key.ID,
				IsPresent:      present,
				Attrs:          state.Attrs,
				WargearOptions: r.wargearOptions(ctx, state.Attrs, wargearBySource),
			})
		default:
			mutation.CanonicalUpdates = append(mutation.CanonicalUpdates, catalog.CanonicalUpdateInput{
				EntityType: key.Type,
				EntityID:   key.ID,
				Name:       state.Name,
				Attrs:      state.Attrs,
				IsActive:   present,
			})
		}
	}
	return mutation
}

// wargearOptions extracts the unit's wargear associations, keyed by the
// wargear's source identifier. Wargear not resolved in this run (scoped
// runs exclude global wargear records) is looked up through its existing
// source mapping; only wargear the store has never seen is dropped.
func (r *Runner) wargearOptions(ctx context.Context, attrs extract.Attrs, wargearBySource map[string]int64) []catalog.WargearOptionInput {
	raw, ok := attrs["wargear_options"].(map[string]any)
	if !ok {
		return nil
	}
	sourceIDs := make([]string, 0, len(raw))
	for sourceID := range raw {
		sourceIDs = append(sourceIDs, sourceID)
	}
	sort.Strings(sourceIDs)

	var options []catalog.WargearOptionInput
	for _, sourceID := range sourceIDs {
		wargearID, ok := wargearBySource[sourceID]
		if !ok {
			mapping, err := r.store.Mapping(ctx, r.source, sourceID, extract.EntityWargear)
			if err != nil {
				r.logger.Warn("wargear option references unknown wargear",
					logging.String("source_identifier", sourceID),
					logging.Error(err),
				)
				continue
			}
			wargearID = mapping.EntityID
		}
		opt, ok := raw[sourceID].(map[string]any)
		if !ok {
			continue
		}
		options = append(options, catalog.WargearOptionInput{
			WargearID:      wargearID,
			PointsCost:     toInt64(opt["points_cost"]),
			IsDefault:      toBool(opt["is_default"]),
			ExclusionGroup: toString(opt["exclusion_group"]),
		})
	}
	return options
}

// publishChanges enqueues one message per changed entity plus a run status
// event. Enqueue failures are logged but never fail the run: the promotion
// already committed.
func (r *Runner) publishChanges(ctx context.Context, logger *slog.Logger, snapshotID int64, changes []catalog.ChangeInput, result *Result) {
	if r.bridge == nil {
		return
	}

	type entityChanges struct {
		key    catalog.EntityKey
		fields []catalog.ChangeInput
	}
	grouped := make(map[catalog.EntityKey]*entityChanges)
	var order []catalog.EntityKey
	for _, change := range changes {
		key := catalog.EntityKey{Type: change.EntityType, ID: change.EntityID}
		ec, ok := grouped[key]
		if !ok {
			ec = &entityChanges{key: key}
			grouped[key] = ec
			order = append(order, key)
		}
		ec.fields = append(ec.fields, change)
	}

	for _, key := range order {
		ec := grouped[key]
		fields := make([]map[string]any, 0, len(ec.fields))
		changeType := ec.fields[0].ChangeType
		for _, field := range ec.fields {
			entry := map[string]any{
				"field":       field.FieldChanged,
				"change_type": string(field.ChangeType),
			}
			if field.OldValue != nil {
				entry["old_value"] = *field.OldValue
			}
			if field.NewValue != nil {
				entry["new_value"] = *field.NewValue
			}
			fields = append(fields, entry)
		}
		payload := map[string]any{
			"snapshot_id": snapshotID,
			"entity_type": string(key.Type),
			"entity_id":   key.ID,
			"change_type": string(changeType),
			"fields":      fields,
		}
		if _, err := r.bridge.Enqueue(ctx, string(key.Type)+"_update", r.channel(key.Type), payload); err != nil {
			logger.Error("enqueue change message failed",
				logging.String(logging.FieldEntityType, string(key.Type)),
				logging.Int64("entity_id", key.ID),
				logging.Error(err),
			)
		}
	}

	status := map[string]any{
		"snapshot_id":      snapshotID,
		"entities_changed": len(order),
		"change_records":   len(changes),
		"items_processed":  result.Processed,
		"items_failed":     result.Failed,
	}
	if _, err := r.bridge.Enqueue(ctx, "snapshot_promoted", r.channelPrefix+":status", status); err != nil {
		logger.Error("enqueue status message failed", logging.Error(err))
	}
}

func (r *Runner) channel(entityType extract.EntityType) string {
	switch entityType {
	case extract.EntityFaction:
		return r.channelPrefix + ":factions"
	case extract.EntityDetachment:
		return r.channelPrefix + ":detachments"
	case extract.EntityEnhancement:
		return r.channelPrefix + ":enhancements"
	case extract.EntityUnit:
		return r.channelPrefix + ":units"
	case extract.EntityWargear:
		return r.channelPrefix + ":wargear"
	default:
		return r.channelPrefix + ":catalog"
	}
}

func (r *Runner) abandon(ctx context.Context, cand *snapshot.Candidate, runID int64, failed int, cause error) {
	if err := r.snapshots.Discard(ctx, cand); err != nil {
		r.logger.Warn("discard candidate after failure", logging.Error(err))
	}
	r.finishRun(ctx, runID, catalog.RunFailed, 0, failed, cause.Error(), nil)
}

func (r *Runner) finishRun(ctx context.Context, runID int64, status catalog.RunStatus, processed, failed int, errorMessage string, snapshotID *int64) {
	if err := r.store.FinishScrapeRun(ctx, runID, status, processed, failed, errorMessage, snapshotID); err != nil {
		r.logger.Error("finish scrape run failed",
			logging.Int64(logging.FieldRunID, runID),
			logging.Error(err),
		)
	}

	eventType := "run_completed"
	if status == catalog.RunFailed {
		eventType = "run_failed"
	}
	event := map[string]any{
		"run_id":          runID,
		"status":          string(status),
		"items_processed": processed,
		"items_failed":    failed,
	}
	if errorMessage != "" {
		event["error"] = errorMessage
	}
	if snapshotID != nil {
		event["snapshot_id"] = *snapshotID
	}
	r.publishRunEvent(ctx, r.logger, eventType, event)
}

func (r *Runner) publishRunEvent(ctx context.Context, logger *slog.Logger, eventType string, payload map[string]any) {
	if r.bridge == nil {
		return
	}
	if _, err := r.bridge.Enqueue(ctx, eventType, r.channelPrefix+":status", payload); err != nil {
		logger.Error("enqueue run event failed",
			logging.String(logging.FieldEventType, eventType),
			logging.Error(err),
		)
	}
}

func runOutcome(failed int) catalog.RunStatus {
	if failed > 0 {
		return catalog.RunPartial
	}
	return catalog.RunSuccess
}

func toInt64(value any) int64 {
	switch v := value.(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

func toBool(value any) bool {
	b, _ := value.(bool)
	return b
}

func toString(value any) string {
	s, _ := value.(string)
	return s
}
