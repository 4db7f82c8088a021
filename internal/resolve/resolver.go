package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/luizgaroland/warhammer40kPapaMeta/internal/catalog"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/extract"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/logging"
)

// Catalog is the persistence surface the resolver needs.
type Catalog interface {
	Mapping(ctx context.Context, source, sourceIdentifier string, entityType extract.EntityType) (*catalog.SourceMapping, error)
	CreateMapping(ctx context.Context, mapping *catalog.SourceMapping) (*catalog.SourceMapping, error)
	ListCanonical(ctx context.Context, entityType extract.EntityType) ([]catalog.CanonicalRef, error)
	CreateCanonical(ctx context.Context, entityType extract.EntityType, name string, parentID *int64, code string) (int64, error)
}

// Resolution is the outcome of resolving one external identifier.
type Resolution struct {
	Mapping *catalog.SourceMapping
	// CreatedEntity is true when a fresh canonical entity was created
	// because no existing one matched confidently enough.
	CreatedEntity bool
	// MatchedName is the canonical name a fuzzy match linked to, when any.
	MatchedName string
}

// Resolver assigns canonical identities to scraped records.
type Resolver struct {
	catalog   Catalog
	sim       Similarity
	threshold float64
	source    string
	logger    *slog.Logger
}

// NewResolver constructs a resolver for one external source. sim may be nil
// to use the default normalized-name strategy.
func NewResolver(cat Catalog, source string, threshold float64, sim Similarity, logger *slog.Logger) *Resolver {
	if sim == nil {
		sim = NameSimilarity{}
	}
	return &Resolver{
		catalog:   cat,
		sim:       sim,
		threshold: threshold,
		source:    source,
		logger:    logging.WithComponent(logger, "resolver"),
	}
}

// Resolve maps a record's external identifier to a canonical entity.
// Resolution is idempotent: repeated calls with the same identifier return
// the same mapping. parentID scopes entity creation (owning faction for
// units and detachments, owning detachment for enhancements).
func (r *Resolver) Resolve(ctx context.Context, rec extract.Record, parentID *int64) (*Resolution, error) {
	existing, err := r.catalog.Mapping(ctx, r.source, rec.SourceID, rec.EntityType)
	if err == nil {
		return &Resolution{Mapping: existing}, nil
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		return nil, fmt.Errorf("lookup mapping: %w", err)
	}

	match, score, err := r.bestMatch(ctx, rec)
	if err != nil {
		return nil, err
	}

	if match != nil && score >= r.threshold {
		mapping, err := r.createMapping(ctx, rec, match.ID, score, false)
		if err != nil {
			return nil, err
		}
		r.logger.Info("fuzzy match linked for review",
			logging.String(logging.FieldEntityType, string(rec.EntityType)),
			logging.String("source_identifier", rec.SourceID),
			logging.String("matched_name", match.Name),
			logging.Float64("confidence", score),
		)
		return &Resolution{Mapping: mapping, MatchedName: match.Name}, nil
	}

	if match != nil {
		// Ambiguous: some resemblance, but not enough to link. Never merge
		// canonical entities on weak evidence.
		r.logger.Warn("ambiguous match rejected",
			logging.String(logging.FieldEntityType, string(rec.EntityType)),
			logging.String("source_identifier", rec.SourceID),
			logging.String("nearest_name", match.Name),
			logging.Float64("score", score),
			logging.Float64("threshold", r.threshold),
			logging.String(logging.FieldEventType, "resolution_ambiguous"),
		)
	}

	entityID, err := r.catalog.CreateCanonical(ctx, rec.EntityType, rec.Name, parentID, rec.FactionCode)
	if err != nil {
		return nil, fmt.Errorf("create canonical %s: %w", rec.EntityType, err)
	}
	mapping, err := r.createMapping(ctx, rec, entityID, 1.0, true)
	if err != nil {
		return nil, err
	}
	return &Resolution{Mapping: mapping, CreatedEntity: true}, nil
}

func (r *Resolver) bestMatch(ctx context.Context, rec extract.Record) (*catalog.CanonicalRef, float64, error) {
	refs, err := r.catalog.ListCanonical(ctx, rec.EntityType)
	if err != nil {
		return nil, 0, fmt.Errorf("list canonical %s: %w", rec.EntityType, err)
	}
	var (
		best      *catalog.CanonicalRef
		bestScore float64
	)
	for i := range refs {
		score := r.sim.Score(rec.Name, refs[i].Name)
		if score > bestScore {
			best = &refs[i]
			bestScore = score
		}
	}
	return best, bestScore, nil
}

func (r *Resolver) createMapping(ctx context.Context, rec extract.Record, entityID int64, confidence float64, verified bool) (*catalog.SourceMapping, error) {
	metadata := extract.Attrs{}
	if rec.SourceURL != "" {
		metadata["source_url"] = rec.SourceURL
	}
	mapping, err := r.catalog.CreateMapping(ctx, &catalog.SourceMapping{
		Source:           r.source,
		SourceIdentifier: rec.SourceID,
		EntityType:       rec.EntityType,
		EntityID:         entityID,
		Confidence:       confidence,
		Verified:         verified,
		Metadata:         metadata,
	})
	if err != nil {
		// Concurrent creation of the same identifier: the row exists now,
		// so the retried lookup is the answer.
		if catalog.IsUniqueViolation(err) {
			return r.catalog.Mapping(ctx, r.source, rec.SourceID, rec.EntityType)
		}
		return nil, fmt.Errorf("create mapping: %w", err)
	}
	return mapping, nil
}
