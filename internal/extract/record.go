package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// EntityType identifies the kind of catalog object a record describes.
type EntityType string

const (
	EntityFaction     EntityType = "faction"
	EntityDetachment  EntityType = "detachment"
	EntityEnhancement EntityType = "enhancement"
	EntityUnit        EntityType = "unit"
	EntityWargear     EntityType = "wargear"
)

// KnownEntityType reports whether the given type is one the pipeline tracks.
func KnownEntityType(t EntityType) bool {
	switch t {
	case EntityFaction, EntityDetachment, EntityEnhancement, EntityUnit, EntityWargear:
		return true
	}
	return false
}

// Attrs is the schema-less attribute payload carried by a record. The
// pipeline passes it through uninterpreted except for diffing and hashing.
type Attrs map[string]any

// Record is one extracted entity observation from the external source.
type Record struct {
	EntityType  EntityType
	SourceID    string
	Name        string
	SourceURL   string
	FactionCode string
	Attrs       Attrs
	// ContentHash is the hash of the normalized extracted content. When the
	// extractor leaves it empty the pipeline computes it from Attrs.
	ContentHash string
}

// Failure records one entity that could not be extracted.
type Failure struct {
	EntityType EntityType
	SourceID   string
	Err        error
}

// Payload is the outcome of one extraction pass. Failures do not abort the
// run; they are carried alongside the successfully extracted records.
type Payload struct {
	Records  []Record
	Failures []Failure
}

// Scope narrows an extraction pass. The zero value requests a full crawl.
type Scope struct {
	FactionCode string
}

// Extractor is implemented by the external source extractor.
type Extractor interface {
	Extract(ctx context.Context, scope Scope) (*Payload, error)
}

// HashAttrs computes the canonical content hash for an attribute set.
// Encoding through encoding/json sorts map keys, so equal attribute sets
// always produce equal hashes.
func HashAttrs(attrs Attrs) (string, error) {
	data, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("marshal attrs: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Validate checks the structural fields the pipeline depends on and fills in
// a missing content hash.
func (r *Record) Validate() error {
	if !KnownEntityType(r.EntityType) {
		return fmt.Errorf("unknown entity type %q", r.EntityType)
	}
	if strings.TrimSpace(r.SourceID) == "" {
		return fmt.Errorf("%s record missing source identifier", r.EntityType)
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%s record %s missing name", r.EntityType, r.SourceID)
	}
	if r.ContentHash == "" {
		hash, err := HashAttrs(r.Attrs)
		if err != nil {
			return err
		}
		r.ContentHash = hash
	}
	return nil
}
