package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// filePayload is the JSON shape of an exported extraction payload.
type filePayload struct {
	Records []fileRecord `json:"records"`
}

type fileRecord struct {
	EntityType  string `json:"entity_type"`
	SourceID    string `json:"source_id"`
	Name        string `json:"name"`
	SourceURL   string `json:"source_url,omitempty"`
	FactionCode string `json:"faction_code,omitempty"`
	Attrs       Attrs  `json:"attrs"`
}

// FileExtractor reads an extraction payload exported as JSON. It stands in
// for a live source crawl: records that fail validation are reported as
// failures rather than aborting the pass.
type FileExtractor struct {
	Path string
}

// Extract implements Extractor.
func (f *FileExtractor) Extract(_ context.Context, scope Scope) (*Payload, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read payload %s: %w", f.Path, err)
	}
	var parsed filePayload
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse payload %s: %w", f.Path, err)
	}

	payload := &Payload{}
	for _, fr := range parsed.Records {
		rec := Record{
			EntityType:  EntityType(fr.EntityType),
			SourceID:    fr.SourceID,
			Name:        fr.Name,
			SourceURL:   fr.SourceURL,
			FactionCode: fr.FactionCode,
			Attrs:       fr.Attrs,
		}
		if scope.FactionCode != "" && !inScope(rec, scope) {
			continue
		}
		if err := rec.Validate(); err != nil {
			payload.Failures = append(payload.Failures, Failure{
				EntityType: rec.EntityType,
				SourceID:   rec.SourceID,
				Err:        err,
			})
			continue
		}
		payload.Records = append(payload.Records, rec)
	}
	return payload, nil
}

func inScope(rec Record, scope Scope) bool {
	if rec.FactionCode == scope.FactionCode {
		return true
	}
	return rec.EntityType == EntityFaction && rec.SourceID == scope.FactionCode
}
