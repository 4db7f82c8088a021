package extract

import "context"

// StaticExtractor serves a fixed payload. It backs tests and the CLI's
// dry-run mode, standing in for the external HTML extractor.
type StaticExtractor struct {
	Payload Payload
	Err     error
}

// Extract returns the configured payload filtered by scope.
func (s *StaticExtractor) Extract(_ context.Context, scope Scope) (*Payload, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if scope.FactionCode == "" {
		payload := s.Payload
		return &payload, nil
	}
	filtered := Payload{}
	for _, rec := range s.Payload.Records {
		if rec.FactionCode == scope.FactionCode || rec.EntityType == EntityFaction && rec.SourceID == scope.FactionCode {
			filtered.Records = append(filtered.Records, rec)
		}
	}
	filtered.Failures = append(filtered.Failures, s.Payload.Failures...)
	return &filtered, nil
}
