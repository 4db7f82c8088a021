package logging

import (
	"log/slog"
	"time"
)

// Standardized structured logging keys shared across subsystems.
const (
	// FieldComponent identifies the emitting subsystem.
	FieldComponent = "component"
	// FieldRunID carries the scrape-run identifier through ingestion logs.
	FieldRunID = "run_id"
	// FieldSnapshotID carries the snapshot identifier during promotion.
	FieldSnapshotID = "snapshot_id"
	// FieldEntityType names the catalog entity type a log line refers to.
	FieldEntityType = "entity_type"
	// FieldSource names the external scrape source.
	FieldSource = "source"
	// FieldEventType classifies notable events for downstream filtering.
	FieldEventType = "event_type"
)

type Attr = slog.Attr

func Any(key string, value any) Attr { return slog.Any(key, value) }

func Bool(key string, value bool) Attr { return slog.Bool(key, value) }

func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

func Float64(key string, value float64) Attr { return slog.Float64(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func Int64(key string, value int64) Attr { return slog.Int64(key, value) }

func String(key string, value string) Attr { return slog.String(key, value) }

func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

// Args converts typed attrs into the variadic form slog methods accept.
func Args(attrs ...Attr) []any {
	args := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		args = append(args, attr)
	}
	return args
}

// NewNop returns a logger that discards all records.
func NewNop() *slog.Logger {
	return slog.New(noopHandler{})
}

// WithComponent creates a logger with a standardized component attribute.
// If logger is nil, a no-op logger is used as the base.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(String(FieldComponent, component))
}
