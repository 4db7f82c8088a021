package catalog

import (
	"time"

	"github.com/luizgaroland/warhammer40kPapaMeta/internal/extract"
)

// UpdateType classifies a publisher revision under a major version.
type UpdateType string

const (
	UpdateErrata    UpdateType = "errata"
	UpdateDataslate UpdateType = "dataslate"
	UpdateFAQ       UpdateType = "faq"
	UpdateCodex     UpdateType = "codex"
)

// RunStatus is the lifecycle state of one ingestion attempt.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

// ScrapeStatus records the outcome of the latest scrape for one entity.
type ScrapeStatus string

const (
	ScrapeSuccess ScrapeStatus = "success"
	ScrapeFailed  ScrapeStatus = "failed"
	ScrapePartial ScrapeStatus = "partial"
)

// ChangeType classifies a field-level difference between two snapshots.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeRemoved  ChangeType = "removed"
	ChangeModified ChangeType = "modified"
)

// MessageStatus is the delivery state of an outbound message.
type MessageStatus string

const (
	MessagePending      MessageStatus = "pending"
	MessagePublished    MessageStatus = "published"
	MessageAcknowledged MessageStatus = "acknowledged"
	MessageFailed       MessageStatus = "failed"
)

// MajorVersion is one edition of the game's rules.
type MajorVersion struct {
	ID            int64
	VersionNumber string
	Name          string
	ReleaseDate   time.Time
	PromotionSeq  int64
	CreatedAt     time.Time
}

// GameUpdate is an errata/dataslate/faq/codex revision under a major version.
type GameUpdate struct {
	ID             int64
	MajorVersionID int64
	UpdateType     UpdateType
	VersionCode    string
	Name           string
	ReleasedAt     time.Time
	IsCurrent      bool
}

// Snapshot binds a major version and optional update to one point in the
// catalog's history. Exactly one snapshot per major version is current.
type Snapshot struct {
	ID             int64
	MajorVersionID int64
	UpdateID       *int64
	EffectiveDate  time.Time
	IsCurrent      bool
	PromotedAt     *time.Time
	CreatedAt      time.Time
}

// CanonicalRef is the minimal identity of a canonical entity, used by the
// resolver for fuzzy matching.
type CanonicalRef struct {
	ID   int64
	Name string
}

// EntityKey identifies a canonical entity across snapshots.
type EntityKey struct {
	Type extract.EntityType
	ID   int64
}

// EntityState is one entity's attribute set as seen by a snapshot.
type EntityState struct {
	Key   EntityKey
	Name  string
	Attrs extract.Attrs
}

// SourceMapping links an external identifier to a canonical entity.
// Unique per (source, source_identifier, entity_type).
type SourceMapping struct {
	ID               int64
	Source           string
	SourceIdentifier string
	EntityType       extract.EntityType
	EntityID         int64
	Confidence       float64
	Verified         bool
	Metadata         extract.Attrs
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ScrapeState is the per-entity ingestion cursor.
type ScrapeState struct {
	ID                int64
	EntityType        extract.EntityType
	EntityID          int64
	LastScrapedAt     *time.Time
	ContentHash       string
	Status            ScrapeStatus
	ConsecutiveMisses int
	IsActive          bool
	Metadata          extract.Attrs
}

// ScrapeRun is one ingestion attempt's lifecycle record.
type ScrapeRun struct {
	ID             int64
	Source         string
	ScrapeType     string
	Status         RunStatus
	StartedAt      time.Time
	FinishedAt     *time.Time
	ItemsProcessed int
	ItemsFailed    int
	ErrorMessage   string
	SnapshotID     *int64
}

// ChangeRecord is one field-level difference committed with a promotion.
// Old/new values are JSON-encoded so comparisons stay type-aware.
type ChangeRecord struct {
	ID           int64
	SnapshotID   int64
	EntityType   extract.EntityType
	EntityID     int64
	FieldChanged string
	OldValue     *string
	NewValue     *string
	ChangeType   ChangeType
	CreatedAt    time.Time
}

// OutboundMessage is one row of the publisher outbox.
type OutboundMessage struct {
	ID            int64
	MessageUUID   string
	MessageType   string
	Channel       string
	Payload       string
	Status        MessageStatus
	RetryCount    int
	NextAttemptAt *time.Time
	LastError     string
	TransportID   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// UnitWargearOption is one wargear association on a unit version.
type UnitWargearOption struct {
	ID             int64
	UnitVersionID  int64
	WargearID      int64
	PointsCost     int64
	IsDefault      bool
	ExclusionGroup string
}
