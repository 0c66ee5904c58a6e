package migrations

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/domain"
)

// Run applies the schema for every bounded context. Adapters never migrate on their own.
func Run(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	return db.AutoMigrate(
		&aspectVersionRecord{},
		&aspectHeadRecord{},
		&outboxRecord{},
		&idempotencyRecord{},
		&logRecord{},
		&logHeadRecord{},
		&logMetaRecord{},
		&checkpointRecord{},
		&deadLetterRecord{},
		&documentRecord{},
		&graphSourceRecord{},
		&graphEdgeRecord{},
	)
}

// Aspect schema mirrors the aspects Postgres adapter.
type aspectVersionRecord struct {
	Urn        string    `gorm:"primaryKey;column:urn;size:512"`
	Aspect     string    `gorm:"primaryKey;column:aspect;size:128"`
	Version    int64     `gorm:"primaryKey;column:version;autoIncrement:false"`
	EntityType string    `gorm:"column:entity_type;size:128;index"`
	Payload    *string   `gorm:"column:payload;type:jsonb"`
	Deleted    bool      `gorm:"column:deleted"`
	ProducerID string    `gorm:"column:producer_id;size:128"`
	RunID      string    `gorm:"column:run_id;size:128"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (aspectVersionRecord) TableName() string { return "aspect_versions" }

type aspectHeadRecord struct {
	Urn       string    `gorm:"primaryKey;column:urn;size:512"`
	Aspect    string    `gorm:"primaryKey;column:aspect;size:128"`
	Version   int64     `gorm:"column:version"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (aspectHeadRecord) TableName() string { return "aspect_heads" }

type outboxRecord struct {
	Seq         int64      `gorm:"primaryKey;column:seq;autoIncrement"`
	EventID     string     `gorm:"column:event_id;size:64;uniqueIndex"`
	Urn         string     `gorm:"column:urn;size:512;index"`
	Event       string     `gorm:"column:event;type:jsonb"`
	StagedAt    time.Time  `gorm:"column:staged_at"`
	PublishedAt *time.Time `gorm:"column:published_at;index"`
	Attempts    int        `gorm:"column:attempts"`
	LastError   string     `gorm:"column:last_error"`
}

func (outboxRecord) TableName() string { return "aspect_outbox" }

type idempotencyRecord struct {
	Key         string    `gorm:"primaryKey;column:key;size:255"`
	RequestHash string    `gorm:"column:request_hash;size:128"`
	Urn         string    `gorm:"column:urn;size:512"`
	Aspect      string    `gorm:"column:aspect;size:128"`
	Version     int64     `gorm:"column:version"`
	EventID     string    `gorm:"column:event_id;size:64"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (idempotencyRecord) TableName() string { return "proposal_idempotency_keys" }

// Log schema mirrors the propagation Postgres adapters.
type logRecord struct {
	Partition  int32     `gorm:"primaryKey;column:log_partition;autoIncrement:false"`
	Offset     int64     `gorm:"primaryKey;column:log_offset;autoIncrement:false"`
	EventID    string    `gorm:"column:event_id;size:64;uniqueIndex"`
	Key        string    `gorm:"column:partition_key;size:512;index"`
	Event      string    `gorm:"column:event;type:jsonb"`
	AppendedAt time.Time `gorm:"column:appended_at"`
}

func (logRecord) TableName() string { return "audit_log" }

type logHeadRecord struct {
	Partition  int32 `gorm:"primaryKey;column:log_partition;autoIncrement:false"`
	NextOffset int64 `gorm:"column:next_offset"`
}

func (logHeadRecord) TableName() string { return "audit_log_heads" }

type logMetaRecord struct {
	ID         int16     `gorm:"primaryKey;column:id;autoIncrement:false"`
	Partitions int32     `gorm:"column:partitions"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (logMetaRecord) TableName() string { return "audit_log_meta" }

type checkpointRecord struct {
	Group      string    `gorm:"primaryKey;column:consumer_group;size:128"`
	Partition  int32     `gorm:"primaryKey;column:log_partition;autoIncrement:false"`
	LastOffset int64     `gorm:"column:last_offset"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (checkpointRecord) TableName() string { return "consumer_checkpoints" }

type deadLetterRecord struct {
	ID            string                 `gorm:"primaryKey;column:id;size:64"`
	Group         string                 `gorm:"column:consumer_group;size:128;index"`
	Partition     int32                  `gorm:"column:log_partition"`
	Offset        int64                  `gorm:"column:log_offset"`
	EventID       string                 `gorm:"column:event_id;size:64;index"`
	Record        string                 `gorm:"column:record;type:jsonb"`
	Failures      []domain.FailureRecord `gorm:"column:failures;serializer:json"`
	Reasons       pq.StringArray         `gorm:"column:reasons;type:text[]"`
	QuarantinedAt time.Time              `gorm:"column:quarantined_at;index"`
	ReplayedAt    *time.Time             `gorm:"column:replayed_at"`
}

func (deadLetterRecord) TableName() string { return "dead_letters" }

// View schema mirrors the views Postgres adapters.
type documentRecord struct {
	View       string    `gorm:"primaryKey;column:view_name;size:64"`
	Urn        string    `gorm:"primaryKey;column:urn;size:512"`
	Aspect     string    `gorm:"primaryKey;column:aspect;size:128"`
	EntityType string    `gorm:"column:entity_type;size:128"`
	Version    int64     `gorm:"column:version"`
	EventID    string    `gorm:"column:event_id;size:64"`
	Payload    *string   `gorm:"column:payload;type:jsonb"`
	Deleted    bool      `gorm:"column:deleted"`
	Text       string    `gorm:"column:search_text;type:text"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (documentRecord) TableName() string { return "view_documents" }

type graphSourceRecord struct {
	Urn       string    `gorm:"primaryKey;column:urn;size:512"`
	Aspect    string    `gorm:"primaryKey;column:aspect;size:128"`
	Version   int64     `gorm:"column:version"`
	EventID   string    `gorm:"column:event_id;size:64"`
	AppliedAt time.Time `gorm:"column:applied_at"`
}

func (graphSourceRecord) TableName() string { return "graph_sources" }

type graphEdgeRecord struct {
	ID        int64  `gorm:"primaryKey;column:id;autoIncrement"`
	SourceUrn string `gorm:"column:source_urn;size:512;index:idx_graph_edges_source"`
	Aspect    string `gorm:"column:aspect;size:128;index:idx_graph_edges_source"`
	FromUrn   string `gorm:"column:from_urn;size:512;index"`
	ToUrn     string `gorm:"column:to_urn;size:512;index"`
	Kind      string `gorm:"column:kind;size:64"`
}

func (graphEdgeRecord) TableName() string { return "graph_edges" }
