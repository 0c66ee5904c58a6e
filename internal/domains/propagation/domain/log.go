package domain

import (
	"time"

	aspects "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
)

// Partition indexes one ordered shard of the event log.
type Partition int32

// Offset is a position inside one partition. The first record is at 0.
type Offset int64

// NoOffset marks "nothing processed yet".
const NoOffset Offset = -1

// LogRecord is an audit event at its position in the log.
type LogRecord struct {
	Partition  Partition          `json:"partition"`
	Offset     Offset             `json:"offset"`
	Key        string             `json:"key"`
	Event      aspects.AuditEvent `json:"event"`
	AppendedAt time.Time          `json:"appendedAt"`
}

// Checkpoint is the last offset a consumer group fully processed in one partition.
type Checkpoint struct {
	Group     string    `json:"group"`
	Partition Partition `json:"partition"`
	Offset    Offset    `json:"offset"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewCheckpoint returns the checkpoint of a group that has processed nothing.
func NewCheckpoint(group string, partition Partition) Checkpoint {
	return Checkpoint{Group: group, Partition: partition, Offset: NoOffset}
}

// Next is the offset the group reads next.
func (c Checkpoint) Next() Offset {
	return c.Offset + 1
}
