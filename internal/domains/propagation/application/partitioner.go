package application

import (
	"github.com/cespare/xxhash/v2"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/domain"
)

// Partitioner maps partition keys (entity urns) onto a fixed partition count.
type Partitioner struct {
	partitions int
}

// NewPartitioner returns a partitioner over n partitions.
func NewPartitioner(n int) Partitioner {
	if n < 1 {
		n = 1
	}
	return Partitioner{partitions: n}
}

// Partition is stable for a key as long as the partition count is unchanged.
func (p Partitioner) Partition(key string) domain.Partition {
	return domain.Partition(xxhash.Sum64String(key) % uint64(p.partitions))
}
