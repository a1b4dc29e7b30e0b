package bucket

import (
	"sync"

	"github.com/ghalamif/kinsumer/internal/domain"
	"github.com/ghalamif/kinsumer/internal/ports"
)

// MemBucket buffers a shard's records in arrival order. The size limit is
// advisory: Add never rejects, the limits are only consulted by Get.
type MemBucket struct {
	mu         sync.Mutex
	data       []domain.Record
	polls      int
	sizeLimit  int
	countLimit int
}

func NewMemBucket(sizeLimit, countLimit int) *MemBucket {
	return &MemBucket{
		sizeLimit:  sizeLimit,
		countLimit: countLimit,
	}
}

func (b *MemBucket) Add(r domain.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, r)
}

// Get drains nothing by itself. Without force every call counts as a poll and
// a batch is only returned once the size or poll count limit is reached.
func (b *MemBucket) Get(force bool) ports.Drained {
	b.mu.Lock()
	defer b.mu.Unlock()
	if force {
		return b.snapshotLocked()
	}
	b.polls++
	if len(b.data) == 0 {
		return ports.Drained{}
	}
	if len(b.data) >= b.sizeLimit || b.polls >= b.countLimit {
		return b.snapshotLocked()
	}
	return ports.Drained{}
}

func (b *MemBucket) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = nil
	b.polls = 0
}

func (b *MemBucket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Polls returns the number of non-forced Get calls since the last Flush.
func (b *MemBucket) Polls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.polls
}

func (b *MemBucket) snapshotLocked() ports.Drained {
	if len(b.data) == 0 {
		return ports.Drained{}
	}
	out := make([]domain.Record, len(b.data))
	copy(out, b.data)
	last := out[len(out)-1]
	return ports.Drained{
		Records:              out,
		LastSequenceNumber:   last.SequenceNumber,
		LastArrivalTimestamp: last.ArrivalTimestamp,
	}
}

var _ ports.Bucket = (*MemBucket)(nil)
