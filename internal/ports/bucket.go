package ports

import (
	"time"

	"github.com/ghalamif/kinsumer/internal/domain"
)

// Drained is the result of Bucket.Get. LastSequenceNumber and
// LastArrivalTimestamp are zero when Records is empty.
type Drained struct {
	Records              []domain.Record
	LastSequenceNumber   string
	LastArrivalTimestamp time.Time
}

// Empty reports whether nothing was drained.
func (d Drained) Empty() bool { return len(d.Records) == 0 }

// Bucket buffers one shard's records until a batch is due.
type Bucket interface {
	Add(r domain.Record)
	// Get returns the buffered records when force is set or a threshold is
	// reached. The bucket is not cleared; the caller must Flush.
	Get(force bool) Drained
	Flush()
	Len() int
}
