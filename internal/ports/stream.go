package ports

import (
	"context"

	"github.com/ghalamif/kinsumer/internal/domain"
)

// IteratorType selects where a new shard iterator is positioned.
type IteratorType string

const (
	IteratorTrimHorizon         IteratorType = "TRIM_HORIZON"
	IteratorLatest              IteratorType = "LATEST"
	IteratorAfterSequenceNumber IteratorType = "AFTER_SEQUENCE_NUMBER"
	IteratorAtSequenceNumber    IteratorType = "AT_SEQUENCE_NUMBER"
)

// IteratorRequest describes a GetShardIterator call.
type IteratorRequest struct {
	StreamName             string
	ShardID                string
	Type                   IteratorType
	StartingSequenceNumber string
}

// RecordsOutput is one GetRecords page. An empty NextIterator means the shard
// is closed and will never yield more data.
type RecordsOutput struct {
	Records            []domain.Record
	NextIterator       string
	MillisBehindLatest int64
}

// StreamClient is the wire boundary to the stream service.
type StreamClient interface {
	DescribeStream(ctx context.Context, streamName string) (domain.Stream, error)
	GetShardIterator(ctx context.Context, req IteratorRequest) (string, error)
	GetRecords(ctx context.Context, iterator string, limit int) (RecordsOutput, error)
}
