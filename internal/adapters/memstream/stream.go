// Package memstream is an in-process stream service implementing
// ports.StreamClient. It backs the end-to-end tests and the examples.
package memstream

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ghalamif/kinsumer/internal/domain"
	"github.com/ghalamif/kinsumer/internal/ports"
)

type shard struct {
	id      string
	parent  string
	records []domain.Record
	closed  bool
}

// Stream is safe for concurrent use.
type Stream struct {
	mu       sync.Mutex
	name     string
	status   domain.StreamStatus
	shards   []*shard
	byID     map[string]*shard
	seq      uint64
	failures map[string][]error
	requests []ports.IteratorRequest
	fetches  map[string]int
	now      func() time.Time
}

func New(name string, shardIDs ...string) *Stream {
	s := &Stream{
		name:     name,
		status:   domain.StreamActive,
		byID:     make(map[string]*shard),
		failures: make(map[string][]error),
		fetches:  make(map[string]int),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, id := range shardIDs {
		s.AddShard(id, "")
	}
	return s
}

// SetStatus changes the status reported by DescribeStream.
func (s *Stream) SetStatus(status domain.StreamStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// AddShard makes a new shard visible to the next DescribeStream call.
func (s *Stream) AddShard(id, parent string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; ok {
		return
	}
	sh := &shard{id: id, parent: parent}
	s.shards = append(s.shards, sh)
	s.byID[id] = sh
}

// CloseShard stops the shard from accepting writes. Readers that reach its
// end receive no continuation iterator.
func (s *Stream) CloseShard(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sh, ok := s.byID[id]; ok {
		sh.closed = true
	}
}

// Put appends a record arriving now.
func (s *Stream) Put(shardID, partitionKey string, data []byte) (domain.Record, error) {
	return s.PutAt(shardID, partitionKey, data, s.now())
}

// PutAt appends a record with an explicit arrival time.
func (s *Stream) PutAt(shardID, partitionKey string, data []byte, arrival time.Time) (domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.byID[shardID]
	if !ok {
		return domain.Record{}, fmt.Errorf("put: unknown shard %s", shardID)
	}
	if sh.closed {
		return domain.Record{}, fmt.Errorf("put: shard %s is closed", shardID)
	}
	s.seq++
	r := domain.Record{
		ShardID:          shardID,
		SequenceNumber:   fmt.Sprintf("%020d", s.seq),
		ArrivalTimestamp: arrival.UTC(),
		Data:             data,
		PartitionKey:     partitionKey,
	}
	sh.records = append(sh.records, r)
	return r, nil
}

// FailNext queues err to be returned by the next GetRecords on shardID.
func (s *Stream) FailNext(shardID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[shardID] = append(s.failures[shardID], err)
}

// IteratorRequests returns every GetShardIterator call seen so far.
func (s *Stream) IteratorRequests() []ports.IteratorRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ports.IteratorRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// Fetches returns how many GetRecords calls targeted shardID.
func (s *Stream) Fetches(shardID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches[shardID]
}

func (s *Stream) DescribeStream(ctx context.Context, streamName string) (domain.Stream, error) {
	if err := ctx.Err(); err != nil {
		return domain.Stream{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if streamName != s.name {
		return domain.Stream{}, fmt.Errorf("describe stream: stream %s not found", streamName)
	}
	out := domain.Stream{Name: s.name, Status: s.status}
	for _, sh := range s.shards {
		out.Shards = append(out.Shards, domain.Shard{ID: sh.id, ParentShardID: sh.parent})
	}
	return out, nil
}

func (s *Stream) GetShardIterator(ctx context.Context, req ports.IteratorRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)

	sh, ok := s.byID[req.ShardID]
	if !ok || req.StreamName != s.name {
		return "", fmt.Errorf("get shard iterator: unknown shard %s/%s", req.StreamName, req.ShardID)
	}

	var pos int
	switch req.Type {
	case ports.IteratorTrimHorizon:
		pos = 0
	case ports.IteratorLatest:
		pos = len(sh.records)
	case ports.IteratorAtSequenceNumber, ports.IteratorAfterSequenceNumber:
		idx := -1
		for i, r := range sh.records {
			if r.SequenceNumber == req.StartingSequenceNumber {
				idx = i
				break
			}
		}
		if idx < 0 {
			return "", fmt.Errorf("get shard iterator: sequence %s not in shard %s", req.StartingSequenceNumber, sh.id)
		}
		pos = idx
		if req.Type == ports.IteratorAfterSequenceNumber {
			pos++
		}
	default:
		return "", fmt.Errorf("get shard iterator: unsupported iterator type %s", req.Type)
	}
	return iteratorToken(sh.id, pos), nil
}

func (s *Stream) GetRecords(ctx context.Context, iterator string, limit int) (ports.RecordsOutput, error) {
	if err := ctx.Err(); err != nil {
		return ports.RecordsOutput{}, err
	}
	shardID, pos, err := parseIterator(iterator)
	if err != nil {
		return ports.RecordsOutput{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches[shardID]++

	if queued := s.failures[shardID]; len(queued) > 0 {
		s.failures[shardID] = queued[1:]
		return ports.RecordsOutput{}, queued[0]
	}

	sh, ok := s.byID[shardID]
	if !ok {
		return ports.RecordsOutput{}, fmt.Errorf("get records: unknown shard %s", shardID)
	}
	if pos > len(sh.records) {
		pos = len(sh.records)
	}
	end := len(sh.records)
	if limit > 0 && pos+limit < end {
		end = pos + limit
	}

	out := ports.RecordsOutput{
		Records: append([]domain.Record(nil), sh.records[pos:end]...),
	}
	if end < len(sh.records) || !sh.closed {
		out.NextIterator = iteratorToken(sh.id, end)
	}
	if end < len(sh.records) {
		out.MillisBehindLatest = s.now().Sub(sh.records[end].ArrivalTimestamp).Milliseconds()
	}
	return out, nil
}

func iteratorToken(shardID string, pos int) string {
	return shardID + "/" + strconv.Itoa(pos)
}

func parseIterator(token string) (string, int, error) {
	i := strings.LastIndex(token, "/")
	if i <= 0 {
		return "", 0, fmt.Errorf("get records: malformed iterator %q", token)
	}
	pos, err := strconv.Atoi(token[i+1:])
	if err != nil || pos < 0 {
		return "", 0, fmt.Errorf("get records: malformed iterator %q", token)
	}
	return token[:i], pos, nil
}

var _ ports.StreamClient = (*Stream)(nil)
