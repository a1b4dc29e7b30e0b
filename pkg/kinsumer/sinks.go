package kinsumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrChannelSinkClosed is returned when a channel sink is written to after being closed.
var ErrChannelSinkClosed = errors.New("kinsumer: channel sink closed")

// RecordHandler handles one record of a batch.
type RecordHandler func(ctx context.Context, sc ShardContext, r Record) error

// PerRecord adapts a RecordHandler into an after-consume hook. The first
// failing record stops the batch.
func PerRecord(fn RecordHandler) AfterConsumeFunc {
	return func(ctx context.Context, b Batch) error {
		if fn == nil {
			return fmt.Errorf("per-record hook: nil handler")
		}
		for _, r := range b.Records {
			if err := fn(ctx, b.Shard, r); err != nil {
				return fmt.Errorf("record %s: %w", r.SequenceNumber, err)
			}
		}
		return nil
	}
}

// NewChannelSink exposes batches via a channel; it returns the hook, the
// read-only channel, and a close function that the caller should invoke
// during shutdown. The hook blocks until the batch is received, ctx is done
// or the sink is closed, so the shard is checkpointed only after handoff.
func NewChannelSink(buffer int) (AfterConsumeFunc, <-chan Batch, func()) {
	if buffer < 0 {
		buffer = 0
	}
	s := &channelSink{
		ch:     make(chan Batch, buffer),
		closed: make(chan struct{}),
	}
	return s.write, s.ch, s.close
}

type channelSink struct {
	mu     sync.RWMutex
	ch     chan Batch
	closed chan struct{}
	once   sync.Once
}

func (s *channelSink) write(ctx context.Context, b Batch) error {
	if len(b.Records) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	default:
	}

	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	case <-ctx.Done():
		return ctx.Err()
	case s.ch <- b:
		return nil
	}
}

// close waits for in-flight writes, which unblock on s.closed, before
// closing the channel.
func (s *channelSink) close() {
	s.once.Do(func() {
		close(s.closed)
		s.mu.Lock()
		close(s.ch)
		s.mu.Unlock()
	})
}
