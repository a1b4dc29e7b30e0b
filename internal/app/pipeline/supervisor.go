package pipeline

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ghalamif/kinsumer/internal/domain"
	"github.com/ghalamif/kinsumer/internal/ports"
)

// Supervisor spawns one ShardWorker per open shard and rediscovers the
// shard list every monitor interval, starting workers for shards it has
// not seen yet.
//
// A worker whose shard closed is forgotten but remembered as finished so
// the monitor never respawns it. A worker that failed stays tracked in
// the FAILED state and is not restarted.
type Supervisor struct {
	stream string
	deps   Deps
	group  errgroup.Group

	mu       sync.Mutex
	workers  map[string]*ShardWorker
	finished map[string]struct{}
}

func NewSupervisor(stream string, deps Deps) *Supervisor {
	return &Supervisor{
		stream:   stream,
		deps:     deps.withDefaults(),
		workers:  make(map[string]*ShardWorker),
		finished: make(map[string]struct{}),
	}
}

// Dispatch discovers the stream, starts a worker per shard and runs the
// resharding monitor. It blocks until ctx is cancelled and every worker
// has returned. It fails fast when the stream is not ACTIVE.
func (s *Supervisor) Dispatch(ctx context.Context) error {
	stream, err := s.describe(ctx)
	if err != nil {
		return err
	}
	if !stream.Active() {
		return fmt.Errorf("%w: %s is %s", ports.ErrStreamNotActive, s.stream, stream.Status)
	}

	s.deps.Obs.LogInfo("dispatch_shards",
		ports.Field{Key: "stream", Value: s.stream},
		ports.Field{Key: "shards", Value: stream.ShardIDs()},
	)
	s.spawn(ctx, stream.ShardIDs())

	s.group.Go(func() error {
		s.monitor(ctx)
		return nil
	})
	return s.group.Wait()
}

func (s *Supervisor) describe(ctx context.Context) (domain.Stream, error) {
	stream, err := s.deps.Client.DescribeStream(ctx, s.stream)
	if err != nil {
		return domain.Stream{}, fmt.Errorf("describe stream %s: %w", s.stream, err)
	}
	return stream, nil
}

func (s *Supervisor) monitor(ctx context.Context) {
	interval := s.deps.Policy.MonitorInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Reshard(ctx); err != nil && ctx.Err() == nil {
				s.deps.Obs.LogError("reshard_discovery_failed", err, ports.Field{Key: "stream", Value: s.stream})
			}
		}
	}
}

// Reshard rediscovers the shard list once and spawns workers for shards
// that are neither tracked nor finished. It returns the spawned shard IDs.
// Stream status is not checked here; an UPDATING stream still lists shards.
func (s *Supervisor) Reshard(ctx context.Context) ([]string, error) {
	stream, err := s.describe(ctx)
	if err != nil {
		return nil, err
	}
	discovered := stream.ShardIDs()
	s.deps.Obs.LogInfo("monitor_shards",
		ports.Field{Key: "stream", Value: s.stream},
		ports.Field{Key: "tracked", Value: s.Tracked()},
		ports.Field{Key: "discovered", Value: discovered},
	)

	spawned := s.spawn(ctx, discovered)
	if len(spawned) > 0 {
		s.deps.Obs.LogWarn("spawn_new_shards",
			ports.Field{Key: "stream", Value: s.stream},
			ports.Field{Key: "shards", Value: spawned},
		)
	}
	return spawned, nil
}

func (s *Supervisor) spawn(ctx context.Context, ids []string) []string {
	s.mu.Lock()
	var started []*ShardWorker
	for _, id := range ids {
		if _, ok := s.workers[id]; ok {
			continue
		}
		if _, ok := s.finished[id]; ok {
			continue
		}
		w := NewShardWorker(s.stream, id, s.deps)
		s.workers[id] = w
		started = append(started, w)
	}
	s.setActiveGaugeLocked()
	s.mu.Unlock()

	spawned := make([]string, 0, len(started))
	for _, w := range started {
		w := w
		spawned = append(spawned, w.ShardID())
		s.group.Go(func() error {
			s.exited(w, w.Run(ctx))
			return nil
		})
	}
	return spawned
}

func (s *Supervisor) exited(w *ShardWorker, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case err == nil:
		delete(s.workers, w.ShardID())
		s.finished[w.ShardID()] = struct{}{}
	case ports.Classify(err) == ports.ErrorCanceled:
	default:
		s.deps.Obs.LogCritical("shard_worker_aborted", err,
			ports.Field{Key: "stream", Value: s.stream},
			ports.Field{Key: "shard", Value: w.ShardID()},
		)
	}
	s.setActiveGaugeLocked()
}

func (s *Supervisor) setActiveGaugeLocked() {
	active := 0
	for _, w := range s.workers {
		if w.State() != domain.ShardFailed {
			active++
		}
	}
	s.deps.Obs.SetGauge(ports.MetricActiveShards, float64(active))
}

// Tracked returns the IDs of the shards with a worker, sorted.
func (s *Supervisor) Tracked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Finished returns the IDs of the shards that were consumed to the end, sorted.
func (s *Supervisor) Finished() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.finished))
	for id := range s.finished {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (s *Supervisor) Worker(shardID string) (*ShardWorker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[shardID]
	return w, ok
}

// Wait blocks until every spawned worker has returned.
func (s *Supervisor) Wait() error {
	return s.group.Wait()
}
