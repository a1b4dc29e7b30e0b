package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/ghalamif/kinsumer/internal/domain"
	"github.com/ghalamif/kinsumer/internal/ports"
)

func liveFixture(shardIDs ...string) *fixture {
	pol := testPolicy()
	pol.PollInterval = time.Millisecond
	pol.MonitorInterval = 5 * time.Millisecond
	f := newFixture(pol, shardIDs...)
	f.deps.sleep = nil
	return f
}

func TestReshardSpawnsOnlyNewShards(t *testing.T) {
	f := liveFixture("shard-a", "shard-b")
	s := NewSupervisor("events", f.deps)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		_ = s.Wait()
	}()

	spawned, err := s.Reshard(ctx)
	if err != nil {
		t.Fatalf("reshard: %v", err)
	}
	if !slices.Equal(spawned, []string{"shard-a", "shard-b"}) {
		t.Fatalf("expected initial shards spawned, got %v", spawned)
	}

	f.stream.AddShard("shard-c", "shard-a")
	spawned, err = s.Reshard(ctx)
	if err != nil {
		t.Fatalf("reshard: %v", err)
	}
	if !slices.Equal(spawned, []string{"shard-c"}) {
		t.Fatalf("expected only shard-c, got %v", spawned)
	}
	if got := s.Tracked(); !slices.Equal(got, []string{"shard-a", "shard-b", "shard-c"}) {
		t.Fatalf("unexpected tracked set %v", got)
	}

	spawned, _ = s.Reshard(ctx)
	if len(spawned) != 0 {
		t.Fatalf("expected no respawn of tracked shards, got %v", spawned)
	}
	if f.obs.gauge(ports.MetricActiveShards) != 3 {
		t.Fatalf("expected active shard gauge 3, got %v", f.obs.gauge(ports.MetricActiveShards))
	}
}

func TestClosedShardIsNotRespawned(t *testing.T) {
	f := liveFixture("parent")
	f.put(t, "parent", 2)
	f.stream.CloseShard("parent")
	f.stream.AddShard("child", "parent")

	s := NewSupervisor("events", f.deps)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		_ = s.Wait()
	}()

	if _, err := s.Reshard(ctx); err != nil {
		t.Fatalf("reshard: %v", err)
	}
	waitFor(t, "parent to close", func() bool { return slices.Contains(s.Finished(), "parent") })

	if got := s.Tracked(); !slices.Equal(got, []string{"child"}) {
		t.Fatalf("expected only child tracked, got %v", got)
	}
	spawned, err := s.Reshard(ctx)
	if err != nil {
		t.Fatalf("reshard: %v", err)
	}
	if len(spawned) != 0 {
		t.Fatalf("expected closed parent not to be respawned, got %v", spawned)
	}
	if n := f.sink.recordCount(); n != 2 {
		t.Fatalf("expected parent records consumed, got %d", n)
	}
}

func TestFailedWorkerStaysTracked(t *testing.T) {
	f := liveFixture("shard-0")
	f.stream.FailNext("shard-0", fmt.Errorf("get records: %w", ports.ErrIteratorExpired))

	s := NewSupervisor("events", f.deps)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		_ = s.Wait()
	}()

	if _, err := s.Reshard(ctx); err != nil {
		t.Fatalf("reshard: %v", err)
	}
	w, ok := s.Worker("shard-0")
	if !ok {
		t.Fatalf("expected shard-0 to be tracked")
	}
	waitFor(t, "worker to fail", func() bool { return w.State() == domain.ShardFailed })

	spawned, _ := s.Reshard(ctx)
	if len(spawned) != 0 {
		t.Fatalf("expected failed shard not to be restarted, got %v", spawned)
	}
	if _, ok := s.Worker("shard-0"); !ok {
		t.Fatalf("expected failed worker to stay tracked")
	}
	waitFor(t, "gauge update", func() bool { return f.obs.gauge(ports.MetricActiveShards) == 0 })
}

func TestDispatchFailsFastWhenStreamNotActive(t *testing.T) {
	f := liveFixture("shard-0")
	f.stream.SetStatus(domain.StreamCreating)

	err := NewSupervisor("events", f.deps).Dispatch(context.Background())
	if !errors.Is(err, ports.ErrStreamNotActive) {
		t.Fatalf("expected ErrStreamNotActive, got %v", err)
	}
	if n := f.stream.Fetches("shard-0"); n != 0 {
		t.Fatalf("expected no worker to start, got %d fetches", n)
	}
}

func TestDispatchConsumesEveryShardAndPicksUpNewOnes(t *testing.T) {
	f := liveFixture("shard-a", "shard-b")
	f.put(t, "shard-a", 3)
	f.put(t, "shard-b", 2)

	s := NewSupervisor("events", f.deps)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Dispatch(ctx) }()

	waitFor(t, "initial records", func() bool { return f.sink.recordCount() == 5 })

	f.stream.AddShard("shard-c", "")
	f.put(t, "shard-c", 1)
	waitFor(t, "resharded records", func() bool { return f.sink.recordCount() == 6 })

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	snapshot, err := f.cp.GetCheckpoints(context.Background())
	if err != nil {
		t.Fatalf("checkpoints: %v", err)
	}
	if len(snapshot) != 3 {
		t.Fatalf("expected a checkpoint per shard, got %v", snapshot)
	}
}
