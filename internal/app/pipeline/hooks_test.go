package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/ghalamif/kinsumer/internal/domain"
)

func TestHooksRunMostRecentFirst(t *testing.T) {
	var h Hooks
	var order []string
	h.OnAfterConsume(func(context.Context, Batch) error { order = append(order, "first"); return nil })
	h.OnAfterConsume(func(context.Context, Batch) error { order = append(order, "second"); return nil })

	if err := h.RunAfterConsume(context.Background(), Batch{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Fatalf("expected [second first], got %v", order)
	}
}

func TestTransformChainComposes(t *testing.T) {
	var h Hooks
	h.OnTransform(func(_ context.Context, b Batch) ([]domain.Record, error) {
		return append(b.Records, domain.Record{SequenceNumber: "added-by-first"}), nil
	})
	h.OnTransform(func(_ context.Context, b Batch) ([]domain.Record, error) {
		return b.Records[1:], nil
	})

	in := Batch{Records: []domain.Record{{SequenceNumber: "1"}, {SequenceNumber: "2"}}}
	out, err := h.RunTransform(context.Background(), in)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if len(out) != 2 || out[0].SequenceNumber != "2" || out[1].SequenceNumber != "added-by-first" {
		t.Fatalf("unexpected transform output %+v", out)
	}
}

func TestTransformWithoutHooksIsIdentity(t *testing.T) {
	var h Hooks
	in := Batch{Records: []domain.Record{{SequenceNumber: "1"}}}
	out, err := h.RunTransform(context.Background(), in)
	if err != nil || len(out) != 1 || out[0].SequenceNumber != "1" {
		t.Fatalf("expected identity, got %+v (%v)", out, err)
	}
}

func TestAfterConsumeStopsAtFirstError(t *testing.T) {
	var h Hooks
	called := false
	h.OnAfterConsume(func(context.Context, Batch) error { called = true; return nil })
	h.OnAfterConsume(func(context.Context, Batch) error { return errors.New("nope") })

	if err := h.RunAfterConsume(context.Background(), Batch{}); err == nil {
		t.Fatalf("expected error")
	}
	if called {
		t.Fatalf("expected earlier-registered hook to be skipped")
	}
}

func TestTeardownRunsEveryHookAndRecoversPanics(t *testing.T) {
	var h Hooks
	var seen []string
	h.OnTeardown(func(_ context.Context, sc ShardContext, err error) {
		seen = append(seen, sc.ShardID+":"+err.Error())
	})
	h.OnTeardown(func(context.Context, ShardContext, error) { panic("teardown exploded") })

	err := h.RunTeardown(context.Background(), ShardContext{ShardID: "shard-0"}, errors.New("stop"))
	if !errors.Is(err, ErrHookPanic) {
		t.Fatalf("expected recovered panic, got %v", err)
	}
	if len(seen) != 1 || seen[0] != "shard-0:stop" {
		t.Fatalf("expected remaining teardown to run, got %v", seen)
	}
}

func TestNilHooksAreIgnored(t *testing.T) {
	var h Hooks
	h.OnTransform(nil)
	h.OnAfterConsume(nil)
	h.OnTeardown(nil)
	if len(h.transforms)+len(h.afterConsume)+len(h.teardown) != 0 {
		t.Fatalf("expected nil hooks to be dropped")
	}
}

func TestShardContextFields(t *testing.T) {
	sc := ShardContext{StreamName: "events", ShardID: "shard-0"}
	fields := sc.Fields()
	if len(fields) != 2 || fields[0].Value != "events" || fields[1].Value != "shard-0" {
		t.Fatalf("unexpected fields %+v", fields)
	}
	if n := len(ShardContext{StreamName: "events"}.Fields()); n != 1 {
		t.Fatalf("expected consumer-level context to omit shard, got %d fields", n)
	}
}
