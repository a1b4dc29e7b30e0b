package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestFileCheckpointerRoundTripAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "checkpoints.json")

	c, err := NewFileCheckpointer(path)
	if err != nil {
		t.Fatalf("new checkpointer: %v", err)
	}

	all, err := c.GetCheckpoints(ctx)
	if err != nil || len(all) != 0 {
		t.Fatalf("expected empty mapping for missing file, got %v err=%v", all, err)
	}

	if err := c.Checkpoint(ctx, "shard-0", "100"); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if err := c.Checkpoint(ctx, "shard-1", "7"); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if err := c.Checkpoint(ctx, "shard-0", "250"); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}

	seq, ok, err := c.GetCheckpoint(ctx, "shard-0")
	if err != nil || !ok || seq != "250" {
		t.Fatalf("expected shard-0=250, got %q ok=%v err=%v", seq, ok, err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	var onDisk map[string]string
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		t.Fatalf("file is not a JSON object: %v", err)
	}
	if onDisk["shard-0"] != "250" || onDisk["shard-1"] != "7" {
		t.Fatalf("unexpected persisted mapping %v", onDisk)
	}

	reloaded, err := NewFileCheckpointer(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	again, _ := reloaded.GetCheckpoints(ctx)
	if len(again) != 2 || again["shard-0"] != "250" || again["shard-1"] != "7" {
		t.Fatalf("reloaded mapping differs: %v", again)
	}
}

func TestFileCheckpointerSnapshotIsCopy(t *testing.T) {
	ctx := context.Background()
	c, err := NewFileCheckpointer(filepath.Join(t.TempDir(), "cp.json"))
	if err != nil {
		t.Fatalf("new checkpointer: %v", err)
	}
	if err := c.Checkpoint(ctx, "a", "1"); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	snap, _ := c.GetCheckpoints(ctx)
	snap["a"] = "mutated"
	snap["b"] = "2"

	if seq, _, _ := c.GetCheckpoint(ctx, "a"); seq != "1" {
		t.Fatalf("caller mutation leaked into store: %q", seq)
	}
	if _, ok, _ := c.GetCheckpoint(ctx, "b"); ok {
		t.Fatalf("caller insertion leaked into store")
	}
}

func TestFileCheckpointerConcurrentShards(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cp.json")
	c, err := NewFileCheckpointer(path)
	if err != nil {
		t.Fatalf("new checkpointer: %v", err)
	}

	const shards = 16
	var wg sync.WaitGroup
	for i := 0; i < shards; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for n := 1; n <= 5; n++ {
				if err := c.Checkpoint(ctx, fmt.Sprintf("shard-%02d", i), fmt.Sprintf("%d", n)); err != nil {
					t.Errorf("checkpoint: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	reloaded, err := NewFileCheckpointer(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	all, _ := reloaded.GetCheckpoints(ctx)
	if len(all) != shards {
		t.Fatalf("expected %d shards persisted, got %d (%v)", shards, len(all), all)
	}
	for id, seq := range all {
		if seq != "5" {
			t.Fatalf("shard %s: expected final sequence 5, got %s", id, seq)
		}
	}
}

func TestFileCheckpointerRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewFileCheckpointer(path); err == nil {
		t.Fatalf("expected corrupt checkpoint file to fail loading")
	}
}

func TestFileCheckpointerEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.json")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := NewFileCheckpointer(path)
	if err != nil {
		t.Fatalf("empty file should load as empty mapping: %v", err)
	}
	if _, ok, _ := c.GetCheckpoint(context.Background(), "shard-0"); ok {
		t.Fatalf("expected no checkpoint")
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got, err := expandHome("~/kinsumer/cp.json")
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if want := filepath.Join(home, "kinsumer", "cp.json"); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if got, _ := expandHome("/abs/cp.json"); got != "/abs/cp.json" {
		t.Fatalf("absolute path changed: %s", got)
	}
}
