package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tinydb/storagecore/internal/storage/pager"
)

func TestEngineOpenCloseRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Directory = filepath.Join(t.TempDir(), "db")
	cfg.NumBuffers = 8

	eng, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	ctx := context.Background()
	id := pager.BlockId{Filename: "t.dat", BlockNum: 0}
	if _, err := eng.Files.Append("t.dat"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	h, err := eng.Pool.Pin(ctx, id)
	if err != nil {
		t.Fatalf("Pin: %v", err)
	}
	copy(h.Page(), []byte("engine-test"))
	h.MarkDirty(1)
	eng.Pool.Unpin(h)

	if err := eng.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	fm2, err := pager.NewFileManager(cfg.Directory, cfg.BlockSize, false)
	if err != nil {
		t.Fatalf("reopen FileManager: %v", err)
	}
	defer fm2.Close()
	buf := make([]byte, cfg.BlockSize)
	if err := fm2.Read(id, buf); err != nil {
		t.Fatalf("Read after close: %v", err)
	}
	if string(buf[:len("engine-test")]) != "engine-test" {
		t.Fatalf("expected Close to have flushed the dirty frame, got %q", buf[:len("engine-test")])
	}
}

// TestCheckpointScheduler: a pool with a fast cron schedule and one
// dirty frame observes FlushAll invoked without the test calling it
// directly. cron's @every floor is one second, so the schedule runs at
// 1s and the test waits a little past two periods.
func TestCheckpointScheduler(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Directory = filepath.Join(t.TempDir(), "db")
	cfg.NumBuffers = 4
	cfg.CheckpointCron = "@every 1s"

	eng, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer eng.Close()

	if eng.Check == nil {
		t.Fatalf("expected a checkpoint scheduler to be attached when checkpoint_cron is set")
	}

	ctx := context.Background()
	id := pager.BlockId{Filename: "t.dat", BlockNum: 0}
	if _, err := eng.Files.Append("t.dat"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	h, err := eng.Pool.Pin(ctx, id)
	if err != nil {
		t.Fatalf("Pin: %v", err)
	}
	copy(h.Page(), []byte("scheduled"))
	h.MarkDirty(1)
	eng.Pool.Unpin(h)

	deadline := time.Now().Add(2500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if !eng.Check.LastCheckpoint().IsZero() {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if eng.Check.LastCheckpoint().IsZero() {
		t.Fatalf("expected the checkpoint scheduler to have run at least once within 2.5s")
	}
	if err := eng.Check.LastError(); err != nil {
		t.Fatalf("expected the scheduled checkpoint to succeed, got %v", err)
	}
}

func TestEngineWithoutCheckpointCronHasNoScheduler(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Directory = filepath.Join(t.TempDir(), "db")
	cfg.NumBuffers = 4

	eng, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer eng.Close()
	if eng.Check != nil {
		t.Fatalf("expected no checkpoint scheduler when checkpoint_cron is empty")
	}
}
