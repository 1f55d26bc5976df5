package storage

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tinydb/storagecore/internal/storage/pager"
)

// CheckpointScheduler periodically flushes every dirty frame in a
// BufferPool to disk on a cron schedule. It is the only background
// activity this module runs on its own; everything else happens
// synchronously inside a caller's Pin/Unpin calls.
type CheckpointScheduler struct {
	cron *cron.Cron
	pool *pager.BufferPool

	mu      sync.Mutex
	lastRun time.Time
	lastErr error
}

// NewCheckpointScheduler parses cronExpr (standard 5-field cron syntax,
// seconds not included) and returns a scheduler that will call
// pool.FlushAll on each firing once Start is called.
func NewCheckpointScheduler(pool *pager.BufferPool, cronExpr string) (*CheckpointScheduler, error) {
	cs := &CheckpointScheduler{
		cron: cron.New(cron.WithLocation(time.UTC)),
		pool: pool,
	}
	if _, err := cs.cron.AddFunc(cronExpr, cs.runCheckpoint); err != nil {
		return nil, fmt.Errorf("checkpoint scheduler: invalid cron expression %q: %w", cronExpr, err)
	}
	return cs, nil
}

// Start begins firing the checkpoint schedule in the background.
func (cs *CheckpointScheduler) Start() { cs.cron.Start() }

// Stop halts the schedule and waits for any in-flight checkpoint to
// finish.
func (cs *CheckpointScheduler) Stop() {
	ctx := cs.cron.Stop()
	<-ctx.Done()
}

// RunNow triggers an immediate, synchronous checkpoint outside the cron
// schedule.
func (cs *CheckpointScheduler) RunNow() error {
	cs.runCheckpoint()
	return cs.LastError()
}

func (cs *CheckpointScheduler) runCheckpoint() {
	err := cs.pool.FlushAll()
	cs.mu.Lock()
	cs.lastRun = time.Now()
	cs.lastErr = err
	cs.mu.Unlock()
	if err != nil {
		log.Printf("checkpoint: flush failed: %v", err)
		return
	}
	log.Printf("checkpoint: flushed all dirty frames")
}

// LastCheckpoint reports when the most recent checkpoint ran.
func (cs *CheckpointScheduler) LastCheckpoint() time.Time {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.lastRun
}

// LastError reports the error from the most recent checkpoint, if any.
func (cs *CheckpointScheduler) LastError() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.lastErr
}
