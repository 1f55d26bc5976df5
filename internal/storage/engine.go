package storage

import (
	"fmt"
	"time"

	"github.com/tinydb/storagecore/internal/storage/pager"
)

// Engine bundles the file manager, buffer pool, and (optional) checkpoint
// scheduler that make up one open storage core instance.
type Engine struct {
	Files  *pager.FileManager
	Pool   *pager.BufferPool
	Check  *CheckpointScheduler // nil if cfg.CheckpointCron is empty
	config Config
}

// Open constructs an Engine from cfg: a FileManager over cfg.Directory, a
// BufferPool sized and configured per cfg, and, if cfg.CheckpointCron is
// non-empty, a started CheckpointScheduler flushing the pool on that
// schedule.
func Open(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	fm, err := pager.NewFileManager(cfg.Directory, cfg.BlockSize, cfg.Fresh)
	if err != nil {
		return nil, fmt.Errorf("open storage engine: %w", err)
	}

	pool := pager.NewBufferPool(fm, pager.BufferPoolConfig{
		NumBuffers:     cfg.NumBuffers,
		Policy:         cfg.policyKind(),
		LatchTableMode: cfg.latchTableMode(),
		LatchShards:    cfg.LatchShards,
		PinTimeout:     time.Duration(cfg.LockTimeoutMs) * time.Millisecond,
	})

	eng := &Engine{Files: fm, Pool: pool, config: cfg}

	if cfg.CheckpointCron != "" {
		cs, err := NewCheckpointScheduler(pool, cfg.CheckpointCron)
		if err != nil {
			_ = fm.Close()
			return nil, err
		}
		cs.Start()
		eng.Check = cs
	}

	return eng, nil
}

// Close stops the checkpoint scheduler (if running), flushes every dirty
// frame, and closes the underlying files.
func (e *Engine) Close() error {
	if e.Check != nil {
		e.Check.Stop()
	}
	return e.Pool.Close()
}
