package pager

import (
	"context"
	"hash/fnv"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// frame is one entry of the pool's fixed-length array. Its fields are the
// Frame described in the data model: the page bytes, the pin count, the
// resident block (if any), dirty/lsn bookkeeping opaque to the pool
// itself, and the policy-specific ref bit / intrusive links.
type frame struct {
	mu sync.Mutex // guards pins, hasBlock, blockID, dirty, lsn

	index    int
	page     []byte
	pins     int
	hasBlock bool
	blockID  BlockId
	dirty    bool
	lsn      uint64

	// Policy bookkeeping, mutated only under the pool's policy lock.
	refBit bool      // Clock, SIEVE
	links  listLinks // LRU, SIEVE
}

// LatchTableMode selects how the per-block latch table releases entries.
// Per DESIGN.md both variants are observationally equivalent; only
// steady-state memory and contention differ.
type LatchTableMode uint8

const (
	// LatchBaseline reclaims a latch entry as soon as its last holder
	// releases it (reference-counted release), trading lower memory for
	// more contention on the table mutex.
	LatchBaseline LatchTableMode = iota
	// LatchSharded spreads entries across N independent shards and lets
	// entries persist once created, trading memory for less contention.
	LatchSharded
)

// latchTable provides per-block mutual exclusion over the miss-path I/O
// and metadata-install region.
type latchTable interface {
	lock(id BlockId)
	unlock(id BlockId)
}

type latchEntry struct {
	mu   sync.Mutex
	refs int
}

// baselineLatchTable is a single map whose entries are deleted once the
// last waiter releases them (reference-counted cleanup).
type baselineLatchTable struct {
	mu      sync.Mutex
	entries map[BlockId]*latchEntry
}

func newBaselineLatchTable() *baselineLatchTable {
	return &baselineLatchTable{entries: make(map[BlockId]*latchEntry)}
}

func (t *baselineLatchTable) lock(id BlockId) {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		e = &latchEntry{}
		t.entries[id] = e
	}
	e.refs++
	t.mu.Unlock()
	e.mu.Lock()
}

func (t *baselineLatchTable) unlock(id BlockId) {
	t.mu.Lock()
	e := t.entries[id]
	e.refs--
	if e.refs == 0 {
		delete(t.entries, id)
	}
	t.mu.Unlock()
	e.mu.Unlock()
}

// shardedLatchTable spreads the latch map across N independent shards and
// never deletes an entry once created.
type shardedLatchTable struct {
	shards []struct {
		mu      sync.Mutex
		entries map[BlockId]*latchEntry
	}
}

func newShardedLatchTable(n int) *shardedLatchTable {
	if n <= 0 {
		n = 16
	}
	t := &shardedLatchTable{shards: make([]struct {
		mu      sync.Mutex
		entries map[BlockId]*latchEntry
	}, n)}
	for i := range t.shards {
		t.shards[i].entries = make(map[BlockId]*latchEntry)
	}
	return t
}

func (t *shardedLatchTable) shardFor(id BlockId) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id.Filename))
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(id.BlockNum >> (8 * i))
	}
	_, _ = h.Write(b[:])
	return int(h.Sum32()) % len(t.shards)
}

func (t *shardedLatchTable) lock(id BlockId) {
	s := &t.shards[t.shardFor(id)]
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		e = &latchEntry{}
		s.entries[id] = e
	}
	e.refs++
	s.mu.Unlock()
	e.mu.Lock()
}

func (t *shardedLatchTable) unlock(id BlockId) {
	s := &t.shards[t.shardFor(id)]
	s.mu.Lock()
	e := s.entries[id]
	e.refs--
	s.mu.Unlock()
	e.mu.Unlock()
}

// Stats reports cumulative pin outcomes for a pool.
type Stats struct {
	Hits    int64
	Misses  int64
	HitRate float64
}

// Handle is a pinned reference to a frame, returned by Pin. It must be
// released with Unpin exactly once.
type Handle struct {
	pool  *BufferPool
	f     *frame
	block BlockId
}

// BlockId returns the block this handle is pinned to.
func (h *Handle) BlockId() BlockId { return h.block }

// Page returns the frame's raw bytes. Valid only while the handle is
// held; the caller must hold an external write lock before mutating it
// and must call MarkDirty before Unpin if it does.
func (h *Handle) Page() []byte { return h.f.page }

// MarkDirty flags the frame as modified so it is flushed before reuse.
func (h *Handle) MarkDirty(lsn uint64) {
	h.f.mu.Lock()
	h.f.dirty = true
	h.f.lsn = lsn
	h.f.mu.Unlock()
}

// BufferPool is the fixed-size frame pool with pluggable replacement
// policy and per-block latches described in the component design.
type BufferPool struct {
	fm         *FileManager
	numBuffers int
	frames     []*frame

	residentMu sync.Mutex
	resident   map[BlockId]*frame

	latch latchTable

	policyMu sync.Mutex
	policy   replacementPolicy

	poolMu  sync.Mutex
	poolCnd *sync.Cond

	timeout time.Duration

	statsEnabled atomic.Bool
	hits         atomic.Int64
	misses       atomic.Int64

	logger *log.Logger
}

// BufferPoolConfig configures a new BufferPool.
type BufferPoolConfig struct {
	NumBuffers     int
	Policy         Policy
	LatchTableMode LatchTableMode
	LatchShards    int // only used when LatchTableMode == LatchSharded
	PinTimeout     time.Duration
	Logger         *log.Logger
}

// NewBufferPool constructs a pool of cfg.NumBuffers frames backed by fm.
func NewBufferPool(fm *FileManager, cfg BufferPoolConfig) *BufferPool {
	if cfg.NumBuffers <= 0 {
		panic("pager: BufferPool requires at least one buffer")
	}
	if cfg.PinTimeout <= 0 {
		cfg.PinTimeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	bp := &BufferPool{
		fm:         fm,
		numBuffers: cfg.NumBuffers,
		frames:     make([]*frame, cfg.NumBuffers),
		resident:   make(map[BlockId]*frame),
		policy:     newPolicy(cfg.Policy, cfg.NumBuffers),
		timeout:    cfg.PinTimeout,
		logger:     cfg.Logger,
	}
	bp.poolCnd = sync.NewCond(&bp.poolMu)
	for i := range bp.frames {
		bp.frames[i] = &frame{index: i, page: make([]byte, fm.BlockSize()), links: listLinks{prev: noIndex, next: noIndex}}
	}
	bp.policy.seed(bp)
	switch cfg.LatchTableMode {
	case LatchSharded:
		bp.latch = newShardedLatchTable(cfg.LatchShards)
	default:
		bp.latch = newBaselineLatchTable()
	}
	return bp
}

func (bp *BufferPool) linksOf(idx int) *listLinks { return &bp.frames[idx].links }

// removeResidentLocked drops id from the resident table. Must be called
// with bp.policyMu held (it is invoked from inside recordHit).
func (bp *BufferPool) removeResidentLocked(id BlockId) {
	bp.residentMu.Lock()
	delete(bp.resident, id)
	bp.residentMu.Unlock()
}

// requeueFrame returns a frame to the policy's eviction candidates after
// a failed load left the miss path unable to assign it. Without this the
// frame would stay unthreaded from the list-based policies forever.
func (bp *BufferPool) requeueFrame(idx int) {
	bp.policyMu.Lock()
	bp.policy.onFrameAssigned(bp, idx)
	bp.policyMu.Unlock()
}

// EnableStats turns on hit/miss counting.
func (bp *BufferPool) EnableStats() { bp.statsEnabled.Store(true) }

// ResetStats zeroes the hit/miss counters.
func (bp *BufferPool) ResetStats() {
	bp.hits.Store(0)
	bp.misses.Store(0)
}

// StatsSnapshot returns the current hit/miss counts and hit rate.
func (bp *BufferPool) StatsSnapshot() Stats {
	h, m := bp.hits.Load(), bp.misses.Load()
	var rate float64
	if h+m > 0 {
		rate = float64(h) / float64(h+m)
	}
	return Stats{Hits: h, Misses: m, HitRate: rate}
}

func (bp *BufferPool) recordHit() {
	if bp.statsEnabled.Load() {
		bp.hits.Add(1)
	}
}

func (bp *BufferPool) recordMiss() {
	if bp.statsEnabled.Load() {
		bp.misses.Add(1)
	}
}

// Pin loads block (if not already resident), pins it, and returns a
// handle. ctx and the pool's configured timeout race against each other;
// whichever elapses first aborts the wait with BufferAbort.
func (bp *BufferPool) Pin(ctx context.Context, id BlockId) (*Handle, error) {
	// Fast path.
	bp.residentMu.Lock()
	f, ok := bp.resident[id]
	bp.residentMu.Unlock()

	if ok {
		bp.policyMu.Lock()
		f.mu.Lock()
		hit := bp.policy.recordHit(bp, f.index, id)
		if hit {
			f.pins++
		}
		f.mu.Unlock()
		bp.policyMu.Unlock()
		if hit {
			bp.recordHit()
			return &Handle{pool: bp, f: f, block: id}, nil
		}
	}

	// Slow path.
	bp.latch.lock(id)
	defer bp.latch.unlock(id)

	bp.residentMu.Lock()
	f, ok = bp.resident[id]
	bp.residentMu.Unlock()
	if ok {
		bp.policyMu.Lock()
		f.mu.Lock()
		hit := bp.policy.recordHit(bp, f.index, id)
		if hit {
			f.pins++
		}
		f.mu.Unlock()
		bp.policyMu.Unlock()
		if hit {
			bp.recordHit()
			return &Handle{pool: bp, f: f, block: id}, nil
		}
		// f was evicted between the residentMu check above and here; fall
		// through and treat this like a genuine miss.
	}

	// evictVictim hands back the victim with its metadata lock already
	// held; it is released below once the frame has been reassigned.
	idx, err := bp.evictVictim(ctx)
	if err != nil {
		return nil, err
	}
	victim := bp.frames[idx]

	if victim.hasBlock {
		old := victim.blockID
		if victim.dirty {
			if werr := bp.fm.Write(old, victim.page); werr != nil {
				// The frame still holds its old dirty block and its
				// resident entry; put it back in the policy's candidate
				// set so a later eviction can retry the flush.
				victim.mu.Unlock()
				bp.requeueFrame(idx)
				bp.logger.Printf("pager: flush of dirty frame for %s failed: %v", old, werr)
				return nil, newIoError("flush victim frame before reuse", werr)
			}
			victim.dirty = false
		}
		bp.residentMu.Lock()
		delete(bp.resident, old)
		bp.residentMu.Unlock()
		victim.hasBlock = false
	}

	length, lerr := bp.fm.Length(id.Filename)
	if lerr != nil {
		victim.mu.Unlock()
		bp.requeueFrame(idx)
		return nil, lerr
	}
	if id.BlockNum < length {
		if rerr := bp.fm.Read(id, victim.page); rerr != nil {
			victim.mu.Unlock()
			bp.requeueFrame(idx)
			return nil, rerr
		}
	} else {
		for i := range victim.page {
			victim.page[i] = 0
		}
	}
	victim.blockID = id
	victim.hasBlock = true
	victim.dirty = false
	victim.lsn = 0
	victim.pins = 1
	victim.mu.Unlock()

	bp.residentMu.Lock()
	bp.resident[id] = victim
	bp.residentMu.Unlock()

	bp.policyMu.Lock()
	bp.policy.onFrameAssigned(bp, idx)
	bp.policyMu.Unlock()

	bp.recordMiss()
	return &Handle{pool: bp, f: victim, block: id}, nil
}

// evictVictim asks the policy for a frame to reuse, blocking on the pool
// condition variable and retrying while none is available, bounded by
// ctx and the pool's pin timeout. On success the victim frame's metadata
// lock is held; the caller releases it after reassigning the frame.
func (bp *BufferPool) evictVictim(ctx context.Context) (int, error) {
	deadline := time.Now().Add(bp.timeout)

	for {
		// Two passes before sleeping: a Clock or SIEVE scan can spend its
		// whole revolution clearing ref bits without finding a victim, in
		// which case the immediate retry picks up what the first pass
		// unlocked. Only a genuinely all-pinned pool reaches the wait.
		for attempt := 0; attempt < 2; attempt++ {
			bp.policyMu.Lock()
			idx, ok := bp.policy.evictFrame(bp)
			bp.policyMu.Unlock()
			if ok {
				return idx, nil
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, newBufferAbort("pin timed out waiting for a free frame")
		}

		// poolMu is taken before the timer and context watcher are armed:
		// both must acquire it to broadcast, so neither wakeup can slip
		// into the window before Wait releases the lock.
		bp.poolMu.Lock()
		timer := time.AfterFunc(remaining, func() {
			bp.poolMu.Lock()
			bp.poolCnd.Broadcast()
			bp.poolMu.Unlock()
		})
		stopCtxWatch := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				bp.poolMu.Lock()
				bp.poolCnd.Broadcast()
				bp.poolMu.Unlock()
			case <-stopCtxWatch:
			}
		}()
		bp.poolCnd.Wait()
		bp.poolMu.Unlock()

		timer.Stop()
		close(stopCtxWatch)

		if ctx.Err() != nil {
			return 0, newBufferAbort("pin canceled waiting for a free frame")
		}
		if time.Now().After(deadline) {
			return 0, newBufferAbort("pin timed out waiting for a free frame")
		}
	}
}

// Unpin releases a handle obtained from Pin. If the caller modified the
// frame's bytes it must have called h.MarkDirty first.
func (bp *BufferPool) Unpin(h *Handle) {
	f := h.f
	f.mu.Lock()
	if f.pins > 0 {
		f.pins--
	}
	zero := f.pins == 0
	f.mu.Unlock()
	if zero {
		bp.poolMu.Lock()
		bp.poolCnd.Broadcast()
		bp.poolMu.Unlock()
	}
}

// FlushAll writes every dirty frame to disk through the FileManager. It
// is called at pool shutdown and at consistency barriers such as a
// checkpoint.
func (bp *BufferPool) FlushAll() error {
	for _, f := range bp.frames {
		f.mu.Lock()
		if f.hasBlock && f.dirty {
			id, page := f.blockID, f.page
			if err := bp.fm.Write(id, page); err != nil {
				f.mu.Unlock()
				return err
			}
			f.dirty = false
		}
		f.mu.Unlock()
	}
	return nil
}

// FlushTransaction flushes only frames whose LSN is at most committedLSN.
func (bp *BufferPool) FlushTransaction(committedLSN uint64) error {
	for _, f := range bp.frames {
		f.mu.Lock()
		if f.hasBlock && f.dirty && f.lsn <= committedLSN {
			id, page := f.blockID, f.page
			if err := bp.fm.Write(id, page); err != nil {
				f.mu.Unlock()
				return err
			}
			f.dirty = false
		}
		f.mu.Unlock()
	}
	return nil
}

// Close flushes every dirty frame and closes the underlying FileManager.
func (bp *BufferPool) Close() error {
	if err := bp.FlushAll(); err != nil {
		return err
	}
	return bp.fm.Close()
}
