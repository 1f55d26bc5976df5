package pager

// Policy selects which replacement policy a BufferPool uses. It is a
// constructor argument rather than a build tag so one binary (and one
// test run) can exercise all three policies.
type Policy uint8

const (
	PolicyLRU Policy = iota
	PolicyClock
	PolicySieve
)

// replacementPolicy is the contract every pluggable policy implements.
// recordHit, onFrameAssigned and evictFrame are invoked with
// pool.policyMu already held by the caller; seed runs once from
// NewBufferPool without it, before the pool is shared. recordHit also
// runs with the frame's metadata lock held by the caller, while
// evictFrame locks frames' metadata itself. The resident-table lock is
// taken last (recordHit's stale-entry removal takes it under both
// locks) and is never held while acquiring another, so the order is
// per-block latch -> policy -> frame metadata -> resident table.
type replacementPolicy interface {
	// seed threads every frame of a freshly constructed pool into the
	// policy's bookkeeping, so empty frames are eviction candidates from
	// the first Pin. Called once from NewBufferPool.
	seed(pool *BufferPool)

	// recordHit re-verifies that frame idx still holds blockID (a race
	// with eviction is possible between resident-table lookup and here).
	// If the frame now holds something else, it removes the stale
	// resident-table entry and returns false. Otherwise it updates
	// policy bookkeeping and returns true.
	recordHit(pool *BufferPool, idx int, blockID BlockId) bool

	// onFrameAssigned marks frame idx fresh after the miss path has just
	// populated it with a new block.
	onFrameAssigned(pool *BufferPool, idx int)

	// evictFrame selects a victim frame index according to the policy.
	// On success the victim's metadata lock is still held when it
	// returns: the caller keeps it through flush, reload, and
	// reassignment, so no concurrent hit on the victim's old block can
	// observe the frame mid-reuse. Returns ok=false (no lock held) when
	// no evictable frame was found this pass.
	evictFrame(pool *BufferPool) (idx int, ok bool)
}

func newPolicy(kind Policy, numBuffers int) replacementPolicy {
	switch kind {
	case PolicyLRU:
		return newLRUPolicy(numBuffers)
	case PolicyClock:
		return newClockPolicy(numBuffers)
	case PolicySieve:
		return newSievePolicy(numBuffers)
	default:
		panic("pager: unknown replacement policy")
	}
}

// ───────────────────────────────────────────────────────────────────────
// LRU
// ───────────────────────────────────────────────────────────────────────

// lruPolicy threads every resident frame through a single intrusive list;
// the head is most-recently-used, the tail least.
type lruPolicy struct {
	list *intrusiveList
}

func newLRUPolicy(numBuffers int) *lruPolicy {
	if numBuffers <= 0 {
		panic("pager: LRU policy requires at least one buffer frame")
	}
	return &lruPolicy{list: newIntrusiveList()}
}

func (p *lruPolicy) seed(pool *BufferPool) {
	for idx := range pool.frames {
		p.list.insertAtHead(idx, pool.linksOf)
	}
}

func (p *lruPolicy) recordHit(pool *BufferPool, idx int, blockID BlockId) bool {
	f := pool.frames[idx]
	if !f.hasBlock || f.blockID != blockID {
		pool.removeResidentLocked(blockID)
		return false
	}
	p.list.moveToHead(idx, pool.linksOf)
	return true
}

func (p *lruPolicy) onFrameAssigned(pool *BufferPool, idx int) {
	if pool.frames[idx].links.prev != noIndex || pool.frames[idx].links.next != noIndex || p.list.head == idx {
		p.list.removeNode(idx, pool.linksOf)
	}
	p.list.insertAtHead(idx, pool.linksOf)
}

func (p *lruPolicy) evictFrame(pool *BufferPool) (int, bool) {
	idx := p.list.peekTail()
	for idx != noIndex {
		f := pool.frames[idx]
		f.mu.Lock()
		if f.pins == 0 {
			p.list.removeNode(idx, pool.linksOf)
			return idx, true // f.mu stays held for the caller
		}
		f.mu.Unlock()
		idx = f.links.prev
	}
	return 0, false
}

// ───────────────────────────────────────────────────────────────────────
// Clock
// ───────────────────────────────────────────────────────────────────────

type clockPolicy struct {
	hand    int
	poolLen int
}

func newClockPolicy(numBuffers int) *clockPolicy {
	if numBuffers <= 0 {
		panic("pager: Clock policy requires at least one buffer frame")
	}
	return &clockPolicy{poolLen: numBuffers}
}

func (p *clockPolicy) seed(pool *BufferPool) {}

func (p *clockPolicy) recordHit(pool *BufferPool, idx int, blockID BlockId) bool {
	f := pool.frames[idx]
	if !f.hasBlock || f.blockID != blockID {
		pool.removeResidentLocked(blockID)
		return false
	}
	f.refBit = true
	return true
}

func (p *clockPolicy) onFrameAssigned(pool *BufferPool, idx int) {
	pool.frames[idx].refBit = true
}

func (p *clockPolicy) evictFrame(pool *BufferPool) (int, bool) {
	for i := 0; i < p.poolLen; i++ {
		idx := p.hand
		f := pool.frames[idx]
		f.mu.Lock()
		if f.pins > 0 {
			f.mu.Unlock()
			p.hand = (idx + 1) % p.poolLen
			continue
		}
		if f.refBit {
			f.refBit = false
			f.mu.Unlock()
			p.hand = (idx + 1) % p.poolLen
			continue
		}
		p.hand = (idx + 1) % p.poolLen
		return idx, true // f.mu stays held for the caller
	}
	return 0, false
}

// ───────────────────────────────────────────────────────────────────────
// SIEVE
// ───────────────────────────────────────────────────────────────────────

type sievePolicy struct {
	list    *intrusiveList
	hand    int
	poolLen int
}

func newSievePolicy(numBuffers int) *sievePolicy {
	if numBuffers <= 0 {
		panic("pager: SIEVE policy requires at least one buffer frame")
	}
	return &sievePolicy{list: newIntrusiveList(), hand: noIndex, poolLen: numBuffers}
}

func (p *sievePolicy) seed(pool *BufferPool) {
	for idx := range pool.frames {
		p.list.insertAtHead(idx, pool.linksOf)
	}
	p.hand = p.list.peekTail()
}

func (p *sievePolicy) recordHit(pool *BufferPool, idx int, blockID BlockId) bool {
	f := pool.frames[idx]
	if !f.hasBlock || f.blockID != blockID {
		pool.removeResidentLocked(blockID)
		return false
	}
	f.refBit = true
	return true
}

func (p *sievePolicy) onFrameAssigned(pool *BufferPool, idx int) {
	pool.frames[idx].refBit = true
	p.list.insertAtHead(idx, pool.linksOf)
	if p.hand == noIndex {
		p.hand = p.list.peekTail()
	}
}

func (p *sievePolicy) evictFrame(pool *BufferPool) (int, bool) {
	if p.hand == noIndex {
		p.hand = p.list.peekTail()
	}
	for i := 0; i < p.poolLen && p.hand != noIndex; i++ {
		idx := p.hand
		f := pool.frames[idx]
		f.mu.Lock()

		if f.pins > 0 {
			f.mu.Unlock()
			if idx == p.list.peekHead() {
				p.hand = p.list.peekTail()
			} else {
				p.hand = f.links.prev
			}
			continue
		}
		if f.refBit {
			f.refBit = false
			f.mu.Unlock()
			if idx == p.list.peekHead() {
				p.hand = p.list.peekTail()
			} else {
				p.hand = f.links.prev
			}
			continue
		}

		next := f.links.prev
		wasHead := idx == p.list.peekHead()
		p.list.removeNode(idx, pool.linksOf)
		if wasHead {
			p.hand = p.list.peekTail()
		} else {
			p.hand = next
		}
		return idx, true // f.mu stays held for the caller
	}
	return 0, false
}
