package pager

import (
	"context"
	"testing"
	"time"
)

// pinUnpin loads id and immediately releases it.
func pinUnpin(t *testing.T, bp *BufferPool, id BlockId) {
	t.Helper()
	h, err := bp.Pin(context.Background(), id)
	if err != nil {
		t.Fatalf("Pin %s: %v", id, err)
	}
	bp.Unpin(h)
}

func blk(n int64) BlockId { return BlockId{Filename: "f", BlockNum: n} }

// TestLRUEvictsLeastRecentlyUsed fills a 3-frame pool with a, b, c,
// touches a again, then loads d. The least recently used block is b, so
// b's frame must be the one reused: a and c stay resident (hits), b does
// not (miss).
func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	_, bp := newTestPool(t, 3, PolicyLRU)
	bp.EnableStats()

	pinUnpin(t, bp, blk(0)) // a
	pinUnpin(t, bp, blk(1)) // b
	pinUnpin(t, bp, blk(2)) // c
	pinUnpin(t, bp, blk(0)) // touch a: order is now a, c, b
	pinUnpin(t, bp, blk(3)) // d evicts b

	before := bp.StatsSnapshot()
	pinUnpin(t, bp, blk(0)) // a: hit
	pinUnpin(t, bp, blk(2)) // c: hit
	after := bp.StatsSnapshot()
	if after.Hits != before.Hits+2 || after.Misses != before.Misses {
		t.Fatalf("expected a and c to still be resident after evicting b, stats went %+v -> %+v", before, after)
	}

	pinUnpin(t, bp, blk(1)) // b: must have been evicted
	final := bp.StatsSnapshot()
	if final.Misses != after.Misses+1 {
		t.Fatalf("expected b to have been the eviction victim, stats went %+v -> %+v", after, final)
	}
}

// TestClockSkipsPinnedFrames holds a pin on one of two frames and loads a
// third block. The hand must pass over the pinned frame (clearing the
// other's ref bit on the way) and reuse the unpinned one, without waiting
// out the pin timeout.
func TestClockSkipsPinnedFrames(t *testing.T) {
	_, bp := newTestPool(t, 2, PolicyClock)
	ctx := context.Background()

	hA, err := bp.Pin(ctx, blk(0))
	if err != nil {
		t.Fatalf("Pin a: %v", err)
	}
	defer bp.Unpin(hA)
	pinUnpin(t, bp, blk(1))

	start := time.Now()
	hC, err := bp.Pin(ctx, blk(2))
	if err != nil {
		t.Fatalf("Pin c: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("expected the hand to find the unpinned frame without waiting out the timeout, took %v", elapsed)
	}
	if hC.f.index == hA.f.index {
		bp.Unpin(hC)
		t.Fatalf("clock reused the pinned frame")
	}
	bp.Unpin(hC)

	// a is still resident on its pinned frame.
	h2, err := bp.Pin(ctx, blk(0))
	if err != nil {
		t.Fatalf("Pin a again: %v", err)
	}
	if h2.f.index != hA.f.index {
		bp.Unpin(h2)
		t.Fatalf("expected a to still occupy its original frame")
	}
	bp.Unpin(h2)
}

// TestSieveEvictsOldestUnreferenced fills a 3-frame pool, then loads a
// fourth block. Every frame's ref bit is set on assignment, so the hand's
// first revolution clears them all and the second evicts the frame at the
// tail of the insertion order: the one holding a.
func TestSieveEvictsOldestUnreferenced(t *testing.T) {
	_, bp := newTestPool(t, 3, PolicySieve)
	bp.EnableStats()

	pinUnpin(t, bp, blk(0)) // a
	pinUnpin(t, bp, blk(1)) // b
	pinUnpin(t, bp, blk(2)) // c
	pinUnpin(t, bp, blk(3)) // d evicts a

	before := bp.StatsSnapshot()
	pinUnpin(t, bp, blk(1)) // b: hit
	pinUnpin(t, bp, blk(2)) // c: hit
	after := bp.StatsSnapshot()
	if after.Hits != before.Hits+2 || after.Misses != before.Misses {
		t.Fatalf("expected b and c to still be resident after evicting a, stats went %+v -> %+v", before, after)
	}

	pinUnpin(t, bp, blk(0)) // a: must have been evicted
	final := bp.StatsSnapshot()
	if final.Misses != after.Misses+1 {
		t.Fatalf("expected a to have been the eviction victim, stats went %+v -> %+v", after, final)
	}
}

// TestSieveListStaysConsistentAcrossEvictions churns a small SIEVE pool
// through more blocks than it has frames and checks the intrusive-list
// invariant afterward: forward traversal from head and reverse traversal
// from tail visit the same index set.
func TestSieveListStaysConsistentAcrossEvictions(t *testing.T) {
	_, bp := newTestPool(t, 4, PolicySieve)

	for i := int64(0); i < 32; i++ {
		pinUnpin(t, bp, blk(i%7))
	}

	sieve := bp.policy.(*sievePolicy)
	forward := map[int]bool{}
	for i := sieve.list.peekHead(); i != noIndex; i = bp.linksOf(i).next {
		if forward[i] {
			t.Fatalf("forward traversal revisited index %d", i)
		}
		forward[i] = true
	}
	backward := map[int]bool{}
	for i := sieve.list.peekTail(); i != noIndex; i = bp.linksOf(i).prev {
		if backward[i] {
			t.Fatalf("reverse traversal revisited index %d", i)
		}
		backward[i] = true
	}
	if len(forward) != len(backward) {
		t.Fatalf("forward visited %d nodes, reverse visited %d", len(forward), len(backward))
	}
	for i := range forward {
		if !backward[i] {
			t.Fatalf("index %d visited forward but not in reverse", i)
		}
	}
}

// TestPoliciesEvictFromFreshPool: every policy must hand out frames on a
// pool that has never had a block assigned, since all frames are seeded
// into the policy's bookkeeping at construction.
func TestPoliciesEvictFromFreshPool(t *testing.T) {
	for _, policy := range []Policy{PolicyLRU, PolicyClock, PolicySieve} {
		_, bp := newTestPool(t, 2, policy)
		seen := map[int]bool{}
		for i := int64(0); i < 2; i++ {
			h, err := bp.Pin(context.Background(), blk(i))
			if err != nil {
				t.Fatalf("[%v] Pin %d on a fresh pool: %v", policy, i, err)
			}
			seen[h.f.index] = true
			bp.Unpin(h)
		}
		if len(seen) != 2 {
			t.Fatalf("[%v] expected two distinct frames for two distinct blocks, got %d", policy, len(seen))
		}
	}
}
