package pager

import (
	"context"
	"encoding/binary"
	"fmt"
)

// dirEntry is a split result propagated from a child page to its parent:
// the key that should route searches into the new sibling, and the
// sibling's block number.
type dirEntry struct {
	key   DataVal
	block int64
}

// Every Tree keeps a one-block metadata header at block 0 of its file:
// the current root block number and the tree's height (0 = the root
// itself is a leaf; n >= 1 = n internal levels sit above the leaf
// level). This lets a root split replace the root's contents in place
// without relocating the block every other page's child pointers name.
const (
	metaRootOff   = 0
	metaHeightOff = 8
)

// Tree is a classic (non-B+) B-tree: leaf pages hold (dataval, rid) pairs
// with duplicate keys spilling into an overflow leaf; internal pages hold
// (dataval, child block) directory entries. The root block never moves:
// a root split copies the old contents aside and reformats the root in
// place as a two-entry directory.
type Tree struct {
	bp       *BufferPool
	filename string
	layout   Layout
}

// OpenTree opens filename as a B-tree under bp, formatting a fresh
// metadata block and an empty root leaf if the file does not yet exist.
func OpenTree(ctx context.Context, bp *BufferPool, fm *FileManager, filename string, layout Layout) (*Tree, error) {
	t := &Tree{bp: bp, filename: filename, layout: layout}
	length, err := fm.Length(filename)
	if err != nil {
		return nil, fmt.Errorf("open tree %s: %w", filename, err)
	}
	if length == 0 {
		if err := t.initEmpty(ctx, fm); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Tree) initEmpty(ctx context.Context, fm *FileManager) error {
	metaBlock, err := fm.Append(t.filename)
	if err != nil {
		return fmt.Errorf("open tree %s: allocate metadata block: %w", t.filename, err)
	}
	rootBlock, err := fm.Append(t.filename)
	if err != nil {
		return fmt.Errorf("open tree %s: allocate root block: %w", t.filename, err)
	}
	if metaBlock.BlockNum != 0 || rootBlock.BlockNum != 1 {
		return newInvariantViolation("open tree: expected a fresh file to allocate blocks 0 and 1")
	}

	mh, err := t.bp.Pin(ctx, metaBlock)
	if err != nil {
		return err
	}
	t.setMeta(mh.Page(), 1, 0)
	mh.MarkDirty(0)
	t.bp.Unpin(mh)

	rh, err := t.bp.Pin(ctx, rootBlock)
	if err != nil {
		return err
	}
	InitBTreeLeaf(rh.Page(), t.layout)
	rh.MarkDirty(0)
	t.bp.Unpin(rh)
	return nil
}

func (t *Tree) metaBlock() BlockId { return BlockId{Filename: t.filename, BlockNum: 0} }

func (t *Tree) setMeta(buf []byte, root int64, height int32) {
	binary.LittleEndian.PutUint64(buf[metaRootOff:], uint64(root))
	binary.LittleEndian.PutUint32(buf[metaHeightOff:], uint32(height))
}

func (t *Tree) readMeta(ctx context.Context) (root int64, height int32, err error) {
	h, err := t.bp.Pin(ctx, t.metaBlock())
	if err != nil {
		return 0, 0, err
	}
	defer t.bp.Unpin(h)
	buf := h.Page()
	root = int64(binary.LittleEndian.Uint64(buf[metaRootOff:]))
	height = int32(binary.LittleEndian.Uint32(buf[metaHeightOff:]))
	return root, height, nil
}

func (t *Tree) writeMeta(ctx context.Context, root int64, height int32) error {
	h, err := t.bp.Pin(ctx, t.metaBlock())
	if err != nil {
		return err
	}
	t.setMeta(h.Page(), root, height)
	h.MarkDirty(0)
	t.bp.Unpin(h)
	return nil
}

func (t *Tree) block(num int64) BlockId { return BlockId{Filename: t.filename, BlockNum: num} }

// allocate appends a fresh block to the tree's file and returns its
// number without formatting it; the caller formats it as leaf or
// internal immediately after.
func (t *Tree) allocate(fm *FileManager) (int64, error) {
	id, err := fm.Append(t.filename)
	if err != nil {
		return 0, fmt.Errorf("btree %s: allocate block: %w", t.filename, err)
	}
	return id.BlockNum, nil
}

// ── Search ──────────────────────────────────────────────────────────

// Search returns an iterator over every RID stored under key. Each call
// to next returns (rid, true) until exhausted, at which point it returns
// (RID{}, false). The iterator holds at most one page pinned at a time;
// closeIt must be called once the caller is done with it.
func (t *Tree) Search(ctx context.Context, key DataVal) (next func() (RID, bool), closeIt func(), err error) {
	leafBlock, err := t.descendToLeaf(ctx, key)
	if err != nil {
		return nil, nil, err
	}

	h, err := t.bp.Pin(ctx, t.block(leafBlock))
	if err != nil {
		return nil, nil, err
	}
	page := WrapBTreePage(h.Page(), t.layout)
	slot := page.FindSlotBefore(key)

	closed := false
	closeFn := func() {
		if !closed && h != nil {
			t.bp.Unpin(h)
			closed = true
		}
	}

	nextFn := func() (RID, bool) {
		if closed {
			return RID{}, false
		}
		for {
			slot++
			if slot >= int(page.RecordCount()) {
				// Try to cross into an overflow page holding the same key.
				if page.HasOverflow() && int(page.RecordCount()) > 0 && page.GetLeafKey(0).Equal(key) {
					overflowBlock := page.OverflowBlock()
					t.bp.Unpin(h)
					nh, err := t.bp.Pin(ctx, t.block(overflowBlock))
					if err != nil {
						closed = true
						return RID{}, false
					}
					h = nh
					page = WrapBTreePage(h.Page(), t.layout)
					slot = -1
					continue
				}
				closeFn()
				return RID{}, false
			}
			if page.GetLeafKey(slot).Equal(key) {
				return page.GetLeafRID(slot), true
			}
			closeFn()
			return RID{}, false
		}
	}

	return nextFn, closeFn, nil
}

// descendToLeaf walks from the root down through internal pages to the
// leaf block that may contain key.
func (t *Tree) descendToLeaf(ctx context.Context, key DataVal) (int64, error) {
	root, height, err := t.readMeta(ctx)
	if err != nil {
		return 0, err
	}
	block := root
	for level := int32(0); level < height; level++ {
		h, err := t.bp.Pin(ctx, t.block(block))
		if err != nil {
			return 0, err
		}
		page := WrapBTreePage(h.Page(), t.layout)
		slot := page.FindSlotBefore(key)
		// A split moves its split key into the new sibling, so a key equal
		// to an entry's key belongs to that entry's child.
		if slot+1 < int(page.RecordCount()) && page.GetInternalKey(slot+1).Equal(key) {
			slot++
		}
		if slot < 0 {
			slot = 0
		}
		child := page.GetInternalChild(slot)
		t.bp.Unpin(h)
		block = child
	}
	return block, nil
}

// ── Insert ──────────────────────────────────────────────────────────

// Insert adds (key, rid) to the tree.
func (t *Tree) Insert(ctx context.Context, fm *FileManager, key DataVal, rid RID) error {
	root, height, err := t.readMeta(ctx)
	if err != nil {
		return err
	}
	entry, err := t.insertDescend(ctx, fm, root, height, key, rid)
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}
	return t.growRoot(ctx, fm, root, *entry, height)
}

// insertDescend recursively descends from block (at the given height
// above the leaf level) to find the insertion point, then propagates any
// resulting split back up. A non-nil return means the caller's page
// gained a new entry that may itself need to split.
func (t *Tree) insertDescend(ctx context.Context, fm *FileManager, block int64, height int32, key DataVal, rid RID) (*dirEntry, error) {
	if height == 0 {
		return t.insertIntoLeaf(ctx, fm, block, key, rid)
	}

	h, err := t.bp.Pin(ctx, t.block(block))
	if err != nil {
		return nil, err
	}
	page := WrapBTreePage(h.Page(), t.layout)
	slot := page.FindSlotBefore(key)
	if slot+1 < int(page.RecordCount()) && page.GetInternalKey(slot+1).Equal(key) {
		slot++
	}
	if slot < 0 {
		slot = 0
	}
	child := page.GetInternalChild(slot)
	t.bp.Unpin(h)

	childEntry, err := t.insertDescend(ctx, fm, child, height-1, key, rid)
	if err != nil {
		return nil, err
	}
	if childEntry == nil {
		return nil, nil
	}
	return t.insertIntoInternal(ctx, fm, block, *childEntry)
}

// insertIntoLeaf forces a split at slot 0 when an overflow page is
// present and the new key is smaller than the page's duplicated key
// (overflow pages must stay anchored to a page whose first key matches
// their contents); otherwise it inserts in sorted position and splits
// when full, adjusting the split point so runs of duplicate keys never
// straddle the boundary.
func (t *Tree) insertIntoLeaf(ctx context.Context, fm *FileManager, block int64, key DataVal, rid RID) (*dirEntry, error) {
	h, err := t.bp.Pin(ctx, t.block(block))
	if err != nil {
		return nil, err
	}
	defer t.bp.Unpin(h)
	page := WrapBTreePage(h.Page(), t.layout)
	h.MarkDirty(0)

	if page.HasOverflow() && int(page.RecordCount()) > 0 && page.GetLeafKey(0).Compare(key) > 0 {
		firstKey := page.GetLeafKey(0)
		newBlock, err := t.splitLeaf(ctx, fm, page, 0, page.Flag())
		if err != nil {
			return nil, err
		}
		page.ClearOverflow()
		if err := page.InsertLeaf(0, key, rid); err != nil {
			return nil, err
		}
		return &dirEntry{key: firstKey, block: newBlock}, nil
	}

	slot := page.FindSlotBefore(key) + 1
	if err := page.InsertLeaf(slot, key, rid); err != nil {
		return nil, err
	}
	if !page.IsFull() {
		return nil, nil
	}

	count := int(page.RecordCount())
	firstKey := page.GetLeafKey(0)
	lastKey := page.GetLeafKey(count - 1)

	if firstKey.Equal(lastKey) {
		// Every slot holds the same key: spill everything but slot 0 into
		// an overflow page and keep this page linked to it. The new page
		// inherits this page's current flag, so an already-linked overflow
		// page stays reachable as the next link in the chain.
		newBlock, err := t.splitLeaf(ctx, fm, page, 1, page.Flag())
		if err != nil {
			return nil, err
		}
		page.SetOverflow(newBlock)
		return nil, nil
	}

	splitPoint := count / 2
	splitKey := page.GetLeafKey(splitPoint)
	if splitKey.Equal(firstKey) {
		for page.GetLeafKey(splitPoint).Equal(firstKey) {
			splitPoint++
		}
		splitKey = page.GetLeafKey(splitPoint)
	} else {
		for splitPoint > 0 && page.GetLeafKey(splitPoint-1).Equal(splitKey) {
			splitPoint--
		}
	}
	newBlock, err := t.splitLeaf(ctx, fm, page, splitPoint, flagLeafNoOver)
	if err != nil {
		return nil, err
	}
	return &dirEntry{key: splitKey, block: newBlock}, nil
}

// splitLeaf moves records [from, RecordCount) of page into a freshly
// allocated leaf block formatted with newFlag, and returns the new
// block's number.
func (t *Tree) splitLeaf(ctx context.Context, fm *FileManager, page *BTreePage, from int, newFlag int32) (int64, error) {
	block, err := t.allocate(fm)
	if err != nil {
		return 0, err
	}
	nh, err := t.bp.Pin(ctx, t.block(block))
	if err != nil {
		return 0, err
	}
	defer t.bp.Unpin(nh)
	newPage := InitBTreeLeaf(nh.Page(), t.layout)
	newPage.setFlag(newFlag)
	nh.MarkDirty(0)

	movedCount := int(page.RecordCount()) - from
	for i := 0; i < movedCount; i++ {
		if err := page.CopyRecordTo(from, newPage, i); err != nil {
			return 0, err
		}
		page.DeleteLeaf(from)
	}
	return block, nil
}

// insertIntoInternal inserts (entry.key, entry.block) into the internal
// page at block, splitting it and returning a propagated entry if it
// overflows.
func (t *Tree) insertIntoInternal(ctx context.Context, fm *FileManager, block int64, entry dirEntry) (*dirEntry, error) {
	h, err := t.bp.Pin(ctx, t.block(block))
	if err != nil {
		return nil, err
	}
	defer t.bp.Unpin(h)
	page := WrapBTreePage(h.Page(), t.layout)
	h.MarkDirty(0)

	slot := page.FindSlotBefore(entry.key) + 1
	if err := page.InsertInternal(slot, entry.key, entry.block); err != nil {
		return nil, err
	}
	if !page.IsFull() {
		return nil, nil
	}

	count := int(page.RecordCount())
	splitPoint := count / 2
	splitKey := page.GetInternalKey(splitPoint)

	newBlock, err := t.allocate(fm)
	if err != nil {
		return nil, err
	}
	nh, err := t.bp.Pin(ctx, t.block(newBlock))
	if err != nil {
		return nil, err
	}
	defer t.bp.Unpin(nh)
	newPage := InitBTreeInternal(nh.Page(), t.layout)
	nh.MarkDirty(0)

	movedCount := count - splitPoint
	for i := 0; i < movedCount; i++ {
		if err := page.CopyRecordTo(splitPoint, newPage, i); err != nil {
			return nil, err
		}
		page.DeleteInternal(splitPoint)
	}
	return &dirEntry{key: splitKey, block: newBlock}, nil
}

// growRoot handles a split propagated all the way out of the current
// root: the root's current contents move into a freshly allocated
// block, and the root block is reformatted as a new internal page with
// two entries, one for the old root's content and one for the split
// entry. The tree grows by one level.
func (t *Tree) growRoot(ctx context.Context, fm *FileManager, root int64, entry dirEntry, oldHeight int32) error {
	rh, err := t.bp.Pin(ctx, t.block(root))
	if err != nil {
		return err
	}
	rootPage := WrapBTreePage(rh.Page(), t.layout)
	if int(rootPage.RecordCount()) == 0 {
		t.bp.Unpin(rh)
		return newInvariantViolation("grow root: empty root produced a split")
	}
	var firstKey DataVal
	if oldHeight == 0 {
		firstKey = rootPage.GetLeafKey(0)
	} else {
		firstKey = rootPage.GetInternalKey(0)
	}

	oldContentBlock, err := t.allocate(fm)
	if err != nil {
		t.bp.Unpin(rh)
		return err
	}
	oh, err := t.bp.Pin(ctx, t.block(oldContentBlock))
	if err != nil {
		t.bp.Unpin(rh)
		return err
	}
	copy(oh.Page(), rh.Page())
	oh.MarkDirty(0)
	t.bp.Unpin(oh)
	t.bp.Unpin(rh)

	nh, err := t.bp.Pin(ctx, t.block(root))
	if err != nil {
		return err
	}
	newRoot := InitBTreeInternal(nh.Page(), t.layout)
	if err := newRoot.InsertInternal(0, firstKey, oldContentBlock); err != nil {
		t.bp.Unpin(nh)
		return err
	}
	if err := newRoot.InsertInternal(1, entry.key, entry.block); err != nil {
		t.bp.Unpin(nh)
		return err
	}
	nh.MarkDirty(0)
	t.bp.Unpin(nh)

	return t.writeMeta(ctx, root, oldHeight+1)
}

// ── Delete ──────────────────────────────────────────────────────────

// Delete removes the entry (key, rid) from the tree, if present.
func (t *Tree) Delete(ctx context.Context, key DataVal, rid RID) error {
	leafBlock, err := t.descendToLeaf(ctx, key)
	if err != nil {
		return err
	}
	return t.deleteFromLeaf(ctx, leafBlock, key, rid)
}

func (t *Tree) deleteFromLeaf(ctx context.Context, block int64, key DataVal, rid RID) error {
	h, err := t.bp.Pin(ctx, t.block(block))
	if err != nil {
		return err
	}
	page := WrapBTreePage(h.Page(), t.layout)
	slot := page.FindSlotBefore(key)

	for {
		slot++
		if slot >= int(page.RecordCount()) {
			if page.HasOverflow() && int(page.RecordCount()) > 0 && page.GetLeafKey(0).Equal(key) {
				overflowBlock := page.OverflowBlock()
				t.bp.Unpin(h)
				h, err = t.bp.Pin(ctx, t.block(overflowBlock))
				if err != nil {
					return err
				}
				page = WrapBTreePage(h.Page(), t.layout)
				slot = -1
				continue
			}
			t.bp.Unpin(h)
			return newInvariantViolation("delete: rid not found for key")
		}
		if !page.GetLeafKey(slot).Equal(key) {
			t.bp.Unpin(h)
			return newInvariantViolation("delete: rid not found for key")
		}
		if page.GetLeafRID(slot) == rid {
			page.DeleteLeaf(slot)
			h.MarkDirty(0)
			t.bp.Unpin(h)
			return nil
		}
	}
}

// Index wraps a Tree with the three operations a caller needs: Search,
// Insert, Delete. It exists to give B-tree access a stable, minimal
// surface independent of the traversal internals above.
type Index struct {
	tree *Tree
	fm   *FileManager
}

// NewIndex opens or creates an index named filename under bp/fm with the
// given key layout.
func NewIndex(ctx context.Context, bp *BufferPool, fm *FileManager, filename string, layout Layout) (*Index, error) {
	tree, err := OpenTree(ctx, bp, fm, filename, layout)
	if err != nil {
		return nil, err
	}
	return &Index{tree: tree, fm: fm}, nil
}

// Search returns a closure-based iterator over every RID stored under
// key, and a close function that must be called once iteration is done
// (whether or not the iterator was drained) to release its pinned page.
func (ix *Index) Search(ctx context.Context, key DataVal) (next func() (RID, bool), closeIt func(), err error) {
	return ix.tree.Search(ctx, key)
}

// Insert adds (key, rid) to the index.
func (ix *Index) Insert(ctx context.Context, key DataVal, rid RID) error {
	return ix.tree.Insert(ctx, ix.fm, key, rid)
}

// Delete removes (key, rid) from the index.
func (ix *Index) Delete(ctx context.Context, key DataVal, rid RID) error {
	return ix.tree.Delete(ctx, key, rid)
}
