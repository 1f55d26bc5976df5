package pager

import "encoding/binary"

// B-tree page layout. Unlike the slotted heap page, a B-tree page has no
// line-pointer directory: every record is the same fixed size for a
// given layout, so records sit directly in a flat array after a small
// header.
//
//   [0:4] Flag        int32 LE — 0 = internal, -1 = leaf w/o overflow,
//                                n > 0 = leaf with overflow at block n
//   [4:8] RecordCount int32 LE
//   [8:.] records, RecordCount * recordSize bytes
//
// Leaf record:     [key: KeyLen bytes][block int32][slot int32]
// Internal record: [key: KeyLen bytes][child block int32]

const (
	btreeFlagOff  = 0
	btreeCountOff = 4
	btreeSlotOff  = 8

	flagInternal    = 0
	flagLeafNoOver  = -1
	leafChildFields = 8 // block + slot
	internalFields  = 4 // child block
)

// RID is a record identifier (block, slot) naming a tuple in a heap file.
type RID struct {
	Block int64
	Slot  int32
}

// BTreePage wraps one page buffer formatted as a B-tree leaf or internal
// page under a fixed Layout.
type BTreePage struct {
	buf    []byte
	layout Layout
}

func (p *BTreePage) recordSize() int {
	if p.IsLeaf() {
		return p.layout.KeyLen + leafChildFields
	}
	return p.layout.KeyLen + internalFields
}

// InitBTreeLeaf formats buf as an empty leaf page with no overflow.
func InitBTreeLeaf(buf []byte, layout Layout) *BTreePage {
	p := &BTreePage{buf: buf, layout: layout}
	p.setFlag(flagLeafNoOver)
	p.setRecordCount(0)
	return p
}

// InitBTreeInternal formats buf as an empty internal (directory) page.
func InitBTreeInternal(buf []byte, layout Layout) *BTreePage {
	p := &BTreePage{buf: buf, layout: layout}
	p.setFlag(flagInternal)
	p.setRecordCount(0)
	return p
}

// WrapBTreePage wraps an already-formatted page buffer.
func WrapBTreePage(buf []byte, layout Layout) *BTreePage {
	return &BTreePage{buf: buf, layout: layout}
}

func (p *BTreePage) Flag() int32 {
	return int32(binary.LittleEndian.Uint32(p.buf[btreeFlagOff:]))
}
func (p *BTreePage) setFlag(v int32) {
	binary.LittleEndian.PutUint32(p.buf[btreeFlagOff:], uint32(v))
}

func (p *BTreePage) RecordCount() int32 {
	return int32(binary.LittleEndian.Uint32(p.buf[btreeCountOff:]))
}
func (p *BTreePage) setRecordCount(v int32) {
	binary.LittleEndian.PutUint32(p.buf[btreeCountOff:], uint32(v))
}

// IsLeaf reports whether this page is a leaf (flag != 0: either
// flagLeafNoOver or a positive overflow block number).
func (p *BTreePage) IsLeaf() bool { return p.Flag() != flagInternal }

// HasOverflow reports whether this leaf has an overflow page.
func (p *BTreePage) HasOverflow() bool { return p.IsLeaf() && p.Flag() > 0 }

// OverflowBlock returns the overflow page's block number. Valid only when
// HasOverflow is true.
func (p *BTreePage) OverflowBlock() int64 { return int64(p.Flag()) }

// SetOverflow links this leaf to block as its overflow page.
func (p *BTreePage) SetOverflow(block int64) { p.setFlag(int32(block)) }

// ClearOverflow marks this leaf as having no overflow page.
func (p *BTreePage) ClearOverflow() { p.setFlag(flagLeafNoOver) }

func (p *BTreePage) slotPos(i int) int { return btreeSlotOff + i*p.recordSize() }

// IsFull reports whether one more record would not fit on the page.
func (p *BTreePage) IsFull() bool {
	return btreeSlotOff+int(p.RecordCount()+1)*p.recordSize() > len(p.buf)
}

// ── Leaf records ──────────────────────────────────────────────────────

// GetLeafKey returns the key stored at slot i of a leaf page.
func (p *BTreePage) GetLeafKey(i int) DataVal {
	off := p.slotPos(i)
	return p.layout.decodeKey(p.buf[off : off+p.layout.KeyLen])
}

// GetLeafRID returns the RID stored at slot i of a leaf page.
func (p *BTreePage) GetLeafRID(i int) RID {
	off := p.slotPos(i) + p.layout.KeyLen
	block := int64(binary.LittleEndian.Uint32(p.buf[off:]))
	slot := int32(binary.LittleEndian.Uint32(p.buf[off+4:]))
	return RID{Block: block, Slot: slot}
}

func (p *BTreePage) encodeLeafRecord(key DataVal, rid RID) ([]byte, error) {
	rec := make([]byte, p.recordSize())
	if err := p.layout.encodeKey(rec, key); err != nil {
		return nil, err
	}
	binary.LittleEndian.PutUint32(rec[p.layout.KeyLen:], uint32(rid.Block))
	binary.LittleEndian.PutUint32(rec[p.layout.KeyLen+4:], uint32(rid.Slot))
	return rec, nil
}

// InsertLeaf inserts (key, rid) at slot position pos, shifting any
// following records right by one. Fails with TypeMismatch if key's kind
// does not match this page's layout.
func (p *BTreePage) InsertLeaf(pos int, key DataVal, rid RID) error {
	rec, err := p.encodeLeafRecord(key, rid)
	if err != nil {
		return err
	}
	p.insertAt(pos, rec)
	return nil
}

// DeleteLeaf removes the record at slot pos, shifting following records
// left by one.
func (p *BTreePage) DeleteLeaf(pos int) { p.deleteAt(pos) }

// ── Internal records ─────────────────────────────────────────────────

// GetInternalKey returns the key stored at slot i of an internal page.
func (p *BTreePage) GetInternalKey(i int) DataVal {
	off := p.slotPos(i)
	return p.layout.decodeKey(p.buf[off : off+p.layout.KeyLen])
}

// GetInternalChild returns the child block number stored at slot i.
func (p *BTreePage) GetInternalChild(i int) int64 {
	off := p.slotPos(i) + p.layout.KeyLen
	return int64(binary.LittleEndian.Uint32(p.buf[off:]))
}

func (p *BTreePage) encodeInternalRecord(key DataVal, child int64) ([]byte, error) {
	rec := make([]byte, p.recordSize())
	if err := p.layout.encodeKey(rec, key); err != nil {
		return nil, err
	}
	binary.LittleEndian.PutUint32(rec[p.layout.KeyLen:], uint32(child))
	return rec, nil
}

// InsertInternal inserts (key, child) at slot position pos.
func (p *BTreePage) InsertInternal(pos int, key DataVal, child int64) error {
	rec, err := p.encodeInternalRecord(key, child)
	if err != nil {
		return err
	}
	p.insertAt(pos, rec)
	return nil
}

// DeleteInternal removes the record at slot pos.
func (p *BTreePage) DeleteInternal(pos int) { p.deleteAt(pos) }

// ── Generic slot shifting ────────────────────────────────────────────

func (p *BTreePage) insertAt(pos int, rec []byte) {
	count := int(p.RecordCount())
	sz := p.recordSize()
	// Shift [pos, count) right by one record.
	for i := count; i > pos; i-- {
		copy(p.buf[p.slotPos(i):], p.buf[p.slotPos(i-1):p.slotPos(i-1)+sz])
	}
	copy(p.buf[p.slotPos(pos):], rec)
	p.setRecordCount(int32(count + 1))
}

func (p *BTreePage) deleteAt(pos int) {
	count := int(p.RecordCount())
	sz := p.recordSize()
	for i := pos; i < count-1; i++ {
		copy(p.buf[p.slotPos(i):], p.buf[p.slotPos(i+1):p.slotPos(i+1)+sz])
	}
	p.setRecordCount(int32(count - 1))
}

// keyAt returns the key at slot i regardless of leaf/internal dialect.
func (p *BTreePage) keyAt(i int) DataVal {
	if p.IsLeaf() {
		return p.GetLeafKey(i)
	}
	return p.GetInternalKey(i)
}

// FindSlotBefore scans from slot 0 upward and returns the last slot whose
// key is strictly less than key, or -1 if slot 0 is already >= key.
func (p *BTreePage) FindSlotBefore(key DataVal) int {
	count := int(p.RecordCount())
	pos := -1
	for i := 0; i < count; i++ {
		if p.keyAt(i).Compare(key) < 0 {
			pos = i
		} else {
			break
		}
	}
	return pos
}

// CopyRecordTo copies record i of p to position destPos of dest (same
// dialect, same layout).
func (p *BTreePage) CopyRecordTo(i int, dest *BTreePage, destPos int) error {
	if p.IsLeaf() {
		return dest.InsertLeaf(destPos, p.GetLeafKey(i), p.GetLeafRID(i))
	}
	return dest.InsertInternal(destPos, p.GetInternalKey(i), p.GetInternalChild(i))
}

// Bytes returns the underlying page buffer.
func (p *BTreePage) Bytes() []byte { return p.buf }
