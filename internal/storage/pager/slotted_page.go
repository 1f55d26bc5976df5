package pager

import "encoding/binary"

// Slotted page layout
//
//   [0:1]   Type          page type
//   [1:2]   reserved
//   [2:4]   SlotCount     uint16
//   [4:6]   FreeLower     uint16 — end of the line-pointer directory
//   [6:8]   FreeUpper     uint16 — start of the tuple heap
//   [8:10]  FreeHead      uint16 — head of the free-slot chain, 0xFFFF = none
//   [10:12] reserved
//   [12:16] CRC32         uint32
//   [16:20] LatchWord     uint32
//   [20:32] reserved
//
// The line-pointer directory grows from offset 32 upward in 4-byte steps
// as FreeLower advances; the tuple heap grows down from the page end as
// FreeUpper retreats. free_lower <= free_upper always.

const (
	slottedHeaderSize = 32
	freeHeadSentinel  = 0xFFFF

	offType      = 0
	offSlotCount = 2
	offFreeLower = 4
	offFreeUpper = 6
	offFreeHead  = 8
	offCRC       = 12
	offLatch     = 16

	linePtrSize = 4
)

// LineState is the state of one line-pointer slot.
type LineState uint8

const (
	LineFree LineState = iota
	LineLive
	LineDead
	LineRedirect
)

// LinePtr is the decoded form of a packed 32-bit line pointer:
// offset:16 | length:12 | state:4.
type LinePtr struct {
	Offset uint16
	Length uint16
	State  LineState
}

func packLinePtr(lp LinePtr) uint32 {
	return uint32(lp.Offset) | (uint32(lp.Length&0xFFF) << 16) | (uint32(lp.State&0xF) << 28)
}

func unpackLinePtr(w uint32) LinePtr {
	return LinePtr{
		Offset: uint16(w & 0xFFFF),
		Length: uint16((w >> 16) & 0xFFF),
		State:  LineState((w >> 28) & 0xF),
	}
}

// SlottedPage wraps a raw page buffer (exactly blockSize bytes) and
// implements the insert/update/delete/iterate operations over it.
type SlottedPage struct {
	buf []byte
}

// InitSlottedPage formats buf (must be blockSize bytes, typically zeroed)
// as an empty slotted page.
func InitSlottedPage(buf []byte) *SlottedPage {
	sp := &SlottedPage{buf: buf}
	buf[offType] = byte(PageTypeHeap)
	sp.setSlotCount(0)
	sp.setFreeLower(slottedHeaderSize)
	sp.setFreeUpper(uint16(len(buf)))
	sp.setFreeHead(freeHeadSentinel)
	return sp
}

// WrapSlottedPage wraps an already-formatted page buffer.
func WrapSlottedPage(buf []byte) *SlottedPage { return &SlottedPage{buf: buf} }

func (sp *SlottedPage) SlotCount() int { return int(binary.LittleEndian.Uint16(sp.buf[offSlotCount:])) }
func (sp *SlottedPage) setSlotCount(n int) {
	binary.LittleEndian.PutUint16(sp.buf[offSlotCount:], uint16(n))
}

func (sp *SlottedPage) FreeLower() uint16 { return binary.LittleEndian.Uint16(sp.buf[offFreeLower:]) }
func (sp *SlottedPage) setFreeLower(v uint16) {
	binary.LittleEndian.PutUint16(sp.buf[offFreeLower:], v)
}

func (sp *SlottedPage) FreeUpper() uint16 { return binary.LittleEndian.Uint16(sp.buf[offFreeUpper:]) }
func (sp *SlottedPage) setFreeUpper(v uint16) {
	binary.LittleEndian.PutUint16(sp.buf[offFreeUpper:], v)
}

func (sp *SlottedPage) FreeHead() uint16 { return binary.LittleEndian.Uint16(sp.buf[offFreeHead:]) }
func (sp *SlottedPage) setFreeHead(v uint16) {
	binary.LittleEndian.PutUint16(sp.buf[offFreeHead:], v)
}

// SetCRC recomputes and stores the page's checksum.
func (sp *SlottedPage) SetCRC() {
	binary.LittleEndian.PutUint32(sp.buf[offCRC:], computeCRC(sp.buf, offCRC))
}

// VerifyCRC checks the page's checksum against its stored value.
func (sp *SlottedPage) VerifyCRC() error {
	stored := binary.LittleEndian.Uint32(sp.buf[offCRC:])
	if computed := computeCRC(sp.buf, offCRC); stored != computed {
		return newIoError("slotted page CRC mismatch", nil)
	}
	return nil
}

// LatchWord exposes the header's latch-word field. The slotted page
// itself does not interpret it; the buffer pool's per-frame metadata
// lock is what actually serializes access. The field is stored and read
// back as-is; the buffer pool never updates it, so it does not track
// in-memory latch state.
func (sp *SlottedPage) LatchWord() uint32 { return binary.LittleEndian.Uint32(sp.buf[offLatch:]) }
func (sp *SlottedPage) SetLatchWord(v uint32) {
	binary.LittleEndian.PutUint32(sp.buf[offLatch:], v)
}

func (sp *SlottedPage) slotOffset(i int) int { return slottedHeaderSize + i*linePtrSize }

func (sp *SlottedPage) getLine(i int) LinePtr {
	off := sp.slotOffset(i)
	return unpackLinePtr(binary.LittleEndian.Uint32(sp.buf[off:]))
}

func (sp *SlottedPage) setLine(i int, lp LinePtr) {
	off := sp.slotOffset(i)
	binary.LittleEndian.PutUint32(sp.buf[off:], packLinePtr(lp))
}

// AllocateTuple inserts data as a new live tuple and returns its slot id.
func (sp *SlottedPage) AllocateTuple(data []byte) (int, error) {
	slot, err := sp.reserveSlot()
	if err != nil {
		return 0, err
	}
	return sp.placeTuple(slot, data)
}

// reserveSlot returns a slot id to use for a new tuple: popped from the
// free-slot chain if one exists, otherwise grown from FreeLower.
func (sp *SlottedPage) reserveSlot() (int, error) {
	head := sp.FreeHead()
	if head != freeHeadSentinel {
		slot := int(head)
		next := sp.getLine(slot).Offset // next-free pointer stashed in Offset
		sp.setFreeHead(next)
		return slot, nil
	}
	lower := sp.FreeLower()
	upper := sp.FreeUpper()
	if int(lower)+linePtrSize > int(upper) {
		return 0, newInsufficientSpace("no room for a new line-pointer slot")
	}
	slot := sp.SlotCount()
	sp.setFreeLower(lower + linePtrSize)
	sp.setSlotCount(slot + 1)
	return slot, nil
}

// placeTuple writes data into the heap and points slot at it as Live.
func (sp *SlottedPage) placeTuple(slot int, data []byte) (int, error) {
	lower := sp.FreeLower()
	upper := sp.FreeUpper()
	needed := len(data)
	if int(upper)-int(lower) < needed {
		return 0, newInsufficientSpace("slotted page full")
	}
	newUpper := int(upper) - needed
	copy(sp.buf[newUpper:], data)
	sp.setFreeUpper(uint16(newUpper))
	sp.setLine(slot, LinePtr{Offset: uint16(newUpper), Length: uint16(needed), State: LineLive})
	return slot, nil
}

// TupleResult is the decoded outcome of reading one slot.
type TupleResult struct {
	State  LineState
	Data   []byte // valid iff State == LineLive
	Target int    // valid iff State == LineRedirect: the slot to re-read
}

// Tuple reads slot i. Out-of-range slots report LineFree.
func (sp *SlottedPage) Tuple(i int) TupleResult {
	if i < 0 || i >= sp.SlotCount() {
		return TupleResult{State: LineFree}
	}
	lp := sp.getLine(i)
	switch lp.State {
	case LineLive:
		return TupleResult{State: LineLive, Data: sp.buf[lp.Offset : lp.Offset+lp.Length]}
	case LineRedirect:
		return TupleResult{State: LineRedirect, Target: int(lp.Offset)}
	default:
		return TupleResult{State: lp.State}
	}
}

// UpdateTuple overwrites slot i's data in place if the new bytes are the
// same length as the old; otherwise it allocates a new slot for the new
// bytes and converts i into a Redirect to that slot. It is an error to
// update a slot that is not currently Live.
func (sp *SlottedPage) UpdateTuple(i int, data []byte) error {
	if i < 0 || i >= sp.SlotCount() {
		return newInvariantViolation("update: slot out of range")
	}
	lp := sp.getLine(i)
	if lp.State != LineLive {
		return newInvariantViolation("update: slot is not live")
	}
	if int(lp.Length) == len(data) {
		copy(sp.buf[lp.Offset:lp.Offset+lp.Length], data)
		return nil
	}
	newSlot, err := sp.AllocateTuple(data)
	if err != nil {
		return err
	}
	sp.setLine(i, LinePtr{Offset: uint16(newSlot), Length: 0, State: LineRedirect})
	return nil
}

// DeleteTuple marks slot i free and pushes it onto the free-slot chain.
func (sp *SlottedPage) DeleteTuple(i int) error {
	if i < 0 || i >= sp.SlotCount() {
		return newInvariantViolation("delete: slot out of range")
	}
	head := sp.FreeHead()
	sp.setLine(i, LinePtr{Offset: head, Length: 0, State: LineFree})
	sp.setFreeHead(uint16(i))
	return nil
}

// Iterate calls fn for every slot in order regardless of state. fn
// returning false stops iteration early.
func (sp *SlottedPage) Iterate(fn func(slot int, lp LinePtr) bool) {
	for i := 0; i < sp.SlotCount(); i++ {
		if !fn(i, sp.getLine(i)) {
			return
		}
	}
}

// LiveIterate calls fn for every Live slot's data, skipping Redirect,
// Free and Dead slots (a Redirect's target is visited in its own
// position when that position is itself reached).
func (sp *SlottedPage) LiveIterate(fn func(slot int, data []byte) bool) {
	sp.Iterate(func(slot int, lp LinePtr) bool {
		if lp.State != LineLive {
			return true
		}
		return fn(slot, sp.buf[lp.Offset:lp.Offset+lp.Length])
	})
}

// Bytes returns the underlying page buffer.
func (sp *SlottedPage) Bytes() []byte { return sp.buf }
