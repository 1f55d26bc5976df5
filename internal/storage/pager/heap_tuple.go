package pager

import "encoding/binary"

// Heap tuple framing. A slotted page stores opaque byte runs; heap-table
// callers frame each run as a small fixed header followed by the payload:
//
//   [0:4]   PayloadLen uint32
//   [4:12]  Xmin       uint64 — creating transaction
//   [12:20] Xmax       uint64 — deleting transaction, 0 = live
//   [20:22] Flags      uint16
//   [22:24] NullmapPtr uint16 — offset of the null bitmap within the
//                               payload, 0 = no nullable columns
//
// The slotted page itself never interprets these bytes; the line pointer's
// length covers header plus payload.

const heapTupleHeaderSize = 24

// HeapTupleHeader is the decoded fixed header preceding a tuple's payload.
type HeapTupleHeader struct {
	PayloadLen uint32
	Xmin       uint64
	Xmax       uint64
	Flags      uint16
	NullmapPtr uint16
}

// EncodeHeapTuple frames payload behind hdr. hdr.PayloadLen is derived
// from payload and need not be set by the caller. The result is what gets
// handed to SlottedPage.AllocateTuple.
func EncodeHeapTuple(hdr HeapTupleHeader, payload []byte) []byte {
	buf := make([]byte, heapTupleHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:], uint32(len(payload)))
	binary.LittleEndian.PutUint64(buf[4:], hdr.Xmin)
	binary.LittleEndian.PutUint64(buf[12:], hdr.Xmax)
	binary.LittleEndian.PutUint16(buf[20:], hdr.Flags)
	binary.LittleEndian.PutUint16(buf[22:], hdr.NullmapPtr)
	copy(buf[heapTupleHeaderSize:], payload)
	return buf
}

// DecodeHeapTuple splits a tuple read back out of a slotted page into its
// header and payload. The payload aliases buf rather than copying.
func DecodeHeapTuple(buf []byte) (HeapTupleHeader, []byte, error) {
	if len(buf) < heapTupleHeaderSize {
		return HeapTupleHeader{}, nil, newInvariantViolation("heap tuple shorter than its fixed header")
	}
	hdr := HeapTupleHeader{
		PayloadLen: binary.LittleEndian.Uint32(buf[0:]),
		Xmin:       binary.LittleEndian.Uint64(buf[4:]),
		Xmax:       binary.LittleEndian.Uint64(buf[12:]),
		Flags:      binary.LittleEndian.Uint16(buf[20:]),
		NullmapPtr: binary.LittleEndian.Uint16(buf[22:]),
	}
	if int(hdr.PayloadLen) != len(buf)-heapTupleHeaderSize {
		return HeapTupleHeader{}, nil, newInvariantViolation("heap tuple payload length disagrees with its line pointer")
	}
	return hdr, buf[heapTupleHeaderSize:], nil
}
