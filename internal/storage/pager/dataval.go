package pager

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// DataValKind tags which alternative a DataVal holds. A fixed 16-byte
// UUID key fits the fixed-width B-tree layout just as naturally as an
// int32 one, so UUID-keyed indexes are first-class alongside int and
// string.
type DataValKind uint8

const (
	DataValInt DataValKind = iota
	DataValString
	DataValUUID
)

// DataVal is the ordered key domain compared during B-tree traversal.
// A B-tree's layout fixes one kind and one on-disk width for every key it
// stores; DataVal is the runtime value that gets packed into that width.
type DataVal struct {
	Kind DataValKind
	Int  int32
	Str  string
	UUID uuid.UUID
}

// IntVal constructs an integer DataVal.
func IntVal(v int32) DataVal { return DataVal{Kind: DataValInt, Int: v} }

// StringVal constructs a string DataVal.
func StringVal(v string) DataVal { return DataVal{Kind: DataValString, Str: v} }

// UUIDVal constructs a UUID-keyed DataVal.
func UUIDVal(v uuid.UUID) DataVal { return DataVal{Kind: DataValUUID, UUID: v} }

// Compare returns -1, 0, or 1 as d is less than, equal to, or greater than
// other. Both values must share the same Kind.
func (d DataVal) Compare(other DataVal) int {
	switch d.Kind {
	case DataValInt:
		switch {
		case d.Int < other.Int:
			return -1
		case d.Int > other.Int:
			return 1
		default:
			return 0
		}
	case DataValString:
		switch {
		case d.Str < other.Str:
			return -1
		case d.Str > other.Str:
			return 1
		default:
			return 0
		}
	case DataValUUID:
		return bytes.Compare(d.UUID[:], other.UUID[:])
	default:
		panic("pager: DataVal with unknown kind")
	}
}

func (d DataVal) Equal(other DataVal) bool { return d.Compare(other) == 0 }

func (d DataVal) String() string {
	switch d.Kind {
	case DataValInt:
		return fmt.Sprintf("%d", d.Int)
	case DataValUUID:
		return d.UUID.String()
	default:
		return d.Str
	}
}

// Layout describes the fixed on-disk shape of keys for one B-tree.
type Layout struct {
	Kind   DataValKind
	KeyLen int // fixed encoded width of the key in bytes
}

// IntLayout is the layout for a B-tree keyed on 4-byte integers.
func IntLayout() Layout { return Layout{Kind: DataValInt, KeyLen: 4} }

// StringLayout is the layout for a B-tree keyed on fixed-width strings,
// truncated or zero-padded to width bytes.
func StringLayout(width int) Layout { return Layout{Kind: DataValString, KeyLen: width} }

// UUIDLayout is the layout for a B-tree keyed on the raw 16-byte form of
// a uuid.UUID.
func UUIDLayout() Layout { return Layout{Kind: DataValUUID, KeyLen: 16} }

// encodeKey writes v into a KeyLen-byte field at buf[0:l.KeyLen]. A
// caller handing it a DataVal of the wrong kind for this layout is a
// recoverable programmer error (TypeMismatch), not an invariant
// violation, since the layout and value come from independent call
// sites (a B-tree's fixed key kind vs. whatever the caller constructs).
func (l Layout) encodeKey(buf []byte, v DataVal) error {
	if v.Kind != l.Kind {
		return newTypeMismatch(fmt.Sprintf("dataval kind %d does not match layout kind %d", v.Kind, l.Kind))
	}
	switch l.Kind {
	case DataValInt:
		binary.LittleEndian.PutUint32(buf, uint32(v.Int))
	case DataValString:
		n := copy(buf[:l.KeyLen], v.Str)
		for i := n; i < l.KeyLen; i++ {
			buf[i] = 0
		}
	case DataValUUID:
		copy(buf[:l.KeyLen], v.UUID[:])
	}
	return nil
}

func (l Layout) decodeKey(buf []byte) DataVal {
	switch l.Kind {
	case DataValInt:
		return IntVal(int32(binary.LittleEndian.Uint32(buf)))
	case DataValString:
		n := 0
		for n < l.KeyLen && buf[n] != 0 {
			n++
		}
		return StringVal(string(buf[:n]))
	case DataValUUID:
		var u uuid.UUID
		copy(u[:], buf[:l.KeyLen])
		return UUIDVal(u)
	default:
		panic("pager: layout with unknown kind")
	}
}
