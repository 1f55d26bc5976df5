package pager

import (
	"testing"

	"github.com/google/uuid"
)

func TestDataValCompareInt(t *testing.T) {
	a, b := IntVal(3), IntVal(7)
	if a.Compare(b) >= 0 {
		t.Fatalf("expected 3 < 7")
	}
	if b.Compare(a) <= 0 {
		t.Fatalf("expected 7 > 3")
	}
	if !a.Equal(IntVal(3)) {
		t.Fatalf("expected 3 == 3")
	}
}

func TestDataValCompareString(t *testing.T) {
	a, b := StringVal("alice"), StringVal("bob")
	if a.Compare(b) >= 0 {
		t.Fatalf("expected alice < bob")
	}
	if !a.Equal(StringVal("alice")) {
		t.Fatalf("expected alice == alice")
	}
}

func TestDataValCompareUUID(t *testing.T) {
	lo := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	hi := uuid.MustParse("ffffffff-ffff-ffff-ffff-ffffffffffff")
	a, b := UUIDVal(lo), UUIDVal(hi)
	if a.Compare(b) >= 0 {
		t.Fatalf("expected low UUID < high UUID")
	}
	if !a.Equal(UUIDVal(lo)) {
		t.Fatalf("expected equal UUIDs to compare equal")
	}
}

func TestLayoutIntRoundTrip(t *testing.T) {
	layout := IntLayout()
	buf := make([]byte, layout.KeyLen)
	v := IntVal(-42)
	if err := layout.encodeKey(buf, v); err != nil {
		t.Fatalf("encodeKey: %v", err)
	}
	got := layout.decodeKey(buf)
	if !got.Equal(v) {
		t.Fatalf("int layout round trip: want %v, got %v", v, got)
	}
}

func TestLayoutStringRoundTripAndPadding(t *testing.T) {
	layout := StringLayout(8)
	buf := make([]byte, layout.KeyLen)
	v := StringVal("hi")
	if err := layout.encodeKey(buf, v); err != nil {
		t.Fatalf("encodeKey: %v", err)
	}
	for i, b := range buf[2:] {
		if b != 0 {
			t.Fatalf("expected zero-padding past the string's bytes, byte %d was %d", i+2, b)
		}
	}
	got := layout.decodeKey(buf)
	if !got.Equal(v) {
		t.Fatalf("string layout round trip: want %v, got %v", v, got)
	}
}

func TestLayoutUUIDRoundTrip(t *testing.T) {
	layout := UUIDLayout()
	if layout.KeyLen != 16 {
		t.Fatalf("expected a UUID layout to be 16 bytes wide, got %d", layout.KeyLen)
	}
	buf := make([]byte, layout.KeyLen)
	id := uuid.New()
	v := UUIDVal(id)
	if err := layout.encodeKey(buf, v); err != nil {
		t.Fatalf("encodeKey: %v", err)
	}
	got := layout.decodeKey(buf)
	if !got.Equal(v) {
		t.Fatalf("uuid layout round trip: want %v, got %v", v, got)
	}
}

func TestLayoutEncodeKeyRejectsKindMismatch(t *testing.T) {
	layout := IntLayout()
	buf := make([]byte, layout.KeyLen)
	err := layout.encodeKey(buf, StringVal("wrong kind"))
	if err == nil {
		t.Fatalf("expected an error encoding a string DataVal against an int layout")
	}
	perr, ok := err.(*Error)
	if !ok || perr.Kind != KindTypeMismatch {
		t.Fatalf("expected a TypeMismatch error, got %v", err)
	}
}
