package pager

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsMatchesByKind(t *testing.T) {
	err := newBufferAbort("pin timed out")
	if !errors.Is(err, ErrBufferAbort) {
		t.Fatalf("expected a BufferAbort to match ErrBufferAbort")
	}
	if errors.Is(err, ErrIoError) {
		t.Fatalf("a BufferAbort must not match ErrIoError")
	}
}

func TestErrorIsMatchesThroughWrapping(t *testing.T) {
	inner := newIoError("read block f:3", errors.New("disk gone"))
	wrapped := fmt.Errorf("pin f:3: %w", inner)
	if !errors.Is(wrapped, ErrIoError) {
		t.Fatalf("expected errors.Is to match through fmt.Errorf wrapping")
	}
}

func TestErrorUnwrapExposesCause(t *testing.T) {
	cause := errors.New("short write")
	err := newIoError("write block", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected the underlying cause to be reachable via Unwrap")
	}
}

// ErrDeadlockAbort has no constructor in this package: the lock manager
// that detects cycles lives above this module and wraps the sentinel
// itself. The sentinel still has to match its own kind and nothing else.
func TestDeadlockAbortSentinel(t *testing.T) {
	fromLockManager := fmt.Errorf("transaction 12 chosen as deadlock victim: %w", ErrDeadlockAbort)
	if !errors.Is(fromLockManager, ErrDeadlockAbort) {
		t.Fatalf("expected a wrapped ErrDeadlockAbort to match the sentinel")
	}
	if errors.Is(fromLockManager, ErrBufferAbort) {
		t.Fatalf("a DeadlockAbort must not match ErrBufferAbort")
	}
}

func TestErrorKindStrings(t *testing.T) {
	cases := map[ErrorKind]string{
		KindIoError:            "IoError",
		KindInsufficientSpace:  "InsufficientSpace",
		KindTypeMismatch:       "TypeMismatch",
		KindBufferAbort:        "BufferAbort",
		KindDeadlockAbort:      "DeadlockAbort",
		KindInvariantViolation: "InvariantViolation",
	}
	for kind, want := range cases {
		if kind.String() != want {
			t.Fatalf("ErrorKind(%d).String() = %q, want %q", kind, kind.String(), want)
		}
	}
}
