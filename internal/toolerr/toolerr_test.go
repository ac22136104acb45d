package toolerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := New(KindStaleReference, "ref %q is stale", "e3")
	if got := KindOf(err); got != KindStaleReference {
		t.Errorf("KindOf = %s, want %s", got, KindStaleReference)
	}

	wrapped := fmt.Errorf("outer: %w", err)
	if got := KindOf(wrapped); got != KindStaleReference {
		t.Errorf("KindOf through wrapping = %s, want %s", got, KindStaleReference)
	}
}

func TestKindOfUnclassified(t *testing.T) {
	if got := KindOf(errors.New("something broke")); got != KindEngineFatal {
		t.Errorf("unclassified error should be fatal, got %s", got)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindEngineLaunch, cause, "start chrome")

	if !errors.Is(err, cause) {
		t.Error("wrapped cause not reachable via errors.Is")
	}
	if err.Error() == "" || err.Kind != KindEngineLaunch {
		t.Errorf("unexpected error %v", err)
	}
}

func TestIs(t *testing.T) {
	err := New(KindUnknownSession, "no such session")
	if !Is(err, KindUnknownSession) {
		t.Error("Is should match the kind")
	}
	if Is(err, KindCanceled) {
		t.Error("Is matched the wrong kind")
	}
	if Is(errors.New("plain"), KindUnknownSession) {
		t.Error("Is matched an unclassified error")
	}
}

func TestFatalAndRecoverable(t *testing.T) {
	cases := []struct {
		kind        Kind
		fatal       bool
		recoverable bool
	}{
		{KindEngineFatal, true, false},
		{KindEngineLaunch, true, false},
		{KindNavigationTimeout, false, true},
		{KindOperationTimeout, false, true},
		{KindElementNotInteractable, false, true},
		{KindCanceled, false, true},
		{KindInvalidToolCall, false, false},
		{KindStaleReference, false, false},
	}

	for _, tc := range cases {
		err := New(tc.kind, "x")
		if Fatal(err) != tc.fatal {
			t.Errorf("Fatal(%s) = %v, want %v", tc.kind, Fatal(err), tc.fatal)
		}
		if Recoverable(err) != tc.recoverable {
			t.Errorf("Recoverable(%s) = %v, want %v", tc.kind, Recoverable(err), tc.recoverable)
		}
	}
}
