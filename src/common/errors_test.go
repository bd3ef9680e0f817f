package common

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorPredicates(t *testing.T) {
	dec := NewDecodeErr("body", "empty")
	cmd := NewCommandErr("add_peer", "data", "not a peer id")
	unreachable := NewPeerErr("3", Unreachable, errors.New("connection refused"))
	invalid := NewPeerErr("4", ResponseInvalid, errors.New("dimension 2, want 3"))
	inv := NewInvariantErr("epoch", "wrapped")

	wrapped := fmt.Errorf("push message: %w", cmd)

	if !IsDecode(dec) || IsDecode(cmd) {
		t.Fatalf("IsDecode mismatch")
	}
	if !IsCommand(wrapped) || IsCommand(dec) {
		t.Fatalf("IsCommand should see through wrapping")
	}
	if !IsPeer(unreachable, Unreachable) || IsPeer(unreachable, ResponseInvalid) {
		t.Fatalf("IsPeer kind mismatch")
	}
	if !IsPeer(invalid, ResponseInvalid) {
		t.Fatalf("IsPeer(invalid, ResponseInvalid) should be true")
	}
	if !IsInvariant(inv) || IsInvariant(dec) {
		t.Fatalf("IsInvariant mismatch")
	}
}

func TestErrorMessagesNameTheField(t *testing.T) {
	for _, c := range []struct {
		err  error
		want string
	}{
		{NewDecodeErr("command", "expected a string"), "decode: malformed command: expected a string"},
		{NewCommandErr("bogus_command", "command", "unknown command"), "command bogus_command: invalid command: unknown command"},
		{NewCommandErr("", "data", "missing"), "command: invalid data: missing"},
		{NewPeerErr("1", Unreachable, errors.New("timeout")), "peer 1 unreachable: timeout"},
	} {
		if got := c.err.Error(); got != c.want {
			t.Errorf("Error() = %q, want %q", got, c.want)
		}
	}
}

func TestPeerErrUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewPeerErr("2", Unreachable, cause)
	if !errors.Is(err, cause) {
		t.Fatalf("PeerErr should unwrap to its cause")
	}
}
