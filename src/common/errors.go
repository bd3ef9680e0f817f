package common

import (
	"errors"
	"fmt"
)

// DecodeErr is returned when a wire payload cannot be parsed at all. Field
// names the part of the payload that was malformed.
type DecodeErr struct {
	Field  string
	Reason string
}

// NewDecodeErr ...
func NewDecodeErr(field, reason string) *DecodeErr {
	return &DecodeErr{Field: field, Reason: reason}
}

// Error ...
func (e *DecodeErr) Error() string {
	return fmt.Sprintf("decode: malformed %s: %s", e.Field, e.Reason)
}

// CommandErr is returned for a well-formed payload carrying an unknown command
// or arguments that the command does not accept. A command that fails with a
// CommandErr has not modified any state.
type CommandErr struct {
	Command string
	Field   string
	Reason  string
}

// NewCommandErr ...
func NewCommandErr(command, field, reason string) *CommandErr {
	return &CommandErr{Command: command, Field: field, Reason: reason}
}

// Error ...
func (e *CommandErr) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("command: invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("command %s: invalid %s: %s", e.Command, e.Field, e.Reason)
}

// PeerErrType distinguishes the recoverable per-peer failures of an epoch.
type PeerErrType uint32

const (
	// Unreachable covers unresolvable addresses, transport errors and
	// timeouts.
	Unreachable PeerErrType = iota
	// ResponseInvalid is a response that arrived but could not be used.
	ResponseInvalid
)

// String ...
func (t PeerErrType) String() string {
	switch t {
	case Unreachable:
		return "unreachable"
	case ResponseInvalid:
		return "invalid_response"
	default:
		return "unknown"
	}
}

// PeerErr is a failure of a single peer within a single epoch.
type PeerErr struct {
	Peer string
	Kind PeerErrType
	Err  error
}

// NewPeerErr ...
func NewPeerErr(peer string, kind PeerErrType, err error) *PeerErr {
	return &PeerErr{Peer: peer, Kind: kind, Err: err}
}

// Error ...
func (e *PeerErr) Error() string {
	return fmt.Sprintf("peer %s %s: %v", e.Peer, e.Kind, e.Err)
}

// Unwrap ...
func (e *PeerErr) Unwrap() error {
	return e.Err
}

// InvariantErr signals corrupted optimization state. It halts the current run.
type InvariantErr struct {
	Invariant string
	Detail    string
}

// NewInvariantErr ...
func NewInvariantErr(invariant, detail string) *InvariantErr {
	return &InvariantErr{Invariant: invariant, Detail: detail}
}

// Error ...
func (e *InvariantErr) Error() string {
	return fmt.Sprintf("invariant %s violated: %s", e.Invariant, e.Detail)
}

// IsDecode checks that err is, or wraps, a DecodeErr.
func IsDecode(err error) bool {
	var target *DecodeErr
	return errors.As(err, &target)
}

// IsCommand checks that err is, or wraps, a CommandErr.
func IsCommand(err error) bool {
	var target *CommandErr
	return errors.As(err, &target)
}

// IsPeer checks that err is, or wraps, a PeerErr of the given kind.
func IsPeer(err error, kind PeerErrType) bool {
	var target *PeerErr
	return errors.As(err, &target) && target.Kind == kind
}

// IsInvariant checks that err is, or wraps, an InvariantErr.
func IsInvariant(err error) bool {
	var target *InvariantErr
	return errors.As(err, &target)
}
