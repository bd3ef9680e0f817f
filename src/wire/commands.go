package wire

import (
	"github.com/mosaicnetworks/probe/src/peers"
)

// Command tags accepted in the "command" field of an envelope.
const (
	TagSetID         = "set_id"
	TagAddPeer       = "add_peer"
	TagRemovePeer    = "remove_peer"
	TagStartOptimize = "start_optimize"
	TagStopOptimize  = "stop_optimize"
	TagStatus        = "status"
	TagReset         = "reset"
)

// Tags lists the command vocabulary.
var Tags = []string{
	TagSetID,
	TagAddPeer,
	TagRemovePeer,
	TagStartOptimize,
	TagStopOptimize,
	TagStatus,
	TagReset,
}

// Command is one of the fixed set of operations a node accepts. The set is
// closed: only the types declared in this package implement it.
type Command interface {
	Tag() string
	isCommand()
}

// SetID assigns the node's own identity.
type SetID struct {
	ID peers.ID
}

// AddPeer inserts a peer into the registry.
type AddPeer struct {
	ID peers.ID
}

// RemovePeer removes a peer from the registry.
type RemovePeer struct {
	ID peers.ID
}

// StartOptimize starts a new optimization run. Initial is the starting value;
// when empty the node picks its configured default. A single element is
// broadcast to every dimension.
type StartOptimize struct {
	Initial []float64
}

// StopOptimize stops the current run at the next epoch boundary.
type StopOptimize struct{}

// QueryStatus asks for a status snapshot. It never mutates state.
type QueryStatus struct{}

// Reset clears the optimization state of a node that is not running.
type Reset struct{}

// Tag ...
func (SetID) Tag() string { return TagSetID }

// Tag ...
func (AddPeer) Tag() string { return TagAddPeer }

// Tag ...
func (RemovePeer) Tag() string { return TagRemovePeer }

// Tag ...
func (StartOptimize) Tag() string { return TagStartOptimize }

// Tag ...
func (StopOptimize) Tag() string { return TagStopOptimize }

// Tag ...
func (QueryStatus) Tag() string { return TagStatus }

// Tag ...
func (Reset) Tag() string { return TagReset }

func (SetID) isCommand()         {}
func (AddPeer) isCommand()       {}
func (RemovePeer) isCommand()    {}
func (StartOptimize) isCommand() {}
func (StopOptimize) isCommand()  {}
func (QueryStatus) isCommand()   {}
func (Reset) isCommand()         {}
