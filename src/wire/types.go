package wire

import (
	"github.com/mosaicnetworks/probe/src/peers"
)

// ExchangeRequest carries a node's current value to a peer during an epoch.
type ExchangeRequest struct {
	FromID  peers.ID  `codec:"from" json:"from"`
	Epoch   uint64    `codec:"epoch" json:"epoch"`
	Session uint64    `codec:"session" json:"session"`
	Value   []float64 `codec:"value" json:"value"`
}

// ExchangeResponse returns the responder's current value.
type ExchangeResponse struct {
	FromID peers.ID  `codec:"from" json:"from"`
	Epoch  uint64    `codec:"epoch" json:"epoch"`
	Value  []float64 `codec:"value" json:"value"`
}

// Snapshot is the read-only status of a node.
type Snapshot struct {
	ID        peers.ID  `codec:"id" json:"id"`
	Epoch     uint64    `codec:"epoch" json:"epoch"`
	Precision float64   `codec:"precision" json:"precision"`
	PeerCount int       `codec:"peer_count" json:"peer_count"`
	Running   bool      `codec:"running" json:"running"`
	State     string    `codec:"state" json:"state"`
	Value     []float64 `codec:"value" json:"value"`
	Session   uint64    `codec:"session" json:"session"`
	LastError string    `codec:"last_error,omitempty" json:"last_error,omitempty"`
}

// PeerInfo describes a registry entry together with what the node has
// observed of it.
type PeerInfo struct {
	ID        peers.ID  `codec:"id" json:"id"`
	Addr      string    `codec:"addr,omitempty" json:"addr,omitempty"`
	Online    bool      `codec:"online" json:"online"`
	RTTMillis float64   `codec:"rtt_ms" json:"rtt_ms"`
	LastEpoch uint64    `codec:"last_epoch" json:"last_epoch"`
	Value     []float64 `codec:"value,omitempty" json:"value,omitempty"`
}

// Coordinate is the value a node holds for an ID.
type Coordinate struct {
	ID    peers.ID  `codec:"id" json:"id"`
	Value []float64 `codec:"value" json:"value"`
}

// Estimate is the distance between the values a node holds for two IDs.
type Estimate struct {
	From     peers.ID `codec:"from" json:"from"`
	To       peers.ID `codec:"to" json:"to"`
	Distance float64  `codec:"distance" json:"distance"`
	Epoch    uint64   `codec:"epoch" json:"epoch"`
}
