package node

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/mosaicnetworks/probe/src/optimize"
	"github.com/mosaicnetworks/probe/src/peers"
	"github.com/mosaicnetworks/probe/src/wire"
)

// snapshot projects the node's state. It must only be called from the main
// loop.
func (n *Node) snapshot() wire.Snapshot {
	s := n.getState()

	snap := wire.Snapshot{
		ID:        n.id,
		Epoch:     n.opt.epoch,
		Precision: n.opt.precision,
		PeerCount: n.registry.Len(),
		Running:   s.Active(),
		State:     s.String(),
		Value:     n.opt.value.Clone(),
		Session:   n.opt.session,
	}
	if snap.Value == nil {
		snap.Value = []float64{}
	}
	if n.lastErr != nil {
		snap.LastError = n.lastErr.Error()
	}

	return snap
}

func (n *Node) peerInfos() []wire.PeerInfo {
	res := make([]wire.PeerInfo, 0, n.registry.Len())

	for id := range n.registry.All() {
		info := wire.PeerInfo{ID: id}

		if addr, err := n.book.Addr(id); err == nil {
			info.Addr = addr
		}

		if s, ok := n.stats[id]; ok {
			info.Online = s.online
			info.RTTMillis = s.rtt
			info.LastEpoch = s.lastEpoch
			info.Value = s.value.Clone()
		}

		res = append(res, info)
	}

	return res
}

// resolved maps every ID the node holds a value for to that value: its own,
// and the last value received from each registered peer.
func (n *Node) resolved() map[peers.ID]optimize.Vector {
	res := make(map[peers.ID]optimize.Vector, n.registry.Len()+1)
	for id := range n.registry.All() {
		if s, ok := n.stats[id]; ok && len(s.value) == n.conf.Dim {
			res[id] = s.value
		}
	}
	if len(n.opt.value) == n.conf.Dim {
		res[n.id] = n.opt.value
	}
	return res
}

// coordinates lists the resolved values by ID, shifted so that their center
// is at the origin. Distances are unchanged by the shift.
func (n *Node) coordinates() []wire.Coordinate {
	known := n.resolved()

	values := make([]optimize.Vector, 0, len(known))
	for _, v := range known {
		values = append(values, v)
	}
	center := optimize.Center(values, n.conf.Dim)

	res := make([]wire.Coordinate, 0, len(known))
	for id, v := range known {
		c := wire.Coordinate{ID: id, Value: make([]float64, len(v))}
		for i := range v {
			c.Value[i] = v[i] - center[i]
		}
		res = append(res, c)
	}
	slices.SortFunc(res, func(a, b wire.Coordinate) int {
		return cmp.Compare(a.ID, b.ID)
	})

	return res
}

func (n *Node) estimate(from, to peers.ID) (wire.Estimate, error) {
	known := n.resolved()

	a, ok := known[from]
	if !ok {
		return wire.Estimate{}, fmt.Errorf("no value for %s: %w", from, peers.ErrUnknownPeer)
	}
	b, ok := known[to]
	if !ok {
		return wire.Estimate{}, fmt.Errorf("no value for %s: %w", to, peers.ErrUnknownPeer)
	}

	return wire.Estimate{
		From:     from,
		To:       to,
		Distance: optimize.Distance(a, b),
		Epoch:    n.opt.epoch,
	}, nil
}
