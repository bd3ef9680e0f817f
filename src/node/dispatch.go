package node

import (
	"fmt"

	"github.com/mosaicnetworks/probe/src/common"
	"github.com/mosaicnetworks/probe/src/net"
	"github.com/mosaicnetworks/probe/src/optimize"
	"github.com/mosaicnetworks/probe/src/peers"
	"github.com/mosaicnetworks/probe/src/telemetry"
	"github.com/mosaicnetworks/probe/src/wire"
	"github.com/sirupsen/logrus"
)

type peersQuery struct{}

// estimateQuery asks for the distance between from and to. With self set,
// from is the node's current ID.
type estimateQuery struct {
	self     bool
	from, to peers.ID
}

type resolvedQuery struct{}

func (n *Node) processRPC(rpc net.RPC) {
	switch cmd := rpc.Command.(type) {
	case wire.Command:
		if err := n.dispatch(cmd); err != nil {
			n.logger.WithError(err).WithField("command", cmd.Tag()).Debug("Command rejected")
			rpc.Respond(nil, err)
			return
		}
		rpc.Respond(n.snapshot(), nil)
	case *wire.ExchangeRequest:
		rpc.Respond(n.processExchangeRequest(cmd), nil)
	case peersQuery:
		rpc.Respond(n.peerInfos(), nil)
	case estimateQuery:
		from := cmd.from
		if cmd.self {
			from = n.id
		}
		est, err := n.estimate(from, cmd.to)
		rpc.Respond(est, err)
	case resolvedQuery:
		rpc.Respond(n.coordinates(), nil)
	default:
		n.logger.WithField("cmd", rpc.Command).Error("Unexpected RPC command")
		rpc.Respond(nil, fmt.Errorf("unexpected command"))
	}
}

// dispatch validates and applies a command. Every branch validates before it
// mutates anything.
func (n *Node) dispatch(cmd wire.Command) error {
	switch c := cmd.(type) {
	case wire.SetID:
		return n.setID(c.ID)
	case wire.AddPeer:
		return n.addPeer(c.ID)
	case wire.RemovePeer:
		n.removePeer(c.ID)
	case wire.StartOptimize:
		return n.startOptimize(c.Initial)
	case wire.StopOptimize:
		n.stopOptimize()
	case wire.QueryStatus:
	case wire.Reset:
		return n.reset()
	default:
		return common.NewCommandErr(cmd.Tag(), "command", "unknown command")
	}
	return nil
}

func (n *Node) setID(id peers.ID) error {
	if id == n.id {
		return nil
	}
	if n.idHandler != nil {
		if err := n.idHandler(n.id, id); err != nil {
			return common.NewCommandErr(wire.TagSetID, "data", err.Error())
		}
	}
	n.logger.WithField("id", id).Info("Set ID")
	n.id = id
	n.setLogger()
	return nil
}

func (n *Node) addPeer(id peers.ID) error {
	if !n.registry.Contains(id) && n.registry.Len() >= n.conf.MaxPeers {
		return common.NewCommandErr(wire.TagAddPeer, "data",
			fmt.Sprintf("registry is full (%d peers)", n.conf.MaxPeers))
	}

	count := n.registry.Add(id)
	telemetry.PeerCount.WithLabelValues(n.conf.Moniker).Set(float64(count))

	n.logger.WithFields(logrus.Fields{
		"peer":       id,
		"peer_count": count,
	}).Debug("Add peer")

	return nil
}

func (n *Node) removePeer(id peers.ID) {
	if !n.registry.Remove(id) {
		return
	}
	delete(n.stats, id)
	telemetry.PeerCount.WithLabelValues(n.conf.Moniker).Set(float64(n.registry.Len()))

	n.logger.WithFields(logrus.Fields{
		"peer":       id,
		"peer_count": n.registry.Len(),
	}).Debug("Remove peer")
}

func (n *Node) startOptimize(initial []float64) error {
	var value optimize.Vector
	if len(initial) > 0 {
		v, err := optimize.FromInitial(initial, n.conf.Dim)
		if err != nil {
			return common.NewCommandErr(wire.TagStartOptimize, "data", err.Error())
		}
		value = v
	}

	switch n.getState() {
	case Running:
		// Already running: keep the progress made so far.
		n.logger.Debug("start_optimize while running, ignored")
		return nil
	case Stopping:
		// The pending stop is cancelled. The in-flight epoch will re-arm the
		// timer when it completes.
		n.logger.Debug("start_optimize while stopping, stop cancelled")
		n.transition(Running)
		return nil
	}

	if value == nil {
		value = n.defaultValue()
	}

	n.opt = optState{
		epoch:     0,
		precision: 0,
		value:     value,
		session:   n.opt.session + 1,
	}
	n.lastErr = nil

	n.transition(Running)
	n.controlTimer.Reset(n.conf.EpochInterval)

	telemetry.Running.WithLabelValues(n.conf.Moniker).Set(1)
	telemetry.Epoch.WithLabelValues(n.conf.Moniker).Set(0)
	telemetry.Precision.WithLabelValues(n.conf.Moniker).Set(0)

	n.logger.WithFields(logrus.Fields{
		"session": n.opt.session,
		"value":   n.opt.value,
	}).Info("Start optimization")

	return nil
}

func (n *Node) defaultValue() optimize.Vector {
	if n.conf.Init == InitZero {
		return optimize.Zero(n.conf.Dim)
	}
	return optimize.Random(n.conf.Dim, n.rand)
}

func (n *Node) stopOptimize() {
	switch n.getState() {
	case Running:
		if n.inFlight {
			// The in-flight epoch completes and is counted; no further epoch
			// begins.
			n.transition(Stopping)
			n.logger.WithField("epoch", n.opt.epoch).Info("Stop requested, waiting for epoch")
			return
		}
		n.finishRun()
	default:
		n.logger.Debug("stop_optimize while not running, ignored")
	}
}

// finishRun ends the current run at an epoch boundary.
func (n *Node) finishRun() {
	n.transition(Idle)
	n.controlTimer.Stop()
	telemetry.Running.WithLabelValues(n.conf.Moniker).Set(0)

	n.logger.WithFields(logrus.Fields{
		"epoch":     n.opt.epoch,
		"precision": n.opt.precision,
	}).Info("Stop optimization")
}

func (n *Node) reset() error {
	if n.getState().Active() {
		return common.NewCommandErr(wire.TagReset, "command", "optimization is running")
	}

	n.opt = optState{session: n.opt.session}
	n.lastErr = nil
	n.stats = make(map[peers.ID]*peerStats)
	if err := n.trace.Reset(); err != nil {
		n.logger.WithError(err).Error("Resetting trace")
	}
	n.transition(Idle)

	telemetry.Epoch.WithLabelValues(n.conf.Moniker).Set(0)
	telemetry.Precision.WithLabelValues(n.conf.Moniker).Set(0)

	n.logger.Info("Reset")

	return nil
}
