package node

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/mosaicnetworks/probe/src/common"
	"github.com/mosaicnetworks/probe/src/optimize"
	"github.com/mosaicnetworks/probe/src/peers"
	"github.com/mosaicnetworks/probe/src/telemetry"
	"github.com/mosaicnetworks/probe/src/trace"
	"github.com/mosaicnetworks/probe/src/wire"
	"github.com/sirupsen/logrus"
)

// peerResult is the outcome of one exchange.
type peerResult struct {
	peer  peers.ID
	value optimize.Vector
	epoch uint64
	rtt   time.Duration
	err   error
}

// roundResult is the outcome of one epoch's fan-out, handed back to the main
// loop.
type roundResult struct {
	session uint64
	epoch   uint64
	started time.Time
	results []peerResult
}

// peerStats is what a node knows about a peer. It is only used for display
// and estimates, never as a substitute for a missing response.
type peerStats struct {
	rtt       float64 // smoothed, in milliseconds
	sampled   bool
	online    bool
	lastEpoch uint64
	value     optimize.Vector
}

func (n *Node) onTick() {
	if n.getState() != Running || n.inFlight {
		return
	}
	n.startRound()
}

// startRound snapshots the registry and the node's value, then exchanges the
// value with every peer in a separate goroutine. The main loop keeps serving
// its inbox until the round result comes back on roundCh.
func (n *Node) startRound() {
	targets := make([]peers.ID, 0, n.registry.Len())
	for id := range n.registry.All() {
		if id != n.id {
			targets = append(targets, id)
		}
	}

	req := wire.ExchangeRequest{
		FromID:  n.id,
		Epoch:   n.opt.epoch,
		Session: n.opt.session,
		Value:   n.opt.value.Clone(),
	}

	n.inFlight = true

	n.logger.WithFields(logrus.Fields{
		"epoch": req.Epoch,
		"peers": len(targets),
	}).Debug("Start epoch")

	ctx, cancel := context.WithTimeout(n.ctx, n.conf.Window)
	started := time.Now()

	n.goFunc(func() {
		defer cancel()

		res := &roundResult{
			session: req.Session,
			epoch:   req.Epoch,
			started: started,
			results: n.exchangeAll(ctx, targets, &req),
		}

		select {
		case n.roundCh <- res:
		case <-n.shutdownCh:
		}
	})
}

// exchangeAll sends req to every target, at most MaxInFlight at a time, and
// collects one result per target. It returns by the deadline of ctx.
func (n *Node) exchangeAll(ctx context.Context, targets []peers.ID, req *wire.ExchangeRequest) []peerResult {
	resultCh := make(chan peerResult, len(targets))
	sem := make(chan struct{}, max(1, n.conf.MaxInFlight))

	for _, id := range targets {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			resultCh <- peerResult{
				peer: id,
				err:  common.NewPeerErr(id.String(), common.Unreachable, ctx.Err()),
			}
			continue
		}

		n.goFunc(func() {
			defer func() { <-sem }()
			resultCh <- n.exchange(ctx, id, req)
		})
	}

	results := make([]peerResult, 0, len(targets))
	for range targets {
		results = append(results, <-resultCh)
	}
	return results
}

func (n *Node) exchange(ctx context.Context, id peers.ID, req *wire.ExchangeRequest) peerResult {
	res := peerResult{peer: id}

	addr, err := n.book.Addr(id)
	if err != nil {
		res.err = common.NewPeerErr(id.String(), common.Unreachable, err)
		return res
	}

	var resp wire.ExchangeResponse
	start := time.Now()
	err = n.trans.Exchange(ctx, addr, req, &resp)
	res.rtt = time.Since(start)
	if err != nil {
		res.err = common.NewPeerErr(id.String(), common.Unreachable, err)
		return res
	}

	value := optimize.Vector(resp.Value)
	if err := optimize.Validate(value, n.conf.Dim); err != nil {
		res.err = common.NewPeerErr(id.String(), common.ResponseInvalid, err)
		return res
	}

	res.value = value
	res.epoch = resp.Epoch
	return res
}

// applyRound completes an epoch in one step: aggregate, check, commit.
func (n *Node) applyRound(res *roundResult) {
	n.inFlight = false

	if res.session != n.opt.session || !n.getState().Active() {
		n.logger.WithField("session", res.session).Debug("Discarding stale round")
		return
	}

	samples := make([]optimize.Sample, 0, len(res.results))
	responders := make([]peers.ID, 0, len(res.results))
	failures := 0

	for _, r := range res.results {
		n.observe(r)

		if r.err != nil {
			failures++
			n.logger.WithFields(logrus.Fields{
				"epoch": res.epoch,
				"peer":  r.peer,
			}).WithError(r.err).Warn("Peer exchange failed")
			continue
		}

		samples = append(samples, n.sample(r))
		responders = append(responders, r.peer)
	}

	own := n.opt.value
	next := n.rule.Aggregate(own, samples)
	precision := n.metric.Precision(own, next, samples)

	if err := n.checkInvariants(next, precision); err != nil {
		n.halt(err)
		return
	}

	n.opt.value = next
	n.opt.precision = precision
	n.opt.epoch++

	duration := time.Since(res.started)

	record := trace.Record{
		Session:   n.opt.session,
		Epoch:     n.opt.epoch,
		Precision: precision,
		Value:     next.Clone(),
		Peers:     len(res.results),
		Responses: responders,
		Failures:  failures,
		Duration:  duration,
		Time:      time.Now().UTC(),
	}
	if err := n.trace.Add(record); err != nil {
		n.logger.WithError(err).Error("Adding trace record")
	}

	telemetry.EpochsTotal.WithLabelValues(n.conf.Moniker).Inc()
	telemetry.Epoch.WithLabelValues(n.conf.Moniker).Set(float64(n.opt.epoch))
	telemetry.Precision.WithLabelValues(n.conf.Moniker).Set(precision)

	n.logger.WithFields(logrus.Fields{
		"epoch":     n.opt.epoch,
		"precision": precision,
		"responses": len(samples),
		"failures":  failures,
		"duration":  duration,
	}).Debug("Epoch complete")

	if n.getState() == Stopping {
		n.finishRun()
		return
	}
	n.controlTimer.Reset(n.conf.EpochInterval)
}

// sample pairs a peer's value with the smoothed round-trip time to it. A peer
// removed during the epoch has no statistics; its raw round trip is used.
func (n *Node) sample(r peerResult) optimize.Sample {
	rtt := float64(r.rtt) / float64(time.Millisecond)
	if s, ok := n.stats[r.peer]; ok && s.sampled {
		rtt = s.rtt
	}
	return optimize.Sample{Value: r.value, RTT: rtt}
}

func (n *Node) checkInvariants(next optimize.Vector, precision float64) error {
	if len(next) != n.conf.Dim || !next.Finite() {
		return common.NewInvariantErr("value", fmt.Sprintf("epoch %d produced %v", n.opt.epoch+1, next))
	}
	if math.IsNaN(precision) || math.IsInf(precision, 0) || precision < 0 {
		return common.NewInvariantErr("precision", fmt.Sprintf("epoch %d produced %v", n.opt.epoch+1, precision))
	}
	if n.opt.epoch == math.MaxUint64 {
		return common.NewInvariantErr("epoch", "counter would wrap")
	}
	return nil
}

// halt aborts the run. The optimization state keeps its last valid values.
func (n *Node) halt(err error) {
	n.lastErr = err
	n.transition(Halted)
	n.controlTimer.Stop()

	telemetry.HaltsTotal.WithLabelValues(n.conf.Moniker).Inc()
	telemetry.Running.WithLabelValues(n.conf.Moniker).Set(0)

	n.logger.WithError(err).WithField("epoch", n.opt.epoch).Error("Optimization halted")
}

// observe folds an exchange result into the peer's statistics. Failed
// exchanges count as a full window of latency.
func (n *Node) observe(r peerResult) {
	if !n.registry.Contains(r.peer) {
		return
	}

	ok := r.err == nil

	outcome := telemetry.ResultOK
	switch {
	case common.IsPeer(r.err, common.Unreachable):
		outcome = telemetry.ResultUnreachable
	case common.IsPeer(r.err, common.ResponseInvalid):
		outcome = telemetry.ResultInvalidResponse
	}
	telemetry.ExchangesTotal.WithLabelValues(n.conf.Moniker, outcome).Inc()

	sample := n.conf.Window
	if ok {
		sample = r.rtt
		telemetry.ExchangeRTT.WithLabelValues(n.conf.Moniker).Observe(r.rtt.Seconds())
	}

	s := n.peerStats(r.peer)
	s.addSample(float64(sample)/float64(time.Millisecond), n.conf.Beta)
	s.online = ok
	if ok {
		s.lastEpoch = r.epoch
		s.value = r.value
	}
}

func (n *Node) peerStats(id peers.ID) *peerStats {
	s, ok := n.stats[id]
	if !ok {
		s = &peerStats{}
		n.stats[id] = s
	}
	return s
}

func (s *peerStats) addSample(ms, beta float64) {
	if !s.sampled {
		s.rtt = ms
		s.sampled = true
		return
	}
	s.rtt = beta*s.rtt + (1-beta)*ms
}

// processExchangeRequest answers a peer with the node's current value. The
// sender's value is recorded for display only.
func (n *Node) processExchangeRequest(req *wire.ExchangeRequest) *wire.ExchangeResponse {
	n.logger.WithFields(logrus.Fields{
		"from_id": req.FromID,
		"epoch":   req.Epoch,
	}).Debug("process ExchangeRequest")

	if n.registry.Contains(req.FromID) {
		if v := optimize.Vector(req.Value); optimize.Validate(v, n.conf.Dim) == nil {
			s := n.peerStats(req.FromID)
			s.online = true
			s.lastEpoch = req.Epoch
			s.value = v
		}
	}

	return &wire.ExchangeResponse{
		FromID: n.id,
		Epoch:  n.opt.epoch,
		Value:  n.opt.value.Clone(),
	}
}
