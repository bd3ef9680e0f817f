package node

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/mosaicnetworks/probe/src/net"
	"github.com/mosaicnetworks/probe/src/optimize"
	"github.com/mosaicnetworks/probe/src/peers"
	"github.com/mosaicnetworks/probe/src/telemetry"
	"github.com/mosaicnetworks/probe/src/trace"
	"github.com/mosaicnetworks/probe/src/wire"
	"github.com/sirupsen/logrus"
)

// ErrNodeShutdown is returned by calls made to a node that has been shut
// down.
var ErrNodeShutdown = errors.New("node is shut down")

const inboxSize = 64

// IDHandler is called from the main loop before a node changes its ID. An
// error rejects the change and leaves the node untouched.
type IDHandler func(from, to peers.ID) error

// optState is the optimization state of a node.
type optState struct {
	epoch     uint64
	precision float64
	value     optimize.Vector
	session   uint64
}

// Node is a probe node. A single goroutine, started by Run, owns the registry
// and the optimization state. Every other goroutine reaches them through the
// node's inbox.
type Node struct {
	state

	conf   *Config
	logger *logrus.Entry

	id       peers.ID
	registry *peers.Registry
	book     peers.Book
	opt      optState
	lastErr  error
	stats    map[peers.ID]*peerStats
	inFlight bool

	idHandler IDHandler

	rule   optimize.Rule
	metric optimize.Metric
	rand   *rand.Rand

	trans net.Transport
	trace trace.Store

	inboxCh chan net.RPC
	roundCh chan *roundResult

	ctx        context.Context
	cancel     context.CancelFunc
	shutdownCh chan struct{}

	controlTimer *ControlTimer
	shutdownOnce sync.Once

	start time.Time
}

// NewNode is a factory method that returns a Node instance.
func NewNode(conf *Config,
	id peers.ID,
	book peers.Book,
	trans net.Transport,
	store trace.Store,
) (*Node, error) {

	seed := conf.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	fit := conf.Fit
	fit.Seed = seed + int64(id)

	rule, err := optimize.NewRule(conf.Rule, conf.SelfWeight, fit)
	if err != nil {
		return nil, err
	}

	metric, err := optimize.NewMetric(conf.Precision, conf.Target, conf.Dim)
	if err != nil {
		return nil, err
	}

	if conf.Dim < 1 {
		return nil, errors.New("dimension must be at least 1")
	}
	if conf.Beta < 0 || conf.Beta >= 1 {
		return nil, errors.New("beta must be in [0, 1)")
	}
	if conf.EpochInterval <= 0 {
		return nil, errors.New("epoch interval must be positive")
	}
	if conf.Window <= 0 {
		return nil, errors.New("window must be positive")
	}

	ctx, cancel := context.WithCancel(context.Background())

	node := Node{
		conf:         conf,
		id:           id,
		registry:     peers.NewRegistry(),
		book:         book,
		stats:        make(map[peers.ID]*peerStats),
		rule:         rule,
		metric:       metric,
		rand:         rand.New(rand.NewSource(seed)),
		trans:        trans,
		trace:        store,
		inboxCh:      make(chan net.RPC, inboxSize),
		roundCh:      make(chan *roundResult, 1),
		ctx:          ctx,
		cancel:       cancel,
		shutdownCh:   make(chan struct{}),
		controlTimer: NewSimpleControlTimer(),
		start:        time.Now(),
	}
	node.setLogger()

	telemetry.PeerCount.WithLabelValues(conf.Moniker).Set(0)
	telemetry.Running.WithLabelValues(conf.Moniker).Set(0)

	return &node, nil
}

func (n *Node) setLogger() {
	n.logger = n.conf.Logger.WithFields(logrus.Fields{
		"this_id": n.id,
		"worker":  n.conf.Moniker,
	})
}

// SetIDHandler installs the function called before every ID change. It must
// be called before Run.
func (n *Node) SetIDHandler(h IDHandler) {
	n.idHandler = h
}

// RunAsync calls Run as a separate goroutine.
func (n *Node) RunAsync() {
	n.logger.Debug("runasync")

	go n.Run()
}

// Run invokes the main loop of the node. It returns once the node is shut
// down.
func (n *Node) Run() {
	// The ControlTimer starts disarmed; start_optimize arms it.
	go n.controlTimer.Run(0)

	for {
		select {
		case rpc := <-n.inboxCh:
			n.processRPC(rpc)
		case res := <-n.roundCh:
			n.applyRound(res)
		case <-n.controlTimer.tickCh:
			n.onTick()
		case <-n.shutdownCh:
			return
		}
	}
}

// call delivers cmd to the node's main loop and waits for the answer.
func (n *Node) call(ctx context.Context, cmd interface{}) (interface{}, error) {
	rpc, respCh := net.NewRPC(cmd)

	select {
	case n.inboxCh <- rpc:
	case <-n.shutdownCh:
		return nil, ErrNodeShutdown
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case resp := <-respCh:
		return resp.Response, resp.Error
	case <-n.shutdownCh:
		return nil, ErrNodeShutdown
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Submit applies a command and returns the status of the node after the
// command. A failed command leaves the node untouched.
func (n *Node) Submit(ctx context.Context, cmd wire.Command) (wire.Snapshot, error) {
	resp, err := n.call(ctx, cmd)
	if err != nil {
		return wire.Snapshot{}, err
	}
	return resp.(wire.Snapshot), nil
}

// Status returns a fresh status snapshot.
func (n *Node) Status(ctx context.Context) (wire.Snapshot, error) {
	return n.Submit(ctx, wire.QueryStatus{})
}

// ProcessExchange answers an exchange request sent by a peer. It implements
// net.Exchanger.
func (n *Node) ProcessExchange(ctx context.Context, req *wire.ExchangeRequest) (*wire.ExchangeResponse, error) {
	resp, err := n.call(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.(*wire.ExchangeResponse), nil
}

// Peers lists the registry together with the telemetry gathered on every
// peer.
func (n *Node) Peers(ctx context.Context) ([]wire.PeerInfo, error) {
	resp, err := n.call(ctx, peersQuery{})
	if err != nil {
		return nil, err
	}
	return resp.([]wire.PeerInfo), nil
}

// Estimate returns the distance between the node's value and the last value
// received from peer.
func (n *Node) Estimate(ctx context.Context, peer peers.ID) (wire.Estimate, error) {
	return n.estimateQuery(ctx, estimateQuery{self: true, to: peer})
}

// EstimateBetween returns the distance between the values the node holds for
// from and to. Either may be the node itself.
func (n *Node) EstimateBetween(ctx context.Context, from, to peers.ID) (wire.Estimate, error) {
	return n.estimateQuery(ctx, estimateQuery{from: from, to: to})
}

func (n *Node) estimateQuery(ctx context.Context, q estimateQuery) (wire.Estimate, error) {
	resp, err := n.call(ctx, q)
	if err != nil {
		return wire.Estimate{}, err
	}
	return resp.(wire.Estimate), nil
}

// Resolved lists the values the node holds, its own included, centered on
// the origin.
func (n *Node) Resolved(ctx context.Context) ([]wire.Coordinate, error) {
	resp, err := n.call(ctx, resolvedQuery{})
	if err != nil {
		return nil, err
	}
	return resp.([]wire.Coordinate), nil
}

// Trace returns up to limit of the most recent epoch records.
func (n *Node) Trace(limit int) ([]trace.Record, error) {
	return n.trace.Last(limit)
}

// State returns the current state of the node.
func (n *Node) State() State {
	return n.getState()
}

// Moniker ...
func (n *Node) Moniker() string {
	return n.conf.Moniker
}

// Uptime ...
func (n *Node) Uptime() time.Duration {
	return time.Since(n.start)
}

// Shutdown shuts down the node
func (n *Node) Shutdown() {
	n.shutdownOnce.Do(func() {
		n.logger.Debug("Shutdown")

		//Exit any non-shutdown state immediately
		n.setState(Shutdown)

		//Abort in-flight exchanges, stop the main loop, and wait for
		//concurrent operations
		n.cancel()
		close(n.shutdownCh)

		n.waitRoutines()

		n.controlTimer.Shutdown()

		//transport and store should only be closed once all concurrent
		//operations are finished
		n.trans.Close()

		n.trace.Close()

		telemetry.Forget(n.conf.Moniker)
	})
}
