package node

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mosaicnetworks/probe/src/net"
	"github.com/mosaicnetworks/probe/src/peers"
	"github.com/mosaicnetworks/probe/src/trace"
	"github.com/mosaicnetworks/probe/src/wire"
	"github.com/stretchr/testify/require"
)

const addrTemplate = "inmem-{id}"

// testNode is a node whose epochs are fired by hand.
type testNode struct {
	*Node
	fire chan time.Time
}

func newTestNode(t *testing.T, id peers.ID, conf *Config, trans *net.InmemTransport) *testNode {
	book := peers.NewTemplateBook(addrTemplate, 0)

	node, err := NewNode(conf, id, book, trans, trace.NewInmemStore(64))
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	// Replace the timer so that an armed timer only fires when the test says
	// so.
	fire := make(chan time.Time)
	node.controlTimer = NewControlTimer(func(d time.Duration) <-chan time.Time {
		if d <= 0 {
			return nil
		}
		return fire
	})

	addr, _ := book.Addr(id)
	trans.Connect(addr, node)

	node.RunAsync()
	t.Cleanup(node.Shutdown)

	return &testNode{Node: node, fire: fire}
}

func (n *testNode) submit(t *testing.T, cmd wire.Command) wire.Snapshot {
	t.Helper()
	snap, err := n.Submit(context.Background(), cmd)
	if err != nil {
		t.Fatalf("%s: %v", cmd.Tag(), err)
	}
	return snap
}

func (n *testNode) status(t *testing.T) wire.Snapshot {
	t.Helper()
	return n.submit(t, wire.QueryStatus{})
}

// fireTimer fires the armed epoch timer.
func (n *testNode) fireTimer(t *testing.T) {
	t.Helper()
	select {
	case n.fire <- time.Now():
	case <-time.After(2 * time.Second):
		t.Fatalf("epoch timer of node %d is not armed", n.id)
	}
}

// waitEpoch blocks until the node reports epoch.
func (n *testNode) waitEpoch(t *testing.T, epoch uint64) wire.Snapshot {
	t.Helper()
	var snap wire.Snapshot
	require.Eventually(t, func() bool {
		s, err := n.Status(context.Background())
		if err != nil {
			return false
		}
		snap = s
		return snap.Epoch == epoch && !n.inFlightRound()
	}, 5*time.Second, 5*time.Millisecond, "node %d did not reach epoch %d", n.id, epoch)
	return snap
}

// runEpoch fires one epoch and waits for it to complete.
func (n *testNode) runEpoch(t *testing.T) wire.Snapshot {
	t.Helper()
	before := n.status(t).Epoch
	n.fireTimer(t)
	return n.waitEpoch(t, before+1)
}

// inFlightRound reports whether round goroutines are still running.
func (n *testNode) inFlightRound() bool {
	return n.routines() > 0
}

func TestStartThenStopKeepsEpochZero(t *testing.T) {
	trans := net.NewInmemTransport()
	node := newTestNode(t, 0, TestConfig(t), trans)

	snap := node.submit(t, wire.StartOptimize{})
	if !snap.Running || snap.State != Running.String() {
		t.Fatalf("node should be running, got %+v", snap)
	}

	snap = node.submit(t, wire.StopOptimize{})
	if snap.Running || snap.Epoch != 0 {
		t.Fatalf("stop before any epoch should leave epoch 0, got %+v", snap)
	}
	if snap.State != Idle.String() {
		t.Fatalf("state should be Idle, not %s", snap.State)
	}
}

func TestZeroPeersEpochAdvances(t *testing.T) {
	trans := net.NewInmemTransport()
	conf := TestConfig(t)
	node := newTestNode(t, 0, conf, trans)

	node.submit(t, wire.StartOptimize{Initial: []float64{1.5}})

	for e := uint64(1); e <= 3; e++ {
		snap := node.runEpoch(t)
		if snap.Epoch != e {
			t.Fatalf("epoch should be %d, not %d", e, snap.Epoch)
		}
		if snap.Value[0] != 1.5 || snap.Precision != 0 {
			t.Fatalf("local-only epoch should keep the value, got %+v", snap)
		}
	}

	records, err := node.Trace(10)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(records) != 3 || records[2].Epoch != 3 {
		t.Fatalf("trace should hold epochs 1..3, got %d records", len(records))
	}
}

func TestSelfIsNotAPeer(t *testing.T) {
	trans := net.NewInmemTransport()
	node := newTestNode(t, 5, TestConfig(t), trans)

	node.submit(t, wire.AddPeer{ID: 5})
	node.submit(t, wire.StartOptimize{Initial: []float64{2}})

	node.runEpoch(t)

	records, _ := node.Trace(1)
	if records[0].Peers != 0 {
		t.Fatalf("a node should not exchange with itself, contacted %d peers", records[0].Peers)
	}
}

func TestDuplicateAddPeer(t *testing.T) {
	trans := net.NewInmemTransport()
	node := newTestNode(t, 0, TestConfig(t), trans)

	for _, id := range []peers.ID{1, 2, 1, 3, 2, 1} {
		node.submit(t, wire.AddPeer{ID: id})
	}

	if snap := node.status(t); snap.PeerCount != 3 {
		t.Fatalf("peer count should be 3, not %d", snap.PeerCount)
	}

	node.submit(t, wire.RemovePeer{ID: 2})
	node.submit(t, wire.RemovePeer{ID: 42})

	if snap := node.status(t); snap.PeerCount != 2 {
		t.Fatalf("peer count should be 2, not %d", snap.PeerCount)
	}
}

func TestMaxPeers(t *testing.T) {
	trans := net.NewInmemTransport()
	conf := TestConfig(t)
	conf.MaxPeers = 2
	node := newTestNode(t, 0, conf, trans)

	node.submit(t, wire.AddPeer{ID: 1})
	node.submit(t, wire.AddPeer{ID: 2})
	// Re-adding a known peer is still a no-op.
	node.submit(t, wire.AddPeer{ID: 2})

	if _, err := node.Submit(context.Background(), wire.AddPeer{ID: 3}); err == nil {
		t.Fatalf("adding a peer beyond max-peers should fail")
	}
	if snap := node.status(t); snap.PeerCount != 2 {
		t.Fatalf("failed add_peer should not change the registry, count %d", snap.PeerCount)
	}
}

func TestSetID(t *testing.T) {
	trans := net.NewInmemTransport()
	node := newTestNode(t, 0, TestConfig(t), trans)

	node.submit(t, wire.StartOptimize{})
	snap := node.submit(t, wire.SetID{ID: 7})

	if snap.ID != 7 || !snap.Running {
		t.Fatalf("set_id should apply while running, got %+v", snap)
	}
}

func TestSetIDHandler(t *testing.T) {
	trans := net.NewInmemTransport()
	book := peers.NewTemplateBook(addrTemplate, 0)

	node, err := NewNode(TestConfig(t), 10, book, trans, trace.NewInmemStore(1))
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	var moves [][2]peers.ID
	node.SetIDHandler(func(from, to peers.ID) error {
		if to == 11 {
			return fmt.Errorf("id %s is taken", to)
		}
		moves = append(moves, [2]peers.ID{from, to})
		return nil
	})

	node.RunAsync()
	defer node.Shutdown()

	ctx := context.Background()

	if _, err := node.Submit(ctx, wire.SetID{ID: 11}); err == nil {
		t.Fatalf("set_id to a taken id should fail")
	}
	snap, _ := node.Status(ctx)
	if snap.ID != 10 {
		t.Fatalf("rejected set_id changed the id to %d", snap.ID)
	}

	if _, err := node.Submit(ctx, wire.SetID{ID: 5}); err != nil {
		t.Fatalf("err: %v", err)
	}
	// Setting the current ID again does not call the handler.
	if _, err := node.Submit(ctx, wire.SetID{ID: 5}); err != nil {
		t.Fatalf("err: %v", err)
	}

	snap, _ = node.Status(ctx)
	if snap.ID != 5 {
		t.Fatalf("id should be 5, not %d", snap.ID)
	}
	if len(moves) != 1 || moves[0] != [2]peers.ID{10, 5} {
		t.Fatalf("handler calls: %v", moves)
	}
}

func TestNewNodeRejectsBadConfig(t *testing.T) {
	trans := net.NewInmemTransport()
	book := peers.NewTemplateBook(addrTemplate, 0)

	for name, mutate := range map[string]func(*Config){
		"rule":            func(c *Config) { c.Rule = "mode" },
		"weight":          func(c *Config) { c.SelfWeight = 2 },
		"metric":          func(c *Config) { c.Precision = "entropy" },
		"dim":             func(c *Config) { c.Dim = 0 },
		"beta":            func(c *Config) { c.Beta = 1 },
		"interval":        func(c *Config) { c.EpochInterval = 0 },
		"negative window": func(c *Config) { c.Window = -time.Second },
		"window":          func(c *Config) { c.Window = 0 },
	} {
		conf := TestConfig(t)
		mutate(conf)
		if _, err := NewNode(conf, 0, book, trans, trace.NewInmemStore(1)); err == nil {
			t.Fatalf("%s: NewNode should fail", name)
		}
	}
}

func TestShutdown(t *testing.T) {
	trans := net.NewInmemTransport()
	node := newTestNode(t, 0, TestConfig(t), trans)

	node.Shutdown()
	node.Shutdown()

	if node.State() != Shutdown {
		t.Fatalf("state should be Shutdown, not %s", node.State())
	}
	if _, err := node.Status(context.Background()); err != ErrNodeShutdown {
		t.Fatalf("calls after shutdown should fail with ErrNodeShutdown, got %v", err)
	}
}

func TestControlTimer(t *testing.T) {
	timer := NewSimpleControlTimer()
	go timer.Run(0)
	defer timer.Shutdown()

	timer.Reset(10 * time.Millisecond)
	select {
	case <-timer.tickCh:
	case <-time.After(time.Second):
		t.Fatalf("timer should tick after a reset")
	}

	timer.Reset(time.Hour)
	timer.Stop()
	select {
	case <-timer.tickCh:
		t.Fatalf("stopped timer should not tick")
	case <-time.After(30 * time.Millisecond):
	}
}

func ExampleNode_Submit() {
	conf := DefaultConfig()
	conf.Init = InitZero
	conf.Dim = 2

	node, err := NewNode(conf, 1, peers.NewTemplateBook("", peers.DefaultPortBase), net.NewInmemTransport(), trace.NewInmemStore(16))
	if err != nil {
		fmt.Println(err)
		return
	}
	node.RunAsync()
	defer node.Shutdown()

	node.Submit(context.Background(), wire.AddPeer{ID: 2})
	snap, _ := node.Submit(context.Background(), wire.StartOptimize{Initial: []float64{0.5}})

	fmt.Println(snap.State, snap.Epoch, snap.PeerCount, snap.Value)
	// Output: Running 0 1 [0.5 0.5]
}
