package node

import (
	"sync"
	"sync/atomic"
)

// State captures the state of a probe node: Idle, Running, Stopping, Halted,
// or Shutdown.
type State uint32

const (
	// Idle is the initial state. No optimization run is active.
	Idle State = iota

	// Running is the state in which the node completes an epoch every
	// epoch-interval.
	Running

	// Stopping is the state in which a stop was requested while an epoch was
	// in flight. The epoch completes, then the node becomes Idle.
	Stopping

	// Halted is the state in which the last run was aborted by a broken
	// invariant. The node keeps its last valid snapshot.
	Halted

	// Shutdown is the state in which a node stops responding to external
	// events and closes its transport.
	Shutdown
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	case Halted:
		return "Halted"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// Active reports whether an optimization run is in progress.
func (s State) Active() bool {
	return s == Running || s == Stopping
}

// state wraps a State with get and set methods. It also tracks the goroutines
// launched by the node so that Shutdown can wait for all of them to complete.
type state struct {
	state   State
	wg      sync.WaitGroup
	wgCount int32
}

func (b *state) getState() State {
	stateAddr := (*uint32)(&b.state)
	return State(atomic.LoadUint32(stateAddr))
}

func (b *state) setState(s State) {
	stateAddr := (*uint32)(&b.state)
	atomic.StoreUint32(stateAddr, uint32(s))
}

// transition sets the state unless the node has been shut down.
func (b *state) transition(s State) bool {
	stateAddr := (*uint32)(&b.state)
	for {
		cur := atomic.LoadUint32(stateAddr)
		if State(cur) == Shutdown {
			return false
		}
		if atomic.CompareAndSwapUint32(stateAddr, cur, uint32(s)) {
			return true
		}
	}
}

// Start a goroutine and add it to waitgroup
func (b *state) goFunc(f func()) {
	b.wg.Add(1)
	atomic.AddInt32(&b.wgCount, 1)
	go func() {
		defer b.wg.Done()
		defer atomic.AddInt32(&b.wgCount, -1)
		f()
	}()
}

func (b *state) routines() int32 {
	return atomic.LoadInt32(&b.wgCount)
}

func (b *state) waitRoutines() {
	b.wg.Wait()
}
