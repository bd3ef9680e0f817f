package node

import (
	"time"
)

type timerFactory func(time.Duration) <-chan time.Time

// ControlTimer paces the epochs of a node. The node resets it at the end of
// every epoch and stops it when the run ends. Ticks are delivered on a
// channel of capacity one; a tick that nobody reads is dropped.
type ControlTimer struct {
	timerFactory timerFactory
	tickCh       chan struct{}      //sends a signal to listening process
	resetCh      chan time.Duration //receives instruction to reset the timer
	stopCh       chan struct{}      //receives instruction to stop the timer
	shutdownCh   chan struct{}      //receives instruction to exit Run loop
}

// NewControlTimer ...
func NewControlTimer(timerFactory timerFactory) *ControlTimer {
	return &ControlTimer{
		timerFactory: timerFactory,
		tickCh:       make(chan struct{}, 1),
		resetCh:      make(chan time.Duration),
		stopCh:       make(chan struct{}),
		shutdownCh:   make(chan struct{}),
	}
}

// NewSimpleControlTimer returns a ControlTimer backed by time.After.
func NewSimpleControlTimer() *ControlTimer {
	simpleTimeout := func(d time.Duration) <-chan time.Time {
		if d <= 0 {
			return nil
		}
		return time.After(d)
	}
	return NewControlTimer(simpleTimeout)
}

// Run is the timer loop. A zero init duration starts the timer stopped.
func (c *ControlTimer) Run(init time.Duration) {
	timer := c.timerFactory(init)
	for {
		select {
		case <-timer:
			timer = nil
			select {
			case c.tickCh <- struct{}{}:
			default:
			}
		case t := <-c.resetCh:
			c.drain()
			timer = c.timerFactory(t)
		case <-c.stopCh:
			c.drain()
			timer = nil
		case <-c.shutdownCh:
			return
		}
	}
}

// drain discards a tick that was emitted before a reset or a stop.
func (c *ControlTimer) drain() {
	select {
	case <-c.tickCh:
	default:
	}
}

// Reset arms the timer to tick once after d.
func (c *ControlTimer) Reset(d time.Duration) {
	select {
	case c.resetCh <- d:
	case <-c.shutdownCh:
	}
}

// Stop disarms the timer.
func (c *ControlTimer) Stop() {
	select {
	case c.stopCh <- struct{}{}:
	case <-c.shutdownCh:
	}
}

// Shutdown ...
func (c *ControlTimer) Shutdown() {
	close(c.shutdownCh)
}
