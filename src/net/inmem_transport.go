package net

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/mosaicnetworks/probe/src/wire"
)

// NewInmemAddr returns a new in-memory addr with a randomly generated UUID as
// the ID.
func NewInmemAddr() string {
	return generateUUID()
}

// generateUUID is used to generate a random UUID.
func generateUUID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Errorf("failed to read random bytes: %v", err))
	}

	return fmt.Sprintf("%08x-%04x-%04x-%04x-%12x",
		buf[0:4],
		buf[4:6],
		buf[6:8],
		buf[8:10],
		buf[10:16])
}

// InmemTransport implements the Transport interface, to allow probe nodes to
// be tested in-memory without going over a network.
type InmemTransport struct {
	sync.RWMutex
	peers  map[string]Exchanger
	delays map[string]time.Duration
	closed bool
}

// NewInmemTransport ...
func NewInmemTransport() *InmemTransport {
	return &InmemTransport{
		peers:  make(map[string]Exchanger),
		delays: make(map[string]time.Duration),
	}
}

// Exchange implements the Transport interface.
func (i *InmemTransport) Exchange(ctx context.Context, target string, args *wire.ExchangeRequest, resp *wire.ExchangeResponse) error {
	i.RLock()
	closed := i.closed
	peer, ok := i.peers[target]
	delay := i.delays[target]
	i.RUnlock()

	if closed {
		return ErrTransportShutdown
	}
	if !ok {
		return fmt.Errorf("failed to connect to peer: %v", target)
	}

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// Copy the request so the receiver cannot alias the sender's value.
	req := *args
	req.Value = append([]float64(nil), args.Value...)

	out, err := peer.ProcessExchange(ctx, &req)
	if err != nil {
		return err
	}

	*resp = *out
	resp.Value = append([]float64(nil), out.Value...)
	return nil
}

// Connect routes target to the given Exchanger.
func (i *InmemTransport) Connect(target string, e Exchanger) {
	i.Lock()
	defer i.Unlock()
	i.peers[target] = e
}

// Disconnect is used to remove the ability to route to a given peer.
func (i *InmemTransport) Disconnect(target string) {
	i.Lock()
	defer i.Unlock()
	delete(i.peers, target)
}

// DisconnectAll is used to remove all routes to peers.
func (i *InmemTransport) DisconnectAll() {
	i.Lock()
	defer i.Unlock()
	i.peers = make(map[string]Exchanger)
}

// SetDelay makes every exchange with target wait d before being delivered.
// A zero duration removes the delay.
func (i *InmemTransport) SetDelay(target string, d time.Duration) {
	i.Lock()
	defer i.Unlock()
	if d <= 0 {
		delete(i.delays, target)
		return
	}
	i.delays[target] = d
}

// Close is used to permanently disable the transport
func (i *InmemTransport) Close() error {
	i.DisconnectAll()
	i.Lock()
	i.closed = true
	i.Unlock()
	return nil
}
