package net

import (
	"context"
	"errors"

	"github.com/mosaicnetworks/probe/src/wire"
)

var (
	// ErrTransportShutdown is returned when operations on a transport are
	// invoked after it's been terminated.
	ErrTransportShutdown = errors.New("transport shutdown")
)

// Transport provides an interface for network transports to allow a node to
// communicate with other nodes.
type Transport interface {
	// Exchange sends a request to the node at target and fills resp with its
	// answer. It returns when the answer arrives, the call fails, or ctx is
	// done.
	Exchange(ctx context.Context, target string, args *wire.ExchangeRequest, resp *wire.ExchangeResponse) error

	// Close permanently closes a transport, stopping any associated
	// goroutines and freeing other resources.
	Close() error
}

// Exchanger is the receiving end of an exchange, implemented by the node.
type Exchanger interface {
	ProcessExchange(ctx context.Context, req *wire.ExchangeRequest) (*wire.ExchangeResponse, error)
}
