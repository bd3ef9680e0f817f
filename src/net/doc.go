// Package net carries epoch exchanges between probe nodes.
//
// A Transport sends an ExchangeRequest to the node listening at a target
// address and waits for its ExchangeResponse. Two implementations exist:
//
// - HTTP: posts MessagePack encoded requests to <target>/exchange. This is the
// transport used by deployed nodes, paired with the service package on the
// receiving end.
//
// - Inmem: routes requests to in-process Exchangers. It is used in tests and
// supports dropping or delaying routes to simulate unreachable and slow peers.
//
// Every call is bounded by the context it is given; the engine uses this to
// enforce the per-epoch waiting window.
package net
