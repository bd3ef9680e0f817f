// Package node implements the reactive component of a probe node.
//
// A node owns a peer registry and an optimization state made of a value
// vector, an epoch counter and a precision. Both are only ever touched by the
// node's main loop; commands, exchange requests from peers and status queries
// reach the loop through a single inbox and are processed one at a time.
//
// Epochs
//
// While a node is running, its ControlTimer ticks every EpochInterval. On each
// tick the node snapshots the registry and its value, and sends an
// ExchangeRequest to every peer in a background goroutine, at most MaxInFlight
// at a time. Exchanges that do not complete within Window are counted as
// failures. When the fan-out returns, the main loop aggregates the valid
// responses with the configured Rule, measures the precision of the new value
// with the configured Metric, and commits the value, the precision and the
// incremented epoch together. A peer that fails in an epoch simply does not
// contribute to it.
//
// Every exchange is timed, and the smoothed round-trip time to each peer is
// handed to the Rule together with the peer's value. The mean and median
// rules ignore it. The coordinate rule uses it: the value becomes a point in
// a latency space, moved so that its distance to each peer matches the round
// trip to that peer, and the rtt metric reports the remaining mean error in
// milliseconds. Estimate and EstimateBetween then predict the round trip
// between any two IDs the node holds a value for.
//
// The main loop keeps serving commands while an epoch is in flight. A
// stop_optimize received then moves the node to Stopping; the in-flight epoch
// is completed and counted, and no further epoch begins.
//
// States
//
//	Idle     - no run in progress
//	Running  - epochs are scheduled
//	Stopping - the run ends when the in-flight epoch completes
//	Halted   - the run was aborted because an epoch produced invalid state
//	Shutdown - the node is closed
//
// A Halted node keeps the last valid value and reports the error in its
// status. start_optimize begins a new run from any state but Shutdown.
package node
