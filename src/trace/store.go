// Package trace records the outcome of every epoch a node completes.
//
// The trace is bounded: a store keeps at least the last Size records and
// discards older ones. Nothing survives a restart; the badger backed store
// wipes its directory when it is opened.
package trace

import (
	"time"

	"github.com/mosaicnetworks/probe/src/peers"
)

// Record is the outcome of one epoch.
type Record struct {
	Session   uint64        `codec:"session" json:"session"`
	Epoch     uint64        `codec:"epoch" json:"epoch"`
	Precision float64       `codec:"precision" json:"precision"`
	Value     []float64     `codec:"value" json:"value"`
	Peers     int           `codec:"peers" json:"peers"`
	Responses []peers.ID    `codec:"responses" json:"responses"`
	Failures  int           `codec:"failures" json:"failures"`
	Duration  time.Duration `codec:"duration" json:"duration"`
	Time      time.Time     `codec:"time" json:"time"`
}

// Store is an interface for trace backends.
type Store interface {
	// Add appends a record.
	Add(r Record) error
	// Last returns up to n of the most recent records, oldest first.
	Last(n int) ([]Record, error)
	// Len returns the number of records that Last can return.
	Len() int
	// Reset drops every record.
	Reset() error
	// Close releases the resources held by the store.
	Close() error
}
