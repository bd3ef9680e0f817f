// Package wire defines the payloads exchanged by probe nodes and the codecs
// that read and write them.
//
// Two encodings are used. Control traffic (command envelopes pushed by
// operators and status snapshots) is JSON. Peer-to-peer exchange traffic is
// MessagePack, which is more compact and keeps float64 values exact.
//
// A command envelope may arrive in two shapes:
//
//	3                                   bare scalar, implies set_id
//	{"command":"add_peer","data":"3"}   structured envelope
//
// Both are turned into a Command by DecodeEnvelope.
package wire
