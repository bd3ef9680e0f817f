// Package peers defines the identity of a probe node and implements the
// collections a node keeps about its peers.
//
// A peer is another probe node, known to this node by its ID. IDs are 32-bit
// values. Operators usually write them as small decimal numbers ("0", "1"),
// but the 8-digit hexadecimal form used in addresses and logs ("00000001") and
// a 0x-prefixed form ("0x01") are accepted as well. Two IDs are the same peer
// only if they are exactly equal.
//
// The Registry is the set of peers a node exchanges values with during an
// epoch. It keeps insertion order so that every round iterates peers in the
// same, predictable order. It is owned by a single goroutine and performs no
// locking.
//
// A Book translates an ID into a network address. The registry only holds
// IDs; the address of a peer is resolved when it is contacted, so that static
// files, address templates and discovery services can be combined freely.
package peers
