// Package keys manages the identity key of a probe node.
//
// A node owns a secp256k1 key-pair. When no ID is configured, the node ID is
// derived from the public key, so that a node keeps the same ID across
// restarts as long as its data directory keeps the key file.
package keys
