package keys

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/mosaicnetworks/probe/src/common"
	"github.com/mosaicnetworks/probe/src/peers"
)

// PrivateKeySize is the length of a raw secp256k1 private key.
const PrivateKeySize = 32

// GenerateKey creates a new secp256k1 private key.
func GenerateKey() (*btcec.PrivateKey, error) {
	return btcec.NewPrivateKey()
}

// DumpPrivateKey exports a private key into a binary dump.
func DumpPrivateKey(priv *btcec.PrivateKey) []byte {
	if priv == nil {
		return nil
	}
	return priv.Serialize()
}

// ParsePrivateKey creates a private key from its binary dump.
func ParsePrivateKey(d []byte) (*btcec.PrivateKey, error) {
	if len(d) != PrivateKeySize {
		return nil, fmt.Errorf("invalid length %d, need %d bytes", len(d), PrivateKeySize)
	}

	priv, _ := btcec.PrivKeyFromBytes(d)
	if priv.Key.IsZero() {
		return nil, fmt.Errorf("invalid private key, zero or >=N")
	}

	return priv, nil
}

// PublicKeyBytes returns the uncompressed form of the public key.
func PublicKeyBytes(pub *btcec.PublicKey) []byte {
	if pub == nil {
		return nil
	}
	return pub.SerializeUncompressed()
}

// PublicKeyHex returns the hexadecimal representation of the uncompressed
// form of the public key, 0x-prefixed.
func PublicKeyHex(pub *btcec.PublicKey) string {
	return "0x" + hex.EncodeToString(PublicKeyBytes(pub))
}

// PublicKeyID derives a node ID from a public key. Distinct keys may collide;
// operators running many nodes should configure IDs explicitly.
func PublicKeyID(pub *btcec.PublicKey) peers.ID {
	return peers.ID(common.Hash32(PublicKeyBytes(pub)))
}
