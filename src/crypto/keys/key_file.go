package keys

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
)

// DefaultKeyfile is the name of the key file in the data directory.
const DefaultKeyfile = "priv_key"

// SimpleKeyfile stores a private key as a raw hex dump in an unencrypted file.
type SimpleKeyfile struct {
	l       sync.Mutex
	keyfile string
}

// NewSimpleKeyfile instantiates a new SimpleKeyfile with an underlying file
func NewSimpleKeyfile(keyfile string) *SimpleKeyfile {
	return &SimpleKeyfile{
		keyfile: keyfile,
	}
}

// CheckFileInfo verifies that the file exists and has user permissions only.
func (k *SimpleKeyfile) CheckFileInfo() error {
	info, err := os.Stat(k.keyfile)
	if err != nil {
		return err
	}

	perm := info.Mode().Perm()

	// permissions for 'groups' and 'others'
	if perm&0o077 != 0 {
		return fmt.Errorf("%s permissions should exclude 'groups' and 'others'. Got %o", k.keyfile, perm)
	}

	return nil
}

// ReadKey reads the underlying file, which is expected to contain a raw hex
// dump of the key as produced by WriteKey.
func (k *SimpleKeyfile) ReadKey() (*btcec.PrivateKey, error) {
	k.l.Lock()
	defer k.l.Unlock()

	return k.readKey()
}

func (k *SimpleKeyfile) readKey() (*btcec.PrivateKey, error) {
	if err := k.CheckFileInfo(); err != nil {
		return nil, err
	}

	buf, err := os.ReadFile(k.keyfile)
	if err != nil {
		return nil, err
	}

	key, err := hex.DecodeString(strings.TrimSpace(string(buf)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", k.keyfile, err)
	}

	return ParsePrivateKey(key)
}

// WriteKey writes a raw hex dump of the key to the underlying file.
func (k *SimpleKeyfile) WriteKey(key *btcec.PrivateKey) error {
	k.l.Lock()
	defer k.l.Unlock()

	return k.writeKey(key)
}

func (k *SimpleKeyfile) writeKey(key *btcec.PrivateKey) error {
	rawKey := hex.EncodeToString(DumpPrivateKey(key))

	if err := os.MkdirAll(filepath.Dir(k.keyfile), 0700); err != nil {
		return err
	}

	return os.WriteFile(k.keyfile, []byte(rawKey), 0600)
}

// ReadOrCreate reads the key, generating and writing a new one if the file
// does not exist. The second return value is true when a key was created.
func (k *SimpleKeyfile) ReadOrCreate() (*btcec.PrivateKey, bool, error) {
	k.l.Lock()
	defer k.l.Unlock()

	key, err := k.readKey()
	if err == nil {
		return key, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}

	key, err = GenerateKey()
	if err != nil {
		return nil, false, err
	}
	if err := k.writeKey(key); err != nil {
		return nil, false, err
	}

	return key, true, nil
}
