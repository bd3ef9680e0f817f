package peers

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ugorji/go/codec"
)

const jsonBookPath = "peers.json"

// Entry is one line of a peers.json file.
type Entry struct {
	ID   string `codec:"id" json:"id"`
	Addr string `codec:"addr" json:"addr"`
}

// JSONBook reads peer addresses from a peers.json file in a base directory.
// The file is a list of {"id": ..., "addr": ...} objects.
type JSONBook struct {
	l    sync.Mutex
	path string
}

// NewJSONBook creates a new JSONBook with reference to a base directory where
// the JSON file resides.
func NewJSONBook(base string) *JSONBook {
	return &JSONBook{
		path: filepath.Join(base, jsonBookPath),
	}
}

// Path ...
func (j *JSONBook) Path() string {
	return j.path
}

// Load parses the underlying JSON file into a StaticBook. A missing file is
// reported as an error satisfying os.IsNotExist.
func (j *JSONBook) Load() (*StaticBook, error) {
	j.l.Lock()
	defer j.l.Unlock()

	buf, err := os.ReadFile(j.path)
	if err != nil {
		return nil, err
	}

	// Check for no peers
	if len(buf) == 0 {
		return NewStaticBook(nil), nil
	}

	var entries []Entry
	dec := codec.NewDecoderBytes(buf, new(codec.JsonHandle))
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("%s: %w", j.path, err)
	}

	addrs := make(map[ID]string, len(entries))
	for _, e := range entries {
		id, err := ParseID(e.ID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", j.path, err)
		}
		if e.Addr == "" {
			return nil, fmt.Errorf("%s: peer %s has no addr", j.path, id)
		}
		addrs[id] = e.Addr
	}

	return NewStaticBook(addrs), nil
}

// Write persists a list of entries to the JSON file.
func (j *JSONBook) Write(entries []Entry) error {
	j.l.Lock()
	defer j.l.Unlock()

	var buf []byte
	jh := new(codec.JsonHandle)
	jh.Indent = 2
	if err := codec.NewEncoderBytes(&buf, jh).Encode(entries); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(j.path), 0755); err != nil {
		return err
	}

	return os.WriteFile(j.path, buf, 0644)
}
