package trace

import (
	"encoding/binary"
	"os"
	"sync"

	"github.com/dgraph-io/badger"
	"github.com/mosaicnetworks/probe/src/wire"
	"github.com/sirupsen/logrus"
)

var recordPrefix = []byte("trace_")

// BadgerStore keeps the last size records in a badger database. Records are
// keyed by a sequence number; adding record s deletes record s-size.
type BadgerStore struct {
	l     sync.Mutex
	db    *badger.DB
	path  string
	size  int
	first uint64
	next  uint64
}

// NewBadgerStore creates a brand new store in path. Any existing content of
// path is removed first.
func NewBadgerStore(size int, path string, logger *logrus.Entry) (*BadgerStore, error) {
	if size < 1 {
		size = 1
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(path).
		WithSyncWrites(false).
		WithTruncate(true)
	if logger != nil {
		opts = opts.WithLogger(logger.WithField("component", "badger"))
	} else {
		opts = opts.WithLogger(nil)
	}

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &BadgerStore{
		db:   handle,
		path: path,
		size: size,
	}, nil
}

func recordKey(seq uint64) []byte {
	key := make([]byte, len(recordPrefix)+8)
	copy(key, recordPrefix)
	binary.BigEndian.PutUint64(key[len(recordPrefix):], seq)
	return key
}

// Add implements the Store interface.
func (s *BadgerStore) Add(r Record) error {
	val, err := wire.Marshal(&r)
	if err != nil {
		return err
	}

	s.l.Lock()
	defer s.l.Unlock()

	seq := s.next
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(recordKey(seq), val); err != nil {
			return err
		}
		if seq >= uint64(s.size) {
			return txn.Delete(recordKey(seq - uint64(s.size)))
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.next++
	if s.next-s.first > uint64(s.size) {
		s.first = s.next - uint64(s.size)
	}
	return nil
}

// Last implements the Store interface. The lock is held for the whole read
// so that Add cannot delete a record in the window being read.
func (s *BadgerStore) Last(n int) ([]Record, error) {
	s.l.Lock()
	defer s.l.Unlock()

	first, next := s.first, s.next
	if n <= 0 || next == first {
		return []Record{}, nil
	}
	if uint64(n) < next-first {
		first = next - uint64(n)
	}

	res := make([]Record, 0, next-first)
	err := s.db.View(func(txn *badger.Txn) error {
		for seq := first; seq < next; seq++ {
			item, err := txn.Get(recordKey(seq))
			if err != nil {
				return err
			}
			var r Record
			if err := item.Value(func(val []byte) error {
				return wire.Unmarshal(val, &r)
			}); err != nil {
				return err
			}
			res = append(res, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// Len implements the Store interface.
func (s *BadgerStore) Len() int {
	s.l.Lock()
	defer s.l.Unlock()
	return int(s.next - s.first)
}

// Reset implements the Store interface.
func (s *BadgerStore) Reset() error {
	s.l.Lock()
	defer s.l.Unlock()

	if err := s.db.DropAll(); err != nil {
		return err
	}
	s.first, s.next = 0, 0
	return nil
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// StorePath ...
func (s *BadgerStore) StorePath() string {
	return s.path
}
