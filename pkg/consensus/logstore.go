package consensus

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	bolt "go.etcd.io/bbolt"
)

// Entry is one replicated log record. Indexes start at 1 and grow
// monotonically; committed entries are never overwritten.
type Entry struct {
	Index   uint64                 `json:"index"`
	Term    uint64                 `json:"term"`
	Payload map[string]interface{} `json:"payload"`
}

// LogStore persists committed consensus entries
type LogStore interface {
	// Append writes the entry at its index. Appending at or below the
	// last index is an error.
	Append(e Entry) error

	// LastIndex returns the highest stored index, zero when empty
	LastIndex() (uint64, error)

	// Entries returns all stored entries in index order
	Entries() ([]Entry, error)

	Close() error
}

var logBucket = []byte("consensus-log")

// BoltLogStore keeps the log in a bbolt file under the data directory
type BoltLogStore struct {
	db *bolt.DB
}

// NewBoltLogStore opens (or creates) consensus.db in dataDir
func NewBoltLogStore(dataDir string) (*BoltLogStore, error) {
	db, err := bolt.Open(filepath.Join(dataDir, "consensus.db"), 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open consensus log: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(logBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create log bucket: %w", err)
	}
	return &BoltLogStore{db: db}, nil
}

func indexKey(index uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, index)
	return key
}

func (s *BoltLogStore) Append(e Entry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(logBucket)
		if cur, _ := b.Cursor().Last(); cur != nil {
			if last := binary.BigEndian.Uint64(cur); e.Index <= last {
				return fmt.Errorf("log index %d not past last index %d", e.Index, last)
			}
		}
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal entry: %w", err)
		}
		return b.Put(indexKey(e.Index), data)
	})
}

func (s *BoltLogStore) LastIndex() (uint64, error) {
	var last uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		if cur, _ := tx.Bucket(logBucket).Cursor().Last(); cur != nil {
			last = binary.BigEndian.Uint64(cur)
		}
		return nil
	})
	return last, err
}

func (s *BoltLogStore) Entries() ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(logBucket).ForEach(func(_, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("failed to unmarshal entry: %w", err)
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *BoltLogStore) Close() error {
	return s.db.Close()
}

// MemoryLogStore keeps the log in memory, for tests and ephemeral swarms
type MemoryLogStore struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryLogStore creates an empty in-memory log
func NewMemoryLogStore() *MemoryLogStore {
	return &MemoryLogStore{}
}

func (s *MemoryLogStore) Append(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.entries); n > 0 && e.Index <= s.entries[n-1].Index {
		return fmt.Errorf("log index %d not past last index %d", e.Index, s.entries[n-1].Index)
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *MemoryLogStore) LastIndex() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return 0, nil
	}
	return s.entries[len(s.entries)-1].Index, nil
}

func (s *MemoryLogStore) Entries() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...), nil
}

func (s *MemoryLogStore) Close() error {
	return nil
}
