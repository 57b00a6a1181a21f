// Package store persists session mappings so that a redacted document can be
// restored later by session ID.
//
// Two implementations are provided:
//   - memoryStore: in-memory only, used in tests and when no path is configured.
//   - boltStore: embedded key-value store (bbolt), used by the CLI.
package store

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"text-anonymizer/internal/logger"
	"text-anonymizer/internal/mapper"
)

// ErrSessionNotFound is returned by Load and Delete for an unknown session.
var ErrSessionNotFound = errors.New("session not found")

// MappingStore keeps the placeholder pairs of each session.
// All implementations must be safe for concurrent use.
type MappingStore interface {
	// Save stores pairs under sessionID, replacing any previous entry.
	Save(sessionID string, pairs []mapper.Pair) error

	// Load returns the pairs saved under sessionID.
	Load(sessionID string) ([]mapper.Pair, error)

	// Delete removes a session.
	Delete(sessionID string) error

	// Close releases any resources held by the store.
	Close() error
}

// Open returns a bbolt store at path, or a memory store when path is empty.
func Open(path string, log *logger.Logger) (MappingStore, error) {
	if path == "" {
		log.Debug("store_open", "no store path configured, sessions kept in memory")
		return NewMemory(), nil
	}
	return NewBolt(path, log)
}

type record struct {
	SavedAt time.Time     `json:"savedAt"`
	Pairs   []mapper.Pair `json:"pairs"`
}

// --- memoryStore ---------------------------------------------------------

type memoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]mapper.Pair
}

// NewMemory returns an empty in-memory store.
func NewMemory() MappingStore {
	return &memoryStore{sessions: make(map[string][]mapper.Pair)}
}

func (s *memoryStore) Save(sessionID string, pairs []mapper.Pair) error {
	s.mu.Lock()
	s.sessions[sessionID] = append([]mapper.Pair(nil), pairs...)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Load(sessionID string) ([]mapper.Pair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pairs, ok := s.sessions[sessionID]
	if !ok {
		return nil, errors.Wrapf(ErrSessionNotFound, "session %q", sessionID)
	}
	return append([]mapper.Pair(nil), pairs...), nil
}

func (s *memoryStore) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return errors.Wrapf(ErrSessionNotFound, "session %q", sessionID)
	}
	delete(s.sessions, sessionID)
	return nil
}

func (s *memoryStore) Close() error { return nil }

// --- boltStore -----------------------------------------------------------

const sessionsBucket = "sessions"

// boltStore keeps one JSON record per session in a bbolt database. Sessions
// survive process restarts.
type boltStore struct {
	db  *bolt.DB
	log *logger.Logger
}

// NewBolt opens (or creates) the bbolt database at path and ensures the
// sessions bucket exists.
func NewBolt(path string, log *logger.Logger) (MappingStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open session store %q", path)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(sessionsBucket))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, errors.Wrap(err, "create sessions bucket")
	}

	log.Debugf("store_open", "session store opened at %s", path)
	return &boltStore{db: db, log: log}, nil
}

func (s *boltStore) Save(sessionID string, pairs []mapper.Pair) error {
	val, err := json.Marshal(record{SavedAt: time.Now().UTC(), Pairs: pairs})
	if err != nil {
		return errors.Wrap(err, "encode session")
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(sessionsBucket)).Put([]byte(sessionID), val)
	})
	if err != nil {
		return errors.Wrapf(err, "save session %q", sessionID)
	}
	s.log.Debugf("store_save", "session %s: %d pairs", sessionID, len(pairs))
	return nil
}

func (s *boltStore) Load(sessionID string) ([]mapper.Pair, error) {
	var rec record
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(sessionsBucket)).Get([]byte(sessionID))
		if v == nil {
			return errors.Wrapf(ErrSessionNotFound, "session %q", sessionID)
		}
		// v is only valid inside the transaction; Unmarshal copies it.
		return errors.Wrap(json.Unmarshal(v, &rec), "decode session")
	})
	if err != nil {
		return nil, err
	}
	return rec.Pairs, nil
}

func (s *boltStore) Delete(sessionID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(sessionsBucket))
		if b.Get([]byte(sessionID)) == nil {
			return errors.Wrapf(ErrSessionNotFound, "session %q", sessionID)
		}
		return b.Delete([]byte(sessionID))
	})
}

func (s *boltStore) Close() error {
	return s.db.Close()
}
