package userinfo

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"

	"github.com/skycoin/skyarena/pkg/wire"
)

var boltDBBucket = []byte("userinfo")

// Store persists user info records.
type Store interface {
	Load() ([]*Record, error)
	Save(r *Record) error
	Delete(ep wire.Endpoint) error
	Close() error
}

type inMemoryStore struct {
	records map[wire.Endpoint]Record
	mu      sync.Mutex
}

// InMemoryStore implements Store in memory.
func InMemoryStore() Store {
	return &inMemoryStore{records: make(map[wire.Endpoint]Record)}
}

func (s *inMemoryStore) Load() ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Record, 0, len(s.records))
	for _, r := range s.records {
		r := r
		out = append(out, &r)
	}
	return out, nil
}

func (s *inMemoryStore) Save(r *Record) error {
	s.mu.Lock()
	s.records[r.Endpoint] = *r
	s.mu.Unlock()
	return nil
}

func (s *inMemoryStore) Delete(ep wire.Endpoint) error {
	s.mu.Lock()
	delete(s.records, ep)
	s.mu.Unlock()
	return nil
}

func (s *inMemoryStore) Close() error { return nil }

type boltDBStore struct {
	db *bbolt.DB
}

// BoltDBStore implements Store on top of BoltDB.
func BoltDBStore(path string) (Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(boltDBBucket); err != nil {
			return errors.Wrap(err, "failed to create bucket")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &boltDBStore{db: db}, nil
}

func (s *boltDBStore) Load() ([]*Record, error) {
	var out []*Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltDBBucket).ForEach(func(k, v []byte) error {
			r := new(Record)
			if err := json.Unmarshal(v, r); err != nil {
				log.WithError(err).Warnf("Skipping corrupt user info record %q", k)
				return nil
			}
			out = append(out, r)
			return nil
		})
	})
	return out, err
}

func (s *boltDBStore) Save(r *Record) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltDBBucket).Put([]byte(r.Endpoint.String()), raw)
	})
}

func (s *boltDBStore) Delete(ep wire.Endpoint) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltDBBucket).Delete([]byte(ep.String()))
	})
}

func (s *boltDBStore) Close() error {
	return s.db.Close()
}
