// Package keystore persists generated key bundles in a pebble database.
//
// Bundles are CBOR encoded under the "kb/" prefix, keyed by their UUID.
package keystore

import (
	"bytes"
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	fhewasm "github.com/luxfhe/fhe-wasm"
	"github.com/luxfhe/fhe-wasm/errors"
)

var bundlePrefix = []byte("kb/")

// Bundle is one stored key set.
type Bundle struct {
	Created       time.Time    `cbor:"created" json:"created"`
	EngineVersion string       `cbor:"engineVersion" json:"engineVersion"`
	Keys          fhewasm.Keys `cbor:"keys" json:"keys"`
	ID            uuid.UUID    `cbor:"id" json:"id"`
}

// Store is a bundle store. It is safe for concurrent use.
type Store struct {
	db     *pebble.DB
	enc    cbor.EncMode
	mu     sync.RWMutex
	closed bool
}

// Open opens or creates the store at path.
func Open(path string) (*Store, error) {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseStore, errors.KindInvalidInput, err, "cbor encoder")
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(errors.PhaseStore, errors.KindInvalidInput, err, "open keystore "+path)
	}
	return &Store{db: db, enc: em}, nil
}

func bundleKey(id uuid.UUID) []byte {
	return append(slices.Clone(bundlePrefix), id[:]...)
}

func (s *Store) check() error {
	if s.closed {
		return errors.NotInitialized(errors.PhaseStore, "keystore")
	}
	return nil
}

// Put stores b, assigning an ID and creation time when they are unset.
// It returns the stored bundle.
func (s *Store) Put(b Bundle) (Bundle, error) {
	if b.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return Bundle{}, errors.Wrap(errors.PhaseStore, errors.KindInvalidData, err, "bundle id")
		}
		b.ID = id
	}
	if b.Created.IsZero() {
		b.Created = time.Now().UTC()
	}

	data, err := s.enc.Marshal(b)
	if err != nil {
		return Bundle{}, errors.Wrap(errors.PhaseStore, errors.KindInvalidData, err, "encode bundle")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return Bundle{}, err
	}
	if err := s.db.Set(bundleKey(b.ID), data, pebble.Sync); err != nil {
		return Bundle{}, errors.Wrap(errors.PhaseStore, errors.KindInvalidData, err, "write bundle")
	}
	return b, nil
}

// Get returns the bundle with id.
func (s *Store) Get(id uuid.UUID) (Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return Bundle{}, err
	}

	data, closer, err := s.db.Get(bundleKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return Bundle{}, errors.NotFound(errors.PhaseStore, "key bundle", id.String())
	}
	if err != nil {
		return Bundle{}, errors.Wrap(errors.PhaseStore, errors.KindInvalidData, err, "read bundle")
	}
	defer closer.Close()
	return decode(data)
}

func decode(data []byte) (Bundle, error) {
	var b Bundle
	if err := cbor.Unmarshal(data, &b); err != nil {
		return Bundle{}, errors.Wrap(errors.PhaseStore, errors.KindInvalidData, err, "decode bundle")
	}
	return b, nil
}

// List returns every bundle, oldest first.
func (s *Store) List() ([]Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	upper := slices.Clone(bundlePrefix)
	upper[len(upper)-1]++
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: bundlePrefix, UpperBound: upper})
	if err != nil {
		return nil, errors.Wrap(errors.PhaseStore, errors.KindInvalidData, err, "iterate bundles")
	}
	defer iter.Close()

	var out []Bundle
	for iter.First(); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), bundlePrefix) {
			break
		}
		b, err := decode(iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(errors.PhaseStore, errors.KindInvalidData, err, "iterate bundles")
	}

	slices.SortStableFunc(out, func(a, b Bundle) int {
		return cmp.Compare(a.Created.UnixNano(), b.Created.UnixNano())
	})
	return out, nil
}

// Delete removes the bundle with id.
func (s *Store) Delete(id uuid.UUID) error {
	if _, err := s.Get(id); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return err
	}
	if err := s.db.Delete(bundleKey(id), pebble.Sync); err != nil {
		return errors.Wrap(errors.PhaseStore, errors.KindInvalidData, err, "delete bundle")
	}
	return nil
}

// Close closes the database. Closing twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
