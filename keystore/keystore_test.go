package keystore

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/google/uuid"

	fhewasm "github.com/luxfhe/fhe-wasm"
	"github.com/luxfhe/fhe-wasm/errors"
)

func newStore(c *qt.C) *Store {
	s, err := Open(c.TempDir())
	c.Assert(err, qt.IsNil)
	c.Cleanup(func() { _ = s.Close() })
	return s
}

func isClass(phase errors.Phase, kind errors.Kind) func(error) bool {
	return func(err error) bool {
		return errors.Is(err, &errors.Error{Phase: phase, Kind: kind})
	}
}

var testKeys = fhewasm.Keys{
	PublicKey:     []byte("pk"),
	PrivateKey:    []byte("sk"),
	EvaluationKey: []byte("ek"),
}

func TestPutGet(t *testing.T) {
	c := qt.New(t)
	s := newStore(c)

	b, err := s.Put(Bundle{EngineVersion: "0.1.0", Keys: testKeys})
	c.Assert(err, qt.IsNil)
	c.Assert(b.ID, qt.Not(qt.Equals), uuid.Nil)
	c.Assert(b.Created.IsZero(), qt.IsFalse)

	got, err := s.Get(b.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(got.ID, qt.Equals, b.ID)
	c.Assert(got.EngineVersion, qt.Equals, "0.1.0")
	c.Assert(got.Keys, qt.DeepEquals, testKeys)
	c.Assert(got.Created.Equal(b.Created), qt.IsTrue)

	_, err = s.Get(uuid.New())
	c.Assert(isClass(errors.PhaseStore, errors.KindNotFound)(err), qt.IsTrue, qt.Commentf("%v", err))
}

func TestPutKeepsID(t *testing.T) {
	c := qt.New(t)
	s := newStore(c)

	id := uuid.New()
	b, err := s.Put(Bundle{ID: id, Keys: testKeys})
	c.Assert(err, qt.IsNil)
	c.Assert(b.ID, qt.Equals, id)

	b.EngineVersion = "0.2.0"
	_, err = s.Put(b)
	c.Assert(err, qt.IsNil)

	got, err := s.Get(id)
	c.Assert(err, qt.IsNil)
	c.Assert(got.EngineVersion, qt.Equals, "0.2.0")
}

func TestListOrder(t *testing.T) {
	c := qt.New(t)
	s := newStore(c)

	list, err := s.List()
	c.Assert(err, qt.IsNil)
	c.Assert(list, qt.HasLen, 0)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, offset := range []int{2, 0, 1} {
		_, err := s.Put(Bundle{Created: base.Add(time.Duration(offset) * time.Hour), Keys: testKeys})
		c.Assert(err, qt.IsNil)
	}

	list, err = s.List()
	c.Assert(err, qt.IsNil)
	c.Assert(list, qt.HasLen, 3)
	for i, b := range list {
		c.Assert(b.Created.Equal(base.Add(time.Duration(i)*time.Hour)), qt.IsTrue, qt.Commentf("bundle %d created %v", i, b.Created))
	}
}

func TestDelete(t *testing.T) {
	c := qt.New(t)
	s := newStore(c)

	b, err := s.Put(Bundle{Keys: testKeys})
	c.Assert(err, qt.IsNil)
	c.Assert(s.Delete(b.ID), qt.IsNil)

	_, err = s.Get(b.ID)
	c.Assert(isClass(errors.PhaseStore, errors.KindNotFound)(err), qt.IsTrue)

	err = s.Delete(b.ID)
	c.Assert(isClass(errors.PhaseStore, errors.KindNotFound)(err), qt.IsTrue)
}

func TestReopen(t *testing.T) {
	c := qt.New(t)
	dir := c.TempDir()

	s, err := Open(dir)
	c.Assert(err, qt.IsNil)
	b, err := s.Put(Bundle{Keys: testKeys})
	c.Assert(err, qt.IsNil)
	c.Assert(s.Close(), qt.IsNil)

	s, err = Open(dir)
	c.Assert(err, qt.IsNil)
	defer s.Close()
	got, err := s.Get(b.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Keys, qt.DeepEquals, testKeys)
}

func TestClosedStore(t *testing.T) {
	c := qt.New(t)
	s, err := Open(c.TempDir())
	c.Assert(err, qt.IsNil)
	c.Assert(s.Close(), qt.IsNil)
	c.Assert(s.Close(), qt.IsNil)

	_, err = s.Put(Bundle{Keys: testKeys})
	c.Assert(isClass(errors.PhaseStore, errors.KindNotInitialized)(err), qt.IsTrue, qt.Commentf("%v", err))
	_, err = s.List()
	c.Assert(isClass(errors.PhaseStore, errors.KindNotInitialized)(err), qt.IsTrue)
}
