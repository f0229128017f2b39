// Package testkit holds a conformance suite every storage.CAS must pass.
package testkit

import (
	"sync"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pangea.dev/signkit/cidutil"
	"pangea.dev/signkit/storage"
)

// NewCAS returns a fresh, empty store isolated from other tests.
type NewCAS func(t *testing.T) storage.CAS

func RunCASConformance(t *testing.T, newCAS NewCAS) {
	t.Helper()

	t.Run("PutGetRoundTrip", func(t *testing.T) {
		cas := newCAS(t)
		want := []byte(`{"name":{"en-us":"Test"},"signature":"00"}`)

		id, err := cas.Put(want)
		require.NoError(t, err)
		wantID, err := cidutil.Of(want)
		require.NoError(t, err)
		assert.True(t, id.Equals(wantID), "got %s want %s", id, wantID)

		got, err := cas.Get(id)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		require.NoError(t, cidutil.Verify(id, got))
	})

	t.Run("PutIdempotent", func(t *testing.T) {
		cas := newCAS(t)
		b := []byte("same artifact")

		id1, err := cas.Put(b)
		require.NoError(t, err)
		id2, err := cas.Put(b)
		require.NoError(t, err)
		assert.True(t, id1.Equals(id2))
	})

	t.Run("HasAndNotFound", func(t *testing.T) {
		cas := newCAS(t)
		b := []byte("missing")
		id, err := cidutil.Of(b)
		require.NoError(t, err)

		assert.False(t, cas.Has(id))
		_, err = cas.Get(id)
		assert.True(t, storage.IsNotFound(err), "got %v", err)

		_, err = cas.Put(b)
		require.NoError(t, err)
		assert.True(t, cas.Has(id))
	})

	t.Run("RejectUndefCID", func(t *testing.T) {
		cas := newCAS(t)
		assert.False(t, cas.Has(cid.Undef))
		_, err := cas.Get(cid.Undef)
		assert.Error(t, err)
	})
}

// MemCAS is an in-memory storage.CAS for tests. It is safe for concurrent use.
type MemCAS struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemCAS() *MemCAS { return &MemCAS{objects: map[string][]byte{}} }

func (m *MemCAS) Put(b []byte) (cid.Cid, error) {
	id, err := cidutil.Of(b)
	if err != nil {
		return cid.Undef, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	if old, ok := m.objects[id.KeyString()]; ok && string(old) != string(b) {
		return cid.Undef, storage.ErrImmutable
	}
	m.objects[id.KeyString()] = append([]byte(nil), b...)
	return id, nil
}

func (m *MemCAS) Get(id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[id.KeyString()]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (m *MemCAS) Has(id cid.Cid) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[id.KeyString()]
	return id.Defined() && ok
}

// Len returns the number of stored objects.
func (m *MemCAS) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
