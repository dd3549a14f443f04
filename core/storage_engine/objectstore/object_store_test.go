package objectstore

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	flushmanager "github.com/sushant-115/gojostore/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojostore/core/write_engine/page_manager"
	"go.uber.org/zap/zaptest"
)

// --- Test Helpers ---

const blobType uint16 = 100

type blob struct {
	data []byte
}

func (b *blob) ObjectType() uint16 { return blobType }
func (b *blob) Encode() []byte     { return b.data }

var testPolicy = PolicyFunc(func(objectType uint16, payload []byte) (StoredObject, error) {
	if objectType != blobType {
		return nil, flushmanager.Errorf(flushmanager.KeyObjectStoreType, flushmanager.ErrObjectType, "type %d", objectType)
	}
	return &blob{data: payload}, nil
})

func setupObjectStore(t *testing.T) (*ObjectStore, string) {
	t.Helper()
	name := filepath.Join(t.TempDir(), "objects.dat")
	require.NoError(t, Create(name))
	s, err := Open(name, testPolicy, zaptest.NewLogger(t))
	require.NoError(t, err)
	return s, name
}

func readBlob(t *testing.T, s *ObjectStore, addr Address) []byte {
	t.Helper()
	h, b, err := Acquire[*blob](s, addr)
	require.NoError(t, err)
	defer h.Release()
	return append([]byte(nil), b.data...)
}

// --- Test Cases ---

func TestAddress_Encoding(t *testing.T) {
	a := Address{Page: 0x01020304, Object: 0x0506}
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6}, a.Bytes())
	back, err := AddressFromBytes(a.Bytes())
	require.NoError(t, err)
	require.Equal(t, a, back)

	_, err = AddressFromBytes([]byte{1})
	require.ErrorIs(t, err, flushmanager.ErrStoreFormat)

	// Byte order follows numeric order.
	lo := Address{Page: 1, Object: 300}.Bytes()
	hi := Address{Page: 2, Object: 0}.Bytes()
	require.Equal(t, -1, bytes.Compare(lo, hi))
}

func TestObjectID_Encoding(t *testing.T) {
	id := ObjectID(258)
	require.Equal(t, []byte{0, 0, 0, 0, 0, 0, 1, 2}, id.Bytes())
	back, err := ObjectIDFromBytes(id.Bytes())
	require.NoError(t, err)
	require.Equal(t, id, back)
	require.Equal(t, -1, bytes.Compare(ObjectID(255).Bytes(), ObjectID(256).Bytes()))
}

// TestObjectStore_InsertAcquireRemove walks a single object through its life.
func TestObjectStore_InsertAcquireRemove(t *testing.T) {
	s, _ := setupObjectStore(t)
	defer s.Close()

	addr, err := s.InsertObject(&blob{data: []byte("hello")})
	require.NoError(t, err)
	require.Equal(t, Address{Page: 1, Object: 0}, addr, "first object lands in slot 0 of page 1")
	require.Equal(t, []byte("hello"), readBlob(t, s, addr))

	require.NoError(t, s.RemoveObject(addr))
	require.False(t, s.ObjectExists(addr))
	_, err = s.AcquireObject(addr)
	require.ErrorIs(t, err, flushmanager.ErrObjectNotFound)
	require.ErrorIs(t, s.RemoveObject(addr), flushmanager.ErrObjectNotFound)
}

// TestObjectStore_SharedHandles verifies that two holders of one address see the
// same object and that removal waits for both releases.
func TestObjectStore_SharedHandles(t *testing.T) {
	s, _ := setupObjectStore(t)
	defer s.Close()

	addr, err := s.InsertObject(&blob{data: []byte("shared")})
	require.NoError(t, err)

	h1, err := s.AcquireObject(addr)
	require.NoError(t, err)
	h2, err := s.AcquireObject(addr)
	require.NoError(t, err)
	require.Same(t, h1.Object(), h2.Object())

	require.ErrorIs(t, s.RemoveObject(addr), flushmanager.ErrObjectInUse)
	h1.Release()
	h1.Release()
	require.ErrorIs(t, s.RemoveObject(addr), flushmanager.ErrObjectInUse, "double release of one handle must not free the other")
	h2.Release()
	require.NoError(t, s.RemoveObject(addr))
}

func TestObjectStore_SaveUpdatesInPlace(t *testing.T) {
	s, name := setupObjectStore(t)

	addr, err := s.InsertObject(&blob{data: []byte("short")})
	require.NoError(t, err)
	other, err := s.InsertObject(&blob{data: []byte("neighbour")})
	require.NoError(t, err)

	h, b, err := Acquire[*blob](s, addr)
	require.NoError(t, err)
	b.data = bytes.Repeat([]byte("x"), 500)
	require.NoError(t, h.Save())
	h.Release()
	require.NoError(t, s.Close())

	s, err = Open(name, testPolicy, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()
	require.Equal(t, bytes.Repeat([]byte("x"), 500), readBlob(t, s, addr))
	require.Equal(t, []byte("neighbour"), readBlob(t, s, other))
}

func TestObjectStore_SizeLimit(t *testing.T) {
	s, _ := setupObjectStore(t)
	defer s.Close()

	_, err := s.InsertObject(&blob{data: make([]byte, MaxObjectSize+1)})
	require.ErrorIs(t, err, flushmanager.ErrSizeLimitExceeded)

	addr, err := s.InsertObject(&blob{data: make([]byte, MaxObjectSize)})
	require.NoError(t, err)
	require.Len(t, readBlob(t, s, addr), MaxObjectSize)
}

// TestObjectStore_FillsPagesThenReusesSpace inserts enough objects to span
// several pages, removes some and checks that new inserts reuse the freed room.
func TestObjectStore_FillsPagesThenReusesSpace(t *testing.T) {
	s, _ := setupObjectStore(t)
	defer s.Close()

	payload := make([]byte, 1000)
	var addrs []Address
	for i := 0; i < 40; i++ {
		payload[0] = byte(i)
		addr, err := s.InsertObject(&blob{data: payload})
		require.NoError(t, err)
		addrs = append(addrs, addr)
	}
	require.Greater(t, s.PageStore().NumberOfPages(), 5)
	for _, a := range addrs {
		require.NotEqual(t, pagemanager.PageID(0), a.Page, "page 0 is a space map")
	}

	// Free the first object page entirely except one object.
	firstPage := addrs[0].Page
	for _, a := range addrs[1:] {
		if a.Page == firstPage {
			require.NoError(t, s.RemoveObject(a))
		}
	}
	addr, err := s.InsertObject(&blob{data: payload})
	require.NoError(t, err)
	require.Equal(t, firstPage, addr.Page)

	for i, a := range addrs {
		if a.Page != firstPage || i == 0 {
			require.Equal(t, byte(i), readBlob(t, s, a)[0])
		}
	}
}

// TestObjectStore_CompactionOnInsert fragments a page and checks that an insert
// needing contiguous space compacts it without moving other objects' addresses.
func TestObjectStore_CompactionOnInsert(t *testing.T) {
	s, _ := setupObjectStore(t)
	defer s.Close()

	var addrs []Address
	for i := 0; i < 7; i++ {
		addr, err := s.InsertObject(&blob{data: bytes.Repeat([]byte{byte(i)}, 1100)})
		require.NoError(t, err)
		require.Equal(t, pagemanager.PageID(1), addr.Page)
		addrs = append(addrs, addr)
	}
	require.NoError(t, s.RemoveObject(addrs[1]))
	require.NoError(t, s.RemoveObject(addrs[3]))

	big, err := s.InsertObject(&blob{data: bytes.Repeat([]byte{0xAA}, 2000)})
	require.NoError(t, err)
	require.Equal(t, pagemanager.PageID(1), big.Page)
	require.Equal(t, bytes.Repeat([]byte{0xAA}, 2000), readBlob(t, s, big))

	for _, i := range []int{0, 2, 4, 5, 6} {
		require.Equal(t, bytes.Repeat([]byte{byte(i)}, 1100), readBlob(t, s, addrs[i]))
	}
}

func TestObjectStore_Rollback(t *testing.T) {
	s, _ := setupObjectStore(t)
	defer s.Close()

	kept, err := s.InsertObject(&blob{data: []byte("kept")})
	require.NoError(t, err)
	require.NoError(t, s.Commit())

	dropped, err := s.InsertObject(&blob{data: []byte("dropped")})
	require.NoError(t, err)
	h, b, err := Acquire[*blob](s, kept)
	require.NoError(t, err)
	b.data = []byte("changed")
	require.NoError(t, h.Save())
	h.Release()

	require.NoError(t, s.Rollback())
	require.False(t, s.ObjectExists(dropped))
	require.Equal(t, []byte("kept"), readBlob(t, s, kept))
}

// TestObjectStore_RollbackDetachesHandles keeps a handle open across a
// rollback and checks that it can no longer overwrite the restored object.
func TestObjectStore_RollbackDetachesHandles(t *testing.T) {
	s, _ := setupObjectStore(t)
	defer s.Close()

	addr, err := s.InsertObject(&blob{data: []byte("committed")})
	require.NoError(t, err)
	require.NoError(t, s.Commit())

	h, b, err := Acquire[*blob](s, addr)
	require.NoError(t, err)
	b.data = []byte("pending")
	require.NoError(t, h.Save())
	require.False(t, h.Detached())

	require.NoError(t, s.Rollback())
	require.True(t, h.Detached())
	b.data = []byte("stale")
	require.ErrorIs(t, h.Save(), flushmanager.ErrObjectDetached)
	require.Equal(t, []byte("committed"), readBlob(t, s, addr))

	h.Release()
	require.Equal(t, []byte("committed"), readBlob(t, s, addr))
}

func TestObjectStore_WrongType(t *testing.T) {
	s, _ := setupObjectStore(t)
	defer s.Close()

	addr, err := s.InsertObject(&blob{data: []byte("x")})
	require.NoError(t, err)

	type other struct{ *blob }
	_, _, err = Acquire[other](s, addr)
	require.ErrorIs(t, err, flushmanager.ErrObjectType)
	require.NoError(t, s.RemoveObject(addr), "failed typed acquire must not leak a reference")
}

func TestObjectStore_InvalidAddresses(t *testing.T) {
	s, _ := setupObjectStore(t)
	defer s.Close()

	for _, a := range []Address{NullAddress, {Page: SpaceMapSpan}, {Page: 77}} {
		_, err := s.AcquireObject(a)
		require.ErrorIs(t, err, flushmanager.ErrObjectNotFound, a.String())
	}
}
