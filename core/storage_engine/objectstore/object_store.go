package objectstore

import (
	"encoding/binary"
	"sync"

	flushmanager "github.com/sushant-115/gojostore/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojostore/core/write_engine/page_manager"
	"github.com/sushant-115/gojostore/core/write_engine/pagestore"
	"go.uber.org/zap"
)

const (
	// CurrentVersion is the object store format version kept in VersionArea.
	CurrentVersion = 1
	// VersionArea is the metadata area holding CurrentVersion.
	VersionArea = 1

	recordHeaderSize = 2

	// MaxObjectSize is the largest encoded object the store accepts.
	MaxObjectSize = MaxRecordSize - recordHeaderSize
)

// ObjectStore keeps typed, variable-length objects in the pages of a
// PageStore and hands them out by Address.
type ObjectStore struct {
	mu        sync.Mutex
	pageStore *pagestore.PageStore
	policy    Policy
	logger    *zap.Logger
	acquired  map[Address]*objectEntry
}

// Create makes an empty object store file.
func Create(name string) error { return pagestore.Create(name) }

// Exists reports whether the store file is present.
func Exists(name string) bool { return pagestore.Exists(name) }

// Delete removes the store file and its log.
func Delete(name string) error { return pagestore.Delete(name) }

// Open opens the object store in file name, decoding objects with policy.
func Open(name string, policy Policy, logger *zap.Logger) (*ObjectStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ps, err := pagestore.Open(name, logger)
	if err != nil {
		return nil, err
	}
	if err := ps.CheckVersion(VersionArea, CurrentVersion, flushmanager.KeyObjectStoreConversion); err != nil {
		_ = ps.CloseWithoutCommit()
		return nil, err
	}
	return &ObjectStore{
		pageStore: ps,
		policy:    policy,
		logger:    logger,
		acquired:  make(map[Address]*objectEntry),
	}, nil
}

// Close commits and closes the underlying page store.
func (s *ObjectStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.acquired)
	return s.pageStore.Close()
}

// CloseWithoutCommit drops uncommitted changes and closes the file.
func (s *ObjectStore) CloseWithoutCommit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.acquired)
	return s.pageStore.CloseWithoutCommit()
}

// Commit makes all changes since the last commit durable.
func (s *ObjectStore) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pageStore.Commit()
}

// Rollback discards all changes since the last commit. Objects acquired before
// the rollback are detached: their handles can still be read and released,
// Save on them fails with ErrObjectDetached, and new acquisitions decode fresh
// copies.
func (s *ObjectStore) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.acquired {
		e.detached = true
	}
	clear(s.acquired)
	return s.pageStore.Rollback()
}

// PageStore exposes the underlying page store for statistics and metadata.
func (s *ObjectStore) PageStore() *pagestore.PageStore { return s.pageStore }

func (s *ObjectStore) ReadMetadataArea(i int) ([]byte, error) {
	return s.pageStore.ReadMetadataArea(i)
}

func (s *ObjectStore) WriteMetadataArea(i int, buf []byte) error {
	return s.pageStore.WriteMetadataArea(i, buf)
}

// CheckVersion validates a version number kept in metadata area i.
func (s *ObjectStore) CheckVersion(i int, current uint32, conversionKey string) error {
	return s.pageStore.CheckVersion(i, current, conversionKey)
}

// InsertObject stores obj in the first page with room and returns its address.
// The object is not acquired.
func (s *ObjectStore) InsertObject(obj StoredObject) (Address, error) {
	rec := encodeRecord(obj)
	if len(rec) > MaxRecordSize {
		return NullAddress, flushmanager.Errorf(flushmanager.KeyObjectStoreSize, flushmanager.ErrSizeLimitExceeded, "object of %d bytes exceeds %d", len(rec)-recordHeaderSize, MaxObjectSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.findPage(len(rec) + slotSize)
	if err != nil {
		return NullAddress, err
	}
	page, err := s.pageStore.Acquire(id)
	if err != nil {
		return NullAddress, err
	}
	defer s.pageStore.Release(page)

	op := objectPage{page: page}
	slot, ok := op.insert(rec)
	if !ok {
		return NullAddress, flushmanager.Errorf(flushmanager.KeyObjectStoreFormat, flushmanager.ErrStoreFormat, "space map claims room on page %d", id)
	}
	if err := s.setUsed(id, op.used()); err != nil {
		return NullAddress, err
	}
	return Address{Page: id, Object: uint16(slot)}, nil
}

// AcquireObject returns a handle on the object at addr. Concurrent holders of
// the same address share one decoded object.
func (s *ObjectStore) AcquireObject(addr Address) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.acquired[addr]; ok {
		e.refs++
		return &Handle{store: s, entry: e}, nil
	}
	rec, err := s.readRecord(addr)
	if err != nil {
		return nil, err
	}
	objectType := binary.BigEndian.Uint16(rec)
	obj, err := s.policy.Decode(objectType, rec[recordHeaderSize:])
	if err != nil {
		return nil, err
	}
	e := &objectEntry{address: addr, object: obj, refs: 1}
	s.acquired[addr] = e
	return &Handle{store: s, entry: e}, nil
}

// Acquire returns the object at addr as a T, failing with ErrObjectType when
// the stored object has another type.
func Acquire[T StoredObject](s *ObjectStore, addr Address) (*Handle, T, error) {
	var zero T
	h, err := s.AcquireObject(addr)
	if err != nil {
		return nil, zero, err
	}
	obj, ok := h.Object().(T)
	if !ok {
		h.Release()
		return nil, zero, flushmanager.Errorf(flushmanager.KeyObjectStoreType, flushmanager.ErrObjectType, "object at %s is %T", addr, h.Object())
	}
	return h, obj, nil
}

// RemoveObject deletes the object at addr. Acquired objects cannot be removed.
func (s *ObjectStore) RemoveObject(addr Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.acquired[addr]; ok && e.refs > 0 {
		return flushmanager.Errorf(flushmanager.KeyObjectStoreInUse, flushmanager.ErrObjectInUse, "object %s has %d references", addr, e.refs)
	}
	page, err := s.objectPage(addr)
	if err != nil {
		return err
	}
	defer s.pageStore.Release(page)

	op := objectPage{page: page}
	if _, ok := op.record(int(addr.Object)); !ok {
		return notFound(addr)
	}
	op.remove(int(addr.Object))
	return s.setUsed(addr.Page, op.used())
}

// ObjectExists reports whether an object is stored at addr.
func (s *ObjectStore) ObjectExists(addr Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.readRecord(addr)
	return err == nil
}

func (s *ObjectStore) updateObject(addr Address, obj StoredObject) error {
	rec := encodeRecord(obj)
	if len(rec) > MaxRecordSize {
		return flushmanager.Errorf(flushmanager.KeyObjectStoreSize, flushmanager.ErrSizeLimitExceeded, "object of %d bytes exceeds %d", len(rec)-recordHeaderSize, MaxObjectSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	page, err := s.objectPage(addr)
	if err != nil {
		return err
	}
	defer s.pageStore.Release(page)

	op := objectPage{page: page}
	if _, ok := op.record(int(addr.Object)); !ok {
		return notFound(addr)
	}
	if !op.update(int(addr.Object), rec) {
		return flushmanager.Errorf(flushmanager.KeyObjectStoreSize, flushmanager.ErrSizeLimitExceeded, "object %s no longer fits its page", addr)
	}
	return s.setUsed(addr.Page, op.used())
}

func (s *ObjectStore) releaseObject(e *objectEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.refs--
	if e.refs <= 0 && s.acquired[e.address] == e {
		delete(s.acquired, e.address)
	}
}

func (s *ObjectStore) objectPage(addr Address) (*pagemanager.Page, error) {
	if addr.IsNull() || isSpaceMapPage(addr.Page) || int(addr.Page) >= s.pageStore.NumberOfPages() {
		return nil, notFound(addr)
	}
	return s.pageStore.Acquire(addr.Page)
}

func (s *ObjectStore) readRecord(addr Address) ([]byte, error) {
	page, err := s.objectPage(addr)
	if err != nil {
		return nil, err
	}
	defer s.pageStore.Release(page)

	rec, ok := objectPage{page: page}.record(int(addr.Object))
	if !ok || len(rec) < recordHeaderSize {
		return nil, notFound(addr)
	}
	return rec, nil
}

// findPage returns the first object page with at least need free bytes, or
// the next page number past the end of the store.
func (s *ObjectStore) findPage(need int) (pagemanager.PageID, error) {
	n := pagemanager.PageID(s.pageStore.NumberOfPages())
	for smp := pagemanager.PageID(0); smp < n; smp += SpaceMapSpan {
		page, err := s.pageStore.Acquire(smp)
		if err != nil {
			return 0, err
		}
		for id := smp + 1; id < smp+SpaceMapSpan && id < n; id++ {
			if freeBytes(page.Uint16(spaceMapOffset(id))) >= need {
				s.pageStore.Release(page)
				return id, nil
			}
		}
		s.pageStore.Release(page)
	}
	if isSpaceMapPage(n) {
		n++
	}
	return n, nil
}

func (s *ObjectStore) setUsed(id pagemanager.PageID, used int) error {
	page, err := s.pageStore.Acquire(spaceMapPageFor(id))
	if err != nil {
		return err
	}
	defer s.pageStore.Release(page)
	page.PutUint16(spaceMapOffset(id), uint16(used))
	return nil
}

func encodeRecord(obj StoredObject) []byte {
	payload := obj.Encode()
	rec := make([]byte, recordHeaderSize+len(payload))
	binary.BigEndian.PutUint16(rec, obj.ObjectType())
	copy(rec[recordHeaderSize:], payload)
	return rec
}

func notFound(addr Address) error {
	return flushmanager.Errorf(flushmanager.KeyObjectStoreNotFound, flushmanager.ErrObjectNotFound, "no object at %s", addr)
}
