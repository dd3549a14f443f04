// Package indexedstore is the public face of the store: opaque objects
// addressed by generated identifiers plus any number of named indexes, all
// kept in a single transactional file.
package indexedstore

import (
	"bytes"
	"errors"
	"sync"

	"github.com/sushant-115/gojostore/core/indexing/btree"
	"github.com/sushant-115/gojostore/core/storage_engine/objectstore"
	flushmanager "github.com/sushant-115/gojostore/core/write_engine/flush_manager"
	"github.com/sushant-115/gojostore/core/write_engine/pagestore"
	"go.uber.org/zap"
)

const (
	// CurrentVersion is the indexed store format version kept in VersionArea.
	CurrentVersion = 1
	// VersionArea is the metadata area holding CurrentVersion.
	VersionArea = 2

	// MaxObjectLength is the largest object payload CreateObject accepts.
	MaxObjectLength = objectstore.MaxObjectSize
)

// ObjectID identifies an object of an indexed store.
type ObjectID = objectstore.ObjectID

var (
	contextAddress       = objectstore.Address{Page: 1, Object: 0}
	legacyContextAddress = objectstore.Address{Page: 1, Object: 1}
)

// IndexedStore owns one object store and the two directories inside it: the
// object directory (ObjectID -> object address) and the index directory
// (index name -> index anchor address). All methods are serialized on one
// lock, which the indexes it hands out share.
type IndexedStore struct {
	mu       sync.Mutex
	name     string
	registry *Registry
	logger   *zap.Logger

	objectStore           *objectstore.ObjectStore
	contextAddress        objectstore.Address
	objectDirectory       *btree.Index
	objectDirectoryCursor *btree.Cursor
	indexDirectory        *btree.Index
	indexDirectoryCursor  *btree.Cursor
}

// Exists reports whether a store file named name is present.
func Exists(name string) bool { return objectstore.Exists(name) }

// Delete removes the store file and its log.
func Delete(name string) error { return objectstore.Delete(name) }

// Create initializes a new store file: a context record, an empty index
// directory and an empty object directory, committed and closed. On failure
// the partial file is deleted.
func Create(name string, logger *zap.Logger) (err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if Exists(name) {
		return flushmanager.Errorf(flushmanager.KeyIndexedStoreCreate, flushmanager.ErrIO, "store file %s already exists", name)
	}
	if err := objectstore.Create(name); err != nil {
		return flushmanager.NewError(flushmanager.KeyIndexedStoreCreate, flushmanager.ErrIO, err)
	}
	store, err := objectstore.Open(name, Policy, logger)
	if err != nil {
		_ = Delete(name)
		return err
	}
	defer func() {
		if err != nil {
			_ = store.CloseWithoutCommit()
			_ = Delete(name)
		}
	}()

	if err := store.CheckVersion(VersionArea, CurrentVersion, flushmanager.KeyIndexedStoreConvert); err != nil {
		return err
	}
	ctxAddr, err := store.InsertObject(&Context{nextObjectNumber: 1})
	if err != nil {
		return err
	}
	indexDir, err := btree.Create(store)
	if err != nil {
		return err
	}
	objectDir, err := btree.Create(store)
	if err != nil {
		return err
	}
	h, ctx, err := objectstore.Acquire[*Context](store, ctxAddr)
	if err != nil {
		return err
	}
	ctx.indexDirectory = indexDir
	ctx.objectDirectory = objectDir
	err = h.Save()
	h.Release()
	if err != nil {
		return err
	}
	if err := store.Close(); err != nil {
		return err
	}
	logger.Info("Created indexed store", zap.String("store", name))
	return nil
}

// Open opens the store in file name, creating it first when it does not
// exist. A non-nil registry rejects a second open of the same file, including
// one that is still in progress.
func Open(name string, registry *Registry, logger *zap.Logger) (*IndexedStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		return open(name, nil, logger)
	}
	if err := registry.reserve(name); err != nil {
		return nil, err
	}
	s, err := open(name, registry, logger)
	if err != nil {
		registry.unreserve(name)
		return nil, err
	}
	registry.register(s)
	return s, nil
}

func open(name string, registry *Registry, logger *zap.Logger) (*IndexedStore, error) {
	if !Exists(name) {
		if err := Create(name, logger); err != nil {
			return nil, err
		}
	}
	store, err := objectstore.Open(name, Policy, logger)
	if err != nil {
		return nil, err
	}
	s := &IndexedStore{
		name:        name,
		registry:    registry,
		logger:      logger.With(zap.String("store", name)),
		objectStore: store,
	}
	if err := s.openContents(); err != nil {
		_ = store.CloseWithoutCommit()
		return nil, err
	}
	s.logger.Debug("Opened indexed store", zap.Stringer("context", s.contextAddress))
	return s, nil
}

func (s *IndexedStore) openContents() error {
	if err := s.objectStore.CheckVersion(VersionArea, CurrentVersion, flushmanager.KeyIndexedStoreConvert); err != nil {
		return err
	}
	ctx, addr, err := s.readContext()
	if err != nil {
		return err
	}
	s.contextAddress = addr
	s.indexDirectory = btree.New(s.objectStore, ctx.indexDirectory, nil)
	s.indexDirectoryCursor = s.indexDirectory.Open()
	s.objectDirectory = btree.New(s.objectStore, ctx.objectDirectory, nil)
	s.objectDirectoryCursor = s.objectDirectory.Open()
	return nil
}

// readContext loads the context record from its usual address, falling back
// to the slot older files used.
func (s *IndexedStore) readContext() (Context, objectstore.Address, error) {
	var firstErr error
	for _, addr := range []objectstore.Address{contextAddress, legacyContextAddress} {
		h, ctx, err := objectstore.Acquire[*Context](s.objectStore, addr)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		c := *ctx
		h.Release()
		return c, addr, nil
	}
	return Context{}, objectstore.NullAddress, flushmanager.NewError(flushmanager.KeyIndexedStoreContext, flushmanager.ErrStoreFormat, firstErr)
}

func (s *IndexedStore) Name() string { return s.name }

// Close commits pending changes, releases the cursors, closes the file and
// leaves the registry. The file is closed even when the commit fails; a
// second Close does nothing.
func (s *IndexedStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objectStore == nil {
		return nil
	}
	commitErr := s.objectStore.Commit()
	s.closeCursors()
	closeErr := s.objectStore.Close()
	s.objectStore = nil
	if s.registry != nil {
		s.registry.unregister(s)
	}
	if err := errors.Join(commitErr, closeErr); err != nil {
		s.logger.Error("Closing indexed store failed", zap.Error(err))
		return flushmanager.NewError(flushmanager.KeyIndexedStoreClose, flushmanager.ErrIO, err)
	}
	s.logger.Debug("Closed indexed store")
	return nil
}

func (s *IndexedStore) closeCursors() {
	if s.indexDirectoryCursor != nil {
		s.indexDirectoryCursor.Close()
	}
	if s.objectDirectoryCursor != nil {
		s.objectDirectoryCursor.Close()
	}
}

func (s *IndexedStore) checkOpen() error {
	if s.objectStore == nil {
		return flushmanager.NewError(flushmanager.KeyIndexedStoreClosed, flushmanager.ErrStoreClosed, nil)
	}
	return nil
}

// Commit makes every change since the last commit or rollback durable.
func (s *IndexedStore) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.objectStore.Commit()
}

// Flush is Commit.
func (s *IndexedStore) Flush() error { return s.Commit() }

// Rollback discards every change since the last commit.
func (s *IndexedStore) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.indexDirectoryCursor.Reset()
	s.objectDirectoryCursor.Reset()
	return s.objectStore.Rollback()
}

// --- Objects ---

// CreateObject stores value and returns its new identifier.
func (s *IndexedStore) CreateObject(value []byte) (ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if len(value) > MaxObjectLength {
		return 0, flushmanager.Errorf(flushmanager.KeyIndexedStoreObjLength, flushmanager.ErrSizeLimitExceeded, "object of %d bytes exceeds %d", len(value), MaxObjectLength)
	}
	addr, err := s.objectStore.InsertObject(&BinarySmallObject{value: bytes.Clone(value)})
	if err != nil {
		return 0, err
	}
	id, err := s.nextObjectID()
	if err != nil {
		return 0, err
	}
	if err := s.objectDirectory.InsertItem(id.Bytes(), addr); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *IndexedStore) CreateObjectString(value string) (ObjectID, error) {
	return s.CreateObject([]byte(value))
}

func (s *IndexedStore) CreateObjectItem(value btree.Insertable) (ObjectID, error) {
	return s.CreateObject(value.Bytes())
}

func (s *IndexedStore) nextObjectID() (ObjectID, error) {
	h, ctx, err := objectstore.Acquire[*Context](s.objectStore, s.contextAddress)
	if err != nil {
		return 0, err
	}
	defer h.Release()
	id := ObjectID(ctx.nextObjectNumber)
	ctx.nextObjectNumber++
	if err := h.Save(); err != nil {
		return 0, err
	}
	return id, nil
}

// locateObject positions the object directory cursor on id and returns the
// object's address.
func (s *IndexedStore) locateObject(id ObjectID) (objectstore.Address, error) {
	key := id.Bytes()
	if err := s.objectDirectoryCursor.Find(key); err != nil {
		return objectstore.NullAddress, err
	}
	if !s.objectDirectoryCursor.KeyEquals(key) {
		return objectstore.NullAddress, flushmanager.Errorf(flushmanager.KeyIndexedStoreNotFound, flushmanager.ErrObjectNotFound, "object %s", id)
	}
	return s.objectDirectoryCursor.ValueAsAddress()
}

// GetObject returns a copy of the object's bytes.
func (s *IndexedStore) GetObject(id ObjectID) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	defer s.objectDirectoryCursor.Reset()

	addr, err := s.locateObject(id)
	if err != nil {
		return nil, err
	}
	h, obj, err := objectstore.Acquire[*BinarySmallObject](s.objectStore, addr)
	if err != nil {
		return nil, err
	}
	defer h.Release()
	return obj.Value(), nil
}

// GetObjectAsString returns the object's bytes as a string, cut at the first
// NUL byte.
func (s *IndexedStore) GetObjectAsString(id ObjectID) (string, error) {
	b, err := s.GetObject(id)
	if err != nil {
		return "", err
	}
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b), nil
}

// UpdateObject replaces the object's bytes. The new version is stored first,
// the directory is switched to it, and only then is the old version removed.
// A failure after the switch leaves the old version behind unreferenced.
func (s *IndexedStore) UpdateObject(id ObjectID, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if len(value) > MaxObjectLength {
		return flushmanager.Errorf(flushmanager.KeyIndexedStoreObjLength, flushmanager.ErrSizeLimitExceeded, "object of %d bytes exceeds %d", len(value), MaxObjectLength)
	}
	defer s.objectDirectoryCursor.Reset()

	oldAddr, err := s.locateObject(id)
	if err != nil {
		return err
	}
	newAddr, err := s.objectStore.InsertObject(&BinarySmallObject{value: bytes.Clone(value)})
	if err != nil {
		return err
	}
	if err := s.objectDirectoryCursor.UpdateValueItem(newAddr); err != nil {
		return err
	}
	return s.objectStore.RemoveObject(oldAddr)
}

func (s *IndexedStore) UpdateObjectString(id ObjectID, value string) error {
	return s.UpdateObject(id, []byte(value))
}

func (s *IndexedStore) UpdateObjectItem(id ObjectID, value btree.Insertable) error {
	return s.UpdateObject(id, value.Bytes())
}

// RemoveObject deletes the object and its directory entry.
func (s *IndexedStore) RemoveObject(id ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	defer s.objectDirectoryCursor.Reset()

	addr, err := s.locateObject(id)
	if err != nil {
		return err
	}
	if err := s.objectDirectoryCursor.RemoveEntry(); err != nil {
		return err
	}
	return s.objectStore.RemoveObject(addr)
}

// NumberOfObjects returns how many objects the store holds.
func (s *IndexedStore) NumberOfObjects() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	return s.objectDirectory.NumberOfEntries()
}

// --- Indexes ---

// locateIndex positions the index directory cursor on name and returns the
// index anchor address.
func (s *IndexedStore) locateIndex(name string) (objectstore.Address, error) {
	if err := s.indexDirectoryCursor.FindString(name); err != nil {
		return objectstore.NullAddress, err
	}
	if !s.indexDirectoryCursor.KeyEqualsString(name) {
		return objectstore.NullAddress, flushmanager.Errorf(flushmanager.KeyIndexedStoreNoIndex, flushmanager.ErrIndexNotFound, "index %q", name)
	}
	return s.indexDirectoryCursor.ValueAsAddress()
}

// CreateIndex creates an empty index called name.
func (s *IndexedStore) CreateIndex(name string) (*btree.Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	defer s.indexDirectoryCursor.Reset()

	if _, err := s.locateIndex(name); err == nil {
		return nil, flushmanager.Errorf(flushmanager.KeyIndexedStoreIndexHas, flushmanager.ErrIndexExists, "index %q", name)
	} else if !errors.Is(err, flushmanager.ErrIndexNotFound) {
		return nil, err
	}
	anchor, err := btree.Create(s.objectStore)
	if err != nil {
		return nil, err
	}
	if err := s.indexDirectory.InsertStringItem(name, anchor); err != nil {
		return nil, err
	}
	return btree.New(s.objectStore, anchor, &s.mu), nil
}

// GetIndex returns the index called name.
func (s *IndexedStore) GetIndex(name string) (*btree.Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	defer s.indexDirectoryCursor.Reset()

	anchor, err := s.locateIndex(name)
	if err != nil {
		return nil, err
	}
	return btree.New(s.objectStore, anchor, &s.mu), nil
}

// RemoveIndex destroys the index called name: its nodes, then its anchor,
// then its directory entry.
func (s *IndexedStore) RemoveIndex(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	defer s.indexDirectoryCursor.Reset()

	anchor, err := s.locateIndex(name)
	if err != nil {
		return err
	}
	if err := btree.New(s.objectStore, anchor, nil).DestroyChildren(); err != nil {
		return err
	}
	if err := s.objectStore.RemoveObject(anchor); err != nil {
		return err
	}
	return s.indexDirectoryCursor.RemoveEntry()
}

// IndexNames returns the names of all indexes in key order.
func (s *IndexedStore) IndexNames() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var names []string
	err := s.indexDirectory.Visit(nil, func(key, _ []byte) btree.VisitResult {
		names = append(names, string(key))
		return btree.VisitContinue
	})
	return names, err
}

// --- Maintenance ---

// Stats returns the page cache counters of the underlying file.
func (s *IndexedStore) Stats() (pagestore.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return pagestore.Stats{}, err
	}
	return s.objectStore.PageStore().Stats(), nil
}

// Snapshot commits and then runs fn with the store file's path while holding
// the store lock, so the file is consistent and quiescent for fn's duration.
func (s *IndexedStore) Snapshot(fn func(path string) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.objectStore.Commit(); err != nil {
		return err
	}
	return fn(s.name)
}
