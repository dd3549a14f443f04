package pagestore

import (
	"errors"
	"os"
	"sort"
	"sync"

	flushmanager "github.com/sushant-115/gojostore/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojostore/core/write_engine/page_manager"
	"github.com/sushant-115/gojostore/core/write_engine/wal"
	"go.uber.org/zap"
)

const (
	// CurrentVersion is the page store format version kept in metadata area 0.
	CurrentVersion = 1
	// VersionArea is the metadata area holding CurrentVersion.
	VersionArea = 0
)

// Stats is a snapshot of the page store counters. Reads always equals
// CacheHits + FileReads.
type Stats struct {
	Pages      int
	Reads      int64
	CacheHits  int64
	FileReads  int64
	FileWrites int64
	Writes     int64
}

// PageStore caches the pages of one store file and applies changes to the file
// atomically through a transaction log.
//
// A page lives in the acquired set while at least one caller holds it, and in
// the modified set from its first change until the next commit or rollback.
type PageStore struct {
	name        string
	diskManager *flushmanager.DiskManager
	logger      *zap.Logger

	mu            sync.Mutex
	acquiredPages map[pagemanager.PageID]*pagemanager.Page
	modifiedPages map[pagemanager.PageID]*pagemanager.Page
	numberOfPages int

	numberOfReads      int64
	numberOfCacheHits  int64
	numberOfFileReads  int64
	numberOfFileWrites int64
	numberOfWrites     int64
}

// Create makes an empty store file. It does not open it.
func Create(name string) error {
	return flushmanager.CreateFile(name)
}

// Exists reports whether the store file is present.
func Exists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

// Delete removes the store file and its log. Missing files are ignored.
func Delete(name string) error {
	if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return flushmanager.NewError(flushmanager.KeyPageStoreDelete, flushmanager.ErrIO, err)
	}
	return wal.DeleteLog(name)
}

// Open opens an existing store file, checks its format version and applies any
// transaction log left behind by an interrupted commit.
func Open(name string, logger *zap.Logger) (*PageStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !Exists(name) {
		return nil, flushmanager.Errorf(flushmanager.KeyPageStoreOpen, flushmanager.ErrIO, "store file %s does not exist", name)
	}
	dm, err := flushmanager.OpenDiskManager(name)
	if err != nil {
		return nil, err
	}
	ps := &PageStore{
		name:          name,
		diskManager:   dm,
		logger:        logger.With(zap.String("store", name)),
		acquiredPages: make(map[pagemanager.PageID]*pagemanager.Page),
		modifiedPages: make(map[pagemanager.PageID]*pagemanager.Page),
	}
	if err := dm.CheckVersion(VersionArea, CurrentVersion, flushmanager.KeyPageStoreConversion); err != nil {
		_ = dm.Close()
		return nil, err
	}
	if ps.numberOfPages, err = dm.NumberOfPagesInFile(); err != nil {
		_ = dm.Close()
		return nil, err
	}
	if err := ps.recover(); err != nil {
		_ = dm.Close()
		return nil, err
	}
	return ps, nil
}

// recover replays a leftover log, flushes it and deletes it.
func (ps *PageStore) recover() error {
	if !wal.LogExists(ps.name) {
		return nil
	}
	pages, err := wal.GetModifiedPages(ps.name)
	if errors.Is(err, wal.ErrInvalidLog) {
		ps.logger.Warn("Discarding incomplete transaction log")
		return wal.DeleteLog(ps.name)
	}
	if err != nil {
		return err
	}
	for id, p := range pages {
		p.SetObserver(ps)
		ps.modifiedPages[id] = p
	}
	if err := ps.flush(); err != nil {
		return err
	}
	if err := ps.diskManager.Sync(); err != nil {
		return err
	}
	ps.logger.Info("Replayed transaction log", zap.Int("pages", len(pages)))
	return wal.DeleteLog(ps.name)
}

func (ps *PageStore) Name() string { return ps.name }

// Acquire returns page id with its reference count raised. The acquired set is
// consulted first, then the modified set, then the file.
func (ps *PageStore) Acquire(id pagemanager.PageID) (*pagemanager.Page, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.numberOfReads++
	if p, ok := ps.acquiredPages[id]; ok {
		ps.numberOfCacheHits++
		p.Pin()
		return p, nil
	}
	p, ok := ps.modifiedPages[id]
	if ok {
		ps.numberOfCacheHits++
	} else {
		var err error
		if p, err = ps.readPage(id); err != nil {
			return nil, err
		}
	}
	p.Pin()
	ps.acquiredPages[id] = p
	if int(id) >= ps.numberOfPages {
		ps.numberOfPages = int(id) + 1
	}
	return p, nil
}

func (ps *PageStore) readPage(id pagemanager.PageID) (*pagemanager.Page, error) {
	buf := make([]byte, pagemanager.PageSize)
	if err := ps.diskManager.ReadBuffer(flushmanager.PageOffset(id), buf); err != nil {
		return nil, err
	}
	ps.numberOfFileReads++
	p := pagemanager.NewPage(id, buf)
	p.SetObserver(ps)
	return p, nil
}

// Release drops one reference to p. At zero the page leaves the acquired set;
// a modified page stays reachable through the modified set.
func (ps *PageStore) Release(p *pagemanager.Page) {
	if p == nil {
		return
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()

	p.Unpin()
	if !p.IsPinned() && ps.acquiredPages[p.GetPageID()] == p {
		delete(ps.acquiredPages, p.GetPageID())
	}
}

// PageModified records p in the modified set. Pages call it from their
// mutators.
func (ps *PageStore) PageModified(p *pagemanager.Page) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.modifiedPages[p.GetPageID()] = p
	ps.numberOfWrites++
}

// Commit makes the modified set durable: write the log, apply the pages, sync,
// delete the log.
func (ps *PageStore) Commit() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.commitInternal()
}

func (ps *PageStore) commitInternal() error {
	if len(ps.modifiedPages) == 0 {
		return nil
	}
	if err := wal.PutModifiedPages(ps.name, ps.sortedModifiedPages()); err != nil {
		return err
	}
	n := len(ps.modifiedPages)
	if err := ps.flush(); err != nil {
		return err
	}
	if err := ps.diskManager.Sync(); err != nil {
		return err
	}
	if err := wal.DeleteLog(ps.name); err != nil {
		return err
	}
	ps.logger.Debug("Committed pages", zap.Int("pages", n))
	return nil
}

// flush writes every modified page to the file and empties the modified set.
func (ps *PageStore) flush() error {
	for _, p := range ps.sortedModifiedPages() {
		if err := ps.diskManager.WriteBuffer(flushmanager.PageOffset(p.GetPageID()), p.GetData()); err != nil {
			return err
		}
		ps.numberOfFileWrites++
		delete(ps.modifiedPages, p.GetPageID())
	}
	n, err := ps.diskManager.NumberOfPagesInFile()
	if err != nil {
		return err
	}
	if n > ps.numberOfPages {
		ps.numberOfPages = n
	}
	return nil
}

func (ps *PageStore) sortedModifiedPages() []*pagemanager.Page {
	pages := make([]*pagemanager.Page, 0, len(ps.modifiedPages))
	for _, p := range ps.modifiedPages {
		pages = append(pages, p)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].GetPageID() < pages[j].GetPageID() })
	return pages
}

// Rollback discards the modified set. Pages still acquired get their committed
// contents back so holders never see rolled-back bytes.
func (ps *PageStore) Rollback() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	buf := make([]byte, pagemanager.PageSize)
	for id := range ps.modifiedPages {
		if p, ok := ps.acquiredPages[id]; ok {
			if err := ps.diskManager.ReadBuffer(flushmanager.PageOffset(id), buf); err != nil {
				return err
			}
			ps.numberOfFileReads++
			p.Load(buf)
		}
	}
	clear(ps.modifiedPages)

	n, err := ps.diskManager.NumberOfPagesInFile()
	if err != nil {
		return err
	}
	for id := range ps.acquiredPages {
		if int(id) >= n {
			n = int(id) + 1
		}
	}
	ps.numberOfPages = n
	return nil
}

// WriteLog writes the current modified set to the log without applying it.
// Closing without commit afterwards leaves the store as a crash would.
func (ps *PageStore) WriteLog() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return wal.PutModifiedPages(ps.name, ps.sortedModifiedPages())
}

// Close commits pending changes and closes the file. The file is closed even
// when the commit fails.
func (ps *PageStore) Close() error {
	return ps.close(true)
}

// CloseWithoutCommit closes the file and drops the modified set.
func (ps *PageStore) CloseWithoutCommit() error {
	return ps.close(false)
}

func (ps *PageStore) close(commit bool) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	var commitErr error
	if commit {
		commitErr = ps.commitInternal()
	}
	clear(ps.acquiredPages)
	clear(ps.modifiedPages)
	closeErr := ps.diskManager.Close()
	if commitErr != nil {
		return commitErr
	}
	return closeErr
}

// NumberOfPages returns the number of pages the store knows of, on file or
// acquired.
func (ps *PageStore) NumberOfPages() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.numberOfPages
}

// Stats returns a snapshot of the counters.
func (ps *PageStore) Stats() Stats {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return Stats{
		Pages:      ps.numberOfPages,
		Reads:      ps.numberOfReads,
		CacheHits:  ps.numberOfCacheHits,
		FileReads:  ps.numberOfFileReads,
		FileWrites: ps.numberOfFileWrites,
		Writes:     ps.numberOfWrites,
	}
}

// ModifiedPageCount returns the size of the modified set.
func (ps *PageStore) ModifiedPageCount() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.modifiedPages)
}

// ReadMetadataArea returns metadata area i. Metadata is read and written
// directly, outside of transactions.
func (ps *PageStore) ReadMetadataArea(i int) ([]byte, error) {
	return ps.diskManager.ReadMetadataArea(i)
}

// WriteMetadataArea overwrites metadata area i immediately.
func (ps *PageStore) WriteMetadataArea(i int, buf []byte) error {
	return ps.diskManager.WriteMetadataArea(i, buf)
}

// CheckVersion validates the version number kept in metadata area i.
func (ps *PageStore) CheckVersion(i int, current uint32, conversionKey string) error {
	return ps.diskManager.CheckVersion(i, current, conversionKey)
}
