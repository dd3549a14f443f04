package pagestore

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	flushmanager "github.com/sushant-115/gojostore/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojostore/core/write_engine/page_manager"
	"github.com/sushant-115/gojostore/core/write_engine/wal"
	"go.uber.org/zap/zaptest"
)

// --- Test Helpers ---

func setupPageStore(t *testing.T) (*PageStore, string) {
	t.Helper()
	name := filepath.Join(t.TempDir(), "pages.dat")
	require.NoError(t, Create(name))
	ps, err := Open(name, zaptest.NewLogger(t))
	require.NoError(t, err)
	return ps, name
}

func reopen(t *testing.T, name string) *PageStore {
	t.Helper()
	ps, err := Open(name, zaptest.NewLogger(t))
	require.NoError(t, err)
	return ps
}

// populate fills pages [0,n) with their own page number as the byte value.
func populate(t *testing.T, ps *PageStore, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		p, err := ps.Acquire(pagemanager.PageID(i))
		require.NoError(t, err)
		p.Fill(byte(i))
		ps.Release(p)
	}
}

func requireContents(t *testing.T, ps *PageStore, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		p, err := ps.Acquire(pagemanager.PageID(i))
		require.NoError(t, err)
		for _, b := range p.GetData() {
			if b != byte(i) {
				require.Failf(t, "page contents", "page %d holds %d", i, b)
			}
		}
		ps.Release(p)
	}
}

// --- Test Cases ---

// TestPageStore_PopulateCommitReopen writes 256 pages, commits, reopens and
// checks the page count and every page's contents.
func TestPageStore_PopulateCommitReopen(t *testing.T) {
	ps, name := setupPageStore(t)
	populate(t, ps, 256)
	require.NoError(t, ps.Commit())
	require.NoError(t, ps.Close())

	info, err := os.Stat(name)
	require.NoError(t, err)
	require.Equal(t, int64(256*pagemanager.PageSize+flushmanager.HeaderSize), info.Size())

	ps = reopen(t, name)
	defer ps.Close()
	require.Equal(t, 256, ps.NumberOfPages())
	requireContents(t, ps, 256)
}

// TestPageStore_CacheCounters verifies that every acquire is either a cache hit
// or a file read.
func TestPageStore_CacheCounters(t *testing.T) {
	ps, _ := setupPageStore(t)
	defer ps.Close()

	p, err := ps.Acquire(3)
	require.NoError(t, err)
	again, err := ps.Acquire(3)
	require.NoError(t, err)
	require.Same(t, p, again)
	require.Equal(t, uint32(2), p.GetPinCount())

	p.PutUint32(0, 42)
	ps.Release(p)
	ps.Release(again)

	// Released but modified, so the page is served from the modified set.
	p, err = ps.Acquire(3)
	require.NoError(t, err)
	require.Equal(t, uint32(42), p.Uint32(0))
	ps.Release(p)

	_, err = ps.Acquire(4)
	require.NoError(t, err)

	st := ps.Stats()
	require.Equal(t, int64(4), st.Reads)
	require.Equal(t, int64(2), st.CacheHits)
	require.Equal(t, int64(2), st.FileReads)
	require.Equal(t, st.Reads, st.CacheHits+st.FileReads)
	require.Equal(t, int64(1), st.Writes)
	require.Equal(t, 5, st.Pages)
}

// TestPageStore_PartialReleaseKeepsPageResident verifies that a clean page
// stays cached while any reference to it remains.
func TestPageStore_PartialReleaseKeepsPageResident(t *testing.T) {
	ps, _ := setupPageStore(t)
	defer ps.Close()

	p, err := ps.Acquire(5)
	require.NoError(t, err)
	second, err := ps.Acquire(5)
	require.NoError(t, err)
	require.Equal(t, int64(1), ps.Stats().FileReads)

	ps.Release(p)
	require.Equal(t, uint32(1), second.GetPinCount())

	third, err := ps.Acquire(5)
	require.NoError(t, err)
	require.Same(t, second, third)
	require.Equal(t, uint32(2), third.GetPinCount())

	st := ps.Stats()
	require.Equal(t, int64(1), st.FileReads, "no re-read while a reference is held")
	require.Equal(t, int64(2), st.CacheHits)
	require.Equal(t, int64(3), st.Reads)
	ps.Release(second)
	ps.Release(third)
}

// TestPageStore_ReleaseKeepsUnmodifiedOut verifies that a clean page leaves the
// cache entirely at zero references.
func TestPageStore_ReleaseKeepsUnmodifiedOut(t *testing.T) {
	ps, _ := setupPageStore(t)
	defer ps.Close()

	p, err := ps.Acquire(1)
	require.NoError(t, err)
	ps.Release(p)

	q, err := ps.Acquire(1)
	require.NoError(t, err)
	require.NotSame(t, p, q)
	require.Equal(t, int64(2), ps.Stats().FileReads)
	ps.Release(q)
}

// TestPageStore_Rollback verifies that uncommitted changes vanish, including
// from a page that is still acquired.
func TestPageStore_Rollback(t *testing.T) {
	ps, name := setupPageStore(t)
	populate(t, ps, 4)
	require.NoError(t, ps.Commit())

	held, err := ps.Acquire(2)
	require.NoError(t, err)
	held.Fill(0xEE)
	other, err := ps.Acquire(3)
	require.NoError(t, err)
	other.Fill(0xEE)
	ps.Release(other)
	require.Equal(t, 2, ps.ModifiedPageCount())

	require.NoError(t, ps.Rollback())
	require.Equal(t, 0, ps.ModifiedPageCount())
	require.Equal(t, byte(2), held.GetData()[100])
	ps.Release(held)

	requireContents(t, ps, 4)
	require.NoError(t, ps.Close())

	ps = reopen(t, name)
	defer ps.Close()
	requireContents(t, ps, 4)
}

func TestPageStore_RollbackResetsPageCount(t *testing.T) {
	ps, _ := setupPageStore(t)
	defer ps.Close()
	populate(t, ps, 2)
	require.NoError(t, ps.Commit())

	p, err := ps.Acquire(10)
	require.NoError(t, err)
	p.Fill(1)
	ps.Release(p)
	require.Equal(t, 11, ps.NumberOfPages())

	require.NoError(t, ps.Rollback())
	require.Equal(t, 2, ps.NumberOfPages())
}

// TestPageStore_LogReadBack writes the log of a populated store and compares it
// with the in-memory pages.
func TestPageStore_LogReadBack(t *testing.T) {
	ps, name := setupPageStore(t)
	defer ps.Close()
	populate(t, ps, 16)
	require.NoError(t, ps.WriteLog())

	logged, err := wal.GetModifiedPages(name)
	require.NoError(t, err)
	require.Len(t, logged, 16)
	for id, p := range logged {
		require.Equal(t, byte(id), p.GetData()[0])
		require.Equal(t, byte(id), p.GetData()[pagemanager.PageSize-1])
	}
}

// TestPageStore_LogReplayOnOpen simulates a crash after the log was written:
// the store is closed without commit and reopening must apply the log.
func TestPageStore_LogReplayOnOpen(t *testing.T) {
	ps, name := setupPageStore(t)
	populate(t, ps, 32)
	require.NoError(t, ps.WriteLog())
	require.NoError(t, ps.CloseWithoutCommit())
	require.True(t, wal.LogExists(name))

	ps = reopen(t, name)
	defer ps.Close()
	require.False(t, wal.LogExists(name), "log is deleted after replay")
	require.Equal(t, 32, ps.NumberOfPages())
	requireContents(t, ps, 32)
}

// TestPageStore_CloseWithoutCommitDiscards verifies that without a log nothing
// of the uncommitted transaction survives.
func TestPageStore_CloseWithoutCommitDiscards(t *testing.T) {
	ps, name := setupPageStore(t)
	populate(t, ps, 3)
	require.NoError(t, ps.CloseWithoutCommit())

	ps = reopen(t, name)
	defer ps.Close()
	require.Equal(t, 0, ps.NumberOfPages())
}

// TestPageStore_IncompleteLogIgnored verifies that a truncated log is dropped
// and the committed state stays intact.
func TestPageStore_IncompleteLogIgnored(t *testing.T) {
	ps, name := setupPageStore(t)
	populate(t, ps, 2)
	require.NoError(t, ps.Commit())

	p, err := ps.Acquire(0)
	require.NoError(t, err)
	p.Fill(0x77)
	ps.Release(p)
	require.NoError(t, ps.WriteLog())
	require.NoError(t, ps.CloseWithoutCommit())

	raw, err := os.ReadFile(wal.LogName(name))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(wal.LogName(name), raw[:len(raw)/2], 0666))

	ps = reopen(t, name)
	defer ps.Close()
	require.False(t, wal.LogExists(name))
	requireContents(t, ps, 2)
}

func TestPageStore_CloseCommits(t *testing.T) {
	ps, name := setupPageStore(t)
	populate(t, ps, 5)
	require.NoError(t, ps.Close())

	ps = reopen(t, name)
	defer ps.Close()
	requireContents(t, ps, 5)
}

func TestPageStore_VersionCheck(t *testing.T) {
	ps, name := setupPageStore(t)
	area, err := ps.ReadMetadataArea(VersionArea)
	require.NoError(t, err)
	require.Equal(t, uint32(CurrentVersion), binary.BigEndian.Uint32(area))

	binary.BigEndian.PutUint32(area, 99)
	require.NoError(t, ps.WriteMetadataArea(VersionArea, area))
	require.NoError(t, ps.Close())

	_, err = Open(name, zaptest.NewLogger(t))
	require.ErrorIs(t, err, flushmanager.ErrConversionUnsupported)
	require.Equal(t, flushmanager.KeyPageStoreConversion, flushmanager.KeyOf(err))
}

func TestPageStore_MetadataOutsideTransactions(t *testing.T) {
	ps, name := setupPageStore(t)
	area := make([]byte, flushmanager.MetadataAreaSize)
	area[0] = 0x5A
	require.NoError(t, ps.WriteMetadataArea(7, area))
	require.NoError(t, ps.Rollback())
	require.NoError(t, ps.CloseWithoutCommit())

	ps = reopen(t, name)
	defer ps.Close()
	got, err := ps.ReadMetadataArea(7)
	require.NoError(t, err)
	require.Equal(t, area, got)

	_, err = ps.ReadMetadataArea(16)
	require.ErrorIs(t, err, flushmanager.ErrMetadataRequest)
}

func TestPageStore_OpenMissingAndDelete(t *testing.T) {
	name := filepath.Join(t.TempDir(), "missing.dat")
	require.False(t, Exists(name))
	_, err := Open(name, nil)
	require.ErrorIs(t, err, flushmanager.ErrIO)

	require.NoError(t, Create(name))
	require.True(t, Exists(name))
	require.NoError(t, wal.CreateLog(name))
	require.NoError(t, Delete(name))
	require.False(t, Exists(name))
	require.False(t, wal.LogExists(name))
}
