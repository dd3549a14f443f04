package wal

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	pagemanager "github.com/sushant-115/gojostore/core/write_engine/page_manager"
)

// --- Test Helpers ---

func storeName(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "store.dat")
}

func filledPage(id pagemanager.PageID, b byte) *pagemanager.Page {
	p := pagemanager.NewPage(id, nil)
	p.Fill(b)
	return p
}

// --- Test Cases ---

func TestLog_NameExistsDelete(t *testing.T) {
	name := storeName(t)
	require.Equal(t, name+".log", LogName(name))
	require.False(t, LogExists(name))

	require.NoError(t, CreateLog(name))
	require.True(t, LogExists(name))

	require.NoError(t, DeleteLog(name))
	require.False(t, LogExists(name))
	require.NoError(t, DeleteLog(name), "deleting a missing log is fine")
}

// TestLog_WriteReadBack writes pages out of order and verifies the exact file
// size, the ascending record order and the recovered contents.
func TestLog_WriteReadBack(t *testing.T) {
	name := storeName(t)
	pages := []*pagemanager.Page{filledPage(9, 0x09), filledPage(2, 0x02), filledPage(5, 0x05)}
	require.NoError(t, PutModifiedPages(name, pages))

	raw, err := os.ReadFile(LogName(name))
	require.NoError(t, err)
	require.Len(t, raw, 4+3*(4+pagemanager.PageSize))
	require.Equal(t, uint32(3), binary.BigEndian.Uint32(raw))
	require.Equal(t, uint32(2), binary.BigEndian.Uint32(raw[4:]))
	require.Equal(t, uint32(5), binary.BigEndian.Uint32(raw[4+recordSize:]))
	require.Equal(t, uint32(9), binary.BigEndian.Uint32(raw[4+2*recordSize:]))

	got, err := GetModifiedPages(name)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for _, p := range pages {
		require.Equal(t, p.GetData(), got[p.GetPageID()].GetData())
	}
}

func TestLog_MissingLogIsEmpty(t *testing.T) {
	got, err := GetModifiedPages(storeName(t))
	require.NoError(t, err)
	require.Empty(t, got)
}

// TestLog_TruncatedLogIsDiscarded verifies the exact-size rule: a log whose
// length does not match its count is treated as having no records.
func TestLog_TruncatedLogIsDiscarded(t *testing.T) {
	name := storeName(t)
	require.NoError(t, PutModifiedPages(name, []*pagemanager.Page{filledPage(1, 1), filledPage(2, 2)}))

	raw, err := os.ReadFile(LogName(name))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(LogName(name), raw[:len(raw)-1], 0666))

	got, err := GetModifiedPages(name)
	require.ErrorIs(t, err, ErrInvalidLog)
	require.Empty(t, got)
}

func TestLog_TrailingBytesDiscarded(t *testing.T) {
	name := storeName(t)
	require.NoError(t, PutModifiedPages(name, []*pagemanager.Page{filledPage(1, 1)}))

	f, err := os.OpenFile(LogName(name), os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte{0xFF})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := GetModifiedPages(name)
	require.ErrorIs(t, err, ErrInvalidLog)
	require.Empty(t, got)
}

func TestLog_ShortHeaderDiscarded(t *testing.T) {
	name := storeName(t)
	require.NoError(t, os.WriteFile(LogName(name), []byte{0, 0}, 0666))
	got, err := GetModifiedPages(name)
	require.ErrorIs(t, err, ErrInvalidLog)
	require.Empty(t, got)
}

func TestLog_EmptySetRoundTrip(t *testing.T) {
	name := storeName(t)
	require.NoError(t, PutModifiedPages(name, nil))
	got, err := GetModifiedPages(name)
	require.NoError(t, err)
	require.Empty(t, got)
}
