package flushmanager

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	pagemanager "github.com/sushant-115/gojostore/core/write_engine/page_manager"
)

// --- Test Helpers ---

func setupDiskManager(t *testing.T) *DiskManager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.dat")
	require.NoError(t, CreateFile(path))
	dm, err := OpenDiskManager(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm.Close() })
	return dm
}

// --- Test Cases ---

func TestPageOffset(t *testing.T) {
	require.Equal(t, int64(1024), PageOffset(0))
	require.Equal(t, int64(3*8192+1024), PageOffset(3))
}

// TestDiskManager_ReadPastEndIsZero verifies that reads beyond the end of the
// file do not fail and return zeros even into a dirty buffer.
func TestDiskManager_ReadPastEndIsZero(t *testing.T) {
	dm := setupDiskManager(t)
	buf := []byte{1, 2, 3, 4}
	require.NoError(t, dm.ReadBuffer(PageOffset(10), buf))
	require.Equal(t, []byte{0, 0, 0, 0}, buf)
}

// TestDiskManager_WriteZeroFillsGap verifies that writing past the end of the
// file extends it with zeros.
func TestDiskManager_WriteZeroFillsGap(t *testing.T) {
	dm := setupDiskManager(t)
	page := make([]byte, pagemanager.PageSize)
	for i := range page {
		page[i] = 0xAB
	}
	require.NoError(t, dm.WriteBuffer(PageOffset(2), page))

	length, err := dm.Length()
	require.NoError(t, err)
	require.Equal(t, PageOffset(3), length)

	n, err := dm.NumberOfPagesInFile()
	require.NoError(t, err)
	require.Equal(t, 3, n)

	gap := make([]byte, pagemanager.PageSize)
	require.NoError(t, dm.ReadBuffer(PageOffset(1), gap))
	require.Equal(t, make([]byte, pagemanager.PageSize), gap)

	back := make([]byte, pagemanager.PageSize)
	require.NoError(t, dm.ReadBuffer(PageOffset(2), back))
	require.Equal(t, page, back)
}

// TestDiskManager_MetadataBounds verifies that bad metadata requests fail before
// touching the file.
func TestDiskManager_MetadataBounds(t *testing.T) {
	dm := setupDiskManager(t)

	_, err := dm.ReadMetadataArea(MetadataAreaCount)
	require.ErrorIs(t, err, ErrMetadataRequest)
	_, err = dm.ReadMetadataArea(-1)
	require.ErrorIs(t, err, ErrMetadataRequest)
	require.ErrorIs(t, dm.WriteMetadataArea(0, make([]byte, 10)), ErrMetadataRequest)

	length, err := dm.Length()
	require.NoError(t, err)
	require.Equal(t, int64(0), length, "rejected request must not extend the file")
}

func TestDiskManager_MetadataRoundTrip(t *testing.T) {
	dm := setupDiskManager(t)
	area := make([]byte, MetadataAreaSize)
	copy(area, "hello")
	require.NoError(t, dm.WriteMetadataArea(5, area))

	got, err := dm.ReadMetadataArea(5)
	require.NoError(t, err)
	require.Equal(t, area, got)

	other, err := dm.ReadMetadataArea(4)
	require.NoError(t, err)
	require.Equal(t, make([]byte, MetadataAreaSize), other)
}

// TestDiskManager_CheckVersion covers the new-file stamp, the accepted current
// version and the rejected foreign version.
func TestDiskManager_CheckVersion(t *testing.T) {
	dm := setupDiskManager(t)

	require.NoError(t, dm.CheckVersion(0, 1, KeyPageStoreConversion))
	area, err := dm.ReadMetadataArea(0)
	require.NoError(t, err)
	require.Equal(t, uint32(1), binary.BigEndian.Uint32(area))

	require.NoError(t, dm.CheckVersion(0, 1, KeyPageStoreConversion))

	binary.BigEndian.PutUint32(area, 7)
	require.NoError(t, dm.WriteMetadataArea(0, area))
	err = dm.CheckVersion(0, 1, KeyPageStoreConversion)
	require.ErrorIs(t, err, ErrConversionUnsupported)
	require.Equal(t, KeyPageStoreConversion, KeyOf(err))
}

func TestDiskManager_CloseTwice(t *testing.T) {
	dm := setupDiskManager(t)
	require.NoError(t, dm.Close())
	require.NoError(t, dm.Close())
	_, err := dm.Length()
	require.ErrorIs(t, err, ErrStoreClosed)
}

func TestOpenDiskManager_MissingFile(t *testing.T) {
	_, err := OpenDiskManager(filepath.Join(t.TempDir(), "missing"))
	require.ErrorIs(t, err, ErrIO)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestStoreError_Unwrap(t *testing.T) {
	err := NewError(KeyPageStoreRead, ErrIO, io.ErrUnexpectedEOF)
	require.ErrorIs(t, err, ErrIO)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.NotErrorIs(t, err, ErrObjectNotFound)
	require.Contains(t, err.Error(), KeyPageStoreRead)

	var se *StoreError
	require.True(t, errors.As(err, &se))
	require.Equal(t, KeyPageStoreRead, se.Key)
	require.Equal(t, "", KeyOf(io.EOF))
}
