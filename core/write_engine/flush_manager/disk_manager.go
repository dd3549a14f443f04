package flushmanager

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
	"sync"

	pagemanager "github.com/sushant-115/gojostore/core/write_engine/page_manager"
)

// --- DiskManager ---

const (
	// MetadataAreaSize is the size of one metadata area in the file header.
	MetadataAreaSize = 64
	// MetadataAreaCount is the number of metadata areas in the file header.
	MetadataAreaCount = 16
	// HeaderSize is the number of bytes in front of page 0.
	HeaderSize = MetadataAreaSize * MetadataAreaCount
)

// DiskManager performs positioned I/O against a store file. Offsets past the
// end of the file read as zeros, and writes past the end zero-fill the gap
// first.
type DiskManager struct {
	file *os.File
	mu   sync.Mutex
}

// OpenDiskManager opens filePath for reading and writing. The file must exist.
func OpenDiskManager(filePath string) (*DiskManager, error) {
	file, err := os.OpenFile(filePath, os.O_RDWR, 0)
	if err != nil {
		return nil, NewError(KeyPageStoreOpen, ErrIO, err)
	}
	return &DiskManager{file: file}, nil
}

// CreateFile creates an empty store file. An existing file is left as is.
func CreateFile(filePath string) error {
	file, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return NewError(KeyPageStoreCreate, ErrIO, err)
	}
	if err := file.Close(); err != nil {
		return NewError(KeyPageStoreCreate, ErrIO, err)
	}
	return nil
}

// PageOffset returns the file offset of page id.
func PageOffset(id pagemanager.PageID) int64 {
	return int64(id)*pagemanager.PageSize + HeaderSize
}

// MetadataOffset returns the file offset of metadata area i, validating the
// request before any I/O happens.
func MetadataOffset(i int, length int) (int64, error) {
	if i < 0 || i >= MetadataAreaCount {
		return 0, Errorf(KeyPageStoreMetadata, ErrMetadataRequest, "area %d out of range [0,%d)", i, MetadataAreaCount)
	}
	if length != MetadataAreaSize {
		return 0, Errorf(KeyPageStoreMetadata, ErrMetadataRequest, "buffer length %d, want %d", length, MetadataAreaSize)
	}
	return int64(i) * MetadataAreaSize, nil
}

// Length returns the current file size.
func (dm *DiskManager) Length() (int64, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.lengthInternal()
}

func (dm *DiskManager) lengthInternal() (int64, error) {
	if dm.file == nil {
		return 0, NewError(KeyPageStoreClosed, ErrStoreClosed, nil)
	}
	info, err := dm.file.Stat()
	if err != nil {
		return 0, NewError(KeyPageStoreRead, ErrIO, err)
	}
	return info.Size(), nil
}

// NumberOfPagesInFile returns how many complete pages follow the header.
func (dm *DiskManager) NumberOfPagesInFile() (int, error) {
	length, err := dm.Length()
	if err != nil {
		return 0, err
	}
	if length <= HeaderSize {
		return 0, nil
	}
	return int((length - HeaderSize) / pagemanager.PageSize), nil
}

// ReadBuffer fills buf from offset. Bytes beyond the end of the file are
// returned as zeros.
func (dm *DiskManager) ReadBuffer(offset int64, buf []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	length, err := dm.lengthInternal()
	if err != nil {
		return err
	}
	clear(buf)
	if offset >= length {
		return nil
	}
	n := int64(len(buf))
	if offset+n > length {
		n = length - offset
	}
	if _, err := dm.file.ReadAt(buf[:n], offset); err != nil && !errors.Is(err, io.EOF) {
		return NewError(KeyPageStoreRead, ErrIO, err)
	}
	return nil
}

// WriteBuffer writes buf at offset, zero-extending the file up to offset first.
func (dm *DiskManager) WriteBuffer(offset int64, buf []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if err := dm.clearFileToOffset(offset); err != nil {
		return err
	}
	if _, err := dm.file.WriteAt(buf, offset); err != nil {
		return NewError(KeyPageStoreWrite, ErrIO, err)
	}
	return nil
}

// clearFileToOffset appends zeros until the file is at least offset bytes long.
func (dm *DiskManager) clearFileToOffset(offset int64) error {
	length, err := dm.lengthInternal()
	if err != nil {
		return err
	}
	zeros := make([]byte, pagemanager.PageSize)
	for length < offset {
		n := offset - length
		if n > int64(len(zeros)) {
			n = int64(len(zeros))
		}
		if _, err := dm.file.WriteAt(zeros[:n], length); err != nil {
			return NewError(KeyPageStoreWrite, ErrIO, err)
		}
		length += n
	}
	return nil
}

// ReadMetadataArea returns a copy of metadata area i.
func (dm *DiskManager) ReadMetadataArea(i int) ([]byte, error) {
	offset, err := MetadataOffset(i, MetadataAreaSize)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, MetadataAreaSize)
	if err := dm.ReadBuffer(offset, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteMetadataArea overwrites metadata area i. buf must be exactly
// MetadataAreaSize bytes.
func (dm *DiskManager) WriteMetadataArea(i int, buf []byte) error {
	offset, err := MetadataOffset(i, len(buf))
	if err != nil {
		return err
	}
	return dm.WriteBuffer(offset, buf)
}

// CheckVersion validates the version stored in the first four bytes of
// metadata area i. Zero means a new file and is stamped with current; any
// other value than current cannot be converted.
func (dm *DiskManager) CheckVersion(i int, current uint32, conversionKey string) error {
	area, err := dm.ReadMetadataArea(i)
	if err != nil {
		return err
	}
	version := binary.BigEndian.Uint32(area)
	switch version {
	case current:
		return nil
	case 0:
		binary.BigEndian.PutUint32(area, current)
		return dm.WriteMetadataArea(i, area)
	default:
		return Errorf(conversionKey, ErrConversionUnsupported, "found version %d, want %d", version, current)
	}
}

// Sync flushes the file to stable storage.
func (dm *DiskManager) Sync() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return NewError(KeyPageStoreClosed, ErrStoreClosed, nil)
	}
	if err := dm.file.Sync(); err != nil {
		return NewError(KeyPageStoreWrite, ErrIO, err)
	}
	return nil
}

// Close syncs and closes the file. Calling Close twice is a no-op.
func (dm *DiskManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return nil
	}
	syncErr := dm.file.Sync()
	closeErr := dm.file.Close()
	dm.file = nil
	if syncErr != nil {
		return NewError(KeyPageStoreWrite, ErrIO, syncErr)
	}
	if closeErr != nil {
		return NewError(KeyPageStoreWrite, ErrIO, closeErr)
	}
	return nil
}
