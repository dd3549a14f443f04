package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"os"

	flushmanager "github.com/sushant-115/gojostore/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojostore/core/write_engine/page_manager"
)

// logReader reads back the pages recorded by a logWriter.
type logReader struct {
	file *os.File
}

// openLogReader opens the log of storeName for reading.
func openLogReader(storeName string) (*logReader, error) {
	file, err := os.Open(LogName(storeName))
	if err != nil {
		return nil, flushmanager.NewError(flushmanager.KeyPageStoreLog, flushmanager.ErrIO, err)
	}
	return &logReader{file: file}, nil
}

// ModifiedPages returns the logged pages keyed by page number. When the file
// size is not exactly the header plus count records it returns ErrInvalidLog
// and no pages.
func (r *logReader) ModifiedPages() (map[pagemanager.PageID]*pagemanager.Page, error) {
	info, err := r.file.Stat()
	if err != nil {
		return nil, flushmanager.NewError(flushmanager.KeyPageStoreLog, flushmanager.ErrIO, err)
	}
	size := info.Size()
	if size < 4 {
		return nil, ErrInvalidLog
	}

	br := bufio.NewReaderSize(r.file, recordSize)
	var header [4]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		return nil, flushmanager.NewError(flushmanager.KeyPageStoreLog, flushmanager.ErrIO, err)
	}
	count := int32(binary.BigEndian.Uint32(header[:]))
	if count < 0 || size-4 != int64(count)*recordSize {
		return nil, ErrInvalidLog
	}

	pages := make(map[pagemanager.PageID]*pagemanager.Page, count)
	buf := make([]byte, pagemanager.PageSize)
	for i := int32(0); i < count; i++ {
		if _, err := io.ReadFull(br, header[:]); err != nil {
			return nil, flushmanager.NewError(flushmanager.KeyPageStoreLog, flushmanager.ErrIO, err)
		}
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, flushmanager.NewError(flushmanager.KeyPageStoreLog, flushmanager.ErrIO, err)
		}
		id := pagemanager.PageID(binary.BigEndian.Uint32(header[:]))
		pages[id] = pagemanager.NewPage(id, buf)
	}
	return pages, nil
}

// Close closes the log file.
func (r *logReader) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// GetModifiedPages reads the log of storeName. A missing log yields an empty
// set; an incomplete one yields an empty set and ErrInvalidLog.
func GetModifiedPages(storeName string) (map[pagemanager.PageID]*pagemanager.Page, error) {
	r, err := openLogReader(storeName)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[pagemanager.PageID]*pagemanager.Page{}, nil
		}
		return nil, err
	}
	defer r.Close()

	pages, err := r.ModifiedPages()
	if err != nil {
		return map[pagemanager.PageID]*pagemanager.Page{}, err
	}
	return pages, nil
}
