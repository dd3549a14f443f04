package wal

import (
	"bufio"
	"encoding/binary"
	"os"
	"sort"

	flushmanager "github.com/sushant-115/gojostore/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojostore/core/write_engine/page_manager"
)

// recordSize is the on-disk size of one logged page: page number then contents.
const recordSize = 4 + pagemanager.PageSize

// logWriter writes the modified-page set of a transaction to the store's log.
//
// Layout (all integers big-endian):
//
//	int32 count
//	count * { int32 pageNumber, PageSize bytes }
type logWriter struct {
	file *os.File
}

// openLogWriter creates (or truncates) the log of storeName for writing.
func openLogWriter(storeName string) (*logWriter, error) {
	file, err := os.OpenFile(LogName(storeName), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return nil, flushmanager.NewError(flushmanager.KeyPageStoreLog, flushmanager.ErrIO, err)
	}
	return &logWriter{file: file}, nil
}

// PutModifiedPages writes pages in ascending page-number order and syncs the
// log before returning.
func (w *logWriter) PutModifiedPages(pages []*pagemanager.Page) error {
	sorted := make([]*pagemanager.Page, len(pages))
	copy(sorted, pages)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].GetPageID() < sorted[j].GetPageID() })

	bw := bufio.NewWriterSize(w.file, recordSize)
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(sorted)))
	if _, err := bw.Write(header[:]); err != nil {
		return flushmanager.NewError(flushmanager.KeyPageStoreLog, flushmanager.ErrIO, err)
	}
	for _, p := range sorted {
		binary.BigEndian.PutUint32(header[:], uint32(p.GetPageID()))
		if _, err := bw.Write(header[:]); err != nil {
			return flushmanager.NewError(flushmanager.KeyPageStoreLog, flushmanager.ErrIO, err)
		}
		if _, err := bw.Write(p.GetData()); err != nil {
			return flushmanager.NewError(flushmanager.KeyPageStoreLog, flushmanager.ErrIO, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return flushmanager.NewError(flushmanager.KeyPageStoreLog, flushmanager.ErrIO, err)
	}
	if err := w.file.Sync(); err != nil {
		return flushmanager.NewError(flushmanager.KeyPageStoreLog, flushmanager.ErrIO, err)
	}
	return nil
}

// Close closes the log file.
func (w *logWriter) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	if err != nil {
		return flushmanager.NewError(flushmanager.KeyPageStoreLog, flushmanager.ErrIO, err)
	}
	return nil
}

// PutModifiedPages writes a complete log for storeName in one call.
func PutModifiedPages(storeName string, pages []*pagemanager.Page) error {
	w, err := openLogWriter(storeName)
	if err != nil {
		return err
	}
	if err := w.PutModifiedPages(pages); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}
