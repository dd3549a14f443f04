package wal

import (
	"errors"
	"os"

	flushmanager "github.com/sushant-115/gojostore/core/write_engine/flush_manager"
)

// LogSuffix is appended to a store file name to get its transaction log.
const LogSuffix = ".log"

// ErrInvalidLog reports a log whose size does not match its record count.
// Such a log is discarded rather than replayed.
var ErrInvalidLog = errors.New("transaction log is incomplete")

// LogName returns the transaction log path for storeName.
func LogName(storeName string) string {
	return storeName + LogSuffix
}

// LogExists reports whether a transaction log is present for storeName.
func LogExists(storeName string) bool {
	_, err := os.Stat(LogName(storeName))
	return err == nil
}

// DeleteLog removes the transaction log of storeName. A missing log is not an
// error.
func DeleteLog(storeName string) error {
	if err := os.Remove(LogName(storeName)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return flushmanager.NewError(flushmanager.KeyPageStoreLog, flushmanager.ErrIO, err)
	}
	return nil
}

// CreateLog creates an empty transaction log, truncating any existing one.
func CreateLog(storeName string) error {
	file, err := os.OpenFile(LogName(storeName), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return flushmanager.NewError(flushmanager.KeyPageStoreLog, flushmanager.ErrIO, err)
	}
	if err := file.Close(); err != nil {
		return flushmanager.NewError(flushmanager.KeyPageStoreLog, flushmanager.ErrIO, err)
	}
	return nil
}
