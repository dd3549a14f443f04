package flushmanager

import (
	"errors"
	"fmt"
)

// --- Error Definitions ---

// Error kinds. Every failure surfaced by the store is a *StoreError whose Kind
// is one of these, so callers can branch with errors.Is.
var (
	ErrStoreFormat           = errors.New("store format error")
	ErrIO                    = errors.New("i/o error")
	ErrObjectNotFound        = errors.New("object not found")
	ErrSizeLimitExceeded     = errors.New("size limit exceeded")
	ErrStoreAlreadyOpen      = errors.New("store already open")
	ErrIndexExists           = errors.New("index already exists")
	ErrIndexNotFound         = errors.New("index not found")
	ErrConversionUnsupported = errors.New("store version conversion not supported")
	ErrStoreClosed           = errors.New("store is closed")
	ErrCursorNotPositioned   = errors.New("cursor is not positioned on an entry")
	ErrObjectInUse           = errors.New("object is still acquired")
	ErrObjectDetached        = errors.New("object was detached by a rollback")
	ErrObjectType            = errors.New("object has unexpected type")
	ErrMetadataRequest       = errors.New("invalid metadata area request")
)

// Message keys. They name the failing operation and are stable across
// releases so they can be matched in logs.
const (
	KeyPageStoreCreate       = "pageStore.createFailure"
	KeyPageStoreOpen         = "pageStore.openFailure"
	KeyPageStoreRead         = "pageStore.readFailure"
	KeyPageStoreWrite        = "pageStore.writeFailure"
	KeyPageStoreMetadata     = "pageStore.metadataRequestFailure"
	KeyPageStoreConversion   = "pageStore.conversionFailure"
	KeyPageStoreLog          = "pageStore.logFailure"
	KeyPageStoreClosed       = "pageStore.closed"
	KeyPageStoreDelete       = "pageStore.deleteFailure"
	KeyObjectStoreOpen       = "objectStore.openFailure"
	KeyObjectStoreNotFound   = "objectStore.objectNotFound"
	KeyObjectStoreSize       = "objectStore.objectSizeFailure"
	KeyObjectStoreInUse      = "objectStore.objectInUse"
	KeyObjectStoreDetached   = "objectStore.objectDetached"
	KeyObjectStoreType       = "objectStore.objectTypeFailure"
	KeyObjectStoreFormat     = "objectStore.pageFormatFailure"
	KeyObjectStoreConversion = "objectStore.conversionFailure"
	KeyIndexKeyLength        = "index.keyLengthFailure"
	KeyIndexValueLength      = "index.valueLengthFailure"
	KeyIndexNodeFormat       = "index.nodeFormatFailure"
	KeyCursorNotPositioned   = "indexCursor.notPositioned"
	KeyIndexedStoreOpen      = "indexedStore.openFailure"
	KeyIndexedStoreCreate    = "indexedStore.createFailure"
	KeyIndexedStoreClose     = "indexedStore.closeFailure"
	KeyIndexedStoreDelete    = "indexedStore.deleteFailure"
	KeyIndexedStoreAlready   = "indexedStore.alreadyOpen"
	KeyIndexedStoreContext   = "indexedStore.contextNotAvailable"
	KeyIndexedStoreNotFound  = "indexedStore.objectNotFound"
	KeyIndexedStoreObjLength = "indexedStore.objectLengthFailure"
	KeyIndexedStoreIndexHas  = "indexedStore.indexExists"
	KeyIndexedStoreNoIndex   = "indexedStore.indexNotFound"
	KeyIndexedStoreClosed    = "indexedStore.closed"
	KeyIndexedStoreConvert   = "indexedStore.conversionFailure"
	KeyBucketLoad            = "bucket.loadFailure"
	KeyBucketSave            = "bucket.saveFailure"
	KeyBackup                = "backup.failure"
)

// StoreError is the single error type of the store. Key is a message key,
// Kind the sentinel describing the class of failure, Err an optional cause.
type StoreError struct {
	Key  string
	Kind error
	Err  error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", e.Key, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Key, e.Kind)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *StoreError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// NewError builds a *StoreError.
func NewError(key string, kind error, cause error) error {
	return &StoreError{Key: key, Kind: kind, Err: cause}
}

// Errorf builds a *StoreError whose cause is a formatted message.
func Errorf(key string, kind error, format string, args ...any) error {
	return &StoreError{Key: key, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KeyOf returns the message key of err, or "" when err is not a *StoreError.
func KeyOf(err error) string {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Key
	}
	return ""
}
