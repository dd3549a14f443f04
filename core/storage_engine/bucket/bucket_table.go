// Package bucket keeps per-directory history tables: for every resource path
// a list of (UUID, timestamp) occurrences, loaded and saved as one flat file.
package bucket

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	flushmanager "github.com/sushant-115/gojostore/core/write_engine/flush_manager"
	"go.uber.org/zap"
)

const (
	// FileName is the name of the table file inside a bucket directory.
	FileName = ".bucket"

	version       byte = 1
	uuidLength         = 16
	timestampSize      = 8
	// DataLength is the encoded size of one occurrence.
	DataLength = uuidLength + timestampSize
)

// Visitor outcomes. STOP, RETURN and CONTINUE end or continue the scan;
// DELETE and UPDATE may be or-ed onto them and are mutually exclusive.
const (
	Continue = 0
	Stop     = 1
	Return   = 2
	Delete   = 0x100
	Update   = 0x200
)

// Visitor is called once per matching entry.
type Visitor interface {
	// NewBucket is called before the first entry of a non-empty table.
	NewBucket()
	Visit(e *Entry) int
}

// VisitorFunc adapts a function to Visitor.
type VisitorFunc func(e *Entry) int

func (f VisitorFunc) NewBucket()         {}
func (f VisitorFunc) Visit(e *Entry) int { return f(e) }

// Table is the in-memory form of one bucket file. It is not safe for
// concurrent use.
type Table struct {
	root       string
	location   string
	entries    map[string][][]byte
	needSaving bool
	logger     *zap.Logger
}

// NewTable returns an empty table whose buckets live under root. root itself
// is never deleted when buckets empty out.
func NewTable(root string, logger *zap.Logger) *Table {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Table{root: filepath.Clean(root), entries: make(map[string][][]byte), logger: logger}
}

// Occurrence encodes one history item.
func Occurrence(id uuid.UUID, timestamp int64) []byte {
	b := make([]byte, DataLength)
	copy(b, id[:])
	binary.LittleEndian.PutUint64(b[uuidLength:], uint64(timestamp))
	return b
}

// Location returns the directory of the loaded bucket, or "".
func (t *Table) Location() string {
	if t.location == "" {
		return ""
	}
	return filepath.Dir(t.location)
}

// Load switches the table to the bucket in dir. The previous bucket is saved
// first; loading the current directory again does nothing.
func (t *Table) Load(dir string) error {
	dir = filepath.Clean(dir)
	if t.location != "" && t.Location() == dir {
		return nil
	}
	if err := t.Save(); err != nil {
		return err
	}
	t.location = filepath.Join(dir, FileName)
	clear(t.entries)

	f, err := os.Open(t.location)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return flushmanager.NewError(flushmanager.KeyBucketLoad, flushmanager.ErrIO, err)
	}
	defer f.Close()
	if err := t.read(bufio.NewReaderSize(f, 8192)); err != nil {
		clear(t.entries)
		return err
	}
	t.logger.Debug("Loaded bucket", zap.String("location", t.location), zap.Int("entries", len(t.entries)))
	return nil
}

func (t *Table) read(r io.Reader) error {
	formatErr := func(cause error) error {
		return flushmanager.NewError(flushmanager.KeyBucketLoad, flushmanager.ErrStoreFormat, cause)
	}
	var v [1]byte
	if _, err := io.ReadFull(r, v[:]); err != nil {
		return formatErr(err)
	}
	if v[0] != version {
		return formatErr(fmt.Errorf("bucket version %d", v[0]))
	}
	var count int32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return formatErr(err)
	}
	if count < 0 {
		return formatErr(fmt.Errorf("negative entry count %d", count))
	}
	for i := int32(0); i < count; i++ {
		var keyLen uint16
		if err := binary.Read(r, binary.BigEndian, &keyLen); err != nil {
			return formatErr(err)
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(r, key); err != nil {
			return formatErr(err)
		}
		var n uint16
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return formatErr(err)
		}
		data := make([][]byte, n)
		for j := range data {
			data[j] = make([]byte, DataLength)
			if _, err := io.ReadFull(r, data[j]); err != nil {
				return formatErr(err)
			}
		}
		t.entries[string(key)] = data
	}
	return nil
}

// Save writes the table when it changed since the last load or save. An empty
// table removes its file and any directories left empty up to the root.
func (t *Table) Save() error {
	if !t.needSaving || t.location == "" {
		return nil
	}
	if len(t.entries) == 0 {
		t.needSaving = false
		t.deleteUpward(t.location)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(t.location), 0755); err != nil {
		return flushmanager.NewError(flushmanager.KeyBucketSave, flushmanager.ErrIO, err)
	}
	var buf bytes.Buffer
	buf.WriteByte(version)
	_ = binary.Write(&buf, binary.BigEndian, int32(len(t.entries)))
	for _, key := range t.sortedPaths() {
		data := t.entries[key]
		_ = binary.Write(&buf, binary.BigEndian, uint16(len(key)))
		buf.WriteString(key)
		_ = binary.Write(&buf, binary.BigEndian, uint16(len(data)))
		for _, d := range data {
			buf.Write(d)
		}
	}
	if err := os.WriteFile(t.location, buf.Bytes(), 0644); err != nil {
		return flushmanager.NewError(flushmanager.KeyBucketSave, flushmanager.ErrIO, err)
	}
	t.needSaving = false
	return nil
}

// deleteUpward removes p and then each parent that became empty, stopping at
// the root.
func (t *Table) deleteUpward(p string) {
	for p != t.root && p != filepath.Dir(p) {
		if err := os.Remove(p); err != nil {
			return
		}
		p = filepath.Dir(p)
	}
}

func (t *Table) sortedPaths() []string {
	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AddBlob records one occurrence for p. An occurrence with the same UUID is
// not added twice.
func (t *Table) AddBlob(p string, id uuid.UUID, timestamp int64) {
	existing, ok := t.entries[p]
	if !ok {
		t.entries[p] = [][]byte{Occurrence(id, timestamp)}
		t.needSaving = true
		return
	}
	if indexOf(existing, id[:]) >= 0 {
		return
	}
	existing = append(existing, Occurrence(id, timestamp))
	sortOccurrences(existing)
	t.entries[p] = existing
	t.needSaving = true
}

// AddBlobs merges the occurrences of e into the entry for e's path. New
// occurrences come before the existing ones.
func (t *Table) AddBlobs(e *Entry) {
	existing, ok := t.entries[e.path]
	if !ok {
		c := &Entry{data: cloneData(e.data)}
		c.compact()
		if !c.IsEmpty() {
			t.entries[e.path] = c.data
			t.needSaving = true
		}
		return
	}
	var added [][]byte
	for _, d := range e.data {
		if d != nil && indexOf(existing, d[:uuidLength]) < 0 {
			added = append(added, d)
		}
	}
	if len(added) == 0 {
		return
	}
	t.entries[e.path] = append(added, existing...)
	t.needSaving = true
}

// GetEntry returns the entry for p with its occurrences sorted most recent
// first. A path with no history yields an empty entry.
func (t *Table) GetEntry(p string) *Entry {
	existing, ok := t.entries[p]
	if !ok {
		return &Entry{path: p}
	}
	sortOccurrences(existing)
	return &Entry{path: p, data: cloneData(existing)}
}

// Accept runs visitor over every entry whose path lies under filter (or
// equals it when exactMatch is set). With sorted, entries are visited in path
// order and their occurrences most recent first. It returns Stop, Return or
// Continue, and always saves the table before returning.
func (t *Table) Accept(visitor Visitor, filter string, exactMatch, sorted bool) (outcome int, err error) {
	if len(t.entries) == 0 {
		return Continue, nil
	}
	defer func() {
		if serr := t.Save(); serr != nil && err == nil {
			err = serr
		}
	}()

	visitor.NewBucket()
	var paths []string
	if sorted {
		paths = t.sortedPaths()
	} else {
		paths = make([]string, 0, len(t.entries))
		for k := range t.entries {
			paths = append(paths, k)
		}
	}
	for _, p := range paths {
		data, ok := t.entries[p]
		if !ok || !isPrefixOf(filter, p) || (exactMatch && cleanPath(filter) != cleanPath(p)) {
			continue
		}
		if sorted {
			sortOccurrences(data)
		}
		e := &Entry{path: p, data: cloneData(data)}
		result := visitor.Visit(e)
		switch {
		case result&Update != 0:
			t.needSaving = true
			e.compact()
			if e.IsEmpty() {
				delete(t.entries, p)
			} else {
				t.entries[p] = e.data
			}
		case result&Delete != 0:
			t.needSaving = true
			delete(t.entries, p)
		}
		if result&Return != 0 {
			return Return, nil
		}
		if result&Stop != 0 {
			return Stop, nil
		}
	}
	return Continue, nil
}

func cloneData(data [][]byte) [][]byte {
	out := make([][]byte, len(data))
	copy(out, data)
	return out
}

func indexOf(data [][]byte, id []byte) int {
	for i, d := range data {
		if d != nil && bytes.Equal(d[:uuidLength], id[:uuidLength]) {
			return i
		}
	}
	return -1
}

// sortOccurrences orders occurrences newest first, breaking ties on the UUID
// bytes so the order is stable across saves.
func sortOccurrences(data [][]byte) {
	sort.SliceStable(data, func(i, j int) bool {
		ti, tj := timestampOf(data[i]), timestampOf(data[j])
		if ti != tj {
			return ti > tj
		}
		return bytes.Compare(data[i][:uuidLength], data[j][:uuidLength]) < 0
	})
}

func timestampOf(d []byte) int64 {
	return int64(binary.LittleEndian.Uint64(d[uuidLength:]))
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	return path.Clean("/" + p)
}

// isPrefixOf reports whether filter names p or one of its ancestors,
// comparing whole segments.
func isPrefixOf(filter, p string) bool {
	f, c := cleanPath(filter), cleanPath(p)
	if f == "/" || f == c {
		return true
	}
	return strings.HasPrefix(c, f+"/")
}
