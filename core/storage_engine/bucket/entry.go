package bucket

import (
	"github.com/google/uuid"
)

// Entry is the history of one path as handed to a Visitor. A visitor may
// delete single occurrences and return Update to have the change kept.
type Entry struct {
	path string
	data [][]byte
}

// NewEntry builds an entry from encoded occurrences, e.g. for AddBlobs.
func NewEntry(p string, data [][]byte) *Entry {
	return &Entry{path: p, data: data}
}

func (e *Entry) Path() string { return e.path }

// Occurrences returns how many occurrences the entry holds, deleted ones
// included until the entry is compacted.
func (e *Entry) Occurrences() int { return len(e.data) }

func (e *Entry) IsEmpty() bool { return len(e.data) == 0 }

// Data returns a copy of the occurrence list. The encoded items are shared.
func (e *Entry) Data() [][]byte { return cloneData(e.data) }

func (e *Entry) UUID(i int) uuid.UUID {
	var id uuid.UUID
	copy(id[:], e.data[i][:uuidLength])
	return id
}

func (e *Entry) Timestamp(i int) int64 { return timestampOf(e.data[i]) }

// DeleteOccurrence marks occurrence i deleted. Indexes of the others do not
// change until the entry is compacted.
func (e *Entry) DeleteOccurrence(i int) { e.data[i] = nil }

// IsDeleted reports whether occurrence i was deleted.
func (e *Entry) IsDeleted(i int) bool { return e.data[i] == nil }

func (e *Entry) compact() {
	kept := e.data[:0]
	for _, d := range e.data {
		if d != nil {
			kept = append(kept, d)
		}
	}
	if len(kept) == 0 {
		e.data = nil
		return
	}
	e.data = kept
}
