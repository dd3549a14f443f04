package pagemanager

import (
	"encoding/binary"
)

// --- Page Management ---

// PageSize is the fixed size of every page in a store file.
const PageSize = 8192

// PageID represents a page number inside a store file. Page N lives at
// file offset N*PageSize + the metadata header size.
type PageID uint32

// Observer is told about every change made to a page's bytes. The page
// store uses it to move the page into its modified set.
type Observer interface {
	PageModified(p *Page)
}

// Page represents an in-memory copy of a disk page.
//
// All writes go through the mutator methods below, each of which notifies the
// observer after the bytes change. Callers that need raw access for writing use
// Mutate so the notification is not forgotten.
type Page struct {
	id       PageID
	data     []byte
	pinCount uint32
	observer Observer
}

// NewPage creates a new Page instance holding a copy of contents. A nil or
// short contents slice leaves the remainder zeroed.
func NewPage(id PageID, contents []byte) *Page {
	p := &Page{
		id:   id,
		data: make([]byte, PageSize),
	}
	copy(p.data, contents)
	return p
}

func (p *Page) GetPageID() PageID      { return p.id }
func (p *Page) SetObserver(o Observer) { p.observer = o }
func (p *Page) Pin()                   { p.pinCount++ }
func (p *Page) Unpin() {
	if p.pinCount > 0 {
		p.pinCount--
	}
}
func (p *Page) GetPinCount() uint32 { return p.pinCount }
func (p *Page) IsPinned() bool      { return p.pinCount > 0 }

// GetData returns the page buffer. It must be treated as read-only; use the
// mutators to change it.
func (p *Page) GetData() []byte { return p.data }

// Load replaces the page contents without notifying the observer. It is used
// by the page store when filling a page from disk or from the log.
func (p *Page) Load(contents []byte) {
	n := copy(p.data, contents)
	clear(p.data[n:])
}

// --- Readers ---

// Get returns a copy of n bytes at offset.
func (p *Page) Get(offset, n int) []byte {
	b := make([]byte, n)
	copy(b, p.data[offset:offset+n])
	return b
}

func (p *Page) Uint16(offset int) uint16 { return binary.BigEndian.Uint16(p.data[offset:]) }
func (p *Page) Uint32(offset int) uint32 { return binary.BigEndian.Uint32(p.data[offset:]) }

// --- Mutators ---

// Put copies b into the page at offset.
func (p *Page) Put(offset int, b []byte) {
	copy(p.data[offset:offset+len(b)], b)
	p.modified()
}

func (p *Page) PutUint16(offset int, v uint16) {
	binary.BigEndian.PutUint16(p.data[offset:], v)
	p.modified()
}

func (p *Page) PutUint32(offset int, v uint32) {
	binary.BigEndian.PutUint32(p.data[offset:], v)
	p.modified()
}

// Fill sets every byte of the page to b.
func (p *Page) Fill(b byte) {
	for i := range p.data {
		p.data[i] = b
	}
	p.modified()
}

// Clear zeroes n bytes starting at offset.
func (p *Page) Clear(offset, n int) {
	clear(p.data[offset : offset+n])
	p.modified()
}

// Mutate hands the raw buffer to fn and marks the page modified afterwards.
func (p *Page) Mutate(fn func(data []byte)) {
	fn(p.data)
	p.modified()
}

func (p *Page) modified() {
	if p.observer != nil {
		p.observer.PageModified(p)
	}
}
