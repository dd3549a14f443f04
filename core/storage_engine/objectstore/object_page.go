package objectstore

import (
	"encoding/binary"

	pagemanager "github.com/sushant-115/gojostore/core/write_engine/page_manager"
)

// Object page layout (big-endian):
//
//	[0:2]  slot count
//	[2:4]  start of the record area (0 on a fresh page means PageSize)
//	[4:8]  reserved
//	[8:]   slot directory, 4 bytes per slot: record offset, record length
//
// Records grow down from the end of the page. A slot with length 0 is a
// tombstone and may be reused by a later insert.
const (
	pageHeaderSize = 8
	slotSize       = 4

	offSlotCount    = 0
	offFreeSpaceEnd = 2

	// MaxRecordSize is the largest record one page can hold.
	MaxRecordSize = pagemanager.PageSize - pageHeaderSize - slotSize
)

type objectPage struct {
	page *pagemanager.Page
}

func (op objectPage) slotCount() int { return int(op.page.Uint16(offSlotCount)) }

func (op objectPage) freeSpaceEnd() int {
	v := int(op.page.Uint16(offFreeSpaceEnd))
	if v == 0 {
		return pagemanager.PageSize
	}
	return v
}

func (op objectPage) slot(i int) (offset, length int) {
	base := pageHeaderSize + i*slotSize
	return int(op.page.Uint16(base)), int(op.page.Uint16(base + 2))
}

func (op objectPage) setSlot(i, offset, length int) {
	base := pageHeaderSize + i*slotSize
	op.page.PutUint16(base, uint16(offset))
	op.page.PutUint16(base+2, uint16(length))
}

// used is the number of bytes taken by the header, the slot directory and
// live records.
func (op objectPage) used() int {
	n := op.slotCount()
	total := pageHeaderSize + n*slotSize
	for i := 0; i < n; i++ {
		_, length := op.slot(i)
		total += length
	}
	return total
}

func (op objectPage) contiguousFree() int {
	return op.freeSpaceEnd() - pageHeaderSize - op.slotCount()*slotSize
}

// record returns a copy of the record in slot i.
func (op objectPage) record(i int) ([]byte, bool) {
	if i < 0 || i >= op.slotCount() {
		return nil, false
	}
	offset, length := op.slot(i)
	if length == 0 {
		return nil, false
	}
	return op.page.Get(offset, length), true
}

// insert stores rec in the first free slot and returns that slot.
func (op objectPage) insert(rec []byte) (int, bool) {
	n := op.slotCount()
	slot := n
	for i := 0; i < n; i++ {
		if _, length := op.slot(i); length == 0 {
			slot = i
			break
		}
	}
	need := len(rec)
	if slot == n {
		need += slotSize
	}
	if pagemanager.PageSize-op.used() < need {
		return 0, false
	}
	if op.contiguousFree() < need {
		op.compact()
	}
	offset := op.freeSpaceEnd() - len(rec)
	op.page.Put(offset, rec)
	if slot == n {
		op.page.PutUint16(offSlotCount, uint16(n+1))
	}
	op.setSlot(slot, offset, len(rec))
	op.page.PutUint16(offFreeSpaceEnd, uint16(offset))
	return slot, true
}

// update replaces the record in slot i, relocating it inside the page when it
// grows.
func (op objectPage) update(i int, rec []byte) bool {
	offset, length := op.slot(i)
	if len(rec) <= length {
		op.page.Put(offset, rec)
		op.setSlot(i, offset, len(rec))
		return true
	}
	if pagemanager.PageSize-op.used()+length < len(rec) {
		return false
	}
	op.setSlot(i, 0, 0)
	if op.contiguousFree() < len(rec) {
		op.compact()
	}
	offset = op.freeSpaceEnd() - len(rec)
	op.page.Put(offset, rec)
	op.setSlot(i, offset, len(rec))
	op.page.PutUint16(offFreeSpaceEnd, uint16(offset))
	return true
}

// remove turns slot i into a tombstone and drops trailing tombstones.
func (op objectPage) remove(i int) {
	op.setSlot(i, 0, 0)
	n := op.slotCount()
	for n > 0 {
		if _, length := op.slot(n - 1); length != 0 {
			break
		}
		n--
	}
	op.page.PutUint16(offSlotCount, uint16(n))
	if n == 0 {
		op.page.PutUint16(offFreeSpaceEnd, uint16(pagemanager.PageSize))
	}
}

// compact moves all live records to the end of the page, closing the holes
// left by removals and shrinking updates.
func (op objectPage) compact() {
	n := op.slotCount()
	records := make([][]byte, n)
	for i := 0; i < n; i++ {
		records[i], _ = op.record(i)
	}
	op.page.Mutate(func(data []byte) {
		end := pagemanager.PageSize
		for i, rec := range records {
			base := pageHeaderSize + i*slotSize
			if rec == nil {
				binary.BigEndian.PutUint32(data[base:], 0)
				continue
			}
			end -= len(rec)
			copy(data[end:], rec)
			binary.BigEndian.PutUint16(data[base:], uint16(end))
			binary.BigEndian.PutUint16(data[base+2:], uint16(len(rec)))
		}
		binary.BigEndian.PutUint16(data[offFreeSpaceEnd:], uint16(end))
	})
}
