package btree

import (
	"bytes"
	"encoding/binary"

	"github.com/sushant-115/gojostore/core/storage_engine/objectstore"
	flushmanager "github.com/sushant-115/gojostore/core/write_engine/flush_manager"
)

const (
	// NodeType tags IndexNode records in the object store.
	NodeType uint16 = 2

	// NodeSize is the fixed encoded size of every node, so saving a node never
	// has to move it to another page.
	NodeSize = 7168

	nodeHeaderSize  = 1 + 1 + 2 + 3*objectstore.AddressSize
	entryHeaderSize = 4

	flagLeaf = 0x01
)

// IndexNode is one node of the tree. Leaves hold (key, value) entries in key
// order and are linked to their neighbours. Internal nodes hold (lowKey,
// childAddress) entries: every key below child i is >= lowKey i and <= lowKey
// i+1. The lowKey of the first entry is never consulted.
type IndexNode struct {
	leaf   bool
	parent objectstore.Address
	prev   objectstore.Address
	next   objectstore.Address
	keys   [][]byte
	values [][]byte

	// cursors positioned on this leaf. Not persisted; the decoded node is
	// shared by every holder, so entry shifts are applied to them here.
	cursors map[*Cursor]struct{}
}

func newLeaf() *IndexNode { return &IndexNode{leaf: true} }

func (n *IndexNode) ObjectType() uint16 { return NodeType }

// Encode lays the node out as
//
//	flags u8, pad u8, count u16, parent, prev, next
//	count * { keyLen u16, valueLen u16, key, value }
//
// zero-padded to NodeSize.
func (n *IndexNode) Encode() []byte {
	size := n.encodedSize()
	if size < NodeSize {
		size = NodeSize
	}
	b := make([]byte, size)
	if n.leaf {
		b[0] = flagLeaf
	}
	binary.BigEndian.PutUint16(b[2:], uint16(len(n.keys)))
	n.parent.Put(b[4:])
	n.prev.Put(b[4+objectstore.AddressSize:])
	n.next.Put(b[4+2*objectstore.AddressSize:])
	off := nodeHeaderSize
	for i, k := range n.keys {
		binary.BigEndian.PutUint16(b[off:], uint16(len(k)))
		binary.BigEndian.PutUint16(b[off+2:], uint16(len(n.values[i])))
		off += entryHeaderSize
		off += copy(b[off:], k)
		off += copy(b[off:], n.values[i])
	}
	return b
}

func decodeNode(payload []byte) (*IndexNode, error) {
	if len(payload) < nodeHeaderSize {
		return nil, nodeFormatError("node record of %d bytes", len(payload))
	}
	n := &IndexNode{leaf: payload[0]&flagLeaf != 0}
	count := int(binary.BigEndian.Uint16(payload[2:]))
	var err error
	if n.parent, err = objectstore.AddressFromBytes(payload[4 : 4+objectstore.AddressSize]); err != nil {
		return nil, err
	}
	if n.prev, err = objectstore.AddressFromBytes(payload[4+objectstore.AddressSize : 4+2*objectstore.AddressSize]); err != nil {
		return nil, err
	}
	if n.next, err = objectstore.AddressFromBytes(payload[4+2*objectstore.AddressSize : nodeHeaderSize]); err != nil {
		return nil, err
	}
	n.keys = make([][]byte, 0, count)
	n.values = make([][]byte, 0, count)
	off := nodeHeaderSize
	for i := 0; i < count; i++ {
		if off+entryHeaderSize > len(payload) {
			return nil, nodeFormatError("entry %d header past end of node", i)
		}
		kl := int(binary.BigEndian.Uint16(payload[off:]))
		vl := int(binary.BigEndian.Uint16(payload[off+2:]))
		off += entryHeaderSize
		if off+kl+vl > len(payload) {
			return nil, nodeFormatError("entry %d past end of node", i)
		}
		n.keys = append(n.keys, bytes.Clone(payload[off:off+kl]))
		off += kl
		n.values = append(n.values, bytes.Clone(payload[off:off+vl]))
		off += vl
	}
	return n, nil
}

func (n *IndexNode) encodedSize() int {
	size := nodeHeaderSize
	for i, k := range n.keys {
		size += entryHeaderSize + len(k) + len(n.values[i])
	}
	return size
}

func (n *IndexNode) entrySize(i int) int {
	return entryHeaderSize + len(n.keys[i]) + len(n.values[i])
}

// splitPoint returns the index at which to split an oversized node so that
// the larger half is as small as possible.
func (n *IndexNode) splitPoint() int {
	total := n.encodedSize() - nodeHeaderSize
	best, bestSize := 1, total
	left := 0
	for m := 1; m < len(n.keys); m++ {
		left += n.entrySize(m - 1)
		larger := max(left, total-left)
		if larger < bestSize {
			best, bestSize = m, larger
		}
	}
	return best
}

// insertAt inserts an entry at i. Cursors on entries at or after i move along
// with their entry.
func (n *IndexNode) insertAt(i int, key, value []byte) {
	n.keys = append(n.keys, nil)
	n.values = append(n.values, nil)
	copy(n.keys[i+1:], n.keys[i:])
	copy(n.values[i+1:], n.values[i:])
	n.keys[i] = bytes.Clone(key)
	n.values[i] = bytes.Clone(value)
	for c := range n.cursors {
		if c.pos >= i {
			c.pos++
		}
	}
}

// removeAt removes entry i. Cursors after it move along with their entry.
// Cursors on the removed entry are reset, except keep, which is left on the
// slot now holding the successor.
func (n *IndexNode) removeAt(i int, keep *Cursor) {
	n.keys = append(n.keys[:i], n.keys[i+1:]...)
	n.values = append(n.values[:i], n.values[i+1:]...)
	for c := range n.cursors {
		switch {
		case c == keep:
		case c.pos > i:
			c.pos--
		case c.pos == i:
			c.reset()
		}
	}
}

func (n *IndexNode) attach(c *Cursor) {
	if n.cursors == nil {
		n.cursors = make(map[*Cursor]struct{})
	}
	n.cursors[c] = struct{}{}
}

func (n *IndexNode) detach(c *Cursor) { delete(n.cursors, c) }

// lowerBound returns the first entry whose key is >= key.
func (n *IndexNode) lowerBound(key []byte) int {
	lo, hi := 0, len(n.keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if bytes.Compare(n.keys[mid], key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// upperBound returns the first entry whose key is > key.
func (n *IndexNode) upperBound(key []byte) int {
	lo, hi := 0, len(n.keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if bytes.Compare(n.keys[mid], key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// childForInsert picks the last child whose lowKey is <= key, so equal keys
// go after existing duplicates. Entry 0 is the fallback.
func (n *IndexNode) childForInsert(key []byte) int {
	return n.lastChildWhere(func(lowKey []byte) bool { return bytes.Compare(lowKey, key) <= 0 })
}

// childForFind picks the last child whose lowKey is < key; the first entry >=
// key is in that child or after it.
func (n *IndexNode) childForFind(key []byte) int {
	return n.lastChildWhere(func(lowKey []byte) bool { return bytes.Compare(lowKey, key) < 0 })
}

// lastChildWhere binary searches entries 1.. for the last lowKey satisfying
// below, which must hold for a prefix of them.
func (n *IndexNode) lastChildWhere(below func(lowKey []byte) bool) int {
	lo, hi := 1, len(n.keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if below(n.keys[mid]) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo - 1
}

func (n *IndexNode) child(i int) (objectstore.Address, error) {
	return objectstore.AddressFromBytes(n.values[i])
}

// childIndex returns the entry pointing at addr, or -1.
func (n *IndexNode) childIndex(addr objectstore.Address) int {
	b := addr.Bytes()
	for i, v := range n.values {
		if bytes.Equal(v, b) {
			return i
		}
	}
	return -1
}

func nodeFormatError(format string, args ...any) error {
	return flushmanager.Errorf(flushmanager.KeyIndexNodeFormat, flushmanager.ErrStoreFormat, format, args...)
}
