package btree

import (
	"bytes"
	"errors"
	"sync"

	"github.com/sushant-115/gojostore/core/storage_engine/objectstore"
	flushmanager "github.com/sushant-115/gojostore/core/write_engine/flush_manager"
)

const (
	// MaxKeyLength is the longest key an index accepts.
	MaxKeyLength = 1024
	// MaxValueLength is the longest value an index accepts.
	MaxValueLength = 2048
)

// Insertable is a value that knows its own byte form.
type Insertable interface {
	Bytes() []byte
}

// Index is an ordered multimap from byte-string keys to byte-string values,
// stored as a B+tree in an object store. Duplicate keys are allowed and keep
// insertion order.
type Index struct {
	mu     sync.Locker
	store  *objectstore.ObjectStore
	anchor objectstore.Address
}

// Create builds an empty index in store and returns the address of its
// anchor.
func Create(store *objectstore.ObjectStore) (objectstore.Address, error) {
	root, err := store.InsertObject(newLeaf())
	if err != nil {
		return objectstore.NullAddress, err
	}
	return store.InsertObject(&IndexAnchor{root: root, numberOfNodes: 1})
}

// New returns the index anchored at anchor. Operations are serialized on
// locker; nil gives the index a lock of its own.
func New(store *objectstore.ObjectStore, anchor objectstore.Address, locker sync.Locker) *Index {
	if locker == nil {
		locker = &sync.Mutex{}
	}
	return &Index{mu: locker, store: store, anchor: anchor}
}

func (ix *Index) Anchor() objectstore.Address { return ix.anchor }

// Insert adds an entry. The key may be at most MaxKeyLength bytes and the
// value at most MaxValueLength bytes.
func (ix *Index) Insert(key, value []byte) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.insert(key, value)
}

func (ix *Index) InsertString(key string, value []byte) error {
	return ix.Insert([]byte(key), value)
}

func (ix *Index) InsertItem(key []byte, value Insertable) error {
	return ix.Insert(key, value.Bytes())
}

func (ix *Index) InsertStringItem(key string, value Insertable) error {
	return ix.Insert([]byte(key), value.Bytes())
}

// Open returns a new, unpositioned cursor over the index.
func (ix *Index) Open() *Cursor {
	return &Cursor{ix: ix}
}

// NumberOfEntries returns the number of entries in the index.
func (ix *Index) NumberOfEntries() (uint64, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	h, a, err := ix.acquireAnchor()
	if err != nil {
		return 0, err
	}
	defer h.Release()
	return a.numberOfEntries, nil
}

// NumberOfNodes returns the number of tree nodes backing the index.
func (ix *Index) NumberOfNodes() (uint64, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	h, a, err := ix.acquireAnchor()
	if err != nil {
		return 0, err
	}
	defer h.Release()
	return a.numberOfNodes, nil
}

// ObjectIdentifiersMatching returns the values of all entries whose key starts
// with prefix, decoded as object identifiers, in key order.
func (ix *Index) ObjectIdentifiersMatching(prefix []byte) ([]objectstore.ObjectID, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	c := ix.Open()
	defer c.close()
	if err := c.find(prefix); err != nil {
		return nil, err
	}
	var ids []objectstore.ObjectID
	for c.keyMatches(prefix) {
		v, err := c.value()
		if err != nil {
			return nil, err
		}
		id, err := objectstore.ObjectIDFromBytes(v)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
		if err := c.next(); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func (ix *Index) ObjectIdentifiersMatchingString(prefix string) ([]objectstore.ObjectID, error) {
	return ix.ObjectIdentifiersMatching([]byte(prefix))
}

// RemoveAllEqual removes every entry whose key equals key and returns how many
// were removed.
func (ix *Index) RemoveAllEqual(key []byte) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.removeWhile(key, func(c *Cursor) bool { return c.keyEquals(key) })
}

// RemoveAllMatching removes every entry whose key starts with prefix and
// returns how many were removed.
func (ix *Index) RemoveAllMatching(prefix []byte) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.removeWhile(prefix, func(c *Cursor) bool { return c.keyMatches(prefix) })
}

// removeWhile positions a cursor at key and removes entries while match holds.
// Each removal leaves the cursor on the entry that followed the removed one, so
// the predicate is re-evaluated on the next candidate every iteration.
func (ix *Index) removeWhile(key []byte, match func(*Cursor) bool) (int, error) {
	c := ix.Open()
	defer c.close()
	if err := c.find(key); err != nil {
		return 0, err
	}
	removed := 0
	for match(c) {
		if err := c.removeEntry(); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// VisitResult tells Visit how to continue. The values match the bucket
// table's visitor codes.
type VisitResult int

const (
	VisitContinue VisitResult = 0
	VisitStop     VisitResult = 1
	VisitDelete   VisitResult = 0x100
)

// Visit calls fn for every entry whose key starts with prefix, in key order.
// fn may ask for the entry to be deleted and may stop the walk.
func (ix *Index) Visit(prefix []byte, fn func(key, value []byte) VisitResult) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	c := ix.Open()
	defer c.close()
	if err := c.find(prefix); err != nil {
		return err
	}
	for c.keyMatches(prefix) {
		result := fn(bytes.Clone(c.leaf.keys[c.pos]), bytes.Clone(c.leaf.values[c.pos]))
		if result&VisitDelete != 0 {
			if err := c.removeEntry(); err != nil {
				return err
			}
		} else if err := c.next(); err != nil {
			return err
		}
		if result&VisitStop != 0 {
			return nil
		}
	}
	return nil
}

// DestroyChildren removes every node of the tree. The anchor itself is left
// for the caller to remove.
func (ix *Index) DestroyChildren() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	h, a, err := ix.acquireAnchor()
	if err != nil {
		return err
	}
	defer h.Release()
	if !a.root.IsNull() {
		if err := ix.destroySubtree(a.root); err != nil {
			return err
		}
	}
	a.root = objectstore.NullAddress
	a.numberOfEntries = 0
	a.numberOfNodes = 0
	return h.Save()
}

func (ix *Index) destroySubtree(addr objectstore.Address) error {
	h, n, err := ix.acquireNode(addr)
	if err != nil {
		return err
	}
	var children []objectstore.Address
	if !n.leaf {
		for i := range n.values {
			child, err := n.child(i)
			if err != nil {
				h.Release()
				return err
			}
			children = append(children, child)
		}
	}
	h.Release()
	for _, child := range children {
		if err := ix.destroySubtree(child); err != nil {
			return err
		}
	}
	return ix.store.RemoveObject(addr)
}

// --- Tree maintenance ---

func (ix *Index) acquireAnchor() (*objectstore.Handle, *IndexAnchor, error) {
	return objectstore.Acquire[*IndexAnchor](ix.store, ix.anchor)
}

func (ix *Index) acquireNode(addr objectstore.Address) (*objectstore.Handle, *IndexNode, error) {
	return objectstore.Acquire[*IndexNode](ix.store, addr)
}

func checkEntry(key, value []byte) error {
	if len(key) > MaxKeyLength {
		return flushmanager.Errorf(flushmanager.KeyIndexKeyLength, flushmanager.ErrSizeLimitExceeded, "key of %d bytes exceeds %d", len(key), MaxKeyLength)
	}
	if len(value) > MaxValueLength {
		return flushmanager.Errorf(flushmanager.KeyIndexValueLength, flushmanager.ErrSizeLimitExceeded, "value of %d bytes exceeds %d", len(value), MaxValueLength)
	}
	return nil
}

func (ix *Index) insert(key, value []byte) error {
	if err := checkEntry(key, value); err != nil {
		return err
	}
	ah, anchor, err := ix.acquireAnchor()
	if err != nil {
		return err
	}
	defer ah.Release()

	h, leaf, err := ix.descend(anchor.root, key, (*IndexNode).childForInsert)
	if err != nil {
		return err
	}
	defer h.Release()

	leaf.insertAt(leaf.upperBound(key), key, value)
	anchor.numberOfEntries++
	if err := ix.saveNode(anchor, h, leaf); err != nil {
		return err
	}
	return ah.Save()
}

// descend walks from root to the leaf chosen by pick and returns it acquired.
func (ix *Index) descend(root objectstore.Address, key []byte, pick func(*IndexNode, []byte) int) (*objectstore.Handle, *IndexNode, error) {
	addr := root
	for {
		h, n, err := ix.acquireNode(addr)
		if err != nil {
			return nil, nil, err
		}
		if n.leaf {
			return h, n, nil
		}
		if len(n.keys) == 0 {
			h.Release()
			return nil, nil, nodeFormatError("internal node %s has no children", addr)
		}
		next, err := n.child(pick(n, key))
		h.Release()
		if err != nil {
			return nil, nil, err
		}
		addr = next
	}
}

// saveNode writes n back, splitting it first when it no longer fits in
// NodeSize. Cursors on entries that move to the new right sibling follow them.
func (ix *Index) saveNode(anchor *IndexAnchor, h *objectstore.Handle, n *IndexNode) error {
	if n.encodedSize() <= NodeSize {
		return h.Save()
	}

	m := n.splitPoint()
	right := &IndexNode{
		leaf:   n.leaf,
		parent: n.parent,
		keys:   append([][]byte(nil), n.keys[m:]...),
		values: append([][]byte(nil), n.values[m:]...),
	}
	n.keys = n.keys[:m:m]
	n.values = n.values[:m:m]
	if n.leaf {
		right.prev = h.Address()
		right.next = n.next
	}
	rightAddr, err := ix.store.InsertObject(right)
	if err != nil {
		return err
	}
	anchor.numberOfNodes++

	if n.leaf {
		if err := ix.moveCursors(n, m, rightAddr); err != nil {
			return err
		}
		if !n.next.IsNull() {
			if err := ix.updateNode(n.next, func(next *IndexNode) { next.prev = rightAddr }); err != nil {
				return err
			}
		}
		n.next = rightAddr
	} else {
		for i := range right.values {
			child, err := right.child(i)
			if err != nil {
				return err
			}
			if err := ix.updateNode(child, func(c *IndexNode) { c.parent = rightAddr }); err != nil {
				return err
			}
		}
	}

	if n.parent.IsNull() {
		root := &IndexNode{
			keys:   [][]byte{nil, bytes.Clone(right.keys[0])},
			values: [][]byte{h.Address().Bytes(), rightAddr.Bytes()},
		}
		rootAddr, err := ix.store.InsertObject(root)
		if err != nil {
			return err
		}
		anchor.numberOfNodes++
		anchor.root = rootAddr
		n.parent = rootAddr
		if err := ix.updateNode(rightAddr, func(r *IndexNode) { r.parent = rootAddr }); err != nil {
			return err
		}
		return h.Save()
	}

	if err := h.Save(); err != nil {
		return err
	}
	ph, parent, err := ix.acquireNode(n.parent)
	if err != nil {
		return err
	}
	defer ph.Release()
	j := parent.childIndex(h.Address())
	if j < 0 {
		return nodeFormatError("node %s missing from its parent %s", h.Address(), ph.Address())
	}
	parent.insertAt(j+1, right.keys[0], rightAddr.Bytes())
	return ix.saveNode(anchor, ph, parent)
}

// moveCursors re-aims the cursors on entries m.. of a split leaf at the right
// sibling that now holds those entries.
func (ix *Index) moveCursors(n *IndexNode, m int, rightAddr objectstore.Address) error {
	for c := range n.cursors {
		if c.pos < m {
			continue
		}
		h, right, err := ix.acquireNode(rightAddr)
		if err != nil {
			return err
		}
		pos := c.pos - m
		c.release()
		c.positionOn(h, right, pos)
	}
	return nil
}

// updateNode applies fn to the node at addr and saves it.
func (ix *Index) updateNode(addr objectstore.Address, fn func(*IndexNode)) error {
	h, n, err := ix.acquireNode(addr)
	if err != nil {
		return err
	}
	defer h.Release()
	fn(n)
	return h.Save()
}

// removeNode unlinks the empty node at addr from its neighbours and its parent
// and deletes it. Parents emptied in turn are removed as well; a root left
// with a single child hands the root role to that child, and a root left with
// none becomes an empty leaf.
func (ix *Index) removeNode(anchor *IndexAnchor, addr objectstore.Address) error {
	h, n, err := ix.acquireNode(addr)
	if err != nil {
		return err
	}
	parentAddr, prev, next, leaf := n.parent, n.prev, n.next, n.leaf
	h.Release()

	if err := ix.store.RemoveObject(addr); err != nil {
		if errors.Is(err, flushmanager.ErrObjectInUse) {
			// Still held by another cursor; an empty leaf is skipped by scans.
			return nil
		}
		return err
	}
	anchor.numberOfNodes--

	if leaf {
		if !prev.IsNull() {
			if err := ix.updateNode(prev, func(p *IndexNode) { p.next = next }); err != nil {
				return err
			}
		}
		if !next.IsNull() {
			if err := ix.updateNode(next, func(x *IndexNode) { x.prev = prev }); err != nil {
				return err
			}
		}
	}

	ph, parent, err := ix.acquireNode(parentAddr)
	if err != nil {
		return err
	}
	j := parent.childIndex(addr)
	if j < 0 {
		ph.Release()
		return nodeFormatError("node %s missing from its parent %s", addr, parentAddr)
	}
	parent.removeAt(j, nil)

	switch {
	case len(parent.keys) == 0 && parent.parent.IsNull():
		parent.leaf = true
		parent.prev = objectstore.NullAddress
		parent.next = objectstore.NullAddress
		err = ph.Save()
		ph.Release()
		return err
	case len(parent.keys) == 0:
		if err := ph.Save(); err != nil {
			ph.Release()
			return err
		}
		ph.Release()
		return ix.removeNode(anchor, parentAddr)
	case len(parent.keys) == 1 && parent.parent.IsNull():
		child, err := parent.child(0)
		ph.Release()
		if err != nil {
			return err
		}
		if err := ix.updateNode(child, func(c *IndexNode) { c.parent = objectstore.NullAddress }); err != nil {
			return err
		}
		if err := ix.store.RemoveObject(parentAddr); err != nil {
			return err
		}
		anchor.numberOfNodes--
		anchor.root = child
		return nil
	default:
		err = ph.Save()
		ph.Release()
		return err
	}
}

func unknownType(objectType uint16) error {
	return flushmanager.Errorf(flushmanager.KeyObjectStoreType, flushmanager.ErrObjectType, "unknown object type %d", objectType)
}
