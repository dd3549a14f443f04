package btree

import (
	"bytes"

	"github.com/sushant-115/gojostore/core/storage_engine/objectstore"
	flushmanager "github.com/sushant-115/gojostore/core/write_engine/flush_manager"
)

type cursorState int

const (
	cursorUnset cursorState = iota
	cursorPositioned
	cursorAtEnd
)

// Cursor walks the entries of an Index in key order. While positioned it
// keeps its current leaf acquired; Close (or Reset) releases it. A cursor is
// owned by one goroutine at a time.
//
// Inserts and removals made through any cursor or Index on the same tree keep
// the cursor on its entry. A cursor whose entry is removed by someone else,
// or whose leaf was detached by a rollback, is no longer positioned.
type Cursor struct {
	ix    *Index
	h     *objectstore.Handle
	leaf  *IndexNode
	pos   int
	state cursorState
}

// Find positions the cursor at the first entry whose key is >= key, or at the
// end when there is none.
func (c *Cursor) Find(key []byte) error {
	c.ix.mu.Lock()
	defer c.ix.mu.Unlock()
	return c.find(key)
}

func (c *Cursor) FindString(key string) error { return c.Find([]byte(key)) }

// Next advances to the following entry.
func (c *Cursor) Next() error {
	c.ix.mu.Lock()
	defer c.ix.mu.Unlock()
	return c.next()
}

// KeyMatches reports whether the cursor is on an entry whose key starts with
// prefix.
func (c *Cursor) KeyMatches(prefix []byte) bool {
	c.ix.mu.Lock()
	defer c.ix.mu.Unlock()
	return c.keyMatches(prefix)
}

func (c *Cursor) KeyMatchesString(prefix string) bool { return c.KeyMatches([]byte(prefix)) }

// KeyEquals reports whether the cursor is on an entry whose key equals key.
func (c *Cursor) KeyEquals(key []byte) bool {
	c.ix.mu.Lock()
	defer c.ix.mu.Unlock()
	return c.keyEquals(key)
}

func (c *Cursor) KeyEqualsString(key string) bool { return c.KeyEquals([]byte(key)) }

// IsAtEnd reports whether the cursor moved past the last entry.
func (c *Cursor) IsAtEnd() bool { return c.state == cursorAtEnd }

// IsPositioned reports whether the cursor is on an entry.
func (c *Cursor) IsPositioned() bool { return c.state == cursorPositioned }

func (c *Cursor) Key() ([]byte, error) {
	c.ix.mu.Lock()
	defer c.ix.mu.Unlock()
	if err := c.checkPositioned(); err != nil {
		return nil, err
	}
	return bytes.Clone(c.leaf.keys[c.pos]), nil
}

func (c *Cursor) Value() ([]byte, error) {
	c.ix.mu.Lock()
	defer c.ix.mu.Unlock()
	return c.value()
}

func (c *Cursor) ValueAsString() (string, error) {
	v, err := c.Value()
	return string(v), err
}

func (c *Cursor) ValueAsObjectID() (objectstore.ObjectID, error) {
	v, err := c.Value()
	if err != nil {
		return 0, err
	}
	return objectstore.ObjectIDFromBytes(v)
}

func (c *Cursor) ValueAsAddress() (objectstore.Address, error) {
	v, err := c.Value()
	if err != nil {
		return objectstore.NullAddress, err
	}
	return objectstore.AddressFromBytes(v)
}

// UpdateValue replaces the value of the current entry. The cursor stays on the
// entry even when the leaf has to split.
func (c *Cursor) UpdateValue(value []byte) error {
	c.ix.mu.Lock()
	defer c.ix.mu.Unlock()
	return c.updateValue(value)
}

func (c *Cursor) UpdateValueItem(value Insertable) error { return c.UpdateValue(value.Bytes()) }

// RemoveEntry removes the current entry and leaves the cursor on the entry
// that followed it, or at the end.
func (c *Cursor) RemoveEntry() error {
	c.ix.mu.Lock()
	defer c.ix.mu.Unlock()
	return c.removeEntry()
}

// Reset releases the current leaf and unpositions the cursor.
func (c *Cursor) Reset() {
	c.ix.mu.Lock()
	defer c.ix.mu.Unlock()
	c.reset()
}

// Close releases the cursor's resources. It is safe to call more than once.
func (c *Cursor) Close() {
	c.Reset()
}

// --- Unlocked implementations, used by Index under its lock ---

func (c *Cursor) release() {
	if c.h != nil {
		c.leaf.detach(c)
		c.h.Release()
		c.h = nil
		c.leaf = nil
	}
}

// positionOn makes entry pos of the acquired leaf the current entry.
func (c *Cursor) positionOn(h *objectstore.Handle, leaf *IndexNode, pos int) {
	c.h, c.leaf, c.pos = h, leaf, pos
	c.state = cursorPositioned
	leaf.attach(c)
}

func (c *Cursor) reset() {
	c.release()
	c.pos = 0
	c.state = cursorUnset
}

func (c *Cursor) close() { c.reset() }

func (c *Cursor) find(key []byte) error {
	c.reset()
	ah, anchor, err := c.ix.acquireAnchor()
	if err != nil {
		return err
	}
	root := anchor.root
	ah.Release()
	if root.IsNull() {
		c.state = cursorAtEnd
		return nil
	}
	h, leaf, err := c.ix.descend(root, key, (*IndexNode).childForFind)
	if err != nil {
		return err
	}
	c.positionOn(h, leaf, leaf.lowerBound(key))
	return c.settle()
}

// settle moves forward through the leaf chain until pos names an entry,
// skipping empty leaves, or marks the cursor at the end.
func (c *Cursor) settle() error {
	for c.pos >= len(c.leaf.keys) {
		next := c.leaf.next
		c.release()
		if next.IsNull() {
			c.pos = 0
			c.state = cursorAtEnd
			return nil
		}
		h, n, err := c.ix.acquireNode(next)
		if err != nil {
			c.state = cursorUnset
			return err
		}
		c.positionOn(h, n, 0)
	}
	return nil
}

func (c *Cursor) next() error {
	switch c.state {
	case cursorUnset:
		return c.notPositioned()
	case cursorAtEnd:
		return nil
	}
	if c.pos >= len(c.leaf.keys) {
		return c.notPositioned()
	}
	c.pos++
	return c.settle()
}

// onEntry reports whether the cursor names an existing entry of a leaf that
// is still attached to the store.
func (c *Cursor) onEntry() bool {
	return c.state == cursorPositioned && c.pos < len(c.leaf.keys) && !c.h.Detached()
}

func (c *Cursor) keyMatches(prefix []byte) bool {
	return c.onEntry() && bytes.HasPrefix(c.leaf.keys[c.pos], prefix)
}

func (c *Cursor) keyEquals(key []byte) bool {
	return c.onEntry() && bytes.Equal(c.leaf.keys[c.pos], key)
}

func (c *Cursor) value() ([]byte, error) {
	if err := c.checkPositioned(); err != nil {
		return nil, err
	}
	return bytes.Clone(c.leaf.values[c.pos]), nil
}

func (c *Cursor) updateValue(value []byte) error {
	if err := c.checkPositioned(); err != nil {
		return err
	}
	if err := checkEntry(c.leaf.keys[c.pos], value); err != nil {
		return err
	}
	ah, anchor, err := c.ix.acquireAnchor()
	if err != nil {
		return err
	}
	defer ah.Release()

	c.leaf.values[c.pos] = bytes.Clone(value)
	if err := c.ix.saveNode(anchor, c.h, c.leaf); err != nil {
		return err
	}
	return ah.Save()
}

func (c *Cursor) removeEntry() error {
	if err := c.checkPositioned(); err != nil {
		return err
	}
	ah, anchor, err := c.ix.acquireAnchor()
	if err != nil {
		return err
	}
	defer ah.Release()

	leafAddr, leaf := c.h.Address(), c.leaf
	leaf.removeAt(c.pos, c)
	anchor.numberOfEntries--
	if err := c.h.Save(); err != nil {
		return err
	}
	emptied := len(leaf.keys) == 0 && !leaf.parent.IsNull()
	if err := c.settle(); err != nil {
		return err
	}
	if emptied {
		if err := c.ix.removeNode(anchor, leafAddr); err != nil {
			return err
		}
	}
	return ah.Save()
}

func (c *Cursor) checkPositioned() error {
	if !c.onEntry() {
		return c.notPositioned()
	}
	return nil
}

func (c *Cursor) notPositioned() error {
	return flushmanager.NewError(flushmanager.KeyCursorNotPositioned, flushmanager.ErrCursorNotPositioned, nil)
}
