package objectstore

import flushmanager "github.com/sushant-115/gojostore/core/write_engine/flush_manager"

// StoredObject is anything kept in an object store. ObjectType identifies the
// decoder to use when the object is read back; 0 is reserved.
type StoredObject interface {
	ObjectType() uint16
	Encode() []byte
}

// Policy turns a stored record back into an object.
type Policy interface {
	Decode(objectType uint16, payload []byte) (StoredObject, error)
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(objectType uint16, payload []byte) (StoredObject, error)

func (f PolicyFunc) Decode(objectType uint16, payload []byte) (StoredObject, error) {
	return f(objectType, payload)
}

type objectEntry struct {
	address  Address
	object   StoredObject
	refs     int
	detached bool
}

// Handle is one holder's reference to an acquired object. All handles for the
// same address share one decoded object. Release must be called exactly once
// per handle; later calls are ignored.
type Handle struct {
	store    *ObjectStore
	entry    *objectEntry
	released bool
}

func (h *Handle) Address() Address     { return h.entry.address }
func (h *Handle) Object() StoredObject { return h.entry.object }

// Detached reports whether a rollback cut the object off from the store.
func (h *Handle) Detached() bool { return h.entry.detached }

// Save writes the object's current state back into its page.
func (h *Handle) Save() error {
	if h.entry.detached {
		return flushmanager.Errorf(flushmanager.KeyObjectStoreDetached, flushmanager.ErrObjectDetached, "object %s", h.entry.address)
	}
	return h.store.updateObject(h.entry.address, h.entry.object)
}

// Release drops this handle's reference.
func (h *Handle) Release() {
	if h == nil || h.released {
		return
	}
	h.released = true
	h.store.releaseObject(h.entry)
}
