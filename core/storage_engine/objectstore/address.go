package objectstore

import (
	"encoding/binary"
	"fmt"

	flushmanager "github.com/sushant-115/gojostore/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojostore/core/write_engine/page_manager"
)

const (
	// AddressSize is the encoded size of an Address.
	AddressSize = 6
	// ObjectIDSize is the encoded size of an ObjectID.
	ObjectIDSize = 8
)

// Address locates a stored object: the page that holds it and its slot in
// that page. The encoded form is big-endian so byte order matches numeric
// order.
type Address struct {
	Page   pagemanager.PageID
	Object uint16
}

// NullAddress never refers to an object; page 0 is always a space-map page.
var NullAddress = Address{}

func (a Address) IsNull() bool { return a.Page == 0 }

func (a Address) String() string { return fmt.Sprintf("(%d,%d)", a.Page, a.Object) }

// Bytes returns the 6-byte encoding of a.
func (a Address) Bytes() []byte {
	b := make([]byte, AddressSize)
	a.Put(b)
	return b
}

// Put encodes a into b, which must hold AddressSize bytes.
func (a Address) Put(b []byte) {
	binary.BigEndian.PutUint32(b, uint32(a.Page))
	binary.BigEndian.PutUint16(b[4:], a.Object)
}

// AddressFromBytes decodes an Address from exactly AddressSize bytes.
func AddressFromBytes(b []byte) (Address, error) {
	if len(b) != AddressSize {
		return NullAddress, flushmanager.Errorf(flushmanager.KeyObjectStoreFormat, flushmanager.ErrStoreFormat, "address is %d bytes, want %d", len(b), AddressSize)
	}
	return Address{
		Page:   pagemanager.PageID(binary.BigEndian.Uint32(b)),
		Object: binary.BigEndian.Uint16(b[4:]),
	}, nil
}

// ObjectID is the stable external identity of an object in an indexed store.
type ObjectID uint64

// Bytes returns the 8-byte big-endian encoding of id.
func (id ObjectID) Bytes() []byte {
	b := make([]byte, ObjectIDSize)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func (id ObjectID) String() string { return fmt.Sprintf("%d", uint64(id)) }

// ObjectIDFromBytes decodes an ObjectID from exactly ObjectIDSize bytes.
func ObjectIDFromBytes(b []byte) (ObjectID, error) {
	if len(b) != ObjectIDSize {
		return 0, flushmanager.Errorf(flushmanager.KeyObjectStoreFormat, flushmanager.ErrStoreFormat, "object id is %d bytes, want %d", len(b), ObjectIDSize)
	}
	return ObjectID(binary.BigEndian.Uint64(b)), nil
}
