package indexedstore

import (
	"bytes"
	"encoding/binary"

	"github.com/sushant-115/gojostore/core/indexing/btree"
	"github.com/sushant-115/gojostore/core/storage_engine/objectstore"
	flushmanager "github.com/sushant-115/gojostore/core/write_engine/flush_manager"
)

// Object type tags owned by this package. Index anchors and nodes use the
// tags defined in btree.
const (
	ContextType           uint16 = 3
	BinarySmallObjectType uint16 = 4

	contextSize = 2*objectstore.AddressSize + 8
)

// Context is the root record of an indexed store: where the two directories
// live and the next object number to hand out.
type Context struct {
	indexDirectory   objectstore.Address
	objectDirectory  objectstore.Address
	nextObjectNumber uint64
}

func (c *Context) ObjectType() uint16 { return ContextType }

func (c *Context) Encode() []byte {
	b := make([]byte, contextSize)
	c.indexDirectory.Put(b)
	c.objectDirectory.Put(b[objectstore.AddressSize:])
	binary.BigEndian.PutUint64(b[2*objectstore.AddressSize:], c.nextObjectNumber)
	return b
}

func decodeContext(payload []byte) (*Context, error) {
	if len(payload) != contextSize {
		return nil, flushmanager.Errorf(flushmanager.KeyIndexedStoreContext, flushmanager.ErrStoreFormat, "context record of %d bytes", len(payload))
	}
	indexDir, err := objectstore.AddressFromBytes(payload[:objectstore.AddressSize])
	if err != nil {
		return nil, err
	}
	objectDir, err := objectstore.AddressFromBytes(payload[objectstore.AddressSize : 2*objectstore.AddressSize])
	if err != nil {
		return nil, err
	}
	return &Context{
		indexDirectory:   indexDir,
		objectDirectory:  objectDir,
		nextObjectNumber: binary.BigEndian.Uint64(payload[2*objectstore.AddressSize:]),
	}, nil
}

// BinarySmallObject is an opaque user payload.
type BinarySmallObject struct {
	value []byte
}

func (o *BinarySmallObject) ObjectType() uint16 { return BinarySmallObjectType }
func (o *BinarySmallObject) Encode() []byte     { return o.value }
func (o *BinarySmallObject) Value() []byte      { return bytes.Clone(o.value) }

// Policy decodes every record type found in an indexed store.
var Policy = objectstore.PolicyFunc(func(objectType uint16, payload []byte) (objectstore.StoredObject, error) {
	switch objectType {
	case ContextType:
		return decodeContext(payload)
	case BinarySmallObjectType:
		return &BinarySmallObject{value: bytes.Clone(payload)}, nil
	default:
		return btree.DecodeObject(objectType, payload)
	}
})
