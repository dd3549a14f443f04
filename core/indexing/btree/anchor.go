package btree

import (
	"encoding/binary"

	"github.com/sushant-115/gojostore/core/storage_engine/objectstore"
)

const (
	// AnchorType tags IndexAnchor records in the object store.
	AnchorType uint16 = 1

	anchorSize = objectstore.AddressSize + 8 + 8
)

// IndexAnchor is the fixed entry point of an index: its address never changes
// while the root moves as the tree grows and shrinks.
type IndexAnchor struct {
	root            objectstore.Address
	numberOfEntries uint64
	numberOfNodes   uint64
}

func (a *IndexAnchor) ObjectType() uint16 { return AnchorType }

func (a *IndexAnchor) Encode() []byte {
	b := make([]byte, anchorSize)
	a.root.Put(b)
	binary.BigEndian.PutUint64(b[objectstore.AddressSize:], a.numberOfEntries)
	binary.BigEndian.PutUint64(b[objectstore.AddressSize+8:], a.numberOfNodes)
	return b
}

func decodeAnchor(payload []byte) (*IndexAnchor, error) {
	if len(payload) != anchorSize {
		return nil, nodeFormatError("anchor record of %d bytes", len(payload))
	}
	root, err := objectstore.AddressFromBytes(payload[:objectstore.AddressSize])
	if err != nil {
		return nil, err
	}
	return &IndexAnchor{
		root:            root,
		numberOfEntries: binary.BigEndian.Uint64(payload[objectstore.AddressSize:]),
		numberOfNodes:   binary.BigEndian.Uint64(payload[objectstore.AddressSize+8:]),
	}, nil
}

func (a *IndexAnchor) Root() objectstore.Address { return a.root }
func (a *IndexAnchor) NumberOfEntries() uint64   { return a.numberOfEntries }
func (a *IndexAnchor) NumberOfNodes() uint64     { return a.numberOfNodes }

// DecodeObject decodes the index record types. It fails with ErrObjectType for
// any other type so callers can chain their own decoders.
func DecodeObject(objectType uint16, payload []byte) (objectstore.StoredObject, error) {
	switch objectType {
	case AnchorType:
		return decodeAnchor(payload)
	case NodeType:
		return decodeNode(payload)
	default:
		return nil, unknownType(objectType)
	}
}

// Policy decodes index anchors and nodes.
var Policy = objectstore.PolicyFunc(DecodeObject)
