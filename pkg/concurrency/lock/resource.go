package lock

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// ResourceType is the category of a lockable resource. The declaration order
// is the only legal acquisition order.
type ResourceType uint8

const (
	ResourceInvalid ResourceType = iota
	ResourceGlobal
	ResourceFlush
	ResourceDatabase
	ResourceCollection
	ResourceMutex

	resourceTypeCount
)

func (t ResourceType) String() string {
	switch t {
	case ResourceInvalid:
		return "Invalid"
	case ResourceGlobal:
		return "Global"
	case ResourceFlush:
		return "Flush"
	case ResourceDatabase:
		return "Database"
	case ResourceCollection:
		return "Collection"
	case ResourceMutex:
		return "Mutex"
	default:
		return fmt.Sprintf("ResourceType(%d)", uint8(t))
	}
}

const (
	resourceTypeBits = 3
	resourceHashBits = 64 - resourceTypeBits
	resourceHashMask = (uint64(1) << resourceHashBits) - 1
)

// ResourceID identifies a lockable resource as a (type, hash) pair packed into
// one word: the type occupies the top bits so that ordering by value orders
// by type first.
type ResourceID uint64

// Well-known singleton resources.
var (
	ResourceIDGlobal  = NewResourceIDFromHash(ResourceGlobal, 1)
	ResourceIDFlush   = NewResourceIDFromHash(ResourceFlush, 1)
	ResourceIDAdminDB = NewResourceID(ResourceDatabase, "admin")
)

// NewResourceIDFromHash builds a ResourceID from a precomputed hash.
func NewResourceIDFromHash(t ResourceType, hash uint64) ResourceID {
	return ResourceID(uint64(t)<<resourceHashBits | (hash & resourceHashMask))
}

// NewResourceID builds a ResourceID by hashing name.
func NewResourceID(t ResourceType, name string) ResourceID {
	return NewResourceIDFromHash(t, xxhash.Sum64String(name))
}

// DatabaseResource returns the resource for a database name.
func DatabaseResource(db string) ResourceID {
	return NewResourceID(ResourceDatabase, db)
}

// CollectionResource returns the resource for a full namespace ("db.coll").
func CollectionResource(ns string) ResourceID {
	return NewResourceID(ResourceCollection, ns)
}

// Type returns the resource category.
func (r ResourceID) Type() ResourceType {
	return ResourceType(uint64(r) >> resourceHashBits)
}

// Hash returns the hashed-name component.
func (r ResourceID) Hash() uint64 {
	return uint64(r) & resourceHashMask
}

// IsValid reports whether the id names a real resource.
func (r ResourceID) IsValid() bool {
	t := r.Type()
	return t != ResourceInvalid && t < resourceTypeCount
}

func (r ResourceID) String() string {
	return fmt.Sprintf("{%d: %s}", r.Hash(), r.Type())
}

// MarshalText implements encoding.TextMarshaler.
func (r ResourceID) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}
