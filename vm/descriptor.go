package vm

import (
	"fmt"
	"sync"
)

// Descriptor reads and writes one slot of an instance. It knows nothing
// but its offset and whether it is read-only, so a single descriptor is
// shared by every type that has a field at that offset.
type Descriptor struct {
	offset   uintptr
	index    int
	readonly bool
}

type descriptorKey struct {
	offset   uintptr
	readonly bool
}

// descriptorCache is the process-wide descriptor table. It only grows; the
// key space is bounded by the largest field count in use.
var descriptorCache = struct {
	mu sync.RWMutex
	m  map[descriptorKey]*Descriptor
}{m: make(map[descriptorKey]*Descriptor)}

// MakeDescriptor returns the shared descriptor for a slot offset.
func MakeDescriptor(offset uintptr, readonly bool) (*Descriptor, error) {
	index := SlotIndex(offset)
	if index < 0 {
		return nil, fmt.Errorf("%w: offset %d is not a slot offset", ErrIndexOutOfRange, offset)
	}
	key := descriptorKey{offset: offset, readonly: readonly}

	descriptorCache.mu.RLock()
	d, ok := descriptorCache.m[key]
	descriptorCache.mu.RUnlock()
	if ok {
		return d, nil
	}

	descriptorCache.mu.Lock()
	defer descriptorCache.mu.Unlock()
	if d, ok := descriptorCache.m[key]; ok {
		return d, nil
	}
	d = &Descriptor{offset: offset, index: index, readonly: readonly}
	descriptorCache.m[key] = d
	return d, nil
}

// cachedDescriptors returns the number of cached descriptors.
func cachedDescriptors() int {
	descriptorCache.mu.RLock()
	defer descriptorCache.mu.RUnlock()
	return len(descriptorCache.m)
}

// Offset returns the slot's byte offset.
func (d *Descriptor) Offset() uintptr { return d.offset }

// Index returns the slot's positional index.
func (d *Descriptor) Index() int { return d.index }

// Readonly returns true if Set always fails.
func (d *Descriptor) Readonly() bool { return d.readonly }

// Get returns the value stored in obj's slot.
func (d *Descriptor) Get(obj *Object) (Value, error) {
	if err := d.check(obj); err != nil {
		return Nil, err
	}
	return obj.GetSlot(d.index), nil
}

// Set stores v in obj's slot and releases the previous value. Read-only
// descriptors reject every write and leave the slot untouched.
func (d *Descriptor) Set(obj *Object, v Value) error {
	if d.readonly {
		return fmt.Errorf("%w: field at offset %d of %s is read-only", ErrImmutable, d.offset, obj.TypeName())
	}
	if err := d.check(obj); err != nil {
		return err
	}
	obj.storeSlot(d.index, v)
	return nil
}

func (d *Descriptor) check(obj *Object) error {
	if obj == nil {
		return fmt.Errorf("%w: nil instance", ErrNoAttribute)
	}
	if d.index >= obj.size {
		return fmt.Errorf("%w: offset %d outside %s instance", ErrIndexOutOfRange, d.offset, obj.TypeName())
	}
	return nil
}
