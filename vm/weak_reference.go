package vm

import (
	"fmt"
	"sync"
)

// ---------------------------------------------------------------------------
// WeakReference: A reference that doesn't keep a record alive
// ---------------------------------------------------------------------------

// WeakReference holds a weak reference to a record instance. When the
// instance is deallocated the reference is cleared and its finalizer, if
// any, runs.
type WeakReference struct {
	id        uint32
	target    *Object
	finalizer func(*WeakReference)
	mu        sync.RWMutex
}

// ID returns the unique identifier for this weak reference.
func (wr *WeakReference) ID() uint32 {
	return wr.id
}

// Get returns the target object, or nil if it has been deallocated.
func (wr *WeakReference) Get() *Object {
	wr.mu.RLock()
	defer wr.mu.RUnlock()
	return wr.target
}

// IsAlive returns true if the target object has not been deallocated.
func (wr *WeakReference) IsAlive() bool {
	wr.mu.RLock()
	defer wr.mu.RUnlock()
	return wr.target != nil
}

// Clear clears the weak reference and returns the old target.
func (wr *WeakReference) Clear() *Object {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	old := wr.target
	wr.target = nil
	return old
}

// SetFinalizer sets a callback invoked once the target is deallocated.
func (wr *WeakReference) SetFinalizer(fn func(*WeakReference)) {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	wr.finalizer = fn
}

// Finalizer returns the finalization callback, if any.
func (wr *WeakReference) Finalizer() func(*WeakReference) {
	wr.mu.RLock()
	defer wr.mu.RUnlock()
	return wr.finalizer
}

// NewWeakRef creates a weak reference to obj. The object's type must have
// the weak-reference slot.
func (vm *VM) NewWeakRef(obj *Object) (*WeakReference, error) {
	if obj == nil || obj.dead {
		return nil, fmt.Errorf("%w: cannot weakly reference a dead instance", ErrNotSupported)
	}
	if !obj.rtype.layout.UseWeakref {
		return nil, fmt.Errorf("%w: cannot create weak reference to %s instance", ErrNotSupported, obj.TypeName())
	}
	wr := vm.weakrefs.register(obj)
	obj.weakrefs = append(obj.weakrefs, wr)
	return wr, nil
}

// ---------------------------------------------------------------------------
// WeakRegistry: Tracks all weak references in the VM
// ---------------------------------------------------------------------------

// WeakRegistry manages all weak references created through a VM.
type WeakRegistry struct {
	refs   map[uint32]*WeakReference
	nextID uint32
	mu     sync.RWMutex
}

// NewWeakRegistry creates a new weak reference registry.
func NewWeakRegistry() *WeakRegistry {
	return &WeakRegistry{
		refs: make(map[uint32]*WeakReference),
	}
}

func (r *WeakRegistry) register(target *Object) *WeakReference {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	wr := &WeakReference{id: r.nextID, target: target}
	r.refs[wr.id] = wr
	return wr
}

// Lookup finds a live weak reference by ID.
func (r *WeakRegistry) Lookup(id uint32) *WeakReference {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.refs[id]
}

// Count returns the number of weak references whose target is alive.
func (r *WeakRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.refs)
}

// clearFor clears every weak reference to obj and runs their finalizers.
// Finalizers run without the registry lock held.
func (r *WeakRegistry) clearFor(obj *Object) int {
	refs := obj.weakrefs
	if len(refs) == 0 {
		return 0
	}
	obj.weakrefs = nil

	r.mu.Lock()
	for _, wr := range refs {
		delete(r.refs, wr.id)
	}
	r.mu.Unlock()

	for _, wr := range refs {
		wr.Clear()
	}
	for _, wr := range refs {
		if fn := wr.Finalizer(); fn != nil {
			fn(wr)
		}
	}
	return len(refs)
}
