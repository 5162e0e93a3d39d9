package vm

import (
	"sync/atomic"

	"github.com/hashicorp/go-set/v3"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("dataobj.vm")

// maxDeallocDepth bounds the native recursion of the deallocator. Deeper
// objects are parked and released by the outermost deallocation.
const maxDeallocDepth = 50

// ---------------------------------------------------------------------------
// VM: the host runtime for record types
// ---------------------------------------------------------------------------

// VM owns record types and their instances: the type table, the collector
// instances register with, weak references, and allocation accounting.
//
// Type creation and instance access follow the host's single-threaded
// model. Only the type table and the process-wide descriptor cache are
// safe for concurrent use.
type VM struct {
	Types *TypeTable

	collector Collector
	weakrefs  *WeakRegistry
	reserved  *set.Set[string]
	log       commonlog.Logger

	// deallocation state
	deallocDepth int
	trashcan     []*Object

	allocated atomic.Uint64
	freed     atomic.Uint64
}

// Option configures a VM.
type Option func(*VM)

// WithCollector sets the collector instances of gc-enabled types register
// with. The default is a TrackingCollector.
func WithCollector(c Collector) Option {
	return func(vm *VM) { vm.collector = c }
}

// WithReservedWords replaces the words that can never name a type or field.
func WithReservedWords(words ...string) Option {
	return func(vm *VM) { vm.reserved = set.From(words) }
}

// WithLogger sets the logger used for type creation and collection.
func WithLogger(l commonlog.Logger) Option {
	return func(vm *VM) { vm.log = l }
}

// NewVM creates a VM with an empty type table.
func NewVM(opts ...Option) *VM {
	vm := &VM{
		Types:    NewTypeTable(),
		weakrefs: NewWeakRegistry(),
		reserved: set.From(DefaultReservedWords),
		log:      log,
	}
	for _, opt := range opts {
		opt(vm)
	}
	if vm.collector == nil {
		vm.collector = NewTrackingCollector(vm)
	}
	return vm
}

// Collector returns the VM's collector.
func (vm *VM) Collector() Collector {
	return vm.collector
}

// Weakrefs returns the VM's weak reference registry.
func (vm *VM) Weakrefs() *WeakRegistry {
	return vm.weakrefs
}

// ---------------------------------------------------------------------------
// Reference counting
// ---------------------------------------------------------------------------

// Retain adds a reference to obj.
func (vm *VM) Retain(obj *Object) {
	if obj != nil && !obj.dead {
		obj.refcnt++
	}
}

// Release drops a reference to obj, deallocating it when none remain.
func (vm *VM) Release(obj *Object) {
	vm.decref(obj)
}

// release drops the references held by v.
func release(v Value) {
	forEachRecord(v, func(r *Object) { r.rtype.vm.decref(r) })
}

func (vm *VM) decref(obj *Object) {
	if obj == nil || obj.dead {
		return
	}
	obj.refcnt--
	if obj.refcnt > 0 {
		return
	}
	vm.dealloc(obj)
}

// dealloc destroys an object whose last reference was dropped.
//
// With deep_dealloc the owned sub-objects are released through an explicit
// worklist. Otherwise the deallocator recurses, but never deeper than
// maxDeallocDepth: objects beyond that depth are parked in the trashcan and
// released by the outermost call.
func (vm *VM) dealloc(obj *Object) {
	obj.dead = true
	if obj.rtype.options.DeepDealloc {
		vm.deallocIterative(obj)
		return
	}
	if vm.deallocDepth >= maxDeallocDepth {
		vm.trashcan = append(vm.trashcan, obj)
		return
	}
	vm.deallocDepth++
	vm.finalize(obj, release)
	if vm.deallocDepth == 1 {
		for len(vm.trashcan) > 0 {
			n := len(vm.trashcan) - 1
			next := vm.trashcan[n]
			vm.trashcan = vm.trashcan[:n]
			vm.finalize(next, release)
		}
	}
	vm.deallocDepth--
}

func (vm *VM) deallocIterative(obj *Object) {
	stack := []*Object{obj}
	drop := func(v Value) {
		forEachRecord(v, func(child *Object) {
			if child.dead {
				return
			}
			child.refcnt--
			if child.refcnt > 0 {
				return
			}
			if child.rtype.options.DeepDealloc {
				child.dead = true
				stack = append(stack, child)
				return
			}
			child.rtype.vm.dealloc(child)
		})
	}
	for len(stack) > 0 {
		n := len(stack) - 1
		next := stack[n]
		stack = stack[:n]
		next.rtype.vm.finalize(next, drop)
	}
}

// finalize untracks obj, clears weak references to it and releases every
// reference it holds.
func (vm *VM) finalize(obj *Object, drop func(Value)) {
	if obj.rtype.options.GC {
		vm.collector.Untrack(obj)
	}
	vm.weakrefs.clearFor(obj)
	obj.clearRefs(drop)
	obj.dict = nil
	vm.freed.Add(1)
}

// ---------------------------------------------------------------------------
// Allocation accounting
// ---------------------------------------------------------------------------

// Stats reports allocation counters.
type Stats struct {
	Allocated uint64 // instances ever allocated
	Freed     uint64 // instances deallocated
	Live      uint64 // Allocated - Freed
	Tracked   int    // instances registered with the collector
	Types     int    // registered record types
}

// Stats returns the VM's allocation counters.
func (vm *VM) Stats() Stats {
	alloc := vm.allocated.Load()
	freed := vm.freed.Load()
	s := Stats{
		Allocated: alloc,
		Freed:     freed,
		Live:      alloc - freed,
		Types:     vm.Types.Len(),
	}
	if c, ok := vm.collector.(interface{ Count() int }); ok {
		s.Tracked = c.Count()
	}
	return s
}

// allocate is the native allocator: a block for t with nitems var-size
// items, registered with the collector when the type asks for it.
func (vm *VM) allocate(t *RecordType, nitems int) *Object {
	obj := newObject(t, nitems)
	vm.allocated.Add(1)
	if t.options.GC {
		vm.collector.Track(obj)
	}
	return obj
}
