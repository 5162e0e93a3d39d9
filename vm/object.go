package vm

// Object is an instance of a record type.
//
// Objects use a hybrid slot layout optimized for common cases:
//   - 4 inline slots for records with ≤4 fields (most records)
//   - Overflow slice for records with >4 fields
//
// Var-size records keep their extra items in a separate slice. The dict
// slot and weak-reference slot are only populated when the type enables
// them.
type Object struct {
	rtype  *RecordType
	refcnt int32
	dead   bool
	size   int // fixed positional slots

	// Inline slots for the first 4 fields.
	slot0 Value
	slot1 Value
	slot2 Value
	slot3 Value

	// Overflow for records with more than 4 fields.
	overflow []Value

	items    []Value
	dict     *Dict
	weakrefs []*WeakReference
}

// NumInlineSlots is the number of slots stored directly in the Object struct.
const NumInlineSlots = 4

// ---------------------------------------------------------------------------
// Object creation
// ---------------------------------------------------------------------------

// newObject allocates an instance block for t holding one reference owned
// by the caller. All slots are Nil.
func newObject(t *RecordType, nitems int) *Object {
	obj := &Object{rtype: t, refcnt: 1, size: t.layout.Size}
	if obj.size > NumInlineSlots {
		obj.overflow = make([]Value, obj.size-NumInlineSlots)
	}
	if nitems > 0 {
		obj.items = make([]Value, nitems)
	}
	if t.options.UseDict {
		obj.dict = NewDict()
	}
	return obj
}

// ---------------------------------------------------------------------------
// Slot access
// ---------------------------------------------------------------------------

// GetSlot returns the value at the given slot index.
// Panics if index is out of range.
func (obj *Object) GetSlot(index int) Value {
	switch index {
	case 0:
		obj.checkIndex(index)
		return obj.slot0
	case 1:
		obj.checkIndex(index)
		return obj.slot1
	case 2:
		obj.checkIndex(index)
		return obj.slot2
	case 3:
		obj.checkIndex(index)
		return obj.slot3
	default:
		overflowIdx := index - NumInlineSlots
		if overflowIdx < 0 || overflowIdx >= len(obj.overflow) {
			panic("Object.GetSlot: index out of range")
		}
		return obj.overflow[overflowIdx]
	}
}

// setSlot writes a slot without touching reference counts.
func (obj *Object) setSlot(index int, value Value) {
	switch index {
	case 0:
		obj.checkIndex(index)
		obj.slot0 = value
	case 1:
		obj.checkIndex(index)
		obj.slot1 = value
	case 2:
		obj.checkIndex(index)
		obj.slot2 = value
	case 3:
		obj.checkIndex(index)
		obj.slot3 = value
	default:
		overflowIdx := index - NumInlineSlots
		if overflowIdx < 0 || overflowIdx >= len(obj.overflow) {
			panic("Object.setSlot: index out of range")
		}
		obj.overflow[overflowIdx] = value
	}
}

func (obj *Object) checkIndex(index int) {
	if index >= obj.size {
		panic("Object slot index out of range")
	}
}

// storeSlot stores a new reference in a slot and releases the old one.
func (obj *Object) storeSlot(index int, value Value) {
	retain(value)
	old := obj.GetSlot(index)
	obj.setSlot(index, value)
	release(old)
}

// storeItem is storeSlot for var-size items.
func (obj *Object) storeItem(index int, value Value) {
	retain(value)
	old := obj.items[index]
	obj.items[index] = value
	release(old)
}

// storeDict is storeSlot for dict entries.
func (obj *Object) storeDict(key string, value Value) {
	retain(value)
	old, _ := obj.dict.Set(key, value)
	release(old)
}

// NumSlots returns the number of fixed positional slots.
func (obj *Object) NumSlots() int {
	return obj.size
}

// NumItems returns the number of var-size items.
func (obj *Object) NumItems() int {
	return len(obj.items)
}

// Item returns var-size item i.
func (obj *Object) Item(i int) Value {
	return obj.items[i]
}

// Dict returns the instance dictionary, or nil if the type has no dict slot.
func (obj *Object) Dict() *Dict {
	return obj.dict
}

// Type returns the record type of the object.
func (obj *Object) Type() *RecordType {
	return obj.rtype
}

// TypeName returns the name of the object's type, or "?" if unknown.
func (obj *Object) TypeName() string {
	if obj == nil || obj.rtype == nil {
		return "?"
	}
	return obj.rtype.name
}

// RefCount returns the number of references currently held.
func (obj *Object) RefCount() int {
	return int(obj.refcnt)
}

// IsAlive returns false once the object has been deallocated.
func (obj *Object) IsAlive() bool {
	return !obj.dead
}

// ToValue wraps the object as a Value.
func (obj *Object) ToValue() Value {
	return Record(obj)
}

// ---------------------------------------------------------------------------
// Slot iteration
// ---------------------------------------------------------------------------

// ForEachSlot calls fn for each fixed slot in the object.
func (obj *Object) ForEachSlot(fn func(index int, value Value)) {
	for i := 0; i < obj.size; i++ {
		fn(i, obj.GetSlot(i))
	}
}

// AllSlots returns all fixed slot values as a slice.
// This allocates; use ForEachSlot for allocation-free iteration.
func (obj *Object) AllSlots() []Value {
	slots := make([]Value, obj.size)
	obj.ForEachSlot(func(i int, v Value) { slots[i] = v })
	return slots
}

// ForEachReference calls fn for every record referenced from a slot, an
// item or the dict. This is the traversal used by the collector.
func (obj *Object) ForEachReference(fn func(*Object)) {
	visit := func(v Value) { forEachRecord(v, fn) }
	obj.ForEachSlot(func(_ int, v Value) { visit(v) })
	for _, v := range obj.items {
		visit(v)
	}
	obj.dict.Range(func(_ string, v Value) bool {
		visit(v)
		return true
	})
}

// clearRefs empties every slot, item and dict entry, releasing the held
// references. Used by the deallocator and to break collected cycles.
func (obj *Object) clearRefs(drop func(Value)) {
	for i := 0; i < obj.size; i++ {
		old := obj.GetSlot(i)
		obj.setSlot(i, Nil)
		drop(old)
	}
	items := obj.items
	obj.items = nil
	for _, v := range items {
		drop(v)
	}
	if obj.dict != nil {
		d := obj.dict
		obj.dict = NewDict()
		d.Range(func(_ string, v Value) bool {
			drop(v)
			return true
		})
	}
}

// retain adds a reference to every record held by v.
func retain(v Value) {
	forEachRecord(v, func(r *Object) {
		if !r.dead {
			r.refcnt++
		}
	})
}
