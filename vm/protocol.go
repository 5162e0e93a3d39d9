package vm

import (
	"fmt"
	"iter"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ---------------------------------------------------------------------------
// Attribute access
// ---------------------------------------------------------------------------

// GetAttr returns a field, a dict extra or a type-level attribute.
func (obj *Object) GetAttr(name string) (Value, error) {
	if d, ok := obj.rtype.descriptors[name]; ok {
		return d.Get(obj)
	}
	if v, ok := obj.dict.Get(name); ok {
		return v, nil
	}
	if v, err := obj.rtype.GetAttr(name); err == nil {
		return v, nil
	}
	return Nil, fmt.Errorf("%w: %s object has no attribute %q", ErrNoAttribute, obj.TypeName(), name)
}

// SetAttr stores a field through its descriptor, or a dict extra when the
// type has a dict slot. A rejected write leaves the instance unchanged.
func (obj *Object) SetAttr(name string, v Value) error {
	if d, ok := obj.rtype.descriptors[name]; ok {
		return d.Set(obj, v)
	}
	if obj.dict == nil {
		return fmt.Errorf("%w: %s object has no attribute %q", ErrNoAttribute, obj.TypeName(), name)
	}
	obj.storeDict(name, v)
	return nil
}

// DelAttr removes a dict extra. Fields cannot be deleted.
func (obj *Object) DelAttr(name string) error {
	if _, ok := obj.rtype.descriptors[name]; ok {
		return fmt.Errorf("%w: cannot delete field %s.%s", ErrImmutable, obj.TypeName(), name)
	}
	if obj.dict == nil {
		return fmt.Errorf("%w: %s object has no attribute %q", ErrNoAttribute, obj.TypeName(), name)
	}
	old, ok := obj.dict.Delete(name)
	if !ok {
		return fmt.Errorf("%w: %s object has no attribute %q", ErrNoAttribute, obj.TypeName(), name)
	}
	release(old)
	return nil
}

// ---------------------------------------------------------------------------
// Sequence protocol
// ---------------------------------------------------------------------------

// Len returns the number of fields plus var-size items.
func (obj *Object) Len() (int, error) {
	o := obj.rtype.options
	if !o.Sequence && !o.Mapping {
		return 0, fmt.Errorf("%w: %s object has no len()", ErrNotSupported, obj.TypeName())
	}
	return obj.size + len(obj.items), nil
}

// Index returns the value at position i. Negative positions count from
// the end.
func (obj *Object) Index(i int) (Value, error) {
	if !obj.rtype.options.Sequence {
		return Nil, fmt.Errorf("%w: %s object is not subscriptable", ErrNotSupported, obj.TypeName())
	}
	i, err := obj.position(i)
	if err != nil {
		return Nil, err
	}
	if i < obj.size {
		return obj.GetSlot(i), nil
	}
	return obj.items[i-obj.size], nil
}

// SetIndex stores v at position i.
func (obj *Object) SetIndex(i int, v Value) error {
	if !obj.rtype.options.Sequence {
		return fmt.Errorf("%w: %s object does not support item assignment", ErrNotSupported, obj.TypeName())
	}
	i, err := obj.position(i)
	if err != nil {
		return err
	}
	if i >= obj.size {
		if obj.rtype.options.Readonly {
			return fmt.Errorf("%w: %s object is read-only", ErrImmutable, obj.TypeName())
		}
		obj.storeItem(i-obj.size, v)
		return nil
	}
	if obj.rtype.isArray {
		if obj.rtype.options.Readonly {
			return fmt.Errorf("%w: %s object is read-only", ErrImmutable, obj.TypeName())
		}
		obj.storeSlot(i, v)
		return nil
	}
	return obj.rtype.descriptors[obj.rtype.layout.Fields[i].Name].Set(obj, v)
}

func (obj *Object) position(i int) (int, error) {
	n := obj.size + len(obj.items)
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return 0, fmt.Errorf("%w: %s index %d (length %d)", ErrIndexOutOfRange, obj.TypeName(), i, n)
	}
	return i, nil
}

// ---------------------------------------------------------------------------
// Mapping protocol
// ---------------------------------------------------------------------------

// Key returns the field or dict extra named key.
func (obj *Object) Key(key string) (Value, error) {
	if !obj.rtype.options.Mapping {
		return Nil, fmt.Errorf("%w: %s object is not a mapping", ErrNotSupported, obj.TypeName())
	}
	if d, ok := obj.rtype.descriptors[key]; ok {
		return d.Get(obj)
	}
	if v, ok := obj.dict.Get(key); ok {
		return v, nil
	}
	return Nil, fmt.Errorf("%w: %s has no key %q", ErrNoAttribute, obj.TypeName(), key)
}

// SetKey stores v under key.
func (obj *Object) SetKey(key string, v Value) error {
	if !obj.rtype.options.Mapping {
		return fmt.Errorf("%w: %s object is not a mapping", ErrNotSupported, obj.TypeName())
	}
	return obj.SetAttr(key, v)
}

// ---------------------------------------------------------------------------
// Iteration
// ---------------------------------------------------------------------------

// Iter returns the instance's values: fields then items, or the list
// returned by an __iter__ method.
func (obj *Object) Iter() (iter.Seq[Value], error) {
	if !obj.rtype.options.Iterable {
		return nil, fmt.Errorf("%w: %s object is not iterable", ErrNotSupported, obj.TypeName())
	}
	if m := obj.rtype.LookupMethod(IterMethod); m != nil {
		res, err := m(obj)
		if err != nil {
			return nil, err
		}
		vals, ok := res.AsList()
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s returned %s, not a list", ErrNotSupported, obj.TypeName(), IterMethod, res.Kind())
		}
		return valuesSeq(vals), nil
	}
	return valuesSeq(obj.AsTuple()), nil
}

func valuesSeq(vals []Value) iter.Seq[Value] {
	return func(yield func(Value) bool) {
		for _, v := range vals {
			if !yield(v) {
				return
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Hashing and equality
// ---------------------------------------------------------------------------

// Hash hashes the field and item values like a tuple of them.
func (obj *Object) Hash() (uint64, error) {
	return obj.hash(nil)
}

func (obj *Object) hash(seen map[*Object]bool) (uint64, error) {
	if !obj.rtype.options.Hashable {
		return 0, fmt.Errorf("%w: unhashable type %s", ErrNotSupported, obj.TypeName())
	}
	if seen[obj] {
		return 0, fmt.Errorf("%w: %s instance contains itself", ErrNotSupported, obj.TypeName())
	}
	if seen == nil {
		seen = make(map[*Object]bool)
	}
	seen[obj] = true
	defer delete(seen, obj)

	d := xxhash.New()
	if err := List(obj.AsTuple()...).writeHash(d, seen); err != nil {
		return 0, err
	}
	return d.Sum64(), nil
}

// Equal compares field values, items and dict extras. Instances of
// unrelated types are never equal.
func (obj *Object) Equal(other *Object) bool {
	return obj.equal(other, nil)
}

func (obj *Object) equal(other *Object, seen pairSet) bool {
	if obj == other {
		return true
	}
	if obj == nil || other == nil {
		return false
	}
	key := [2]*Object{obj, other}
	if seen[key] {
		return true
	}
	if !obj.rtype.layoutDerived(other.rtype) && !other.rtype.layoutDerived(obj.rtype) {
		return false
	}
	if obj.size != other.size || len(obj.items) != len(other.items) {
		return false
	}
	if seen == nil {
		seen = make(pairSet)
	}
	seen[key] = true
	for i := 0; i < obj.size; i++ {
		if !equalValues(obj.GetSlot(i), other.GetSlot(i), seen) {
			return false
		}
	}
	for i := range obj.items {
		if !equalValues(obj.items[i], other.items[i], seen) {
			return false
		}
	}
	return obj.dict.equal(other.dict, seen)
}

// ---------------------------------------------------------------------------
// Representation
// ---------------------------------------------------------------------------

// Repr renders Name(x=1, y=2), with items and dict extras appended. Array
// instances render positionally.
func (obj *Object) Repr() string {
	var sb strings.Builder
	obj.writeRepr(&sb, nil)
	return sb.String()
}

func (obj *Object) String() string {
	return obj.Repr()
}

func (obj *Object) writeRepr(sb *strings.Builder, seen map[*Object]bool) {
	if obj == nil {
		sb.WriteString("nil")
		return
	}
	if seen[obj] {
		sb.WriteString(obj.TypeName())
		sb.WriteString("(...)")
		return
	}
	if m := obj.rtype.LookupMethod(ReprMethod); m != nil {
		if res, err := m(obj); err == nil {
			if s, ok := res.AsString(); ok {
				sb.WriteString(s)
				return
			}
		}
	}
	if seen == nil {
		seen = make(map[*Object]bool)
	}
	seen[obj] = true
	defer delete(seen, obj)

	sb.WriteString(obj.TypeName())
	sb.WriteByte('(')
	sep := func(i int) {
		if i > 0 {
			sb.WriteString(", ")
		}
	}
	n := 0
	for i := 0; i < obj.size; i++ {
		sep(n)
		n++
		if !obj.rtype.isArray {
			sb.WriteString(obj.rtype.layout.Fields[i].Name)
			sb.WriteByte('=')
		}
		writeRepr(sb, obj.GetSlot(i), seen)
	}
	for _, v := range obj.items {
		sep(n)
		n++
		writeRepr(sb, v, seen)
	}
	obj.dict.Range(func(k string, v Value) bool {
		sep(n)
		n++
		sb.WriteString(k)
		sb.WriteByte('=')
		writeRepr(sb, v, seen)
		return true
	})
	sb.WriteByte(')')
}

// ---------------------------------------------------------------------------
// Conversions and copies
// ---------------------------------------------------------------------------

// AsTuple returns the field values followed by the var-size items.
func (obj *Object) AsTuple() []Value {
	out := make([]Value, 0, obj.size+len(obj.items))
	out = append(out, obj.AllSlots()...)
	return append(out, obj.items...)
}

// AsDict returns the named fields as an ordered dictionary.
func (obj *Object) AsDict() *Dict {
	d := NewDict()
	for i, f := range obj.rtype.layout.Fields {
		d.Set(f.Name, obj.GetSlot(i))
	}
	return d
}

// Copy returns a shallow copy holding new references to the same values.
func (obj *Object) Copy() *Object {
	var extras Kwargs
	if obj.dict != nil {
		extras = obj.dict.Keywords()
	}
	return obj.rtype.populate(obj.AllSlots(), obj.items, extras)
}

// Replace returns a new instance with the named fields replaced. Unknown
// names become dict extras when the type has a dict slot.
func (obj *Object) Replace(kw Kwargs) (*Object, error) {
	args := obj.AsTuple()
	extras := obj.dict.Keywords()
	for _, k := range kw {
		if i, ok := obj.rtype.fieldIndex[k.Name]; ok {
			args[i] = k.Value
			continue
		}
		if obj.dict == nil {
			return nil, fmt.Errorf("%w: %s has no field %q", ErrNoAttribute, obj.TypeName(), k.Name)
		}
		extras = setKeyword(extras, k)
	}
	return obj.rtype.Call(args, extras)
}

func setKeyword(kw Kwargs, k Keyword) Kwargs {
	for i := range kw {
		if kw[i].Name == k.Name {
			kw[i].Value = k.Value
			return kw
		}
	}
	return append(kw, k)
}

// ---------------------------------------------------------------------------
// Serialization hook
// ---------------------------------------------------------------------------

// Reduced is an instance reduced to its constructor arguments.
type Reduced struct {
	Type *RecordType
	Args []Value
	Dict Kwargs
}

// Reduce returns the type, the positional values and the dict extras.
// Rebuild re-invokes the constructor with them.
func (obj *Object) Reduce() Reduced {
	return Reduced{Type: obj.rtype, Args: obj.AsTuple(), Dict: obj.dict.Keywords()}
}

// Rebuild reconstructs an instance from its reduced form.
func (vm *VM) Rebuild(r Reduced) (*Object, error) {
	if r.Type == nil {
		return nil, fmt.Errorf("%w: reduced value has no type", ErrUnknownType)
	}
	if r.Type.vm != vm {
		return nil, fmt.Errorf("%w: %s belongs to another VM", ErrUnknownType, r.Type.QualifiedName())
	}
	return r.Type.Call(r.Args, r.Dict)
}
