package vm

import (
	"fmt"
)

// Instance memory model. An instance is a header (type pointer and
// reference count) followed by one reference-sized slot per field, then the
// optional dict slot and weak-reference slot. Collector-tracked instances
// carry an extra GC header in front of the object.
const (
	HeaderSize   uintptr = 16
	SlotSize     uintptr = 8
	GCHeaderSize uintptr = 16
)

// FieldSpec declares one named field.
type FieldSpec struct {
	Name       string
	Type       string // optional declared type tag
	Default    Value
	HasDefault bool
	Readonly   bool

	owner *RecordType // type that first declared the field
}

// WithDefault returns a copy of f with a default value.
func (f FieldSpec) WithDefault(v Value) FieldSpec {
	f.Default = v
	f.HasDefault = true
	return f
}

// Owner returns the record type that declared the field, or nil while the
// declaration is still being built.
func (f FieldSpec) Owner() *RecordType { return f.owner }

// Layout is the fixed memory layout of a record type.
type Layout struct {
	// Fields lists named fields in slot order. Empty for array types.
	Fields []FieldSpec
	// Size is the number of fixed positional slots.
	Size int
	// Offsets holds the byte offset of each positional slot.
	Offsets []uintptr

	UseDict       bool
	UseWeakref    bool
	DictOffset    uintptr // 0 when absent
	WeakrefOffset uintptr // 0 when absent

	// TotalSlots counts positional slots plus dict and weakref slots.
	TotalSlots int
	// BasicSize is the instance size without GC header or var-size items.
	BasicSize uintptr
}

// SlotOffset returns the byte offset of positional slot i.
func SlotOffset(i int) uintptr {
	return HeaderSize + uintptr(i)*SlotSize
}

// SlotIndex converts a slot byte offset back to a positional index.
// Returns -1 for offsets inside the header or not slot-aligned.
func SlotIndex(offset uintptr) int {
	if offset < HeaderSize || (offset-HeaderSize)%SlotSize != 0 {
		return -1
	}
	return int((offset - HeaderSize) / SlotSize)
}

// Offset returns the byte offset of the named field.
func (l Layout) Offset(name string) (uintptr, bool) {
	for i, f := range l.Fields {
		if f.Name == name {
			return l.Offsets[i], true
		}
	}
	return 0, false
}

// FieldNames returns the field names in slot order.
func (l Layout) FieldNames() []string {
	names := make([]string, len(l.Fields))
	for i, f := range l.Fields {
		names[i] = f.Name
	}
	return names
}

// ComputeLayout merges own fields onto the already merged inherited fields
// and assigns offsets.
//
// Inherited fields keep their positions, so a derived instance is layout
// compatible with its base's descriptors. An own field may re-declare an
// inherited one only to override its default. The pseudo-fields __dict__
// and __weakref__ are removed and switch on the matching slot.
func ComputeLayout(own, inherited []FieldSpec, useDict, useWeakref bool) (Layout, error) {
	fields := make([]FieldSpec, len(inherited), len(inherited)+len(own))
	copy(fields, inherited)

	pos := make(map[string]int, cap(fields))
	for i, f := range fields {
		pos[f.Name] = i
	}
	nInherited := len(fields)

	for _, f := range own {
		switch f.Name {
		case DictField:
			useDict = true
			continue
		case WeakrefField:
			useWeakref = true
			continue
		}
		i, ok := pos[f.Name]
		if !ok {
			pos[f.Name] = len(fields)
			fields = append(fields, f)
			continue
		}
		if i >= nInherited {
			return Layout{}, fmt.Errorf("%w: duplicate field %q", ErrNaming, f.Name)
		}
		base := fields[i]
		if f.Type != "" && f.Type != base.Type {
			return Layout{}, fmt.Errorf("%w: field %q redeclared as %s, inherited as %s",
				ErrNaming, f.Name, f.Type, typeTagOrAny(base.Type))
		}
		if f.Readonly && !base.Readonly {
			return Layout{}, fmt.Errorf("%w: field %q redeclared read-only", ErrNaming, f.Name)
		}
		if f.HasDefault {
			fields[i] = base.WithDefault(f.Default)
		}
	}

	l := Layout{
		Fields:     fields,
		Size:       len(fields),
		UseDict:    useDict,
		UseWeakref: useWeakref,
	}
	l.finish()
	return l, nil
}

// ComputeArrayLayout lays out n anonymous positional slots.
func ComputeArrayLayout(n int, useDict, useWeakref bool) (Layout, error) {
	if n < 0 {
		return Layout{}, fmt.Errorf("%w: negative slot count %d", ErrOptionType, n)
	}
	l := Layout{Size: n, UseDict: useDict, UseWeakref: useWeakref}
	l.finish()
	return l, nil
}

func (l *Layout) finish() {
	l.Offsets = make([]uintptr, l.Size)
	for i := range l.Offsets {
		l.Offsets[i] = SlotOffset(i)
	}
	next := l.Size
	if l.UseDict {
		l.DictOffset = SlotOffset(next)
		next++
	}
	if l.UseWeakref {
		l.WeakrefOffset = SlotOffset(next)
		next++
	}
	l.TotalSlots = next
	l.BasicSize = HeaderSize + uintptr(next)*SlotSize
}

// mergeBaseFields concatenates the fields of the record bases in
// declaration order. A field reached twice through a shared ancestor is
// kept once; two distinct fields with the same name are an error.
func mergeBaseFields(bases []*RecordType) ([]FieldSpec, error) {
	var merged []FieldSpec
	pos := make(map[string]int)
	for _, b := range bases {
		if b.isArray && b.layout.Size > 0 {
			return nil, fmt.Errorf("%w: array type %s cannot contribute named fields", ErrNaming, b.name)
		}
		for _, f := range b.layout.Fields {
			if i, ok := pos[f.Name]; ok {
				if merged[i].owner == f.owner {
					continue
				}
				return nil, fmt.Errorf("%w: field %q is defined by both %s and %s",
					ErrDuplicateBaseField, f.Name, ownerName(merged[i]), b.name)
			}
			pos[f.Name] = len(merged)
			merged = append(merged, f)
		}
	}
	return merged, nil
}

func ownerName(f FieldSpec) string {
	if f.owner == nil {
		return "?"
	}
	return f.owner.name
}

func typeTagOrAny(tag string) string {
	if tag == "" {
		return "untyped"
	}
	return tag
}
