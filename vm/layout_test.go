package vm

import (
	"errors"
	"reflect"
	"testing"
)

func TestComputeLayoutOffsets(t *testing.T) {
	l, err := ComputeLayout(Fields("x", "y", "z"), nil, false, false)
	if err != nil {
		t.Fatalf("ComputeLayout failed: %v", err)
	}
	want := []uintptr{16, 24, 32}
	if !reflect.DeepEqual(l.Offsets, want) {
		t.Errorf("Offsets = %v, want %v", l.Offsets, want)
	}
	if l.TotalSlots != 3 || l.BasicSize != 40 {
		t.Errorf("TotalSlots = %d, BasicSize = %d, want 3, 40", l.TotalSlots, l.BasicSize)
	}
	if off, ok := l.Offset("y"); !ok || off != 24 {
		t.Errorf("Offset(y) = %d, %v", off, ok)
	}
}

func TestComputeLayoutPseudoFields(t *testing.T) {
	l, err := ComputeLayout(Fields("a", DictField, "b", WeakrefField), nil, false, false)
	if err != nil {
		t.Fatal(err)
	}
	if got := l.FieldNames(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("FieldNames() = %v, want [a b]", got)
	}
	if !l.UseDict || !l.UseWeakref {
		t.Error("pseudo-fields should switch on dict and weakref slots")
	}
	if l.DictOffset != 32 || l.WeakrefOffset != 40 {
		t.Errorf("DictOffset = %d, WeakrefOffset = %d, want 32, 40", l.DictOffset, l.WeakrefOffset)
	}
	if l.BasicSize != HeaderSize+4*SlotSize {
		t.Errorf("BasicSize = %d, want %d", l.BasicSize, HeaderSize+4*SlotSize)
	}
}

func TestComputeLayoutInherited(t *testing.T) {
	base := Fields("x:int", "y")
	l, err := ComputeLayout([]FieldSpec{FieldSpec{Name: "y"}.WithDefault(Int(0)), {Name: "z"}}, base, false, false)
	if err != nil {
		t.Fatal(err)
	}
	if got := l.FieldNames(); !reflect.DeepEqual(got, []string{"x", "y", "z"}) {
		t.Errorf("FieldNames() = %v, want [x y z]", got)
	}
	if !l.Fields[1].HasDefault {
		t.Error("re-declared y should carry the new default")
	}
	if off, _ := l.Offset("x"); off != 16 {
		t.Errorf("inherited x moved to offset %d", off)
	}
}

func TestComputeLayoutConflicts(t *testing.T) {
	base := Fields("x:int")
	tests := []struct {
		name string
		own  []FieldSpec
	}{
		{"type tag changed", Fields("x:str")},
		{"readonly added", []FieldSpec{{Name: "x", Readonly: true}}},
		{"duplicate own", Fields("a", "a")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ComputeLayout(tt.own, base, false, false); !errors.Is(err, ErrNaming) {
				t.Errorf("err = %v, want ErrNaming", err)
			}
		})
	}
}

func TestComputeArrayLayout(t *testing.T) {
	l, err := ComputeArrayLayout(3, true, false)
	if err != nil {
		t.Fatal(err)
	}
	if l.Size != 3 || len(l.Fields) != 0 || l.DictOffset != 40 {
		t.Errorf("layout = %+v", l)
	}
	if _, err := ComputeArrayLayout(-1, false, false); !errors.Is(err, ErrOptionType) {
		t.Errorf("negative count: err = %v, want ErrOptionType", err)
	}
}

func TestSlotIndex(t *testing.T) {
	tests := []struct {
		offset uintptr
		want   int
	}{
		{16, 0}, {24, 1}, {8, -1}, {17, -1}, {HeaderSize + 9*SlotSize, 9},
	}
	for _, tt := range tests {
		if got := SlotIndex(tt.offset); got != tt.want {
			t.Errorf("SlotIndex(%d) = %d, want %d", tt.offset, got, tt.want)
		}
	}
	for i := 0; i < 5; i++ {
		if got := SlotIndex(SlotOffset(i)); got != i {
			t.Errorf("SlotIndex(SlotOffset(%d)) = %d", i, got)
		}
	}
}

func TestDescriptorCacheShared(t *testing.T) {
	a, err := MakeDescriptor(24, false)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := MakeDescriptor(24, false)
	c, _ := MakeDescriptor(24, true)
	if a != b {
		t.Error("descriptors for the same offset should be shared")
	}
	if a == c {
		t.Error("read-only and writable descriptors must differ")
	}
	if a.Index() != 1 || !c.Readonly() {
		t.Errorf("Index() = %d, Readonly() = %v", a.Index(), c.Readonly())
	}
	if _, err := MakeDescriptor(12, false); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("misaligned offset: err = %v, want ErrIndexOutOfRange", err)
	}
	before := cachedDescriptors()
	MakeDescriptor(24, false)
	if cachedDescriptors() != before {
		t.Error("cache should not grow for an existing key")
	}
}

func TestDescriptorSharedAcrossTypes(t *testing.T) {
	vm := NewVM()
	a, _ := vm.MakeRecordType("m", "A", []string{"p", "q"}, nil, nil, Options{})
	b, _ := vm.MakeRecordType("m", "B", []string{"r", "s"}, nil, nil, Options{})
	da, _ := a.Descriptor("q")
	db, _ := b.Descriptor("s")
	if da != db {
		t.Error("fields at the same offset should share one descriptor")
	}
}

func TestDescriptorGetSet(t *testing.T) {
	vm := NewVM()
	tp, _ := vm.MakeRecordType("m", "Pair", []string{"a", "b"}, nil, nil, Options{})
	obj, _ := tp.New(Int(1), Int(2))

	d, _ := tp.Descriptor("b")
	if v, _ := d.Get(obj); !Equal(v, Int(2)) {
		t.Errorf("Get = %v, want 2", v)
	}
	if err := d.Set(obj, Int(5)); err != nil {
		t.Fatal(err)
	}
	if v, _ := obj.GetAttr("b"); !Equal(v, Int(5)) {
		t.Errorf("b = %v, want 5", v)
	}

	ro, _ := MakeDescriptor(d.Offset(), true)
	if err := ro.Set(obj, Int(9)); !errors.Is(err, ErrImmutable) {
		t.Errorf("read-only Set error = %v, want ErrImmutable", err)
	}
	if v, _ := obj.GetAttr("b"); !Equal(v, Int(5)) {
		t.Errorf("rejected write changed b to %v", v)
	}

	far, _ := MakeDescriptor(SlotOffset(7), false)
	if _, err := far.Get(obj); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("out of range Get error = %v, want ErrIndexOutOfRange", err)
	}
}
