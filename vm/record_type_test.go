package vm

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/tliron/commonlog"
)

func mustType(t *testing.T, vm *VM, decl Declaration) *RecordType {
	t.Helper()
	if decl.Module == "" {
		decl.Module = "test"
	}
	tp, err := vm.NewRecordType(decl)
	if err != nil {
		t.Fatalf("NewRecordType(%s) failed: %v", decl.Name, err)
	}
	return tp
}

func mustNew(t *testing.T, tp *RecordType, args ...Value) *Object {
	t.Helper()
	obj, err := tp.New(args...)
	if err != nil {
		t.Fatalf("%s.New failed: %v", tp.Name(), err)
	}
	return obj
}

func attr(t *testing.T, obj *Object, name string) Value {
	t.Helper()
	v, err := obj.GetAttr(name)
	if err != nil {
		t.Fatalf("GetAttr(%s) failed: %v", name, err)
	}
	return v
}

// ---------------------------------------------------------------------------
// Point scenarios
// ---------------------------------------------------------------------------

func TestPointPositionalRoundTrip(t *testing.T) {
	vm := NewVM()
	point := mustType(t, vm, Declaration{Name: "Point", Fields: Fields("x", "y")})

	p := mustNew(t, point, Int(1), Int(2))
	if got := p.Repr(); got != "Point(x=1, y=2)" {
		t.Errorf("repr = %q, want Point(x=1, y=2)", got)
	}
	if !Equal(attr(t, p, "x"), Int(1)) || !Equal(attr(t, p, "y"), Int(2)) {
		t.Errorf("fields = %v, %v", attr(t, p, "x"), attr(t, p, "y"))
	}

	if err := p.SetAttr("x", Int(10)); err != nil {
		t.Fatalf("SetAttr failed: %v", err)
	}
	if !Equal(attr(t, p, "x"), Int(10)) {
		t.Errorf("x = %v after set, want 10", attr(t, p, "x"))
	}
	if _, err := p.Hash(); !errors.Is(err, ErrNotSupported) {
		t.Errorf("mutable Point hash error = %v, want ErrNotSupported", err)
	}
	if err := p.SetAttr("color", String("red")); !errors.Is(err, ErrNoAttribute) {
		t.Errorf("unknown attribute without dict: err = %v, want ErrNoAttribute", err)
	}
}

func TestReadonlyPoint(t *testing.T) {
	vm := NewVM()
	point := mustType(t, vm, Declaration{Name: "Point", Fields: Fields("x", "y"), Options: Options{Readonly: On}})
	p := mustNew(t, point, Int(1), Int(2))

	for _, name := range []string{"x", "y"} {
		if err := p.SetAttr(name, Int(99)); !errors.Is(err, ErrImmutable) {
			t.Errorf("SetAttr(%s) error = %v, want ErrImmutable", name, err)
		}
	}
	if got := p.Repr(); got != "Point(x=1, y=2)" {
		t.Errorf("rejected writes changed the instance: %s", got)
	}

	h, err := p.Hash()
	if err != nil {
		t.Fatalf("readonly Point should be hashable: %v", err)
	}
	want, _ := List(Int(1), Int(2)).Hash()
	if h != want {
		t.Errorf("hash = %x, want tuple hash %x", h, want)
	}
	q := mustNew(t, point, Int(1), Int(2))
	hq, _ := q.Hash()
	if h != hq || !p.Equal(q) {
		t.Error("equal points should hash equal")
	}
}

func TestPerFieldReadonly(t *testing.T) {
	vm := NewVM()
	tp := mustType(t, vm, Declaration{
		Name:   "Account",
		Fields: []FieldSpec{{Name: "id", Readonly: true}, {Name: "balance"}},
	})
	a := mustNew(t, tp, Int(1), Int(100))
	if err := a.SetAttr("id", Int(2)); !errors.Is(err, ErrImmutable) {
		t.Errorf("SetAttr(id) error = %v, want ErrImmutable", err)
	}
	if err := a.SetAttr("balance", Int(50)); err != nil {
		t.Errorf("SetAttr(balance) failed: %v", err)
	}
	if tp.Options().Hashable {
		t.Error("a read-only field set alone should not make the type hashable")
	}
}

// ---------------------------------------------------------------------------
// Inheritance
// ---------------------------------------------------------------------------

func TestDerivedBasicSize(t *testing.T) {
	vm := NewVM()
	a := mustType(t, vm, Declaration{Name: "A", Fields: Fields("x", "y")})
	b := mustType(t, vm, Declaration{Name: "B", Fields: Fields("z"), Bases: []*RecordType{a}})

	if b.BasicSize() != a.BasicSize()+SlotSize {
		t.Errorf("B basic size = %d, want %d", b.BasicSize(), a.BasicSize()+SlotSize)
	}
	if b.NumFields() != a.NumFields()+1 {
		t.Errorf("len(B.fields) = %d, want %d", b.NumFields(), a.NumFields()+1)
	}
	if got := b.FieldNames(); !reflect.DeepEqual(got, []string{"x", "y", "z"}) {
		t.Errorf("B fields = %v", got)
	}
	if !b.IsSubtypeOf(a) || a.IsSubtypeOf(b) {
		t.Error("IsSubtypeOf should follow the base")
	}

	// A's descriptors work on B instances.
	obj := mustNew(t, b, Int(1), Int(2), Int(3))
	dx, _ := a.Descriptor("y")
	if v, _ := dx.Get(obj); !Equal(v, Int(2)) {
		t.Errorf("A.y on B instance = %v, want 2", v)
	}
	if fx := b.Fields()[0]; fx.Owner() != a {
		t.Errorf("x owner = %v, want A", fx.Owner())
	}
}

func TestInheritedOptions(t *testing.T) {
	vm := NewVM()
	a := mustType(t, vm, Declaration{Name: "A", Fields: Fields("x"), Options: Options{Sequence: On, ReadonlyFields: []string{"x"}}})
	b := mustType(t, vm, Declaration{Name: "B", Fields: Fields("y"), Bases: []*RecordType{a}})
	c := mustType(t, vm, Declaration{Name: "C", Fields: Fields("y"), Bases: []*RecordType{a}, Options: Options{Sequence: Off}})

	if !b.Options().Sequence {
		t.Error("B should inherit sequence")
	}
	if !b.Options().ReadonlyField("x") || b.Options().ReadonlyField("y") {
		t.Error("B should inherit read-only x only")
	}
	if c.Options().Sequence {
		t.Error("C's explicit sequence=false should override A")
	}
}

func TestDerivedFlagsNotInherited(t *testing.T) {
	vm := NewVM()
	frozen := mustType(t, vm, Declaration{Name: "Frozen", Fields: Fields("x"), Options: Options{Readonly: On}})
	thawed := mustType(t, vm, Declaration{Name: "Thawed", Fields: Fields("y"), Bases: []*RecordType{frozen}, Options: Options{Readonly: Off}})
	if !frozen.Options().Hashable {
		t.Error("Frozen should be hashable")
	}
	if thawed.Options().Readonly || thawed.Options().Hashable {
		t.Errorf("Thawed options = [%s], want neither readonly nor hashable", thawed.Options())
	}
	obj, err := thawed.New(Int(1), Int(2))
	if err != nil {
		t.Fatal(err)
	}
	if err := obj.SetAttr("x", Int(3)); err != nil {
		t.Errorf("SetAttr(x) on Thawed: %v", err)
	}
	if _, err := obj.Hash(); !errors.Is(err, ErrNotSupported) {
		t.Errorf("Hash() err = %v, want ErrNotSupported", err)
	}

	// An explicit hashable on the base still passes down.
	keyed := mustType(t, vm, Declaration{Name: "Keyed", Fields: Fields("k"), Options: Options{Hashable: On}})
	sub := mustType(t, vm, Declaration{Name: "SubKeyed", Fields: Fields("v"), Bases: []*RecordType{keyed}})
	if !sub.Options().Hashable {
		t.Error("SubKeyed should inherit explicit hashable")
	}

	seq := mustType(t, vm, Declaration{Name: "Seq", Fields: Fields("a"), Options: Options{Sequence: On}})
	plain := mustType(t, vm, Declaration{Name: "Plain", Fields: Fields("b"), Bases: []*RecordType{seq}, Options: Options{Sequence: Off}})
	if plain.Options().Iterable {
		t.Error("Plain should not stay iterable once sequence is turned off")
	}
}

func TestMultipleBases(t *testing.T) {
	vm := NewVM()
	root := mustType(t, vm, Declaration{Name: "Root", Fields: Fields("id")})
	left := mustType(t, vm, Declaration{Name: "Left", Fields: Fields("l"), Bases: []*RecordType{root}})
	right := mustType(t, vm, Declaration{Name: "Right", Fields: Fields("r"), Bases: []*RecordType{root}})

	both := mustType(t, vm, Declaration{Name: "Both", Fields: Fields("b"), Bases: []*RecordType{left, right}})
	if got := both.FieldNames(); !reflect.DeepEqual(got, []string{"id", "l", "r", "b"}) {
		t.Errorf("Both fields = %v, want [id l r b]", got)
	}
	if !both.IsSubtypeOf(right) {
		t.Error("Both should be a subtype of its second base")
	}

	other := mustType(t, vm, Declaration{Name: "Other", Fields: Fields("l")})
	_, err := vm.NewRecordType(Declaration{Module: "test", Name: "Clash", Bases: []*RecordType{left, other}})
	if !errors.Is(err, ErrDuplicateBaseField) {
		t.Errorf("clashing bases: err = %v, want ErrDuplicateBaseField", err)
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

func TestNamingErrors(t *testing.T) {
	tests := []struct {
		name string
		decl Declaration
	}{
		{"bad type name", Declaration{Name: "1Point"}},
		{"reserved type name", Declaration{Name: "self"}},
		{"bad field", Declaration{Name: "P", Fields: Fields("x-y")}},
		{"reserved field", Declaration{Name: "P", Fields: Fields("super")}},
		{"duplicate field", Declaration{Name: "P", Fields: Fields("x", "x")}},
		{"disallowed field", Declaration{Name: "P", Fields: Fields("_make"), InvalidNames: []string{"_make"}}},
		{"method shadows field", Declaration{Name: "P", Fields: Fields("x"), Methods: map[string]Method{"x": nil}}},
		{"unknown named default", Declaration{Name: "P", Fields: Fields("x"), DefaultsByName: map[string]Value{"q": Int(1)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm := NewVM()
			_, err := vm.NewRecordType(tt.decl)
			if !errors.Is(err, ErrNaming) {
				t.Fatalf("err = %v, want ErrNaming", err)
			}
			if vm.Types.Len() != 0 {
				t.Error("failed type creation registered a type")
			}
		})
	}
}

func TestRepeatedInheritedFieldRejected(t *testing.T) {
	vm := NewVM()
	a := mustType(t, vm, Declaration{Name: "A", Fields: Fields("x", "y")})

	_, err := vm.NewRecordType(Declaration{Name: "B", Bases: []*RecordType{a}, Fields: Fields("x", "x", "z")})
	if !errors.Is(err, ErrNaming) {
		t.Fatalf("err = %v, want ErrNaming", err)
	}
	var te *TypeError
	if !errors.As(err, &te) || te.Phase != PhaseValidating {
		t.Errorf("err = %v, want a TypeError in the validating phase", err)
	}
	if vm.Types.HasName("B") {
		t.Error("rejected type was registered")
	}

	// One re-declaration of an inherited field is still an override.
	b := mustType(t, vm, Declaration{Name: "B", Bases: []*RecordType{a}, Fields: Fields("x", "z")})
	if got := b.FieldNames(); !reflect.DeepEqual(got, []string{"x", "y", "z"}) {
		t.Errorf("FieldNames() = %v, want [x y z]", got)
	}
}

func TestRenameMode(t *testing.T) {
	vm := NewVM()
	tp := mustType(t, vm, Declaration{
		Name:   "Row",
		Fields: Fields("id", "class-name", "nil", "id", "__extra__"),
		Rename: true,
	})
	want := []string{"id", "_2", "_3", "_4", "__extra__"}
	if got := tp.FieldNames(); !reflect.DeepEqual(got, want) {
		t.Errorf("fields = %v, want %v", got, want)
	}
}

func TestCustomReservedWords(t *testing.T) {
	vm := NewVM(WithReservedWords("class"))
	if _, err := vm.NewRecordType(Declaration{Name: "P", Fields: Fields("class")}); !errors.Is(err, ErrNaming) {
		t.Errorf("err = %v, want ErrNaming", err)
	}
	mustType(t, vm, Declaration{Name: "Q", Fields: Fields("self")})
}

func TestDefaultOrdering(t *testing.T) {
	vm := NewVM()
	_, err := vm.NewRecordType(Declaration{
		Name:           "P",
		Fields:         Fields("x", "y"),
		DefaultsByName: map[string]Value{"x": Int(0)},
	})
	if !errors.Is(err, ErrDefaultOrdering) {
		t.Fatalf("err = %v, want ErrDefaultOrdering", err)
	}
	var te *TypeError
	if !errors.As(err, &te) || te.Phase != PhaseComputingLayout || te.Type != "P" {
		t.Errorf("TypeError = %+v, want phase computing layout", te)
	}

	_, err = vm.NewRecordType(Declaration{Name: "Q", Fields: Fields("x"), Defaults: []Value{Int(1), Int(2)}})
	if !errors.Is(err, ErrDefaultOrdering) {
		t.Errorf("too many defaults: err = %v, want ErrDefaultOrdering", err)
	}

	// A base default followed by a derived field without one.
	a := mustType(t, vm, Declaration{Name: "A", Fields: Fields("x"), Defaults: []Value{Int(0)}})
	if _, err := vm.NewRecordType(Declaration{Name: "B", Fields: Fields("y"), Bases: []*RecordType{a}}); !errors.Is(err, ErrDefaultOrdering) {
		t.Errorf("derived field after default: err = %v, want ErrDefaultOrdering", err)
	}
}

func TestDefaultsSuffix(t *testing.T) {
	vm := NewVM()
	tp := mustType(t, vm, Declaration{Name: "P", Fields: Fields("x", "y", "z"), Defaults: []Value{Int(5), Int(6)}})
	p := mustNew(t, tp, Int(1))
	if got := p.Repr(); got != "P(x=1, y=5, z=6)" {
		t.Errorf("repr = %q", got)
	}
	if got := tp.Defaults(); len(got) != 2 || !Equal(got[0], Int(5)) {
		t.Errorf("Defaults() = %v", got)
	}

	// Overriding an inherited default by name.
	q := mustType(t, vm, Declaration{Name: "Q", Bases: []*RecordType{tp}, DefaultsByName: map[string]Value{"z": Int(0)}})
	if got := mustNew(t, q, Int(1)).Repr(); got != "Q(x=1, y=5, z=0)" {
		t.Errorf("repr = %q", got)
	}
}

func TestArgsOnlyWithDefaults(t *testing.T) {
	_, err := NewVM().NewRecordType(Declaration{
		Name:     "P",
		Fields:   Fields("x", "y"),
		Defaults: []Value{Int(0)},
		Options:  Options{ArgsOnly: On},
	})
	if !errors.Is(err, ErrOptionType) {
		t.Errorf("err = %v, want ErrOptionType", err)
	}
	var te *TypeError
	if errors.As(err, &te) && te.Phase != PhaseResolvingOptions {
		t.Errorf("phase = %s, want resolving options", te.Phase)
	}
}

func TestUnknownReadonlyField(t *testing.T) {
	_, err := NewVM().NewRecordType(Declaration{Name: "P", Fields: Fields("x"), Options: Options{ReadonlyFields: []string{"y"}}})
	if !errors.Is(err, ErrOptionType) {
		t.Errorf("err = %v, want ErrOptionType", err)
	}
}

// ---------------------------------------------------------------------------
// Collector registration
// ---------------------------------------------------------------------------

func TestGCRegistration(t *testing.T) {
	vm := NewVM()
	plain := mustType(t, vm, Declaration{Name: "Plain", Fields: Fields("x:int")})
	if plain.Options().GC {
		t.Error("plain type should not be collected")
	}
	node := mustType(t, vm, Declaration{Name: "Node", Fields: Fields("value", "next:Node")})
	if !node.Options().GC {
		t.Error("self-referencing type should be collected")
	}
	holder := mustType(t, vm, Declaration{Name: "Holder", Fields: Fields("item:Plain")})
	if !holder.Options().GC {
		t.Error("field typed with a record type should switch gc on")
	}
	anyField := mustType(t, vm, Declaration{Name: "Box", Fields: Fields("v:any")})
	if !anyField.Options().GC {
		t.Error("field typed any should switch gc on")
	}
	off := mustType(t, vm, Declaration{Name: "Off", Fields: Fields("v:any"), Options: Options{GC: Off}})
	if off.Options().GC {
		t.Error("explicit gc=false must win")
	}

	n := mustNew(t, node, Int(1), Nil)
	if !vm.Collector().IsTracked(n) {
		t.Error("gc instance should be tracked")
	}
	pl := mustNew(t, plain, Int(1))
	if vm.Collector().IsTracked(pl) {
		t.Error("plain instance should not be tracked")
	}
	if node.InstanceSize(n) != node.BasicSize()+GCHeaderSize {
		t.Errorf("InstanceSize = %d, want basic size plus GC header", node.InstanceSize(n))
	}
	vm.Release(n)
	if vm.Collector().IsTracked(n) {
		t.Error("deallocated instance should be untracked")
	}
}

// ---------------------------------------------------------------------------
// Type namespace
// ---------------------------------------------------------------------------

func TestTypeAttributeProtection(t *testing.T) {
	vm := NewVM()
	tp := mustType(t, vm, Declaration{
		Name:   "P",
		Fields: Fields("x", "y"),
		Attrs:  map[string]Value{"origin": String("zero")},
	})

	for _, name := range []string{FieldsAttr, DefaultsAttr, "x"} {
		if err := tp.SetAttr(name, Nil); !errors.Is(err, ErrImmutable) {
			t.Errorf("SetAttr(%s) error = %v, want ErrImmutable", name, err)
		}
		if err := tp.DelAttr(name); !errors.Is(err, ErrImmutable) {
			t.Errorf("DelAttr(%s) error = %v, want ErrImmutable", name, err)
		}
	}
	fields, _ := tp.GetAttr(FieldsAttr)
	if !Equal(fields, List(String("x"), String("y"))) {
		t.Errorf("__fields__ = %v", fields)
	}

	if err := tp.SetAttr("origin", String("one")); err != nil {
		t.Errorf("SetAttr(origin) failed: %v", err)
	}
	p := mustNew(t, tp, Int(1), Int(2))
	if v := attr(t, p, "origin"); !Equal(v, String("one")) {
		t.Errorf("instance sees origin = %v", v)
	}
	if err := tp.DelAttr("origin"); err != nil {
		t.Errorf("DelAttr(origin) failed: %v", err)
	}
	if _, err := tp.GetAttr("origin"); !errors.Is(err, ErrNoAttribute) {
		t.Errorf("deleted attribute still present: %v", err)
	}
}

func TestDoc(t *testing.T) {
	vm := NewVM()
	tp := mustType(t, vm, Declaration{Name: "Point", Fields: Fields("x:int", "y"), Defaults: []Value{Int(0)}})
	if got, want := tp.Doc(), "Point(x:int, y=0)\n--\nCreate class Point instance"; got != want {
		t.Errorf("Doc() = %q, want %q", got, want)
	}
	kw := mustType(t, vm, Declaration{Name: "Bag", Fields: Fields("a"), Options: Options{UseDict: On}})
	if got, want := kw.Doc(), "Bag(a, **kw)\n--\nCreate class Bag instance"; got != want {
		t.Errorf("Doc() = %q, want %q", got, want)
	}
	custom := mustType(t, vm, Declaration{Name: "C", Doc: "Custom."})
	if custom.Doc() != "Custom." {
		t.Errorf("Doc() = %q", custom.Doc())
	}
}

func TestMixinIterForcesIterable(t *testing.T) {
	vm := NewVM()
	rev := &Mixin{Name: "Reversed", Methods: map[string]Method{
		IterMethod: func(self *Object, _ ...Value) (Value, error) {
			vals := self.AsTuple()
			out := make([]Value, len(vals))
			for i, v := range vals {
				out[len(vals)-1-i] = v
			}
			return List(out...), nil
		},
	}}
	tp := mustType(t, vm, Declaration{Name: "P", Fields: Fields("a", "b"), Mixins: []*Mixin{rev}})
	if !tp.Options().Iterable {
		t.Fatal("an __iter__ method should force iterable")
	}
	seq, err := mustNew(t, tp, Int(1), Int(2)).Iter()
	if err != nil {
		t.Fatal(err)
	}
	var got []Value
	for v := range seq {
		got = append(got, v)
	}
	if len(got) != 2 || !Equal(got[0], Int(2)) {
		t.Errorf("iteration = %v, want (2, 1)", got)
	}

	derived := mustType(t, vm, Declaration{Name: "Q", Bases: []*RecordType{tp}})
	if !derived.Options().Iterable {
		t.Error("an inherited __iter__ method should force iterable")
	}
}

func TestTypeTable(t *testing.T) {
	vm := NewVM()
	a := mustType(t, vm, Declaration{Module: "geo", Name: "Point", Fields: Fields("x")})
	b := mustType(t, vm, Declaration{Module: "chart", Name: "Point", Fields: Fields("x", "y")})
	if vm.Types.Lookup("geo", "Point") != a || vm.Types.LookupQualified("chart::Point") != b {
		t.Error("types should be registered per module")
	}
	all := vm.Types.All()
	if len(all) != 2 || all[0] != b {
		t.Errorf("All() = %v, want sorted by qualified name", all)
	}
}

type debugRecorder struct {
	commonlog.MockLogger
	lines []string
}

func (r *debugRecorder) Debugf(format string, args ...any) {
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}

func TestFactoryPhasesLogged(t *testing.T) {
	rec := &debugRecorder{}
	vm := NewVM(WithLogger(rec))
	mustType(t, vm, Declaration{Name: "P", Fields: Fields("x")})
	mustType(t, vm, Declaration{Name: "P", Fields: Fields("x", "y")})

	want := []string{
		"record type test::P ready: slots=1",
		"finalizing test::P: replaces an earlier definition",
		"record type test::P ready: slots=2",
	}
	if len(rec.lines) != len(want) {
		t.Fatalf("logged %d lines, want %d: %q", len(rec.lines), len(want), rec.lines)
	}
	for i, w := range want {
		if !strings.HasPrefix(rec.lines[i], w) {
			t.Errorf("line %d = %q, want prefix %q", i, rec.lines[i], w)
		}
	}
}
