// Package wire serializes record instances as canonical CBOR.
//
// An instance is written in its reduced form: the qualified type name, the
// positional values and the dict extras. Decoding looks the type up in the
// VM's type table and re-invokes its constructor, so defaults, read-only
// fields and var-size items round-trip the same way a caller would build
// them.
package wire

import (
	"fmt"

	"github.com/chazu/dataobj/vm"
	"github.com/fxamacker/cbor/v2"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// record is the wire form of a reduced instance.
type record struct {
	Type string    `cbor:"t"`
	Args []value   `cbor:"a"`
	Dict []keyword `cbor:"d,omitempty"`
}

type keyword struct {
	Name  string `cbor:"n"`
	Value value  `cbor:"v"`
}

// value is the wire form of a vm.Value. Kind selects the populated field.
type value struct {
	Kind  uint8   `cbor:"k"`
	Int   int64   `cbor:"i,omitempty"`
	Float float64 `cbor:"f,omitempty"`
	Str   string  `cbor:"s,omitempty"`
	Bytes []byte  `cbor:"b,omitempty"`
	List  []value `cbor:"l,omitempty"`
	Rec   *record `cbor:"r,omitempty"`
}

// Marshal serializes obj to CBOR bytes.
func Marshal(obj *vm.Object) ([]byte, error) {
	e := encoder{seen: make(map[*vm.Object]bool)}
	r, err := e.record(obj)
	if err != nil {
		return nil, err
	}
	return cborEncMode.Marshal(r)
}

// MarshalValue serializes any value that can be encoded.
func MarshalValue(v vm.Value) ([]byte, error) {
	e := encoder{seen: make(map[*vm.Object]bool)}
	w, err := e.value(v)
	if err != nil {
		return nil, err
	}
	return cborEncMode.Marshal(w)
}

// Unmarshal rebuilds an instance using the types registered with machine.
// The caller owns one reference to the result.
func Unmarshal(machine *vm.VM, data []byte) (*vm.Object, error) {
	var r record
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("wire: unmarshal record: %w", err)
	}
	d := &decoder{vm: machine}
	defer d.releaseNested()
	return d.record(&r)
}

// UnmarshalValue is Unmarshal for values of any kind. The caller owns one
// reference to each record at the top level of the result.
func UnmarshalValue(machine *vm.VM, data []byte) (vm.Value, error) {
	var w value
	if err := cbor.Unmarshal(data, &w); err != nil {
		return vm.Nil, fmt.Errorf("wire: unmarshal value: %w", err)
	}
	d := &decoder{vm: machine}
	defer d.releaseNested()
	return d.value(w)
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

type encoder struct {
	seen map[*vm.Object]bool
}

func (e encoder) record(obj *vm.Object) (*record, error) {
	if obj == nil || !obj.IsAlive() {
		return nil, fmt.Errorf("wire: cannot encode a dead instance")
	}
	if e.seen[obj] {
		return nil, fmt.Errorf("wire: %w: reference cycle through %s", vm.ErrNotSupported, obj.TypeName())
	}
	e.seen[obj] = true
	defer delete(e.seen, obj)

	red := obj.Reduce()
	r := &record{Type: red.Type.QualifiedName(), Args: make([]value, len(red.Args))}
	for i, a := range red.Args {
		w, err := e.value(a)
		if err != nil {
			return nil, err
		}
		r.Args[i] = w
	}
	for _, k := range red.Dict {
		w, err := e.value(k.Value)
		if err != nil {
			return nil, err
		}
		r.Dict = append(r.Dict, keyword{Name: k.Name, Value: w})
	}
	return r, nil
}

func (e encoder) value(v vm.Value) (value, error) {
	w := value{Kind: uint8(v.Kind())}
	switch v.Kind() {
	case vm.KindNil:
	case vm.KindBool:
		b, _ := v.AsBool()
		if b {
			w.Int = 1
		}
	case vm.KindInt:
		w.Int, _ = v.AsInt()
	case vm.KindFloat:
		w.Float, _ = v.AsFloat()
	case vm.KindString:
		w.Str, _ = v.AsString()
	case vm.KindBytes:
		w.Bytes, _ = v.AsBytes()
	case vm.KindList:
		items, _ := v.AsList()
		w.List = make([]value, len(items))
		for i, item := range items {
			iw, err := e.value(item)
			if err != nil {
				return value{}, err
			}
			w.List[i] = iw
		}
	case vm.KindRecord:
		r, err := e.record(v.AsRecord())
		if err != nil {
			return value{}, err
		}
		w.Rec = r
	default:
		x, _ := v.AsOpaque()
		return value{}, fmt.Errorf("wire: %w: cannot encode %T", vm.ErrNotSupported, x)
	}
	return w, nil
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

type decoder struct {
	vm *vm.VM

	// Records built as constructor arguments. The enclosing constructor
	// takes its own references, so ours are dropped when decoding ends.
	depth  int
	nested []*vm.Object
}

func (d *decoder) releaseNested() {
	for _, obj := range d.nested {
		d.vm.Release(obj)
	}
	d.nested = nil
}

func (d *decoder) record(r *record) (*vm.Object, error) {
	if r == nil {
		return nil, fmt.Errorf("wire: missing record")
	}
	t := d.vm.Types.LookupQualified(r.Type)
	if t == nil {
		return nil, fmt.Errorf("wire: %w: %s", vm.ErrUnknownType, r.Type)
	}

	d.depth++
	defer func() { d.depth-- }()
	args := make([]vm.Value, len(r.Args))
	for i, w := range r.Args {
		v, err := d.value(w)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	var kw vm.Kwargs
	for _, k := range r.Dict {
		v, err := d.value(k.Value)
		if err != nil {
			return nil, err
		}
		kw = append(kw, vm.KW(k.Name, v))
	}
	return d.vm.Rebuild(vm.Reduced{Type: t, Args: args, Dict: kw})
}

func (d *decoder) value(w value) (vm.Value, error) {
	switch vm.Kind(w.Kind) {
	case vm.KindNil:
		return vm.Nil, nil
	case vm.KindBool:
		return vm.Bool(w.Int != 0), nil
	case vm.KindInt:
		return vm.Int(w.Int), nil
	case vm.KindFloat:
		return vm.Float(w.Float), nil
	case vm.KindString:
		return vm.String(w.Str), nil
	case vm.KindBytes:
		return vm.Bytes(w.Bytes), nil
	case vm.KindList:
		items := make([]vm.Value, len(w.List))
		for i, iw := range w.List {
			v, err := d.value(iw)
			if err != nil {
				return vm.Nil, err
			}
			items[i] = v
		}
		return vm.List(items...), nil
	case vm.KindRecord:
		obj, err := d.record(w.Rec)
		if err != nil {
			return vm.Nil, err
		}
		if d.depth > 0 {
			d.nested = append(d.nested, obj)
		}
		return vm.Record(obj), nil
	}
	return vm.Nil, fmt.Errorf("wire: unknown value kind %d", w.Kind)
}
