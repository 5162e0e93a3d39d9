package vm

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Kind identifies the representation held by a Value.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindList
	KindRecord
	KindOpaque
)

var kindNames = [...]string{"nil", "bool", "int", "float", "string", "bytes", "list", "record", "opaque"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is a reference stored in a record slot.
//
// The zero Value is Nil. Lists are immutable once built; records are
// reference counted objects owned by the VM that allocated them; opaque
// values carry any other Go value through unchanged.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	list []Value
	obj  *Object
	any  any
}

// Nil is the absent value.
var Nil = Value{}

// Hasher lets opaque values participate in record hashing.
type Hasher interface {
	Hash64() uint64
}

// Equaler lets opaque values define equality.
type Equaler interface {
	Equal(other any) bool
}

// Bool creates a boolean value.
func Bool(b bool) Value {
	if b {
		return Value{kind: KindBool, i: 1}
	}
	return Value{kind: KindBool}
}

// Int creates an integer value.
func Int(n int64) Value {
	return Value{kind: KindInt, i: n}
}

// Float creates a float value.
func Float(f float64) Value {
	return Value{kind: KindFloat, f: f}
}

// String creates a string value.
func String(s string) Value {
	return Value{kind: KindString, s: s}
}

// Bytes creates a byte string value. The input is copied.
func Bytes(b []byte) Value {
	return Value{kind: KindBytes, s: string(b)}
}

// List creates an immutable list value. The input is copied.
func List(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindList, list: cp}
}

// Record wraps a record instance. A nil object yields Nil.
func Record(obj *Object) Value {
	if obj == nil {
		return Nil
	}
	return Value{kind: KindRecord, obj: obj}
}

// Opaque wraps an arbitrary Go value.
func Opaque(x any) Value {
	if x == nil {
		return Nil
	}
	return Value{kind: KindOpaque, any: x}
}

// FromGo converts common Go values (as produced by database drivers and
// config decoders) into Values. Unknown types become opaque.
func FromGo(x any) Value {
	switch v := x.(type) {
	case nil:
		return Nil
	case Value:
		return v
	case *Object:
		return Record(v)
	case bool:
		return Bool(v)
	case int:
		return Int(int64(v))
	case int8:
		return Int(int64(v))
	case int16:
		return Int(int64(v))
	case int32:
		return Int(int64(v))
	case int64:
		return Int(v)
	case uint8:
		return Int(int64(v))
	case uint16:
		return Int(int64(v))
	case uint32:
		return Int(int64(v))
	case uint64:
		if v > math.MaxInt64 {
			return Float(float64(v))
		}
		return Int(int64(v))
	case float32:
		return Float(float64(v))
	case float64:
		return Float(v)
	case string:
		return String(v)
	case []byte:
		return Bytes(v)
	case []any:
		items := make([]Value, len(v))
		for i, e := range v {
			items[i] = FromGo(e)
		}
		return Value{kind: KindList, list: items}
	case []Value:
		return List(v...)
	default:
		return Opaque(v)
	}
}

// Kind returns the value's kind.
func (v Value) Kind() Kind { return v.kind }

// IsNil returns true if v is Nil.
func (v Value) IsNil() bool { return v.kind == KindNil }

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, bool) { return v.i != 0, v.kind == KindBool }

// AsInt returns the integer payload.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsFloat returns the float payload, converting integers.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	}
	return 0, false
}

// AsString returns the string payload.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsBytes returns a copy of the byte string payload.
func (v Value) AsBytes() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	return []byte(v.s), true
}

// AsList returns the list items. The slice must not be modified.
func (v Value) AsList() ([]Value, bool) { return v.list, v.kind == KindList }

// AsRecord returns the record instance, or nil.
func (v Value) AsRecord() *Object {
	if v.kind != KindRecord {
		return nil
	}
	return v.obj
}

// forEachRecord calls fn for v if it is a record, or for every record
// nested in a list.
func forEachRecord(v Value, fn func(*Object)) {
	switch v.kind {
	case KindRecord:
		fn(v.obj)
	case KindList:
		for _, e := range v.list {
			forEachRecord(e, fn)
		}
	}
}

// AsOpaque returns the wrapped Go value.
func (v Value) AsOpaque() (any, bool) { return v.any, v.kind == KindOpaque }

// Interface converts v back to a plain Go value.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.i != 0
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindBytes:
		return []byte(v.s)
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = e.Interface()
		}
		return out
	case KindRecord:
		return v.obj
	case KindOpaque:
		return v.any
	}
	return nil
}

// ---------------------------------------------------------------------------
// Equality and hashing
// ---------------------------------------------------------------------------

// Equal reports whether a and b are equal. Integers and floats compare
// numerically; lists and records compare element-wise.
func Equal(a, b Value) bool {
	return equalValues(a, b, nil)
}

// pairSet holds the record pairs already under comparison. A pair met
// again is assumed equal, which makes cyclic records comparable.
type pairSet map[[2]*Object]bool

func equalValues(a, b Value, seen pairSet) bool {
	if a.kind != b.kind {
		if isNumber(a) && isNumber(b) {
			af, _ := a.AsFloat()
			bf, _ := b.AsFloat()
			return af == bf
		}
		return false
	}
	switch a.kind {
	case KindNil:
		return true
	case KindBool, KindInt:
		return a.i == b.i
	case KindFloat:
		return a.f == b.f
	case KindString, KindBytes:
		return a.s == b.s
	case KindList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !equalValues(a.list[i], b.list[i], seen) {
				return false
			}
		}
		return true
	case KindRecord:
		return a.obj.equal(b.obj, seen)
	case KindOpaque:
		if eq, ok := a.any.(Equaler); ok {
			return eq.Equal(b.any)
		}
		if reflect.TypeOf(a.any).Comparable() && reflect.TypeOf(a.any) == reflect.TypeOf(b.any) {
			return a.any == b.any
		}
		return false
	}
	return false
}

func isNumber(v Value) bool {
	return v.kind == KindInt || v.kind == KindFloat
}

// Hash returns a hash of v consistent with Equal. A record that contains
// itself cannot be hashed.
func (v Value) Hash() (uint64, error) {
	d := xxhash.New()
	if err := v.writeHash(d, nil); err != nil {
		return 0, err
	}
	return d.Sum64(), nil
}

func (v Value) writeHash(d *xxhash.Digest, seen map[*Object]bool) error {
	var buf [9]byte
	switch v.kind {
	case KindFloat:
		// Integral floats hash like the equal integer.
		if v.f == math.Trunc(v.f) && v.f >= math.MinInt64 && v.f <= math.MaxInt64 {
			return Int(int64(v.f)).writeHash(d, seen)
		}
		buf[0] = byte(KindFloat)
		putUint64(buf[1:], math.Float64bits(v.f))
		_, _ = d.Write(buf[:])
	case KindNil, KindBool, KindInt:
		buf[0] = byte(v.kind)
		putUint64(buf[1:], uint64(v.i))
		_, _ = d.Write(buf[:])
	case KindString, KindBytes:
		buf[0] = byte(v.kind)
		_, _ = d.Write(buf[:1])
		_, _ = d.WriteString(v.s)
	case KindList:
		buf[0] = byte(KindList)
		putUint64(buf[1:], uint64(len(v.list)))
		_, _ = d.Write(buf[:])
		for _, e := range v.list {
			if err := e.writeHash(d, seen); err != nil {
				return err
			}
		}
	case KindRecord:
		h, err := v.obj.hash(seen)
		if err != nil {
			return err
		}
		buf[0] = byte(KindRecord)
		putUint64(buf[1:], h)
		_, _ = d.Write(buf[:])
	case KindOpaque:
		h, ok := v.any.(Hasher)
		if !ok {
			return fmt.Errorf("%w: unhashable value of type %T", ErrNotSupported, v.any)
		}
		buf[0] = byte(KindOpaque)
		putUint64(buf[1:], h.Hash64())
		_, _ = d.Write(buf[:])
	}
	return nil
}

func putUint64(b []byte, x uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(x >> (8 * i))
	}
}

// ---------------------------------------------------------------------------
// Representation
// ---------------------------------------------------------------------------

// Repr returns the source-like representation of v.
func (v Value) Repr() string {
	var sb strings.Builder
	writeRepr(&sb, v, nil)
	return sb.String()
}

// String implements fmt.Stringer.
func (v Value) String() string {
	return v.Repr()
}

func writeRepr(sb *strings.Builder, v Value, seen map[*Object]bool) {
	switch v.kind {
	case KindNil:
		sb.WriteString("nil")
	case KindBool:
		if v.i != 0 {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case KindInt:
		sb.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat:
		sb.WriteString(formatFloat(v.f))
	case KindString:
		sb.WriteString(quote(v.s))
	case KindBytes:
		sb.WriteString("b")
		sb.WriteString(quote(v.s))
	case KindList:
		sb.WriteByte('(')
		for i, e := range v.list {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeRepr(sb, e, seen)
		}
		if len(v.list) == 1 {
			sb.WriteByte(',')
		}
		sb.WriteByte(')')
	case KindRecord:
		v.obj.writeRepr(sb, seen)
	case KindOpaque:
		switch x := v.any.(type) {
		case time.Time:
			sb.WriteString(x.Format(time.RFC3339Nano))
		case fmt.Stringer:
			sb.WriteString(x.String())
		default:
			fmt.Fprintf(sb, "%v", x)
		}
	}
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return s
	}
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

func quote(s string) string {
	var b bytes.Buffer
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\'':
			b.WriteString(`\'`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}
