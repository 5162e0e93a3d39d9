package vm

import (
	"errors"
	"testing"
)

type opaqueKey struct{ id int }

type hashedKey struct{ id uint64 }

func (k hashedKey) Hash64() uint64 { return k.id }

func TestValueEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"nil", Nil, Nil, true},
		{"int", Int(3), Int(3), true},
		{"int float", Int(3), Float(3), true},
		{"float mismatch", Float(3.5), Int(3), false},
		{"bool int", Bool(true), Int(1), false},
		{"string", String("a"), String("a"), true},
		{"string bytes", String("a"), Bytes([]byte("a")), false},
		{"list", List(Int(1), String("x")), List(Int(1), String("x")), true},
		{"list length", List(Int(1)), List(Int(1), Int(2)), false},
		{"opaque comparable", Opaque(opaqueKey{1}), Opaque(opaqueKey{1}), true},
		{"opaque differs", Opaque(opaqueKey{1}), Opaque(opaqueKey{2}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Equal(tt.a, tt.b); got != tt.want {
				t.Errorf("Equal(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestValueHashConsistentWithEqual(t *testing.T) {
	pairs := [][2]Value{
		{Int(7), Float(7)},
		{List(Int(1), String("a")), List(Float(1), String("a"))},
		{String("x"), String("x")},
	}
	for _, p := range pairs {
		ha, err := p[0].Hash()
		if err != nil {
			t.Fatalf("Hash(%v) failed: %v", p[0], err)
		}
		hb, err := p[1].Hash()
		if err != nil {
			t.Fatalf("Hash(%v) failed: %v", p[1], err)
		}
		if ha != hb {
			t.Errorf("Hash(%v) = %x, Hash(%v) = %x, want equal", p[0], ha, p[1], hb)
		}
	}

	h1, _ := String("a").Hash()
	h2, _ := Bytes([]byte("a")).Hash()
	if h1 == h2 {
		t.Error("string and bytes with the same content should hash differently")
	}
}

func TestValueHashOpaque(t *testing.T) {
	if _, err := Opaque(opaqueKey{1}).Hash(); !errors.Is(err, ErrNotSupported) {
		t.Errorf("Hash(opaque) error = %v, want ErrNotSupported", err)
	}
	if _, err := Opaque(hashedKey{42}).Hash(); err != nil {
		t.Errorf("Hash(Hasher) failed: %v", err)
	}
}

func TestValueRepr(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{Nil, "nil"},
		{Bool(true), "true"},
		{Int(-12), "-12"},
		{Float(2), "2.0"},
		{Float(0.25), "0.25"},
		{String("it's"), `'it\'s'`},
		{Bytes([]byte("ab")), "b'ab'"},
		{List(), "()"},
		{List(Int(1)), "(1,)"},
		{List(Int(1), String("a")), "(1, 'a')"},
	}
	for _, tt := range tests {
		if got := tt.v.Repr(); got != tt.want {
			t.Errorf("Repr() = %q, want %q", got, tt.want)
		}
	}
}

func TestFromGo(t *testing.T) {
	if v := FromGo(int32(5)); v.Kind() != KindInt {
		t.Errorf("FromGo(int32) kind = %s, want int", v.Kind())
	}
	if v := FromGo([]byte("x")); v.Kind() != KindBytes {
		t.Errorf("FromGo([]byte) kind = %s, want bytes", v.Kind())
	}
	v := FromGo([]any{int64(1), "a", nil})
	items, ok := v.AsList()
	if !ok || len(items) != 3 || !items[2].IsNil() {
		t.Errorf("FromGo([]any) = %v", v)
	}
	if got := v.Interface().([]any)[1]; got != "a" {
		t.Errorf("Interface()[1] = %v, want a", got)
	}
}
