package vm

// Dict is the insertion-ordered attribute dictionary held in an instance's
// dict slot. It only exists on types created with use_dict.
type Dict struct {
	keys   []string
	values map[string]Value
}

// NewDict creates an empty dictionary.
func NewDict() *Dict {
	return &Dict{values: make(map[string]Value)}
}

// Get returns the value stored under key.
func (d *Dict) Get(key string) (Value, bool) {
	if d == nil {
		return Nil, false
	}
	v, ok := d.values[key]
	return v, ok
}

// Set stores value under key, returning the previous value if any.
func (d *Dict) Set(key string, value Value) (Value, bool) {
	old, ok := d.values[key]
	if !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
	return old, ok
}

// Delete removes key, returning the removed value.
func (d *Dict) Delete(key string) (Value, bool) {
	old, ok := d.values[key]
	if !ok {
		return Nil, false
	}
	delete(d.values, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
	return old, true
}

// Len returns the number of entries.
func (d *Dict) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

// Keys returns the keys in insertion order.
func (d *Dict) Keys() []string {
	if d == nil {
		return nil
	}
	out := make([]string, len(d.keys))
	copy(out, d.keys)
	return out
}

// Range calls fn for each entry in insertion order until fn returns false.
func (d *Dict) Range(fn func(key string, value Value) bool) {
	if d == nil {
		return
	}
	for _, k := range d.keys {
		if !fn(k, d.values[k]) {
			return
		}
	}
}

// Keywords returns the entries as keyword arguments.
func (d *Dict) Keywords() Kwargs {
	if d == nil || len(d.keys) == 0 {
		return nil
	}
	out := make(Kwargs, 0, len(d.keys))
	for _, k := range d.keys {
		out = append(out, Keyword{Name: k, Value: d.values[k]})
	}
	return out
}

func (d *Dict) equal(other *Dict, seen pairSet) bool {
	if d.Len() != other.Len() {
		return false
	}
	eq := true
	d.Range(func(k string, v Value) bool {
		ov, ok := other.Get(k)
		if !ok || !equalValues(v, ov, seen) {
			eq = false
		}
		return eq
	})
	return eq
}

// Keyword is a named constructor argument.
type Keyword struct {
	Name  string
	Value Value
}

// Kwargs is an ordered list of keyword arguments.
type Kwargs []Keyword

// KW builds a keyword argument.
func KW(name string, v Value) Keyword {
	return Keyword{Name: name, Value: v}
}

// Lookup returns the value of the named keyword.
func (kw Kwargs) Lookup(name string) (Value, bool) {
	for _, k := range kw {
		if k.Name == name {
			return k.Value, true
		}
	}
	return Nil, false
}
