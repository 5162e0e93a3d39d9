package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Instance construction
// ---------------------------------------------------------------------------

// New calls the type's constructor with positional arguments.
func (t *RecordType) New(args ...Value) (*Object, error) {
	return t.Call(args, nil)
}

// Make constructs an instance from a slice of positional values.
func (t *RecordType) Make(values []Value) (*Object, error) {
	return t.Call(values, nil)
}

// Call invokes the type's constructor. The returned instance holds one
// reference owned by the caller.
func (t *RecordType) Call(args []Value, kw Kwargs) (*Object, error) {
	if t.custom == nil {
		return t.build(args, kw)
	}
	obj, err := t.custom(t, args, kw)
	if err != nil {
		return nil, err
	}
	if obj == nil || !obj.rtype.IsSubtypeOf(t) {
		return nil, fmt.Errorf("%w: constructor of %s returned %s", ErrNotSupported, t.name, obj.TypeName())
	}
	return obj, nil
}

// Init runs the synthesized constructor, bypassing a custom one.
func (t *RecordType) Init(args []Value, kw Kwargs) (*Object, error) {
	return t.build(args, kw)
}

// synthesize picks the constructor closure for the resolved options.
func (t *RecordType) synthesize() func(args []Value, kw Kwargs) (*Object, error) {
	switch {
	case t.options.FastNew:
		return t.fastNew
	case t.isArray || t.options.ArgsOnly:
		return t.positionalNew
	default:
		return t.bindNew
	}
}

// bindNew binds positional and keyword arguments in field order, fills the
// trailing defaults and, with a dict slot, keeps unknown keywords as extras.
func (t *RecordType) bindNew(args []Value, kw Kwargs) (*Object, error) {
	n := t.layout.Size
	values, items, err := t.splitArgs(args)
	if err != nil {
		return nil, err
	}
	given := make([]bool, n)
	for i := range values {
		given[i] = true
	}
	values = append(values, make([]Value, n-len(values))...)

	var extras Kwargs
	for _, k := range kw {
		i, ok := t.fieldIndex[k.Name]
		switch {
		case ok && given[i]:
			return nil, fmt.Errorf("%w: %s() got multiple values for argument %q", ErrArity, t.name, k.Name)
		case ok:
			values[i] = k.Value
			given[i] = true
		case t.layout.UseDict:
			extras = append(extras, k)
		default:
			return nil, fmt.Errorf("%w: %s() got an unexpected keyword argument %q", ErrArity, t.name, k.Name)
		}
	}

	var missing []string
	for i, ok := range given {
		if ok {
			continue
		}
		if i >= t.firstDefault {
			values[i] = t.layout.Fields[i].Default
			continue
		}
		missing = append(missing, t.layout.Fields[i].Name)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s() missing required argument(s): %s", ErrArity, t.name, strings.Join(missing, ", "))
	}
	return t.populate(values, items, extras), nil
}

// positionalNew serves array and argsonly types: arguments are positional
// only and missing trailing ones are nil.
func (t *RecordType) positionalNew(args []Value, kw Kwargs) (*Object, error) {
	values, items, err := t.splitArgs(args)
	if err != nil {
		return nil, err
	}
	values = append(values, make([]Value, t.layout.Size-len(values))...)
	extras, err := t.extraKeywords(kw)
	if err != nil {
		return nil, err
	}
	return t.populate(values, items, extras), nil
}

// fastNew requires exactly one argument per field and skips defaults.
func (t *RecordType) fastNew(args []Value, kw Kwargs) (*Object, error) {
	n := t.layout.Size
	if len(args) < n || (len(args) > n && !t.options.VarSize) {
		return nil, fmt.Errorf("%w: %s() takes exactly %d arguments (%d given)", ErrArity, t.name, n, len(args))
	}
	extras, err := t.extraKeywords(kw)
	if err != nil {
		return nil, err
	}
	return t.populate(args[:n], args[n:], extras), nil
}

// splitArgs separates the fixed positional arguments from var-size items.
func (t *RecordType) splitArgs(args []Value) (values, items []Value, err error) {
	n := t.layout.Size
	if len(args) <= n {
		return append([]Value(nil), args...), nil, nil
	}
	if !t.options.VarSize {
		return nil, nil, fmt.Errorf("%w: %s() takes at most %d positional arguments (%d given)", ErrArity, t.name, n, len(args))
	}
	return append([]Value(nil), args[:n]...), args[n:], nil
}

// extraKeywords accepts keywords only as dict extras.
func (t *RecordType) extraKeywords(kw Kwargs) (Kwargs, error) {
	if len(kw) == 0 {
		return nil, nil
	}
	if !t.layout.UseDict {
		return nil, fmt.Errorf("%w: %s() takes no keyword arguments", ErrArity, t.name)
	}
	for _, k := range kw {
		if _, ok := t.fieldIndex[k.Name]; ok {
			return nil, fmt.Errorf("%w: %s() takes field %q positionally", ErrArity, t.name, k.Name)
		}
	}
	return kw, nil
}

// populate allocates the instance and stores every argument.
func (t *RecordType) populate(values, items []Value, extras Kwargs) *Object {
	obj := t.vm.allocate(t, len(items))
	for i, v := range values {
		obj.storeSlot(i, v)
	}
	for i, v := range items {
		obj.storeItem(i, v)
	}
	for _, k := range extras {
		obj.storeDict(k.Name, k.Value)
	}
	return obj
}
