package vm

import (
	"fmt"
	"strings"
)

// Method is a behaviour attached to a record type, called with the
// receiving instance.
type Method func(self *Object, args ...Value) (Value, error)

// Constructor builds an instance of t from call arguments. A custom
// constructor usually normalizes its arguments and then calls t.Init.
type Constructor func(t *RecordType, args []Value, kw Kwargs) (*Object, error)

// Mixin is a non-record base: it contributes methods but no fields.
type Mixin struct {
	Name    string
	Methods map[string]Method
}

// Declaration describes a record type to create.
type Declaration struct {
	// Module is the declaring module. Types are registered as Module::Name.
	Module string
	Name   string
	Fields []FieldSpec

	// Defaults fill the trailing own fields, in order.
	Defaults []Value
	// DefaultsByName sets defaults by field name, own or inherited. The
	// fields with defaults must still form a suffix of the field list.
	DefaultsByName map[string]Value

	// Array requests a homogeneous array of Slots anonymous slots instead
	// of named fields.
	Array bool
	Slots int

	Bases  []*RecordType
	Mixins []*Mixin

	Options Options
	// Config is the decorator layer; see ClsConfig.
	Config *Options

	Rename       bool
	InvalidNames []string

	Methods map[string]Method
	Attrs   map[string]Value
	New     Constructor
	Doc     string
}

// RecordType is a finalized record type. Its field list, defaults and
// options never change after creation.
type RecordType struct {
	vm     *VM
	name   string
	module string

	bases      []*RecordType
	layoutBase *RecordType
	mixins     []*Mixin

	layout       Layout
	options      TypeOptions
	inherit      Options
	isArray      bool
	firstDefault int
	fieldIndex   map[string]int
	descriptors  map[string]*Descriptor

	methods map[string]Method
	attrs   map[string]Value
	custom  Constructor
	build   func(args []Value, kw Kwargs) (*Object, error)
	doc     string
}

// typesMayCycle are field type tags that can hold arbitrary objects.
var typesMayCycle = map[string]bool{"any": true, "list": true, "object": true}

// NewRecordType runs the type factory: validate names, resolve options,
// compute the layout, synthesize the constructor, attach descriptors and
// register the finalized type. A failure in any phase returns a
// *TypeError and publishes nothing.
func (vm *VM) NewRecordType(decl Declaration) (*RecordType, error) {
	t := &RecordType{
		vm:      vm,
		name:    decl.Name,
		module:  decl.Module,
		mixins:  decl.Mixins,
		isArray: decl.Array,
		custom:  decl.New,
	}
	phase := PhaseValidating
	fail := func(err error) (*RecordType, error) {
		return nil, &TypeError{Type: decl.Name, Phase: phase, Err: err}
	}

	// Validating
	checker := newNameChecker(vm.reserved, decl.InvalidNames, decl.Rename)
	if err := checker.checkType(decl.Name); err != nil {
		return fail(err)
	}
	for _, b := range decl.Bases {
		if b == nil {
			return fail(fmt.Errorf("%w: nil base", ErrNaming))
		}
		if b.vm != vm {
			return fail(fmt.Errorf("%w: base %s belongs to another VM", ErrUnknownType, b.name))
		}
	}
	if decl.Array && len(decl.Fields) > 0 {
		return fail(fmt.Errorf("%w: array type cannot declare named fields", ErrNaming))
	}
	own, err := t.validateFields(checker, decl)
	if err != nil {
		return fail(err)
	}
	if len(decl.Bases) > 0 {
		t.bases = append([]*RecordType(nil), decl.Bases...)
		t.layoutBase = decl.Bases[0]
	}

	// ResolvingOptions
	phase = PhaseResolvingOptions
	inherited := Options{}
	for i := len(t.bases) - 1; i >= 0; i-- {
		inherited = overlay(inherited, t.bases[i].inherit)
	}
	decorator := Options{}
	if decl.Config != nil {
		decorator = *decl.Config
	}
	opts, err := Resolve(decl.Options, inherited, decorator, t.hasIter(decl.Methods))
	if err != nil {
		return fail(err)
	}
	var fieldReadonly []string
	for _, f := range own {
		if f.Readonly {
			fieldReadonly = append(fieldReadonly, f.Name)
		}
	}
	opts = opts.withReadonlyFields(fieldReadonly)
	if decl.Array {
		opts.Sequence = true
		opts.Iterable = true
	}
	if !decorator.GC.IsSet() && !decl.Options.GC.IsSet() && !opts.GC && t.fieldsMayCycle(own) {
		opts.GC = true
	}
	if opts.ArgsOnly && (len(decl.Defaults) > 0 || len(decl.DefaultsByName) > 0) {
		return fail(fmt.Errorf("%w: argsonly and defaults are mutually exclusive", ErrOptionType))
	}

	// ComputingLayout
	phase = PhaseComputingLayout
	layout, err := t.computeLayout(own, decl, opts)
	if err != nil {
		return fail(err)
	}
	opts.UseDict = layout.UseDict
	opts.UseWeakref = layout.UseWeakref
	t.layout = layout
	t.options = opts
	t.inherit = t.inheritLayer(inherited, decl.Options, decorator)
	if err := t.checkLayout(); err != nil {
		return fail(err)
	}

	// SynthesizingConstructor
	phase = PhaseSynthesizingConstructor
	t.build = t.synthesize()

	// AttachingDescriptors
	phase = PhaseAttachingDescriptors
	if err := t.attach(decl); err != nil {
		return fail(err)
	}
	t.doc = decl.Doc
	if t.doc == "" {
		t.doc = t.defaultDoc()
	}

	// Finalizing
	phase = PhaseFinalizing
	if old := vm.Types.Register(t); old != nil {
		vm.log.Debugf("%s %s: replaces an earlier definition", phase, t.QualifiedName())
	}
	phase = PhaseReady
	vm.log.Debugf("record type %s %s: slots=%d basicsize=%d options=[%s]",
		t.QualifiedName(), phase, t.layout.TotalSlots, t.layout.BasicSize, t.options)
	return t, nil
}

// inheritLayer is the option layer handed to derived types. Settings given
// by a declaration pass down as they were given; flags only forced on by
// another setting (hashable by readonly, iterable by sequence, mapping or
// an iteration method) stay unset so a derived type can still turn off
// what forced them.
func (t *RecordType) inheritLayer(inherited, explicit, decorator Options) Options {
	layer := overlay(overlay(inherited, explicit), decorator)
	layer.ReadonlyFields = t.options.ReadonlyFields()
	if t.isArray {
		layer.Sequence = On
	}
	if t.options.GC {
		layer.GC = On
	}
	if t.options.UseDict {
		layer.UseDict = On
	}
	if t.options.UseWeakref {
		layer.UseWeakref = On
	}
	return layer
}

// validateFields checks and, in rename mode, renames the own fields, then
// applies the positional and named defaults.
func (t *RecordType) validateFields(checker *nameChecker, decl Declaration) ([]FieldSpec, error) {
	own := make([]FieldSpec, 0, len(decl.Fields))
	seen := make(map[string]bool, len(decl.Fields))
	for i, f := range decl.Fields {
		name, err := checker.checkField(f.Name, i)
		if err != nil {
			return nil, err
		}
		if seen[name] {
			if !checker.rename || isDunder(name) {
				return nil, fmt.Errorf("%w: duplicate field name %q", ErrNaming, name)
			}
			name = fmt.Sprintf("_%d", i+1)
		}
		seen[name] = true
		f.Name = name
		f.owner = nil
		own = append(own, f)
	}

	if n := len(decl.Defaults); n > 0 {
		var named []int
		for i, f := range own {
			if f.Name != DictField && f.Name != WeakrefField {
				named = append(named, i)
			}
		}
		if n > len(named) {
			return nil, fmt.Errorf("%w: %d defaults for %d fields", ErrDefaultOrdering, n, len(named))
		}
		for j, v := range decl.Defaults {
			i := named[len(named)-n+j]
			own[i] = own[i].WithDefault(v)
		}
	}

	for name, v := range decl.DefaultsByName {
		found := false
		for i := range own {
			if own[i].Name == name {
				own[i] = own[i].WithDefault(v)
				found = true
				break
			}
		}
		if found {
			continue
		}
		if !t.inheritsField(decl.Bases, name) {
			return nil, fmt.Errorf("%w: default for unknown field %q", ErrNaming, name)
		}
		// Re-declaring an inherited field overrides only its default.
		own = append(own, FieldSpec{Name: name}.WithDefault(v))
	}
	return own, nil
}

func (t *RecordType) inheritsField(bases []*RecordType, name string) bool {
	for _, b := range bases {
		if _, ok := b.fieldIndex[name]; ok {
			return true
		}
	}
	return false
}

func (t *RecordType) hasIter(own map[string]Method) bool {
	if _, ok := own[IterMethod]; ok {
		return true
	}
	for _, m := range t.mixins {
		if _, ok := m.Methods[IterMethod]; ok {
			return true
		}
	}
	for _, b := range t.bases {
		if b.LookupMethod(IterMethod) != nil {
			return true
		}
	}
	return false
}

// fieldsMayCycle reports whether a declared field type could hold a
// reference back into a cycle.
func (t *RecordType) fieldsMayCycle(own []FieldSpec) bool {
	for _, f := range own {
		tag := f.Type
		if tag == "" {
			continue
		}
		if typesMayCycle[tag] || tag == t.name || t.vm.Types.HasName(tag) {
			return true
		}
	}
	return false
}

func (t *RecordType) computeLayout(own []FieldSpec, decl Declaration, opts TypeOptions) (Layout, error) {
	if decl.Array {
		for _, b := range t.bases {
			if !b.isArray {
				return Layout{}, fmt.Errorf("%w: array type %s cannot derive from record type %s", ErrNaming, t.name, b.name)
			}
			if b.layout.Size > decl.Slots {
				return Layout{}, fmt.Errorf("%w: array type %s has fewer slots than its base %s", ErrNaming, t.name, b.name)
			}
		}
		return ComputeArrayLayout(decl.Slots, opts.UseDict, opts.UseWeakref)
	}

	inherited, err := mergeBaseFields(t.bases)
	if err != nil {
		return Layout{}, err
	}
	layout, err := ComputeLayout(own, inherited, opts.UseDict, opts.UseWeakref)
	if err != nil {
		return Layout{}, err
	}
	for i := range layout.Fields {
		f := &layout.Fields[i]
		if i >= len(inherited) {
			f.owner = t
		}
		f.Readonly = opts.ReadonlyField(f.Name)
	}
	return layout, nil
}

// checkLayout verifies default contiguity and read-only names once the
// full field list is known.
func (t *RecordType) checkLayout() error {
	fields := t.layout.Fields
	t.fieldIndex = make(map[string]int, len(fields))
	t.firstDefault = len(fields)
	for i, f := range fields {
		t.fieldIndex[f.Name] = i
		if f.HasDefault && t.firstDefault == len(fields) {
			t.firstDefault = i
		}
		if !f.HasDefault && t.firstDefault < i {
			return fmt.Errorf("%w: field %q without default follows field %q with default",
				ErrDefaultOrdering, f.Name, fields[t.firstDefault].Name)
		}
	}
	for _, name := range t.options.ReadonlyFields() {
		if _, ok := t.fieldIndex[name]; !ok {
			return fmt.Errorf("%w: readonly names unknown field %q", ErrOptionType, name)
		}
	}
	return nil
}

func (t *RecordType) attach(decl Declaration) error {
	t.descriptors = make(map[string]*Descriptor, len(t.layout.Fields))
	for i, f := range t.layout.Fields {
		d, err := MakeDescriptor(t.layout.Offsets[i], f.Readonly)
		if err != nil {
			return err
		}
		t.descriptors[f.Name] = d
	}

	t.methods = make(map[string]Method, len(decl.Methods))
	for name, m := range decl.Methods {
		if _, clash := t.descriptors[name]; clash {
			return fmt.Errorf("%w: method %q shadows a field", ErrNaming, name)
		}
		t.methods[name] = m
	}
	t.attrs = make(map[string]Value, len(decl.Attrs))
	for name, v := range decl.Attrs {
		if _, clash := t.descriptors[name]; clash {
			return fmt.Errorf("%w: attribute %q shadows a field", ErrNaming, name)
		}
		if name == FieldsAttr || name == DefaultsAttr {
			return fmt.Errorf("%w: %s is reserved", ErrNaming, name)
		}
		t.attrs[name] = v
	}
	return nil
}

// ---------------------------------------------------------------------------
// Convenience constructors
// ---------------------------------------------------------------------------

// MakeRecordType creates a record type from field names ("x", or "x:int")
// with trailing defaults.
func (vm *VM) MakeRecordType(module, name string, fields []string, defaults []Value, bases []*RecordType, opts Options) (*RecordType, error) {
	return vm.NewRecordType(Declaration{
		Module:   module,
		Name:     name,
		Fields:   Fields(fields...),
		Defaults: defaults,
		Bases:    bases,
		Options:  opts,
	})
}

// MakeArrayType creates a type of n anonymous slots. Array types are always
// sequences.
func (vm *VM) MakeArrayType(module, name string, n int, opts Options) (*RecordType, error) {
	return vm.NewRecordType(Declaration{
		Module:  module,
		Name:    name,
		Array:   true,
		Slots:   n,
		Options: opts,
	})
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Name returns the type name.
func (t *RecordType) Name() string { return t.name }

// Module returns the declaring module.
func (t *RecordType) Module() string { return t.module }

// QualifiedName returns Module::Name, or Name for the empty module.
func (t *RecordType) QualifiedName() string { return typeKey(t.module, t.name) }

// VM returns the runtime that owns the type.
func (t *RecordType) VM() *VM { return t.vm }

// Layout returns the type's memory layout.
func (t *RecordType) Layout() Layout { return t.layout }

// Options returns the resolved options.
func (t *RecordType) Options() TypeOptions { return t.options }

// Bases returns the record bases in declaration order.
func (t *RecordType) Bases() []*RecordType {
	return append([]*RecordType(nil), t.bases...)
}

// IsArray returns true for types made by MakeArrayType.
func (t *RecordType) IsArray() bool { return t.isArray }

// Fields returns a copy of the field list in slot order.
func (t *RecordType) Fields() []FieldSpec {
	return append([]FieldSpec(nil), t.layout.Fields...)
}

// FieldNames returns the field names in slot order.
func (t *RecordType) FieldNames() []string { return t.layout.FieldNames() }

// NumFields returns the number of fixed positional slots.
func (t *RecordType) NumFields() int { return t.layout.Size }

// FieldIndex returns the slot index of the named field.
func (t *RecordType) FieldIndex(name string) (int, bool) {
	i, ok := t.fieldIndex[name]
	return i, ok
}

// Descriptor returns the accessor for the named field.
func (t *RecordType) Descriptor(name string) (*Descriptor, bool) {
	d, ok := t.descriptors[name]
	return d, ok
}

// Defaults returns the default values of the trailing fields.
func (t *RecordType) Defaults() []Value {
	fields := t.layout.Fields[t.firstDefault:]
	out := make([]Value, len(fields))
	for i, f := range fields {
		out[i] = f.Default
	}
	return out
}

// BasicSize is the instance size in bytes without GC header or items.
func (t *RecordType) BasicSize() uintptr { return t.layout.BasicSize }

// ItemSize is the size of one var-size item, zero for fixed-size types.
func (t *RecordType) ItemSize() uintptr {
	if t.options.VarSize {
		return SlotSize
	}
	return 0
}

// InstanceSize is the allocated size of obj, including the GC header when
// the type is tracked.
func (t *RecordType) InstanceSize(obj *Object) uintptr {
	size := t.layout.BasicSize + uintptr(len(obj.items))*SlotSize
	if t.options.GC {
		size += GCHeaderSize
	}
	return size
}

// Doc returns the type's documentation string.
func (t *RecordType) Doc() string { return t.doc }

func (t *RecordType) String() string { return t.QualifiedName() }

// IsSubtypeOf reports whether t is other or derives from it through any
// record base.
func (t *RecordType) IsSubtypeOf(other *RecordType) bool {
	if t == other {
		return true
	}
	for _, b := range t.bases {
		if b.IsSubtypeOf(other) {
			return true
		}
	}
	return false
}

// layoutDerived reports whether t reaches other through first bases only,
// that is with other's offsets preserved.
func (t *RecordType) layoutDerived(other *RecordType) bool {
	for c := t; c != nil; c = c.layoutBase {
		if c == other {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Namespace
// ---------------------------------------------------------------------------

// GetAttr returns a type-level attribute: __fields__, __defaults__, a
// namespace extra of the type or one of its bases.
func (t *RecordType) GetAttr(name string) (Value, error) {
	switch name {
	case FieldsAttr:
		names := t.FieldNames()
		vals := make([]Value, len(names))
		for i, n := range names {
			vals[i] = String(n)
		}
		return List(vals...), nil
	case DefaultsAttr:
		return List(t.Defaults()...), nil
	}
	if v, ok := t.attrs[name]; ok {
		return v, nil
	}
	for _, b := range t.bases {
		if v, err := b.GetAttr(name); err == nil {
			return v, nil
		}
	}
	return Nil, fmt.Errorf("%w: type %s has no attribute %q", ErrNoAttribute, t.name, name)
}

// SetAttr changes a namespace extra. The field list, the defaults and the
// field descriptors cannot be reassigned.
func (t *RecordType) SetAttr(name string, v Value) error {
	if err := t.checkProtected(name, "reassign"); err != nil {
		return err
	}
	t.attrs[name] = v
	return nil
}

// DelAttr removes a namespace extra.
func (t *RecordType) DelAttr(name string) error {
	if err := t.checkProtected(name, "delete"); err != nil {
		return err
	}
	if _, ok := t.attrs[name]; !ok {
		return fmt.Errorf("%w: type %s has no attribute %q", ErrNoAttribute, t.name, name)
	}
	delete(t.attrs, name)
	return nil
}

func (t *RecordType) checkProtected(name, verb string) error {
	if name == FieldsAttr || name == DefaultsAttr {
		return fmt.Errorf("%w: cannot %s %s of %s", ErrImmutable, verb, name, t.name)
	}
	if _, ok := t.descriptors[name]; ok {
		return fmt.Errorf("%w: cannot %s field descriptor %s.%s", ErrImmutable, verb, t.name, name)
	}
	return nil
}

// LookupMethod finds a method on the type, its mixins or its bases.
func (t *RecordType) LookupMethod(name string) Method {
	if m, ok := t.methods[name]; ok {
		return m
	}
	for _, mx := range t.mixins {
		if m, ok := mx.Methods[name]; ok {
			return m
		}
	}
	for _, b := range t.bases {
		if m := b.LookupMethod(name); m != nil {
			return m
		}
	}
	return nil
}

// CallMethod invokes a method on obj.
func (obj *Object) CallMethod(name string, args ...Value) (Value, error) {
	m := obj.rtype.LookupMethod(name)
	if m == nil {
		return Nil, fmt.Errorf("%w: %s has no method %q", ErrNoAttribute, obj.TypeName(), name)
	}
	return m(obj, args...)
}

// defaultDoc renders "Name(x:int, y=0)\n--\nCreate class Name instance".
func (t *RecordType) defaultDoc() string {
	var sb strings.Builder
	sb.WriteString(t.name)
	sb.WriteByte('(')
	if t.isArray {
		sb.WriteString("*args")
	}
	for i, f := range t.layout.Fields {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(f.Name)
		if f.Type != "" {
			sb.WriteByte(':')
			sb.WriteString(f.Type)
		}
		if f.HasDefault {
			sb.WriteByte('=')
			sb.WriteString(f.Default.Repr())
		}
	}
	if t.options.VarSize && !t.isArray {
		if len(t.layout.Fields) > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("*items")
	}
	if t.layout.UseDict {
		if len(t.layout.Fields) > 0 || t.isArray || t.options.VarSize {
			sb.WriteString(", ")
		}
		sb.WriteString("**kw")
	}
	sb.WriteString(")\n--\nCreate class ")
	sb.WriteString(t.name)
	sb.WriteString(" instance")
	return sb.String()
}
