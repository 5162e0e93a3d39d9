package vm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-set/v3"
)

// Flag is a tri-state option setting. Unset lets the value be inherited.
type Flag int8

const (
	Unset Flag = iota
	Off
	On
)

// FlagOf converts a bool to an explicit flag.
func FlagOf(b bool) Flag {
	if b {
		return On
	}
	return Off
}

// IsSet returns true if the flag was given explicitly.
func (f Flag) IsSet() bool { return f != Unset }

// Enabled returns true if the flag is On.
func (f Flag) Enabled() bool { return f == On }

func (f Flag) String() string {
	switch f {
	case On:
		return "on"
	case Off:
		return "off"
	}
	return "unset"
}

// or returns f when set, otherwise fallback.
func (f Flag) or(fallback Flag) Flag {
	if f.IsSet() {
		return f
	}
	return fallback
}

// Options are per-type behavioural settings as supplied by a declaration,
// a base type or a config decorator. Unset flags defer to the next layer.
type Options struct {
	Sequence    Flag
	Mapping     Flag
	Iterable    Flag
	Hashable    Flag
	GC          Flag
	UseDict     Flag
	UseWeakref  Flag
	FastNew     Flag
	DeepDealloc Flag
	ArgsOnly    Flag
	VarSize     Flag

	// Readonly On marks every field read-only. ReadonlyFields marks only the
	// named fields; it is ignored when Readonly is On.
	Readonly       Flag
	ReadonlyFields []string
}

// TypeOptions are the resolved options of a finalized record type.
type TypeOptions struct {
	Sequence    bool
	Mapping     bool
	Iterable    bool
	Hashable    bool
	GC          bool
	UseDict     bool
	UseWeakref  bool
	FastNew     bool
	DeepDealloc bool
	ArgsOnly    bool
	VarSize     bool
	Readonly    bool

	readonlyFields *set.Set[string]
}

// ReadonlyField reports whether the named field is read-only under these
// options.
func (o TypeOptions) ReadonlyField(name string) bool {
	if o.Readonly {
		return true
	}
	return o.readonlyFields != nil && o.readonlyFields.Contains(name)
}

// ReadonlyFields returns the explicitly read-only field names, sorted.
func (o TypeOptions) ReadonlyFields() []string {
	if o.readonlyFields == nil {
		return nil
	}
	names := o.readonlyFields.Slice()
	sort.Strings(names)
	return names
}

// String renders the enabled flags, e.g. "sequence,readonly".
func (o TypeOptions) String() string {
	var on []string
	add := func(b bool, name string) {
		if b {
			on = append(on, name)
		}
	}
	add(o.Sequence, "sequence")
	add(o.Mapping, "mapping")
	add(o.Iterable, "iterable")
	add(o.Hashable, "hashable")
	add(o.GC, "gc")
	add(o.UseDict, "use_dict")
	add(o.UseWeakref, "use_weakref")
	add(o.FastNew, "fast_new")
	add(o.DeepDealloc, "deep_dealloc")
	add(o.ArgsOnly, "argsonly")
	add(o.VarSize, "varsize")
	add(o.Readonly, "readonly")
	if names := o.ReadonlyFields(); len(names) > 0 && !o.Readonly {
		on = append(on, "readonly["+strings.Join(names, " ")+"]")
	}
	return strings.Join(on, ",")
}

// Resolve merges the three option layers. Precedence is decorator, then
// explicit, then inherited, then off. hasIter reports that the declaration
// or one of its bases defines an iteration method.
//
// Derived settings: readonly forces hashable, sequence or mapping forces
// iterable, and an iteration method forces iterable.
func Resolve(explicit, inherited, decorator Options, hasIter bool) (TypeOptions, error) {
	pick := func(d, e, i Flag) bool {
		return d.or(e.or(i)).Enabled()
	}

	opts := TypeOptions{
		Sequence:    pick(decorator.Sequence, explicit.Sequence, inherited.Sequence),
		Mapping:     pick(decorator.Mapping, explicit.Mapping, inherited.Mapping),
		Iterable:    pick(decorator.Iterable, explicit.Iterable, inherited.Iterable),
		Hashable:    pick(decorator.Hashable, explicit.Hashable, inherited.Hashable),
		GC:          pick(decorator.GC, explicit.GC, inherited.GC),
		UseDict:     pick(decorator.UseDict, explicit.UseDict, inherited.UseDict),
		UseWeakref:  pick(decorator.UseWeakref, explicit.UseWeakref, inherited.UseWeakref),
		FastNew:     pick(decorator.FastNew, explicit.FastNew, inherited.FastNew),
		DeepDealloc: pick(decorator.DeepDealloc, explicit.DeepDealloc, inherited.DeepDealloc),
		ArgsOnly:    pick(decorator.ArgsOnly, explicit.ArgsOnly, inherited.ArgsOnly),
		VarSize:     pick(decorator.VarSize, explicit.VarSize, inherited.VarSize),
		Readonly:    pick(decorator.Readonly, explicit.Readonly, inherited.Readonly),
	}

	// Name sets accumulate: a base's read-only fields stay read-only.
	var names []string
	for _, layer := range []Options{inherited, explicit, decorator} {
		for _, n := range layer.ReadonlyFields {
			if n == "" {
				return TypeOptions{}, fmt.Errorf("%w: readonly: empty field name", ErrOptionType)
			}
			names = append(names, n)
		}
	}
	if len(names) > 0 {
		opts.readonlyFields = set.From(names)
	}

	if opts.Readonly {
		opts.Hashable = true
	}
	if opts.Sequence || opts.Mapping || hasIter {
		opts.Iterable = true
	}
	return opts, nil
}

// withReadonlyFields returns a copy of o whose readonly name set is
// extended by names.
func (o TypeOptions) withReadonlyFields(names []string) TypeOptions {
	if len(names) == 0 {
		return o
	}
	all := set.From(names)
	if o.readonlyFields != nil {
		all.InsertSet(o.readonlyFields)
	}
	o.readonlyFields = all
	return o
}

// optionKeys maps option names as written in declarations to setters.
var optionKeys = map[string]func(*Options, Flag){
	"sequence":     func(o *Options, f Flag) { o.Sequence = f },
	"mapping":      func(o *Options, f Flag) { o.Mapping = f },
	"iterable":     func(o *Options, f Flag) { o.Iterable = f },
	"hashable":     func(o *Options, f Flag) { o.Hashable = f },
	"gc":           func(o *Options, f Flag) { o.GC = f },
	"use_dict":     func(o *Options, f Flag) { o.UseDict = f },
	"use_weakref":  func(o *Options, f Flag) { o.UseWeakref = f },
	"fast_new":     func(o *Options, f Flag) { o.FastNew = f },
	"deep_dealloc": func(o *Options, f Flag) { o.DeepDealloc = f },
	"argsonly":     func(o *Options, f Flag) { o.ArgsOnly = f },
	"varsize":      func(o *Options, f Flag) { o.VarSize = f },
}

// ParseOptions converts a loosely typed option map (from a declaration file
// or a caller) into Options. Values must be booleans, except readonly which
// may also be a list of field names.
func ParseOptions(m map[string]any) (Options, error) {
	var opts Options
	for key, raw := range m {
		if key == "readonly" {
			if err := parseReadonly(&opts, raw); err != nil {
				return Options{}, err
			}
			continue
		}
		setter, ok := optionKeys[key]
		if !ok {
			return Options{}, fmt.Errorf("%w: unknown option %q", ErrOptionType, key)
		}
		b, ok := raw.(bool)
		if !ok {
			return Options{}, fmt.Errorf("%w: option %q must be a bool, got %T", ErrOptionType, key, raw)
		}
		setter(&opts, FlagOf(b))
	}
	return opts, nil
}

func parseReadonly(opts *Options, raw any) error {
	switch v := raw.(type) {
	case bool:
		opts.Readonly = FlagOf(v)
		return nil
	case string:
		opts.ReadonlyFields = SplitFieldNames(v)
		return nil
	case []string:
		opts.ReadonlyFields = append([]string(nil), v...)
		return nil
	case []any:
		names := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return fmt.Errorf("%w: readonly entries must be field names, got %T", ErrOptionType, e)
			}
			names = append(names, s)
		}
		opts.ReadonlyFields = names
		return nil
	}
	return fmt.Errorf("%w: readonly must be a bool or field names, got %T", ErrOptionType, raw)
}

// ClsConfig returns a declaration transformer that applies cfg as the
// decorator layer of the option resolver. Settings in cfg take precedence
// over the declaration's own options and its bases'.
func ClsConfig(cfg Options) func(Declaration) Declaration {
	return func(d Declaration) Declaration {
		merged := cfg
		if d.Config != nil {
			merged = overlay(*d.Config, cfg)
		}
		d.Config = &merged
		return d
	}
}

// overlay returns base with every set flag of top applied.
func overlay(base, top Options) Options {
	out := base
	out.Sequence = top.Sequence.or(base.Sequence)
	out.Mapping = top.Mapping.or(base.Mapping)
	out.Iterable = top.Iterable.or(base.Iterable)
	out.Hashable = top.Hashable.or(base.Hashable)
	out.GC = top.GC.or(base.GC)
	out.UseDict = top.UseDict.or(base.UseDict)
	out.UseWeakref = top.UseWeakref.or(base.UseWeakref)
	out.FastNew = top.FastNew.or(base.FastNew)
	out.DeepDealloc = top.DeepDealloc.or(base.DeepDealloc)
	out.ArgsOnly = top.ArgsOnly.or(base.ArgsOnly)
	out.VarSize = top.VarSize.or(base.VarSize)
	out.Readonly = top.Readonly.or(base.Readonly)
	out.ReadonlyFields = append(append([]string(nil), base.ReadonlyFields...), top.ReadonlyFields...)
	return out
}
