package vm

import "fmt"

// JoinRecordTypes creates a type whose fields are the fields of types, in
// order. Type tags are kept; defaults and read-only marks are not. A field
// name appearing in two of the types is a DuplicateBaseField error.
func (vm *VM) JoinRecordTypes(module, name string, types []*RecordType, opts Options) (*RecordType, error) {
	var fields []FieldSpec
	from := make(map[string]string)
	for _, t := range types {
		if t == nil || t.isArray {
			return nil, &TypeError{Type: name, Phase: PhaseValidating,
				Err: fmt.Errorf("%w: only named record types can be joined", ErrNaming)}
		}
		for _, f := range t.layout.Fields {
			if prev, dup := from[f.Name]; dup {
				return nil, &TypeError{Type: name, Phase: PhaseValidating,
					Err: fmt.Errorf("%w: field %q is defined by both %s and %s", ErrDuplicateBaseField, f.Name, prev, t.name)}
			}
			from[f.Name] = t.name
			fields = append(fields, FieldSpec{Name: f.Name, Type: f.Type})
		}
	}
	return vm.NewRecordType(Declaration{
		Module:  module,
		Name:    name,
		Fields:  fields,
		Options: opts,
	})
}
