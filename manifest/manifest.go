// Package manifest handles records.toml declaration files.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/chazu/dataobj/vm"
)

// FileName is the name of a declaration file.
const FileName = "records.toml"

// Manifest represents a records.toml file: the declaring module and the
// record and array types it declares.
type Manifest struct {
	Module  Module       `toml:"module"`
	Records []RecordDecl `toml:"record"`
	Arrays  []ArrayDecl  `toml:"array"`

	// Dir is the directory containing the records.toml file (set at load time).
	Dir string `toml:"-"`
}

// Module names the declaring module of every type in the file.
type Module struct {
	Name string `toml:"name"`
	// Reserved adds words that can never name a type or field.
	Reserved []string `toml:"reserved"`
}

// RecordDecl declares one record type.
type RecordDecl struct {
	Name string `toml:"name"`
	// Fields are written "x" or "x:int". The pseudo-fields __dict__ and
	// __weakref__ switch on the matching slot.
	Fields         []string       `toml:"fields"`
	Defaults       []any          `toml:"defaults"`
	NamedDefaults  map[string]any `toml:"named-defaults"`
	Bases          []string       `toml:"bases"`
	Options        map[string]any `toml:"options"`
	Rename         bool           `toml:"rename"`
	InvalidNames   []string       `toml:"invalid-names"`
	Doc            string         `toml:"doc"`
	ReadonlyFields []string       `toml:"readonly-fields"`
}

// ArrayDecl declares one array type.
type ArrayDecl struct {
	Name    string         `toml:"name"`
	Slots   int            `toml:"slots"`
	Options map[string]any `toml:"options"`
	Doc     string         `toml:"doc"`
}

// Load parses a records.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Parse decodes declaration file contents.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, err
	}

	// Defaults
	if m.Module.Name == "" {
		m.Module.Name = "main"
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a records.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Build creates every declared type in machine, arrays first, then records
// in an order where each base exists before the types deriving from it.
// Bases are names declared in the same file, or Module::Name of a type
// already registered with machine.
//
// Build is all-or-nothing: if any declaration fails, the types it already
// created are unregistered and any definitions they replaced are restored.
func (m *Manifest) Build(machine *vm.VM) (_ []*vm.RecordType, err error) {
	var built []*vm.RecordType
	local := make(map[string]*vm.RecordType)
	var replaced []*vm.RecordType
	defer func() {
		if err == nil {
			return
		}
		for i := len(built) - 1; i >= 0; i-- {
			if replaced[i] != nil {
				machine.Types.Register(replaced[i])
			} else {
				machine.Types.Unregister(built[i])
			}
		}
	}()

	for _, a := range m.Arrays {
		opts, err := vm.ParseOptions(a.Options)
		if err != nil {
			return nil, fmt.Errorf("array %s: %w", a.Name, err)
		}
		prev := machine.Types.Lookup(m.Module.Name, a.Name)
		t, err := machine.NewRecordType(vm.Declaration{
			Module:  m.Module.Name,
			Name:    a.Name,
			Array:   true,
			Slots:   a.Slots,
			Options: opts,
			Doc:     a.Doc,
		})
		if err != nil {
			return nil, err
		}
		local[a.Name] = t
		built = append(built, t)
		replaced = append(replaced, prev)
	}

	pending := append([]RecordDecl(nil), m.Records...)
	for len(pending) > 0 {
		var next []RecordDecl
		for _, r := range pending {
			bases, ready := m.lookupBases(machine, local, r.Bases)
			if !ready {
				next = append(next, r)
				continue
			}
			prev := machine.Types.Lookup(m.Module.Name, r.Name)
			t, err := m.buildRecord(machine, r, bases)
			if err != nil {
				return nil, err
			}
			local[r.Name] = t
			built = append(built, t)
			replaced = append(replaced, prev)
		}
		if len(next) == len(pending) {
			names := make([]string, len(next))
			for i, r := range next {
				names[i] = r.Name
			}
			return nil, fmt.Errorf("%w: unresolved or cyclic bases for %s", vm.ErrUnknownType, strings.Join(names, ", "))
		}
		pending = next
	}
	return built, nil
}

func (m *Manifest) lookupBases(machine *vm.VM, local map[string]*vm.RecordType, names []string) ([]*vm.RecordType, bool) {
	bases := make([]*vm.RecordType, 0, len(names))
	for _, name := range names {
		if t, ok := local[name]; ok {
			bases = append(bases, t)
			continue
		}
		if strings.Contains(name, "::") {
			if t := machine.Types.LookupQualified(name); t != nil {
				bases = append(bases, t)
				continue
			}
		}
		return nil, false
	}
	return bases, true
}

func (m *Manifest) buildRecord(machine *vm.VM, r RecordDecl, bases []*vm.RecordType) (*vm.RecordType, error) {
	opts, err := vm.ParseOptions(r.Options)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", r.Name, err)
	}
	opts.ReadonlyFields = append(opts.ReadonlyFields, r.ReadonlyFields...)

	decl := vm.Declaration{
		Module:       m.Module.Name,
		Name:         r.Name,
		Fields:       vm.Fields(r.Fields...),
		Bases:        bases,
		Options:      opts,
		Rename:       r.Rename,
		InvalidNames: r.InvalidNames,
		Doc:          r.Doc,
	}
	for _, d := range r.Defaults {
		decl.Defaults = append(decl.Defaults, vm.FromGo(d))
	}
	if len(r.NamedDefaults) > 0 {
		decl.DefaultsByName = make(map[string]vm.Value, len(r.NamedDefaults))
		for name, d := range r.NamedDefaults {
			decl.DefaultsByName[name] = vm.FromGo(d)
		}
	}
	return machine.NewRecordType(decl)
}

// ReservedWords returns the runtime's reserved words plus the module's.
func (m *Manifest) ReservedWords() []string {
	words := append([]string(nil), vm.DefaultReservedWords...)
	return append(words, m.Module.Reserved...)
}
