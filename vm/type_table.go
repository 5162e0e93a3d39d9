package vm

import (
	"sort"
	"sync"
)

// ---------------------------------------------------------------------------
// TypeTable: registry of finalized record types
// ---------------------------------------------------------------------------

// TypeTable manages finalized record types by module-qualified name. It is
// safe for concurrent access.
type TypeTable struct {
	mu    sync.RWMutex
	types map[string]*RecordType
}

// NewTypeTable creates a new empty type table.
func NewTypeTable() *TypeTable {
	return &TypeTable{
		types: make(map[string]*RecordType),
	}
}

// Register adds a type to the table.
// Returns the previous type with this qualified name, or nil.
func (tt *TypeTable) Register(t *RecordType) *RecordType {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	key := typeKey(t.module, t.name)
	old := tt.types[key]
	tt.types[key] = t
	return old
}

// Unregister removes t if it is still the type registered under its
// qualified name.
func (tt *TypeTable) Unregister(t *RecordType) bool {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	key := typeKey(t.module, t.name)
	if tt.types[key] != t {
		return false
	}
	delete(tt.types, key)
	return true
}

// Lookup finds a type by declaring module and name.
func (tt *TypeTable) Lookup(module, name string) *RecordType {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	return tt.types[typeKey(module, name)]
}

// LookupQualified finds a type by its qualified name ("module::Name").
func (tt *TypeTable) LookupQualified(qualified string) *RecordType {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	return tt.types[qualified]
}

// HasName returns true if any module registered a type with this bare name.
func (tt *TypeTable) HasName(name string) bool {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	for _, t := range tt.types {
		if t.name == name {
			return true
		}
	}
	return false
}

// All returns all registered types ordered by qualified name.
func (tt *TypeTable) All() []*RecordType {
	tt.mu.RLock()
	defer tt.mu.RUnlock()

	result := make([]*RecordType, 0, len(tt.types))
	for _, t := range tt.types {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].QualifiedName() < result[j].QualifiedName()
	})
	return result
}

// Len returns the number of registered types.
func (tt *TypeTable) Len() int {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	return len(tt.types)
}

// typeKey generates the lookup key for a type.
func typeKey(module, name string) string {
	if module == "" {
		return name
	}
	return module + "::" + name
}
