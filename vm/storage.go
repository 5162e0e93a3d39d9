package vm

import (
	"strings"
	"sync"
)

// TypeStorage memoizes record types by name and field list, so repeated
// requests for the same shape share one type. Options of later requests
// are ignored once a shape is cached.
type TypeStorage struct {
	vm     *VM
	module string

	mu    sync.Mutex
	types map[string]*RecordType
}

// NewTypeStorage creates a cache creating types in module.
func (vm *VM) NewTypeStorage(module string) *TypeStorage {
	return &TypeStorage{
		vm:     vm,
		module: module,
		types:  make(map[string]*RecordType),
	}
}

// MakeRecordType returns the cached type for (name, fields), creating it
// on first use.
func (s *TypeStorage) MakeRecordType(name string, fields []string, defaults []Value, opts Options) (*RecordType, error) {
	key := name + "(" + strings.Join(fields, ",") + ")"

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.types[key]; ok {
		return t, nil
	}
	t, err := s.vm.MakeRecordType(s.module, name, fields, defaults, nil, opts)
	if err != nil {
		return nil, err
	}
	s.types[key] = t
	return t, nil
}

// Len returns the number of cached types.
func (s *TypeStorage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.types)
}

// Clear drops every cached type. Types stay registered with the VM.
func (s *TypeStorage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types = make(map[string]*RecordType)
}
