// Package sqlrow turns database/sql result rows into record instances.
package sqlrow

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/chazu/dataobj/vm"
)

// RowFactory builds one record instance per result row.
type RowFactory struct {
	Type *vm.RecordType
}

// MakeRowFactory creates a record type with the given fields (written
// "name radius" or "name, radius") and returns a factory for it.
func MakeRowFactory(machine *vm.VM, module, name, fields string) (*RowFactory, error) {
	t, err := machine.MakeRecordType(module, name, vm.SplitFieldNames(fields), nil, nil, vm.Options{})
	if err != nil {
		return nil, err
	}
	return &RowFactory{Type: t}, nil
}

// FromColumns creates a factory whose fields are the result columns.
// Column names that are not valid field names, such as count(*), are
// renamed to their 1-based position (_1, _2, ...).
func FromColumns(machine *vm.VM, module, name string, rows *sql.Rows) (*RowFactory, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}
	t, err := machine.NewRecordType(vm.Declaration{
		Module: module,
		Name:   name,
		Fields: vm.Fields(cols...),
		Rename: true,
	})
	if err != nil {
		return nil, err
	}
	return &RowFactory{Type: t}, nil
}

// Scan converts the current row. The caller owns one reference to the
// result.
func (f *RowFactory) Scan(rows *sql.Rows) (*vm.Object, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}
	if len(cols) != f.Type.NumFields() {
		return nil, fmt.Errorf("%w: %s has %d fields, row has %d columns",
			vm.ErrArity, f.Type.Name(), f.Type.NumFields(), len(cols))
	}

	raw := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scanning row: %w", err)
	}

	args := make([]vm.Value, len(raw))
	for i, x := range raw {
		args[i] = vm.FromGo(x)
	}
	return f.Type.Make(args)
}

// ScanAll converts every remaining row and closes rows.
func ScanAll(rows *sql.Rows, f *RowFactory) ([]*vm.Object, error) {
	defer rows.Close()

	var out []*vm.Object
	for rows.Next() {
		obj, err := f.Scan(rows)
		if err != nil {
			releaseAll(f.Type.VM(), out)
			return nil, err
		}
		out = append(out, obj)
	}
	if err := rows.Err(); err != nil {
		releaseAll(f.Type.VM(), out)
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return out, nil
}

// Query runs query on db and converts the result.
func (f *RowFactory) Query(ctx context.Context, db *sql.DB, query string, args ...any) ([]*vm.Object, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return ScanAll(rows, f)
}

func releaseAll(machine *vm.VM, objs []*vm.Object) {
	for _, obj := range objs {
		machine.Release(obj)
	}
}
