// recdef loads record type declarations and prints their layouts.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chazu/dataobj/manifest"
	"github.com/chazu/dataobj/sqlrow"
	"github.com/chazu/dataobj/vm"
	"github.com/chazu/dataobj/vm/wire"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	_ "modernc.org/sqlite"
)

type options struct {
	dir       string
	verbosity int
	docs      bool
	query     string
	dsn       string
	roundTrip bool
}

func main() {
	var opts options
	flag.StringVar(&opts.dir, "C", ".", "Directory to search upward from for records.toml")
	flag.IntVar(&opts.verbosity, "v", 0, "Log verbosity (0 = errors only, 2 = debug)")
	flag.BoolVar(&opts.docs, "doc", false, "Print each type's documentation")
	flag.StringVar(&opts.query, "sql", "", "Run a query and print each row as a record")
	flag.StringVar(&opts.dsn, "db", ":memory:", "SQLite database for -sql")
	flag.BoolVar(&opts.roundTrip, "wire", false, "Round-trip -sql rows through the CBOR encoding")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: recdef [options]\n\n")
		fmt.Fprintf(os.Stderr, "Loads records.toml and prints the layout of every declared type.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  recdef -doc                              # Layouts and docs\n")
		fmt.Fprintf(os.Stderr, "  recdef -sql \"SELECT 'Earth' AS name\"     # Rows as records\n")
		fmt.Fprintf(os.Stderr, "  recdef -db app.db -sql \"SELECT * FROM t\" -wire\n")
	}
	flag.Parse()

	commonlog.Configure(opts.verbosity, nil)

	if err := run(os.Stdout, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(w io.Writer, opts options) error {
	m, err := manifest.FindAndLoad(opts.dir)
	if err != nil {
		return err
	}

	var machine *vm.VM
	if m != nil {
		machine = vm.NewVM(vm.WithReservedWords(m.ReservedWords()...))
		types, err := m.Build(machine)
		if err != nil {
			return err
		}
		for _, t := range types {
			printType(w, t, opts.docs)
		}
	} else {
		machine = vm.NewVM()
		if opts.query == "" {
			return fmt.Errorf("no %s found from %s", manifest.FileName, opts.dir)
		}
	}

	if opts.query != "" {
		if err := runQuery(w, machine, opts); err != nil {
			return err
		}
	}
	return nil
}

func printType(w io.Writer, t *vm.RecordType, docs bool) {
	l := t.Layout()
	fmt.Fprintf(w, "%s  basicsize=%d slots=%d", t.QualifiedName(), l.BasicSize, l.TotalSlots)
	if o := t.Options().String(); o != "" {
		fmt.Fprintf(w, "  [%s]", o)
	}
	fmt.Fprintln(w)
	for i, f := range l.Fields {
		tag := f.Type
		if tag == "" {
			tag = "-"
		}
		fmt.Fprintf(w, "  %4d  %-16s %-10s", l.Offsets[i], f.Name, tag)
		if f.HasDefault {
			fmt.Fprintf(w, " = %s", f.Default.Repr())
		}
		if f.Readonly {
			fmt.Fprint(w, " (readonly)")
		}
		fmt.Fprintln(w)
	}
	if t.IsArray() {
		fmt.Fprintf(w, "  %d anonymous slots\n", l.Size)
	}
	if l.UseDict {
		fmt.Fprintf(w, "  %4d  %s\n", l.DictOffset, vm.DictField)
	}
	if l.UseWeakref {
		fmt.Fprintf(w, "  %4d  %s\n", l.WeakrefOffset, vm.WeakrefField)
	}
	if docs {
		for _, line := range strings.Split(t.Doc(), "\n") {
			fmt.Fprintf(w, "  | %s\n", line)
		}
	}
}

func runQuery(w io.Writer, machine *vm.VM, opts options) error {
	db, err := sql.Open("sqlite", opts.dsn)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(context.Background(), opts.query)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	f, err := sqlrow.FromColumns(machine, "sql", "Row", rows)
	if err != nil {
		rows.Close()
		return err
	}
	records, err := sqlrow.ScanAll(rows, f)
	if err != nil {
		return err
	}
	defer func() {
		for _, r := range records {
			machine.Release(r)
		}
	}()

	for _, r := range records {
		if !opts.roundTrip {
			fmt.Fprintln(w, r.Repr())
			continue
		}
		data, err := wire.Marshal(r)
		if err != nil {
			return err
		}
		back, err := wire.Unmarshal(machine, data)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s  (%d bytes, equal=%t)\n", back.Repr(), len(data), back.Equal(r))
		machine.Release(back)
	}
	return nil
}
