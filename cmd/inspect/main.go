// Command inspect reads the table store written by the ingest service.
//
// Usage:
//
//	go run ./cmd/inspect -db data/processed/datastore.db                 # list tables
//	go run ./cmd/inspect -db ... -prefix stocks/data                     # list a subtree
//	go run ./cmd/inspect -db ... -table weather/metadata -describe       # schema and row count
//	go run ./cmd/inspect -db ... -table stocks/data/IBM -format json     # dump rows
//	go run ./cmd/inspect -db ... -check                                  # integrity checks
package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/couchcryptid/feed-ingest-etl/internal/domain"
	"github.com/couchcryptid/feed-ingest-etl/internal/tablestore"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	db       string
	prefix   string
	table    string
	describe bool
	format   string
	check    bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.db, "db", "data/processed/datastore.db", "path to the table store file")
	fs.StringVar(&o.prefix, "prefix", "", "only list tables whose name starts with this prefix")
	fs.StringVar(&o.table, "table", "", "table to describe or dump")
	fs.BoolVar(&o.describe, "describe", false, "print the table's schema, width, and row count instead of its rows")
	fs.StringVar(&o.format, "format", "csv", "dump format: csv or json")
	fs.BoolVar(&o.check, "check", false, "run integrity checks over every table")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.format != "csv" && o.format != "json" {
		return o, fmt.Errorf("unknown -format %q, want csv or json", o.format)
	}
	if o.describe && o.table == "" {
		return o, errors.New("-describe requires -table")
	}
	return o, nil
}

func run(args []string, stdout, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(stderr, err)
		}
		return 2
	}

	if _, err := os.Stat(o.db); err != nil {
		fmt.Fprintf(stderr, "open store: %v\n", err)
		return 1
	}
	store, err := tablestore.New(o.db)
	if err != nil {
		fmt.Fprintf(stderr, "open store: %v\n", err)
		return 1
	}

	switch {
	case o.check:
		return runChecks(store, o.prefix, stdout)
	case o.table != "" && o.describe:
		err = describe(store, o.table, stdout)
	case o.table != "":
		err = dump(store, o.table, o.format, stdout)
	default:
		err = list(store, o.prefix, stdout)
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

func list(store *tablestore.Store, prefix string, w io.Writer) error {
	names, err := store.Tables(prefix)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintln(w, name)
	}
	return nil
}

func describe(store *tablestore.Store, name string, w io.Writer) error {
	info, err := store.Describe(name)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

func dump(store *tablestore.Store, name, format string, w io.Writer) error {
	t, err := store.Read(name)
	if err != nil {
		return err
	}
	if format == "json" {
		return dumpJSON(t, w)
	}
	return dumpCSV(t, w)
}

func dumpCSV(t *domain.Table, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.ColumnNames()); err != nil {
		return err
	}
	for i := 0; i < t.Len(); i++ {
		row := t.Row(i)
		rec := make([]string, len(row))
		for j, v := range row {
			rec[j] = domain.FormatValue(v)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// dumpJSON writes one object per row, as a JSON array.
func dumpJSON(t *domain.Table, w io.Writer) error {
	names := t.ColumnNames()
	rows := make([]map[string]any, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		row := t.Row(i)
		obj := make(map[string]any, len(names))
		for j, name := range names {
			obj[name] = row[j]
		}
		rows = append(rows, obj)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}
