package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/couchcryptid/feed-ingest-etl/internal/domain"
	"github.com/couchcryptid/feed-ingest-etl/internal/tablestore"
)

// phase tracks pass/fail for a check phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

const partitionKey = "split_on"

// runChecks reads every table under prefix and reports problems per phase.
// It returns 1 if any phase failed.
func runChecks(store *tablestore.Store, prefix string, w io.Writer) int {
	names, err := store.Tables(prefix)
	if err != nil {
		fmt.Fprintf(w, "FATAL: list tables: %v\n", err)
		return 1
	}

	readable := &phase{name: "Phase 1: Tables readable"}
	tables := make(map[string]*domain.Table, len(names))
	for _, name := range names {
		t, err := store.Read(name)
		if err != nil {
			readable.errorf("%s: %v", name, err)
			continue
		}
		tables[name] = t
	}

	phases := []*phase{
		readable,
		checkPartitions(names, tables),
		checkMetadata(names, tables, store.HasTable),
		checkErrors(names, tables),
	}

	allPassed := true
	for _, p := range phases {
		status := "PASS"
		if !p.passed() {
			status = fmt.Sprintf("FAIL (%d errors)", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(w, "  %-36s %s\n", p.name, status)
	}
	fmt.Fprintf(w, "\nTables: %d\n", len(names))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", p.name)
		for _, e := range p.errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}

	if !allPassed {
		return 1
	}
	return 0
}

// checkPartitions verifies that every row of {client}/data/{value} carries
// value in its partition column.
func checkPartitions(names []string, tables map[string]*domain.Table) *phase {
	p := &phase{name: "Phase 2: Partition consistency"}
	for _, name := range names {
		t, ok := tables[name]
		parts := strings.Split(name, "/")
		if !ok || len(parts) != 3 || parts[1] != "data" {
			continue
		}
		values, err := t.Values(partitionKey)
		if err != nil {
			// Partition column names are chosen per call; nothing to compare.
			continue
		}
		for i, v := range values {
			if got := domain.FormatValue(v); got != parts[2] {
				p.errorf("%s row %d: %s is %q", name, i, partitionKey, got)
			}
		}
	}
	return p
}

// checkMetadata requires a {client}/metadata table for every client with
// data tables, and sane counts in every metadata row. Metadata tables outside
// the listed prefix are looked up with hasTable.
func checkMetadata(names []string, tables map[string]*domain.Table, hasTable func(string) (bool, error)) *phase {
	p := &phase{name: "Phase 3: Metadata records"}
	var clients []string
	seen := make(map[string]bool)
	for _, name := range names {
		parts := strings.Split(name, "/")
		if len(parts) == 3 && parts[1] == "data" && !seen[parts[0]] {
			seen[parts[0]] = true
			clients = append(clients, parts[0])
		}
	}
	for _, client := range clients {
		ok, err := hasTable(client + "/metadata")
		switch {
		case err != nil:
			p.errorf("%s/metadata: %v", client, err)
		case !ok:
			p.errorf("%s: data tables without a metadata table", client)
		}
	}

	for _, name := range names {
		t, ok := tables[name]
		if !ok || !strings.HasSuffix(name, "/metadata") {
			continue
		}
		for i := 0; i < t.Len(); i++ {
			if v, _ := t.Value(i, "fetched_at"); v == nil {
				p.errorf("%s row %d: fetched_at is null", name, i)
			}
			for _, col := range []string{"success_count", "error_count"} {
				v, _ := t.Value(i, col)
				if n, ok := v.(int64); ok && n < 0 {
					p.errorf("%s row %d: %s is negative", name, i, col)
				}
			}
		}
	}
	return p
}

func checkErrors(names []string, tables map[string]*domain.Table) *phase {
	p := &phase{name: "Phase 4: Error records"}
	for _, name := range names {
		t, ok := tables[name]
		if !ok || !strings.HasSuffix(name, "/errors") {
			continue
		}
		for i := 0; i < t.Len(); i++ {
			if v, _ := t.Value(i, "error"); domain.FormatValue(v) == "" {
				p.errorf("%s row %d: error message is empty", name, i)
			}
			v, _ := t.Value(i, "url")
			if u := domain.FormatValue(v); domain.RedactURL(u) != u {
				p.errorf("%s row %d: url carries an unredacted API key", name, i)
			}
		}
	}
	return p
}
