// Package sources loads the delimited configuration files that name the
// upstream APIs and the items tracked on each of them.
package sources

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Delimiter separates fields in every configuration file.
const Delimiter = ';'

// Source is one row of the source registry.
type Source struct {
	Name  string
	URL   string
	Type  string
	Notes string
}

// Registry maps logical API names to their sources.
type Registry struct {
	sources map[string]Source
}

// ErrUnknownSource is returned by Registry.Lookup for a name not in the registry.
var ErrUnknownSource = errors.New("source not found in registry")

// LoadRegistry reads a "name;url;type;notes" file. There is no header row;
// blank lines and lines starting with '#' are skipped.
func LoadRegistry(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source registry: %w", err)
	}
	defer f.Close()
	return ParseRegistry(f)
}

// ParseRegistry reads a registry from r. The first occurrence of a name wins.
func ParseRegistry(r io.Reader) (*Registry, error) {
	records, err := readRecords(r)
	if err != nil {
		return nil, fmt.Errorf("parse source registry: %w", err)
	}
	reg := &Registry{sources: make(map[string]Source, len(records))}
	for _, rec := range records {
		src := Source{Name: field(rec, 0), URL: field(rec, 1), Type: field(rec, 2), Notes: field(rec, 3)}
		if src.Name == "" || src.URL == "" {
			continue
		}
		if _, dup := reg.sources[src.Name]; !dup {
			reg.sources[src.Name] = src
		}
	}
	return reg, nil
}

// Lookup returns the source registered under name.
func (r *Registry) Lookup(name string) (Source, error) {
	src, ok := r.sources[name]
	if !ok {
		return Source{}, fmt.Errorf("%w: %q", ErrUnknownSource, name)
	}
	return src, nil
}

// URL returns the base URL registered under name.
func (r *Registry) URL(name string) (string, error) {
	src, err := r.Lookup(name)
	if err != nil {
		return "", err
	}
	return src.URL, nil
}

// LoadList reads a list of tracked items (stock symbols, city names) from
// path: the first field of every non-blank, non-comment line.
func LoadList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open list: %w", err)
	}
	defer f.Close()
	return ParseList(f)
}

// ParseList reads a tracked-item list from r, dropping duplicates.
func ParseList(r io.Reader) ([]string, error) {
	records, err := readRecords(r)
	if err != nil {
		return nil, fmt.Errorf("parse list: %w", err)
	}
	seen := make(map[string]bool, len(records))
	items := make([]string, 0, len(records))
	for _, rec := range records {
		item := field(rec, 0)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		items = append(items, item)
	}
	return items, nil
}

func readRecords(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.Comma = Delimiter
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return cr.ReadAll()
}

func field(rec []string, i int) string {
	if i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}
