package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ColumnType is the storage type of a table column.
type ColumnType int

const (
	TypeString ColumnType = iota + 1
	TypeFloat
	TypeInt
	TypeBool
	TypeTime
)

var columnTypeNames = map[ColumnType]string{
	TypeString: "string",
	TypeFloat:  "float",
	TypeInt:    "int",
	TypeBool:   "bool",
	TypeTime:   "time",
}

func (t ColumnType) String() string {
	if name, ok := columnTypeNames[t]; ok {
		return name
	}
	return "unknown(" + strconv.Itoa(int(t)) + ")"
}

// MarshalText encodes the type by name so stored schemas stay readable.
func (t ColumnType) MarshalText() ([]byte, error) {
	name, ok := columnTypeNames[t]
	if !ok {
		return nil, fmt.Errorf("unknown column type %d", int(t))
	}
	return []byte(name), nil
}

func (t *ColumnType) UnmarshalText(b []byte) error {
	for ct, name := range columnTypeNames {
		if name == string(b) {
			*t = ct
			return nil
		}
	}
	return fmt.Errorf("unknown column type %q", b)
}

// Column is a named, typed column of a Table.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// Col is shorthand for building schemas.
func Col(name string, typ ColumnType) Column {
	return Column{Name: name, Type: typ}
}

var (
	ErrDuplicateColumn = errors.New("duplicate column")
	ErrColumnNotFound  = errors.New("column not found")
	ErrTypeMismatch    = errors.New("value does not match column type")
	ErrArity           = errors.New("row length does not match schema")
)

// Table is an in-memory batch of rows with an explicit schema. A value is
// either nil (null) or the Go type of its column: string, float64, int64,
// bool or time.Time.
type Table struct {
	columns []Column
	index   map[string]int
	rows    [][]any
}

// NewTable creates an empty table with the given columns.
func NewTable(columns ...Column) (*Table, error) {
	t := &Table{
		columns: make([]Column, len(columns)),
		index:   make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		if c.Name == "" {
			return nil, fmt.Errorf("column %d: empty name", i)
		}
		if _, ok := columnTypeNames[c.Type]; !ok {
			return nil, fmt.Errorf("column %q: unknown type %d", c.Name, int(c.Type))
		}
		if _, dup := t.index[c.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateColumn, c.Name)
		}
		t.index[c.Name] = i
		t.columns[i] = c
	}
	return t, nil
}

// MustTable is NewTable for fixed schemas declared in code; it panics on an invalid schema.
func MustTable(columns ...Column) *Table {
	t, err := NewTable(columns...)
	if err != nil {
		panic(err)
	}
	return t
}

// Append validates values against the schema and adds them as one row.
func (t *Table) Append(values ...any) error {
	if len(values) != len(t.columns) {
		return fmt.Errorf("%w: got %d values for %d columns", ErrArity, len(values), len(t.columns))
	}
	row := make([]any, len(values))
	for i, v := range values {
		nv, err := normalizeValue(t.columns[i], v)
		if err != nil {
			return err
		}
		row[i] = nv
	}
	t.rows = append(t.rows, row)
	return nil
}

// AppendRecord adds a row given as column name to value. Columns missing
// from the record are null; unknown names are rejected.
func (t *Table) AppendRecord(record map[string]any) error {
	values := make([]any, len(t.columns))
	for name, v := range record {
		i, ok := t.index[name]
		if !ok {
			return fmt.Errorf("%w: %q", ErrColumnNotFound, name)
		}
		values[i] = v
	}
	return t.Append(values...)
}

func normalizeValue(c Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	ok := false
	switch c.Type {
	case TypeString:
		_, ok = v.(string)
	case TypeFloat:
		switch n := v.(type) {
		case float64:
			ok = true
		case float32:
			return float64(n), nil
		}
	case TypeInt:
		switch n := v.(type) {
		case int64:
			ok = true
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		}
	case TypeBool:
		_, ok = v.(bool)
	case TypeTime:
		if ts, isTime := v.(time.Time); isTime {
			return ts.UTC(), nil
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: column %q is %s, got %T", ErrTypeMismatch, c.Name, c.Type, v)
	}
	return v, nil
}

// Columns returns a copy of the schema.
func (t *Table) Columns() []Column {
	if t == nil {
		return nil
	}
	out := make([]Column, len(t.columns))
	copy(out, t.columns)
	return out
}

// ColumnNames returns the column names in schema order.
func (t *Table) ColumnNames() []string {
	if t == nil {
		return nil
	}
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// Column looks up a column by name.
func (t *Table) Column(name string) (Column, bool) {
	if t == nil {
		return Column{}, false
	}
	i, ok := t.index[name]
	if !ok {
		return Column{}, false
	}
	return t.columns[i], true
}

// Len returns the number of rows. A nil table has zero rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rows)
}

// Empty reports whether the table is nil or has no rows.
func (t *Table) Empty() bool {
	return t.Len() == 0
}

// Row returns the values of row i in schema order.
func (t *Table) Row(i int) []any {
	return t.rows[i]
}

// Value returns the value of column name in row i.
func (t *Table) Value(i int, name string) (any, bool) {
	c, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.rows[i][c], true
}

// Values returns every value of the named column.
func (t *Table) Values(name string) ([]any, error) {
	c, ok := t.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
	}
	out := make([]any, len(t.rows))
	for i, row := range t.rows {
		out[i] = row[c]
	}
	return out, nil
}

// Partition is the slice of a table sharing one partition-column value.
type Partition struct {
	Value string
	Rows  *Table
}

// Partition groups rows by equality of the rendered value of column name,
// in the order values first appear. Each group keeps the full schema.
func (t *Table) Partition(name string) ([]Partition, error) {
	c, ok := t.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
	}
	var parts []Partition
	pos := make(map[string]int)
	for _, row := range t.rows {
		key := FormatValue(row[c])
		i, seen := pos[key]
		if !seen {
			i = len(parts)
			pos[key] = i
			parts = append(parts, Partition{
				Value: key,
				Rows:  &Table{columns: t.columns, index: t.index},
			})
		}
		parts[i].Rows.rows = append(parts[i].Rows.rows, row)
	}
	return parts, nil
}

// FormatValue renders a table value as text. Null renders as "".
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(x)
	}
}

// Slug lowercases s and replaces runs of characters other than letters and
// digits with a single underscore, for use as a partition value.
func Slug(s string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		isWord := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r > 127
		if !isWord {
			pendingSep = b.Len() > 0
			continue
		}
		if pendingSep {
			b.WriteByte('_')
			pendingSep = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
