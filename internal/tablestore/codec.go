package tablestore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/couchcryptid/feed-ingest-etl/internal/domain"
)

// header is the stored schema of one table. Width is the fixed byte width
// of every string column and never changes after creation.
type header struct {
	Columns   []domain.Column `json:"columns"`
	Width     int             `json:"width"`
	CreatedAt time.Time       `json:"created_at"`
}

func decodeHeader(b []byte) (header, error) {
	var h header
	if err := json.Unmarshal(b, &h); err != nil {
		return header{}, fmt.Errorf("decode table schema: %w", err)
	}
	if h.Width <= 0 || len(h.Columns) == 0 {
		return header{}, fmt.Errorf("decode table schema: invalid width %d or %d columns", h.Width, len(h.Columns))
	}
	return h, nil
}

func (h header) encode() ([]byte, error) {
	return json.Marshal(h)
}

// Payload sizes. A string is a big-endian uint32 length followed by Width
// bytes; a time is Unix seconds followed by a uint32 nanosecond offset.
const (
	lengthSize = 4
	timeSize   = 12
)

func (h header) columnSize(c domain.Column) int {
	switch c.Type {
	case domain.TypeString:
		return lengthSize + h.Width
	case domain.TypeTime:
		return timeSize
	case domain.TypeBool:
		return 1
	default:
		return 8
	}
}

// rowSize is the encoded length of a row: one presence byte per column plus its payload.
func (h header) rowSize() int {
	n := 0
	for _, c := range h.Columns {
		n += 1 + h.columnSize(c)
	}
	return n
}

// project lays the rows of batch out in the stored column order. Stored
// columns the batch lacks become null; batch columns the table lacks, or
// whose type differs, are rejected.
func (h header) project(batch *domain.Table) ([][]any, error) {
	pos := make(map[string]int, len(h.Columns))
	for i, c := range h.Columns {
		pos[c.Name] = i
	}
	cols := batch.Columns()
	mapping := make([]int, len(cols))
	for i, c := range cols {
		j, ok := pos[c.Name]
		if !ok {
			return nil, fmt.Errorf("%w: column %q is not in the stored schema", ErrColumnMismatch, c.Name)
		}
		if h.Columns[j].Type != c.Type {
			return nil, fmt.Errorf("%w: column %q is %s, stored as %s", ErrColumnMismatch, c.Name, c.Type, h.Columns[j].Type)
		}
		mapping[i] = j
	}

	rows := make([][]any, batch.Len())
	for r := range rows {
		src := batch.Row(r)
		dst := make([]any, len(h.Columns))
		for i, v := range src {
			dst[mapping[i]] = v
		}
		rows[r] = dst
	}
	return rows, nil
}

func (h header) encodeRow(row []any) ([]byte, error) {
	buf := make([]byte, h.rowSize())
	off := 0
	for i, c := range h.Columns {
		size := h.columnSize(c)
		v := row[i]
		if v == nil {
			off += 1 + size
			continue
		}
		buf[off] = 1
		field := buf[off+1 : off+1+size]
		switch c.Type {
		case domain.TypeString:
			s := v.(string)
			if len(s) > h.Width {
				return nil, fmt.Errorf("%w: column %q value of %d bytes, width is %d", ErrWidthOverflow, c.Name, len(s), h.Width)
			}
			binary.BigEndian.PutUint32(field, uint32(len(s)))
			copy(field[lengthSize:], s)
		case domain.TypeFloat:
			binary.BigEndian.PutUint64(field, math.Float64bits(v.(float64)))
		case domain.TypeInt:
			binary.BigEndian.PutUint64(field, uint64(v.(int64)))
		case domain.TypeTime:
			t := v.(time.Time)
			binary.BigEndian.PutUint64(field, uint64(t.Unix()))
			binary.BigEndian.PutUint32(field[8:], uint32(t.Nanosecond()))
		case domain.TypeBool:
			if v.(bool) {
				field[0] = 1
			}
		}
		off += 1 + size
	}
	return buf, nil
}

func (h header) decodeRow(b []byte) ([]any, error) {
	if len(b) != h.rowSize() {
		return nil, fmt.Errorf("decode row: got %d bytes, want %d", len(b), h.rowSize())
	}
	row := make([]any, len(h.Columns))
	off := 0
	for i, c := range h.Columns {
		size := h.columnSize(c)
		present := b[off] == 1
		field := b[off+1 : off+1+size]
		off += 1 + size
		if !present {
			continue
		}
		switch c.Type {
		case domain.TypeString:
			n := int(binary.BigEndian.Uint32(field))
			if n > h.Width {
				return nil, fmt.Errorf("decode row: column %q length %d exceeds width %d", c.Name, n, h.Width)
			}
			row[i] = string(field[lengthSize : lengthSize+n])
		case domain.TypeFloat:
			row[i] = math.Float64frombits(binary.BigEndian.Uint64(field))
		case domain.TypeInt:
			row[i] = int64(binary.BigEndian.Uint64(field))
		case domain.TypeTime:
			sec := int64(binary.BigEndian.Uint64(field))
			nsec := int64(binary.BigEndian.Uint32(field[8:]))
			row[i] = time.Unix(sec, nsec).UTC()
		case domain.TypeBool:
			row[i] = field[0] == 1
		}
	}
	return row, nil
}
