package domain

// DefaultMinWidth is the smallest width given to a string column.
const DefaultMinWidth = 15

// EstimateMinWidth returns the fixed width to use for every string column
// of one store call: the longest string value across all string columns of
// all given tables, never below DefaultMinWidth. Nil or empty tables and
// null values contribute nothing. Width is counted in UTF-8 bytes.
func EstimateMinWidth(tables ...*Table) int {
	width := DefaultMinWidth
	for _, t := range tables {
		if t.Empty() {
			continue
		}
		for ci, c := range t.columns {
			if c.Type != TypeString {
				continue
			}
			for _, row := range t.rows {
				if s, ok := row[ci].(string); ok && len(s) > width {
					width = len(s)
				}
			}
		}
	}
	return width
}
