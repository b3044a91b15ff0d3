package csvtable

import "slices"

// Table is a rectangular grid of text cells under a fixed header row.
// Accessors return copies; nothing handed out aliases the table's storage.
type Table struct {
	headers []string
	rows    [][]string
}

// NewTable returns an empty table with a copy of headers as its header row.
func NewTable(headers []string) *Table {
	return &Table{headers: cloneStrings(headers)}
}

// Headers returns a copy of the header row. Never nil.
func (t *Table) Headers() []string {
	return cloneStrings(t.headers)
}

// Width returns the number of columns.
func (t *Table) Width() int {
	return len(t.headers)
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Row returns a copy of data row i.
func (t *Table) Row(i int) ([]string, error) {
	if err := t.checkRow("row", i); err != nil {
		return nil, err
	}
	return cloneStrings(t.rows[i]), nil
}

// Rows returns a deep copy of all data rows. Never nil.
func (t *Table) Rows() [][]string {
	out := make([][]string, len(t.rows))
	for i, row := range t.rows {
		out[i] = cloneStrings(row)
	}
	return out
}

// Cell returns the value at (row, col).
func (t *Table) Cell(row, col int) (string, error) {
	if err := t.checkCell("cell", row, col); err != nil {
		return "", err
	}
	return t.rows[row][col], nil
}

// SetCell stores value verbatim at (row, col).
func (t *Table) SetCell(row, col int, value string) error {
	if err := t.checkCell("set cell", row, col); err != nil {
		return err
	}
	t.rows[row][col] = value
	return nil
}

// AddRow appends a row built from initial, padded with empty cells or
// truncated to the table width, and returns its index.
func (t *Table) AddRow(initial ...string) int {
	row, _ := fitRow(initial, len(t.headers))
	t.rows = append(t.rows, row)
	return len(t.rows) - 1
}

// DeleteRow removes data row i, keeping the order of the others.
func (t *Table) DeleteRow(i int) error {
	if err := t.checkRow("delete row", i); err != nil {
		return err
	}
	t.rows = slices.Delete(t.rows, i, i+1)
	return nil
}

// Clone returns a deep copy of t.
func (t *Table) Clone() *Table {
	return &Table{headers: t.Headers(), rows: t.Rows()}
}

// Equal reports whether both tables hold the same headers and rows.
func (t *Table) Equal(other *Table) bool {
	if other == nil {
		return false
	}
	if !slices.Equal(t.headers, other.headers) || len(t.rows) != len(other.rows) {
		return false
	}
	for i := range t.rows {
		if !slices.Equal(t.rows[i], other.rows[i]) {
			return false
		}
	}
	return true
}

func (t *Table) checkRow(op string, i int) error {
	if i < 0 || i >= len(t.rows) {
		return &RangeError{Op: op, Axis: "row", Index: i, Len: len(t.rows)}
	}
	return nil
}

func (t *Table) checkCell(op string, row, col int) error {
	if err := t.checkRow(op, row); err != nil {
		return err
	}
	if col < 0 || col >= len(t.headers) {
		return &RangeError{Op: op, Axis: "column", Index: col, Len: len(t.headers)}
	}
	return nil
}

// fitRow copies values into a row of exactly width cells. The second
// result is negative when cells were dropped, positive when padded.
func fitRow(values []string, width int) ([]string, int) {
	row := make([]string, width)
	copy(row, values)
	return row, width - len(values)
}

func cloneStrings(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}
