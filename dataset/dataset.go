package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Cell is a single dataset value. After normalization a cell is always one
// of float64, string, bool or nil.
type Cell = any

// Dataset is an in-memory tabular value: named columns over rows of typed
// cells. Column order is significant and preserved across codecs.
type Dataset struct {
	Columns []string `json:"columns"`
	Rows    [][]Cell `json:"rows"`
}

// New returns an empty dataset with the given column names.
func New(columns ...string) *Dataset {
	return &Dataset{Columns: columns}
}

// Validate checks structural consistency: unique column names and uniform
// row width, with every cell a scalar.
func (d *Dataset) Validate() error {
	seen := make(map[string]bool, len(d.Columns))
	for _, col := range d.Columns {
		if col == "" {
			return fmt.Errorf("empty column name")
		}
		if seen[col] {
			return fmt.Errorf("duplicate column name: %s", col)
		}
		seen[col] = true
	}

	for i, row := range d.Rows {
		if len(row) != len(d.Columns) {
			return fmt.Errorf("row %d has %d cells, expected %d", i, len(row), len(d.Columns))
		}
		for j, cell := range row {
			if _, err := NormalizeCell(cell); err != nil {
				return fmt.Errorf("row %d column %q: %w", i, d.Columns[j], err)
			}
		}
	}

	return nil
}

// Normalize rewrites every cell into canonical form (numbers as float64).
func (d *Dataset) Normalize() error {
	for i, row := range d.Rows {
		for j, cell := range row {
			v, err := NormalizeCell(cell)
			if err != nil {
				return fmt.Errorf("row %d cell %d: %w", i, j, err)
			}
			d.Rows[i][j] = v
		}
	}
	return nil
}

// NormalizeCell converts a raw decoded value into canonical cell form.
// Non-scalar values are rejected.
func NormalizeCell(v any) (Cell, error) {
	switch t := v.(type) {
	case nil, string, bool, float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t.String())
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unsupported cell type %T", v)
	}
}

// Clone returns a deep copy. Cells are scalars, so copying rows is enough.
func (d *Dataset) Clone() *Dataset {
	out := &Dataset{
		Columns: make([]string, len(d.Columns)),
		Rows:    make([][]Cell, len(d.Rows)),
	}
	copy(out.Columns, d.Columns)
	for i, row := range d.Rows {
		out.Rows[i] = make([]Cell, len(row))
		copy(out.Rows[i], row)
	}
	return out
}

// CellCount returns the total number of cells.
func (d *Dataset) CellCount() int {
	return len(d.Columns) * len(d.Rows)
}

// ColumnIndex returns the position of a named column.
func (d *Dataset) ColumnIndex(name string) (int, bool) {
	for i, col := range d.Columns {
		if col == name {
			return i, true
		}
	}
	return 0, false
}

// Rename changes a column name in place, preserving its position.
func (d *Dataset) Rename(oldName, newName string) error {
	if newName == "" {
		return fmt.Errorf("empty column name")
	}
	if _, exists := d.ColumnIndex(newName); exists && oldName != newName {
		return fmt.Errorf("column already exists: %s", newName)
	}
	idx, ok := d.ColumnIndex(oldName)
	if !ok {
		return fmt.Errorf("no such column: %s", oldName)
	}
	d.Columns[idx] = newName
	return nil
}

// FromJSON decodes the primary wire form {"columns": [...], "rows": [[...]]}.
func FromJSON(data []byte) (*Dataset, error) {
	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("invalid dataset JSON: %w", err)
	}
	if err := ds.Normalize(); err != nil {
		return nil, err
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return &ds, nil
}

// ToJSON encodes the primary wire form.
func (d *Dataset) ToJSON() ([]byte, error) {
	return json.Marshal(d)
}

// FromRecords decodes a pandas-style records array
// ([{"col": value, ...}, ...]) into a dataset. Column order follows first
// appearance; rows missing a column are padded with null.
func FromRecords(data []byte) (*Dataset, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("invalid records JSON: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, fmt.Errorf("records JSON must be an array")
	}

	ds := &Dataset{}
	index := make(map[string]int)

	for dec.More() {
		tok, err = dec.Token()
		if err != nil {
			return nil, fmt.Errorf("invalid records JSON: %w", err)
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '{' {
			return nil, fmt.Errorf("each record must be an object")
		}

		row := make([]Cell, len(ds.Columns))
		for dec.More() {
			keyTok, keyErr := dec.Token()
			if keyErr != nil {
				return nil, fmt.Errorf("invalid records JSON: %w", keyErr)
			}
			key, ok := keyTok.(string)
			if !ok {
				return nil, fmt.Errorf("invalid record key %v", keyTok)
			}

			var raw any
			if err = dec.Decode(&raw); err != nil {
				return nil, fmt.Errorf("invalid value for %q: %w", key, err)
			}
			cell, cellErr := NormalizeCell(raw)
			if cellErr != nil {
				return nil, fmt.Errorf("column %q: %w", key, cellErr)
			}

			idx, exists := index[key]
			if !exists {
				idx = len(ds.Columns)
				index[key] = idx
				ds.Columns = append(ds.Columns, key)
				// Pad all previously decoded rows for the new column.
				for i := range ds.Rows {
					ds.Rows[i] = append(ds.Rows[i], nil)
				}
				row = append(row, nil)
			}
			row[idx] = cell
		}
		if _, err = dec.Token(); err != nil { // closing '}'
			return nil, fmt.Errorf("invalid records JSON: %w", err)
		}

		ds.Rows = append(ds.Rows, row)
	}
	if _, err = dec.Token(); err != nil { // closing ']'
		return nil, fmt.Errorf("invalid records JSON: %w", err)
	}

	return ds, nil
}

// ToRecords encodes the dataset as a pandas-style records array, keeping
// column order within each record.
func (d *Dataset) ToRecords() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, row := range d.Rows {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		for j, col := range d.Columns {
			if j > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(col)
			if err != nil {
				return nil, err
			}
			val, err := json.Marshal(row[j])
			if err != nil {
				return nil, fmt.Errorf("column %q row %d: %w", col, i, err)
			}
			buf.Write(key)
			buf.WriteByte(':')
			buf.Write(val)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}
