package workbench

import (
	"fmt"
	"sort"

	"github.com/dop251/goja"

	"github.com/datasmith/databench/dataset"
)

// Frame is the script-visible view of the dataset under transformation.
// Exported methods surface in the execution namespace with uncapitalized
// names (Fillna -> fillna), so submitted code reads like the planner's
// dataframe dialect: dataframe.fillna(dataframe.mean()).
//
// All mutating methods operate in place and return the frame for chaining.
// Methods that could grow the dataset enforce the cell budget.
type Frame struct {
	rt       *goja.Runtime
	ds       *dataset.Dataset
	maxCells int
}

func newFrame(rt *goja.Runtime, ds *dataset.Dataset, maxCells int) *Frame {
	return &Frame{rt: rt, ds: ds, maxCells: maxCells}
}

// snapshot hands the transformed dataset back to the workbench.
func (f *Frame) snapshot() *dataset.Dataset {
	return f.ds
}

// Columns returns the column names.
func (f *Frame) Columns() []string {
	out := make([]string, len(f.ds.Columns))
	copy(out, f.ds.Columns)
	return out
}

// RowCount returns the number of rows.
func (f *Frame) RowCount() int {
	return len(f.ds.Rows)
}

// Cell returns a single value.
func (f *Frame) Cell(row int, column string) (any, error) {
	idx, ok := f.ds.ColumnIndex(column)
	if !ok {
		return nil, fmt.Errorf("no such column: %s", column)
	}
	if row < 0 || row >= len(f.ds.Rows) {
		return nil, fmt.Errorf("row %d out of range", row)
	}
	return f.ds.Rows[row][idx], nil
}

// SetCell overwrites a single value.
func (f *Frame) SetCell(row int, column string, value goja.Value) error {
	idx, ok := f.ds.ColumnIndex(column)
	if !ok {
		return fmt.Errorf("no such column: %s", column)
	}
	if row < 0 || row >= len(f.ds.Rows) {
		return fmt.Errorf("row %d out of range", row)
	}
	cell, err := dataset.NormalizeCell(value.Export())
	if err != nil {
		return err
	}
	f.ds.Rows[row][idx] = cell
	return nil
}

// Mean returns the mean of every numeric column, skipping nulls.
func (f *Frame) Mean() map[string]float64 {
	return f.aggregate(func(values []float64) float64 {
		total := 0.0
		for _, v := range values {
			total += v
		}
		return total / float64(len(values))
	})
}

// Median returns the median of every numeric column, skipping nulls.
func (f *Frame) Median() map[string]float64 {
	return f.aggregate(func(values []float64) float64 {
		sorted := make([]float64, len(values))
		copy(sorted, values)
		sort.Float64s(sorted)
		mid := len(sorted) / 2
		if len(sorted)%2 == 0 {
			return (sorted[mid-1] + sorted[mid]) / 2
		}
		return sorted[mid]
	})
}

// Min returns the minimum of every numeric column, skipping nulls.
func (f *Frame) Min() map[string]float64 {
	return f.aggregate(func(values []float64) float64 {
		m := values[0]
		for _, v := range values[1:] {
			if v < m {
				m = v
			}
		}
		return m
	})
}

// Max returns the maximum of every numeric column, skipping nulls.
func (f *Frame) Max() map[string]float64 {
	return f.aggregate(func(values []float64) float64 {
		m := values[0]
		for _, v := range values[1:] {
			if v > m {
				m = v
			}
		}
		return m
	})
}

// aggregate applies fn to the non-null values of every numeric column.
// Columns holding any non-numeric value are skipped, as are columns with no
// values at all.
func (f *Frame) aggregate(fn func([]float64) float64) map[string]float64 {
	out := make(map[string]float64)
	for idx, col := range f.ds.Columns {
		values, numeric := f.numericColumn(idx)
		if numeric && len(values) > 0 {
			out[col] = fn(values)
		}
	}
	return out
}

func (f *Frame) numericColumn(idx int) ([]float64, bool) {
	var values []float64
	for _, row := range f.ds.Rows {
		switch v := row[idx].(type) {
		case nil:
			// skip nulls
		case float64:
			values = append(values, v)
		default:
			return nil, false
		}
	}
	return values, true
}

// Fillna replaces null cells. The argument is either a scalar (applied to
// every column) or a column-to-value map such as the result of mean().
func (f *Frame) Fillna(value goja.Value) (*Frame, error) {
	exported := value.Export()

	if byColumn, ok := columnMap(exported); ok {
		fills := make(map[int]dataset.Cell)
		for col, raw := range byColumn {
			idx, exists := f.ds.ColumnIndex(col)
			if !exists {
				return nil, fmt.Errorf("no such column: %s", col)
			}
			cell, err := dataset.NormalizeCell(raw)
			if err != nil {
				return nil, fmt.Errorf("fill value for %q: %w", col, err)
			}
			fills[idx] = cell
		}
		for _, row := range f.ds.Rows {
			for idx, cell := range fills {
				if row[idx] == nil {
					row[idx] = cell
				}
			}
		}
		return f, nil
	}

	cell, err := dataset.NormalizeCell(exported)
	if err != nil {
		return nil, fmt.Errorf("fill value: %w", err)
	}
	for _, row := range f.ds.Rows {
		for idx := range row {
			if row[idx] == nil {
				row[idx] = cell
			}
		}
	}
	return f, nil
}

// Dropna removes rows containing any null cell.
func (f *Frame) Dropna() *Frame {
	kept := f.ds.Rows[:0]
	for _, row := range f.ds.Rows {
		complete := true
		for _, cell := range row {
			if cell == nil {
				complete = false
				break
			}
		}
		if complete {
			kept = append(kept, row)
		}
	}
	f.ds.Rows = kept
	return f
}

// RenameColumn renames a column, keeping its position and values.
func (f *Frame) RenameColumn(oldName, newName string) (*Frame, error) {
	if err := f.ds.Rename(oldName, newName); err != nil {
		return nil, err
	}
	return f, nil
}

// DropColumn removes a column and its cells.
func (f *Frame) DropColumn(name string) (*Frame, error) {
	idx, ok := f.ds.ColumnIndex(name)
	if !ok {
		return nil, fmt.Errorf("no such column: %s", name)
	}
	f.ds.Columns = append(f.ds.Columns[:idx], f.ds.Columns[idx+1:]...)
	for i, row := range f.ds.Rows {
		f.ds.Rows[i] = append(row[:idx], row[idx+1:]...)
	}
	return f, nil
}

// Select keeps only the named columns, in the given order.
func (f *Frame) Select(columns []string) (*Frame, error) {
	indices := make([]int, len(columns))
	for i, col := range columns {
		idx, ok := f.ds.ColumnIndex(col)
		if !ok {
			return nil, fmt.Errorf("no such column: %s", col)
		}
		indices[i] = idx
	}

	rows := make([][]dataset.Cell, len(f.ds.Rows))
	for i, row := range f.ds.Rows {
		projected := make([]dataset.Cell, len(indices))
		for j, idx := range indices {
			projected[j] = row[idx]
		}
		rows[i] = projected
	}

	f.ds.Columns = append([]string(nil), columns...)
	f.ds.Rows = rows
	return f, nil
}

// Head truncates the dataset to its first n rows.
func (f *Frame) Head(n int) (*Frame, error) {
	if n < 0 {
		return nil, fmt.Errorf("head count must not be negative, got %d", n)
	}
	if n < len(f.ds.Rows) {
		f.ds.Rows = f.ds.Rows[:n]
	}
	return f, nil
}

// Filter keeps rows for which the predicate returns a truthy value. The
// predicate receives each row as a column-to-value object.
func (f *Frame) Filter(predicate goja.Value) (*Frame, error) {
	fn, ok := goja.AssertFunction(predicate)
	if !ok {
		return nil, fmt.Errorf("filter expects a function")
	}

	kept := f.ds.Rows[:0]
	for i, row := range f.ds.Rows {
		verdict, err := fn(goja.Undefined(), f.rowValue(row), f.rt.ToValue(i))
		if err != nil {
			return nil, err
		}
		if verdict.ToBoolean() {
			kept = append(kept, row)
		}
	}
	f.ds.Rows = kept
	return f, nil
}

// Apply rewrites a column by mapping each cell through fn(value, row).
func (f *Frame) Apply(column string, fn goja.Value) (*Frame, error) {
	mapper, ok := goja.AssertFunction(fn)
	if !ok {
		return nil, fmt.Errorf("apply expects a function")
	}
	idx, exists := f.ds.ColumnIndex(column)
	if !exists {
		return nil, fmt.Errorf("no such column: %s", column)
	}

	for _, row := range f.ds.Rows {
		mapped, err := mapper(goja.Undefined(), f.rt.ToValue(row[idx]), f.rowValue(row))
		if err != nil {
			return nil, err
		}
		cell, cellErr := dataset.NormalizeCell(mapped.Export())
		if cellErr != nil {
			return nil, fmt.Errorf("apply on %q: %w", column, cellErr)
		}
		row[idx] = cell
	}
	return f, nil
}

// AddColumn appends a column computed from each row.
func (f *Frame) AddColumn(name string, fn goja.Value) (*Frame, error) {
	if _, exists := f.ds.ColumnIndex(name); exists {
		return nil, fmt.Errorf("column already exists: %s", name)
	}
	builder, ok := goja.AssertFunction(fn)
	if !ok {
		return nil, fmt.Errorf("addColumn expects a function")
	}
	if budget := (len(f.ds.Columns) + 1) * len(f.ds.Rows); f.maxCells > 0 && budget > f.maxCells {
		return nil, fmt.Errorf("dataset would exceed the cell budget (%d cells)", f.maxCells)
	}

	cells := make([]dataset.Cell, len(f.ds.Rows))
	for i, row := range f.ds.Rows {
		computed, err := builder(goja.Undefined(), f.rowValue(row), f.rt.ToValue(i))
		if err != nil {
			return nil, err
		}
		cell, cellErr := dataset.NormalizeCell(computed.Export())
		if cellErr != nil {
			return nil, fmt.Errorf("addColumn %q: %w", name, cellErr)
		}
		cells[i] = cell
	}

	f.ds.Columns = append(f.ds.Columns, name)
	for i := range f.ds.Rows {
		f.ds.Rows[i] = append(f.ds.Rows[i], cells[i])
	}
	return f, nil
}

// Sort orders rows by a column. Nulls sort last regardless of direction.
func (f *Frame) Sort(column string, ascending bool) (*Frame, error) {
	idx, ok := f.ds.ColumnIndex(column)
	if !ok {
		return nil, fmt.Errorf("no such column: %s", column)
	}

	sort.SliceStable(f.ds.Rows, func(i, j int) bool {
		a, b := f.ds.Rows[i][idx], f.ds.Rows[j][idx]
		if a == nil || b == nil {
			return b == nil && a != nil
		}
		less := cellLess(a, b)
		if ascending {
			return less
		}
		return cellLess(b, a)
	})
	return f, nil
}

// Unique returns the distinct values of a column in first-seen order.
func (f *Frame) Unique(column string) ([]any, error) {
	idx, ok := f.ds.ColumnIndex(column)
	if !ok {
		return nil, fmt.Errorf("no such column: %s", column)
	}

	seen := make(map[any]bool)
	var out []any
	for _, row := range f.ds.Rows {
		cell := row[idx]
		if !seen[cell] {
			seen[cell] = true
			out = append(out, cell)
		}
	}
	return out, nil
}

// columnMap recognizes a column-to-value object. Aggregate results round-trip
// through the interpreter as their original Go map type, so both shapes occur.
func columnMap(exported any) (map[string]any, bool) {
	switch m := exported.(type) {
	case map[string]any:
		return m, true
	case map[string]float64:
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out, true
	default:
		return nil, false
	}
}

func (f *Frame) rowValue(row []dataset.Cell) goja.Value {
	obj := make(map[string]any, len(f.ds.Columns))
	for i, col := range f.ds.Columns {
		obj[col] = row[i]
	}
	return f.rt.ToValue(obj)
}

func cellLess(a, b dataset.Cell) bool {
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			return av < bv
		}
	case string:
		if bv, ok := b.(string); ok {
			return av < bv
		}
	case bool:
		if bv, ok := b.(bool); ok {
			return !av && bv
		}
	}
	// Mixed types: stable sort keeps the original order.
	return false
}
