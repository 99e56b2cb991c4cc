// Package dataset provides the in-memory tabular data model.
//
// A Dataset is the value submitted code transforms: named columns over rows
// of scalar cells. Two wire forms are supported: the primary
// {"columns": [...], "rows": [[...]]} shape with explicit column order, and
// a pandas-style records array for interoperating with callers that speak
// orient='records' JSON.
package dataset
