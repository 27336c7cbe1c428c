package codec

import "github.com/cockroachdb/errors"

// Frame is a columnar result table, the cacheable shape of an expensive
// tabular query (vendor rows, order aggregates). Cell values must be
// msgpack-serializable scalars; note that integers round-trip as int64 and
// floats as float64 regardless of the Go type that produced them.
type Frame struct {
	Columns []string `msgpack:"columns"`
	Rows    [][]any  `msgpack:"rows"`
}

// NewFrame returns an empty frame with the given column set.
func NewFrame(columns ...string) *Frame {
	return &Frame{Columns: columns}
}

// AppendRow adds a row. The cell count must match the column count.
func (f *Frame) AppendRow(cells ...any) error {
	if len(cells) != len(f.Columns) {
		return errors.Newf("codec: row has %d cells, frame has %d columns", len(cells), len(f.Columns))
	}
	f.Rows = append(f.Rows, cells)
	return nil
}

// NumRows returns the number of rows in the frame.
func (f *Frame) NumRows() int { return len(f.Rows) }

// Slice returns the half-open row range [start, end), clamped to the frame
// bounds. Used for paginating cached results without re-running the query.
func (f *Frame) Slice(start, end int) *Frame {
	if start < 0 {
		start = 0
	}
	if end > len(f.Rows) {
		end = len(f.Rows)
	}
	if start >= end {
		return &Frame{Columns: f.Columns}
	}
	return &Frame{Columns: f.Columns, Rows: f.Rows[start:end]}
}
