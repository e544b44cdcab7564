package types

import (
	"fmt"
	"math"
)

// Image is a canonical pixel buffer. Pix is row-major with interleaved
// channels (BGR order for colour images, as decoded by OpenCV).
type Image struct {
	Width    int
	Height   int
	Channels int
	Pix      []uint8
}

// Validate checks that the buffer length matches the declared shape
func (img Image) Validate() error {
	if img.Width <= 0 || img.Height <= 0 || img.Channels <= 0 {
		return fmt.Errorf("%w: non-positive shape %dx%dx%d", ErrMalformedImage, img.Width, img.Height, img.Channels)
	}
	if len(img.Pix) != img.Width*img.Height*img.Channels {
		return fmt.Errorf("%w: buffer holds %d bytes, shape %dx%dx%d needs %d",
			ErrMalformedImage, len(img.Pix), img.Width, img.Height, img.Channels, img.Width*img.Height*img.Channels)
	}
	return nil
}

// SameShape reports whether two images have identical dimensions
func (img Image) SameShape(other Image) bool {
	return img.Width == other.Width && img.Height == other.Height && img.Channels == other.Channels
}

// ShapeString formats the image dimensions for messages
func (img Image) ShapeString() string {
	return fmt.Sprintf("%dx%dx%d", img.Width, img.Height, img.Channels)
}

// ImageRecord holds a loaded image together with its identity
type ImageRecord struct {
	Path  string `json:"path"`
	Name  string `json:"name"`
	Image Image  `json:"-"`
}

// Identities returns the names of the records in order
func Identities(records []ImageRecord) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.Name
	}
	return ids
}

// Cell is one entry of a Matrix. Absent marks a cell for which no value
// could be produced because an input was omitted upstream.
type Cell struct {
	Value  float64
	Err    error
	Absent bool
}

// OK reports whether the cell holds a usable value
func (c Cell) OK() bool {
	return c.Err == nil && !c.Absent
}

// Matrix holds pairwise results. Rows follow the first dataset order and
// columns the second dataset order.
type Matrix struct {
	RowIDs []string
	ColIDs []string
	Cells  [][]Cell

	// Complete is false when the computation stopped before every row was done.
	// Cells then holds only the finished rows.
	Complete bool
}

// NewMatrix allocates an empty matrix with capacity for all rows
func NewMatrix(rowIDs, colIDs []string) *Matrix {
	return &Matrix{
		RowIDs: rowIDs,
		ColIDs: colIDs,
		Cells:  make([][]Cell, 0, len(rowIDs)),
	}
}

// RowsDone returns the number of computed rows
func (m *Matrix) RowsDone() int {
	return len(m.Cells)
}

// At returns the value at (i, j) or the cell error
func (m *Matrix) At(i, j int) (float64, error) {
	if i < 0 || i >= len(m.Cells) || j < 0 || j >= len(m.Cells[i]) {
		return math.NaN(), fmt.Errorf("cell (%d,%d) outside computed %dx%d matrix", i, j, len(m.Cells), len(m.ColIDs))
	}
	c := m.Cells[i][j]
	if c.Err != nil {
		return math.NaN(), c.Err
	}
	return c.Value, nil
}

// Failures lists every failed or absent cell in row-major order
func (m *Matrix) Failures() []*CellError {
	var out []*CellError
	for i, row := range m.Cells {
		for j, c := range row {
			if c.Err == nil {
				continue
			}
			if ce, ok := c.Err.(*CellError); ok {
				out = append(out, ce)
			} else {
				out = append(out, &CellError{Row: i, Col: j, Err: c.Err})
			}
		}
	}
	return out
}

// FailureCount returns the number of cells that carry an error
func (m *Matrix) FailureCount() int {
	n := 0
	for _, row := range m.Cells {
		for _, c := range row {
			if c.Err != nil {
				n++
			}
		}
	}
	return n
}

// Values copies the matrix into plain slices. Failed cells become NaN.
func Values(m *Matrix) [][]float64 {
	out := make([][]float64, len(m.Cells))
	for i, row := range m.Cells {
		out[i] = make([]float64, len(row))
		for j, c := range row {
			if c.OK() {
				out[i][j] = c.Value
			} else {
				out[i][j] = math.NaN()
			}
		}
	}
	return out
}

// Answer is the outcome of a best-match query for one image. Found is false
// when nothing qualified; Err is set when the query itself failed.
type Answer struct {
	Query     string
	Candidate string
	Score     float64
	Found     bool
	Err       error
}
