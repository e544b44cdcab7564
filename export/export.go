// Package export writes comparison results as CSV, Parquet and console tables
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"imgcompare/types"
)

// SimilarColumn names the answer column of best-match tables
const SimilarColumn = "similar_image_name"

// Table is a rectangular set of string cells with a header
type Table struct {
	Header []string
	Rows   [][]string
}

// BestMatchTable has one row per query. The first column holds the query
// name under label; queries without a match leave the answer empty.
func BestMatchTable(label string, answers []types.Answer) *Table {
	t := &Table{Header: []string{label, SimilarColumn}}
	for _, a := range answers {
		candidate := ""
		if a.Found && a.Err == nil {
			candidate = a.Candidate
		}
		t.Rows = append(t.Rows, []string{a.Query, candidate})
	}
	return t
}

// MatrixTable has one row per computed matrix row and one column per
// second-dataset image. Failed and absent cells are left empty.
func MatrixTable(label string, m *types.Matrix) *Table {
	t := &Table{Header: append([]string{label}, m.ColIDs...)}
	for i, row := range m.Cells {
		r := make([]string, 0, len(row)+1)
		r = append(r, m.RowIDs[i])
		for _, c := range row {
			r = append(r, formatCell(c))
		}
		t.Rows = append(t.Rows, r)
	}
	return t
}

func formatCell(c types.Cell) string {
	if !c.OK() || math.IsNaN(c.Value) {
		return ""
	}
	return strconv.FormatFloat(c.Value, 'g', -1, 64)
}

// BestMatchPath returns the file a best-match table of strategy is written to
func BestMatchPath(dir, strategy, ext string) string {
	return filepath.Join(dir, strategy+ext)
}

// MatrixPath returns the file a matrix of strategy is written to
func MatrixPath(dir, strategy, ext string) string {
	return filepath.Join(dir, strategy+"_matrix"+ext)
}

// WriteCSV writes the table to path, creating parent directories
func WriteCSV(path string, t *Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := EncodeCSV(f, t); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// EncodeCSV writes the header and rows in CSV form
func EncodeCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}

// Render prints the table to w
func Render(w io.Writer, t *Table) {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader(t.Header)
	tw.SetAutoFormatHeaders(false)
	tw.AppendBulk(t.Rows)
	tw.Render()
}

// WriteMatrix writes m as <dir>/<strategy>_matrix.csv and its Parquet mirror
// and returns the files written
func WriteMatrix(dir, strategy, label string, m *types.Matrix) ([]string, error) {
	csvPath := MatrixPath(dir, strategy, ".csv")
	if err := WriteCSV(csvPath, MatrixTable(label, m)); err != nil {
		return nil, err
	}
	pqPath := MatrixPath(dir, strategy, ".parquet")
	if err := WriteParquet(pqPath, MatrixRecords(m)); err != nil {
		return []string{csvPath}, err
	}
	return []string{csvPath, pqPath}, nil
}

// WriteBestMatches writes answers as <dir>/<strategy>.csv and its Parquet
// mirror and returns the files written
func WriteBestMatches(dir, strategy, label string, answers []types.Answer) ([]string, error) {
	csvPath := BestMatchPath(dir, strategy, ".csv")
	if err := WriteCSV(csvPath, BestMatchTable(label, answers)); err != nil {
		return nil, err
	}
	pqPath := BestMatchPath(dir, strategy, ".parquet")
	if err := WriteParquet(pqPath, AnswerRecords(answers)); err != nil {
		return []string{csvPath}, err
	}
	return []string{csvPath, pqPath}, nil
}
