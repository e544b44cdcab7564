package export

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"imgcompare/types"
)

// CellRecord is one matrix cell in long form
type CellRecord struct {
	Row   string  `parquet:"row"`
	Col   string  `parquet:"col"`
	Value float64 `parquet:"value"`
	Valid bool    `parquet:"valid"`
	Error string  `parquet:"error,optional"`
}

// AnswerRecord is one best-match row
type AnswerRecord struct {
	Query     string  `parquet:"query"`
	Candidate string  `parquet:"similar_image_name,optional"`
	Score     float64 `parquet:"score"`
	Found     bool    `parquet:"found"`
	Error     string  `parquet:"error,optional"`
}

// MatrixRecords flattens the computed rows of m in row-major order
func MatrixRecords(m *types.Matrix) []CellRecord {
	out := make([]CellRecord, 0, m.RowsDone()*len(m.ColIDs))
	for i, row := range m.Cells {
		for j, c := range row {
			r := CellRecord{Row: m.RowIDs[i], Col: m.ColIDs[j]}
			switch {
			case c.Err != nil:
				r.Error = c.Err.Error()
			case c.OK() && !math.IsNaN(c.Value):
				r.Value = c.Value
				r.Valid = true
			}
			out = append(out, r)
		}
	}
	return out
}

// AnswerRecords converts answers in query order
func AnswerRecords(answers []types.Answer) []AnswerRecord {
	out := make([]AnswerRecord, len(answers))
	for i, a := range answers {
		r := AnswerRecord{Query: a.Query, Found: a.Found}
		if a.Err != nil {
			r.Error = a.Err.Error()
			r.Found = false
		} else if a.Found {
			r.Candidate = a.Candidate
			r.Score = a.Score
		}
		out[i] = r
	}
	return out
}

// WriteParquet writes rows to path with zstd compression
func WriteParquet[T any](path string, rows []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	pw := parquet.NewGenericWriter[T](f, parquet.Compression(&parquet.Zstd))
	if _, err := pw.Write(rows); err != nil {
		pw.Close()
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := pw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return f.Close()
}

// ReadParquet loads every row stored at path
func ReadParquet[T any](path string) ([]T, error) {
	return parquet.ReadFile[T](path)
}
