package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgcompare/types"
)

func sampleMatrix() *types.Matrix {
	m := types.NewMatrix([]string{"a.png", "b.png"}, []string{"x.png", "y.png", "z.png"})
	m.Cells = append(m.Cells,
		[]types.Cell{{Value: 0.25}, {Value: 1}, {Value: math.NaN(), Err: &types.CellError{Row: 0, Col: 2, Err: errors.New("shape")}}},
		[]types.Cell{{Absent: true, Err: errors.New("hash failed")}, {Value: 3.5}, {Value: 0}},
	)
	m.Complete = true
	return m
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestMatrixTable(t *testing.T) {
	tbl := MatrixTable("dataset1", sampleMatrix())

	assert.Equal(t, []string{"dataset1", "x.png", "y.png", "z.png"}, tbl.Header)
	assert.Equal(t, [][]string{
		{"a.png", "0.25", "1", ""},
		{"b.png", "", "3.5", "0"},
	}, tbl.Rows)
}

func TestBestMatchTable(t *testing.T) {
	answers := []types.Answer{
		{Query: "a", Candidate: "b", Score: 3, Found: true},
		{Query: "b"},
		{Query: "c", Candidate: "ignored", Found: true, Err: errors.New("boom")},
	}
	tbl := BestMatchTable("image", answers)

	assert.Equal(t, []string{"image", SimilarColumn}, tbl.Header)
	assert.Equal(t, [][]string{{"a", "b"}, {"b", ""}, {"c", ""}}, tbl.Rows)
}

func TestWriteMatrix(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")

	files, err := WriteMatrix(dir, "mse", "dataset1", sampleMatrix())
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "mse_matrix.csv"),
		filepath.Join(dir, "mse_matrix.parquet"),
	}, files)

	rows := readCSV(t, files[0])
	require.Len(t, rows, 3)
	assert.Equal(t, "dataset1", rows[0][0])
	assert.Equal(t, []string{"b.png", "", "3.5", "0"}, rows[2])

	records, err := ReadParquet[CellRecord](files[1])
	require.NoError(t, err)
	require.Len(t, records, 6)
	assert.Equal(t, CellRecord{Row: "a.png", Col: "x.png", Value: 0.25, Valid: true}, records[0])
	assert.False(t, records[2].Valid)
	assert.Contains(t, records[2].Error, "shape")
	assert.Equal(t, "hash failed", records[3].Error)
}

func TestWriteBestMatches(t *testing.T) {
	dir := t.TempDir()
	answers := []types.Answer{
		{Query: "a", Candidate: "c", Score: 4, Found: true},
		{Query: "b"},
	}

	files, err := WriteBestMatches(dir, "p", "dataset1", answers)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "p.csv"), files[0])

	rows := readCSV(t, files[0])
	assert.Equal(t, [][]string{{"dataset1", SimilarColumn}, {"a", "c"}, {"b", ""}}, rows)

	records, err := ReadParquet[AnswerRecord](files[1])
	require.NoError(t, err)
	assert.Equal(t, []AnswerRecord{
		{Query: "a", Candidate: "c", Score: 4, Found: true},
		{Query: "b"},
	}, records)
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	Render(&buf, BestMatchTable("image", []types.Answer{{Query: "a", Candidate: "b", Found: true}}))

	out := buf.String()
	assert.Contains(t, out, SimilarColumn)
	assert.Contains(t, out, "a")
	assert.Contains(t, out, "b")
}
