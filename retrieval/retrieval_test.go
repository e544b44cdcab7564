package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"imgcompare/types"
)

var errBroken = errors.New("broken file")

// tableExtractor returns the descriptors registered for the image's first pixel
type tableExtractor map[uint8][][]float32

func (e tableExtractor) Extract(img types.Image) ([][]float32, error) {
	d, ok := e[img.Pix[0]]
	if !ok {
		return nil, errBroken
	}
	return d, nil
}

func records(n int) []types.ImageRecord {
	out := make([]types.ImageRecord, n)
	for i := range out {
		out[i] = types.ImageRecord{
			Name:  fmt.Sprintf("img_%d", i),
			Image: types.Image{Width: 1, Height: 1, Channels: 1, Pix: []uint8{uint8(i)}},
		}
	}
	return out
}

func randomDescriptors(rng *rand.Rand, n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, dim)
		for j := range out[i] {
			out[i][j] = float32(rng.Float64()*10 - 5)
		}
	}
	return out
}

func TestBuildNormalizesDescriptors(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	ext := tableExtractor{}
	for i := 0; i < 5; i++ {
		ext[uint8(i)] = randomDescriptors(rng, 3+i, 16)
	}

	idx, report, err := Build(context.Background(), records(5), ext, Options{Workers: 2})
	require.NoError(t, err)
	assert.True(t, idx.Complete)
	assert.Equal(t, 25, idx.Len())
	assert.Equal(t, 16, idx.Dim())
	assert.Equal(t, 5, report.Indexed)
	assert.Equal(t, 25, report.Descriptors)

	for k := 0; k < idx.Len(); k++ {
		assert.InDelta(t, 1.0, floats.Norm(idx.Vector(k), 2), 1e-6)
	}
	assert.Equal(t, 0, idx.Label(0))
	assert.Equal(t, 4, idx.Label(idx.Len()-1))
}

func TestBuildWorkerInvariance(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	ext := tableExtractor{}
	for i := 0; i < 20; i++ {
		ext[uint8(i)] = randomDescriptors(rng, 1+rng.Intn(6), 8)
	}
	images := records(20)

	single, _, err := Build(context.Background(), images, ext, Options{Workers: 1})
	require.NoError(t, err)
	many, _, err := Build(context.Background(), images, ext, Options{Workers: 8})
	require.NoError(t, err)

	assert.Equal(t, single.data, many.data)
	assert.Equal(t, single.labels, many.labels)
}

func TestBuildReportsFailedImages(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	ext := tableExtractor{
		0: randomDescriptors(rng, 2, 4),
		2: {},
		3: {{0, 0, 0, 0}},
		4: randomDescriptors(rng, 2, 5),
		5: randomDescriptors(rng, 3, 4),
	}

	idx, report, err := Build(context.Background(), records(6), ext, Options{})
	require.NoError(t, err)

	require.Len(t, report.Failures, 4)
	assert.ErrorIs(t, report.Failures[0], errBroken)
	assert.Equal(t, 1, report.Failures[0].Index)
	assert.ErrorIs(t, report.Failures[1], types.ErrDescriptorExtraction)
	assert.ErrorIs(t, report.Failures[2], types.ErrDegenerateInput)
	assert.ErrorIs(t, report.Failures[3], types.ErrDimensionMismatch)

	assert.Equal(t, 5, idx.Len())
	assert.Equal(t, 2, report.Indexed)
	assert.Equal(t, 6, idx.NumImages())
	assert.Equal(t, 5, idx.Label(idx.Len()-1))
}

func TestBuildCapacityExceeded(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	ext := tableExtractor{0: randomDescriptors(rng, 3, 4), 1: randomDescriptors(rng, 3, 4)}

	idx, _, err := Build(context.Background(), records(2), ext, Options{MaxDescriptors: 5})
	assert.ErrorIs(t, err, types.ErrCapacityExceeded)
	assert.Equal(t, 3, idx.Len())

	idx, _, err = Build(context.Background(), records(2), ext, Options{MaxDescriptors: 6})
	require.NoError(t, err)
	assert.Equal(t, 6, idx.Len())
}

func TestBuildLargeStoreGrows(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	ext := tableExtractor{}
	for i := 0; i < 4; i++ {
		ext[uint8(i)] = randomDescriptors(rng, 20000, 4)
	}

	idx, _, err := Build(context.Background(), records(4), ext, Options{Workers: 4})
	require.NoError(t, err)
	assert.Equal(t, 80000, idx.Len())
}

func TestBuildCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	idx, _, err := Build(ctx, records(3), tableExtractor{}, Options{})
	assert.ErrorIs(t, err, types.ErrIncomplete)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, idx)
	assert.False(t, idx.Complete)
	assert.Zero(t, idx.Len())
	assert.Equal(t, DefaultThreshold, idx.Threshold())

	answers, err := idx.Answers(context.WithoutCancel(ctx))
	require.NoError(t, err)
	assert.Equal(t, []types.Answer{{Query: "img_0"}, {Query: "img_1"}, {Query: "img_2"}}, answers)
}

func TestFindSimilarImageDuplicate(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	a := randomDescriptors(rng, 10, 32)
	ext := tableExtractor{
		0: a,
		1: randomDescriptors(rng, 10, 32),
		2: a,
		3: randomDescriptors(rng, 10, 32),
	}

	idx, _, err := Build(context.Background(), records(4), ext, Options{})
	require.NoError(t, err)

	res, err := idx.Query(0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Match)
	assert.Equal(t, len(a), res.Retained)
	for _, v := range res.Votes {
		assert.Equal(t, 2, v.Label)
		assert.InDelta(t, 1.0, v.Similarity, 1e-9)
	}

	match, err := idx.FindSimilarImage(2)
	require.NoError(t, err)
	assert.Equal(t, 0, match)
}

func TestFindSimilarImageTieBreak(t *testing.T) {
	e1 := []float32{1, 0, 0, 0}
	e2 := []float32{0, 1, 0, 0}
	ext := tableExtractor{
		0: {e1, e2},
		1: {{0, 0, 1, 0}},
		2: {e2},
		3: {e1},
	}

	idx, _, err := Build(context.Background(), records(4), ext, Options{})
	require.NoError(t, err)

	for run := 0; run < 20; run++ {
		res, err := idx.Query(0)
		require.NoError(t, err)
		assert.Equal(t, map[int]int{2: 1, 3: 1}, res.Counts)
		assert.Equal(t, 2, res.Match)
	}
}

func TestQueryFirstOtherDescriptorWinsColumnTie(t *testing.T) {
	e1 := []float32{1, 0}
	ext := tableExtractor{0: {e1}, 1: {e1}, 2: {e1}}

	idx, _, err := Build(context.Background(), records(3), ext, Options{})
	require.NoError(t, err)

	res, err := idx.Query(2)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Match)
	assert.Equal(t, []Vote{{Label: 0, Similarity: 1}}, res.Votes)
}

func TestFindSimilarImageNoMatch(t *testing.T) {
	ext := tableExtractor{
		0: {{1, 0, 0}},
		1: {{0, 1, 0}},
		2: {{0.9, 0.43589, 0}},
	}

	idx, _, err := Build(context.Background(), records(3), ext, Options{})
	require.NoError(t, err)

	_, err = idx.FindSimilarImage(1)
	assert.ErrorIs(t, err, types.ErrNoMatchFound)

	_, err = idx.FindSimilarImage(0)
	assert.ErrorIs(t, err, types.ErrNoMatchFound)

	idx, _, err = Build(context.Background(), records(3), ext, Options{Threshold: 0.8})
	require.NoError(t, err)
	match, err := idx.FindSimilarImage(0)
	require.NoError(t, err)
	assert.Equal(t, 2, match)
}

func TestQueryThresholdIsStrict(t *testing.T) {
	ext := tableExtractor{0: {{1, 0}}, 1: {{1, 0}}}

	idx, _, err := Build(context.Background(), records(2), ext, Options{Threshold: 1})
	require.NoError(t, err)

	res, err := idx.Query(0)
	assert.ErrorIs(t, err, types.ErrNoMatchFound)
	require.Len(t, res.Votes, 1)
	assert.Equal(t, 1.0, res.Votes[0].Similarity)
	assert.Zero(t, res.Retained)
}

func TestQueryWithoutDescriptors(t *testing.T) {
	ext := tableExtractor{0: {{1, 0}}}

	idx, _, err := Build(context.Background(), records(2), ext, Options{})
	require.NoError(t, err)

	_, err = idx.FindSimilarImage(1)
	assert.ErrorIs(t, err, types.ErrNoMatchFound)
	_, err = idx.FindSimilarImage(0)
	assert.ErrorIs(t, err, types.ErrNoMatchFound)
}

func TestQueryInvalidTarget(t *testing.T) {
	idx, _, err := Build(context.Background(), records(1), tableExtractor{0: {{1}}}, Options{})
	require.NoError(t, err)

	_, err = idx.Query(-1)
	assert.ErrorIs(t, err, types.ErrInvalidTarget)
	_, err = idx.Query(1)
	assert.ErrorIs(t, err, types.ErrInvalidTarget)
}

func TestMode(t *testing.T) {
	tests := []struct {
		name   string
		labels []int
		want   int
	}{
		{"single", []int{4}, 4},
		{"majority", []int{3, 1, 3, 2}, 3},
		{"two-way tie", []int{7, 2, 7, 2}, 2},
		{"three-way tie", []int{9, 5, 6}, 5},
		{"tie with zero", []int{0, 1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for run := 0; run < 10; run++ {
				assert.Equal(t, tt.want, mode(tt.labels))
			}
		})
	}
}

func TestAnswers(t *testing.T) {
	e1 := []float32{1, 0, 0}
	ext := tableExtractor{
		0: {e1},
		1: {{0, 1, 0}},
		2: {e1},
	}

	idx, _, err := Build(context.Background(), records(3), ext, Options{})
	require.NoError(t, err)

	answers, err := idx.Answers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []types.Answer{
		{Query: "img_0", Candidate: "img_2", Score: 1, Found: true},
		{Query: "img_1"},
		{Query: "img_2", Candidate: "img_0", Score: 1, Found: true},
	}, answers)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	answers, err = idx.Answers(ctx)
	assert.ErrorIs(t, err, types.ErrIncomplete)
	assert.Empty(t, answers)
}
