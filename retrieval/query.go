package retrieval

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"imgcompare/metrics"
	"imgcompare/types"
)

// Vote is the best match of one query descriptor
type Vote struct {
	Label      int
	Similarity float64
}

// QueryResult explains the answer of a query
type QueryResult struct {
	Target   int
	Match    int
	Votes    []Vote
	Retained int
	Counts   map[int]int
}

// FindSimilarImage returns the index of the image most similar to target, or
// an error wrapping types.ErrNoMatchFound when no vote exceeds the threshold
func (idx *Index) FindSimilarImage(target int) (int, error) {
	res, err := idx.Query(target)
	if err != nil {
		return -1, err
	}
	return res.Match, nil
}

// Query matches every descriptor of target against the descriptors of all
// other images. Each target descriptor votes for the label of its most
// similar other descriptor, the first one in store order on equal
// similarity. Votes not strictly above the threshold are dropped and the
// most frequent remaining label wins, the lowest label on equal counts.
func (idx *Index) Query(target int) (*QueryResult, error) {
	if target < 0 || target >= idx.NumImages() {
		metrics.RetrievalQueriesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %d not in [0,%d)", types.ErrInvalidTarget, target, idx.NumImages())
	}

	var self, other []int
	for k, l := range idx.labels {
		if l == target {
			self = append(self, k)
		} else {
			other = append(other, k)
		}
	}

	res := &QueryResult{Target: target, Match: -1, Counts: make(map[int]int)}
	if len(self) == 0 || len(other) == 0 {
		metrics.RetrievalQueriesTotal.WithLabelValues("no_match").Inc()
		return res, fmt.Errorf("%w: image %d has %d descriptors against %d others",
			types.ErrNoMatchFound, target, len(self), len(other))
	}

	xSelf := idx.rows(self)
	xOther := idx.rows(other)

	var d mat.Dense
	d.Mul(xOther, xSelf.T())

	res.Votes = make([]Vote, len(self))
	for k := range self {
		best := 0
		bestSim := d.At(0, k)
		for r := 1; r < len(other); r++ {
			if s := d.At(r, k); s > bestSim {
				best, bestSim = r, s
			}
		}
		res.Votes[k] = Vote{Label: idx.labels[other[best]], Similarity: bestSim}
	}

	var retained []int
	for _, v := range res.Votes {
		if v.Similarity > idx.threshold {
			retained = append(retained, v.Label)
			res.Counts[v.Label]++
		}
	}
	res.Retained = len(retained)

	if len(retained) == 0 {
		metrics.RetrievalQueriesTotal.WithLabelValues("no_match").Inc()
		return res, fmt.Errorf("%w: no vote of image %d above %.2f", types.ErrNoMatchFound, target, idx.threshold)
	}

	res.Match = mode(retained)
	metrics.RetrievalQueriesTotal.WithLabelValues("match").Inc()
	return res, nil
}

// Answers queries every image in store order. Images without a match keep
// Found false and the vote count of the winning label becomes the score.
func (idx *Index) Answers(ctx context.Context) ([]types.Answer, error) {
	out := make([]types.Answer, 0, idx.NumImages())
	for t := 0; t < idx.NumImages(); t++ {
		if err := ctx.Err(); err != nil {
			return out, types.Incomplete(err)
		}

		a := types.Answer{Query: idx.Name(t)}
		res, err := idx.Query(t)
		switch {
		case err == nil:
			a.Candidate = idx.Name(res.Match)
			a.Score = float64(res.Counts[res.Match])
			a.Found = true
		case !errors.Is(err, types.ErrNoMatchFound):
			a.Err = err
		}
		out = append(out, a)
	}
	return out, nil
}

// rows gathers the descriptors at positions ks into a matrix
func (idx *Index) rows(ks []int) *mat.Dense {
	data := make([]float64, 0, len(ks)*idx.dim)
	for _, k := range ks {
		data = append(data, idx.data[k*idx.dim:(k+1)*idx.dim]...)
	}
	return mat.NewDense(len(ks), idx.dim, data)
}

// mode returns the most frequent label. Equal counts resolve to the lowest label.
func mode(labels []int) int {
	counts := make(map[int]int, len(labels))
	for _, l := range labels {
		counts[l]++
	}

	best, bestCount := 0, 0
	for l, c := range counts {
		if c > bestCount || (c == bestCount && l < best) {
			best, bestCount = l, c
		}
	}
	return best
}
