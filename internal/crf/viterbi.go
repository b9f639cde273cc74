package crf

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-tagger/internal/tensor"
)

// Viterbi decodes the best path of every batch element.
//
// unary is (T, B, N) time-major and trans is N×N indexed [to][from]. If norm
// is set the initial state is log-softmax normalised before the recursion.
// Paths are returned truncated to each element's length, together with the
// score of each path including the final transition into end.
//
// Ties in every max resolve to the lowest tag index.
func Viterbi(unary *tensor.Dense3, trans *mat.Dense, lengths []int, start, end int, norm bool) ([][]int, []float64, error) {
	if trans == nil {
		return nil, nil, fmt.Errorf("%w: nil transitions", ErrShape)
	}
	n, cols := trans.Dims()
	if err := validateTransitions(n, cols, n); err != nil {
		return nil, nil, err
	}
	if start < 0 || start >= n || end < 0 || end >= n {
		return nil, nil, fmt.Errorf("%w: start %d or end %d out of range [0, %d)", ErrConfig, start, end, n)
	}
	if err := validateEmissions(unary, lengths, n); err != nil {
		return nil, nil, err
	}

	began := time.Now()
	paths, scores := viterbi(unary, trans, lengths, start, end, norm)
	observeCall("viterbi", began, lengths)
	return paths, scores, nil
}

// viterbi is Viterbi without validation or metrics.
func viterbi(unary *tensor.Dense3, trans *mat.Dense, lengths []int, start, end int, norm bool) ([][]int, []float64) {
	T, B, N := unary.Dims()
	pool := tensor.DefaultPool

	alphas := pool.Floats(B * N)
	defer pool.PutFloats(alphas)
	// backpointers[(t*B+b)*N+i] is the best previous tag for tag i at step t.
	backpointers := pool.Ints(T * B * N)
	defer pool.PutInts(backpointers)

	paths := make([][]int, B)
	scores := make([]float64, B)
	endRow := trans.RawRowView(end)

	parallelFor(B, func(lo, hi int) {
		scratch := pool.Floats(2 * N)
		defer pool.PutFloats(scratch)
		cand, next := scratch[:N], scratch[N:]
		nextBp := make([]int, N)

		for b := lo; b < hi; b++ {
			alpha := alphas[b*N : (b+1)*N]
			initAlpha(alpha, start)
			if norm {
				floats.AddConst(-floats.LogSumExp(alpha), alpha)
			}
		}

		for t := 0; t < T; t++ {
			for b := lo; b < hi; b++ {
				alpha := alphas[b*N : (b+1)*N]
				bp := backpointers[(t*B+b)*N : (t*B+b+1)*N]
				emit := unary.Vec(t, b)
				for i := 0; i < N; i++ {
					floats.AddTo(cand, alpha, trans.RawRowView(i))
					j := floats.MaxIdx(cand)
					next[i] = cand[j] + emit[i]
					nextBp[i] = j
				}
				if t < lengths[b] {
					copy(alpha, next)
					copy(bp, nextBp)
				} else {
					// Past the end the element stays put: identity pointers
					// keep the backward walk from moving.
					for i := range bp {
						bp[i] = i
					}
				}
			}
		}

		for b := lo; b < hi; b++ {
			floats.AddTo(cand, alphas[b*N:(b+1)*N], endRow)
			best := floats.MaxIdx(cand)
			scores[b] = cand[best]
			paths[b] = backtrack(backpointers, best, b, T, B, N, lengths[b])
		}
	})
	return paths, scores
}

// backtrack walks the back-pointers of element b from its last real tag.
// Reversed step i only moves the tag once i > T-length-1, so pointers
// recorded in the padding region are never followed.
func backtrack(backpointers []int, best, b, T, B, N, length int) []int {
	revLen := T - length - 1
	// reversed[k] is the tag at forward position T-1-k.
	reversed := make([]int, T)
	cur := best
	reversed[0] = cur
	for i := 0; i < T-1; i++ {
		t := T - 1 - i
		candidate := backpointers[(t*B+b)*N+cur]
		if i > revLen {
			cur = candidate
		}
		reversed[i+1] = cur
	}

	path := make([]int, length)
	for p := 0; p < length; p++ {
		path[p] = reversed[T-1-p]
	}
	return path
}
