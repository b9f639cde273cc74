package crf

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-tagger/internal/tensor"
)

// alphaObserver sees each element's alpha vector after step t has been
// applied (or skipped). Only tests use it.
type alphaObserver func(t, b int, alpha []float64)

// initAlpha makes start the only reachable tag before the first emission.
func initAlpha(alpha []float64, start int) {
	for i := range alpha {
		alpha[i] = MaskValue
	}
	alpha[start] = 0
}

// hold keeps the frozen state unless the element is still inside its
// length, in which case the freshly computed state replaces it.
func hold(state, next []float64, active bool) {
	if active {
		copy(state, next)
	}
}

// forward computes the log partition function of every batch element.
// unary is (T, B, N) and already validated against lengths and trans.
func forward(unary *tensor.Dense3, trans *mat.Dense, lengths []int, start, end int, observe alphaObserver) []float64 {
	T, B, N := unary.Dims()
	pool := tensor.DefaultPool

	alphas := pool.Floats(B * N)
	defer pool.PutFloats(alphas)
	out := make([]float64, B)
	endRow := trans.RawRowView(end)

	parallelFor(B, func(lo, hi int) {
		scratch := pool.Floats(2 * N)
		defer pool.PutFloats(scratch)
		scores, next := scratch[:N], scratch[N:]

		for b := lo; b < hi; b++ {
			initAlpha(alphas[b*N:(b+1)*N], start)
		}

		for t := 0; t < T; t++ {
			for b := lo; b < hi; b++ {
				alpha := alphas[b*N : (b+1)*N]
				emit := unary.Vec(t, b)
				for i := 0; i < N; i++ {
					// scores[j] = alpha[j] + trans[i][j]
					floats.AddTo(scores, alpha, trans.RawRowView(i))
					next[i] = floats.LogSumExp(scores) + emit[i]
				}
				hold(alpha, next, t < lengths[b])
				if observe != nil {
					observe(t, b, alpha)
				}
			}
		}

		for b := lo; b < hi; b++ {
			floats.AddTo(scores, alphas[b*N:(b+1)*N], endRow)
			out[b] = floats.LogSumExp(scores)
		}
	})
	return out
}
