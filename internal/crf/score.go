package crf

import (
	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-tagger/internal/tensor"
)

// scoreSentence returns the unnormalised score of the given tag sequence of
// every batch element: emissions plus transitions from start, through each
// tag, into end. unary is (T, B, N), tags is (T', B) with T' >= each length.
func scoreSentence(unary *tensor.Dense3, tags *tensor.Ints2, trans *mat.Dense, lengths []int, start, end int) []float64 {
	T, B, _ := unary.Dims()
	out := make([]float64, B)

	parallelFor(B, func(lo, hi int) {
		for b := lo; b < hi; b++ {
			prev := start
			var total float64
			for t := 0; t < T; t++ {
				// Padded steps contribute nothing and their tags are never read.
				var step float64
				if t < lengths[b] {
					tag := tags.At(t, b)
					step = unary.At(t, b, tag) + trans.At(tag, prev)
					prev = tag
				}
				total += step
			}
			// prev is now the tag at the last real position.
			out[b] = total + trans.At(end, prev)
		}
	})
	return out
}
