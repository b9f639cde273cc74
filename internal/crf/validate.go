package crf

import (
	"fmt"

	"github.com/23skdu/longbow-tagger/internal/tensor"
)

// validateEmissions checks time-major emissions against the CRF and the
// length vector. It runs before any recursion so malformed input never
// yields a partial result.
func validateEmissions(unary *tensor.Dense3, lengths []int, n int) error {
	if unary == nil {
		return fmt.Errorf("%w: nil emissions", ErrShape)
	}
	T, B, N := unary.Dims()
	if N != n {
		return fmt.Errorf("%w: emissions have %d tags, CRF has %d", ErrShape, N, n)
	}
	if len(lengths) != B {
		return fmt.Errorf("%w: %d lengths for batch of %d", ErrShape, len(lengths), B)
	}
	for b, l := range lengths {
		if l < 1 || l > T {
			return fmt.Errorf("%w: element %d has length %d, want [1, %d]", ErrLength, b, l, T)
		}
	}
	return nil
}

// validateTags checks time-major gold tags. Only positions inside each
// element's length are read, so padding may hold any value.
func validateTags(tags *tensor.Ints2, lengths []int, n int) error {
	if tags == nil {
		return fmt.Errorf("%w: nil tags", ErrShape)
	}
	T, B := tags.Dims()
	if B != len(lengths) {
		return fmt.Errorf("%w: tags have batch %d, want %d", ErrShape, B, len(lengths))
	}
	for b, l := range lengths {
		if l > T {
			return fmt.Errorf("%w: tags have %d steps, element %d needs %d", ErrShape, T, b, l)
		}
		for t := 0; t < l; t++ {
			if tag := tags.At(t, b); tag < 0 || tag >= n {
				return fmt.Errorf("%w: element %d step %d has tag %d, want [0, %d)", ErrShape, b, t, tag, n)
			}
		}
	}
	return nil
}

func validateTransitions(rows, cols, n int) error {
	if rows != n || cols != n {
		return fmt.Errorf("%w: transitions are %dx%d, want %dx%d", ErrShape, rows, cols, n, n)
	}
	return nil
}
