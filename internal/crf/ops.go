package crf

import (
	"time"

	"github.com/23skdu/longbow-tagger/internal/tensor"
)

// timeMajor returns emissions as (T, B, N).
func (c *CRF) timeMajor(unary *tensor.Dense3) *tensor.Dense3 {
	if c.batchFirst && unary != nil {
		return unary.SwapLeading()
	}
	return unary
}

// LogPartition returns the log partition function log Z of every batch
// element: the log-sum-exp over all paths from start through each real step
// and into end.
func (c *CRF) LogPartition(unary *tensor.Dense3, lengths []int) ([]float64, error) {
	unary = c.timeMajor(unary)
	if err := validateEmissions(unary, lengths, c.n); err != nil {
		return nil, err
	}

	began := time.Now()
	out := forward(unary, c.Transitions(), lengths, c.start, c.end, nil)
	observeCall("forward", began, lengths)
	return out, nil
}

// Score returns the unnormalised score of the given gold tag sequences.
// tags is (T, B), or (B, T) when the CRF is batch-first.
func (c *CRF) Score(unary *tensor.Dense3, tags *tensor.Ints2, lengths []int) ([]float64, error) {
	unary = c.timeMajor(unary)
	if c.batchFirst && tags != nil {
		tags = tags.Transpose()
	}
	if err := validateEmissions(unary, lengths, c.n); err != nil {
		return nil, err
	}
	if err := validateTags(tags, lengths, c.n); err != nil {
		return nil, err
	}

	began := time.Now()
	out := scoreSentence(unary, tags, c.Transitions(), lengths, c.start, c.end)
	observeCall("score", began, lengths)
	return out, nil
}

// NegLogLoss returns log Z minus the gold score for every element.
// Each value is non-negative up to floating point error.
func (c *CRF) NegLogLoss(unary *tensor.Dense3, tags *tensor.Ints2, lengths []int) ([]float64, error) {
	unary = c.timeMajor(unary)
	if c.batchFirst && tags != nil {
		tags = tags.Transpose()
	}
	if err := validateEmissions(unary, lengths, c.n); err != nil {
		return nil, err
	}
	if err := validateTags(tags, lengths, c.n); err != nil {
		return nil, err
	}

	began := time.Now()
	trans := c.Transitions()
	logZ := forward(unary, trans, lengths, c.start, c.end, nil)
	gold := scoreSentence(unary, tags, trans, lengths, c.start, c.end)
	for b := range logZ {
		logZ[b] -= gold[b]
	}
	observeCall("nll", began, lengths)
	return logZ, nil
}

// Decode returns the highest scoring path of every element under the
// effective transitions, truncated to its length, and the path scores.
func (c *CRF) Decode(unary *tensor.Dense3, lengths []int) ([][]int, []float64, error) {
	return c.decode(unary, lengths, false)
}

// DecodeNormalized is Decode with a log-softmax normalised initial state.
func (c *CRF) DecodeNormalized(unary *tensor.Dense3, lengths []int) ([][]int, []float64, error) {
	return c.decode(unary, lengths, true)
}

func (c *CRF) decode(unary *tensor.Dense3, lengths []int, norm bool) ([][]int, []float64, error) {
	unary = c.timeMajor(unary)
	if err := validateEmissions(unary, lengths, c.n); err != nil {
		return nil, nil, err
	}

	began := time.Now()
	paths, scores := viterbi(unary, c.Transitions(), lengths, c.start, c.end, norm)
	observeCall("viterbi", began, lengths)
	return paths, scores, nil
}
