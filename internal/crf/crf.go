// Package crf implements a batched linear-chain Conditional Random Field
// over dense emission scores.
//
// Transition matrices are indexed trans[to][from]: entry (i, j) is the score
// of moving into tag i from tag j. The forward scorer, the gold-path scorer
// and the Viterbi decoder all use this convention.
//
// Emissions are (T, B, N) time-major, or (B, T, N) when the CRF is built
// with BatchFirst; the orientation is normalised once at the public
// boundary. Every batch element carries its own length, and positions at or
// beyond it never influence a result.
package crf

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"
)

// MaskValue replaces masked transitions so they are unreachable in both the
// log-sum-exp and max recursions.
const MaskValue = -1e4

// Config configures a CRF.
type Config struct {
	// NumTags is N, including the start and end tags.
	NumTags int `yaml:"num_tags"`
	// StartIdx is the virtual tag every sequence starts from.
	StartIdx int `yaml:"start_idx"`
	// EndIdx is the tag every sequence transitions into after its last step.
	EndIdx int `yaml:"end_idx"`
	// BatchFirst selects (B, T, N) emissions and (B, T) tags.
	BatchFirst bool `yaml:"batch_first"`
	// Mask is indexed [to][from]; true marks an invalid transition.
	// nil allows every transition.
	Mask [][]bool `yaml:"-"`
}

// CRF holds the transition parameters and the static validity mask.
//
// Scoring and decoding only read the parameters, so any number of calls may
// run concurrently. SetTransitions must not race with in-flight calls.
type CRF struct {
	n          int
	start      int
	end        int
	batchFirst bool
	params     *mat.Dense
	mask       []bool // row-major [to*n+from], nil when unmasked
}

// New validates cfg and returns a CRF with all-zero transitions.
func New(cfg Config) (*CRF, error) {
	if cfg.NumTags < 2 {
		return nil, fmt.Errorf("%w: need at least 2 tags, got %d", ErrConfig, cfg.NumTags)
	}
	if cfg.StartIdx < 0 || cfg.StartIdx >= cfg.NumTags {
		return nil, fmt.Errorf("%w: start index %d out of range [0, %d)", ErrConfig, cfg.StartIdx, cfg.NumTags)
	}
	if cfg.EndIdx < 0 || cfg.EndIdx >= cfg.NumTags {
		return nil, fmt.Errorf("%w: end index %d out of range [0, %d)", ErrConfig, cfg.EndIdx, cfg.NumTags)
	}
	if cfg.StartIdx == cfg.EndIdx {
		return nil, fmt.Errorf("%w: start and end share index %d", ErrConfig, cfg.StartIdx)
	}

	c := &CRF{
		n:          cfg.NumTags,
		start:      cfg.StartIdx,
		end:        cfg.EndIdx,
		batchFirst: cfg.BatchFirst,
		params:     mat.NewDense(cfg.NumTags, cfg.NumTags, nil),
	}

	if cfg.Mask != nil {
		if len(cfg.Mask) != cfg.NumTags {
			return nil, fmt.Errorf("%w: mask has %d rows, want %d", ErrConfig, len(cfg.Mask), cfg.NumTags)
		}
		c.mask = make([]bool, cfg.NumTags*cfg.NumTags)
		for to, row := range cfg.Mask {
			if len(row) != cfg.NumTags {
				return nil, fmt.Errorf("%w: mask row %d has %d columns, want %d", ErrConfig, to, len(row), cfg.NumTags)
			}
			copy(c.mask[to*cfg.NumTags:], row)
		}
	}

	log.Debug().
		Int("n_tags", c.n).
		Int("start", c.start).
		Int("end", c.end).
		Bool("batch_first", c.batchFirst).
		Bool("masked", c.mask != nil).
		Msg("CRF created")
	return c, nil
}

// NumTags returns N.
func (c *CRF) NumTags() int { return c.n }

// StartIdx returns the start tag index.
func (c *CRF) StartIdx() int { return c.start }

// EndIdx returns the end tag index.
func (c *CRF) EndIdx() int { return c.end }

// BatchFirst reports whether inputs are (B, T, ...).
func (c *CRF) BatchFirst() bool { return c.batchFirst }

// Masked reports whether a validity mask is configured.
func (c *CRF) Masked() bool { return c.mask != nil }

// SetTransitions replaces the raw transition parameters with a copy of m,
// which must be N×N and indexed [to][from].
func (c *CRF) SetTransitions(m mat.Matrix) error {
	r, cols := m.Dims()
	if r != c.n || cols != c.n {
		return fmt.Errorf("%w: transitions are %dx%d, want %dx%d", ErrShape, r, cols, c.n, c.n)
	}
	c.params.Copy(m)
	return nil
}

// Parameters returns a copy of the raw, unmasked transition parameters.
func (c *CRF) Parameters() *mat.Dense {
	return mat.DenseCopyOf(c.params)
}

// Transitions returns the effective transition matrix: the parameters with
// every masked entry set to MaskValue. It is recomputed on each call.
func (c *CRF) Transitions() *mat.Dense {
	trans := mat.DenseCopyOf(c.params)
	if c.mask == nil {
		return trans
	}
	for to := 0; to < c.n; to++ {
		row := trans.RawRowView(to)
		for from, invalid := range c.mask[to*c.n : (to+1)*c.n] {
			if invalid {
				row[from] = MaskValue
			}
		}
	}
	return trans
}

func (c *CRF) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "CRF(n_tags=%d, batch_first=%t", c.n, c.batchFirst)
	if c.mask != nil {
		sb.WriteString(", masked=true")
	}
	sb.WriteString(")")
	return sb.String()
}
