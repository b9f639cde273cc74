// Package weights reads and writes trained transition matrices as a bare
// N×N dump of little-endian float32 values in [to][from] row order.
package weights

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-tagger/internal/crf"
)

// ErrSize reports a file whose length does not match N×N float32 values.
var ErrSize = errors.New("weights: unexpected file size")

// Loader loads transition weights into a CRF.
type Loader struct {
	CRF *crf.CRF
}

// NewLoader creates a new weight loader for the given CRF.
func NewLoader(c *crf.CRF) *Loader {
	return &Loader{CRF: c}
}

// LoadFromRawBinary reads an N×N transition dump and installs it as the
// CRF's parameters.
func (l *Loader) LoadFromRawBinary(path string) error {
	trans, err := LoadTransitions(path, l.CRF.NumTags())
	if err != nil {
		return err
	}
	if err := l.CRF.SetTransitions(trans); err != nil {
		return fmt.Errorf("failed to install transitions: %w", err)
	}
	log.Info().Str("path", path).Int("n_tags", l.CRF.NumTags()).Msg("Loaded transition weights")
	return nil
}

// LoadTransitions opens path and reads an n×n matrix from it.
func LoadTransitions(path string, n int) (*mat.Dense, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	trans, err := ReadTransitions(bufio.NewReader(file), n)
	if err != nil {
		return nil, fmt.Errorf("failed to load transitions from %s: %w", path, err)
	}
	return trans, nil
}

// ReadTransitions reads exactly n×n float32 values from r. Trailing data is
// an error.
func ReadTransitions(r io.Reader, n int) (*mat.Dense, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: %d tags", ErrSize, n)
	}
	f32s := make([]float32, n*n)
	if err := binary.Read(r, binary.LittleEndian, f32s); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: want %d float32 values: %v", ErrSize, n*n, err)
		}
		return nil, err
	}

	var extra [1]byte
	if k, _ := r.Read(extra[:]); k > 0 {
		return nil, fmt.Errorf("%w: trailing data after %d float32 values", ErrSize, n*n)
	}

	data := make([]float64, n*n)
	for i, v := range f32s {
		data[i] = float64(v)
	}
	return mat.NewDense(n, n, data), nil
}

// WriteTransitions dumps m to path in the format LoadTransitions reads.
func WriteTransitions(path string, m mat.Matrix) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(file)
	if err := writeMatrix(w, m); err != nil {
		file.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func writeMatrix(w io.Writer, m mat.Matrix) error {
	rows, cols := m.Dims()
	if rows != cols {
		return fmt.Errorf("%w: transitions are %dx%d", ErrSize, rows, cols)
	}
	f32s := make([]float32, 0, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			f32s = append(f32s, float32(m.At(i, j)))
		}
	}
	return binary.Write(w, binary.LittleEndian, f32s)
}
