package weights

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-tagger/internal/crf"
)

func TestWriteThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transitions.bin")
	m := mat.NewDense(3, 3, []float64{0.5, -1, 2, 3, 4.25, -5, 6, 7, 8})
	require.NoError(t, WriteTransitions(path, m))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(9*4), info.Size())

	got, err := LoadTransitions(path, 3)
	require.NoError(t, err)
	assert.True(t, mat.Equal(m, got))
}

func TestReadTransitions_Size(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, []float32{1, 2, 3}))

	_, err := ReadTransitions(bytes.NewReader(buf.Bytes()), 2)
	assert.ErrorIs(t, err, ErrSize)

	buf.Reset()
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, []float32{1, 2, 3, 4, 5}))
	_, err = ReadTransitions(bytes.NewReader(buf.Bytes()), 2)
	assert.ErrorIs(t, err, ErrSize)

	_, err = ReadTransitions(bytes.NewReader(nil), 0)
	assert.ErrorIs(t, err, ErrSize)
}

func TestWriteTransitions_NotSquare(t *testing.T) {
	err := WriteTransitions(filepath.Join(t.TempDir(), "x.bin"), mat.NewDense(2, 3, nil))
	assert.ErrorIs(t, err, ErrSize)
}

func TestLoader_LoadFromRawBinary(t *testing.T) {
	c, err := crf.New(crf.Config{NumTags: 2, StartIdx: 0, EndIdx: 1})
	require.NoError(t, err)
	loader := NewLoader(c)

	err = loader.LoadFromRawBinary("non_existent_file")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "transitions.bin")
	m := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	require.NoError(t, WriteTransitions(path, m))
	require.NoError(t, loader.LoadFromRawBinary(path))
	assert.True(t, mat.Equal(m, c.Parameters()))
}
