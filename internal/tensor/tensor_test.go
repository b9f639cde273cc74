package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDense3(t *testing.T) {
	t.Run("AtSet", func(t *testing.T) {
		d := NewDense3(2, 3, 4, nil)
		d.Set(1, 2, 3, 7.5)
		assert.Equal(t, 7.5, d.At(1, 2, 3))
		assert.Equal(t, 7.5, d.Data()[len(d.Data())-1])
	})

	t.Run("Vec aliases", func(t *testing.T) {
		d := NewDense3(2, 2, 3, []float64{
			1, 2, 3, 4, 5, 6,
			7, 8, 9, 10, 11, 12,
		})
		v := d.Vec(1, 0)
		assert.Equal(t, []float64{7, 8, 9}, v)
		v[0] = 70
		assert.Equal(t, 70.0, d.At(1, 0, 0))
	})

	t.Run("Step view", func(t *testing.T) {
		d := NewDense3(2, 2, 2, []float64{1, 2, 3, 4, 5, 6, 7, 8})
		m := d.Step(1)
		r, c := m.Dims()
		assert.Equal(t, 2, r)
		assert.Equal(t, 2, c)
		assert.Equal(t, 8.0, m.At(1, 1))
		m.Set(0, 0, -1)
		assert.Equal(t, -1.0, d.At(1, 0, 0))
	})

	t.Run("SwapLeading", func(t *testing.T) {
		// (B=2, T=3, N=2)
		d := NewDense3(2, 3, 2, nil)
		for b := 0; b < 2; b++ {
			for ts := 0; ts < 3; ts++ {
				d.Set(b, ts, 0, float64(b*10+ts))
				d.Set(b, ts, 1, float64(-(b*10 + ts)))
			}
		}
		s := d.SwapLeading()
		d0, d1, d2 := s.Dims()
		require.Equal(t, []int{3, 2, 2}, []int{d0, d1, d2})
		for b := 0; b < 2; b++ {
			for ts := 0; ts < 3; ts++ {
				assert.Equal(t, d.Vec(b, ts), s.Vec(ts, b))
			}
		}
		assert.Equal(t, d.Data(), s.SwapLeading().Data())
	})

	t.Run("Out of range panics", func(t *testing.T) {
		d := NewDense3(1, 1, 1, nil)
		assert.Panics(t, func() { d.At(0, 1, 0) })
		assert.Panics(t, func() { NewDense3(1, 1, 2, []float64{1}) })
	})
}

func TestInts2(t *testing.T) {
	m := NewInts2(2, 3, []int{1, 2, 3, 4, 5, 6})
	r, c := m.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 3, c)
	assert.Equal(t, []int{4, 5, 6}, m.Row(1))

	tr := m.Transpose()
	r, c = tr.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 2, c)
	assert.Equal(t, 6, tr.At(2, 1))
	assert.Equal(t, []int{1, 4}, tr.Row(0))

	m.Set(0, 0, 9)
	assert.Equal(t, 1, tr.At(0, 0), "transpose must be a copy")
	assert.Panics(t, func() { m.At(2, 0) })
}
