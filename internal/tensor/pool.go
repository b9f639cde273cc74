package tensor

import (
	"sync"
)

// Pool hands out scratch buffers for the DP state so repeated calls do not
// reallocate alpha and back-pointer storage. Buffers are zeroed on Get.
type Pool struct {
	floats sync.Pool
	ints   sync.Pool
}

// DefaultPool is shared by the CRF recursions.
var DefaultPool = NewPool()

func NewPool() *Pool {
	return &Pool{}
}

// Floats returns a zeroed float64 buffer of length n.
func (p *Pool) Floats(n int) []float64 {
	if v := p.floats.Get(); v != nil {
		buf := *(v.(*[]float64))
		if cap(buf) >= n {
			poolHits.WithLabelValues("float64").Inc()
			buf = buf[:n]
			for i := range buf {
				buf[i] = 0
			}
			return buf
		}
		// Too small: drop it and allocate.
	}
	poolMisses.WithLabelValues("float64").Inc()
	return make([]float64, n)
}

// PutFloats returns a buffer obtained from Floats.
func (p *Pool) PutFloats(buf []float64) {
	if buf == nil {
		return
	}
	p.floats.Put(&buf)
}

// Ints returns a zeroed int buffer of length n.
func (p *Pool) Ints(n int) []int {
	if v := p.ints.Get(); v != nil {
		buf := *(v.(*[]int))
		if cap(buf) >= n {
			poolHits.WithLabelValues("int").Inc()
			buf = buf[:n]
			for i := range buf {
				buf[i] = 0
			}
			return buf
		}
	}
	poolMisses.WithLabelValues("int").Inc()
	return make([]int, n)
}

// PutInts returns a buffer obtained from Ints.
func (p *Pool) PutInts(buf []int) {
	if buf == nil {
		return
	}
	p.ints.Put(&buf)
}
