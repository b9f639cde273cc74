package crf

import (
	"runtime"
	"sync"
)

// numWorkers bounds the fan-out across batch elements.
var numWorkers = runtime.NumCPU()

// parallelFor splits [0, n) into contiguous chunks and runs fn on each in
// its own goroutine. Chunks are disjoint, so workers may write to their own
// rows of shared buffers without locking.
func parallelFor(n int, fn func(start, end int)) {
	workers := numWorkers
	if n < workers {
		workers = n
	}
	if workers <= 1 {
		fn(0, n)
		return
	}

	var wg sync.WaitGroup
	perWorker := (n + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start := w * perWorker
		if start >= n {
			break
		}
		end := min(start+perWorker, n)

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}
	wg.Wait()
}
