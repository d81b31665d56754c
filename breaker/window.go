package breaker

import "time"

type bucket struct {
	start     time.Time
	successes uint64
	failures  uint64
}

// window counts call outcomes over a rolling period made of fixed-width
// buckets. Buckets older than the period are reused in place.
type window struct {
	width   time.Duration
	buckets []bucket
}

func newWindow(period time.Duration, n int) *window {
	return &window{
		width:   period / time.Duration(n),
		buckets: make([]bucket, n),
	}
}

func (w *window) record(now time.Time, success bool) {
	b := w.current(now)
	if success {
		b.successes++
	} else {
		b.failures++
	}
}

func (w *window) current(now time.Time) *bucket {
	start := now.Truncate(w.width)
	idx := int((start.UnixNano() / int64(w.width)) % int64(len(w.buckets)))
	if idx < 0 {
		idx += len(w.buckets)
	}
	b := &w.buckets[idx]
	if !b.start.Equal(start) {
		*b = bucket{start: start}
	}
	return b
}

// totals returns the number of calls and failures still inside the window.
func (w *window) totals(now time.Time) (requests, failures uint64) {
	cutoff := now.Add(-w.width * time.Duration(len(w.buckets)))
	for _, b := range w.buckets {
		if b.start.After(cutoff) && !b.start.After(now) {
			requests += b.successes + b.failures
			failures += b.failures
		}
	}
	return requests, failures
}

func (w *window) reset() {
	clear(w.buckets)
}
