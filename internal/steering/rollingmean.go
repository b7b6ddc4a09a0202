package steering

// rollingMean keeps the arithmetic mean of the most recent samples over a
// fixed-capacity ring buffer. A running sum makes Accumulate and Mean O(1),
// which matters at control-loop rates.
type rollingMean struct {
	buf  []float64
	next int
	full bool
	sum  float64
}

// newRollingMean returns an accumulator over the last n samples. Capacities
// below one are raised to one so Mean never divides by zero once a sample
// has been accumulated.
func newRollingMean(n int) *rollingMean {
	if n < 1 {
		n = 1
	}
	return &rollingMean{buf: make([]float64, n)}
}

// Accumulate pushes one sample, evicting the oldest once the ring is full.
func (m *rollingMean) Accumulate(v float64) {
	if m.full {
		m.sum -= m.buf[m.next]
	}
	m.buf[m.next] = v
	m.sum += v
	m.next++
	if m.next == len(m.buf) {
		m.next = 0
		m.full = true
	}
}

// Mean returns the average of the samples currently held, or zero before
// the first sample arrives.
func (m *rollingMean) Mean() float64 {
	n := m.count()
	if n == 0 {
		return 0
	}
	return m.sum / float64(n)
}

func (m *rollingMean) count() int {
	if m.full {
		return len(m.buf)
	}
	return m.next
}
