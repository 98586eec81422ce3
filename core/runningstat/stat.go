// Package runningstat implements Knuth and Welford's method for computing the standard deviation.
package runningstat

// IntStat collects statistics of unsigned integers and allows computing min, max, mean, and
// variance. Algorithm comes from https://www.johndcook.com/blog/standard_deviation/ .
// The zero value is ready to use. It is not safe for concurrent use.
type IntStat struct {
	n        uint64
	m1, m2   float64
	min, max uint64
}

// Push adds an input.
func (s *IntStat) Push(x uint64) {
	s.n++
	if s.n == 1 {
		s.m1, s.m2 = float64(x), 0
		s.min, s.max = x, x
		return
	}

	xf := float64(x)
	delta := xf - s.m1
	s.m1 += delta / float64(s.n)
	s.m2 += delta * (xf - s.m1)
	s.min, s.max = min(s.min, x), max(s.max, x)
}

// Clear deletes collected data.
func (s *IntStat) Clear() {
	*s = IntStat{}
}

// Read returns current counters as Snapshot.
func (s IntStat) Read() Snapshot {
	return newSnapshot(s.n, s.m1, s.m2, s.min, s.max)
}
