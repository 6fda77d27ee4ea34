package flowcontrol

// Number is the set of sample types a RollingSampler can aggregate.
// time.Duration satisfies it through ~int64.
type Number interface {
	~int | ~int32 | ~int64 | ~uint32 | ~float32 | ~float64
}

// RollingSampler keeps the most recent samples in a fixed-size ring.
type RollingSampler[T Number] struct {
	data  []T
	next  int
	count int
}

// NewRollingSampler allocates a sampler remembering at most size values.
func NewRollingSampler[T Number](size int) *RollingSampler[T] {
	if size < 1 {
		size = 1
	}
	return &RollingSampler[T]{data: make([]T, size)}
}

// Push records a sample, evicting the oldest when full.
func (s *RollingSampler[T]) Push(value T) {
	s.data[s.next] = value
	s.next = (s.next + 1) % len(s.data)
	if s.count < len(s.data) {
		s.count++
	}
}

// Len returns the number of retained samples.
func (s *RollingSampler[T]) Len() int { return s.count }

// Mean returns the arithmetic mean, or zero with no samples.
func (s *RollingSampler[T]) Mean() T {
	if s.count == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < s.count; i++ {
		sum += float64(s.data[i])
	}
	return T(sum / float64(s.count))
}

// Min returns the smallest retained sample, or zero with no samples.
func (s *RollingSampler[T]) Min() T {
	if s.count == 0 {
		return 0
	}
	min := s.data[0]
	for i := 1; i < s.count; i++ {
		if s.data[i] < min {
			min = s.data[i]
		}
	}
	return min
}

// Max returns the largest retained sample, or zero with no samples.
func (s *RollingSampler[T]) Max() T {
	if s.count == 0 {
		return 0
	}
	max := s.data[0]
	for i := 1; i < s.count; i++ {
		if s.data[i] > max {
			max = s.data[i]
		}
	}
	return max
}
