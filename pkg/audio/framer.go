package audio

// Framer regroups an arbitrary stream of samples into fixed-size frames.
// Device callbacks deliver whatever period the driver picked; the capture
// pipeline wants a constant frame size. Not safe for concurrent use.
type Framer struct {
	size    int
	pending []float32
}

// NewFramer creates a framer emitting frames of size samples.
func NewFramer(size int) *Framer {
	if size <= 0 {
		size = 1
	}
	return &Framer{
		size:    size,
		pending: make([]float32, 0, size),
	}
}

// Size returns the frame size in samples.
func (f *Framer) Size() int {
	return f.size
}

// Write appends samples and calls emit once for each completed frame, in
// order. The frame passed to emit is freshly allocated and owned by the callee.
func (f *Framer) Write(samples []float32, emit func([]float32)) {
	for len(samples) > 0 {
		need := f.size - len(f.pending)
		if need > len(samples) {
			need = len(samples)
		}
		f.pending = append(f.pending, samples[:need]...)
		samples = samples[need:]

		if len(f.pending) == f.size {
			frame := make([]float32, f.size)
			copy(frame, f.pending)
			f.pending = f.pending[:0]
			emit(frame)
		}
	}
}

// Buffered returns the number of samples waiting for a full frame.
func (f *Framer) Buffered() int {
	return len(f.pending)
}

// Reset drops any partial frame.
func (f *Framer) Reset() {
	f.pending = f.pending[:0]
}
