package audio

import "sync"

// SampleRing is a fixed-capacity ring of time-domain samples. Writers push
// chunks as they are captured or decoded; the level meter reads the most
// recent window. When full, Push overwrites the oldest samples. All methods
// are safe for concurrent use.
type SampleRing struct {
	mu    sync.RWMutex
	buf   []byte
	head  int
	count int
}

func NewSampleRing(capacity int) *SampleRing {
	return &SampleRing{buf: make([]byte, capacity)}
}

func (r *SampleRing) Push(samples []byte) {
	r.mu.Lock()
	for _, b := range samples {
		idx := (r.head + r.count) % len(r.buf)
		r.buf[idx] = b
		if r.count == len(r.buf) {
			r.head = (r.head + 1) % len(r.buf)
		} else {
			r.count++
		}
	}
	r.mu.Unlock()
}

// ReadSamples copies the newest samples into buf, oldest first, and
// returns how many were written. Implements the level source contract.
func (r *SampleRing) ReadSamples(buf []byte) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := r.count
	if n > len(buf) {
		n = len(buf)
	}
	// Start so that the n most recent samples land in buf.
	start := r.count - n
	for i := 0; i < n; i++ {
		buf[i] = r.buf[(r.head+start+i)%len(r.buf)]
	}
	return n
}

func (r *SampleRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}
