package audio

import "sync"

// BytesPerSecond is PCM16 mono at SampleRate.
const BytesPerSecond = SampleRate * 2

// RingBuffer keeps the most recent audio of a session, overwriting the
// oldest bytes once full. Safe for concurrent use.
type RingBuffer struct {
	mu       sync.Mutex
	buf      []byte
	writePos int
	written  int
}

// NewRingBuffer creates a buffer holding the given number of seconds.
func NewRingBuffer(seconds int) *RingBuffer {
	if seconds <= 0 {
		seconds = 1
	}
	return &RingBuffer{buf: make([]byte, seconds*BytesPerSecond)}
}

func (rb *RingBuffer) Write(data []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	capacity := len(rb.buf)
	if len(data) > capacity {
		rb.written += len(data) - capacity
		data = data[len(data)-capacity:]
	}
	for len(data) > 0 {
		n := copy(rb.buf[rb.writePos:], data)
		data = data[n:]
		rb.writePos = (rb.writePos + n) % capacity
		rb.written += n
	}
}

// Snapshot returns a copy of everything currently retained, oldest first.
func (rb *RingBuffer) Snapshot() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	capacity := len(rb.buf)
	n := min(rb.written, capacity)
	if n == 0 {
		return nil
	}
	out := make([]byte, n)
	start := (rb.writePos - n + capacity) % capacity
	if start+n <= capacity {
		copy(out, rb.buf[start:start+n])
	} else {
		first := capacity - start
		copy(out[:first], rb.buf[start:])
		copy(out[first:], rb.buf[:n-first])
	}
	return out
}

// Available returns the seconds of audio currently stored.
func (rb *RingBuffer) Available() float64 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return float64(min(rb.written, len(rb.buf))) / float64(BytesPerSecond)
}

// Reset drops all retained audio.
func (rb *RingBuffer) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.writePos = 0
	rb.written = 0
}
