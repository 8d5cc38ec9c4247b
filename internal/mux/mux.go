// Package mux implements the multi-pin muxer: one FIFO per input pin,
// merged by ascending timestamp with ties broken by lowest pin index.
package mux

import "github.com/bugVanisher/mkvrecorder/internal/media"

// Muxer does not block: Get on an empty muxer returns ok=false.
type Muxer struct {
	queues [][]*media.Buffer
}

// New creates a muxer with n input pins.
func New(n int) *Muxer {
	return &Muxer{queues: make([][]*media.Buffer, n)}
}

// Put enqueues buf onto pin's FIFO.
func (m *Muxer) Put(buf *media.Buffer, pin int) {
	m.queues[pin] = append(m.queues[pin], buf)
}

// Get returns the oldest-timestamped buffer across all non-empty queues and
// its pin index. Among equal timestamps the lowest pin index wins.
func (m *Muxer) Get() (buf *media.Buffer, pin int, ok bool) {
	best := -1
	var bestTS int64
	for i, q := range m.queues {
		if len(q) == 0 {
			continue
		}
		if best == -1 || q[0].Timestamp < bestTS {
			best = i
			bestTS = q[0].Timestamp
		}
	}
	if best == -1 {
		return nil, -1, false
	}
	buf = m.queues[best][0]
	m.queues[best] = m.queues[best][1:]
	return buf, best, true
}

// Flush discards every pending buffer on every pin (used on pause/stop).
func (m *Muxer) Flush() {
	for i := range m.queues {
		m.queues[i] = nil
	}
}

// Len reports how many buffers are pending on pin.
func (m *Muxer) Len(pin int) int {
	return len(m.queues[pin])
}
