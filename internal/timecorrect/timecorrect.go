// Package timecorrect rebases buffer timestamps, which arrive in each pin's
// own free-running clock, onto one shared timeline anchored to the ticker
// driving the pipeline.
package timecorrect

import "github.com/bugVanisher/mkvrecorder/internal/media"

// Corrector computes, once per pin per reset cycle, the offset that aligns
// that pin's buffer timestamps to globalOrigin as observed by the ticker at
// the moment the offset is first computed. Every later buffer on that pin
// is shifted by the same frozen offset until the next Reset.
type Corrector struct {
	globalOrigin      int64
	globalOffset      int64
	globalOffsetIsSet bool

	offset      []int64
	offsetIsSet []bool
}

// New creates a corrector for n pins anchored at globalOrigin (the
// container-timeline position, in ms, new buffers should be rebased onto).
func New(n int, globalOrigin int64) *Corrector {
	return &Corrector{
		globalOrigin: globalOrigin,
		offset:       make([]int64, n),
		offsetIsSet:  make([]bool, n),
	}
}

// SetOrigin changes the container-timeline anchor point without resetting
// already-frozen per-pin offsets.
func (c *Corrector) SetOrigin(origin int64) {
	c.globalOrigin = origin
}

// Reset clears every frozen offset; the next Proceed call on each pin (and
// the next global offset) recomputes against the ticker time at that moment.
func (c *Corrector) Reset() {
	c.globalOffsetIsSet = false
	for i := range c.offsetIsSet {
		c.offsetIsSet[i] = false
	}
}

// Proceed rebases buf's timestamp in place onto the shared timeline, using
// tickerTimeMS as the pipeline's current time.
func (c *Corrector) Proceed(buf *media.Buffer, pin int, tickerTimeMS int64) {
	if !c.globalOffsetIsSet {
		c.globalOffset = c.globalOrigin - tickerTimeMS
		c.globalOffsetIsSet = true
	}
	if !c.offsetIsSet[pin] {
		origin := tickerTimeMS + c.globalOffset
		c.offset[pin] = origin - buf.Timestamp
		c.offsetIsSet[pin] = true
	}
	buf.Timestamp += c.offset[pin]
}
