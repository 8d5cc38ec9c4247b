// Package media defines the buffer and frame shapes that flow between the
// pipeline pins, the codec modules and the container engine.
package media

// Kind distinguishes video from audio pins/tracks.
type Kind int

const (
	Video Kind = iota
	Audio
)

func (k Kind) String() string {
	if k == Video {
		return "video"
	}
	return "audio"
}

// Format describes an input pin's configured codec as set by SET_INPUT_FMT:
// RFC name, clock rate (the codec's own timestamp units per second), and
// whichever of the video/audio geometry fields apply.
type Format struct {
	RFCName    string
	Kind       Kind
	ClockRate  int
	Width      int
	Height     int
	Channels   int
	SampleRate int
}

// Buffer is a realtime packet or access unit on its way into (recorder) or
// out of (player) a codec module. Chunks holds the buffer's chained byte
// segments — for H.264 these are the individual NAL units of one access
// unit; every other codec uses a single chunk. Timestamp is in the unit
// appropriate to the pipeline stage: codec-clock ticks before normalization,
// milliseconds afterward.
type Buffer struct {
	Timestamp int64
	Chunks    [][]byte
	Keyframe  bool
}

// Bytes concatenates the buffer's chunks into one contiguous slice.
func (b *Buffer) Bytes() []byte {
	if len(b.Chunks) == 1 {
		return b.Chunks[0]
	}
	n := 0
	for _, c := range b.Chunks {
		n += len(c)
	}
	out := make([]byte, 0, n)
	for _, c := range b.Chunks {
		out = append(out, c...)
	}
	return out
}

// Frame is the container-ready (or container-sourced) unit of data: a single
// contiguous payload plus the milliseconds timestamp it is stored at.
type Frame struct {
	Timestamp int64
	Data      []byte
	Keyframe  bool
}
