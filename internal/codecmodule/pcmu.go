package codecmodule

import (
	"github.com/pkg/errors"

	"github.com/bugVanisher/mkvrecorder/internal/bits/pio"
	"github.com/bugVanisher/mkvrecorder/internal/media"
)

// wavPrivate is the packed 22-byte WAVEFORMATEX structure spec.md §3
// describes for µ-law / A_MS-ACM tracks.
type wavPrivate struct {
	formatTag     uint16
	channels      uint16
	samplesPerSec uint32
	avgBytesPerSec uint32
	blockAlign    uint16
	bitsPerSample uint16
	cbSize        uint16
}

const wavPrivateSize = 22

func (w *wavPrivate) set(channels, sampleRate int) {
	const bitsPerSample = 8
	w.formatTag = 7
	w.channels = uint16(channels)
	w.samplesPerSec = uint32(sampleRate)
	w.avgBytesPerSec = uint32(bitsPerSample * channels * sampleRate)
	w.blockAlign = uint16(bitsPerSample * channels / 8)
	w.bitsPerSample = bitsPerSample
	w.cbSize = 0
}

func (w *wavPrivate) serialize() []byte {
	b := make([]byte, wavPrivateSize)
	pio.PutU16LE(b[0:], w.formatTag)
	pio.PutU16LE(b[2:], w.channels)
	pio.PutU32LE(b[4:], w.samplesPerSec)
	pio.PutU32LE(b[8:], w.avgBytesPerSec)
	pio.PutU16LE(b[12:], w.blockAlign)
	pio.PutU16LE(b[14:], w.bitsPerSample)
	pio.PutU16LE(b[16:], w.cbSize)
	return b
}

var errWavTruncated = errors.New("codecmodule: truncated WAVEFORMATEX private data")

func (w *wavPrivate) load(b []byte, size int) error {
	if size < wavPrivateSize || len(b) < wavPrivateSize {
		return errWavTruncated
	}
	w.formatTag = pio.U16LE(b[0:])
	w.channels = pio.U16LE(b[2:])
	w.samplesPerSec = pio.U32LE(b[4:])
	w.avgBytesPerSec = pio.U32LE(b[8:])
	w.blockAlign = pio.U16LE(b[12:])
	w.bitsPerSample = pio.U16LE(b[14:])
	w.cbSize = pio.U16LE(b[16:])
	return nil
}

type pcmuState struct {
	priv wavPrivate
}

var pcmuEntry = &Entry{
	ID:      PCMUID,
	RFCName: "pcmu",
	CodecID: "A_MS/ACM",
	New:     func() State { return &pcmuState{} },
	Set: func(st State, fmt media.Format) error {
		st.(*pcmuState).priv.set(fmt.Channels, fmt.SampleRate)
		return nil
	},
	SerializePrivate: func(st State) []byte { return st.(*pcmuState).priv.serialize() },
	LoadPrivate: func(st State, data []byte, size int) error {
		return st.(*pcmuState).priv.load(data, size)
	},
}
