package codecmodule

import (
	"github.com/pkg/errors"

	"github.com/bugVanisher/mkvrecorder/internal/bits/pio"
	"github.com/bugVanisher/mkvrecorder/internal/media"
)

// opusPrivate is the 19-byte OpusHead structure spec.md §3 describes:
// 8-byte ASCII magic followed by an 11-byte fixed record.
type opusPrivate struct {
	version         uint8
	channelCount    uint8
	preSkip         uint16
	inputSampleRate uint32
	outputGain      uint16
	mappingFamily   uint8
}

const opusMagic = "OpusHead"
const opusPrivateSize = 19

func newOpusPrivate() opusPrivate {
	return opusPrivate{version: 1, preSkip: 3840}
}

func (o *opusPrivate) set(channels, inputSampleRate int) {
	o.channelCount = uint8(channels)
	o.inputSampleRate = uint32(inputSampleRate)
}

func (o *opusPrivate) serialize() []byte {
	b := make([]byte, opusPrivateSize)
	copy(b[0:8], opusMagic)
	b[8] = o.version
	b[9] = o.channelCount
	pio.PutU16LE(b[10:], o.preSkip)
	pio.PutU32LE(b[12:], o.inputSampleRate)
	pio.PutU16LE(b[16:], o.outputGain)
	b[18] = o.mappingFamily
	return b
}

var errOpusTruncated = errors.New("codecmodule: truncated OpusHead private data")

func (o *opusPrivate) load(b []byte, size int) error {
	if size < opusPrivateSize || len(b) < opusPrivateSize {
		return errOpusTruncated
	}
	o.version = b[8]
	o.channelCount = b[9]
	o.preSkip = pio.U16LE(b[10:])
	o.inputSampleRate = pio.U32LE(b[12:])
	o.outputGain = pio.U16LE(b[16:])
	o.mappingFamily = b[18]
	return nil
}

type opusState struct {
	priv opusPrivate
}

var opusEntry = &Entry{
	ID:      OpusID,
	RFCName: "opus",
	CodecID: "A_OPUS",
	New:     func() State { return &opusState{priv: newOpusPrivate()} },
	Set: func(st State, fmt media.Format) error {
		st.(*opusState).priv.set(fmt.Channels, fmt.SampleRate)
		return nil
	},
	SerializePrivate: func(st State) []byte { return st.(*opusState).priv.serialize() },
	LoadPrivate: func(st State, data []byte, size int) error {
		return st.(*opusState).priv.load(data, size)
	},
}
