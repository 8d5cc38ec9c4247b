package recorder

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bugVanisher/mkvrecorder/internal/media"
	"github.com/bugVanisher/mkvrecorder/internal/mkv"
	"github.com/bugVanisher/mkvrecorder/pipeline"
)

type fakeTicker struct {
	t time.Duration
}

func (f *fakeTicker) Time() time.Duration     { return f.t }
func (f *fakeTicker) Interval() time.Duration { return 10 * time.Millisecond }

type fakeInputPin struct {
	q []*media.Buffer
}

func (f *fakeInputPin) push(b *media.Buffer) { f.q = append(f.q, b) }

func (f *fakeInputPin) Dequeue() (*media.Buffer, bool) {
	if len(f.q) == 0 {
		return nil, false
	}
	b := f.q[0]
	f.q = f.q[1:]
	return b, true
}

func singleNALU(ts int64, naluType byte, payload ...byte) *media.Buffer {
	data := append([]byte{naluType}, payload...)
	return &media.Buffer{Timestamp: ts, Chunks: [][]byte{data}}
}

func TestRecorderCreatesH264AndPCMUFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.mkv")
	ticker := &fakeTicker{}
	video := &fakeInputPin{}
	audio := &fakeInputPin{}

	r := New(ticker, []pipeline.InputPin{video, audio})
	require.NoError(t, r.Open(path))
	require.NoError(t, r.SetInputFormat(0, media.Format{RFCName: "H264", Kind: media.Video, ClockRate: 90000, Width: 640, Height: 480}))
	require.NoError(t, r.SetInputFormat(1, media.Format{RFCName: "PCMU", Kind: media.Audio, ClockRate: 8000, Channels: 1, SampleRate: 8000}))
	require.NoError(t, r.Start())

	sps := []byte{0x64, 0x00, 0x1f, 0x20}
	pps := []byte{0x01, 0x02}
	video.push(singleNALU(0, 7, sps...))
	video.push(singleNALU(0, 8, pps...))
	video.push(singleNALU(0, 5, 0xAA, 0xBB))
	for i := 0; i < 10; i++ {
		audio.push(&media.Buffer{Timestamp: int64(i * 160), Chunks: [][]byte{{byte(i)}}})
	}

	ticker.t = 0
	require.NoError(t, r.Process())

	video.push(singleNALU(3000, 1, 0xCC))
	ticker.t = 33 * time.Millisecond
	require.NoError(t, r.Process())

	require.NoError(t, r.Close())

	w, err := mkv.OpenAppend(path)
	require.NoError(t, err)
	defer w.Close("x", "x")
	tracks := w.Tracks()
	require.Len(t, tracks, 2)
	require.Equal(t, "V_MPEG4/ISO/AVC", tracks[0].CodecID)
	require.Equal(t, "A_MS/ACM", tracks[1].CodecID)
	require.Greater(t, w.Duration(), int64(180))
}

func TestRecorderKeyframeGateDropsLeadingPFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.mkv")
	ticker := &fakeTicker{}
	video := &fakeInputPin{}

	r := New(ticker, []pipeline.InputPin{video})
	require.NoError(t, r.Open(path))
	require.NoError(t, r.SetInputFormat(0, media.Format{RFCName: "H264", Kind: media.Video, ClockRate: 90000}))
	require.NoError(t, r.Start())

	video.push(singleNALU(0, 1, 0x01))
	video.push(singleNALU(3000, 1, 0x02))
	video.push(singleNALU(6000, 5, 0x03))
	require.NoError(t, r.Process())
	require.NoError(t, r.Close())

	rd, err := mkv.OpenReader(path)
	require.NoError(t, err)
	defer rd.Close()

	_, frame, err := rd.NextBlock()
	require.NoError(t, err)
	require.NotNil(t, frame)
	require.True(t, frame.Keyframe)

	_, frame, err = rd.NextBlock()
	require.NoError(t, err)
	require.Nil(t, frame)
	require.True(t, rd.EOF())
}

func TestSetInputFormatRejectsIncompatibleChangeWhileOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.mkv")
	ticker := &fakeTicker{}
	video := &fakeInputPin{}
	r := New(ticker, []pipeline.InputPin{video})
	require.NoError(t, r.Open(path))
	require.NoError(t, r.SetInputFormat(0, media.Format{RFCName: "H264", Kind: media.Video, ClockRate: 90000, Width: 640, Height: 480}))

	err := r.SetInputFormat(0, media.Format{RFCName: "PCMU", Kind: media.Audio, ClockRate: 8000})
	require.Error(t, err)

	require.NoError(t, r.SetInputFormat(0, media.Format{RFCName: "H264", Kind: media.Video, ClockRate: 90000, Width: 1280, Height: 720}))
	require.NoError(t, r.Close())
}
