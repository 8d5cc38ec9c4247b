package player

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
	interval time.Duration
}

func (f *fakeTicker) Time() time.Duration     { return 0 }
func (f *fakeTicker) Interval() time.Duration { return f.interval }

type fakeOutputPin struct {
	q []*media.Buffer
}

func (f *fakeOutputPin) Enqueue(b *media.Buffer) { f.q = append(f.q, b) }

type fakeNotifier struct {
	events []pipeline.Event
}

func (f *fakeNotifier) Notify(e pipeline.Event) { f.events = append(f.events, e) }

// writeSampleFile produces a two-track file (H.264 video + PCMU audio) with
// a handful of blocks spread across the first 60 milliseconds, using the
// container writer directly rather than going through the recorder filter.
func writeSampleFile(t *testing.T, path string) {
	t.Helper()
	w, err := mkv.Create(path)
	require.NoError(t, err)

	w.SetTracks([]mkv.TrackInfo{
		{Number: 1, Kind: media.Video, CodecID: "V_MPEG4/ISO/AVC", CodecPrivate: []byte{1, 0x64, 0, 0x1f, 0xfc, 0xe0, 0x00}, Width: 640, Height: 480},
		{Number: 2, Kind: media.Audio, CodecID: "A_MS/ACM", CodecPrivate: []byte{7, 0, 1, 0, 0x40, 0x1f, 0, 0, 0x00, 0xfa, 0, 0, 1, 0, 8, 0, 0, 0, 0, 0, 0, 0}, SamplingFreq: 8000, Channels: 1},
	})

	require.NoError(t, w.StartCluster(0))
	require.NoError(t, w.WriteBlock(&media.Frame{Timestamp: 0, Data: []byte{0, 0, 0, 1, 0xAA}, Keyframe: true}, 1, true))
	require.NoError(t, w.WriteBlock(&media.Frame{Timestamp: 20, Data: []byte{0x01}}, 2, true))
	require.NoError(t, w.WriteBlock(&media.Frame{Timestamp: 40, Data: []byte{0, 0, 0, 1, 0xBB}}, 1, false))
	require.NoError(t, w.WriteBlock(&media.Frame{Timestamp: 60, Data: []byte{0x02}}, 2, true))
	require.NoError(t, w.CloseCluster())
	require.NoError(t, w.Close("x", "x"))
}

func TestPlayerOpenDiscoversDefaultVideoAndAudioTracks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "play.mkv")
	writeSampleFile(t, path)

	ticker := &fakeTicker{interval: 20 * time.Millisecond}
	video := &fakeOutputPin{}
	audio := &fakeOutputPin{}
	notifier := &fakeNotifier{}

	p := New(ticker, []pipeline.OutputPin{video, audio}, notifier)
	require.NoError(t, p.Open(path))
	require.Equal(t, Paused, p.State())

	vf, err := p.GetOutputFmt(0)
	require.NoError(t, err)
	require.Equal(t, media.Video, vf.Kind)

	af, err := p.GetOutputFmt(1)
	require.NoError(t, err)
	require.Equal(t, media.Audio, af.Kind)

	require.NoError(t, p.Close())
}

func TestPlayerProcessDeliversBlocksInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "play.mkv")
	writeSampleFile(t, path)

	ticker := &fakeTicker{interval: 20 * time.Millisecond}
	video := &fakeOutputPin{}
	audio := &fakeOutputPin{}
	notifier := &fakeNotifier{}

	p := New(ticker, []pipeline.OutputPin{video, audio}, notifier)
	require.NoError(t, p.Open(path))
	require.NoError(t, p.Start())

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Process())
	}

	require.NotEmpty(t, video.q)
	require.NotEmpty(t, audio.q)
	require.Empty(t, notifier.events)

	require.NoError(t, p.Close())
}

func TestPlayerEmitsEOFAndRewinds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "play.mkv")
	writeSampleFile(t, path)

	ticker := &fakeTicker{interval: 50 * time.Millisecond}
	video := &fakeOutputPin{}
	audio := &fakeOutputPin{}
	notifier := &fakeNotifier{}

	p := New(ticker, []pipeline.OutputPin{video, audio}, notifier)
	require.NoError(t, p.Open(path))
	require.NoError(t, p.Start())

	for i := 0; i < 10 && len(notifier.events) == 0; i++ {
		require.NoError(t, p.Process())
	}

	require.Len(t, notifier.events, 1)
	require.Equal(t, pipeline.EventEndOfFile, notifier.events[0])
	require.Equal(t, Paused, p.State())
	require.Equal(t, int64(0), p.Position())

	require.NoError(t, p.Close())
}
