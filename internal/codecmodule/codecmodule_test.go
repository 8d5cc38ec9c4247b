package codecmodule

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bugVanisher/mkvrecorder/internal/media"
)

func TestByRFCNameAndCodecID(t *testing.T) {
	e, ok := ByRFCName("H264")
	require.True(t, ok)
	require.Equal(t, "V_MPEG4/ISO/AVC", e.CodecID)

	e2, ok := ByCodecID("A_OPUS")
	require.True(t, ok)
	require.Equal(t, "opus", e2.RFCName)

	_, ok = ByRFCName("nonsense")
	require.False(t, ok)
}

func TestH264ProcessCapturesPrivateAndKeyframe(t *testing.T) {
	e, _ := ByRFCName("H264")
	m := New(e)

	sps := []byte{0x67, 0x64, 0x00, 0x0a, 0xff}
	pps := []byte{0x68, 0xef, 0x01}
	idr := []byte{0x65, 0x01, 0x02, 0x03}

	fr, err := m.Process(&media.Buffer{Timestamp: 42, Chunks: [][]byte{sps, pps, idr}})
	require.NoError(t, err)
	require.True(t, fr.Keyframe)
	require.Equal(t, int64(42), fr.Timestamp)
	require.True(t, m.IsKeyframe(fr))

	priv := m.SerializePrivate()
	require.Equal(t, uint8(1), priv[0])
	require.Equal(t, sps[1], priv[1])
	require.Equal(t, sps[3], priv[3])
	require.Equal(t, uint8(0), priv[2])
}

func TestH264PrivateIdempotence(t *testing.T) {
	e, _ := ByRFCName("H264")
	m := New(e)
	sps := []byte{0x67, 0x64, 0x00, 0x0a, 0xff}
	pps := []byte{0x68, 0xef, 0x01}
	_, err := m.Process(&media.Buffer{Timestamp: 0, Chunks: [][]byte{sps, pps}})
	require.NoError(t, err)

	first := m.SerializePrivate()

	m2 := New(e)
	require.NoError(t, m2.LoadPrivate(first, len(first)))
	second := m2.SerializePrivate()
	require.Equal(t, first, second)
}

func TestH264ReverseRoundTripsNALUs(t *testing.T) {
	e, _ := ByRFCName("H264")
	m := New(e)
	sps := []byte{0x67, 0x64, 0x00, 0x0a, 0xff}
	pps := []byte{0x68, 0xef, 0x01}
	idr := []byte{0x65, 0x01, 0x02, 0x03}

	fr, err := m.Process(&media.Buffer{Timestamp: 100, Chunks: [][]byte{sps, pps, idr}})
	require.NoError(t, err)

	bufs, err := m.Reverse(fr, true)
	require.NoError(t, err)
	require.NotEmpty(t, bufs)
	require.Equal(t, bufs[0].Chunks[0][0]&0x1f, uint8(naluSPS))
	for _, b := range bufs {
		require.Equal(t, int64(100), b.Timestamp)
	}
}

func TestH264LoadPrivateRejectsTruncation(t *testing.T) {
	e, _ := ByRFCName("H264")
	m := New(e)
	err := m.LoadPrivate([]byte{1, 2, 3}, 3)
	require.Error(t, err)
}

func TestPCMUPrivateRoundTrip(t *testing.T) {
	e, _ := ByRFCName("pcmu")
	m := New(e)
	require.NoError(t, m.Set(media.Format{Channels: 1, SampleRate: 8000}))
	data := m.SerializePrivate()
	require.Equal(t, wavPrivateSize, len(data))

	m2 := New(e)
	require.NoError(t, m2.LoadPrivate(data, len(data)))
	require.Equal(t, data, m2.SerializePrivate())
}

func TestOpusPrivateRoundTrip(t *testing.T) {
	e, _ := ByRFCName("opus")
	m := New(e)
	require.NoError(t, m.Set(media.Format{Channels: 2, SampleRate: 48000}))
	data := m.SerializePrivate()
	require.Equal(t, opusPrivateSize, len(data))
	require.Equal(t, opusMagic, string(data[:8]))

	m2 := New(e)
	require.NoError(t, m2.LoadPrivate(data, len(data)))
	require.Equal(t, data, m2.SerializePrivate())
}

func TestDefaultModuleFallbacksMarkEveryBufferKeyframe(t *testing.T) {
	m := New(&Entry{ID: NoneID, RFCName: "none", New: func() State { return nil }})
	fr, err := m.Process(&media.Buffer{Timestamp: 5, Chunks: [][]byte{{1, 2, 3}}})
	require.NoError(t, err)
	require.True(t, fr.Keyframe)
	require.True(t, m.IsKeyframe(fr))
}
