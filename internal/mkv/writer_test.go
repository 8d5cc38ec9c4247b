package mkv

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bugVanisher/mkvrecorder/internal/media"
)

func TestCreateWriteCloseThenAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.mkv")

	w, err := Create(path)
	require.NoError(t, err)
	w.SetTracks([]TrackInfo{
		{Number: 1, Kind: media.Video, CodecID: "V_MPEG4/ISO/AVC", CodecPrivate: []byte{1, 2, 3}, Width: 640, Height: 480},
		{Number: 2, Kind: media.Audio, CodecID: "A_MS/ACM", SamplingFreq: 8000, Channels: 1},
	})

	require.NoError(t, w.StartCluster(0))
	require.NoError(t, w.WriteBlock(&media.Frame{Timestamp: 0, Data: []byte{0xAA, 0xBB}}, 1, true))
	require.NoError(t, w.AddCue(&media.Frame{Timestamp: 0}, 1))
	require.NoError(t, w.WriteBlock(&media.Frame{Timestamp: 33, Data: []byte{0xCC}}, 1, false))
	require.NoError(t, w.WriteBlock(&media.Frame{Timestamp: 20, Data: []byte{0x01}}, 2, false))
	require.NoError(t, w.CloseCluster())
	require.NoError(t, w.Close("libmediastreamer2", "libmediastreamer2"))

	w2, err := OpenAppend(path)
	require.NoError(t, err)
	defer w2.f.Close()

	require.Len(t, w2.Tracks(), 2)
	require.Equal(t, "V_MPEG4/ISO/AVC", w2.Tracks()[0].CodecID)
	require.Equal(t, []byte{1, 2, 3}, w2.Tracks()[0].CodecPrivate)
	require.Equal(t, 640, w2.Tracks()[0].Width)
	require.Equal(t, "A_MS/ACM", w2.Tracks()[1].CodecID)
	require.Equal(t, int64(34), w2.GlobalOrigin())

	require.NoError(t, w2.StartCluster(34))
	require.NoError(t, w2.WriteBlock(&media.Frame{Timestamp: 34, Data: []byte{0xDD}, Keyframe: true}, 1, true))
	require.NoError(t, w2.CloseCluster())
	require.NoError(t, w2.Close("libmediastreamer2", "libmediastreamer2"))

	w3, err := OpenAppend(path)
	require.NoError(t, err)
	defer w3.f.Close()
	require.Len(t, w3.Tracks(), 2)
	require.Equal(t, int64(35), w3.GlobalOrigin())
}

func TestEmptyClusterBecomesVoid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.mkv")
	w, err := Create(path)
	require.NoError(t, err)
	w.SetTracks([]TrackInfo{{Number: 1, Kind: media.Audio, CodecID: "A_OPUS", SamplingFreq: 48000, Channels: 1}})

	require.NoError(t, w.StartCluster(0))
	require.False(t, w.clusterHasBlock)
	require.NoError(t, w.CloseCluster())
	require.Equal(t, 0, w.clusterCount)
	require.NoError(t, w.Close("app", "app"))
}
