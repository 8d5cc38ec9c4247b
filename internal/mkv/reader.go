package mkv

import (
	"io"
	"os"

	"github.com/pkg/errors"

	matroska "github.com/luispater/matroska-go"

	"github.com/bugVanisher/mkvrecorder/internal/media"
)

// Reader sequentially pulls blocks out of an existing Matroska file for the
// player filter, wrapping a read-only third-party EBML/Matroska demuxer
// rather than this package's own write-oriented element tree.
type Reader struct {
	f       *os.File
	demuxer *matroska.Demuxer
	tracks  []TrackInfo
	seen    map[int]bool
	eof     bool
}

const matroskaTrackTypeVideo = 1

// OpenReader opens path for sequential block playback.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "mkv: open %s for read", path)
	}
	demuxer, err := matroska.NewDemuxer(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "mkv: create demuxer")
	}

	numTracks, err := demuxer.GetNumTracks()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "mkv: get_num_tracks")
	}

	tracks := make([]TrackInfo, 0, numTracks)
	for i := uint(0); i < numTracks; i++ {
		t, err := demuxer.GetTrackInfo(i)
		if err != nil {
			continue
		}
		kind := media.Audio
		if t.Type == matroskaTrackTypeVideo {
			kind = media.Video
		}
		tracks = append(tracks, TrackInfo{
			Number:       int(t.Number),
			Kind:         kind,
			CodecID:      t.CodecID,
			CodecPrivate: t.CodecPrivate,
		})
	}

	return &Reader{f: f, demuxer: demuxer, tracks: tracks, seen: make(map[int]bool)}, nil
}

// Tracks reports the tracks recovered from the file's Tracks element.
func (r *Reader) Tracks() []TrackInfo {
	return r.tracks
}

// Duration returns the file's declared duration in milliseconds, 0 if unset
// or unreadable.
func (r *Reader) Duration() int64 {
	info, err := r.demuxer.GetFileInfo()
	if err != nil {
		return 0
	}
	return int64(info.Duration)
}

// EOF reports whether the previous NextBlock call reached end of stream.
func (r *Reader) EOF() bool {
	return r.eof
}

// NextBlock reads the next block in file order, returning its track number
// and a container Frame at the block's absolute (pre-clock-rescale)
// timestamp. io.EOF is reported via EOF(), not err.
//
// The demuxer surface this wraps does not expose a per-block keyframe flag,
// so Keyframe is approximated as "first block seen on this track": true for
// every track's opening block (always intra in a well-formed file), false
// afterward.
func (r *Reader) NextBlock() (trackNumber int, frame *media.Frame, err error) {
	pkt, err := r.demuxer.ReadPacket()
	if err != nil {
		if err == io.EOF {
			r.eof = true
			return 0, nil, nil
		}
		return 0, nil, errors.Wrap(err, "mkv: read_packet")
	}

	track := int(pkt.Track)
	keyframe := !r.seen[track]
	r.seen[track] = true

	return track, &media.Frame{
		Timestamp: int64(pkt.StartTime),
		Data:      pkt.Data,
		Keyframe:  keyframe,
	}, nil
}

// Close releases the demuxer and the underlying file handle.
func (r *Reader) Close() error {
	r.demuxer.Close()
	return r.f.Close()
}
